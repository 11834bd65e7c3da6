package rosca

import (
	"errors"
	"fmt"
)

// Category groups error codes so transports can map them without knowing
// every individual code.
type Category uint8

const (
	CategoryInternal Category = iota
	CategoryNotFound
	CategoryValidation
	CategoryStateConflict
	CategoryAuthorization
)

func (c Category) String() string {
	switch c {
	case CategoryNotFound:
		return "not_found"
	case CategoryValidation:
		return "validation"
	case CategoryStateConflict:
		return "state_conflict"
	case CategoryAuthorization:
		return "authorization"
	default:
		return "internal"
	}
}

// Code is a machine-readable error code.
type Code string

const (
	// Not found
	CodeGroupNotFound        Code = "GROUP_NOT_FOUND"
	CodeContributionNotFound Code = "CONTRIBUTION_NOT_FOUND"
	CodePayoutNotFound       Code = "PAYOUT_NOT_FOUND"

	// Validation
	CodeInvalidConfiguration Code = "INVALID_CONFIGURATION"
	CodeWrongAmount          Code = "WRONG_AMOUNT"
	CodeNotMember            Code = "NOT_MEMBER"
	CodeInvalidPrincipal     Code = "INVALID_PRINCIPAL"
	CodeInvalidCycle         Code = "INVALID_CYCLE"

	// State conflicts
	CodeInvalidStatus           Code = "INVALID_STATUS"
	CodeAlreadyMember           Code = "ALREADY_MEMBER"
	CodeGroupFull               Code = "GROUP_FULL"
	CodeDuplicateContribution   Code = "DUPLICATE_CONTRIBUTION"
	CodeAlreadyComplete         Code = "ALREADY_COMPLETE"
	CodeInvalidTransition       Code = "INVALID_TRANSITION"
	CodeGroupExists             Code = "GROUP_EXISTS"
	CodeContributionsIncomplete Code = "CONTRIBUTIONS_INCOMPLETE"
	CodeTransferRejected        Code = "TRANSFER_REJECTED"

	// Authorization
	CodeUnauthorized Code = "UNAUTHORIZED"

	// Internal
	CodeTransferFailed Code = "TRANSFER_FAILED"
	CodeStorage        Code = "STORAGE"
)

// Category returns the category the code belongs to.
func (c Code) Category() Category {
	switch c {
	case CodeGroupNotFound, CodeContributionNotFound, CodePayoutNotFound:
		return CategoryNotFound
	case CodeInvalidConfiguration, CodeWrongAmount, CodeNotMember, CodeInvalidPrincipal, CodeInvalidCycle:
		return CategoryValidation
	case CodeInvalidStatus, CodeAlreadyMember, CodeGroupFull, CodeDuplicateContribution,
		CodeAlreadyComplete, CodeInvalidTransition, CodeGroupExists, CodeContributionsIncomplete,
		CodeTransferRejected:
		return CategoryStateConflict
	case CodeUnauthorized:
		return CategoryAuthorization
	default:
		return CategoryInternal
	}
}

// Error is the error value returned by every engine operation.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	} else {
		msg = string(e.Code) + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so the sentinels below work
// with errors.Is regardless of message or wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Category returns the category of the error code.
func (e *Error) Category() Category { return e.Code.Category() }

var (
	ErrGroupNotFound        = &Error{Code: CodeGroupNotFound}
	ErrContributionNotFound = &Error{Code: CodeContributionNotFound}
	ErrPayoutNotFound       = &Error{Code: CodePayoutNotFound}

	ErrInvalidConfiguration = &Error{Code: CodeInvalidConfiguration}
	ErrWrongAmount          = &Error{Code: CodeWrongAmount}
	ErrNotMember            = &Error{Code: CodeNotMember}
	ErrInvalidPrincipal     = &Error{Code: CodeInvalidPrincipal}
	ErrInvalidCycle         = &Error{Code: CodeInvalidCycle}

	ErrInvalidStatus           = &Error{Code: CodeInvalidStatus}
	ErrAlreadyMember           = &Error{Code: CodeAlreadyMember}
	ErrGroupFull               = &Error{Code: CodeGroupFull}
	ErrDuplicateContribution   = &Error{Code: CodeDuplicateContribution}
	ErrAlreadyComplete         = &Error{Code: CodeAlreadyComplete}
	ErrInvalidTransition       = &Error{Code: CodeInvalidTransition}
	ErrGroupExists             = &Error{Code: CodeGroupExists}
	ErrContributionsIncomplete = &Error{Code: CodeContributionsIncomplete}

	// ErrTransferRejected is what a Transferer wraps when the ledger refuses
	// a transfer for a reason the caller can fix, such as missing funds.
	ErrTransferRejected = &Error{Code: CodeTransferRejected}

	ErrUnauthorized = &Error{Code: CodeUnauthorized}

	ErrTransferFailed = &Error{Code: CodeTransferFailed}
	ErrStorage        = &Error{Code: CodeStorage}
)

// CategoryOf extracts the category from err. Errors that are not *Error are
// internal.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category()
	}
	return CategoryInternal
}

// CodeOf returns the code carried by err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}
