package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"rotasave.org/internal/rosca"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The engine rejected the operation
	ExitCommandError = 2 // Bad flags, unreachable store, etc.
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// engineFailure classifies an engine error: domain rejections exit with
// ExitFailure, storage trouble with ExitCommandError.
func engineFailure(op string, err error) error {
	if rosca.CategoryOf(err) == rosca.CategoryInternal {
		return WrapExitError(ExitCommandError, op, err)
	}
	return WrapExitError(ExitFailure, op, err)
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error part of CLIResponse.
type CLIError struct {
	Code     string `json:"code"`
	Category string `json:"category,omitempty"`
	Message  string `json:"message"`
}

// Success writes data. In text mode text renders it; a nil text prints data
// with %v.
func (f *OutputFormatter) Success(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	if text == nil {
		_, err := fmt.Fprintln(f.Writer, data)
		return err
	}
	text(f.Writer)
	return nil
}

// Error writes err in the configured format.
func (f *OutputFormatter) Error(err error) {
	code := string(rosca.CodeOf(err))
	if code == "" {
		code = "COMMAND_ERROR"
	}
	if f.Format == "json" {
		out := &CLIError{Code: code, Message: err.Error()}
		if rosca.CodeOf(err) != "" {
			out.Category = rosca.CategoryOf(err).String()
		}
		_ = json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: out})
		return
	}
	fmt.Fprintf(f.GetErrWriter(), "Error [%s]: %v\n", code, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
