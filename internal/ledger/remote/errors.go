package remote

import (
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rotasave.org/internal/ledger"
)

var ledgerErrors = []struct {
	err  error
	code codes.Code
}{
	{ledger.ErrNotFound, codes.NotFound},
	{ledger.ErrAccountExists, codes.AlreadyExists},
	{ledger.ErrInvalidAmount, codes.InvalidArgument},
	{ledger.ErrInvalidCurrency, codes.InvalidArgument},
	{ledger.ErrInvalidAccount, codes.InvalidArgument},
	{ledger.ErrInsufficientFunds, codes.FailedPrecondition},
	{ledger.ErrIdempotencyMismatch, codes.FailedPrecondition},
}

// toStatus converts ledger errors into gRPC statuses carrying the error text.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, le := range ledgerErrors {
		if errors.Is(err, le.err) {
			return status.Error(le.code, le.err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

// mapLedgerError restores ledger sentinels from a gRPC status so callers can
// keep using errors.Is. Unknown statuses pass through unchanged.
func mapLedgerError(err error) error {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return err
	}
	msg := strings.ToLower(st.Message())
	for _, le := range ledgerErrors {
		if st.Code() != le.code {
			continue
		}
		want := le.err.Error()
		if st.Code() == codes.NotFound || st.Code() == codes.AlreadyExists || msg == want || strings.HasPrefix(msg, want) {
			return le.err
		}
	}
	return err
}
