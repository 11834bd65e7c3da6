package ledger

import (
	"context"
	"errors"
	"fmt"

	"rotasave.org/internal/rosca"
)

// Payments executes the engine's transfer instructions on a ledger. Group
// pool accounts are opened on first use; member accounts must already exist.
type Payments struct {
	svc Service
}

var (
	_ rosca.Transferer = (*Payments)(nil)
	_ rosca.Reverser   = (*Payments)(nil)
)

func NewPayments(svc Service) *Payments { return &Payments{svc: svc} }

func (p *Payments) Transfer(ctx context.Context, in rosca.TransferInstruction) error {
	for _, acct := range []rosca.Principal{in.From, in.To} {
		if !acct.IsPool() {
			continue
		}
		if err := p.ensureAccount(ctx, string(acct), in.Currency); err != nil {
			return err
		}
	}
	_, err := p.svc.Transfer(ctx, string(in.From), string(in.To), Money{Currency: in.Currency, Amount: in.Amount}, in.IdempotencyKey)
	switch {
	case err == nil:
		return nil
	case refused(err):
		return &rosca.Error{Code: rosca.CodeTransferRejected, Message: "ledger transfer " + in.IdempotencyKey, Err: err}
	default:
		return fmt.Errorf("ledger transfer %s: %w", in.IdempotencyKey, err)
	}
}

// Reverse undoes the transfer booked under in.IdempotencyKey.
func (p *Payments) Reverse(ctx context.Context, in rosca.TransferInstruction) error {
	if _, err := p.svc.Reverse(ctx, in.IdempotencyKey); err != nil {
		return fmt.Errorf("ledger reverse %s: %w", in.IdempotencyKey, err)
	}
	return nil
}

// refused reports ledger answers a caller can fix by funding or opening an
// account, or by not reusing a key.
func refused(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrIdempotencyMismatch)
}

func (p *Payments) ensureAccount(ctx context.Context, id, currency string) error {
	_, err := p.svc.OpenAccount(ctx, id, Money{Currency: currency})
	if err == nil || errors.Is(err, ErrAccountExists) {
		return nil
	}
	return fmt.Errorf("open pool account %s: %w", id, err)
}
