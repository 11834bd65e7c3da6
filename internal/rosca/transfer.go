package rosca

import "context"

// TransferInstruction describes funds the engine wants moved. Execution is
// delegated to a Transferer.
type TransferInstruction struct {
	From           Principal
	To             Principal
	Amount         int64
	Currency       string
	IdempotencyKey string
}

// Transferer executes transfer instructions. Implementations must treat a
// repeated IdempotencyKey as the same transfer, and wrap refusals the caller
// can act on with ErrTransferRejected.
type Transferer interface {
	Transfer(ctx context.Context, in TransferInstruction) error
}

// TransferFunc adapts a function to Transferer.
type TransferFunc func(ctx context.Context, in TransferInstruction) error

func (f TransferFunc) Transfer(ctx context.Context, in TransferInstruction) error { return f(ctx, in) }

// Reverser is implemented by Transferers that can undo a transfer they
// executed and release its idempotency key. The engine reverses transfers
// whose step failed to commit; without a Reverser it issues the opposite
// transfer under ReversalKey instead.
type Reverser interface {
	Reverse(ctx context.Context, in TransferInstruction) error
}

// ReversalKey is the idempotency key of the transfer undoing key.
func ReversalKey(key string) string { return "reversal:" + key }
