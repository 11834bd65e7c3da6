package rosca

import "context"

// Tx is the view of the store inside one atomic step.
type Tx interface {
	// Get returns the value stored under key; ok is false when absent.
	Get(ctx context.Context, key []byte) (value []byte, ok bool, err error)
	// Set writes value under key.
	Set(ctx context.Context, key, value []byte) error
}

// Store is the key-value collaborator the engine persists through.
type Store interface {
	// Update runs fn as one atomic read-modify-write step. Steps sharing a
	// lock key never interleave, and when fn returns an error none of its
	// writes are kept.
	Update(ctx context.Context, lock []byte, fn func(Tx) error) error
	// View runs fn against a consistent read-only view.
	View(ctx context.Context, fn func(Tx) error) error
}
