package ledger

import (
	"errors"
	"time"

	"rotasave.org/internal/ids"
)

// Money is represented in minor units (e.g., cents). No floats.
type Money struct {
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

func (m Money) IsPositive() bool { return m.Amount > 0 }
func (m Money) IsZero() bool     { return m.Amount == 0 }

// Account holds per-currency balances. Ids are chosen by the caller: member
// principals and group pool accounts.
type Account struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	Balances  map[string]int64 `json:"balances"` // currency -> minor units
}

func (a *Account) snapshot() Account {
	out := *a
	out.Balances = make(map[string]int64, len(a.Balances))
	for cur, v := range a.Balances {
		out.Balances[cur] = v
	}
	return out
}

// Transaction is one journal entry: a debit of FromAccountID and a matching
// credit of ToAccountID.
type Transaction struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	FromAccountID  string    `json:"from_account_id"`
	ToAccountID    string    `json:"to_account_id"`
	Currency       string    `json:"currency"`
	Amount         int64     `json:"amount"` // minor units
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Sequence       uint64    `json:"sequence"` // monotonic sequence number
}

func (tx Transaction) moves(fromID, toID string, amt Money) bool {
	return tx.FromAccountID == fromID && tx.ToAccountID == toID && tx.Currency == amt.Currency && tx.Amount == amt.Amount
}

var (
	ErrNotFound            = errors.New("not found")
	ErrAccountExists       = errors.New("account already exists")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidAmount       = errors.New("invalid amount (must be > 0)")
	ErrInvalidCurrency     = errors.New("invalid currency")
	ErrInvalidAccount      = errors.New("invalid account id")
	ErrIdempotencyMismatch = errors.New("idempotency key reused with different transfer")
)

func newID() string {
	return ids.New()
}
