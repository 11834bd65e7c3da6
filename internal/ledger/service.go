package ledger

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ReversalPrefix marks the idempotency key recorded on a compensating entry.
const ReversalPrefix = "reversal:"

// Service is the book of accounts group payments settle against.
type Service interface {
	OpenAccount(ctx context.Context, id string, initial Money) (Account, error)
	GetAccount(ctx context.Context, id string) (Account, error)
	GetBalance(ctx context.Context, id, currency string) (Money, error)
	Transfer(ctx context.Context, fromID, toID string, amt Money, idemKey string) (Transaction, error)
	// Reverse posts the opposite of the transfer recorded under idemKey and
	// frees the key, so a later Transfer with it moves funds again.
	Reverse(ctx context.Context, idemKey string) (Transaction, error)
	ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]Transaction, uint64, error)
}

// InMemory is a process-local Service. Everything lives behind one mutex;
// the journal is append-only and its index is the sequence number minus one.
type InMemory struct {
	mu       sync.Mutex
	accounts map[string]*Account
	journal  []Transaction
	byKey    map[string]uint64 // idempotency key -> sequence
}

var _ Service = (*InMemory)(nil)

// NewInMemory returns an empty book.
func NewInMemory() *InMemory {
	return &InMemory{
		accounts: make(map[string]*Account),
		byKey:    make(map[string]uint64),
	}
}

func (s *InMemory) OpenAccount(_ context.Context, id string, initial Money) (Account, error) {
	id = strings.TrimSpace(id)
	switch {
	case id == "" || len(id) > 256:
		return Account{}, ErrInvalidAccount
	case initial.Currency == "":
		return Account{}, ErrInvalidCurrency
	case initial.Amount < 0:
		return Account{}, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.accounts[id]; taken {
		return Account{}, ErrAccountExists
	}
	acc := &Account{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Balances:  map[string]int64{initial.Currency: initial.Amount},
	}
	s.accounts[id] = acc
	return acc.snapshot(), nil
}

func (s *InMemory) GetAccount(_ context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.account(id)
	if err != nil {
		return Account{}, err
	}
	return acc.snapshot(), nil
}

func (s *InMemory) GetBalance(_ context.Context, id, currency string) (Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.account(id)
	if err != nil {
		return Money{}, err
	}
	return Money{Currency: currency, Amount: acc.Balances[currency]}, nil
}

// Transfer moves amt between two open accounts. A repeated idemKey returns
// the original entry when it describes the same movement.
func (s *InMemory) Transfer(_ context.Context, fromID, toID string, amt Money, idemKey string) (Transaction, error) {
	if amt.Currency == "" {
		return Transaction{}, ErrInvalidCurrency
	}
	if !amt.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq, seen := s.byKey[idemKey]; seen && idemKey != "" {
		prev := s.journal[seq-1]
		if !prev.moves(fromID, toID, amt) {
			return Transaction{}, ErrIdempotencyMismatch
		}
		return prev, nil
	}
	tx, err := s.post(fromID, toID, amt, idemKey)
	if err != nil {
		return Transaction{}, err
	}
	if idemKey != "" {
		s.byKey[idemKey] = tx.Sequence
	}
	return tx, nil
}

func (s *InMemory) Reverse(_ context.Context, idemKey string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, seen := s.byKey[idemKey]
	if !seen || idemKey == "" {
		return Transaction{}, ErrNotFound
	}
	orig := s.journal[seq-1]
	tx, err := s.post(orig.ToAccountID, orig.FromAccountID, Money{Currency: orig.Currency, Amount: orig.Amount}, ReversalPrefix+idemKey)
	if err != nil {
		return Transaction{}, err
	}
	delete(s.byKey, idemKey)
	return tx, nil
}

func (s *InMemory) ListTransactions(_ context.Context, limit int, afterSeq uint64) ([]Transaction, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if afterSeq >= uint64(len(s.journal)) {
		return nil, 0, nil
	}
	end := min(afterSeq+uint64(limit), uint64(len(s.journal)))
	page := append([]Transaction(nil), s.journal[afterSeq:end]...)
	return page, end, nil
}

// post appends one balanced entry. Callers hold s.mu.
func (s *InMemory) post(fromID, toID string, amt Money, key string) (Transaction, error) {
	from, err := s.account(fromID)
	if err != nil {
		return Transaction{}, err
	}
	to, err := s.account(toID)
	if err != nil {
		return Transaction{}, err
	}
	if from.Balances[amt.Currency] < amt.Amount {
		return Transaction{}, ErrInsufficientFunds
	}
	from.Balances[amt.Currency] -= amt.Amount
	to.Balances[amt.Currency] += amt.Amount

	tx := Transaction{
		ID:             newID(),
		CreatedAt:      time.Now().UTC(),
		FromAccountID:  fromID,
		ToAccountID:    toID,
		Currency:       amt.Currency,
		Amount:         amt.Amount,
		IdempotencyKey: key,
		Sequence:       uint64(len(s.journal)) + 1,
	}
	s.journal = append(s.journal, tx)
	return tx, nil
}

func (s *InMemory) account(id string) (*Account, error) {
	acc, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return acc, nil
}
