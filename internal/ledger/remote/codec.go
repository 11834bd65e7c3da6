package remote

import (
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"rotasave.org/internal/ledger"
)

// Messages travel as structpb.Struct. Integers are carried as decimal
// strings because Struct numbers are float64.

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func i64(s *structpb.Struct, key string) (int64, error) {
	raw := str(s, key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", key, err)
	}
	return v, nil
}

func u64(s *structpb.Struct, key string) (uint64, error) {
	raw := str(s, key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", key, err)
	}
	return v, nil
}

func ts(s *structpb.Struct, key string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, str(s, key))
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeMoney(m ledger.Money) map[string]any {
	return map[string]any{
		"currency": m.Currency,
		"amount":   strconv.FormatInt(m.Amount, 10),
	}
}

func decodeMoney(s *structpb.Struct) (ledger.Money, error) {
	amt, err := i64(s, "amount")
	if err != nil {
		return ledger.Money{}, err
	}
	return ledger.Money{Currency: str(s, "currency"), Amount: amt}, nil
}

func encodeAccount(a ledger.Account) map[string]any {
	balances := make(map[string]any, len(a.Balances))
	for k, v := range a.Balances {
		balances[k] = strconv.FormatInt(v, 10)
	}
	return map[string]any{
		"id":         a.ID,
		"created_at": a.CreatedAt.UTC().Format(time.RFC3339Nano),
		"balances":   balances,
	}
}

func decodeAccount(s *structpb.Struct) (ledger.Account, error) {
	raw := s.GetFields()["balances"].GetStructValue()
	balances := make(map[string]int64, len(raw.GetFields()))
	for k := range raw.GetFields() {
		v, err := i64(raw, k)
		if err != nil {
			return ledger.Account{}, err
		}
		balances[k] = v
	}
	return ledger.Account{
		ID:        str(s, "id"),
		CreatedAt: ts(s, "created_at"),
		Balances:  balances,
	}, nil
}

func encodeTransaction(tx ledger.Transaction) map[string]any {
	return map[string]any{
		"id":              tx.ID,
		"created_at":      tx.CreatedAt.UTC().Format(time.RFC3339Nano),
		"from_account_id": tx.FromAccountID,
		"to_account_id":   tx.ToAccountID,
		"currency":        tx.Currency,
		"amount":          strconv.FormatInt(tx.Amount, 10),
		"idempotency_key": tx.IdempotencyKey,
		"sequence":        strconv.FormatUint(tx.Sequence, 10),
	}
}

func decodeTransaction(s *structpb.Struct) (ledger.Transaction, error) {
	amt, err := i64(s, "amount")
	if err != nil {
		return ledger.Transaction{}, err
	}
	seq, err := u64(s, "sequence")
	if err != nil {
		return ledger.Transaction{}, err
	}
	return ledger.Transaction{
		ID:             str(s, "id"),
		CreatedAt:      ts(s, "created_at"),
		FromAccountID:  str(s, "from_account_id"),
		ToAccountID:    str(s, "to_account_id"),
		Currency:       str(s, "currency"),
		Amount:         amt,
		IdempotencyKey: str(s, "idempotency_key"),
		Sequence:       seq,
	}, nil
}
