package rosca

import (
	"context"
	"encoding/json"
	"fmt"
)

func getRecord(ctx context.Context, tx Tx, key StorageKey, dst any) (bool, error) {
	raw, ok, err := tx.Get(ctx, key.Bytes())
	if err != nil {
		return false, wrapError(CodeStorage, err, "read %s", key)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, wrapError(CodeStorage, err, "decode %s", key)
	}
	return true, nil
}

func putRecord(ctx context.Context, tx Tx, key StorageKey, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := tx.Set(ctx, key.Bytes(), raw); err != nil {
		return wrapError(CodeStorage, err, "write %s", key)
	}
	return nil
}

func exists(ctx context.Context, tx Tx, key StorageKey) (bool, error) {
	_, ok, err := tx.Get(ctx, key.Bytes())
	if err != nil {
		return false, wrapError(CodeStorage, err, "read %s", key)
	}
	return ok, nil
}

func loadGroup(ctx context.Context, tx Tx, groupID uint64) (*Group, error) {
	var g Group
	ok, err := getRecord(ctx, tx, GroupDataKey(groupID), &g)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(CodeGroupNotFound, "group %d", groupID)
	}
	return &g, nil
}
