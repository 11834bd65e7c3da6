// Package memory is an in-process implementation of rosca.Store.
package memory

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"

	"rotasave.org/internal/rosca"
)

// ErrReadOnly is returned by Set inside View.
var ErrReadOnly = errors.New("memory: write in read-only view")

var _ rosca.Store = (*Store)(nil)

// Store keeps records in a map. Update steps sharing a lock key are
// serialized; writes are buffered and applied only when the step succeeds.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte

	locksMu sync.Mutex
	locks   map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		data:  make(map[string][]byte),
		locks: make(map[string]*keyLock),
	}
}

func (s *Store) Update(ctx context.Context, lock []byte, fn func(rosca.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	release := s.acquire(string(lock))
	defer release()

	t := &tx{store: s, writes: make(map[string][]byte)}
	if err := fn(t); err != nil {
		return err
	}

	// Past this point the step commits even if ctx is cancelled: fn may have
	// acted outside the store already.
	s.mu.Lock()
	for k, v := range t.writes {
		s.data[k] = v
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) View(ctx context.Context, fn func(rosca.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Writers wait for the read lock so fn sees one version of the data.
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{store: s, readOnly: true, locked: true})
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Keys returns every stored key in byte order.
func (s *Store) Keys() [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]byte, 0, len(s.data))
	for k := range s.data {
		out = append(out, []byte(k))
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out
}

func (s *Store) acquire(key string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.locksMu.Unlock()
	}
}

type tx struct {
	store    *Store
	writes   map[string][]byte
	readOnly bool
	locked   bool // store.mu already held for reading
}

func (t *tx) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if v, ok := t.writes[string(key)]; ok {
		return bytes.Clone(v), true, nil
	}
	if !t.locked {
		t.store.mu.RLock()
		defer t.store.mu.RUnlock()
	}
	v, ok := t.store.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (t *tx) Set(ctx context.Context, key, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.writes[string(key)] = bytes.Clone(value)
	return nil
}
