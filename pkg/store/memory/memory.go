// Package memory is an in-process store used by tests and as the default
// backend when nothing durable is configured.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"perpcore/pkg/store"
)

// Store keeps state and logs in maps guarded by one mutex.
type Store struct {
	mu    sync.RWMutex
	state map[string]json.RawMessage
	logs  map[store.Kind][]store.Entry
	seq   uint64
	clock func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the timestamp source for appended entries.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		state: make(map[string]json.RawMessage),
		logs:  make(map[store.Kind][]store.Entry),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save implements store.StateStore.
func (s *Store) Save(_ context.Context, owner, key string, v any) error {
	data, err := store.Encode(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.state[store.StateKey(owner, key)] = append(json.RawMessage(nil), data...)
	s.mu.Unlock()
	return nil
}

// Load implements store.StateStore.
func (s *Store) Load(_ context.Context, owner, key string, v any) (bool, error) {
	s.mu.RLock()
	data, ok := s.state[store.StateKey(owner, key)]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("memory: load %s/%s: %w", owner, key, err)
	}
	return true, nil
}

// Append implements store.LogStore.
func (s *Store) Append(_ context.Context, kind store.Kind, symbol string, payload any) error {
	if !store.ValidKind(kind) {
		return fmt.Errorf("memory: append %q: %w", kind, store.ErrUnknownKind)
	}
	data, err := store.Encode(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.logs[kind] = append(s.logs[kind], store.Entry{
		Seq:    s.seq,
		Kind:   kind,
		Symbol: symbol,
		At:     s.clock().UTC(),
		Data:   data,
	})
	return nil
}

// Recent implements store.LogStore.
func (s *Store) Recent(_ context.Context, kind store.Kind, symbol string, limit int) ([]store.Entry, error) {
	if !store.ValidKind(kind) {
		return nil, fmt.Errorf("memory: recent %q: %w", kind, store.ErrUnknownKind)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return store.FilterRecent(s.logs[kind], symbol, limit), nil
}
