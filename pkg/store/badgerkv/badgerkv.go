// Package badgerkv persists strategy state and decision logs in an embedded
// Badger database.
package badgerkv

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"perpcore/pkg/store"
)

const (
	statePrefix = "state/"
	logPrefix   = "log/"
	seqKey      = "seq/log"
	seqBand     = 64
)

// Options configure Open.
type Options struct {
	Path     string
	InMemory bool
	Clock    func() time.Time
}

// Store implements store.Store on Badger.
type Store struct {
	db    *badger.DB
	seq   *badger.Sequence
	clock func() time.Time
}

// Open opens (or creates) the database.
func Open(opts Options) (*Store, error) {
	var bopts badger.Options
	switch {
	case opts.InMemory:
		bopts = badger.DefaultOptions("").WithInMemory(true)
	case strings.TrimSpace(opts.Path) != "":
		bopts = badger.DefaultOptions(opts.Path)
	default:
		return nil, errors.New("badgerkv: path is required")
	}
	db, err := badger.Open(bopts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("badgerkv: open: %w", err)
	}
	seq, err := db.GetSequence([]byte(seqKey), seqBand)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("badgerkv: sequence: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: db, seq: seq, clock: clock}, nil
}

// Close releases the sequence lease and closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.seq.Release(); err != nil {
		_ = s.db.Close()
		return fmt.Errorf("badgerkv: release sequence: %w", err)
	}
	return s.db.Close()
}

// Save implements store.StateStore.
func (s *Store) Save(_ context.Context, owner, key string, v any) error {
	data, err := store.Encode(v)
	if err != nil {
		return err
	}
	k := []byte(statePrefix + store.StateKey(owner, key))
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, data)
	}); err != nil {
		return fmt.Errorf("badgerkv: save %s/%s: %w", owner, key, err)
	}
	return nil
}

// Load implements store.StateStore.
func (s *Store) Load(_ context.Context, owner, key string, v any) (bool, error) {
	k := []byte(statePrefix + store.StateKey(owner, key))
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badgerkv: load %s/%s: %w", owner, key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("badgerkv: decode %s/%s: %w", owner, key, err)
	}
	return true, nil
}

// Append implements store.LogStore.
func (s *Store) Append(_ context.Context, kind store.Kind, symbol string, payload any) error {
	if !store.ValidKind(kind) {
		return fmt.Errorf("badgerkv: append %q: %w", kind, store.ErrUnknownKind)
	}
	data, err := store.Encode(payload)
	if err != nil {
		return err
	}
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("badgerkv: next sequence: %w", err)
	}
	entry := store.Entry{Seq: n + 1, Kind: kind, Symbol: symbol, At: s.clock().UTC(), Data: data}
	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("badgerkv: encode entry: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(logKey(kind, entry.Seq), val)
	}); err != nil {
		return fmt.Errorf("badgerkv: append %s: %w", kind, err)
	}
	return nil
}

// Recent implements store.LogStore by iterating the kind's prefix in reverse.
func (s *Store) Recent(_ context.Context, kind store.Kind, symbol string, limit int) ([]store.Entry, error) {
	if !store.ValidKind(kind) {
		return nil, fmt.Errorf("badgerkv: recent %q: %w", kind, store.ErrUnknownKind)
	}
	prefix := []byte(logPrefix + string(kind) + "/")
	out := make([]store.Entry, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		seek := append(append([]byte{}, prefix...), bytes.Repeat([]byte{0xff}, 9)...)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			var entry store.Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			if symbol != "" && entry.Symbol != symbol {
				continue
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badgerkv: recent %s: %w", kind, err)
	}
	return out, nil
}

func logKey(kind store.Kind, seq uint64) []byte {
	k := make([]byte, 0, len(logPrefix)+len(kind)+9)
	k = append(k, logPrefix...)
	k = append(k, kind...)
	k = append(k, '/')
	return binary.BigEndian.AppendUint64(k, seq)
}
