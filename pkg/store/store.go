// Package store defines the persistence contracts used by the decision core:
// a key-value store for strategy state and append-only logs for decisions,
// proposals, trade lessons and narrative snapshots.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind names an append-only log.
type Kind string

const (
	KindDecision  Kind = "decision"
	KindProposal  Kind = "proposal"
	KindLesson    Kind = "lesson"
	KindNarrative Kind = "narrative"
)

// Kinds lists every log kind in a stable order.
var Kinds = []Kind{KindDecision, KindProposal, KindLesson, KindNarrative}

// ErrUnknownKind is returned for a log kind outside Kinds.
var ErrUnknownKind = errors.New("store: unknown log kind")

// StateStore persists small JSON-encodable values keyed by owner and key.
type StateStore interface {
	Save(ctx context.Context, owner, key string, v any) error
	// Load decodes the stored value into v and reports whether it existed.
	Load(ctx context.Context, owner, key string, v any) (bool, error)
}

// LogStore is an append-only log queryable by recency.
type LogStore interface {
	Append(ctx context.Context, kind Kind, symbol string, payload any) error
	// Recent returns up to limit entries, newest first. An empty symbol
	// matches every entry.
	Recent(ctx context.Context, kind Kind, symbol string, limit int) ([]Entry, error)
}

// Store bundles both contracts.
type Store interface {
	StateStore
	LogStore
}

// Entry is one appended log record.
type Entry struct {
	Seq    uint64          `json:"seq"`
	Kind   Kind            `json:"kind"`
	Symbol string          `json:"symbol,omitempty"`
	At     time.Time       `json:"at"`
	Data   json.RawMessage `json:"data"`
}

// Decode unmarshals the entry payload into v.
func (e Entry) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("store: decode %s entry %d: %w", e.Kind, e.Seq, err)
	}
	return nil
}

// ValidKind reports whether k is a known log kind.
func ValidKind(k Kind) bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// StateKey joins owner and key the same way for every backend.
func StateKey(owner, key string) string {
	return owner + "/" + key
}

// Encode marshals a payload for storage.
func Encode(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	return data, nil
}

// FilterRecent walks entries oldest-first and returns up to limit matches
// newest-first.
func FilterRecent(entries []Entry, symbol string, limit int) []Entry {
	out := make([]Entry, 0)
	for i := len(entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if symbol != "" && entries[i].Symbol != symbol {
			continue
		}
		out = append(out, entries[i])
	}
	return out
}
