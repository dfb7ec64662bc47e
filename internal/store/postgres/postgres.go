// Package postgres implements store.Store on Postgres through go-zero sqlx,
// with an optional redis write-through cache for state reads.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	cachekeys "perpcore/internal/cache"
	"perpcore/pkg/store"
)

// Schema creates the two tables the store needs.
const Schema = `
CREATE TABLE IF NOT EXISTS strategy_state (
    owner      TEXT        NOT NULL,
    key        TEXT        NOT NULL,
    payload    JSONB       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (owner, key)
);
CREATE TABLE IF NOT EXISTS decision_log (
    seq        BIGSERIAL   PRIMARY KEY,
    kind       TEXT        NOT NULL,
    symbol     TEXT        NOT NULL DEFAULT '',
    payload    JSONB       NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS decision_log_kind_symbol_idx ON decision_log (kind, symbol, seq DESC);
`

var _ store.Store = (*Store)(nil)

// Store is the Postgres-backed store.
type Store struct {
	conn  sqlx.SqlConn
	cache cache.Cache
	ttl   time.Duration
	clock func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithCache caches state payloads for ttl. Saves write through.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Store) {
		s.cache = c
		s.ttl = ttl
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New wraps an open connection, e.g. sqlx.NewSqlConn("pgx", dsn).
func New(conn sqlx.SqlConn, opts ...Option) *Store {
	s := &Store{conn: conn, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(Schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.conn.ExecCtx(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

// Save implements store.StateStore.
func (s *Store) Save(ctx context.Context, owner, key string, v any) error {
	data, err := store.Encode(v)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO strategy_state (owner, key, payload, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (owner, key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`
	if _, err := s.conn.ExecCtx(ctx, q, owner, key, string(data), s.clock().UTC()); err != nil {
		return fmt.Errorf("postgres: save %s: %w", store.StateKey(owner, key), err)
	}
	s.setCache(ctx, owner, key, data)
	return nil
}

// Load implements store.StateStore.
func (s *Store) Load(ctx context.Context, owner, key string, v any) (bool, error) {
	if ok := s.getCache(ctx, owner, key, v); ok {
		return true, nil
	}
	const q = `SELECT payload::text FROM strategy_state WHERE owner = $1 AND key = $2`
	var payload string
	err := s.conn.QueryRowCtx(ctx, &payload, q, owner, key)
	switch {
	case errors.Is(err, sqlx.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("postgres: load %s: %w", store.StateKey(owner, key), err)
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return false, fmt.Errorf("postgres: decode %s: %w", store.StateKey(owner, key), err)
	}
	s.setCache(ctx, owner, key, json.RawMessage(payload))
	return true, nil
}

// Append implements store.LogStore.
func (s *Store) Append(ctx context.Context, kind store.Kind, symbol string, payload any) error {
	if !store.ValidKind(kind) {
		return fmt.Errorf("%w: %q", store.ErrUnknownKind, kind)
	}
	data, err := store.Encode(payload)
	if err != nil {
		return err
	}
	const q = `INSERT INTO decision_log (kind, symbol, payload, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := s.conn.ExecCtx(ctx, q, string(kind), symbol, string(data), s.clock().UTC()); err != nil {
		return fmt.Errorf("postgres: append %s: %w", kind, err)
	}
	return nil
}

type logRow struct {
	Seq       int64     `db:"seq"`
	Kind      string    `db:"kind"`
	Symbol    string    `db:"symbol"`
	Payload   string    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}

// Recent implements store.LogStore.
func (s *Store) Recent(ctx context.Context, kind store.Kind, symbol string, limit int) ([]store.Entry, error) {
	if !store.ValidKind(kind) {
		return nil, fmt.Errorf("%w: %q", store.ErrUnknownKind, kind)
	}
	q, args := recentQuery(kind, symbol, limit)
	var rows []logRow
	if err := s.conn.QueryRowsCtx(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("postgres: recent %s: %w", kind, err)
	}
	out := make([]store.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.Entry{
			Seq:    uint64(r.Seq),
			Kind:   store.Kind(r.Kind),
			Symbol: r.Symbol,
			At:     r.CreatedAt.UTC(),
			Data:   json.RawMessage(r.Payload),
		})
	}
	return out, nil
}

func recentQuery(kind store.Kind, symbol string, limit int) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT seq, kind, symbol, payload::text AS payload, created_at FROM decision_log WHERE kind = $1`)
	args := []any{string(kind)}
	if symbol != "" {
		args = append(args, symbol)
		fmt.Fprintf(&b, " AND symbol = $%d", len(args))
	}
	b.WriteString(" ORDER BY seq DESC")
	if limit > 0 {
		args = append(args, limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func (s *Store) getCache(ctx context.Context, owner, key string, v any) bool {
	if s.cache == nil {
		return false
	}
	if err := s.cache.GetCtx(ctx, cachekeys.StateKey(owner, key), v); err != nil {
		if !s.cache.IsNotFound(err) {
			logx.WithContext(ctx).Errorf("postgres: cache get %s: %v", cachekeys.StateKey(owner, key), err)
		}
		return false
	}
	return true
}

func (s *Store) setCache(ctx context.Context, owner, key string, data json.RawMessage) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	if err := s.cache.SetWithExpireCtx(ctx, cachekeys.StateKey(owner, key), data, s.ttl); err != nil {
		logx.WithContext(ctx).Errorf("postgres: cache set %s: %v", cachekeys.StateKey(owner, key), err)
	}
}
