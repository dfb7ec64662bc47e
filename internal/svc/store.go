package svc

import (
	"context"
	"fmt"
	"io"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"github.com/zeromicro/go-zero/core/syncx"

	cachekeys "perpcore/internal/cache"
	"perpcore/internal/config"
	"perpcore/internal/store/postgres"
	"perpcore/pkg/store"
	"perpcore/pkg/store/badgerkv"
	"perpcore/pkg/store/journal"
	"perpcore/pkg/store/memory"
)

const migrateTimeout = 30 * time.Second

// openStore builds the configured backend. The closer is nil when the
// backend holds nothing to release.
func openStore(c config.Config) (store.Store, io.Closer, error) {
	switch c.Store.Backend {
	case config.StoreBadger:
		s, err := badgerkv.Open(badgerkv.Options{Path: c.StorePath()})
		if err != nil {
			return nil, nil, fmt.Errorf("svc: store: %w", err)
		}
		return s, s, nil
	case config.StoreJournal:
		w, err := journal.NewWriter(c.StorePath())
		if err != nil {
			return nil, nil, fmt.Errorf("svc: store: %w", err)
		}
		return w, nil, nil
	case config.StorePostgres:
		s, err := openPostgres(c)
		return s, nil, err
	default:
		return memory.New(), nil, nil
	}
}

func openPostgres(c config.Config) (*postgres.Store, error) {
	pg := c.Store.Postgres
	conn := sqlx.NewSqlConn("pgx", pg.DSN)
	if db, err := conn.RawDB(); err == nil {
		db.SetMaxOpenConns(pg.MaxOpen)
		db.SetMaxIdleConns(pg.MaxIdle)
	}

	var opts []postgres.Option
	if c.Store.Redis.Host != "" {
		ttl := cachekeys.NewTTLSet(c.Store.TTL)
		rc := cache.New(cache.ClusterConf{{RedisConf: c.Store.Redis, Weight: 100}},
			syncx.NewSingleFlight(), cache.NewStat("perpcore-state"), sqlx.ErrNotFound)
		opts = append(opts, postgres.WithCache(rc, cachekeys.StateTTL(ttl)))
	}
	s := postgres.New(conn, opts...)
	if pg.Migrate {
		ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
		defer cancel()
		if err := s.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("svc: store: %w", err)
		}
	}
	return s, nil
}
