// Package postgres implements an alternate Persistence Gateway backend for
// deployments that already run a Postgres fleet: memory_item/memory_link/
// memory_feedback live as ordinary tables, lexical search runs on a
// generated tsvector column instead of sqlite's FTS5 virtual table, and
// retryable write contention is detected from Postgres's serialization
// failure / deadlock SQLSTATEs rather than "database is locked". Grounded on
// the teacher's plugin/store/postgres (gorm.Open(postgres.Open(dsn)), raw
// tsvector/ts_rank queries via db.Raw) and internal/store/sqlite's shape,
// generalized from the teacher's entries/conversations schema to Memento's
// Memory/Link/Feedback model.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/memento-ai/memento/internal/config"
	"github.com/memento-ai/memento/internal/memerr"
	registrystore "github.com/memento-ai/memento/internal/registry/store"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name:   "postgres",
		Loader: load,
	})
}

func load(ctx context.Context) (registrystore.Store, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("postgres store: no config in context")
	}
	return Open(cfg.Store.DSN, cfg.Store.MaxOpenConns, cfg.Store.MaxIdleConns, cfg.Store.Contention)
}

// Store is the postgres-backed Persistence Gateway.
type Store struct {
	db         *gorm.DB
	contention config.ContentionConfig
}

// Open connects to dsn and ensures the schema exists.
func Open(dsn string, maxOpenConns, maxIdleConns int, contention config.ContentionConfig) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres store: underlying db: %w", err)
	}
	if maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(maxIdleConns)
	}

	if contention.MaxRetries <= 0 {
		contention = config.ContentionConfig{MaxRetries: 8, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}
	}
	s := &Store{db: db, contention: contention}
	if err := s.createSchema(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Name() string { return "postgres" }

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Checkpoint is a no-op for postgres: the server owns its own WAL and
// checkpoint scheduling. S3 archival, where wanted, belongs to the
// operator's own pg_dump/pg_basebackup pipeline, not this gateway.
func (s *Store) Checkpoint(ctx context.Context) error { return nil }

// withRetry runs fn, retrying on a serialization failure or deadlock
// SQLSTATE with exponential backoff and jitter, per spec.md §5. Every other
// error is treated as permanent.
func (s *Store) withRetry(ctx context.Context, resource string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.contention.InitialBackoff
	b.MaxInterval = s.contention.MaxBackoff
	b.MaxElapsedTime = 0
	bctx := backoff.WithContext(b, ctx)

	attempts := 0
	operation := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if !isRetryableErr(err) {
			return backoff.Permanent(err)
		}
		if attempts >= s.contention.MaxRetries {
			return backoff.Permanent(&memerr.ContentionError{Resource: resource, Attempts: attempts})
		}
		return err
	}
	return backoff.Retry(operation, bctx)
}

// isRetryableErr reports whether err is a Postgres serialization_failure
// (40001) or deadlock_detected (40P01), the two SQLSTATEs a retry can
// reasonably resolve.
func isRetryableErr(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func requireAffected(rows int64, resource, id string) error {
	if rows == 0 {
		return &memerr.NotFoundError{Resource: resource, ID: id}
	}
	return nil
}
