// Package postgres implements every persistence interface of the scheduler
// on PostgreSQL through database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/khachaneojas/service-scheduler/internal/api"
	"github.com/khachaneojas/service-scheduler/internal/certificate"
	"github.com/khachaneojas/service-scheduler/internal/dispatcher"
	"github.com/khachaneojas/service-scheduler/internal/eligibility"
	"github.com/khachaneojas/service-scheduler/internal/executor"
	"github.com/khachaneojas/service-scheduler/internal/instance"
	"github.com/khachaneojas/service-scheduler/internal/lifecycle"
	"github.com/khachaneojas/service-scheduler/internal/mailer"
	"github.com/khachaneojas/service-scheduler/internal/reconciler"
	"github.com/khachaneojas/service-scheduler/internal/scheduler"
	"github.com/khachaneojas/service-scheduler/internal/website"
)

// DriverName is the database/sql driver registered by lib/pq.
const DriverName = "postgres"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// Store runs every query on the transaction carried by the context, or on
// the pool when there is none.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to the primary database.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// Ping reports database reachability for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithinTx runs fn in a SERIALIZABLE transaction. A context that already
// carries a transaction joins it.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return markRetryable(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", markRetryable(err))
	}
	return nil
}

// Savepoint runs fn under a named savepoint of the context's transaction.
// fn's error is returned after rolling back to the savepoint.
func (s *Store) Savepoint(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	if !ok {
		return errors.New("savepoint outside transaction")
	}
	ident := pq.QuoteIdentifier(name)

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+ident); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	if err := fn(ctx); err != nil {
		if _, rerr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+ident); rerr != nil {
			return fmt.Errorf("rollback to savepoint %s: %w (handler: %v)", name, rerr, err)
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+ident); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}

// SQLSTATE codes.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// markRetryable tags serialization failures and deadlocks so the executor
// reruns the transaction.
func markRetryable(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == pgSerializationFailure || pqErr.Code == pgDeadlockDetected) {
		return executor.MarkSerializationFailure(err)
	}
	return err
}

func isDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	return false
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func float64Ptr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// Compile-time interface assertions
var (
	_ scheduler.Store     = (*Store)(nil)
	_ scheduler.SeedStore = (*Store)(nil)
	_ dispatcher.Store    = (*Store)(nil)
	_ executor.TxRunner   = (*Store)(nil)
	_ executor.JobStore   = (*Store)(nil)
	_ mailer.JobCreator   = (*Store)(nil)
	_ certificate.Store   = (*Store)(nil)
	_ eligibility.Store   = (*Store)(nil)
	_ lifecycle.Store     = (*Store)(nil)
	_ website.Source      = (*Store)(nil)
	_ api.Store           = (*Store)(nil)
	_ api.HealthChecker   = (*Store)(nil)
	_ reconciler.Store    = (*Store)(nil)
	_ instance.Store      = (*Store)(nil)
)
