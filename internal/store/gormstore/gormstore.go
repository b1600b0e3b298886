// Package gormstore implements store.Store on top of gorm, for PostgreSQL in
// production and SQLite for single-node deployments and tests.
package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/barterex/internal/store"
)

// PostgreSQL error codes that mean "another transaction got there first".
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// Store is a gorm-backed store.Store.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	txOpts *sql.TxOptions
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithIsolation sets the isolation level of every unit of work.
func WithIsolation(level sql.IsolationLevel) Option {
	return func(s *Store) {
		if level != sql.LevelDefault {
			s.txOpts = &sql.TxOptions{Isolation: level}
		}
	}
}

// WithLogger sets the logger used for storage diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New wraps an open, migrated gorm connection.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithinTx implements store.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	var opts []*sql.TxOptions
	if s.txOpts != nil {
		opts = append(opts, s.txOpts)
	}
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		fnErr = fn(&tx{db: db, now: s.now})
		return fnErr
	}, opts...)
	if err == nil {
		return nil
	}
	var classified error
	if fnErr != nil {
		classified = classify(fnErr)
	} else {
		// begin or commit failed
		classified = classify(&dbError{err: err})
	}
	if errors.Is(classified, store.ErrUnavailable) {
		s.logger.Error("Unit of work failed", zap.Error(err))
	}
	return classified
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type tx struct {
	db  *gorm.DB
	now func() time.Time
}

func (t *tx) Balances() store.BalanceRepository { return &balances{db: t.db, now: t.now} }
func (t *tx) Orders() store.OrderRepository     { return &orders{db: t.db, now: t.now} }
func (t *tx) Fills() store.FillRepository       { return &fills{db: t.db, now: t.now} }

// classify maps driver errors onto the store error kinds. Errors that
// already carry a kind, and errors raised by callers, pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrUnavailable) || errors.Is(err, store.ErrNotFound) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
		}
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		if liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked {
			return fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	if isDriverError(err) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}

// isDriverError reports whether err came from the database layer rather
// than from the unit-of-work callback.
func isDriverError(err error) bool {
	var dbErr *dbError
	return errors.As(err, &dbErr) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone)
}

// dbError marks an error returned by a gorm statement.
type dbError struct{ err error }

func (e *dbError) Error() string { return e.err.Error() }
func (e *dbError) Unwrap() error { return e.err }

// wrap tags a statement error so WithinTx can tell it apart from business
// errors returned by the callback.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, classify(&dbError{err: err}))
}
