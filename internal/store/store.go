package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/repoql/internal/ir"
)

// Config selects the driver and data source of a store.
type Config struct {
	Driver       ir.Dialect
	DSN          string
	MaxOpenConns int // 0 keeps the driver default; forced to 1 for sqlite3
}

// Store executes statements against a SQLite or PostgreSQL database.
type Store struct {
	db      *sqlx.DB
	dialect ir.Dialect
}

// Open connects to the database described by cfg.
//
// SQLite databases are configured with:
//   - WAL mode for concurrent reads during writes
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//   - A single open connection (one writer at a time)
func Open(cfg Config) (*Store, error) {
	if !ir.ValidDialects[cfg.Driver] {
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("driver %q: empty data source name", cfg.Driver)
	}

	db, err := sqlx.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	switch cfg.Driver {
	case ir.DialectSQLite:
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	default:
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
	}

	return &Store{db: db, dialect: cfg.Driver}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sqlx handle.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the SQL dialect of the store.
func (s *Store) Dialect() ir.Dialect {
	return s.dialect
}

// Rebind converts '?' placeholders to the driver's bind style.
func (s *Store) Rebind(query string) string {
	return s.db.Rebind(query)
}

// ApplySchema executes DDL statements, typically a fixture schema.
func (s *Store) ApplySchema(ctx context.Context, ddl string) error {
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return wrap("apply schema", err)
	}
	return nil
}

// Query runs a row-returning statement and materializes every row.
//
// Read-only requests run inside a read-only transaction on PostgreSQL. The
// lock mode is rendered into the statement text by the compiler; it is
// carried here so drivers that need a transaction for it get one.
func (s *Store) Query(ctx context.Context, req Request) (*RowSet, error) {
	if s.dialect == ir.DialectPostgres && (req.ReadOnly || req.Lock != ir.LockNone) {
		var rs *RowSet
		opts := &sql.TxOptions{ReadOnly: req.ReadOnly && req.Lock == ir.LockNone}
		err := s.inTx(ctx, opts, func(q Querier) error {
			var err error
			rs, err = q.Query(ctx, req)
			return err
		})
		return rs, err
	}
	return query(ctx, s.db, req)
}

// Exec runs a statement that returns no rows and reports the affected row
// count.
func (s *Store) Exec(ctx context.Context, req Request) (int64, error) {
	return exec(ctx, s.db, req)
}

// InTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(Querier) error) error {
	return s.inTx(ctx, nil, fn)
}

func (s *Store) inTx(ctx context.Context, opts *sql.TxOptions, fn func(Querier) error) error {
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return wrap("begin transaction", err)
	}
	if err := fn(&txQuerier{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrap("commit transaction", err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}
