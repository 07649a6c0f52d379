// Package store executes compiled statements against a relational store.
//
// The store is the only package that talks to database/sql. It accepts
// fully bound statement text, runs it through sqlx, and hands back
// materialized row sets so that callers never hold an open cursor while
// resolving related records.
//
// # Drivers
//
//   - sqlite3 (github.com/mattn/go-sqlite3): WAL mode, single connection,
//     foreign keys enforced
//   - pgx (github.com/jackc/pgx/v5/stdlib): pooled connections, read-only
//     hints run inside read-only transactions
//
// # Placeholders
//
// Statements are written with '?' placeholders. Rebind converts them to the
// driver's bind style; native statements are passed through untouched.
//
// # Errors
//
// Driver errors are wrapped in *Error with a Kind so callers can tell a
// constraint violation or a lock conflict from an unreachable store
// without importing driver packages.
package store
