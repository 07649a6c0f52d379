// Package queryir provides the abstract query representation that derived
// repository operations are built into before SQL compilation.
//
// ARCHITECTURE:
//
// The query IR sits between method-name derivation and the SQL backend:
//
//	[method name] → [derive.Tree] → [Query IR] → [querysql]
//
// Explicit query text never passes through this package; it is compiled by
// package pql. The IR only describes what a derived query can express: a
// root entity, a filter over its fields and the fields of directly related
// records, ordering, a row window, eager fetches and a lock intent.
//
// SEALED INTERFACES:
//
// Query and Predicate are sealed interfaces using the marker method pattern.
// Only types in this package can implement Query or Predicate interfaces.
//
// Benefits:
//   - Exhaustive type switches in backend compilers (no default case needed)
//   - Prevents external packages from adding unsupported query types
//   - Clear contract for what the backend must implement
//
// PARAMETERS:
//
// Predicates never hold values. A Compare refers to a value parameter by its
// zero-based position among the operation's value parameters; the binder
// supplies values at call time. A single compiled statement is therefore
// reused across calls.
//
// ORDERING:
//
// Compilers must append the root identifier as a final ascending sort key
// so that every row window is deterministic.
package queryir
