// Package ir provides the declarative data model shared by every repoql
// package: operation descriptors, repository contracts, entity schemas,
// named queries and projection shapes.
//
// This package contains type definitions and their invariants only. All
// other internal packages import ir; ir imports nothing internal. This keeps
// the descriptors the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Descriptors are immutable once registered (callers receive copies)
//   - Field and parameter order is declaration order, never map order
//   - Only value parameters (not pageable or shape selectors) count toward
//     the arity of a derived query
//   - Entity-to-column mapping is supplied by the caller; ir never
//     introspects a live database
package ir
