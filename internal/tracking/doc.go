// Package tracking is a reference working set: an identity map of entity
// records with before/after snapshots.
//
// A record enters the session when a repository call attaches it or when
// Save stores it. Flush compares every tracked record with its snapshot
// and writes the changed fields in one transaction. Records attached
// read-only carry no snapshot and are never written.
//
// Bulk statements bypass the session. Clear (or Invalidate) after a bulk
// statement so later reads see the store's values instead of stale
// tracked copies.
package tracking
