// Package engine resolves repository contracts and executes their calls.
//
// ARCHITECTURE:
//
// Registration:
// Register turns every operation of a contract into a plan, choosing the
// query source in a fixed order:
//  1. explicit query text on the operation
//  2. a named query registered under "Entity.method" (or the operation's
//     named query key)
//  3. a custom delegate passed with WithCustom
//  4. method-name derivation (package derive)
//
// Everything that can be checked without the store is checked here: the
// method name's arity, query text, fetch paths, bind names and whether
// every declared projection can be built from the select list. A broken
// contract never becomes callable.
//
// Calls:
// Repository.Call binds arguments, renders the content statement of the
// plan (adding the page's sort keys and row window), runs it, and projects
// the rows. Page operations then run the count statement; slice
// operations fetch one extra row instead. Bulk statements run directly
// against the store and may flush the working set before and clear it
// after.
//
// CRITICAL PATTERNS:
//
// Deterministic order:
// Every derived select ends its ORDER BY with the root identifier, so
// pages never overlap or skip records.
//
// Deferred relations:
// Relations not named by a fetch strategy stay deferred. Accessing one
// runs a lookup per distinct related record and increments the secondary
// fetch metric. This is the N+1 pattern; fetch strategies exist to avoid
// it.
//
// Stale working set:
// A bulk statement is invisible to tracked records unless the operation
// asks for Clear. This is a documented hazard, logged at registration and
// never corrected silently.
package engine
