// Package pql parses explicit portable query text and renders it as SQL.
//
// The language is the entity-level subset used by repository contracts:
//
//	select [distinct] <result> from <Entity> <alias>
//	    {[left [outer] | inner] join [fetch] <alias>.<relation> [<alias>]}
//	    [where <condition>] [order by <keys>]
//	update <Entity> <alias> set <assignments> [where <condition>]
//	delete from <Entity> <alias> [where <condition>]
//
// A result is the root alias (entity records), a list of paths and
// aggregates, or a constructor expression new Name(path, ...).
//
// Paths name entity fields, not columns: m.username, m.team.name, t.name.
// The root alias alone and a single-valued relation (m.team) read the
// identifier and foreign key. A path through a relation that was not
// joined adds an implicit inner join.
//
// Parameters are written :name or ?N (one-based) and never mixed in one
// text. Unknown identifiers, entities, fields and relations fail Parse, so
// a broken query is reported when its operation is registered.
//
// Rendering follows the derived compiler's conventions: the root table is
// aliased t0 and joins t1..., relation columns are labeled
// <relation>__<field>, and entity results end their ORDER BY with the
// root identifier.
package pql
