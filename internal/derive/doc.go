// Package derive turns repository method names into predicate trees.
//
// A derivable name has the form
//
//	<prefix><subject>By<predicate>[OrderBy<orders>]
//
// where prefix is one of find, read, get, query, search, stream, count,
// exists, delete or remove. The subject may carry Distinct and a result
// limit (Top3, First). The predicate is a list of clauses joined by And or
// Or; each clause names a property of the entity (or of a directly related
// record, e.g. TeamName) followed by an optional operator keyword and an
// optional IgnoreCase suffix.
//
// Examples:
//
//	findByUsernameAndAgeGreaterThan   username = ?1 AND age > ?2
//	findTop3HelloBy                   first three rows, no filter
//	countByAgeBetween                 COUNT(*) WHERE age BETWEEN ?1 AND ?2
//	findByTeamNameOrderByAgeDesc      team.name = ?1 ORDER BY age DESC
//
// Without "By" only the bare prefix and the All subject are derivable
// (findAll, count, deleteAll); they match every row. Any other name without
// "By" is not derivable.
//
// Connectors combine left to right: a And b Or c is (a AND b) OR c.
package derive
