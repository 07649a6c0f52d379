package derive

import "github.com/roach88/repoql/internal/queryir"

// Predicate folds the clauses left to right into a predicate. Runs of the
// same connector flatten into one And/Or node, so a And b Or c becomes
// Or(And(a, b), c). It returns nil when the tree has no clauses.
func (t *Tree) Predicate() queryir.Predicate {
	var root queryir.Predicate
	for i, c := range t.Clauses {
		cmp := queryir.Compare{Path: c.Path, Op: c.Op, Param: c.Param, IgnoreCase: c.IgnoreCase}
		if i == 0 {
			root = cmp
			continue
		}
		switch c.Connector {
		case ConnOr:
			if or, ok := root.(queryir.Or); ok {
				or.Predicates = append(or.Predicates, cmp)
				root = or
			} else {
				root = queryir.Or{Predicates: []queryir.Predicate{root, cmp}}
			}
		default:
			if and, ok := root.(queryir.And); ok {
				and.Predicates = append(and.Predicates, cmp)
				root = and
			} else {
				root = queryir.And{Predicates: []queryir.Predicate{root, cmp}}
			}
		}
	}
	return root
}

// Query builds the query IR node for the tree's kind over entity.
func (t *Tree) Query(entity string) queryir.Query {
	filter := t.Predicate()
	switch t.Subject.Kind {
	case KindCount:
		return queryir.Count{Entity: entity, Distinct: t.Subject.Distinct, Filter: filter}
	case KindExists:
		return queryir.Count{Entity: entity, Filter: filter, Exists: true}
	case KindDelete:
		return queryir.Delete{Entity: entity, Filter: filter}
	default:
		return queryir.Select{
			Entity:   entity,
			Distinct: t.Subject.Distinct,
			Filter:   filter,
			Sort:     t.OrderBy,
			Limit:    t.Subject.Limit,
		}
	}
}
