package engine

import (
	"fmt"
	"strings"

	"github.com/roach88/repoql/internal/ir"
)

// fetchPaths resolves the eager fetch of an operation to relation names of
// the root entity. A nil fetch spec leaves every relation deferred.
//
// Both strategies render the same LEFT JOIN per relation: join lists its
// paths, graph lists ad-hoc paths or names an entity graph.
func (e *Engine) fetchPaths(op ir.Operation, meta *ir.Entity) ([]string, error) {
	if op.Fetch == nil {
		return nil, nil
	}
	paths := op.Fetch.Paths
	if op.Fetch.Graph != "" {
		if op.Fetch.Strategy != ir.FetchGraph {
			return nil, fmt.Errorf("entity graph %q needs the graph strategy", op.Fetch.Graph)
		}
		graph, ok := meta.Graphs[op.Fetch.Graph]
		if !ok {
			return nil, fmt.Errorf("entity %s has no graph %q", meta.Name, op.Fetch.Graph)
		}
		paths = append(append([]string(nil), graph...), paths...)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%s fetch lists no relation", op.Fetch.Strategy)
	}

	var out []string
	for _, path := range paths {
		if strings.Contains(path, ".") {
			return nil, fmt.Errorf("fetch path %q is deeper than one relation", path)
		}
		if _, ok := meta.Relation(path); !ok {
			return nil, fmt.Errorf("entity %s has no relation %q", meta.Name, path)
		}
		if !contains(out, path) {
			out = append(out, path)
		}
	}
	return out, nil
}
