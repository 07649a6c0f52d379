package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/repoql/internal/ir"
)

// CycleWarning reports entities that reach each other through relations.
//
// Cycles are warnings, not errors: a bidirectional relation such as
// Member.team / Team.members is the normal shape of a mapping. A record
// graph whose deferred relations were resolved along the whole cycle
// renders recursively, so callers serializing entities need to stop at
// one side.
type CycleWarning struct {
	Path    []string `json:"path"`    // Relation path: ["Member.team", "Team.members"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles performs static cycle analysis on the relation graph.
//
// The algorithm:
//  1. Build entity → target edges from every relation
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a cycle warning
//
// A schema without cycles returns an empty warning list.
func AnalyzeCycles(schema *ir.Schema) []CycleWarning {
	graph := buildRelationGraph(schema)
	if len(graph.nodes) == 0 {
		return []CycleWarning{}
	}

	warnings := []CycleWarning{}
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	sort.Slice(warnings, func(i, j int) bool {
		return strings.Join(warnings[i].Path, ",") < strings.Join(warnings[j].Path, ",")
	})
	return warnings
}

// edge is one relation from its owning entity.
type edge struct {
	relation string
	target   string
}

// relationGraph maps entity → outgoing relations, with nodes kept in
// registration order so analysis is deterministic.
type relationGraph struct {
	nodes []string
	edges map[string][]edge
}

func buildRelationGraph(schema *ir.Schema) relationGraph {
	g := relationGraph{edges: make(map[string][]edge)}
	for _, e := range schema.Entities() {
		g.nodes = append(g.nodes, e.Name)
		g.edges[e.Name] = []edge{}
		for _, r := range e.Relations {
			g.edges[e.Name] = append(g.edges[e.Name], edge{relation: r.Name, target: r.Target})
		}
	}
	return g
}

// hasSelfLoop checks if an entity has a relation to itself.
func hasSelfLoop(node string, g relationGraph) bool {
	for _, e := range g.edges[node] {
		if e.target == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns a list of SCCs, where each SCC is a list of entity names.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(g relationGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, e := range g.edges[v] {
			w := e.target
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range g.nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning whose path lists
// the relations walked around the cycle.
func cycleSCCToWarning(scc []string, g relationGraph) CycleWarning {
	path := reconstructCyclePath(scc, g)
	if len(scc) == 1 {
		return CycleWarning{
			Path:    path,
			Message: fmt.Sprintf("Self-referencing relation: %s", strings.Join(path, " → ")),
			Level:   "warning",
		}
	}
	start, _, _ := strings.Cut(path[0], ".")
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Relation cycle: %s → %s", strings.Join(path, " → "), start),
		Level:   "warning",
	}
}

// reconstructCyclePath walks relations inside the SCC, starting from the
// member registered first, until it returns to the start.
func reconstructCyclePath(scc []string, g relationGraph) []string {
	inSCC := make(map[string]bool, len(scc))
	for _, node := range scc {
		inSCC[node] = true
	}
	start := ""
	for _, node := range g.nodes {
		if inSCC[node] {
			start = node
			break
		}
	}

	var path []string
	visited := make(map[string]bool)
	current := start
	for {
		visited[current] = true
		var next *edge
		for i, e := range g.edges[current] {
			if inSCC[e.target] && (!visited[e.target] || e.target == start) {
				next = &g.edges[current][i]
				break
			}
		}
		if next == nil {
			break
		}
		path = append(path, current+"."+next.relation)
		if next.target == start {
			break
		}
		current = next.target
	}
	return path
}
