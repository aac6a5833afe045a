// Package graph provides pure, storage-agnostic algorithms over directed
// graphs represented as adjacency lists. It has no I/O and no shared mutable
// state, which keeps it unit-testable with small synthetic graphs and
// reusable by both the workflow validator and any future scheduler.
package graph

import (
	"sort"

	"github.com/loomworks/loom/pkg/schema"
)

// AdjacencyList maps a node ID to the IDs of its successors. Nodes with no
// outgoing edges are simply absent as keys; callers must still consider them
// vertices when computing roots and leaves.
type AdjacencyList map[string][]string

// Edge is a single directed edge.
type Edge struct {
	Source string
	Target string
}

// BuildAdjacencyList groups directed edges by source.
func BuildAdjacencyList(edges []Edge) AdjacencyList {
	adj := make(AdjacencyList, len(edges))
	for _, e := range edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}
	return adj
}

// DFS colors. Gray marks a vertex on the current DFS path; an edge back to a
// gray vertex is a back-edge and therefore a cycle.
const (
	white = iota
	gray
	black
)

// DetectCycle reports whether the directed graph contains a cycle.
//
// It runs a three-color depth-first search with an explicit stack (no
// recursion-depth limit on large graphs). Every connected component is
// visited: successors first encountered as neighbors are treated as
// newly-discovered white vertices.
func DetectCycle(adj AdjacencyList) bool {
	color := make(map[string]int, len(adj))

	type frame struct {
		node string
		next int // index of the next successor to visit
	}

	for start := range adj {
		if color[start] != white {
			continue
		}
		color[start] = gray
		stack := []frame{{node: start}}

		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			succs := adj[f.node]
			if f.next < len(succs) {
				n := succs[f.next]
				f.next++
				switch color[n] {
				case gray:
					return true // back-edge
				case white:
					color[n] = gray
					stack = append(stack, frame{node: n})
				}
				continue
			}
			color[f.node] = black
			stack = stack[:len(stack)-1]
		}
	}
	return false
}

// TopologicalSort returns a linear ordering of all vertices (keys and
// successors alike) consistent with every edge direction, using Kahn's
// in-degree-zero queue. It returns a CYCLE_DETECTED error when the graph is
// cyclic; it never returns a partial ordering. Output is deterministic:
// zero-in-degree vertices are dequeued in lexical order.
func TopologicalSort(adj AdjacencyList) ([]string, error) {
	inDegree := make(map[string]int, len(adj))
	for node, succs := range adj {
		if _, ok := inDegree[node]; !ok {
			inDegree[node] = 0
		}
		for _, s := range succs {
			inDegree[s]++
		}
	}

	queue := make([]string, 0, len(inDegree))
	for node, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, node)
		}
	}
	sort.Strings(queue)

	result := make([]string, 0, len(inDegree))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		succs := make([]string, len(adj[node]))
		copy(succs, adj[node])
		sort.Strings(succs)
		for _, s := range succs {
			inDegree[s]--
			if inDegree[s] == 0 {
				queue = append(queue, s)
			}
		}
	}

	// Double-check against DetectCycle: a short result means a cycle.
	if len(result) != len(inDegree) {
		return nil, schema.NewError(schema.ErrCodeCycleDetected,
			"cannot perform topological sort: cycle detected in graph")
	}
	return result, nil
}

// FindRootNodes returns all vertices with no incoming edges, sorted.
func FindRootNodes(adj AdjacencyList) []string {
	targets := make(map[string]bool)
	for _, succs := range adj {
		for _, s := range succs {
			targets[s] = true
		}
	}

	var roots []string
	for _, node := range allVertices(adj) {
		if !targets[node] {
			roots = append(roots, node)
		}
	}
	return roots
}

// FindLeafNodes returns all vertices with no outgoing edges, sorted.
func FindLeafNodes(adj AdjacencyList) []string {
	var leaves []string
	for _, node := range allVertices(adj) {
		if len(adj[node]) == 0 {
			leaves = append(leaves, node)
		}
	}
	return leaves
}

// ValidateDAGStructure checks that the graph is a sane DAG: cycle-free with
// at least one root and one leaf. It is a structural sanity check,
// independent of business-level workflow validation.
func ValidateDAGStructure(adj AdjacencyList) (bool, string) {
	if DetectCycle(adj) {
		return false, "graph contains a cycle"
	}
	if len(FindRootNodes(adj)) == 0 {
		return false, "graph has no root nodes (all nodes have incoming edges)"
	}
	if len(FindLeafNodes(adj)) == 0 {
		return false, "graph has no leaf nodes (all nodes have outgoing edges)"
	}
	return true, ""
}

// allVertices returns the full vertex set (keys union successors), sorted.
func allVertices(adj AdjacencyList) []string {
	seen := make(map[string]bool, len(adj))
	for node, succs := range adj {
		seen[node] = true
		for _, s := range succs {
			seen[s] = true
		}
	}
	vertices := make([]string, 0, len(seen))
	for node := range seen {
		vertices = append(vertices, node)
	}
	sort.Strings(vertices)
	return vertices
}
