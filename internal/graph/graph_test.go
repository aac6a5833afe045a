package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/pkg/schema"
)

// --- BuildAdjacencyList ---

func TestBuildAdjacencyList(t *testing.T) {
	adj := BuildAdjacencyList([]Edge{
		{Source: "a", Target: "b"},
		{Source: "a", Target: "c"},
		{Source: "b", Target: "c"},
	})
	assert.Equal(t, AdjacencyList{
		"a": {"b", "c"},
		"b": {"c"},
	}, adj)
}

func TestBuildAdjacencyList_Empty(t *testing.T) {
	adj := BuildAdjacencyList(nil)
	assert.Empty(t, adj)
}

// --- DetectCycle ---

func TestDetectCycle_EmptyGraph(t *testing.T) {
	assert.False(t, DetectCycle(AdjacencyList{}))
}

func TestDetectCycle_Linear(t *testing.T) {
	adj := AdjacencyList{"a": {"b"}, "b": {"c"}}
	assert.False(t, DetectCycle(adj))
}

func TestDetectCycle_Diamond(t *testing.T) {
	adj := AdjacencyList{"a": {"b", "c"}, "b": {"d"}, "c": {"d"}}
	assert.False(t, DetectCycle(adj))
}

func TestDetectCycle_SelfLoop(t *testing.T) {
	adj := AdjacencyList{"a": {"a"}}
	assert.True(t, DetectCycle(adj))
}

func TestDetectCycle_SimpleCycle(t *testing.T) {
	adj := AdjacencyList{"a": {"b"}, "b": {"a"}}
	assert.True(t, DetectCycle(adj))
}

func TestDetectCycle_LongCycle(t *testing.T) {
	adj := AdjacencyList{"a": {"b"}, "b": {"c"}, "c": {"d"}, "d": {"b"}}
	assert.True(t, DetectCycle(adj))
}

func TestDetectCycle_DisconnectedComponents(t *testing.T) {
	// One acyclic component, one cyclic component.
	adj := AdjacencyList{
		"a": {"b"},
		"x": {"y"},
		"y": {"z"},
		"z": {"x"},
	}
	assert.True(t, DetectCycle(adj))
}

func TestDetectCycle_MultipleDisjointCycles(t *testing.T) {
	adj := AdjacencyList{
		"a": {"b"}, "b": {"a"},
		"c": {"d"}, "d": {"c"},
	}
	assert.True(t, DetectCycle(adj))
}

func TestDetectCycle_DisconnectedAcyclic(t *testing.T) {
	adj := AdjacencyList{"a": {"b"}, "x": {"y"}}
	assert.False(t, DetectCycle(adj))
}

func TestDetectCycle_SharedNodeIsNotACycle(t *testing.T) {
	// d is reached twice (via b and c) but never while gray.
	adj := AdjacencyList{"a": {"b", "c"}, "b": {"d"}, "c": {"d"}}
	assert.False(t, DetectCycle(adj))
}

// --- TopologicalSort ---

func TestTopologicalSort_RespectsEdgeOrder(t *testing.T) {
	adj := AdjacencyList{"a": {"b", "c"}, "b": {"d"}, "c": {"d"}}
	order, err := TopologicalSort(adj)
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for source, succs := range adj {
		for _, target := range succs {
			assert.Less(t, pos[source], pos[target],
				"edge %s -> %s violated", source, target)
		}
	}
}

func TestTopologicalSort_IncludesIsolatedTargets(t *testing.T) {
	// "b" only ever appears as a successor.
	adj := AdjacencyList{"a": {"b"}}
	order, err := TopologicalSort(adj)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestTopologicalSort_EveryVertexExactlyOnce(t *testing.T) {
	adj := AdjacencyList{"a": {"b", "c"}, "c": {"d"}, "e": {"d"}}
	order, err := TopologicalSort(adj)
	require.NoError(t, err)
	assert.Len(t, order, 5)

	seen := make(map[string]int)
	for _, id := range order {
		seen[id]++
	}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		assert.Equal(t, 1, seen[id], "vertex %s", id)
	}
}

func TestTopologicalSort_Deterministic(t *testing.T) {
	adj := AdjacencyList{"c": {"z"}, "a": {"z"}, "b": {"z"}}
	first, err := TopologicalSort(adj)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := TopologicalSort(adj)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestTopologicalSort_CycleFailsWithoutPartialResult(t *testing.T) {
	adj := AdjacencyList{"a": {"b"}, "b": {"c"}, "c": {"a"}}
	order, err := TopologicalSort(adj)
	require.Error(t, err)
	assert.Nil(t, order)

	le, ok := err.(*schema.LoomError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeCycleDetected, le.Code)
}

func TestTopologicalSort_AgreesWithDetectCycle(t *testing.T) {
	graphs := []AdjacencyList{
		{},
		{"a": {"b"}},
		{"a": {"a"}},
		{"a": {"b"}, "b": {"a"}},
		{"a": {"b", "c"}, "b": {"d"}, "c": {"d"}},
		{"a": {"b"}, "x": {"y"}, "y": {"x"}},
	}
	for _, adj := range graphs {
		_, err := TopologicalSort(adj)
		assert.Equal(t, DetectCycle(adj), err != nil, "graph %v", adj)
	}
}

// --- Roots and leaves ---

func TestFindRootNodes(t *testing.T) {
	adj := AdjacencyList{"a": {"c"}, "b": {"c"}, "c": {"d"}}
	assert.Equal(t, []string{"a", "b"}, FindRootNodes(adj))
}

func TestFindLeafNodes(t *testing.T) {
	adj := AdjacencyList{"a": {"c"}, "b": {"c"}, "c": {"d"}}
	assert.Equal(t, []string{"d"}, FindLeafNodes(adj))
}

func TestFindRootAndLeaf_SingleEdge(t *testing.T) {
	adj := AdjacencyList{"a": {"b"}}
	assert.Equal(t, []string{"a"}, FindRootNodes(adj))
	assert.Equal(t, []string{"b"}, FindLeafNodes(adj))
}

func TestFindRootAndLeaf_CycleHasNeither(t *testing.T) {
	adj := AdjacencyList{"a": {"b"}, "b": {"a"}}
	assert.Empty(t, FindRootNodes(adj))
	assert.Empty(t, FindLeafNodes(adj))
}

// --- ValidateDAGStructure ---

func TestValidateDAGStructure_Valid(t *testing.T) {
	ok, reason := ValidateDAGStructure(AdjacencyList{"a": {"b"}, "b": {"c"}})
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestValidateDAGStructure_Cycle(t *testing.T) {
	ok, reason := ValidateDAGStructure(AdjacencyList{"a": {"b"}, "b": {"a"}})
	assert.False(t, ok)
	assert.Contains(t, reason, "cycle")
}

func TestValidateDAGStructure_Empty(t *testing.T) {
	ok, reason := ValidateDAGStructure(AdjacencyList{})
	assert.False(t, ok)
	assert.Contains(t, reason, "root")
}
