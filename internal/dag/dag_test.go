package dag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PerformanceSuite/CommandCenter-sub018/pkg/models"
)

func node(id string, deps ...string) models.WorkflowNode {
	return models.WorkflowNode{ID: id, AgentID: "agent-" + id, DependsOn: deps}
}

func TestValidator_Validate(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		nodes   []models.WorkflowNode
		wantErr string
	}{
		{
			name:    "empty workflow",
			nodes:   nil,
			wantErr: "at least one node",
		},
		{
			name:    "duplicate node id",
			nodes:   []models.WorkflowNode{node("a"), node("a")},
			wantErr: `duplicate node id "a"`,
		},
		{
			name:    "dangling dependency",
			nodes:   []models.WorkflowNode{node("a", "ghost")},
			wantErr: `unknown node "ghost"`,
		},
		{
			name:    "self dependency",
			nodes:   []models.WorkflowNode{node("a", "a")},
			wantErr: `depends on itself`,
		},
		{
			name:  "valid graph",
			nodes: []models.WorkflowNode{node("a"), node("b", "a")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.nodes)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidator_Order_Batches(t *testing.T) {
	v := NewValidator()

	// diamond: a -> (b, c) -> d
	nodes := []models.WorkflowNode{
		node("a"),
		node("b", "a"),
		node("c", "a"),
		node("d", "b", "c"),
	}

	batches, err := v.Order(nodes)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a"}, batches[0])
	assert.Equal(t, []string{"b", "c"}, batches[1])
	assert.Equal(t, []string{"d"}, batches[2])
}

func TestValidator_Order_EveryNodeExactlyOnce(t *testing.T) {
	v := NewValidator()

	nodes := []models.WorkflowNode{
		node("fetch"),
		node("parse", "fetch"),
		node("index", "parse"),
		node("notify", "parse", "fetch"),
		node("report", "index", "notify"),
	}

	batches, err := v.Order(nodes)
	require.NoError(t, err)

	position := make(map[string]int)
	total := 0
	for i, batch := range batches {
		for _, id := range batch {
			_, seen := position[id]
			require.False(t, seen, "node %s appears twice", id)
			position[id] = i
			total++
		}
	}
	assert.Equal(t, len(nodes), total)

	// Every node sits strictly after all members of its dependsOn set.
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			assert.Greater(t, position[n.ID], position[dep],
				"node %s must come after dependency %s", n.ID, dep)
		}
	}
}

func TestValidator_Order_Cycle(t *testing.T) {
	v := NewValidator()

	nodes := []models.WorkflowNode{
		node("a", "c"),
		node("b", "a"),
		node("c", "b"),
	}

	batches, err := v.Order(nodes)
	require.Error(t, err)
	assert.Nil(t, batches)

	var cycleErr *models.CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycleErr.Nodes)
}

func TestValidator_Order_PartialCycle(t *testing.T) {
	v := NewValidator()

	// "start" resolves, but the b<->c loop never does.
	nodes := []models.WorkflowNode{
		node("start"),
		node("b", "start", "c"),
		node("c", "b"),
	}

	_, err := v.Order(nodes)
	var cycleErr *models.CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.ElementsMatch(t, []string{"b", "c"}, cycleErr.Nodes)
}
