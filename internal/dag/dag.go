// Package dag validates workflow graphs and computes execution order.
package dag

import (
	"fmt"
	"sort"

	"github.com/PerformanceSuite/CommandCenter-sub018/pkg/models"
)

// Validator is a stateless checker for workflow node graphs.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the structural integrity of the node list: at least one
// node, unique node ids, and dependsOn edges that reference nodes within the
// same workflow. Cycle detection happens in Order.
func (v *Validator) Validate(nodes []models.WorkflowNode) error {
	if len(nodes) == 0 {
		return fmt.Errorf("workflow must contain at least one node")
	}

	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			return fmt.Errorf("workflow node is missing an id")
		}
		if ids[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		ids[n.ID] = true
	}

	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if dep == n.ID {
				return fmt.Errorf("node %q depends on itself", n.ID)
			}
			if !ids[dep] {
				return fmt.Errorf("node %q depends on unknown node %q", n.ID, dep)
			}
		}
	}

	return nil
}

// Order computes the execution order of the nodes using Kahn's algorithm.
// Nodes whose dependencies are all satisfied in the same wave form one batch
// and may run concurrently. If unresolved nodes remain after every resolvable
// node has been extracted, the graph contains a cycle and Order returns a
// *models.CycleError naming the unresolved set.
func (v *Validator) Order(nodes []models.WorkflowNode) ([][]string, error) {
	if err := v.Validate(nodes); err != nil {
		return nil, err
	}

	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		indegree[n.ID] = len(n.DependsOn)
		for _, dep := range n.DependsOn {
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	var batches [][]string
	remaining := len(nodes)

	for remaining > 0 {
		var batch []string
		for id, deg := range indegree {
			if deg == 0 {
				batch = append(batch, id)
			}
		}
		if len(batch) == 0 {
			// Everything left participates in, or depends on, a cycle.
			var stuck []string
			for id := range indegree {
				stuck = append(stuck, id)
			}
			sort.Strings(stuck)
			return nil, &models.CycleError{Nodes: stuck}
		}

		sort.Strings(batch)
		for _, id := range batch {
			delete(indegree, id)
			for _, next := range dependents[id] {
				if _, ok := indegree[next]; ok {
					indegree[next]--
				}
			}
		}

		batches = append(batches, batch)
		remaining -= len(batch)
	}

	return batches, nil
}
