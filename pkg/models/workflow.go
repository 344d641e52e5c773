package models

import (
	"time"
)

// WorkflowTrigger identifies how a workflow's runs get started.
type WorkflowTrigger string

const (
	TriggerManual    WorkflowTrigger = "manual"
	TriggerScheduled WorkflowTrigger = "scheduled"
	TriggerEvent     WorkflowTrigger = "event"
)

// WorkflowStatus represents whether a workflow may be triggered.
type WorkflowStatus string

const (
	WorkflowActive   WorkflowStatus = "active"
	WorkflowDisabled WorkflowStatus = "disabled"
)

// Workflow is a declarative DAG of agent invocations. Name is unique per
// project; nodes are immutable after creation.
type Workflow struct {
	ID        string          `json:"id" db:"id"`
	TenantID  string          `json:"tenant_id" db:"tenant_id"`
	ProjectID string          `json:"project_id" db:"project_id"`
	Name      string          `json:"name" db:"name"`
	Trigger   WorkflowTrigger `json:"trigger" db:"trigger"`
	Status    WorkflowStatus  `json:"status" db:"status"`
	Nodes     []WorkflowNode  `json:"nodes"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// WorkflowNode binds an agent into a workflow's DAG. ID is unique within the
// workflow; DependsOn must reference node ids of the same workflow and must
// not introduce a cycle.
type WorkflowNode struct {
	ID               string                 `json:"id" db:"id"`
	WorkflowID       string                 `json:"workflow_id" db:"workflow_id"`
	AgentID          string                 `json:"agent_id" db:"agent_id"`
	InputTemplate    map[string]interface{} `json:"input_template" db:"input_template"`
	DependsOn        []string               `json:"depends_on" db:"depends_on"`
	ApprovalRequired bool                   `json:"approval_required" db:"approval_required"`
}

// EffectiveApprovalRequired reports whether the node must pause for a human
// decision: either the node is flagged explicitly or its agent's risk level
// demands it.
func (n *WorkflowNode) EffectiveApprovalRequired(agent *Agent) bool {
	if n.ApprovalRequired {
		return true
	}
	return agent != nil && agent.RiskLevel == AgentRiskApprovalRequired
}

// GetNode returns the node with the given id, or nil if the workflow has no
// such node.
func (w *Workflow) GetNode(id string) *WorkflowNode {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}
