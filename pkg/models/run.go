package models

import (
	"time"
)

// RunStatus is the lifecycle state of a WorkflowRun.
//
// Transitions: pending -> running -> {success, failed, waiting_approval};
// waiting_approval -> running on approval, -> failed on rejection.
// success and failed are terminal.
type RunStatus string

const (
	RunPending         RunStatus = "pending"
	RunRunning         RunStatus = "running"
	RunWaitingApproval RunStatus = "waiting_approval"
	RunSuccess         RunStatus = "success"
	RunFailed          RunStatus = "failed"
)

// Terminal reports whether the status accepts no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFailed
}

// WorkflowRun is one execution instance of a Workflow. It is created on
// trigger and mutated only by the runner until terminal.
type WorkflowRun struct {
	ID            string                 `json:"id" db:"id"`
	WorkflowID    string                 `json:"workflow_id" db:"workflow_id"`
	TenantID      string                 `json:"tenant_id" db:"tenant_id"`
	CorrelationID string                 `json:"correlation_id" db:"correlation_id"`
	Context       map[string]interface{} `json:"context" db:"context"`
	Status        RunStatus              `json:"status" db:"status"`
	Error         *string                `json:"error,omitempty" db:"error"`
	StartedAt     *time.Time             `json:"started_at,omitempty" db:"started_at"`
	FinishedAt    *time.Time             `json:"finished_at,omitempty" db:"finished_at"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
}

// NodeStatus is the lifecycle state of a NodeRun.
type NodeStatus string

const (
	NodePending NodeStatus = "pending"
	NodeRunning NodeStatus = "running"
	NodeSuccess NodeStatus = "success"
	NodeFailed  NodeStatus = "failed"
	NodeSkipped NodeStatus = "skipped"
)

// Terminal reports whether the node status accepts no further transitions.
func (s NodeStatus) Terminal() bool {
	return s == NodeSuccess || s == NodeFailed || s == NodeSkipped
}

// NodeRun is the execution record for one node within one run. It is created
// when the node becomes ready and immutable once terminal.
type NodeRun struct {
	ID            string                 `json:"id" db:"id"`
	WorkflowRunID string                 `json:"workflow_run_id" db:"workflow_run_id"`
	NodeID        string                 `json:"node_id" db:"node_id"`
	AgentID       string                 `json:"agent_id" db:"agent_id"`
	ResolvedInput map[string]interface{} `json:"resolved_input,omitempty" db:"resolved_input"`
	Output        map[string]interface{} `json:"output,omitempty" db:"output"`
	Status        NodeStatus             `json:"status" db:"status"`
	Error         *string                `json:"error,omitempty" db:"error"`
	StartedAt     *time.Time             `json:"started_at,omitempty" db:"started_at"`
	FinishedAt    *time.Time             `json:"finished_at,omitempty" db:"finished_at"`
	DurationMs    int64                  `json:"duration_ms" db:"duration_ms"`
}
