package models

import (
	"time"
)

// ApprovalStatus is the lifecycle state of an Approval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Resolved reports whether a decision has been recorded.
func (s ApprovalStatus) Resolved() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// Approval is a pending human decision for a gated workflow node. At most one
// unresolved Approval exists per (run, node); it is resolved exactly once.
type Approval struct {
	ID            string         `json:"id" db:"id"`
	WorkflowRunID string         `json:"workflow_run_id" db:"workflow_run_id"`
	NodeID        string         `json:"node_id" db:"node_id"`
	Status        ApprovalStatus `json:"status" db:"status"`
	RequestedAt   time.Time      `json:"requested_at" db:"requested_at"`
	RespondedAt   *time.Time     `json:"responded_at,omitempty" db:"responded_at"`
	RespondedBy   *string        `json:"responded_by,omitempty" db:"responded_by"`
	Notes         *string        `json:"notes,omitempty" db:"notes"`
}
