// Package models defines the domain models for the workflow hub.
package models

import (
	"time"
)

// AgentRiskLevel classifies how much human oversight an agent needs before
// its logic may run.
type AgentRiskLevel string

const (
	// AgentRiskAuto agents execute without a human decision.
	AgentRiskAuto AgentRiskLevel = "auto"
	// AgentRiskApprovalRequired agents always gate behind a pending Approval.
	AgentRiskApprovalRequired AgentRiskLevel = "approval_required"
)

// Agent is an immutable catalog entry describing an executable capability.
// Agents are created by registration and never mutated during execution.
type Agent struct {
	ID           string                 `json:"id" db:"id"`
	TenantID     string                 `json:"tenant_id" db:"tenant_id"`
	Name         string                 `json:"name" db:"name"`
	Type         string                 `json:"type" db:"type"`
	RiskLevel    AgentRiskLevel         `json:"risk_level" db:"risk_level"`
	InputSchema  map[string]interface{} `json:"input_schema" db:"input_schema"`
	OutputSchema map[string]interface{} `json:"output_schema" db:"output_schema"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
}
