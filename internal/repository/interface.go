// Package repository persists the workflow hub's state. The store is the
// single source of truth; runner transitions that must stay consistent
// (run status, node runs, approvals) go through Atomic.
package repository

import (
	"context"

	"github.com/PerformanceSuite/CommandCenter-sub018/pkg/models"
)

// Store is the persistence interface for all hub entities.
type Store interface {
	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Atomic runs fn against a transactional view of the store. All
	// mutations made through the passed Store commit together or not at
	// all. Nested Atomic calls are not supported.
	Atomic(ctx context.Context, fn func(Store) error) error

	// CreateTenant stores a new tenant, assigning an id if absent.
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	// GetTenantByDomain fetches a tenant by its email domain.
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)

	// CreateAgent registers a catalog entry.
	CreateAgent(ctx context.Context, agent *models.Agent) error
	// GetAgent fetches an agent by id.
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	// ListAgents lists a tenant's agents.
	ListAgents(ctx context.Context, tenantID string) ([]*models.Agent, error)

	// CreateWorkflow stores a workflow and its nodes.
	CreateWorkflow(ctx context.Context, workflow *models.Workflow) error
	// GetWorkflow fetches a workflow with its nodes.
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	// ListWorkflows lists a tenant's workflows, nodes included.
	ListWorkflows(ctx context.Context, tenantID string) ([]*models.Workflow, error)

	// CreateRun stores a run and its initial node runs together.
	CreateRun(ctx context.Context, run *models.WorkflowRun, nodeRuns []*models.NodeRun) error
	// GetRun fetches a run by id.
	GetRun(ctx context.Context, id string) (*models.WorkflowRun, error)
	// UpdateRun persists run status/error/timestamps.
	UpdateRun(ctx context.Context, run *models.WorkflowRun) error
	// ListNodeRuns lists the node runs of one run.
	ListNodeRuns(ctx context.Context, runID string) ([]*models.NodeRun, error)
	// UpdateNodeRun persists node run status/output/error/timings.
	UpdateNodeRun(ctx context.Context, nodeRun *models.NodeRun) error

	// CreateApproval stores a pending approval.
	CreateApproval(ctx context.Context, approval *models.Approval) error
	// GetApproval fetches an approval by id.
	GetApproval(ctx context.Context, id string) (*models.Approval, error)
	// ListApprovals lists the approvals of one run.
	ListApprovals(ctx context.Context, runID string) ([]*models.Approval, error)
	// UpdateApproval persists an approval resolution.
	UpdateApproval(ctx context.Context, approval *models.Approval) error

	// AppendEvent appends an event to the ledger.
	AppendEvent(ctx context.Context, event *models.Event) error
	// QueryEvents returns up to limit events matching the subject pattern,
	// newest first. Patterns use the bus wildcard classes.
	QueryEvents(ctx context.Context, pattern string, limit int) ([]*models.Event, error)
}
