// Package services holds the orchestration glue between the HTTP surface and
// the store/runner pair.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PerformanceSuite/CommandCenter-sub018/internal/dag"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/logging"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/repository"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/runner"
	"github.com/PerformanceSuite/CommandCenter-sub018/pkg/models"
)

// WorkflowService manages the agent catalog, workflow definitions, runs, and
// approvals on behalf of the API handlers.
type WorkflowService struct {
	store     repository.Store
	runner    *runner.Runner
	validator *dag.Validator
	logger    *logging.Logger
	syncDrive bool
}

// ServiceOption configures a WorkflowService.
type ServiceOption func(*WorkflowService)

// WithSynchronousDrive makes triggers and approvals drive the run on the
// calling goroutine instead of in the background. Used by tests.
func WithSynchronousDrive() ServiceOption {
	return func(s *WorkflowService) { s.syncDrive = true }
}

// NewWorkflowService creates a WorkflowService.
func NewWorkflowService(store repository.Store, r *runner.Runner, logger *logging.Logger, opts ...ServiceOption) *WorkflowService {
	s := &WorkflowService{
		store:     store,
		runner:    r,
		validator: dag.NewValidator(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterAgent adds an agent to the catalog, assigning an id if absent.
func (s *WorkflowService) RegisterAgent(ctx context.Context, agent *models.Agent) error {
	if agent.Name == "" {
		return fmt.Errorf("%w: agent name is required", models.ErrInvalid)
	}
	if agent.RiskLevel == "" {
		agent.RiskLevel = models.AgentRiskAuto
	}
	if agent.RiskLevel != models.AgentRiskAuto && agent.RiskLevel != models.AgentRiskApprovalRequired {
		return fmt.Errorf("%w: unknown risk level %q", models.ErrInvalid, agent.RiskLevel)
	}
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	agent.CreatedAt = time.Now().UTC()
	return s.store.CreateAgent(ctx, agent)
}

// GetAgent fetches a catalog entry.
func (s *WorkflowService) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	return s.store.GetAgent(ctx, id)
}

// ListAgents lists a tenant's catalog.
func (s *WorkflowService) ListAgents(ctx context.Context, tenantID string) ([]*models.Agent, error) {
	return s.store.ListAgents(ctx, tenantID)
}

// CreateWorkflow validates and stores a workflow. The DAG is checked at
// creation so a cyclic or dangling graph is never persisted, and every node
// must reference a registered agent.
func (s *WorkflowService) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	if wf.Name == "" {
		return fmt.Errorf("%w: workflow name is required", models.ErrInvalid)
	}
	if wf.ProjectID == "" {
		return fmt.Errorf("%w: workflow project id is required", models.ErrInvalid)
	}
	if err := s.validator.Validate(wf.Nodes); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalid, err)
	}
	if _, err := s.validator.Order(wf.Nodes); err != nil {
		return err
	}
	for _, n := range wf.Nodes {
		if _, err := s.store.GetAgent(ctx, n.AgentID); err != nil {
			return fmt.Errorf("%w: node %s references unknown agent %s", models.ErrInvalid, n.ID, n.AgentID)
		}
	}

	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	if wf.Trigger == "" {
		wf.Trigger = models.TriggerManual
	}
	if wf.Status == "" {
		wf.Status = models.WorkflowActive
	}
	now := time.Now().UTC()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	for i := range wf.Nodes {
		wf.Nodes[i].WorkflowID = wf.ID
	}

	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		return err
	}
	s.logger.Info("workflow created", "workflow_id", wf.ID, "name", wf.Name, "nodes", len(wf.Nodes))
	return nil
}

// GetWorkflow fetches a workflow with its nodes.
func (s *WorkflowService) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	return s.store.GetWorkflow(ctx, id)
}

// ListWorkflows lists a tenant's workflows.
func (s *WorkflowService) ListWorkflows(ctx context.Context, tenantID string) ([]*models.Workflow, error) {
	return s.store.ListWorkflows(ctx, tenantID)
}

// TriggerRun creates a run for the workflow and starts driving it.
func (s *WorkflowService) TriggerRun(ctx context.Context, workflowID string, runContext map[string]interface{}) (*models.WorkflowRun, error) {
	run, err := s.runner.Trigger(ctx, workflowID, runContext)
	if err != nil {
		return nil, err
	}
	s.drive(ctx, run.ID)
	return run, nil
}

// RunDetail is a run with its node runs and approvals, as returned by the
// run detail endpoint.
type RunDetail struct {
	Run       *models.WorkflowRun `json:"run"`
	NodeRuns  []*models.NodeRun   `json:"node_runs"`
	Approvals []*models.Approval  `json:"approvals"`
}

// GetRunDetail fetches a run with its node runs and approvals.
func (s *WorkflowService) GetRunDetail(ctx context.Context, runID string) (*RunDetail, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	nodeRuns, err := s.store.ListNodeRuns(ctx, runID)
	if err != nil {
		return nil, err
	}
	approvals, err := s.store.ListApprovals(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &RunDetail{Run: run, NodeRuns: nodeRuns, Approvals: approvals}, nil
}

// ListApprovals lists the approvals of one run.
func (s *WorkflowService) ListApprovals(ctx context.Context, runID string) ([]*models.Approval, error) {
	return s.store.ListApprovals(ctx, runID)
}

// DecideApproval resolves a pending approval. An approval resumes the run in
// the background; a rejection already failed it inside the decision.
func (s *WorkflowService) DecideApproval(ctx context.Context, approvalID string, decision models.ApprovalStatus, respondedBy, notes string) (*models.Approval, error) {
	approval, err := s.runner.Decide(ctx, approvalID, decision, respondedBy, notes)
	if err != nil {
		return nil, err
	}
	if decision == models.ApprovalApproved {
		s.drive(ctx, approval.WorkflowRunID)
	}
	return approval, nil
}

// CancelRun aborts a non-terminal run.
func (s *WorkflowService) CancelRun(ctx context.Context, runID, reason string) error {
	return s.runner.Cancel(ctx, runID, reason)
}

func (s *WorkflowService) drive(ctx context.Context, runID string) {
	if s.syncDrive {
		if err := s.runner.Drive(ctx, runID); err != nil {
			s.logger.Error("run drive failed", "run_id", runID, "error", err)
		}
		return
	}
	go func() {
		if err := s.runner.Drive(context.Background(), runID); err != nil {
			s.logger.Error("run drive failed", "run_id", runID, "error", err)
		}
	}()
}
