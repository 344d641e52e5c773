package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PerformanceSuite/CommandCenter-sub018/internal/bus"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/executor"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/ledger"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/logging"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/repository"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/runner"
	"github.com/PerformanceSuite/CommandCenter-sub018/pkg/models"
)

type stubExec struct{}

func (stubExec) Invoke(ctx context.Context, agentID string, input map[string]interface{}) (*executor.Invocation, error) {
	return &executor.Invocation{ID: "inv", ExitCode: 0, Output: map[string]interface{}{"ok": true}}, nil
}

func (stubExec) Terminate(ctx context.Context, invocationID string) error { return nil }

func newService(t *testing.T) (*WorkflowService, repository.Store) {
	t.Helper()
	store := repository.NewMemoryStore()
	logger := logging.NewLogger()
	bridge := bus.NewBridge(logger, 16)
	t.Cleanup(func() { _ = bridge.Close() })
	lg := ledger.New(store, bridge, logger, "hub", "hub-0")
	r := runner.New(store, stubExec{}, lg, runner.WithLogger(logger))
	return NewWorkflowService(store, r, logger, WithSynchronousDrive()), store
}

func TestCreateWorkflowValidation(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.RegisterAgent(ctx, &models.Agent{
		ID: "agent-a", TenantID: "t1", Name: "scan", Type: "container",
	}))

	tests := []struct {
		name    string
		wf      *models.Workflow
		wantErr string
	}{
		{
			name:    "missing name",
			wf:      &models.Workflow{TenantID: "t1", ProjectID: "p1"},
			wantErr: "name is required",
		},
		{
			name:    "no nodes",
			wf:      &models.Workflow{TenantID: "t1", ProjectID: "p1", Name: "empty"},
			wantErr: "at least one node",
		},
		{
			name: "unknown agent",
			wf: &models.Workflow{TenantID: "t1", ProjectID: "p1", Name: "bad-agent",
				Nodes: []models.WorkflowNode{{ID: "a", AgentID: "agent-missing"}}},
			wantErr: "agent-missing",
		},
		{
			name: "cycle",
			wf: &models.Workflow{TenantID: "t1", ProjectID: "p1", Name: "cyclic",
				Nodes: []models.WorkflowNode{
					{ID: "a", AgentID: "agent-a", DependsOn: []string{"b"}},
					{ID: "b", AgentID: "agent-a", DependsOn: []string{"a"}},
				}},
			wantErr: "cycle",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.CreateWorkflow(ctx, tt.wf)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	wf := &models.Workflow{TenantID: "t1", ProjectID: "p1", Name: "good",
		Nodes: []models.WorkflowNode{{ID: "a", AgentID: "agent-a"}}}
	require.NoError(t, svc.CreateWorkflow(ctx, wf))
	assert.NotEmpty(t, wf.ID)
	assert.Equal(t, models.WorkflowActive, wf.Status)
	assert.Equal(t, wf.ID, wf.Nodes[0].WorkflowID)

	stored, err := store.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "good", stored.Name)
}

func TestTriggerRunDrivesToCompletion(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.RegisterAgent(ctx, &models.Agent{
		ID: "agent-a", TenantID: "t1", Name: "scan", Type: "container",
	}))
	wf := &models.Workflow{TenantID: "t1", ProjectID: "p1", Name: "one-shot",
		Nodes: []models.WorkflowNode{{ID: "a", AgentID: "agent-a"}}}
	require.NoError(t, svc.CreateWorkflow(ctx, wf))

	run, err := svc.TriggerRun(ctx, wf.ID, map[string]interface{}{"env": "staging"})
	require.NoError(t, err)

	detail, err := svc.GetRunDetail(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, detail.Run.Status)
	require.Len(t, detail.NodeRuns, 1)
	assert.Equal(t, models.NodeSuccess, detail.NodeRuns[0].Status)
	assert.Empty(t, detail.Approvals)
}

func TestDecideApprovalResumesRun(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.RegisterAgent(ctx, &models.Agent{
		ID: "agent-deploy", TenantID: "t1", Name: "deploy", Type: "container",
		RiskLevel: models.AgentRiskApprovalRequired,
	}))
	wf := &models.Workflow{TenantID: "t1", ProjectID: "p1", Name: "gated",
		Nodes: []models.WorkflowNode{{ID: "deploy", AgentID: "agent-deploy"}}}
	require.NoError(t, svc.CreateWorkflow(ctx, wf))

	run, err := svc.TriggerRun(ctx, wf.ID, nil)
	require.NoError(t, err)

	detail, err := svc.GetRunDetail(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunWaitingApproval, detail.Run.Status)
	require.Len(t, detail.Approvals, 1)

	_, err = svc.DecideApproval(ctx, detail.Approvals[0].ID, models.ApprovalApproved, "alice@example.com", "")
	require.NoError(t, err)

	detail, err = svc.GetRunDetail(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, detail.Run.Status)
}

func TestRegisterAgentRejectsUnknownRisk(t *testing.T) {
	svc, _ := newService(t)
	err := svc.RegisterAgent(context.Background(), &models.Agent{
		TenantID: "t1", Name: "odd", Type: "container", RiskLevel: "sometimes",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risk level")
}
