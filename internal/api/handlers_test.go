package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PerformanceSuite/CommandCenter-sub018/internal/bus"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/executor"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/ledger"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/logging"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/repository"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/runner"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/services"
	"github.com/PerformanceSuite/CommandCenter-sub018/pkg/models"
)

type okExec struct{}

func (okExec) Invoke(ctx context.Context, agentID string, input map[string]interface{}) (*executor.Invocation, error) {
	return &executor.Invocation{ID: "inv", ExitCode: 0, Output: map[string]interface{}{"ok": true}}, nil
}

func (okExec) Terminate(ctx context.Context, invocationID string) error { return nil }

func newTestServer(t *testing.T) (*Server, *echo.Echo) {
	t.Helper()
	store := repository.NewMemoryStore()
	logger := logging.NewLogger()
	bridge := bus.NewBridge(logger, 16)
	t.Cleanup(func() { _ = bridge.Close() })
	lg := ledger.New(store, bridge, logger, "hub", "hub-0")
	r := runner.New(store, okExec{}, lg, runner.WithLogger(logger))
	svc := services.NewWorkflowService(store, r, logger, services.WithSynchronousDrive())
	srv := NewServer(svc, lg, bridge, store, logger, "hub", "test")

	e := echo.New()
	srv.RegisterRoutes(e, e.Group("/api/v1"))
	return srv, e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func seedCatalog(t *testing.T, e *echo.Echo) (agentID string) {
	t.Helper()
	rec := doJSON(t, e, http.MethodPost, "/api/v1/agents",
		`{"id":"agent-scan","name":"scan","type":"container","risk_level":"auto"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	return "agent-scan"
}

func TestHealthz(t *testing.T) {
	_, e := newTestServer(t)
	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "hub", status.Service)
}

func TestCreateWorkflowRejectsCycle(t *testing.T) {
	_, e := newTestServer(t)
	seedCatalog(t, e)

	rec := doJSON(t, e, http.MethodPost, "/api/v1/workflows", `{
		"project_id": "p1",
		"name": "cyclic",
		"nodes": [
			{"id": "a", "agent_id": "agent-scan", "depends_on": ["b"]},
			{"id": "b", "agent_id": "agent-scan", "depends_on": ["a"]}
		]
	}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get(echo.HeaderContentType))

	var p ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Contains(t, p.Detail, "cycle")
}

func TestTriggerReturnsAccepted(t *testing.T) {
	_, e := newTestServer(t)
	seedCatalog(t, e)

	rec := doJSON(t, e, http.MethodPost, "/api/v1/workflows", `{
		"project_id": "p1",
		"name": "one-shot",
		"nodes": [{"id": "a", "agent_id": "agent-scan"}]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var wf models.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wf))

	rec = doJSON(t, e, http.MethodPost, fmt.Sprintf("/api/v1/workflows/%s/trigger", wf.ID),
		`{"context": {"env": "staging"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var trig TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trig))
	assert.NotEmpty(t, trig.WorkflowRunID)
	assert.Equal(t, models.RunPending, trig.Status)

	// Synchronous drive in tests: the run is already terminal.
	rec = doJSON(t, e, http.MethodGet, "/api/v1/runs/"+trig.WorkflowRunID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var detail services.RunDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, models.RunSuccess, detail.Run.Status)
	require.Len(t, detail.NodeRuns, 1)
}

func TestGetRunNotFound(t *testing.T) {
	_, e := newTestServer(t)
	rec := doJSON(t, e, http.MethodGet, "/api/v1/runs/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var p ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, http.StatusNotFound, p.Status)
}

func TestDecideConflictReturns409(t *testing.T) {
	_, e := newTestServer(t)
	rec := doJSON(t, e, http.MethodPost, "/api/v1/agents",
		`{"id":"agent-deploy","name":"deploy","type":"container","risk_level":"approval_required"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/api/v1/workflows", `{
		"project_id": "p1",
		"name": "gated",
		"nodes": [{"id": "deploy", "agent_id": "agent-deploy"}]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var wf models.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wf))

	rec = doJSON(t, e, http.MethodPost, fmt.Sprintf("/api/v1/workflows/%s/trigger", wf.ID), `{}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var trig TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trig))

	rec = doJSON(t, e, http.MethodGet, fmt.Sprintf("/api/v1/runs/%s/approvals", trig.WorkflowRunID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var approvals []*models.Approval
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &approvals))
	require.Len(t, approvals, 1)

	decidePath := fmt.Sprintf("/api/v1/approvals/%s/decide", approvals[0].ID)
	rec = doJSON(t, e, http.MethodPost, decidePath,
		`{"decision": "approved", "responded_by": "alice@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, e, http.MethodPost, decidePath,
		`{"decision": "rejected", "responded_by": "bob@example.com"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelRun(t *testing.T) {
	_, e := newTestServer(t)
	rec := doJSON(t, e, http.MethodPost, "/api/v1/agents",
		`{"id":"agent-deploy","name":"deploy","type":"container","risk_level":"approval_required"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/api/v1/workflows", `{
		"project_id": "p1",
		"name": "gated",
		"nodes": [{"id": "deploy", "agent_id": "agent-deploy"}]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var wf models.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wf))

	rec = doJSON(t, e, http.MethodPost, fmt.Sprintf("/api/v1/workflows/%s/trigger", wf.ID), `{}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var trig TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trig))

	cancelPath := fmt.Sprintf("/api/v1/runs/%s/cancel", trig.WorkflowRunID)
	rec = doJSON(t, e, http.MethodPost, cancelPath, `{"reason": "operator request"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// A second cancel hits the terminal run.
	rec = doJSON(t, e, http.MethodPost, cancelPath, `{"reason": "again"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}
