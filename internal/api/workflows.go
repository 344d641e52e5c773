package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/PerformanceSuite/CommandCenter-sub018/pkg/models"
)

// tenantID pulls the tenant resolved by the auth middleware. Empty means the
// request skipped authentication, which only happens in dev bypass mode.
func tenantID(c echo.Context) string {
	if id, ok := c.Request().Context().Value("tenant_id").(string); ok {
		return id
	}
	return ""
}

// CreateAgent registers a catalog entry.
// (POST /api/v1/agents)
func (s *Server) CreateAgent(c echo.Context) error {
	ctx := c.Request().Context()

	var agent models.Agent
	if err := c.Bind(&agent); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid Request Body", err.Error())
	}
	agent.TenantID = tenantID(c)

	if err := s.Svc.RegisterAgent(ctx, &agent); err != nil {
		return s.domainError(c, err)
	}
	return c.JSON(http.StatusCreated, agent)
}

// ListAgents returns the tenant's agent catalog.
// (GET /api/v1/agents)
func (s *Server) ListAgents(c echo.Context) error {
	agents, err := s.Svc.ListAgents(c.Request().Context(), tenantID(c))
	if err != nil {
		return s.domainError(c, err)
	}
	return c.JSON(http.StatusOK, agents)
}

// GetAgent returns one catalog entry.
// (GET /api/v1/agents/:id)
func (s *Server) GetAgent(c echo.Context) error {
	agent, err := s.Svc.GetAgent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.domainError(c, err)
	}
	return c.JSON(http.StatusOK, agent)
}

// CreateWorkflow validates and stores a workflow definition.
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var wf models.Workflow
	if err := c.Bind(&wf); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid Request Body", err.Error())
	}
	wf.TenantID = tenantID(c)

	if err := s.Svc.CreateWorkflow(ctx, &wf); err != nil {
		return s.domainError(c, err)
	}
	return c.JSON(http.StatusCreated, wf)
}

// ListWorkflows returns the tenant's workflows.
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	workflows, err := s.Svc.ListWorkflows(c.Request().Context(), tenantID(c))
	if err != nil {
		return s.domainError(c, err)
	}
	return c.JSON(http.StatusOK, workflows)
}

// GetWorkflow returns one workflow with its nodes.
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	wf, err := s.Svc.GetWorkflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.domainError(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// TriggerRequest is the body for triggering a workflow run.
type TriggerRequest struct {
	Context map[string]interface{} `json:"context"`
}

// TriggerResponse acknowledges an accepted run.
type TriggerResponse struct {
	WorkflowRunID string           `json:"workflowRunId"`
	Status        models.RunStatus `json:"status"`
}

// TriggerWorkflow creates a run and schedules it. The response is an
// acknowledgement; the run executes asynchronously.
// (POST /api/v1/workflows/:id/trigger)
func (s *Server) TriggerWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var req TriggerRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid Request Body", err.Error())
	}

	run, err := s.Svc.TriggerRun(ctx, c.Param("id"), req.Context)
	if err != nil {
		return s.domainError(c, err)
	}
	return c.JSON(http.StatusAccepted, TriggerResponse{
		WorkflowRunID: run.ID,
		Status:        models.RunPending,
	})
}

// GetRun returns the run with its node runs and approvals.
// (GET /api/v1/runs/:id)
func (s *Server) GetRun(c echo.Context) error {
	detail, err := s.Svc.GetRunDetail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.domainError(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

// ListRunApprovals returns the approvals of one run.
// (GET /api/v1/runs/:id/approvals)
func (s *Server) ListRunApprovals(c echo.Context) error {
	approvals, err := s.Svc.ListApprovals(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.domainError(c, err)
	}
	return c.JSON(http.StatusOK, approvals)
}

// CancelRequest is the body for cancelling a run.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// CancelRun aborts a non-terminal run.
// (POST /api/v1/runs/:id/cancel)
func (s *Server) CancelRun(c echo.Context) error {
	var req CancelRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid Request Body", err.Error())
	}
	if err := s.Svc.CancelRun(c.Request().Context(), c.Param("id"), req.Reason); err != nil {
		return s.domainError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

// DecideRequest is the body for resolving an approval.
type DecideRequest struct {
	Decision    models.ApprovalStatus `json:"decision"`
	RespondedBy string                `json:"responded_by"`
	Notes       string                `json:"notes"`
}

// DecideApproval resolves a pending approval exactly once. A second decision
// returns 409.
// (POST /api/v1/approvals/:id/decide)
func (s *Server) DecideApproval(c echo.Context) error {
	var req DecideRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid Request Body", err.Error())
	}
	if req.RespondedBy == "" {
		if user, ok := c.Request().Context().Value("user_email").(string); ok {
			req.RespondedBy = user
		}
	}

	approval, err := s.Svc.DecideApproval(c.Request().Context(), c.Param("id"), req.Decision, req.RespondedBy, req.Notes)
	if err != nil {
		return s.domainError(c, err)
	}
	return c.JSON(http.StatusOK, approval)
}
