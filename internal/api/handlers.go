// Package api contains the HTTP surface of the workflow hub: the REST
// handlers and the JSON-RPC bus endpoint.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/PerformanceSuite/CommandCenter-sub018/internal/bus"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/ledger"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/logging"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/repository"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/services"
	"github.com/PerformanceSuite/CommandCenter-sub018/pkg/models"
)

// Server holds the dependencies for the API handlers.
type Server struct {
	Svc     *services.WorkflowService
	Ledger  *ledger.Ledger
	Bridge  *bus.Bridge
	Store   repository.Store
	Logger  *logging.Logger
	Service string
	Version string
}

// NewServer creates a new Server.
func NewServer(svc *services.WorkflowService, lg *ledger.Ledger, bridge *bus.Bridge, store repository.Store, logger *logging.Logger, service, version string) *Server {
	return &Server{
		Svc:     svc,
		Ledger:  lg,
		Bridge:  bridge,
		Store:   store,
		Logger:  logger,
		Service: service,
		Version: version,
	}
}

// RegisterRoutes mounts the REST and RPC handlers. Authenticated routes go on
// g; health stays on the bare echo instance.
func (s *Server) RegisterRoutes(e *echo.Echo, g *echo.Group) {
	e.GET("/healthz", s.HandleHealth)

	g.POST("/agents", s.CreateAgent)
	g.GET("/agents", s.ListAgents)
	g.GET("/agents/:id", s.GetAgent)

	g.POST("/workflows", s.CreateWorkflow)
	g.GET("/workflows", s.ListWorkflows)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.POST("/workflows/:id/trigger", s.TriggerWorkflow)

	g.GET("/runs/:id", s.GetRun)
	g.GET("/runs/:id/approvals", s.ListRunApprovals)
	g.POST("/runs/:id/cancel", s.CancelRun)

	g.POST("/approvals/:id/decide", s.DecideApproval)

	g.POST("/rpc", s.HandleRPC)
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth reports liveness plus store reachability.
func (s *Server) HandleHealth(c echo.Context) error {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   s.Service,
		Version:   s.Version,
	}
	if err := s.Store.Ping(c.Request().Context()); err != nil {
		status.Status = "degraded"
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	return c.JSON(http.StatusOK, status)
}

// ProblemDetails represents an RFC 7807 Problem Details response.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// problem writes an RFC 7807 response.
func problem(c echo.Context, status int, title, detail string) error {
	p := ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, p)
}

// domainError maps store and scheduler errors onto problem responses.
func (s *Server) domainError(c echo.Context, err error) error {
	var cycleErr *models.CycleError
	switch {
	case errors.Is(err, models.ErrNotFound):
		return problem(c, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, models.ErrApprovalConflict):
		return problem(c, http.StatusConflict, "Approval Already Decided", err.Error())
	case errors.Is(err, models.ErrRunTerminal):
		return problem(c, http.StatusConflict, "Run Already Terminal", err.Error())
	case errors.Is(err, models.ErrInvalid):
		return problem(c, http.StatusBadRequest, "Invalid Request", err.Error())
	case errors.As(err, &cycleErr):
		return problem(c, http.StatusBadRequest, "Invalid Workflow Graph", err.Error())
	default:
		s.Logger.Error("request failed", "path", c.Request().URL.Path, "error", err)
		return problem(c, http.StatusInternalServerError, "Internal Server Error", err.Error())
	}
}
