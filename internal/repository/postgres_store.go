package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PerformanceSuite/CommandCenter-sub018/internal/bus"
	"github.com/PerformanceSuite/CommandCenter-sub018/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the same store
// methods serve plain calls and Atomic transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the pgx-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    querier
}

// NewPostgresStore creates a PostgresStore on the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

// EnsureSchema applies the embedded DDL. Statements are idempotent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.q.Exec(ctx, schemaSQL)
	return err
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// Atomic runs fn inside one database transaction.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	txStore := &PostgresStore{pool: s.pool, q: tx}
	if err := fn(txStore); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) CreateTenant(ctx context.Context, t *models.Tenant) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return exec(ctx, s.q,
		`INSERT INTO tenants (id, name, domain) VALUES ($1, $2, $3)`,
		t.ID, t.Name, t.Domain)
}

func (s *PostgresStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.q.QueryRow(ctx,
		`SELECT id, name, domain, created_at, updated_at FROM tenants WHERE domain = $1`,
		domain).Scan(&t.ID, &t.Name, &t.Domain, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &t, nil
}

func (s *PostgresStore) CreateAgent(ctx context.Context, a *models.Agent) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return exec(ctx, s.q,
		`INSERT INTO agents (id, tenant_id, name, type, risk_level, input_schema, output_schema)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.TenantID, a.Name, a.Type, a.RiskLevel, a.InputSchema, a.OutputSchema)
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	var a models.Agent
	err := s.q.QueryRow(ctx,
		`SELECT id, tenant_id, name, type, risk_level, input_schema, output_schema, created_at
		 FROM agents WHERE id = $1`, id).
		Scan(&a.ID, &a.TenantID, &a.Name, &a.Type, &a.RiskLevel, &a.InputSchema, &a.OutputSchema, &a.CreatedAt)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &a, nil
}

func (s *PostgresStore) ListAgents(ctx context.Context, tenantID string) ([]*models.Agent, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, tenant_id, name, type, risk_level, input_schema, output_schema, created_at
		 FROM agents WHERE tenant_id = $1 ORDER BY name`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Agent
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Name, &a.Type, &a.RiskLevel,
			&a.InputSchema, &a.OutputSchema, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	err := exec(ctx, s.q,
		`INSERT INTO workflows (id, tenant_id, project_id, name, trigger, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		w.ID, w.TenantID, w.ProjectID, w.Name, w.Trigger, w.Status)
	if err != nil {
		return err
	}
	for i := range w.Nodes {
		n := &w.Nodes[i]
		n.WorkflowID = w.ID
		if err := exec(ctx, s.q,
			`INSERT INTO workflow_nodes (id, workflow_id, agent_id, input_template, depends_on, approval_required)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			n.ID, n.WorkflowID, n.AgentID, n.InputTemplate, n.DependsOn, n.ApprovalRequired); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	var w models.Workflow
	err := s.q.QueryRow(ctx,
		`SELECT id, tenant_id, project_id, name, trigger, status, created_at, updated_at
		 FROM workflows WHERE id = $1`, id).
		Scan(&w.ID, &w.TenantID, &w.ProjectID, &w.Name, &w.Trigger, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	nodes, err := s.loadNodes(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	w.Nodes = nodes
	return &w, nil
}

func (s *PostgresStore) loadNodes(ctx context.Context, workflowID string) ([]models.WorkflowNode, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, workflow_id, agent_id, input_template, depends_on, approval_required
		 FROM workflow_nodes WHERE workflow_id = $1 ORDER BY id`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []models.WorkflowNode
	for rows.Next() {
		var n models.WorkflowNode
		if err := rows.Scan(&n.ID, &n.WorkflowID, &n.AgentID, &n.InputTemplate,
			&n.DependsOn, &n.ApprovalRequired); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *PostgresStore) ListWorkflows(ctx context.Context, tenantID string) ([]*models.Workflow, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, tenant_id, project_id, name, trigger, status, created_at, updated_at
		 FROM workflows WHERE tenant_id = $1 ORDER BY name`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Workflow
	for rows.Next() {
		var w models.Workflow
		if err := rows.Scan(&w.ID, &w.TenantID, &w.ProjectID, &w.Name, &w.Trigger,
			&w.Status, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, w := range out {
		nodes, err := s.loadNodes(ctx, w.ID)
		if err != nil {
			return nil, err
		}
		w.Nodes = nodes
	}
	return out, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, r *models.WorkflowRun, nodeRuns []*models.NodeRun) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	err := exec(ctx, s.q,
		`INSERT INTO workflow_runs (id, workflow_id, tenant_id, correlation_id, context, status, error, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.WorkflowID, r.TenantID, r.CorrelationID, r.Context, r.Status, r.Error, r.StartedAt, r.FinishedAt)
	if err != nil {
		return err
	}
	for _, nr := range nodeRuns {
		if nr.ID == "" {
			nr.ID = uuid.New().String()
		}
		nr.WorkflowRunID = r.ID
		if err := exec(ctx, s.q,
			`INSERT INTO node_runs (id, workflow_run_id, node_id, agent_id, resolved_input, output, status, error, started_at, finished_at, duration_ms)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			nr.ID, nr.WorkflowRunID, nr.NodeID, nr.AgentID, nr.ResolvedInput, nr.Output,
			nr.Status, nr.Error, nr.StartedAt, nr.FinishedAt, nr.DurationMs); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*models.WorkflowRun, error) {
	var r models.WorkflowRun
	err := s.q.QueryRow(ctx,
		`SELECT id, workflow_id, tenant_id, correlation_id, context, status, error, started_at, finished_at, created_at
		 FROM workflow_runs WHERE id = $1`, id).
		Scan(&r.ID, &r.WorkflowID, &r.TenantID, &r.CorrelationID, &r.Context,
			&r.Status, &r.Error, &r.StartedAt, &r.FinishedAt, &r.CreatedAt)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &r, nil
}

func (s *PostgresStore) UpdateRun(ctx context.Context, r *models.WorkflowRun) error {
	return exec(ctx, s.q,
		`UPDATE workflow_runs SET status = $1, error = $2, started_at = $3, finished_at = $4 WHERE id = $5`,
		r.Status, r.Error, r.StartedAt, r.FinishedAt, r.ID)
}

func (s *PostgresStore) ListNodeRuns(ctx context.Context, runID string) ([]*models.NodeRun, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, workflow_run_id, node_id, agent_id, resolved_input, output, status, error, started_at, finished_at, duration_ms
		 FROM node_runs WHERE workflow_run_id = $1 ORDER BY node_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.NodeRun
	for rows.Next() {
		var nr models.NodeRun
		if err := rows.Scan(&nr.ID, &nr.WorkflowRunID, &nr.NodeID, &nr.AgentID,
			&nr.ResolvedInput, &nr.Output, &nr.Status, &nr.Error,
			&nr.StartedAt, &nr.FinishedAt, &nr.DurationMs); err != nil {
			return nil, err
		}
		out = append(out, &nr)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateNodeRun(ctx context.Context, nr *models.NodeRun) error {
	return exec(ctx, s.q,
		`UPDATE node_runs SET resolved_input = $1, output = $2, status = $3, error = $4,
		 started_at = $5, finished_at = $6, duration_ms = $7 WHERE id = $8`,
		nr.ResolvedInput, nr.Output, nr.Status, nr.Error, nr.StartedAt, nr.FinishedAt, nr.DurationMs, nr.ID)
}

func (s *PostgresStore) CreateApproval(ctx context.Context, a *models.Approval) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return exec(ctx, s.q,
		`INSERT INTO approvals (id, workflow_run_id, node_id, status, requested_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.WorkflowRunID, a.NodeID, a.Status, a.RequestedAt)
}

func (s *PostgresStore) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	var a models.Approval
	err := s.q.QueryRow(ctx,
		`SELECT id, workflow_run_id, node_id, status, requested_at, responded_at, responded_by, notes
		 FROM approvals WHERE id = $1`, id).
		Scan(&a.ID, &a.WorkflowRunID, &a.NodeID, &a.Status, &a.RequestedAt,
			&a.RespondedAt, &a.RespondedBy, &a.Notes)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &a, nil
}

func (s *PostgresStore) ListApprovals(ctx context.Context, runID string) ([]*models.Approval, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, workflow_run_id, node_id, status, requested_at, responded_at, responded_by, notes
		 FROM approvals WHERE workflow_run_id = $1 ORDER BY requested_at`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Approval
	for rows.Next() {
		var a models.Approval
		if err := rows.Scan(&a.ID, &a.WorkflowRunID, &a.NodeID, &a.Status, &a.RequestedAt,
			&a.RespondedAt, &a.RespondedBy, &a.Notes); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateApproval(ctx context.Context, a *models.Approval) error {
	return exec(ctx, s.q,
		`UPDATE approvals SET status = $1, responded_at = $2, responded_by = $3, notes = $4 WHERE id = $5`,
		a.Status, a.RespondedAt, a.RespondedBy, a.Notes, a.ID)
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e *models.Event) error {
	return exec(ctx, s.q,
		`INSERT INTO events (id, subject, origin, correlation_id, payload, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Subject, e.Origin, e.CorrelationID, e.Payload, e.Timestamp)
}

// QueryEvents fetches newest-first events. Literal patterns hit the subject
// index directly; wildcard patterns narrow by the literal prefix in SQL and
// apply the structural match in Go.
func (s *PostgresStore) QueryEvents(ctx context.Context, pattern string, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows pgx.Rows
	var err error
	if pattern == "" || !strings.ContainsAny(pattern, "*>") {
		cond := `subject = $1`
		arg := pattern
		if pattern == "" {
			cond = `$1 = ''`
		}
		rows, err = s.q.Query(ctx,
			`SELECT id, subject, origin, correlation_id, payload, timestamp FROM events
			 WHERE `+cond+` ORDER BY timestamp DESC LIMIT $2`, arg, limit)
	} else {
		prefix := literalPrefix(pattern)
		rows, err = s.q.Query(ctx,
			`SELECT id, subject, origin, correlation_id, payload, timestamp FROM events
			 WHERE subject LIKE $1 ORDER BY timestamp DESC`, prefix+"%")
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.Subject, &e.Origin, &e.CorrelationID, &e.Payload, &e.Timestamp); err != nil {
			return nil, err
		}
		if pattern != "" && !bus.Match(pattern, e.Subject) {
			continue
		}
		out = append(out, &e)
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// literalPrefix returns the leading literal segments of a wildcard pattern,
// dot included, for SQL prefiltering.
func literalPrefix(pattern string) string {
	segs := strings.Split(pattern, ".")
	var lit []string
	for _, s := range segs {
		if s == "*" || s == ">" {
			break
		}
		lit = append(lit, s)
	}
	if len(lit) == 0 {
		return ""
	}
	return strings.Join(lit, ".") + "."
}

func exec(ctx context.Context, q querier, sql string, args ...any) error {
	_, err := q.Exec(ctx, sql, args...)
	return err
}

func wrapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}
