package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/PerformanceSuite/CommandCenter-sub018/internal/bus"
	"github.com/PerformanceSuite/CommandCenter-sub018/pkg/models"
)

// MemoryStore is an in-memory Store used by the engine tests and for
// dependency-free local runs. A single mutex guards all maps; Atomic holds it
// for the whole callback so composed transitions observe a consistent view.
type MemoryStore struct {
	mu sync.Mutex

	tenants   map[string]*models.Tenant
	agents    map[string]*models.Agent
	workflows map[string]*models.Workflow
	runs      map[string]*models.WorkflowRun
	nodeRuns  map[string]*models.NodeRun
	approvals map[string]*models.Approval
	events    []*models.Event
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:   make(map[string]*models.Tenant),
		agents:    make(map[string]*models.Agent),
		workflows: make(map[string]*models.Workflow),
		runs:      make(map[string]*models.WorkflowRun),
		nodeRuns:  make(map[string]*models.NodeRun),
		approvals: make(map[string]*models.Approval),
	}
}

// memView is the unlocked view handed to Atomic callbacks. Its methods
// mutate the parent store directly while the parent's mutex is held.
type memView struct {
	s *MemoryStore
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Atomic holds the store lock for the duration of fn.
func (s *MemoryStore) Atomic(ctx context.Context, fn func(Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memView{s: s})
}

func (s *MemoryStore) locked(fn func(v *memView) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memView{s: s})
}

func (s *MemoryStore) CreateTenant(ctx context.Context, t *models.Tenant) error {
	return s.locked(func(v *memView) error { return v.CreateTenant(ctx, t) })
}

func (s *MemoryStore) GetTenantByDomain(ctx context.Context, domain string) (t *models.Tenant, err error) {
	err = s.locked(func(v *memView) error { t, err = v.GetTenantByDomain(ctx, domain); return err })
	return
}

func (s *MemoryStore) CreateAgent(ctx context.Context, a *models.Agent) error {
	return s.locked(func(v *memView) error { return v.CreateAgent(ctx, a) })
}

func (s *MemoryStore) GetAgent(ctx context.Context, id string) (a *models.Agent, err error) {
	err = s.locked(func(v *memView) error { a, err = v.GetAgent(ctx, id); return err })
	return
}

func (s *MemoryStore) ListAgents(ctx context.Context, tenantID string) (as []*models.Agent, err error) {
	err = s.locked(func(v *memView) error { as, err = v.ListAgents(ctx, tenantID); return err })
	return
}

func (s *MemoryStore) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	return s.locked(func(v *memView) error { return v.CreateWorkflow(ctx, w) })
}

func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (w *models.Workflow, err error) {
	err = s.locked(func(v *memView) error { w, err = v.GetWorkflow(ctx, id); return err })
	return
}

func (s *MemoryStore) ListWorkflows(ctx context.Context, tenantID string) (ws []*models.Workflow, err error) {
	err = s.locked(func(v *memView) error { ws, err = v.ListWorkflows(ctx, tenantID); return err })
	return
}

func (s *MemoryStore) CreateRun(ctx context.Context, r *models.WorkflowRun, nrs []*models.NodeRun) error {
	return s.locked(func(v *memView) error { return v.CreateRun(ctx, r, nrs) })
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (r *models.WorkflowRun, err error) {
	err = s.locked(func(v *memView) error { r, err = v.GetRun(ctx, id); return err })
	return
}

func (s *MemoryStore) UpdateRun(ctx context.Context, r *models.WorkflowRun) error {
	return s.locked(func(v *memView) error { return v.UpdateRun(ctx, r) })
}

func (s *MemoryStore) ListNodeRuns(ctx context.Context, runID string) (nrs []*models.NodeRun, err error) {
	err = s.locked(func(v *memView) error { nrs, err = v.ListNodeRuns(ctx, runID); return err })
	return
}

func (s *MemoryStore) UpdateNodeRun(ctx context.Context, nr *models.NodeRun) error {
	return s.locked(func(v *memView) error { return v.UpdateNodeRun(ctx, nr) })
}

func (s *MemoryStore) CreateApproval(ctx context.Context, a *models.Approval) error {
	return s.locked(func(v *memView) error { return v.CreateApproval(ctx, a) })
}

func (s *MemoryStore) GetApproval(ctx context.Context, id string) (a *models.Approval, err error) {
	err = s.locked(func(v *memView) error { a, err = v.GetApproval(ctx, id); return err })
	return
}

func (s *MemoryStore) ListApprovals(ctx context.Context, runID string) (as []*models.Approval, err error) {
	err = s.locked(func(v *memView) error { as, err = v.ListApprovals(ctx, runID); return err })
	return
}

func (s *MemoryStore) UpdateApproval(ctx context.Context, a *models.Approval) error {
	return s.locked(func(v *memView) error { return v.UpdateApproval(ctx, a) })
}

func (s *MemoryStore) AppendEvent(ctx context.Context, e *models.Event) error {
	return s.locked(func(v *memView) error { return v.AppendEvent(ctx, e) })
}

func (s *MemoryStore) QueryEvents(ctx context.Context, pattern string, limit int) (es []*models.Event, err error) {
	err = s.locked(func(v *memView) error { es, err = v.QueryEvents(ctx, pattern, limit); return err })
	return
}

// --- unlocked implementations ---

func (v *memView) Ping(ctx context.Context) error { return nil }

func (v *memView) Atomic(ctx context.Context, fn func(Store) error) error {
	// Already inside the lock; just run the callback on the same view.
	return fn(v)
}

func (v *memView) CreateTenant(_ context.Context, t *models.Tenant) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	cp := *t
	v.s.tenants[t.ID] = &cp
	return nil
}

func (v *memView) GetTenantByDomain(_ context.Context, domain string) (*models.Tenant, error) {
	for _, t := range v.s.tenants {
		if t.Domain == domain {
			cp := *t
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (v *memView) CreateAgent(_ context.Context, a *models.Agent) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	cp := *a
	v.s.agents[a.ID] = &cp
	return nil
}

func (v *memView) GetAgent(_ context.Context, id string) (*models.Agent, error) {
	a, ok := v.s.agents[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (v *memView) ListAgents(_ context.Context, tenantID string) ([]*models.Agent, error) {
	var out []*models.Agent
	for _, a := range v.s.agents {
		if tenantID == "" || a.TenantID == tenantID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (v *memView) CreateWorkflow(_ context.Context, w *models.Workflow) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	for i := range w.Nodes {
		w.Nodes[i].WorkflowID = w.ID
	}
	cp := *w
	cp.Nodes = append([]models.WorkflowNode(nil), w.Nodes...)
	v.s.workflows[w.ID] = &cp
	return nil
}

func (v *memView) GetWorkflow(_ context.Context, id string) (*models.Workflow, error) {
	w, ok := v.s.workflows[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *w
	cp.Nodes = append([]models.WorkflowNode(nil), w.Nodes...)
	return &cp, nil
}

func (v *memView) ListWorkflows(_ context.Context, tenantID string) ([]*models.Workflow, error) {
	var out []*models.Workflow
	for _, w := range v.s.workflows {
		if tenantID == "" || w.TenantID == tenantID {
			cp := *w
			cp.Nodes = append([]models.WorkflowNode(nil), w.Nodes...)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (v *memView) CreateRun(_ context.Context, r *models.WorkflowRun, nrs []*models.NodeRun) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	cp := *r
	v.s.runs[r.ID] = &cp
	for _, nr := range nrs {
		if nr.ID == "" {
			nr.ID = uuid.New().String()
		}
		nr.WorkflowRunID = r.ID
		ncp := *nr
		v.s.nodeRuns[nr.ID] = &ncp
	}
	return nil
}

func (v *memView) GetRun(_ context.Context, id string) (*models.WorkflowRun, error) {
	r, ok := v.s.runs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (v *memView) UpdateRun(_ context.Context, r *models.WorkflowRun) error {
	if _, ok := v.s.runs[r.ID]; !ok {
		return models.ErrNotFound
	}
	cp := *r
	v.s.runs[r.ID] = &cp
	return nil
}

func (v *memView) ListNodeRuns(_ context.Context, runID string) ([]*models.NodeRun, error) {
	var out []*models.NodeRun
	for _, nr := range v.s.nodeRuns {
		if nr.WorkflowRunID == runID {
			cp := *nr
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

func (v *memView) UpdateNodeRun(_ context.Context, nr *models.NodeRun) error {
	if _, ok := v.s.nodeRuns[nr.ID]; !ok {
		return models.ErrNotFound
	}
	cp := *nr
	v.s.nodeRuns[nr.ID] = &cp
	return nil
}

func (v *memView) CreateApproval(_ context.Context, a *models.Approval) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	cp := *a
	v.s.approvals[a.ID] = &cp
	return nil
}

func (v *memView) GetApproval(_ context.Context, id string) (*models.Approval, error) {
	a, ok := v.s.approvals[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (v *memView) ListApprovals(_ context.Context, runID string) ([]*models.Approval, error) {
	var out []*models.Approval
	for _, a := range v.s.approvals {
		if a.WorkflowRunID == runID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (v *memView) UpdateApproval(_ context.Context, a *models.Approval) error {
	if _, ok := v.s.approvals[a.ID]; !ok {
		return models.ErrNotFound
	}
	cp := *a
	v.s.approvals[a.ID] = &cp
	return nil
}

func (v *memView) AppendEvent(_ context.Context, e *models.Event) error {
	cp := *e
	v.s.events = append(v.s.events, &cp)
	return nil
}

func (v *memView) QueryEvents(_ context.Context, pattern string, limit int) ([]*models.Event, error) {
	var out []*models.Event
	for i := len(v.s.events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		e := v.s.events[i]
		if pattern == "" || bus.Match(pattern, e.Subject) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
