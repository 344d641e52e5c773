// Package runner drives workflow runs from pending to a terminal state. It
// recomputes the ready frontier from persisted state, executes ready nodes
// concurrently through the sandbox executor, parks runs on approval-gated
// nodes, and appends every transition to the event ledger.
package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/PerformanceSuite/CommandCenter-sub018/internal/dag"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/executor"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/ledger"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/logging"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/repository"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/template"
	"github.com/PerformanceSuite/CommandCenter-sub018/pkg/models"
)

// Runner schedules workflow runs.
type Runner struct {
	store     repository.Store
	exec      executor.Client
	ledger    *ledger.Ledger
	validator *dag.Validator
	logger    *logging.Logger
	tracer    trace.Tracer

	maxParallel int
	globalSem   chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	locks   map[string]*runLock
}

// runLock serializes Drive passes over one run. Two concurrent passes would
// both read the same pending frontier and invoke its nodes twice.
type runLock struct {
	sync.Mutex
	refs int
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithTracer enables span emission around run and node execution.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) { r.tracer = t }
}

// WithMaxParallel bounds concurrent node execution within one run.
func WithMaxParallel(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxParallel = n
		}
	}
}

// WithGlobalWorkers bounds concurrent sandbox invocations across all runs.
func WithGlobalWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.globalSem = make(chan struct{}, n)
		}
	}
}

// New creates a Runner. Defaults: 4 nodes per run, 16 sandbox invocations
// globally.
func New(store repository.Store, exec executor.Client, lg *ledger.Ledger, opts ...Option) *Runner {
	r := &Runner{
		store:       store,
		exec:        exec,
		ledger:      lg,
		validator:   dag.NewValidator(),
		logger:      logging.NewLogger(),
		maxParallel: 4,
		globalSem:   make(chan struct{}, 16),
		cancels:     make(map[string]context.CancelFunc),
		locks:       make(map[string]*runLock),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Trigger validates the workflow's DAG and creates a pending run with one
// pending NodeRun per node. It does not execute anything; call Drive to walk
// the run.
func (r *Runner) Trigger(ctx context.Context, workflowID string, runContext map[string]interface{}) (*models.WorkflowRun, error) {
	wf, err := r.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != models.WorkflowActive {
		return nil, fmt.Errorf("%w: workflow %s is %s and cannot be triggered", models.ErrInvalid, wf.ID, wf.Status)
	}

	// A cyclic graph never creates a run.
	if _, err := r.validator.Order(wf.Nodes); err != nil {
		return nil, err
	}

	run := &models.WorkflowRun{
		ID:            uuid.New().String(),
		WorkflowID:    wf.ID,
		TenantID:      wf.TenantID,
		CorrelationID: uuid.New().String(),
		Context:       runContext,
		Status:        models.RunPending,
		CreatedAt:     time.Now().UTC(),
	}
	nodeRuns := make([]*models.NodeRun, 0, len(wf.Nodes))
	for _, n := range wf.Nodes {
		nodeRuns = append(nodeRuns, &models.NodeRun{
			ID:            uuid.New().String(),
			WorkflowRunID: run.ID,
			NodeID:        n.ID,
			AgentID:       n.AgentID,
			Status:        models.NodePending,
		})
	}
	if err := r.store.CreateRun(ctx, run, nodeRuns); err != nil {
		return nil, err
	}

	r.publish(ctx, "hub.workflow.triggered", run.CorrelationID, map[string]interface{}{
		"workflowRunId": run.ID,
		"workflowId":    wf.ID,
	})
	return run, nil
}

// lockRun takes the per-run drive lock, creating it on first use. Locks are
// reference counted so finished runs do not accumulate entries.
func (r *Runner) lockRun(runID string) *runLock {
	r.mu.Lock()
	l := r.locks[runID]
	if l == nil {
		l = &runLock{}
		r.locks[runID] = l
	}
	l.refs++
	r.mu.Unlock()
	l.Lock()
	return l
}

func (r *Runner) unlockRun(runID string, l *runLock) {
	l.Unlock()
	r.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, runID)
	}
	r.mu.Unlock()
}

// Drive walks the run until it is terminal or parked on pending approvals.
// It is safe to call again after an approval decision or a process restart;
// scheduling state is recomputed from the store each pass. Concurrent calls
// for the same run serialize: the later caller waits, then re-reads state,
// so a node is never dispatched by two passes at once.
func (r *Runner) Drive(ctx context.Context, runID string) error {
	l := r.lockRun(runID)
	defer r.unlockRun(runID, l)

	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}

	wf, err := r.store.GetWorkflow(ctx, run.WorkflowID)
	if err != nil {
		return err
	}
	agents, err := r.loadAgents(ctx, wf)
	if err != nil {
		return err
	}

	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "run.drive",
			trace.WithAttributes(
				attribute.String("run.id", run.ID),
				attribute.String("workflow.id", wf.ID),
				attribute.Int("workflow.node_count", len(wf.Nodes)),
			))
		defer span.End()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.cancels[run.ID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.cancels, run.ID)
		r.mu.Unlock()
	}()

	if run.Status == models.RunPending {
		now := time.Now().UTC()
		run.Status = models.RunRunning
		run.StartedAt = &now
		if err := r.store.UpdateRun(ctx, run); err != nil {
			return err
		}
		r.publish(ctx, "hub.workflow.started", run.CorrelationID, map[string]interface{}{
			"workflowRunId": run.ID,
			"workflowId":    wf.ID,
		})
	}

	for {
		select {
		case <-runCtx.Done():
			return runCtx.Err()
		default:
		}

		run, err = r.store.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status.Terminal() {
			return nil
		}

		nodeRuns, err := r.store.ListNodeRuns(ctx, runID)
		if err != nil {
			return err
		}
		byNode := make(map[string]*models.NodeRun, len(nodeRuns))
		for _, nr := range nodeRuns {
			byNode[nr.NodeID] = nr
		}

		if r.propagateSkips(ctx, run, wf, byNode) {
			continue
		}

		frontier := readyNodes(wf, byNode)
		if len(frontier) == 0 {
			done, err := r.finalizeIfComplete(ctx, run, wf, byNode)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			// Nothing ready and not complete: the run is parked on
			// pending approvals until a decision re-drives it.
			return r.parkRun(ctx, run)
		}

		executable, parked, err := r.gateFrontier(ctx, run, wf, agents, frontier, byNode)
		if err != nil {
			return err
		}
		if len(executable) == 0 {
			if parked {
				return r.parkRun(ctx, run)
			}
			// A rejection marked nodes skipped; recompute.
			continue
		}

		if run.Status == models.RunWaitingApproval {
			run.Status = models.RunRunning
			if err := r.store.UpdateRun(ctx, run); err != nil {
				return err
			}
		}
		r.executeBatch(runCtx, run, agents, executable, byNode)
	}
}

// readyNodes returns nodes whose NodeRun is pending and whose dependencies
// all reached success.
func readyNodes(wf *models.Workflow, byNode map[string]*models.NodeRun) []*models.WorkflowNode {
	var out []*models.WorkflowNode
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		nr := byNode[n.ID]
		if nr == nil || nr.Status != models.NodePending {
			continue
		}
		ready := true
		for _, dep := range n.DependsOn {
			depRun := byNode[dep]
			if depRun == nil || depRun.Status != models.NodeSuccess {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// propagateSkips marks pending nodes whose dependencies ended failed or
// skipped. Returns true if any node changed.
func (r *Runner) propagateSkips(ctx context.Context, run *models.WorkflowRun, wf *models.Workflow, byNode map[string]*models.NodeRun) bool {
	changed := false
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		nr := byNode[n.ID]
		if nr == nil || nr.Status != models.NodePending {
			continue
		}
		for _, dep := range n.DependsOn {
			depRun := byNode[dep]
			if depRun == nil {
				continue
			}
			if depRun.Status == models.NodeFailed || depRun.Status == models.NodeSkipped {
				reason := fmt.Sprintf("dependency %s ended %s", dep, depRun.Status)
				r.skipNode(ctx, run, nr, reason)
				changed = true
				break
			}
		}
	}
	return changed
}

func (r *Runner) skipNode(ctx context.Context, run *models.WorkflowRun, nr *models.NodeRun, reason string) {
	now := time.Now().UTC()
	nr.Status = models.NodeSkipped
	nr.Error = &reason
	nr.FinishedAt = &now
	if err := r.store.UpdateNodeRun(ctx, nr); err != nil {
		r.logger.Error("failed to persist node skip", "node_run", nr.ID, "error", err)
		return
	}
	r.publish(ctx, "hub.workflow.node.skipped", run.CorrelationID, map[string]interface{}{
		"workflowRunId": run.ID,
		"nodeId":        nr.NodeID,
		"reason":        reason,
	})
}

// finalizeIfComplete declares the run terminal once every node has a terminal
// status. Returns true when the run finished.
func (r *Runner) finalizeIfComplete(ctx context.Context, run *models.WorkflowRun, wf *models.Workflow, byNode map[string]*models.NodeRun) (bool, error) {
	allTerminal := true
	var failed []string
	for _, nr := range byNode {
		if !nr.Status.Terminal() {
			allTerminal = false
			break
		}
		if nr.Status != models.NodeSuccess {
			failed = append(failed, fmt.Sprintf("%s (%s)", nr.NodeID, nr.Status))
		}
	}
	if !allTerminal {
		return false, nil
	}

	now := time.Now().UTC()
	run.FinishedAt = &now
	subject := "hub.workflow.completed"
	if len(failed) == 0 {
		run.Status = models.RunSuccess
	} else {
		sort.Strings(failed)
		run.Status = models.RunFailed
		msg := "nodes did not succeed: " + strings.Join(failed, ", ")
		run.Error = &msg
		subject = "hub.workflow.failed"
	}
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return false, err
	}

	payload := map[string]interface{}{
		"workflowRunId": run.ID,
		"workflowId":    wf.ID,
		"status":        string(run.Status),
	}
	if run.Error != nil {
		payload["error"] = *run.Error
	}
	r.publish(ctx, subject, run.CorrelationID, payload)
	r.logger.Info("workflow run finished",
		"run_id", run.ID, "workflow_id", wf.ID, "status", run.Status)
	return true, nil
}

// parkRun moves a running run back to waiting_approval when a pass ends with
// pending approvals and nothing left to execute. Approving one of several
// gated nodes sets the run running; once the approved work drains, the run
// must read as waiting on the remaining decisions again.
func (r *Runner) parkRun(ctx context.Context, run *models.WorkflowRun) error {
	return r.store.Atomic(ctx, func(tx repository.Store) error {
		current, err := tx.GetRun(ctx, run.ID)
		if err != nil {
			return err
		}
		if current.Status != models.RunRunning {
			return nil
		}
		current.Status = models.RunWaitingApproval
		if err := tx.UpdateRun(ctx, current); err != nil {
			return err
		}
		run.Status = current.Status
		return nil
	})
}

// executeBatch runs the executable frontier nodes concurrently, bounded by
// the per-run limit and the global sandbox worker pool.
func (r *Runner) executeBatch(ctx context.Context, run *models.WorkflowRun, agents map[string]*models.Agent, nodes []*models.WorkflowNode, byNode map[string]*models.NodeRun) {
	// Scope is snapshotted before the batch starts. Nodes in the same batch
	// can never depend on each other, so concurrent sibling results are
	// irrelevant to resolution.
	scope := template.Scope{Context: run.Context, Nodes: map[string]template.NodeScope{}}
	for id, nr := range byNode {
		if nr.Status == models.NodeSuccess {
			scope.Nodes[id] = template.NodeScope{Output: nr.Output}
		}
	}

	sem := make(chan struct{}, r.maxParallel)
	var wg sync.WaitGroup

	for _, node := range nodes {
		wg.Add(1)
		sem <- struct{}{}
		go func(n *models.WorkflowNode, nr *models.NodeRun) {
			defer wg.Done()
			defer func() { <-sem }()
			r.globalSem <- struct{}{}
			defer func() { <-r.globalSem }()
			r.executeNode(ctx, run, n, agents[n.AgentID], nr, scope)
		}(node, byNode[node.ID])
	}
	wg.Wait()
}

// executeNode resolves the node's input, invokes the sandbox, and records the
// outcome. Failures are captured on the NodeRun and never returned; dependent
// scheduling reacts to the recorded status.
func (r *Runner) executeNode(ctx context.Context, run *models.WorkflowRun, node *models.WorkflowNode, agent *models.Agent, nr *models.NodeRun, scope template.Scope) {
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "run.node",
			trace.WithAttributes(
				attribute.String("run.id", run.ID),
				attribute.String("node.id", node.ID),
				attribute.String("agent.id", node.AgentID),
			))
		defer span.End()
	}

	start := time.Now().UTC()
	started, err := r.startNode(ctx, nr, start)
	if err != nil {
		r.logger.Error("failed to persist node start", "node_run", nr.ID, "error", err)
		return
	}
	if !started {
		return
	}
	r.publish(ctx, "hub.workflow.node.started", run.CorrelationID, map[string]interface{}{
		"workflowRunId": run.ID,
		"nodeId":        node.ID,
		"agentId":       node.AgentID,
	})

	resolved, err := template.Resolve(node.InputTemplate, scope)
	if err != nil {
		r.failNode(ctx, run, nr, err)
		return
	}
	nr.ResolvedInput = resolved

	inv, err := r.exec.Invoke(ctx, node.AgentID, resolved)
	switch {
	case err != nil:
		r.failNode(ctx, run, nr, &models.ExecutionError{AgentID: node.AgentID, ExitCode: -1, Message: err.Error()})
		return
	case inv.ExitCode != 0:
		r.failNode(ctx, run, nr, &models.ExecutionError{AgentID: node.AgentID, ExitCode: inv.ExitCode})
		return
	}
	if err := executor.ValidateOutput(agent, inv.Output); err != nil {
		r.failNode(ctx, run, nr, err)
		return
	}

	end := time.Now().UTC()
	nr.Status = models.NodeSuccess
	nr.Output = inv.Output
	nr.FinishedAt = &end
	nr.DurationMs = inv.DurationMs
	if nr.DurationMs == 0 {
		nr.DurationMs = end.Sub(start).Milliseconds()
	}
	r.recordNodeResult(ctx, run, nr)
	r.publish(ctx, "hub.workflow.node.completed", run.CorrelationID, map[string]interface{}{
		"workflowRunId": run.ID,
		"nodeId":        node.ID,
		"durationMs":    nr.DurationMs,
	})
}

func (r *Runner) failNode(ctx context.Context, run *models.WorkflowRun, nr *models.NodeRun, cause error) {
	now := time.Now().UTC()
	msg := cause.Error()
	nr.Status = models.NodeFailed
	nr.Error = &msg
	nr.FinishedAt = &now
	if nr.StartedAt != nil {
		nr.DurationMs = now.Sub(*nr.StartedAt).Milliseconds()
	}
	r.recordNodeResult(ctx, run, nr)
	r.publish(ctx, "hub.workflow.node.failed", run.CorrelationID, map[string]interface{}{
		"workflowRunId": run.ID,
		"nodeId":        nr.NodeID,
		"error":         msg,
	})
	r.logger.Warn("node run failed", "run_id", run.ID, "node_id", nr.NodeID, "error", msg)
}

// startNode transitions a node run to running only if the stored record is
// still pending. A cancellation that lands between batch dispatch and node
// start has already skipped the node; that terminal record must stand.
func (r *Runner) startNode(ctx context.Context, nr *models.NodeRun, start time.Time) (bool, error) {
	started := false
	err := r.store.Atomic(ctx, func(tx repository.Store) error {
		stored, err := tx.ListNodeRuns(ctx, nr.WorkflowRunID)
		if err != nil {
			return err
		}
		for _, s := range stored {
			if s.ID == nr.ID && s.Status != models.NodePending {
				return nil
			}
		}
		nr.Status = models.NodeRunning
		nr.StartedAt = &start
		started = true
		return tx.UpdateNodeRun(ctx, nr)
	})
	return started, err
}

// recordNodeResult persists a node outcome. A terminal run still records the
// result (a cancelled run's last invocation may complete out-of-band) but the
// drive loop no longer treats it as scheduling input.
func (r *Runner) recordNodeResult(ctx context.Context, run *models.WorkflowRun, nr *models.NodeRun) {
	err := r.store.Atomic(ctx, func(tx repository.Store) error {
		current, err := tx.GetRun(ctx, run.ID)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			stored, err := tx.ListNodeRuns(ctx, run.ID)
			if err != nil {
				return err
			}
			for _, s := range stored {
				// A cancellation already skipped this node; keep the
				// terminal record it has.
				if s.ID == nr.ID && s.Status.Terminal() {
					return nil
				}
			}
		}
		return tx.UpdateNodeRun(ctx, nr)
	})
	if err != nil {
		r.logger.Error("failed to persist node result", "node_run", nr.ID, "error", err)
	}
}

func (r *Runner) loadAgents(ctx context.Context, wf *models.Workflow) (map[string]*models.Agent, error) {
	agents := make(map[string]*models.Agent)
	for _, n := range wf.Nodes {
		if _, ok := agents[n.AgentID]; ok {
			continue
		}
		a, err := r.store.GetAgent(ctx, n.AgentID)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", n.AgentID, err)
		}
		agents[n.AgentID] = a
	}
	return agents, nil
}

func (r *Runner) publish(ctx context.Context, subject, correlationID string, payload map[string]interface{}) {
	if r.ledger == nil {
		return
	}
	if _, err := r.ledger.Publish(ctx, subject, payload, correlationID); err != nil {
		r.logger.Error("failed to append event", "subject", subject, "error", err)
	}
}
