package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PerformanceSuite/CommandCenter-sub018/internal/repository"
	"github.com/PerformanceSuite/CommandCenter-sub018/pkg/models"
)

// gateFrontier splits the ready frontier into nodes that may execute now and
// nodes held behind approvals. Requesting an approval parks the run in
// waiting_approval; unrelated ready siblings still execute.
func (r *Runner) gateFrontier(ctx context.Context, run *models.WorkflowRun, wf *models.Workflow, agents map[string]*models.Agent, frontier []*models.WorkflowNode, byNode map[string]*models.NodeRun) (executable []*models.WorkflowNode, parked bool, err error) {
	approvals, err := r.store.ListApprovals(ctx, run.ID)
	if err != nil {
		return nil, false, err
	}
	byNodeApproval := make(map[string]*models.Approval, len(approvals))
	for _, a := range approvals {
		byNodeApproval[a.NodeID] = a
	}

	for _, node := range frontier {
		if !node.EffectiveApprovalRequired(agents[node.AgentID]) {
			executable = append(executable, node)
			continue
		}
		ap := byNodeApproval[node.ID]
		switch {
		case ap == nil:
			if err := r.requestApproval(ctx, run, node); err != nil {
				return nil, false, err
			}
			parked = true
		case ap.Status == models.ApprovalApproved:
			executable = append(executable, node)
		case ap.Status == models.ApprovalRejected:
			// Decide handles rejection transitions; this only fires if a
			// crash interrupted it mid-flight.
			r.skipNode(ctx, run, byNode[node.ID], fmt.Sprintf("approval for node %s was rejected", node.ID))
		default:
			parked = true
		}
	}
	return executable, parked, nil
}

// requestApproval creates the pending approval and parks the run, committed
// together so a restart resumes from a consistent gate.
func (r *Runner) requestApproval(ctx context.Context, run *models.WorkflowRun, node *models.WorkflowNode) error {
	approval := &models.Approval{
		ID:            uuid.New().String(),
		WorkflowRunID: run.ID,
		NodeID:        node.ID,
		Status:        models.ApprovalPending,
		RequestedAt:   time.Now().UTC(),
	}
	err := r.store.Atomic(ctx, func(tx repository.Store) error {
		if err := tx.CreateApproval(ctx, approval); err != nil {
			return err
		}
		current, err := tx.GetRun(ctx, run.ID)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return models.ErrRunTerminal
		}
		if current.Status != models.RunWaitingApproval {
			current.Status = models.RunWaitingApproval
			if err := tx.UpdateRun(ctx, current); err != nil {
				return err
			}
		}
		run.Status = current.Status
		return nil
	})
	if err != nil {
		return err
	}

	r.publish(ctx, "hub.approval.requested", run.CorrelationID, map[string]interface{}{
		"approvalId":    approval.ID,
		"workflowRunId": run.ID,
		"nodeId":        node.ID,
		"agentId":       node.AgentID,
	})
	r.logger.Info("approval requested", "run_id", run.ID, "node_id", node.ID, "approval_id", approval.ID)
	return nil
}

// Decide resolves a pending approval exactly once. Approval moves the run
// back to running so a subsequent Drive executes the gated node; rejection
// skips the node and its dependents and fails the run, all in one
// transaction. A second decision returns models.ErrApprovalConflict.
func (r *Runner) Decide(ctx context.Context, approvalID string, decision models.ApprovalStatus, respondedBy, notes string) (*models.Approval, error) {
	if decision != models.ApprovalApproved && decision != models.ApprovalRejected {
		return nil, fmt.Errorf("%w: decision must be %s or %s, got %q",
			models.ErrInvalid, models.ApprovalApproved, models.ApprovalRejected, decision)
	}

	var (
		approval      *models.Approval
		run           *models.WorkflowRun
		skippedNodes  []string
		failedMessage string
	)
	err := r.store.Atomic(ctx, func(tx repository.Store) error {
		a, err := tx.GetApproval(ctx, approvalID)
		if err != nil {
			return err
		}
		if a.Status.Resolved() {
			return models.ErrApprovalConflict
		}

		current, err := tx.GetRun(ctx, a.WorkflowRunID)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return models.ErrRunTerminal
		}

		now := time.Now().UTC()
		a.Status = decision
		a.RespondedAt = &now
		if respondedBy != "" {
			a.RespondedBy = &respondedBy
		}
		if notes != "" {
			a.Notes = &notes
		}
		if err := tx.UpdateApproval(ctx, a); err != nil {
			return err
		}

		if decision == models.ApprovalApproved {
			current.Status = models.RunRunning
			if err := tx.UpdateRun(ctx, current); err != nil {
				return err
			}
		} else {
			skippedNodes, err = rejectNode(ctx, tx, current, a.NodeID)
			if err != nil {
				return err
			}
			failedMessage = fmt.Sprintf("approval rejected for node %s", a.NodeID)
			current.Status = models.RunFailed
			current.Error = &failedMessage
			current.FinishedAt = &now
			if err := tx.UpdateRun(ctx, current); err != nil {
				return err
			}
		}

		approval = a
		run = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.publish(ctx, "hub.approval.decided", run.CorrelationID, map[string]interface{}{
		"approvalId":    approval.ID,
		"workflowRunId": run.ID,
		"nodeId":        approval.NodeID,
		"decision":      string(decision),
		"respondedBy":   respondedBy,
	})
	for _, nodeID := range skippedNodes {
		r.publish(ctx, "hub.workflow.node.skipped", run.CorrelationID, map[string]interface{}{
			"workflowRunId": run.ID,
			"nodeId":        nodeID,
			"reason":        failedMessage,
		})
	}
	if decision == models.ApprovalRejected {
		r.publish(ctx, "hub.workflow.failed", run.CorrelationID, map[string]interface{}{
			"workflowRunId": run.ID,
			"workflowId":    run.WorkflowID,
			"status":        string(models.RunFailed),
			"error":         failedMessage,
		})
	}
	r.logger.Info("approval decided",
		"approval_id", approval.ID, "run_id", run.ID, "decision", decision, "responded_by", respondedBy)
	return approval, nil
}

// rejectNode skips the rejected node and every pending transitive dependent
// inside the decision transaction. Returns the skipped node ids.
func rejectNode(ctx context.Context, tx repository.Store, run *models.WorkflowRun, nodeID string) ([]string, error) {
	wf, err := tx.GetWorkflow(ctx, run.WorkflowID)
	if err != nil {
		return nil, err
	}
	nodeRuns, err := tx.ListNodeRuns(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	byNode := make(map[string]*models.NodeRun, len(nodeRuns))
	for _, nr := range nodeRuns {
		byNode[nr.NodeID] = nr
	}

	dependents := make(map[string][]string)
	for _, n := range wf.Nodes {
		for _, dep := range n.DependsOn {
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	toSkip := []string{nodeID}
	seen := map[string]bool{nodeID: true}
	for i := 0; i < len(toSkip); i++ {
		for _, next := range dependents[toSkip[i]] {
			if !seen[next] {
				seen[next] = true
				toSkip = append(toSkip, next)
			}
		}
	}

	now := time.Now().UTC()
	var skipped []string
	for _, id := range toSkip {
		nr := byNode[id]
		if nr == nil || nr.Status != models.NodePending {
			continue
		}
		reason := fmt.Sprintf("approval rejected for node %s", nodeID)
		nr.Status = models.NodeSkipped
		nr.Error = &reason
		nr.FinishedAt = &now
		if err := tx.UpdateNodeRun(ctx, nr); err != nil {
			return nil, err
		}
		skipped = append(skipped, id)
	}
	return skipped, nil
}

// Cancel fails a non-terminal run, skips its pending node runs, and aborts
// in-flight sandbox invocations by cancelling the run's drive context. A
// sandbox invocation that completes anyway has its result recorded but is
// ignored for scheduling.
func (r *Runner) Cancel(ctx context.Context, runID, reason string) error {
	msg := "cancelled"
	if reason != "" {
		msg = "cancelled: " + reason
	}

	var (
		run          *models.WorkflowRun
		skippedNodes []string
	)
	err := r.store.Atomic(ctx, func(tx repository.Store) error {
		current, err := tx.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return models.ErrRunTerminal
		}

		now := time.Now().UTC()
		current.Status = models.RunFailed
		current.Error = &msg
		current.FinishedAt = &now
		if err := tx.UpdateRun(ctx, current); err != nil {
			return err
		}

		nodeRuns, err := tx.ListNodeRuns(ctx, runID)
		if err != nil {
			return err
		}
		for _, nr := range nodeRuns {
			if nr.Status != models.NodePending {
				continue
			}
			nr.Status = models.NodeSkipped
			nr.Error = &msg
			nr.FinishedAt = &now
			if err := tx.UpdateNodeRun(ctx, nr); err != nil {
				return err
			}
			skippedNodes = append(skippedNodes, nr.NodeID)
		}
		run = current
		return nil
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	cancel := r.cancels[runID]
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	for _, nodeID := range skippedNodes {
		r.publish(ctx, "hub.workflow.node.skipped", run.CorrelationID, map[string]interface{}{
			"workflowRunId": run.ID,
			"nodeId":        nodeID,
			"reason":        msg,
		})
	}
	r.publish(ctx, "hub.workflow.cancelled", run.CorrelationID, map[string]interface{}{
		"workflowRunId": run.ID,
		"workflowId":    run.WorkflowID,
		"status":        string(models.RunFailed),
		"error":         msg,
	})
	r.logger.Info("workflow run cancelled", "run_id", runID, "reason", reason)
	return nil
}
