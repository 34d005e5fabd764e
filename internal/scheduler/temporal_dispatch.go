package scheduler

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"

	"github.com/k-iijima/hiveforge/internal/temporal"
)

// temporalClient is the narrow slice of client.Client the dispatcher needs,
// matching the teacher's scheduler.go temporalClient interface
// (ExecuteWorkflow/ListWorkflow/TerminateWorkflow) so it can be faked in
// tests.
type temporalClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	TerminateWorkflow(ctx context.Context, workflowID string, runID string, reason string, details ...interface{}) error
}

// TemporalDispatcher implements Dispatcher by starting AgentTurnWorkflow
// executions, generalised from the teacher's bead-dispatch to Task-dispatch
// (§2.2).
type TemporalDispatcher struct {
	ctx       context.Context
	tc        temporalClient
	taskQueue string
}

// NewTemporalDispatcher returns a Dispatcher bound to tc. ctx is used for
// every Temporal RPC the dispatcher issues (ExecuteWorkflow/
// TerminateWorkflow); callers typically pass a long-lived background
// context derived from the scheduler's own lifecycle.
func NewTemporalDispatcher(ctx context.Context, tc temporalClient, taskQueue string) *TemporalDispatcher {
	return &TemporalDispatcher{ctx: ctx, tc: tc, taskQueue: taskQueue}
}

// Dispatch starts an AgentTurnWorkflow for the given TaskContext and
// returns its workflow ID.
func (d *TemporalDispatcher) Dispatch(tctx TaskContext, role string) (string, error) {
	workflowID := fmt.Sprintf("task-%s", tctx.CurrentTaskID)

	predecessors := make(map[string]temporal.PredecessorSummary, len(tctx.PredecessorResults))
	for id, r := range tctx.PredecessorResults {
		predecessors[id] = temporal.PredecessorSummary{Goal: r.Goal, Output: r.Output, Artifacts: r.Artifacts}
	}

	req := temporal.AgentTurnRequest{
		RunID:              tctx.RunID,
		TaskID:             tctx.CurrentTaskID,
		Role:               role,
		OriginalGoal:       tctx.OriginalGoal,
		PredecessorResults: predecessors,
	}

	opts := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: d.taskQueue,
	}
	if _, err := d.tc.ExecuteWorkflow(d.ctx, opts, temporal.AgentTurnWorkflow, req); err != nil {
		return "", fmt.Errorf("scheduler: dispatch: execute workflow: %w", err)
	}
	return workflowID, nil
}

// Terminate cancels an in-flight Task's workflow (§4.9e).
func (d *TemporalDispatcher) Terminate(workflowID, reason string) error {
	if err := d.tc.TerminateWorkflow(d.ctx, workflowID, "", reason); err != nil {
		return fmt.Errorf("scheduler: terminate workflow %s: %w", workflowID, err)
	}
	return nil
}
