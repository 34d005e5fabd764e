package temporal

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// AgentTurnRequest starts one Task's dispatch to an Agent Runner as a
// durable workflow execution (SPEC_FULL.md §2.2, §4.9c), generalised from
// CortexAgentWorkflow's TaskRequest/PLAN-EXECUTE-REVIEW loop down to the
// single turn-loop Agent Runner drives itself.
type AgentTurnRequest struct {
	RunID               string                        `json:"run_id"`
	TaskID              string                        `json:"task_id"`
	Role                string                        `json:"role"`
	OriginalGoal        string                        `json:"original_goal"`
	PredecessorResults  map[string]PredecessorSummary `json:"predecessor_results"`
}

// PredecessorSummary mirrors scheduler.PredecessorResult for the workflow
// boundary, which cannot import the scheduler package without creating an
// import cycle (scheduler depends on temporal, not the reverse).
type PredecessorSummary struct {
	Goal      string   `json:"goal"`
	Output    string   `json:"output"`
	Artifacts []string `json:"artifacts"`
}

// AgentTurnResult is what the workflow returns once the Agent Runner's
// loop reaches a terminal outcome.
type AgentTurnResult struct {
	Success      bool   `json:"success"`
	Output       string `json:"output"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// AgentTurnWorkflow runs a single Task's Agent Runner turn loop as a
// Temporal workflow, giving the scheduler crash-recoverable in-flight task
// tracking (§2.2) and a TerminateWorkflow hook for emergency_stop (§4.9e).
func AgentTurnWorkflow(ctx workflow.Context, req AgentTurnRequest) (AgentTurnResult, error) {
	opts := workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	ctx = workflow.WithActivityOptions(ctx, opts)

	var result AgentTurnResult
	err := workflow.ExecuteActivity(ctx, RunAgentTurnActivityName, req).Get(ctx, &result)
	if err != nil {
		return AgentTurnResult{Success: false, ErrorMessage: err.Error()}, err
	}
	return result, nil
}

// RunAgentTurnActivityName is the registered name of the activity
// AgentTurnWorkflow invokes. The activity implementation itself lives in
// the process that hosts the worker (cmd/hiveforge), since it needs the
// agent.Runner's full collaborator set (LLM client, tool registry, rate
// limiter, policy gate) which this package must not depend on.
const RunAgentTurnActivityName = "RunAgentTurnActivity"
