package temporal

import (
	"log"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// RunAgentTurnActivityFunc is the function signature StartWorker registers
// under RunAgentTurnActivityName; the concrete implementation lives in
// cmd/hiveforge, which owns the agent.Runner's full collaborator set (LLM
// client, tool registry, rate limiter, policy gate) that this package must
// not depend on.
type RunAgentTurnActivityFunc func(ctx activity.Context, req AgentTurnRequest) (AgentTurnResult, error)

// StartWorker connects to Temporal and starts the HiveForge task queue
// worker, generalised from the teacher's StartWorker (chum-task-queue,
// CortexAgentWorkflow/DispatcherWorkflow/ContinuousLearnerWorkflow) down to
// the single AgentTurnWorkflow the scheduler dispatches (§2.2, §4.9c).
func StartWorker(hostPort, taskQueue string, runAgentTurn RunAgentTurnActivityFunc) error {
	c, err := client.Dial(client.Options{
		HostPort: hostPort,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	w := worker.New(c, taskQueue, worker.Options{})

	w.RegisterWorkflow(AgentTurnWorkflow)
	w.RegisterActivityWithOptions(runAgentTurn, activity.RegisterOptions{Name: RunAgentTurnActivityName})

	log.Printf("temporal worker started on task queue %q", taskQueue)
	return w.Run(worker.InterruptCh())
}
