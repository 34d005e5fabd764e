package scheduler

import (
	"fmt"
	"sync"

	"github.com/k-iijima/hiveforge/internal/event"
	"github.com/k-iijima/hiveforge/internal/projection"
)

// PredecessorResult is what a completed Task contributes to the
// TaskContext handed to its dependents (§4.9c).
type PredecessorResult struct {
	Goal      string
	Output    string
	Artifacts []string
}

// TaskContext is assembled per dispatched Task.
type TaskContext struct {
	OriginalGoal        string
	RunID               string
	CurrentTaskID       string
	PredecessorResults  map[string]PredecessorResult
}

// Dispatcher starts a Task as a durable workflow execution and can
// terminate an in-flight one. TemporalDispatcher (temporal_dispatch.go) is the
// production implementation; tests use a fake.
type Dispatcher interface {
	Dispatch(ctx TaskContext, role string) (workflowID string, err error)
	Terminate(workflowID, reason string) error
}

// RunManager drives one Run through task planning and dispatch (§4.9b,c),
// wired to a TaskGraph and a Dispatcher. One RunManager instance exists per
// active Run; the scheduler's tick loop advances all of them.
type RunManager struct {
	vault      Vault
	dispatcher Dispatcher
	watchdog   *SilenceWatchdog

	mu         sync.Mutex
	runID      string
	streamID   string
	graph      *TaskGraph
	completed  map[string]bool
	blocked    map[string]bool
	dispatched map[string]string // taskID -> workflowID
	results    map[string]PredecessorResult
	goal       string
}

// NewRunManager starts a Run: emits run.started and one task.created per
// task, registers it with the watchdog, and returns a manager ready to plan
// tasks.
func NewRunManager(vault Vault, dispatcher Dispatcher, watchdog *SilenceWatchdog, streamID, goal string, tasks []TaskNode) (*RunManager, error) {
	runID := string(event.NewID())
	e := event.New(event.TypeRunStarted, "scheduler", event.RunStartedPayload{Goal: goal}).WithRun(event.ID(runID))
	if _, err := vault.Append(streamID, e); err != nil {
		return nil, fmt.Errorf("scheduler: start run: %w", err)
	}
	for _, t := range tasks {
		tc := event.New(event.TypeTaskCreated, "scheduler", event.TaskCreatedPayload{Title: t.ID, DependsOn: t.DependsOn}).WithRun(event.ID(runID))
		taskID := t.ID
		tc.TaskID = &taskID
		if _, err := vault.Append(streamID, tc); err != nil {
			return nil, fmt.Errorf("scheduler: create task %s: %w", t.ID, err)
		}
	}
	if watchdog != nil {
		watchdog.Register(runID)
	}
	return &RunManager{
		vault:      vault,
		dispatcher: dispatcher,
		watchdog:   watchdog,
		runID:      runID,
		streamID:   streamID,
		graph:      BuildTaskGraph(tasks),
		completed:  make(map[string]bool),
		blocked:    make(map[string]bool),
		dispatched: make(map[string]string),
		results:    make(map[string]PredecessorResult),
		goal:       goal,
	}, nil
}

// RunID returns the Run's ID.
func (m *RunManager) RunID() string { return m.runID }

// Advance dispatches every ready, not-yet-dispatched task whose dependencies
// are satisfied, given the candidate task IDs still pending. Returns the
// task IDs newly dispatched this call.
func (m *RunManager) Advance(pending []string, role string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []string
	for _, id := range pending {
		if _, sent := m.dispatched[id]; !sent && !m.blocked[id] {
			candidates = append(candidates, id)
		}
	}
	ready := m.graph.Ready(candidates, m.completed)

	var started []string
	for _, taskID := range ready {
		tctx := TaskContext{
			OriginalGoal:       m.goal,
			RunID:              m.runID,
			CurrentTaskID:      taskID,
			PredecessorResults: m.predecessorResultsLocked(taskID),
		}
		wfID, err := m.dispatcher.Dispatch(tctx, role)
		if err != nil {
			return started, fmt.Errorf("scheduler: dispatch task %s: %w", taskID, err)
		}
		m.dispatched[taskID] = wfID

		e := event.New(event.TypeTaskAssigned, "scheduler", event.TaskAssignedPayload{Assignee: role})
		taskIDCopy := taskID
		e.TaskID = &taskIDCopy
		e.RunID = &m.runID
		if _, err := m.vault.Append(m.streamID, e); err != nil {
			return started, fmt.Errorf("scheduler: emit task.assigned: %w", err)
		}
		started = append(started, taskID)
	}
	return started, nil
}

func (m *RunManager) predecessorResultsLocked(taskID string) map[string]PredecessorResult {
	out := make(map[string]PredecessorResult)
	for _, dep := range m.graph.DependsOnIDs(taskID) {
		if r, ok := m.results[dep]; ok {
			out[dep] = r
		}
	}
	return out
}

// CompleteTask records a Task's success and keeps its output for the
// TaskContext of its dependents. Unlike FailTask it blocks nothing, so it
// returns only an error.
func (m *RunManager) CompleteTask(taskID, output string, artifacts []string) error {
	e := event.New(event.TypeTaskCompleted, "scheduler", event.TaskCompletedPayload{Output: output, Artifacts: artifacts})
	taskIDCopy := taskID
	e.TaskID = &taskIDCopy
	e.RunID = &m.runID
	if _, err := m.vault.Append(m.streamID, e); err != nil {
		return fmt.Errorf("scheduler: emit task.completed: %w", err)
	}

	m.mu.Lock()
	m.completed[taskID] = true
	m.results[taskID] = PredecessorResult{Goal: m.goal, Output: output, Artifacts: artifacts}
	m.mu.Unlock()
	return nil
}

// FailTask records a Task's terminal failure and marks every task that
// (transitively) depends on it as blocked, per §4.9c.
func (m *RunManager) FailTask(taskID, errorMessage string) ([]string, error) {
	e := event.New(event.TypeTaskFailed, "scheduler", event.TaskFailedPayload{ErrorMessage: errorMessage})
	taskIDCopy := taskID
	e.TaskID = &taskIDCopy
	e.RunID = &m.runID
	if _, err := m.vault.Append(m.streamID, e); err != nil {
		return nil, fmt.Errorf("scheduler: emit task.failed: %w", err)
	}

	m.mu.Lock()
	dependents := m.graph.DependentsOf(taskID)
	for _, dep := range dependents {
		m.blocked[dep] = true
	}
	m.mu.Unlock()

	for _, dep := range dependents {
		be := event.New(event.TypeTaskBlocked, "scheduler", event.TaskBlockedPayload{BlockedBy: []string{taskID}})
		depCopy := dep
		be.TaskID = &depCopy
		be.RunID = &m.runID
		if _, err := m.vault.Append(m.streamID, be); err != nil {
			return dependents, fmt.Errorf("scheduler: emit task.blocked for %s: %w", dep, err)
		}
	}
	return dependents, nil
}

// Finish emits run.completed or run.failed based on whether any task
// failed outright (distinct from having been blocked).
func (m *RunManager) Finish(anyTaskFailed bool, summary string) error {
	if anyTaskFailed {
		e := event.New(event.TypeRunFailed, "scheduler", event.RunFailedPayload{Reason: summary}).WithRun(event.ID(m.runID))
		_, err := m.vault.Append(m.streamID, e)
		return err
	}
	e := event.New(event.TypeRunCompleted, "scheduler", event.RunCompletedPayload{Summary: summary}).WithRun(event.ID(m.runID))
	_, err := m.vault.Append(m.streamID, e)
	return err
}

// Abort emits run.aborted, used by emergency_stop (§4.9e).
func (m *RunManager) Abort(reason string) error {
	e := event.New(event.TypeRunAborted, "scheduler", event.RunAbortedPayload{Reason: reason}).WithRun(event.ID(m.runID))
	_, err := m.vault.Append(m.streamID, e)
	return err
}

// DispatchedWorkflowIDs returns the Temporal workflow IDs of every task
// dispatched and not yet completed for this Run, used to register the Run
// with the EmergencyStopController. Tasks that failed are still listed.
func (m *RunManager) DispatchedWorkflowIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.dispatched))
	for taskID, wfID := range m.dispatched {
		if !m.completed[taskID] {
			ids = append(ids, wfID)
		}
	}
	return ids
}

// Snapshot folds the Run's stream into a fresh projection for read access.
func (m *RunManager) Snapshot() (*projection.RunProjection, error) {
	events, err := m.vault.Replay(m.streamID, nil)
	if err != nil {
		return nil, fmt.Errorf("scheduler: snapshot run %s: %w", m.runID, err)
	}
	return projection.FoldRun(m.runID, events), nil
}
