package scheduler

import (
	"fmt"
	"sync"

	"github.com/k-iijima/hiveforge/internal/event"
)

// EmergencyStopScope names what an emergency_stop call targets (§4.9e).
type EmergencyStopScope string

const (
	ScopeRun    EmergencyStopScope = "run"
	ScopeColony EmergencyStopScope = "colony"
	ScopeHive   EmergencyStopScope = "hive"
	ScopeSystem EmergencyStopScope = "system"
)

// RunHandle is what the EmergencyStopController needs to abort one Run:
// cancel its in-flight dispatched task (if the scheduler dispatches through
// Temporal) and reach run.aborted.
type RunHandle struct {
	RunManager *RunManager
	ColonyID   string
	HiveID     string

	// WorkflowIDs lists the Temporal workflow IDs currently in flight for
	// this Run's dispatched-but-not-yet-completed tasks.
	WorkflowIDs []string
}

// EmergencyStopController implements emergency_stop(scope, target_id?,
// reason): it records the stop event first (so the AR shows intent even if
// individual cancellations fail), then best-effort terminates every
// in-flight dispatched task under scope and aborts every affected Run.
//
// Active Runs are registered by the caller (the top-level Scheduler) via
// Register/Unregister as they start and finish, mirroring SilenceWatchdog's
// registration pattern.
type EmergencyStopController struct {
	vault      Vault
	dispatcher Dispatcher
	streamID   func(runID string) string

	mu   sync.Mutex
	runs map[string]*RunHandle // runID -> handle
}

// NewEmergencyStopController returns a controller that emits events into the
// stream streamID(runID) and terminates in-flight work through dispatcher.
func NewEmergencyStopController(vault Vault, dispatcher Dispatcher, streamID func(runID string) string) *EmergencyStopController {
	return &EmergencyStopController{
		vault:      vault,
		dispatcher: dispatcher,
		streamID:   streamID,
		runs:       make(map[string]*RunHandle),
	}
}

// Register tracks runID as eligible for a future emergency_stop.
func (c *EmergencyStopController) Register(runID string, h *RunHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs[runID] = h
}

// Unregister stops tracking runID once it reaches a terminal state.
func (c *EmergencyStopController) Unregister(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.runs, runID)
}

// Stop performs emergency_stop(scope, targetID, reason): emits
// system.emergency_stop, then terminates and aborts every Run the scope
// selects. Partial failures are collected and returned as a single error;
// the stop event itself has already been durably recorded.
func (c *EmergencyStopController) Stop(scope EmergencyStopScope, targetID, reason string) error {
	e := event.New(event.TypeSystemEmergencyStop, "scheduler", event.SystemEmergencyStopPayload{
		Scope:    string(scope),
		TargetID: targetID,
		Reason:   reason,
	})
	stopStream := "system"
	if scope != ScopeSystem && targetID != "" {
		stopStream = c.streamID(targetID)
	}
	if _, err := c.vault.Append(stopStream, e); err != nil {
		return fmt.Errorf("scheduler: emergency stop: record event: %w", err)
	}

	c.mu.Lock()
	affected := c.selectedLocked(scope, targetID)
	c.mu.Unlock()

	var firstErr error
	for _, h := range affected {
		for _, wfID := range h.WorkflowIDs {
			if c.dispatcher == nil {
				continue
			}
			if err := c.dispatcher.Terminate(wfID, reason); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("scheduler: emergency stop: terminate %s: %w", wfID, err)
			}
		}
		if err := h.RunManager.Abort(reason); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("scheduler: emergency stop: abort run %s: %w", h.RunManager.RunID(), err)
		}
	}
	return firstErr
}

func (c *EmergencyStopController) selectedLocked(scope EmergencyStopScope, targetID string) []*RunHandle {
	var out []*RunHandle
	for runID, h := range c.runs {
		switch scope {
		case ScopeSystem:
			out = append(out, h)
		case ScopeHive:
			if h.HiveID == targetID {
				out = append(out, h)
			}
		case ScopeColony:
			if h.ColonyID == targetID {
				out = append(out, h)
			}
		case ScopeRun:
			if runID == targetID {
				out = append(out, h)
			}
		}
	}
	return out
}
