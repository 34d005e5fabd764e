// Package scheduler owns the Hive/Colony/Run/Task hierarchy and is the only
// component that writes lifecycle events; the Akashic Record remains the
// canonical state. Task dispatch runs as Temporal workflows; the in-process
// tick loop advances every active Run instead of polling SQL-backed
// dispatch rows, generalised from the teacher's bead-dispatch tick loop.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/k-iijima/hiveforge/internal/projection"
)

// Scheduler ties the Hive/Colony lifecycle, per-Run dispatch, Colony
// roll-up, Silence Watchdog, worker pool, emergency stop, conference mode,
// messenger, and escalation mechanisms into one tick loop (§4.9).
type Scheduler struct {
	vault      Vault
	dispatcher Dispatcher
	logger     *slog.Logger

	Hives       *HiveManager
	Rollup      *ColonyRollup
	Watchdog    *SilenceWatchdog
	Workers     *WorkerPool
	Emergency   *EmergencyStopController
	Conferences *ConferenceManager
	Messenger   *Messenger
	Escalations *EscalationManager

	mu        sync.Mutex
	runs      map[string]*RunManager
	runRoles  map[string]string
	runColony map[string]string
	runHive   map[string]string

	tickInterval time.Duration
	paused       atomic.Bool
}

// New returns a Scheduler with every sub-mechanism wired to vault and
// dispatcher, and silence detection defaulting to a 60s threshold.
func New(vault Vault, dispatcher Dispatcher, logger *slog.Logger, tickInterval time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if tickInterval <= 0 {
		tickInterval = 30 * time.Second
	}
	hives := NewHiveManager(vault)
	s := &Scheduler{
		vault:        vault,
		dispatcher:   dispatcher,
		logger:       logger,
		Hives:        hives,
		Rollup:       NewColonyRollup(hives),
		Watchdog:     NewSilenceWatchdog(vault, 60*time.Second, runStreamID),
		Workers:      NewWorkerPool(0, 0),
		Conferences:  NewConferenceManager(vault),
		Messenger:    NewMessenger(vault),
		Escalations:  NewEscalationManager(vault),
		runs:         make(map[string]*RunManager),
		runRoles:     make(map[string]string),
		runColony:    make(map[string]string),
		runHive:      make(map[string]string),
		tickInterval: tickInterval,
	}
	s.Emergency = NewEmergencyStopController(vault, dispatcher, runStreamID)
	return s
}

func runStreamID(runID string) string { return fmt.Sprintf("run-%s", runID) }

// StartRun begins a new Run under the given Colony/Hive (scoping for
// emergency_stop and Colony roll-up) and returns its Run ID.
func (s *Scheduler) StartRun(hiveID, colonyID, goal, role string, tasks []TaskNode) (string, error) {
	streamID := fmt.Sprintf("run-%s", uuid.NewString())
	rm, err := NewRunManager(s.vault, s.dispatcher, s.Watchdog, streamID, goal, tasks)
	if err != nil {
		return "", err
	}
	runID := rm.RunID()

	s.mu.Lock()
	s.runs[runID] = rm
	s.runRoles[runID] = role
	s.runColony[runID] = colonyID
	s.runHive[runID] = hiveID
	s.mu.Unlock()

	s.Rollup.RegisterRun(colonyID, runID)
	s.Emergency.Register(runID, &RunHandle{RunManager: rm, ColonyID: colonyID, HiveID: hiveID})
	return runID, nil
}

// Run blocks, driving the tick loop, the Silence Watchdog's poll loop, and
// any scheduled conference cadences until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	go s.Watchdog.Run(ctx)
	s.Conferences.StartCadences()
	defer s.Conferences.StopCadences()

	s.logger.Info("scheduler started", "tick_interval", s.tickInterval)
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			if !s.paused.Load() {
				s.tick()
			}
		}
	}
}

// Pause stops the tick loop from dispatching further Tasks; in-flight Tasks
// are unaffected. Used by the REST API's /scheduler/pause endpoint.
func (s *Scheduler) Pause() { s.paused.Store(true) }

// Resume reverses Pause.
func (s *Scheduler) Resume() { s.paused.Store(false) }

// IsPaused reports the current pause state.
func (s *Scheduler) IsPaused() bool { return s.paused.Load() }

// tick advances every active Run: ready (pending, unblocked) tasks are
// dispatched, and a Run whose snapshot shows every task terminal reaches
// run.completed or run.failed.
func (s *Scheduler) tick() {
	s.mu.Lock()
	active := make(map[string]*RunManager, len(s.runs))
	for id, rm := range s.runs {
		active[id] = rm
	}
	s.mu.Unlock()

	for runID, rm := range active {
		if err := s.advanceRun(runID, rm); err != nil {
			s.logger.Error("scheduler tick: advance run failed", "run_id", runID, "error", err)
		}
	}
}

func (s *Scheduler) advanceRun(runID string, rm *RunManager) error {
	snap, err := rm.Snapshot()
	if err != nil {
		return fmt.Errorf("scheduler: tick: snapshot run %s: %w", runID, err)
	}

	var pending []string
	allTerminal := len(snap.Tasks) > 0
	anyFailed := false
	for taskID, t := range snap.Tasks {
		switch t.State {
		case projection.TaskPending:
			pending = append(pending, taskID)
			allTerminal = false
		case projection.TaskAssigned, projection.TaskInProgress:
			allTerminal = false
		case projection.TaskFailed:
			anyFailed = true
		}
	}

	s.mu.Lock()
	role := s.runRoles[runID]
	s.mu.Unlock()

	if len(pending) > 0 {
		if _, err := rm.Advance(pending, role); err != nil {
			return fmt.Errorf("scheduler: tick: advance run %s: %w", runID, err)
		}
	}

	if snap.State == projection.RunRunning && allTerminal {
		if err := rm.Finish(anyFailed, "all tasks terminal"); err != nil {
			return fmt.Errorf("scheduler: tick: finish run %s: %w", runID, err)
		}
		s.finalizeRun(runID)
	}
	return nil
}

func (s *Scheduler) finalizeRun(runID string) {
	s.Watchdog.Unregister(runID)
	s.Emergency.Unregister(runID)
	s.mu.Lock()
	delete(s.runs, runID)
	delete(s.runRoles, runID)
	delete(s.runColony, runID)
	delete(s.runHive, runID)
	s.mu.Unlock()
}

// EmergencyStop delegates to the Emergency controller, refreshing its
// in-flight workflow IDs from the live RunManagers first so a stop issued
// mid-dispatch still terminates the latest Temporal executions.
func (s *Scheduler) EmergencyStop(scope EmergencyStopScope, targetID, reason string) error {
	s.mu.Lock()
	for runID, rm := range s.runs {
		hiveID, colonyID := s.runHive[runID], s.runColony[runID]
		s.Emergency.Register(runID, &RunHandle{
			RunManager:  rm,
			ColonyID:    colonyID,
			HiveID:      hiveID,
			WorkflowIDs: rm.DispatchedWorkflowIDs(),
		})
	}
	s.mu.Unlock()
	return s.Emergency.Stop(scope, targetID, reason)
}
