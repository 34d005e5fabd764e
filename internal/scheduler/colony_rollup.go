package scheduler

import (
	"fmt"
	"sync"

	"github.com/k-iijima/hiveforge/internal/event"
	"github.com/k-iijima/hiveforge/internal/projection"
)

// ColonyRollup wires a projection.ColonyProgressTracker to a HiveManager:
// every run.started/completed/failed event for the Colony's child Runs is
// applied to the tracker, and a terminal transition emits colony.completed
// or colony.failed through the HiveManager (§4.9d).
type ColonyRollup struct {
	hives *HiveManager

	mu       sync.Mutex
	trackers map[string]*projection.ColonyProgressTracker // colonyID -> tracker
	hiveOf   map[string]string                             // colonyID -> hiveID
}

// NewColonyRollup returns a rollup bound to hives.
func NewColonyRollup(hives *HiveManager) *ColonyRollup {
	return &ColonyRollup{
		hives:    hives,
		trackers: make(map[string]*projection.ColonyProgressTracker),
		hiveOf:   make(map[string]string),
	}
}

// Track registers a Colony (and the Hive it belongs to) so subsequent
// ApplyRunEvent calls for its Runs can be rolled up.
func (r *ColonyRollup) Track(hiveID, colonyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trackers[colonyID]; !ok {
		r.trackers[colonyID] = projection.NewColonyProgressTracker(colonyID)
		r.hiveOf[colonyID] = hiveID
	}
}

// RegisterRun associates runID with colonyID so the tracker knows to wait
// for it.
func (r *ColonyRollup) RegisterRun(colonyID, runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trackers[colonyID]; ok {
		t.RegisterRun(runID)
	}
}

// ApplyRunEvent folds a run.started/completed/failed event for colonyID
// into its tracker, emitting colony.completed/failed through the
// HiveManager on a terminal transition.
func (r *ColonyRollup) ApplyRunEvent(colonyID string, e *event.Event) error {
	r.mu.Lock()
	tracker, ok := r.trackers[colonyID]
	hiveID := r.hiveOf[colonyID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: colony rollup: untracked colony %s", colonyID)
	}

	transitioned, newState := tracker.Apply(e)
	if !transitioned {
		return nil
	}

	switch newState {
	case projection.ColonyRollupCompleted:
		return r.hives.CompleteColony(hiveID, colonyID, false, false)
	case projection.ColonyRollupFailed:
		return r.hives.CompleteColony(hiveID, colonyID, true, false)
	}
	return nil
}
