package projection

import "github.com/k-iijima/hiveforge/internal/event"

// ColonyRollupState is the state machine a ColonyProgressTracker drives,
// distinct from ColonyState: it derives terminal state purely from child
// Run outcomes (§4.9d), independent of whatever the Colony's own lifecycle
// events say.
type ColonyRollupState string

const (
	ColonyRollupUnknown   ColonyRollupState = "unknown"
	ColonyRollupRunning   ColonyRollupState = "running"
	ColonyRollupCompleted ColonyRollupState = "completed"
	ColonyRollupFailed    ColonyRollupState = "failed"
)

// ColonyProgressTracker subscribes to run.started/run.completed/run.failed
// events for the runs belonging to one Colony and derives the Colony's
// terminal state. It never consults the Colony's own lifecycle stream —
// that would be circular, since the scheduler emits colony.completed based
// on this tracker's output (§4.9d).
type ColonyProgressTracker struct {
	ColonyID string
	State    ColonyRollupState
	runs     map[string]RunState
}

// NewColonyProgressTracker returns a tracker with no runs registered yet.
func NewColonyProgressTracker(colonyID string) *ColonyProgressTracker {
	return &ColonyProgressTracker{
		ColonyID: colonyID,
		State:    ColonyRollupUnknown,
		runs:     make(map[string]RunState),
	}
}

// RegisterRun must be called (typically from run.started dispatch) so the
// tracker knows which runs belong to this colony before their completion
// events arrive.
func (t *ColonyProgressTracker) RegisterRun(runID string) {
	if _, exists := t.runs[runID]; !exists {
		t.runs[runID] = RunRunning
		if t.State == ColonyRollupUnknown {
			t.State = ColonyRollupRunning
		}
	}
}

// Apply folds one run-lifecycle event into the tracker and reports
// whether this call caused a terminal transition (colonyCompleted /
// colonyFailed), so the caller knows exactly once when to emit the
// corresponding colony.* event.
func (t *ColonyProgressTracker) Apply(e *event.Event) (transitioned bool, newState ColonyRollupState) {
	if e.RunID == nil {
		// Null run_id events are ignored defensively (§4.9d).
		return false, t.State
	}
	runID := *e.RunID

	switch e.Type {
	case event.TypeRunStarted:
		t.RegisterRun(runID)
		return false, t.State

	case event.TypeRunCompleted:
		if _, ok := t.runs[runID]; !ok {
			return false, t.State
		}
		t.runs[runID] = RunCompleted

	case event.TypeRunFailed:
		if _, ok := t.runs[runID]; !ok {
			return false, t.State
		}
		t.runs[runID] = RunFailed

	default:
		return false, t.State
	}

	return t.evaluateTerminal()
}

func (t *ColonyProgressTracker) evaluateTerminal() (bool, ColonyRollupState) {
	if t.State == ColonyRollupCompleted || t.State == ColonyRollupFailed {
		return false, t.State
	}
	if len(t.runs) == 0 {
		return false, t.State
	}
	anyFailed := false
	allTerminal := true
	for _, s := range t.runs {
		if s == RunFailed {
			anyFailed = true
		}
		if s != RunCompleted && s != RunFailed {
			allTerminal = false
		}
	}
	switch {
	case anyFailed:
		t.State = ColonyRollupFailed
		return true, t.State
	case allTerminal:
		t.State = ColonyRollupCompleted
		return true, t.State
	default:
		return false, t.State
	}
}
