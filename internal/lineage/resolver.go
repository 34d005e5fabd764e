// Package lineage computes the causal parent-event references for new
// events per SPEC_FULL.md §4.4. It is a pure function of event type and the
// prior events in the stream — no I/O, no clock.
package lineage

import (
	"sort"

	"github.com/k-iijima/hiveforge/internal/event"
)

// Resolve computes parents for a new event of type typ about to be
// appended to a stream whose prior events (in append order) are prior.
// taskID/runID/decisionID are the identifiers relevant to typ's rule, and
// may be empty when typ's rule doesn't need them. Explicit parents supplied
// by the caller always win over this function — callers check that before
// calling Resolve at all.
//
// Unknown-parent cases (missing prerequisite, wrong stream, empty keys)
// yield an empty slice rather than an error: missing provenance is visible
// and queryable, never fatal (§4.4).
func Resolve(typ event.Type, prior []*event.Event, runID, taskID, decisionID string) []event.ID {
	switch typ {
	case event.TypeRunStarted:
		return []event.ID{}

	case event.TypeRunCompleted:
		return taskCompletedParents(prior, runID)

	case event.TypeTaskCreated:
		if id := findRunStarted(prior, runID); id != "" {
			return []event.ID{id}
		}
		return []event.ID{}

	case event.TypeTaskAssigned, event.TypeTaskProgressed, event.TypeTaskCompleted, event.TypeTaskFailed:
		if id := findTaskCreated(prior, taskID); id != "" {
			return []event.ID{id}
		}
		return []event.ID{}

	case event.TypeDecisionApplied:
		if id := findDecisionRecorded(prior, decisionID); id != "" {
			return []event.ID{id}
		}
		return []event.ID{}

	default:
		return []event.ID{}
	}
}

// taskCompletedParents implements run.completed's "all task.completed
// events in this run, ordered by ID" rule. IDs are ULIDs, so lexicographic
// sort equals insertion order.
func taskCompletedParents(prior []*event.Event, runID string) []event.ID {
	var ids []event.ID
	for _, e := range prior {
		if e.Type != event.TypeTaskCompleted {
			continue
		}
		if runID != "" && (e.RunID == nil || *e.RunID != runID) {
			continue
		}
		ids = append(ids, e.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if ids == nil {
		return []event.ID{}
	}
	return ids
}

func findRunStarted(prior []*event.Event, runID string) event.ID {
	if runID == "" {
		return ""
	}
	for _, e := range prior {
		if e.Type == event.TypeRunStarted && e.RunID != nil && *e.RunID == runID {
			return e.ID
		}
	}
	return ""
}

func findTaskCreated(prior []*event.Event, taskID string) event.ID {
	if taskID == "" {
		return ""
	}
	for _, e := range prior {
		if e.Type == event.TypeTaskCreated && e.TaskID != nil && *e.TaskID == taskID {
			return e.ID
		}
	}
	return ""
}

func findDecisionRecorded(prior []*event.Event, decisionID string) event.ID {
	if decisionID == "" {
		return ""
	}
	for _, e := range prior {
		if e.Type != event.TypeDecisionRecorded {
			continue
		}
		switch p := e.Payload.(type) {
		case event.DecisionRecordedPayload:
			if p.DecisionID == decisionID {
				return e.ID
			}
		case event.OpaquePayload:
			if id, ok := p["decision_id"].(string); ok && id == decisionID {
				return e.ID
			}
		}
	}
	return ""
}
