// Package projection implements deterministic folds of Akashic Record
// event streams into queryable in-memory state (SPEC_FULL.md §4.3). A
// projection never consults wall-clock time or external I/O; replaying the
// same events always yields an equivalent state.
package projection

import (
	"fmt"
	"time"

	"github.com/k-iijima/hiveforge/internal/event"
)

// RunState is the lifecycle state of a Run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunAborted   RunState = "aborted"
)

func (s RunState) terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunAborted
}

// TaskState is the lifecycle state of a Task.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskAssigned   TaskState = "assigned"
	TaskInProgress TaskState = "in_progress"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
	TaskBlocked    TaskState = "blocked"
)

// RequirementState is the lifecycle state of a Requirement.
type RequirementState string

const (
	RequirementPending  RequirementState = "pending"
	RequirementApproved RequirementState = "approved"
	RequirementRejected RequirementState = "rejected"
)

// TaskProjection is the folded state of a single Task.
type TaskProjection struct {
	ID           string
	Title        string
	State        TaskState
	Assignee     string
	Progress     int
	ErrorMessage string
}

// ReqProjection is the folded state of a single Requirement.
type ReqProjection struct {
	ID         string
	Description string
	State      RequirementState
	DecidedBy  string
}

// RunProjection is the folded state of one Run.
type RunProjection struct {
	RunID        string
	State        RunState
	Goal         string
	Tasks        map[string]*TaskProjection
	Requirements map[string]*ReqProjection
	EventCount   int
	StartedAt    *time.Time
	CompletedAt  *time.Time

	// Errors records illegal transitions observed during the fold. The AR
	// is truth; the projection surfaces anomalies instead of crashing
	// (§4.3).
	Errors []string
}

// NewRunProjection returns an empty projection ready to be folded.
func NewRunProjection(runID string) *RunProjection {
	return &RunProjection{
		RunID:        runID,
		State:        RunPending,
		Tasks:        make(map[string]*TaskProjection),
		Requirements: make(map[string]*ReqProjection),
	}
}

// FoldRun builds a RunProjection from a full event slice for a single run
// stream. It is a pure function: same input, same output, always.
func FoldRun(runID string, events []*event.Event) *RunProjection {
	p := NewRunProjection(runID)
	for _, e := range events {
		p.apply(e)
	}
	return p
}

func (p *RunProjection) illegal(format string, args ...any) {
	p.Errors = append(p.Errors, fmt.Sprintf(format, args...))
}

func (p *RunProjection) apply(e *event.Event) {
	p.EventCount++
	switch e.Type {
	case event.TypeRunStarted:
		if payload, ok := e.Payload.(event.RunStartedPayload); ok {
			p.Goal = payload.Goal
		} else if op, ok := e.Payload.(event.OpaquePayload); ok {
			if g, ok := op["goal"].(string); ok {
				p.Goal = g
			}
		}
		p.State = RunRunning
		ts := e.Timestamp
		p.StartedAt = &ts

	case event.TypeRunCompleted:
		if p.State != RunRunning {
			p.illegal("run.completed observed from non-running state %s", p.State)
			return
		}
		p.State = RunCompleted
		ts := e.Timestamp
		p.CompletedAt = &ts

	case event.TypeRunFailed:
		if p.State != RunRunning {
			p.illegal("run.failed observed from non-running state %s", p.State)
			return
		}
		p.State = RunFailed

	case event.TypeRunAborted:
		if p.State.terminal() {
			p.illegal("run.aborted observed from terminal state %s", p.State)
			return
		}
		p.State = RunAborted

	case event.TypeTaskCreated:
		if e.TaskID == nil {
			p.illegal("task.created missing task_id")
			return
		}
		title := ""
		if payload, ok := e.Payload.(event.TaskCreatedPayload); ok {
			title = payload.Title
		} else if op, ok := e.Payload.(event.OpaquePayload); ok {
			if t, ok := op["title"].(string); ok {
				title = t
			}
		}
		p.Tasks[*e.TaskID] = &TaskProjection{ID: *e.TaskID, Title: title, State: TaskPending}

	case event.TypeTaskAssigned:
		t := p.taskOrIllegal(e, "task.assigned")
		if t == nil {
			return
		}
		t.State = TaskInProgress
		if payload, ok := e.Payload.(event.TaskAssignedPayload); ok {
			t.Assignee = payload.Assignee
		} else if op, ok := e.Payload.(event.OpaquePayload); ok {
			if a, ok := op["assignee"].(string); ok {
				t.Assignee = a
			}
		}

	case event.TypeTaskProgressed:
		t := p.taskOrIllegal(e, "task.progressed")
		if t == nil {
			return
		}
		if payload, ok := e.Payload.(event.TaskProgressedPayload); ok {
			t.Progress = payload.Progress
		} else if op, ok := e.Payload.(event.OpaquePayload); ok {
			if pr, ok := op["progress"].(float64); ok {
				t.Progress = int(pr)
			}
		}

	case event.TypeTaskCompleted:
		t := p.taskOrIllegal(e, "task.completed")
		if t == nil {
			return
		}
		t.State = TaskCompleted
		t.Progress = 100

	case event.TypeTaskFailed:
		t := p.taskOrIllegal(e, "task.failed")
		if t == nil {
			return
		}
		t.State = TaskFailed
		if payload, ok := e.Payload.(event.TaskFailedPayload); ok {
			t.ErrorMessage = payload.ErrorMessage
		} else if op, ok := e.Payload.(event.OpaquePayload); ok {
			if m, ok := op["error_message"].(string); ok {
				t.ErrorMessage = m
			}
		}

	case event.TypeTaskBlocked:
		t := p.taskOrIllegal(e, "task.blocked")
		if t == nil {
			return
		}
		t.State = TaskBlocked

	case event.TypeRequirementCreated:
		desc := requirementDescription(e)
		id := string(e.ID)
		p.Requirements[id] = &ReqProjection{ID: id, Description: desc, State: RequirementPending}

	case event.TypeRequirementApproved:
		reqID, db := requirementDecision(e)
		r := p.requirementOrIllegal(reqID, "requirement.approved")
		if r == nil {
			return
		}
		r.State = RequirementApproved
		r.DecidedBy = db

	case event.TypeRequirementRejected:
		reqID, db := requirementDecision(e)
		r := p.requirementOrIllegal(reqID, "requirement.rejected")
		if r == nil {
			return
		}
		r.State = RequirementRejected
		r.DecidedBy = db
	}
}

func (p *RunProjection) taskOrIllegal(e *event.Event, label string) *TaskProjection {
	if e.TaskID == nil {
		p.illegal("%s missing task_id", label)
		return nil
	}
	t, ok := p.Tasks[*e.TaskID]
	if !ok {
		p.illegal("%s references unknown task %s", label, *e.TaskID)
		return nil
	}
	return t
}

func (p *RunProjection) requirementOrIllegal(reqID, label string) *ReqProjection {
	if reqID == "" {
		p.illegal("%s missing requirement id", label)
		return nil
	}
	r, ok := p.Requirements[reqID]
	if !ok {
		p.illegal("%s references unknown requirement %s", label, reqID)
		return nil
	}
	return r
}

func requirementDescription(e *event.Event) string {
	switch p := e.Payload.(type) {
	case event.RequirementCreatedPayload:
		return p.Description
	case event.OpaquePayload:
		desc, _ := p["description"].(string)
		return desc
	}
	return ""
}

func requirementDecision(e *event.Event) (requirementID, decidedBy string) {
	switch p := e.Payload.(type) {
	case event.RequirementDecidedPayload:
		return p.RequirementID, p.DecidedBy
	case event.OpaquePayload:
		id, _ := p["requirement_id"].(string)
		db, _ := p["decided_by"].(string)
		return id, db
	}
	return "", ""
}
