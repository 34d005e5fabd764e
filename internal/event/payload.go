package event

// Payload is the type-indexed union carried by every Event. Concrete event
// kinds implement it with a struct of their own fields; unknown/forward
// event types round-trip as OpaquePayload so the Akashic Record never loses
// data it doesn't understand (see §4.1 forward-compatibility rule).
type Payload interface {
	// fields returns the payload's data as a plain map for canonicalisation.
	// It must be pure and must not retain references into the Event.
	fields() map[string]any
}

// OpaquePayload preserves an unrecognised payload verbatim across replay.
// Projections never inspect it.
type OpaquePayload map[string]any

func (p OpaquePayload) fields() map[string]any { return map[string]any(p) }

// RunStartedPayload is carried by run.started.
type RunStartedPayload struct {
	Goal string `json:"goal"`
}

func (p RunStartedPayload) fields() map[string]any {
	return map[string]any{"goal": p.Goal}
}

// RunCompletedPayload is carried by run.completed.
type RunCompletedPayload struct {
	Summary string `json:"summary"`
}

func (p RunCompletedPayload) fields() map[string]any {
	return map[string]any{"summary": p.Summary}
}

// RunFailedPayload is carried by run.failed.
type RunFailedPayload struct {
	Reason string `json:"reason"`
}

func (p RunFailedPayload) fields() map[string]any {
	return map[string]any{"reason": p.Reason}
}

// RunAbortedPayload is carried by run.aborted.
type RunAbortedPayload struct {
	Reason string `json:"reason"`
}

func (p RunAbortedPayload) fields() map[string]any {
	return map[string]any{"reason": p.Reason}
}

// TaskCreatedPayload is carried by task.created.
type TaskCreatedPayload struct {
	Title      string   `json:"title"`
	DependsOn  []string `json:"depends_on"`
}

func (p TaskCreatedPayload) fields() map[string]any {
	deps := make([]any, len(p.DependsOn))
	for i, d := range p.DependsOn {
		deps[i] = d
	}
	return map[string]any{"title": p.Title, "depends_on": deps}
}

// TaskAssignedPayload is carried by task.assigned.
type TaskAssignedPayload struct {
	Assignee string `json:"assignee"`
}

func (p TaskAssignedPayload) fields() map[string]any {
	return map[string]any{"assignee": p.Assignee}
}

// TaskProgressedPayload is carried by task.progressed.
type TaskProgressedPayload struct {
	Progress int `json:"progress"`
}

func (p TaskProgressedPayload) fields() map[string]any {
	return map[string]any{"progress": p.Progress}
}

// TaskCompletedPayload is carried by task.completed.
type TaskCompletedPayload struct {
	Output    string   `json:"output"`
	Artifacts []string `json:"artifacts"`
}

func (p TaskCompletedPayload) fields() map[string]any {
	artifacts := make([]any, len(p.Artifacts))
	for i, a := range p.Artifacts {
		artifacts[i] = a
	}
	return map[string]any{"output": p.Output, "artifacts": artifacts}
}

// TaskFailedPayload is carried by task.failed.
type TaskFailedPayload struct {
	ErrorMessage string `json:"error_message"`
}

func (p TaskFailedPayload) fields() map[string]any {
	return map[string]any{"error_message": p.ErrorMessage}
}

// TaskBlockedPayload is carried by task.blocked.
type TaskBlockedPayload struct {
	BlockedBy []string `json:"blocked_by"`
}

func (p TaskBlockedPayload) fields() map[string]any {
	blocked := make([]any, len(p.BlockedBy))
	for i, b := range p.BlockedBy {
		blocked[i] = b
	}
	return map[string]any{"blocked_by": blocked}
}

// RequirementCreatedPayload is carried by requirement.created. ClarifyQuestion
// is populated when the RA pipeline raised a clarifying question before
// synthesis (see SPEC_FULL.md §3.1).
type RequirementCreatedPayload struct {
	Description      string `json:"description"`
	ClarifyQuestion  string `json:"clarify_question,omitempty"`
}

func (p RequirementCreatedPayload) fields() map[string]any {
	m := map[string]any{"description": p.Description}
	if p.ClarifyQuestion != "" {
		m["clarify_question"] = p.ClarifyQuestion
	}
	return m
}

// RequirementDecidedPayload is carried by requirement.approved/rejected.
// RequirementID references the requirement.created event's own ID — a
// Requirement has no dedicated ID field on Event the way Task/Run do.
type RequirementDecidedPayload struct {
	RequirementID string `json:"requirement_id"`
	DecidedBy     string `json:"decided_by"`
}

func (p RequirementDecidedPayload) fields() map[string]any {
	return map[string]any{"requirement_id": p.RequirementID, "decided_by": p.DecidedBy}
}

// RequirementSpecSynthesizedPayload is carried by requirement.spec_synthesized.
type RequirementSpecSynthesizedPayload struct {
	SpecText string  `json:"spec_text"`
	Score    float64 `json:"score"`
}

func (p RequirementSpecSynthesizedPayload) fields() map[string]any {
	return map[string]any{"spec_text": p.SpecText, "score": p.Score}
}

// DecisionRecordedPayload is carried by decision.recorded. DecisionID
// identifies the Decision entity (distinct from the event's own ID) so
// decision.applied can reference it later.
type DecisionRecordedPayload struct {
	DecisionID   string  `json:"decision_id"`
	Scope        string  `json:"scope"`
	Description  string  `json:"description"`
	Supersedes   *string `json:"supersedes,omitempty"`
	RollbackPlan *string `json:"rollback_plan,omitempty"`
}

func (p DecisionRecordedPayload) fields() map[string]any {
	m := map[string]any{"decision_id": p.DecisionID, "scope": p.Scope, "description": p.Description}
	if p.Supersedes != nil {
		m["supersedes"] = *p.Supersedes
	}
	if p.RollbackPlan != nil {
		m["rollback_plan"] = *p.RollbackPlan
	}
	return m
}

// DecisionAppliedPayload is carried by decision.applied.
type DecisionAppliedPayload struct {
	DecisionID string `json:"decision_id"`
}

func (p DecisionAppliedPayload) fields() map[string]any {
	return map[string]any{"decision_id": p.DecisionID}
}

// WaggleDancePayload is carried by waggle_dance.validated/violation.
type WaggleDancePayload struct {
	Direction string   `json:"direction"`
	Valid     bool     `json:"valid"`
	Errors    []string `json:"errors,omitempty"`
}

func (p WaggleDancePayload) fields() map[string]any {
	errs := make([]any, len(p.Errors))
	for i, e := range p.Errors {
		errs[i] = e
	}
	return map[string]any{"direction": p.Direction, "valid": p.Valid, "errors": errs}
}

// QueenEscalationPayload is carried by queen.escalation.
type QueenEscalationPayload struct {
	EscalationType   string   `json:"type"`
	Severity         string   `json:"severity"`
	SuggestedActions []string `json:"suggested_actions"`
}

func (p QueenEscalationPayload) fields() map[string]any {
	actions := make([]any, len(p.SuggestedActions))
	for i, a := range p.SuggestedActions {
		actions[i] = a
	}
	return map[string]any{"type": p.EscalationType, "severity": p.Severity, "suggested_actions": actions}
}

// BeekeeperFeedbackPayload is carried by beekeeper.feedback.
type BeekeeperFeedbackPayload struct {
	EscalationEventID string `json:"escalation_event_id"`
	Resolution        string `json:"resolution"`
}

func (p BeekeeperFeedbackPayload) fields() map[string]any {
	return map[string]any{"escalation_event_id": p.EscalationEventID, "resolution": p.Resolution}
}

// SystemEmergencyStopPayload is carried by system.emergency_stop.
type SystemEmergencyStopPayload struct {
	Scope    string `json:"scope"`
	TargetID string `json:"target_id,omitempty"`
	Reason   string `json:"reason"`
}

func (p SystemEmergencyStopPayload) fields() map[string]any {
	m := map[string]any{"scope": p.Scope, "reason": p.Reason}
	if p.TargetID != "" {
		m["target_id"] = p.TargetID
	}
	return m
}

// SystemSilenceDetectedPayload is carried by system.silence_detected.
type SystemSilenceDetectedPayload struct {
	SilentForSeconds float64 `json:"silent_for_seconds"`
}

func (p SystemSilenceDetectedPayload) fields() map[string]any {
	return map[string]any{"silent_for_seconds": p.SilentForSeconds}
}

// OperationFailedPayload is carried by operation.failed.
type OperationFailedPayload struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

func (p OperationFailedPayload) fields() map[string]any {
	m := map[string]any{"reason": p.Reason}
	if p.Detail != "" {
		m["detail"] = p.Detail
	}
	return m
}

// ColonyCompletedPayload is carried by colony.completed/failed.
type ColonyCompletedPayload struct {
	ColonyID string `json:"colony_id"`
	Forced   bool   `json:"forced"`
}

func (p ColonyCompletedPayload) fields() map[string]any {
	return map[string]any{"colony_id": p.ColonyID, "forced": p.Forced}
}
