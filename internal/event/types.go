// Package event defines the closed set of Akashic Record event types and
// the immutable Event record itself: identity, hashing, and canonical
// serialisation. It has no dependency on storage, projections, or the
// scheduler — every other package in this module depends on it, never the
// reverse.
package event

import (
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type is the closed enum of event kinds recorded in the Akashic Record.
// New variants are appended, never renumbered — the string form is what
// gets hashed and persisted, so it must never change once shipped.
type Type string

const (
	TypeHiveCreated  Type = "hive.created"
	TypeHiveClosed   Type = "hive.closed"
	TypeColonyCreated   Type = "colony.created"
	TypeColonyStarted   Type = "colony.started"
	TypeColonyCompleted Type = "colony.completed"
	TypeColonyFailed    Type = "colony.failed"

	TypeRunStarted   Type = "run.started"
	TypeRunCompleted Type = "run.completed"
	TypeRunFailed    Type = "run.failed"
	TypeRunAborted   Type = "run.aborted"

	TypeTaskCreated    Type = "task.created"
	TypeTaskAssigned   Type = "task.assigned"
	TypeTaskProgressed Type = "task.progressed"
	TypeTaskCompleted  Type = "task.completed"
	TypeTaskFailed     Type = "task.failed"
	TypeTaskBlocked    Type = "task.blocked"

	TypeRequirementCreated  Type = "requirement.created"
	TypeRequirementApproved Type = "requirement.approved"
	TypeRequirementRejected Type = "requirement.rejected"
	TypeRequirementSpecSynthesized Type = "requirement.spec_synthesized"

	TypeDecisionRecorded Type = "decision.recorded"
	TypeDecisionApplied  Type = "decision.applied"

	TypeWaggleDanceValidated Type = "waggle_dance.validated"
	TypeWaggleDanceViolation Type = "waggle_dance.violation"

	TypeQueenEscalation   Type = "queen.escalation"
	TypeBeekeeperFeedback Type = "beekeeper.feedback"

	TypeSystemEmergencyStop   Type = "system.emergency_stop"
	TypeSystemSilenceDetected Type = "system.silence_detected"

	TypeOperationTimeout        Type = "operation.timeout"
	TypeOperationFailed         Type = "operation.failed"
	TypeApprovalRequested       Type = "approval_requested"
	TypeApprovalGranted         Type = "approval_granted"
	TypeApprovalDenied          Type = "approval_denied"

	TypeConferenceOpened    Type = "conference.opened"
	TypeConferenceVoteCast  Type = "conference.vote_cast"
	TypeConferenceConcluded Type = "conference.concluded"
	TypeConferenceCancelled Type = "conference.cancelled"

	TypeMessengerSent     Type = "messenger.sent"
	TypeMessengerReceived Type = "messenger.received"
	TypeResourceConflict  Type = "resource.conflict_detected"

	TypeSentinelAlertRaised Type = "sentinel.alert_raised"

	TypeWorkerStarted  Type = "worker.started"
	TypeWorkerStopped  Type = "worker.stopped"
	TypeWorkerRestarted Type = "worker.restarted"
	TypeWorkerCrashed  Type = "worker.crashed"
)

// knownTypes backs IsKnown; kept separate from the const block so adding a
// type can't accidentally be forgotten in one place but not the other.
var knownTypes = map[Type]struct{}{
	TypeHiveCreated: {}, TypeHiveClosed: {},
	TypeColonyCreated: {}, TypeColonyStarted: {}, TypeColonyCompleted: {}, TypeColonyFailed: {},
	TypeRunStarted: {}, TypeRunCompleted: {}, TypeRunFailed: {}, TypeRunAborted: {},
	TypeTaskCreated: {}, TypeTaskAssigned: {}, TypeTaskProgressed: {}, TypeTaskCompleted: {}, TypeTaskFailed: {}, TypeTaskBlocked: {},
	TypeRequirementCreated: {}, TypeRequirementApproved: {}, TypeRequirementRejected: {}, TypeRequirementSpecSynthesized: {},
	TypeDecisionRecorded: {}, TypeDecisionApplied: {},
	TypeWaggleDanceValidated: {}, TypeWaggleDanceViolation: {},
	TypeQueenEscalation: {}, TypeBeekeeperFeedback: {},
	TypeSystemEmergencyStop: {}, TypeSystemSilenceDetected: {},
	TypeOperationTimeout: {}, TypeOperationFailed: {}, TypeApprovalRequested: {}, TypeApprovalGranted: {}, TypeApprovalDenied: {},
	TypeConferenceOpened: {}, TypeConferenceVoteCast: {}, TypeConferenceConcluded: {}, TypeConferenceCancelled: {},
	TypeMessengerSent: {}, TypeMessengerReceived: {}, TypeResourceConflict: {},
	TypeSentinelAlertRaised: {},
	TypeWorkerStarted: {}, TypeWorkerStopped: {}, TypeWorkerRestarted: {}, TypeWorkerCrashed: {},
}

// IsKnown reports whether t is a type this build's projections understand.
// Unknown types still round-trip through the Akashic Record (see Payload /
// OpaquePayload) — they're simply invisible to projections.
func IsKnown(t Type) bool {
	_, ok := knownTypes[t]
	return ok
}

// ID is a ULID rendered as its canonical 26-character Crockford base32
// string. It is the identifier shape for events and every hierarchy entity
// (hive, colony, run, task, requirement, decision).
type ID string

// entropy is process-global. ulid.Monotonic is not safe for concurrent
// use on its own, so NewID serialises every draw through entropyMu; IDs
// minted within the same millisecond are therefore strictly increasing.
var (
	entropy   = ulid.Monotonic(rand.Reader, 0)
	entropyMu sync.Mutex
)

// NewID mints a fresh, time-prefixed, lexicographically sortable ID. It is
// safe for concurrent use.
func NewID() ID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ID(ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String())
}

// Event is the immutable unit of the Akashic Record. Zero value is not
// meaningful; construct with New and finalise with Seal.
type Event struct {
	ID        ID        `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     *string   `json:"run_id"`
	TaskID    *string   `json:"task_id"`
	Actor     string    `json:"actor"`
	Payload   Payload   `json:"payload"`
	Parents   []ID      `json:"parents"`
	PrevHash  *string   `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

// New assembles an event with a fresh ID and timestamp. PrevHash and Hash
// are left zero; Seal fills them exactly once, at the append boundary.
func New(typ Type, actor string, payload Payload) *Event {
	return &Event{
		ID:        NewID(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Payload:   payload,
		Parents:   []ID{},
	}
}

// WithRun sets the run_id field and returns the receiver for chaining.
func (e *Event) WithRun(runID ID) *Event {
	s := string(runID)
	e.RunID = &s
	return e
}

// WithTask sets the task_id field and returns the receiver for chaining.
func (e *Event) WithTask(taskID ID) *Event {
	s := string(taskID)
	e.TaskID = &s
	return e
}

// WithParents overrides the lineage resolver's computed parents. Explicit
// parents always win (see internal/lineage).
func (e *Event) WithParents(parents ...ID) *Event {
	e.Parents = parents
	return e
}

// Seal computes Hash over the JCS-canonicalised event (minus Hash itself)
// after wiring in prevHash, and freezes the event against further mutation
// by convention (callers must not mutate a sealed Event). Sealing happens
// exactly once, inside the Akashic Record's append path.
func Seal(e *Event, prevHash *string) (*Event, error) {
	sealed := *e
	sealed.PrevHash = prevHash
	canon, err := Canonicalise(&sealed)
	if err != nil {
		return nil, fmt.Errorf("event: seal: canonicalise: %w", err)
	}
	sealed.Hash = hashHex(canon)
	return &sealed, nil
}

// Recompute returns the hash e *should* have, given its current content
// (including its own PrevHash), ignoring the stored Hash field. Used by
// chain verification.
func Recompute(e *Event) (string, error) {
	canon, err := Canonicalise(e)
	if err != nil {
		return "", fmt.Errorf("event: recompute: %w", err)
	}
	return hashHex(canon), nil
}

// sortedKeys is a small shared helper used by the canonicaliser.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
