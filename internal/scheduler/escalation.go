package scheduler

import (
	"fmt"
	"sync"

	"github.com/k-iijima/hiveforge/internal/event"
)

// EscalationSeverity is how serious the escalation is, distinct from
// messenger.MessagePriority ("urgency") per §3.1.
type EscalationSeverity string

const (
	SeverityInfo     EscalationSeverity = "info"
	SeverityWarning  EscalationSeverity = "warning"
	SeverityCritical EscalationSeverity = "critical"
)

// EscalationStatus tracks whether a Beekeeper has acted on an escalation.
type EscalationStatus string

const (
	EscalationPending      EscalationStatus = "pending"
	EscalationAcknowledged EscalationStatus = "acknowledged"
	EscalationResolved     EscalationStatus = "resolved"
	EscalationDismissed    EscalationStatus = "dismissed"
)

// Escalation is a Queen's direct appeal to the Beekeeper, bypassing its own
// Colony's chain of command (§4.9j).
type Escalation struct {
	EventID          string
	ColonyID         string
	Type             string
	Severity         EscalationSeverity
	Status           EscalationStatus
	Title            string
	Description      string
	SuggestedActions []string
	Resolution       string
}

// EscalationManager tracks open escalations and resolves them via
// beekeeper.feedback events, generalised from the teacher's in-memory
// pending-map-plus-history pattern.
type EscalationManager struct {
	vault Vault

	mu       sync.Mutex
	pending  map[string]*Escalation // eventID -> escalation
	history  []*Escalation
}

// NewEscalationManager returns a manager with no pending escalations.
func NewEscalationManager(vault Vault) *EscalationManager {
	return &EscalationManager{vault: vault, pending: make(map[string]*Escalation)}
}

func escalationStreamID(colonyID string) string { return fmt.Sprintf("colony-%s", colonyID) }

// Raise emits queen.escalation and tracks it as pending (§4.9j).
func (m *EscalationManager) Raise(colonyID, escalationType, title, description string, severity EscalationSeverity, suggestedActions []string) (*Escalation, error) {
	e := event.New(event.TypeQueenEscalation, "scheduler", event.QueenEscalationPayload{
		EscalationType:   escalationType,
		Severity:         string(severity),
		SuggestedActions: suggestedActions,
	})
	sealed, err := m.vault.Append(escalationStreamID(colonyID), e)
	if err != nil {
		return nil, fmt.Errorf("scheduler: raise escalation: %w", err)
	}

	esc := &Escalation{
		EventID:          string(sealed.ID),
		ColonyID:         colonyID,
		Type:             escalationType,
		Severity:         severity,
		Status:           EscalationPending,
		Title:            title,
		Description:      description,
		SuggestedActions: suggestedActions,
	}
	m.mu.Lock()
	m.pending[esc.EventID] = esc
	m.mu.Unlock()
	return esc, nil
}

// Resolve applies Beekeeper feedback to a pending escalation, emitting
// beekeeper.feedback and moving it to history. action is one of
// "acknowledge", "resolve", or "dismiss"; only "resolve" and "dismiss" move
// the escalation out of Pending().
func (m *EscalationManager) Resolve(eventID, action, resolution string) error {
	m.mu.Lock()
	esc, ok := m.pending[eventID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("scheduler: resolve escalation: unknown escalation %s", eventID)
	}

	switch action {
	case "acknowledge":
		esc.Status = EscalationAcknowledged
	case "resolve":
		esc.Status = EscalationResolved
		esc.Resolution = resolution
	case "dismiss":
		esc.Status = EscalationDismissed
		esc.Resolution = resolution
	default:
		m.mu.Unlock()
		return fmt.Errorf("scheduler: resolve escalation: unknown action %q", action)
	}
	terminal := esc.Status == EscalationResolved || esc.Status == EscalationDismissed
	if terminal {
		delete(m.pending, eventID)
		m.history = append(m.history, esc)
	}
	colonyID := esc.ColonyID
	m.mu.Unlock()

	e := event.New(event.TypeBeekeeperFeedback, "scheduler", event.BeekeeperFeedbackPayload{
		EscalationEventID: eventID,
		Resolution:        resolution,
	})
	_, err := m.vault.Append(escalationStreamID(colonyID), e)
	return err
}

// Pending returns every escalation awaiting Beekeeper action.
func (m *EscalationManager) Pending() []*Escalation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Escalation, 0, len(m.pending))
	for _, e := range m.pending {
		out = append(out, e)
	}
	return out
}

// CriticalCount returns how many pending escalations are severity=critical.
func (m *EscalationManager) CriticalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.pending {
		if e.Severity == SeverityCritical {
			n++
		}
	}
	return n
}
