package projection

import (
	"fmt"

	"github.com/k-iijima/hiveforge/internal/event"
)

// HiveState is the lifecycle state of a Hive.
type HiveState string

const (
	HiveActive HiveState = "active"
	HiveClosed HiveState = "closed"
)

// ColonyState is the lifecycle state of a Colony.
type ColonyState string

const (
	ColonyUnknown   ColonyState = "unknown"
	ColonyPending   ColonyState = "pending"
	ColonyRunning   ColonyState = "running"
	ColonyCompleted ColonyState = "completed"
	ColonyFailed    ColonyState = "failed"
)

// ColonyProjection is the folded state of one Colony.
type ColonyProjection struct {
	ID     string
	Name   string
	State  ColonyState
	Forced bool
}

// HiveProjection mirrors Hive/Colony lifecycles, aggregating colony states
// into a single hive state (§4.3).
type HiveProjection struct {
	HiveID   string
	Name     string
	State    HiveState
	Colonies map[string]*ColonyProjection
	Errors   []string
}

// NewHiveProjection returns an empty projection ready to be folded.
func NewHiveProjection(hiveID string) *HiveProjection {
	return &HiveProjection{
		HiveID:   hiveID,
		State:    HiveActive,
		Colonies: make(map[string]*ColonyProjection),
	}
}

// FoldHive builds a HiveProjection from a hive-level event stream.
func FoldHive(hiveID string, events []*event.Event) *HiveProjection {
	p := NewHiveProjection(hiveID)
	for _, e := range events {
		p.apply(e)
	}
	return p
}

func (p *HiveProjection) illegal(format string, args ...any) {
	p.Errors = append(p.Errors, fmt.Sprintf(format, args...))
}

func (p *HiveProjection) apply(e *event.Event) {
	switch e.Type {
	case event.TypeHiveCreated:
		if name, ok := stringField(e.Payload, "name"); ok {
			p.Name = name
		}

	case event.TypeHiveClosed:
		if p.State == HiveClosed {
			p.illegal("hive.closed observed twice")
			return
		}
		p.State = HiveClosed

	case event.TypeColonyCreated:
		colonyID, ok := stringField(e.Payload, "colony_id")
		if !ok {
			return
		}
		name, _ := stringField(e.Payload, "name")
		p.Colonies[colonyID] = &ColonyProjection{ID: colonyID, Name: name, State: ColonyPending}

	case event.TypeColonyStarted:
		c := p.colonyOrIllegal(e, "colony.started")
		if c == nil {
			return
		}
		c.State = ColonyRunning

	case event.TypeColonyCompleted:
		c := p.colonyOrIllegal(e, "colony.completed")
		if c == nil {
			return
		}
		c.State = ColonyCompleted
		if forced, ok := forcedField(e.Payload); ok {
			c.Forced = forced
		}

	case event.TypeColonyFailed:
		c := p.colonyOrIllegal(e, "colony.failed")
		if c == nil {
			return
		}
		c.State = ColonyFailed
		if forced, ok := forcedField(e.Payload); ok {
			c.Forced = forced
		}
	}
}

func (p *HiveProjection) colonyOrIllegal(e *event.Event, label string) *ColonyProjection {
	colonyID, ok := colonyIDField(e.Payload)
	if !ok {
		p.illegal("%s missing colony_id", label)
		return nil
	}
	c, ok := p.Colonies[colonyID]
	if !ok {
		p.illegal("%s references unknown colony %s", label, colonyID)
		return nil
	}
	return c
}

func colonyIDField(p event.Payload) (string, bool) {
	if cp, ok := p.(event.ColonyCompletedPayload); ok {
		return cp.ColonyID, cp.ColonyID != ""
	}
	return stringField(p, "colony_id")
}

func forcedField(p event.Payload) (bool, bool) {
	if cp, ok := p.(event.ColonyCompletedPayload); ok {
		return cp.Forced, true
	}
	return boolField(p, "forced")
}

// AllColoniesTerminal reports whether every known Colony has reached a
// terminal state, and whether any of them failed.
func (p *HiveProjection) AllColoniesTerminal() (allTerminal, anyFailed bool) {
	if len(p.Colonies) == 0 {
		return false, false
	}
	allTerminal = true
	for _, c := range p.Colonies {
		if c.State != ColonyCompleted && c.State != ColonyFailed {
			allTerminal = false
		}
		if c.State == ColonyFailed {
			anyFailed = true
		}
	}
	return allTerminal, anyFailed
}

func stringField(p event.Payload, key string) (string, bool) {
	if op, ok := p.(event.OpaquePayload); ok {
		v, ok := op[key].(string)
		return v, ok
	}
	return "", false
}

func boolField(p event.Payload, key string) (bool, bool) {
	if op, ok := p.(event.OpaquePayload); ok {
		v, ok := op[key].(bool)
		return v, ok
	}
	return false, false
}
