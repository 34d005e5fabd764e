package event

import (
	"encoding/json"
	"fmt"
)

// wireEvent is the exact on-disk/over-the-wire shape from SPEC_FULL.md §6.
// Field order here is cosmetic (encoding/json always sorts struct fields by
// declaration, not alphabetically) — the canonical, hash-relevant ordering
// lives in Canonicalise, not here.
type wireEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	RunID     *string        `json:"run_id"`
	TaskID    *string        `json:"task_id"`
	Actor     string         `json:"actor"`
	Payload   map[string]any `json:"payload"`
	Parents   []string       `json:"parents"`
	PrevHash  *string        `json:"prev_hash"`
	Hash      string         `json:"hash"`
}

// MarshalLine renders a sealed event as one JSON line (no trailing
// newline) suitable for appending to a stream's events.jsonl.
func MarshalLine(e *Event) ([]byte, error) {
	parents := make([]string, len(e.Parents))
	for i, p := range e.Parents {
		parents[i] = string(p)
	}
	w := wireEvent{
		ID:        string(e.ID),
		Type:      string(e.Type),
		Timestamp: e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"),
		RunID:     e.RunID,
		TaskID:    e.TaskID,
		Actor:     e.Actor,
		Payload:   payloadToMap(e.Payload),
		Parents:   parents,
		PrevHash:  e.PrevHash,
		Hash:      e.Hash,
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("event: marshal line: %w", err)
	}
	return b, nil
}
