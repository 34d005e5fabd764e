// Package sink implements Projection Sinks (C10): downstream consumers
// that tail the Akashic Record and mirror selected events into external
// systems (GitHub issues today). Sinks never write back into the AR; each
// one tracks its own last_applied_event_id/synced_event_ids so re-applying
// an already-synced event is a no-op (SPEC_FULL.md §4.10).
package sink

import (
	"sync"
	"time"

	"github.com/k-iijima/hiveforge/internal/event"
)

// Sink consumes one event at a time. Apply must be idempotent: calling it
// twice with the same event ID must leave external state unchanged after
// the first call.
type Sink interface {
	Apply(e *event.Event) error
}

// Vault is the subset of *akashic.Vault a Tailer needs: list every stream
// and replay each one's tail.
type Vault interface {
	ListStreams() ([]string, error)
	Replay(streamID string, since *time.Time) ([]*event.Event, error)
}

// syncState tracks idempotency bookkeeping shared by every sink
// implementation: which event IDs have already been applied, keyed by
// stream so a sink can resume from exactly where it left off per stream.
type syncState struct {
	mu                 sync.Mutex
	lastAppliedEventID map[string]string // streamID -> event ID
	syncedEventIDs     map[string]bool   // event ID -> applied
}

func newSyncState() *syncState {
	return &syncState{
		lastAppliedEventID: make(map[string]string),
		syncedEventIDs:     make(map[string]bool),
	}
}

func (s *syncState) alreadySynced(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncedEventIDs[eventID]
}

func (s *syncState) markSynced(streamID, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncedEventIDs[eventID] = true
	s.lastAppliedEventID[streamID] = eventID
}

// LastAppliedEventID returns the last event ID applied for streamID, or ""
// if none has been applied yet.
func (s *syncState) LastAppliedEventID(streamID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAppliedEventID[streamID]
}
