package scheduler

import (
	"sync"
	"time"

	"github.com/k-iijima/hiveforge/internal/event"
)

// memVault is a minimal in-memory stand-in for *akashic.Vault, sufficient
// for exercising the scheduler's lifecycle-event-writing logic without disk
// I/O or hash-chaining.
type memVault struct {
	mu      sync.Mutex
	streams map[string][]*event.Event
}

func newMemVault() *memVault {
	return &memVault{streams: make(map[string][]*event.Event)}
}

func (v *memVault) Append(streamID string, e *event.Event) (*event.Event, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.streams[streamID] = append(v.streams[streamID], e)
	return e, nil
}

func (v *memVault) Replay(streamID string, since *time.Time) ([]*event.Event, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	events := v.streams[streamID]
	if since == nil {
		out := make([]*event.Event, len(events))
		copy(out, events)
		return out, nil
	}
	var out []*event.Event
	for _, e := range events {
		if !e.Timestamp.Before(*since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (v *memVault) eventsOf(streamID string) []*event.Event {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.streams[streamID]
}

// fakeDispatcher records Dispatch calls and returns scripted workflow IDs
// (or a scripted error) without touching Temporal.
type fakeDispatcher struct {
	mu        sync.Mutex
	dispatched []TaskContext
	nextErr   error
	terminated []string
}

func (d *fakeDispatcher) Dispatch(ctx TaskContext, role string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.nextErr != nil {
		return "", d.nextErr
	}
	d.dispatched = append(d.dispatched, ctx)
	return "wf-" + ctx.CurrentTaskID, nil
}

func (d *fakeDispatcher) Terminate(workflowID, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.terminated = append(d.terminated, workflowID)
	return nil
}
