package sink

import (
	"context"
	"log/slog"
	"time"
)

// Tailer polls every stream in a Vault and feeds newly-appended events to a
// fixed set of sinks, one tick at a time. Grounded on the scheduler's
// ticker-driven tick loop (internal/scheduler/scheduler.go) — sinks never
// write back into the AR, so a plain poll loop (rather than a push
// subscription) is enough.
type Tailer struct {
	vault  Vault
	sinks  []Sink
	logger *slog.Logger

	interval time.Duration
	cursor   map[string]time.Time // streamID -> last-seen event timestamp
}

// NewTailer returns a Tailer polling vault every interval (default 5s when
// zero) and applying every event to every sink in order.
func NewTailer(vault Vault, sinks []Sink, logger *slog.Logger, interval time.Duration) *Tailer {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Tailer{
		vault:    vault,
		sinks:    sinks,
		logger:   logger,
		interval: interval,
		cursor:   make(map[string]time.Time),
	}
}

// Run blocks, polling until ctx is cancelled.
func (t *Tailer) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.poll()
		}
	}
}

func (t *Tailer) poll() {
	streams, err := t.vault.ListStreams()
	if err != nil {
		t.logger.Error("sink tailer: list streams", "error", err)
		return
	}
	for _, streamID := range streams {
		t.pollStream(streamID)
	}
}

func (t *Tailer) pollStream(streamID string) {
	var since *time.Time
	if last, ok := t.cursor[streamID]; ok {
		since = &last
	}
	events, err := t.vault.Replay(streamID, since)
	if err != nil {
		t.logger.Error("sink tailer: replay stream", "stream_id", streamID, "error", err)
		return
	}
	for _, e := range events {
		for _, s := range t.sinks {
			if err := s.Apply(e); err != nil {
				t.logger.Error("sink tailer: apply event", "stream_id", streamID, "event_id", e.ID, "error", err)
			}
		}
		if since == nil || e.Timestamp.After(*since) {
			ts := e.Timestamp
			t.cursor[streamID] = ts
			since = &ts
		}
	}
}
