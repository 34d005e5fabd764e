package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/k-iijima/hiveforge/internal/event"
)

// SilenceWatchdog periodically checks every registered Run's
// now-last_activity gap and emits system.silence_detected on breach
// (§4.9f). It never holds a lock across its wait — the wait itself is a
// cancellable context.Context sleep.
type SilenceWatchdog struct {
	vault     Vault
	threshold time.Duration
	streamOf  func(runID string) string

	mu            sync.Mutex
	lastActivity  map[string]time.Time
	callbacks     []func(runID string)
}

// NewSilenceWatchdog returns a watchdog with the given breach threshold
// (default 60s when zero) and a function mapping a Run ID to the stream it
// should emit into.
func NewSilenceWatchdog(vault Vault, threshold time.Duration, streamOf func(runID string) string) *SilenceWatchdog {
	if threshold <= 0 {
		threshold = 60 * time.Second
	}
	return &SilenceWatchdog{
		vault:        vault,
		threshold:    threshold,
		streamOf:     streamOf,
		lastActivity: make(map[string]time.Time),
	}
}

// Register starts tracking runID, seeding its last-activity time to now.
func (w *SilenceWatchdog) Register(runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastActivity[runID] = time.Now()
}

// Unregister stops tracking runID (called once it reaches a terminal
// state).
func (w *SilenceWatchdog) Unregister(runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.lastActivity, runID)
}

// Touch refreshes runID's last-activity timestamp; callers invoke this for
// every event appended to that Run's stream (§4.9f: "refreshed by any
// appended event for that Run").
func (w *SilenceWatchdog) Touch(runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.lastActivity[runID]; ok {
		w.lastActivity[runID] = time.Now()
	}
}

// OnSilence registers a callback invoked (in addition to the
// system.silence_detected event) when a Run breaches the threshold.
func (w *SilenceWatchdog) OnSilence(cb func(runID string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Run blocks, checking every registered Run once per poll interval, until
// ctx is cancelled. The poll interval is the watchdog's threshold divided
// by four (never less than one second), so breaches are detected promptly
// without checking on every threshold-sized tick.
func (w *SilenceWatchdog) Run(ctx context.Context) {
	interval := w.threshold / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkAll()
		}
	}
}

func (w *SilenceWatchdog) checkAll() {
	now := time.Now()
	w.mu.Lock()
	type breach struct {
		runID     string
		silentFor time.Duration
	}
	var breached []breach
	for runID, last := range w.lastActivity {
		if gap := now.Sub(last); gap >= w.threshold {
			breached = append(breached, breach{runID: runID, silentFor: gap})
			// Re-arm so a sustained silence doesn't re-fire every poll.
			w.lastActivity[runID] = now
		}
	}
	callbacks := append([]func(string){}, w.callbacks...)
	w.mu.Unlock()

	for _, b := range breached {
		w.emitSilence(b.runID, b.silentFor)
		for _, cb := range callbacks {
			cb(b.runID)
		}
	}
}

func (w *SilenceWatchdog) emitSilence(runID string, silentFor time.Duration) {
	if w.vault == nil || w.streamOf == nil {
		return
	}
	e := event.New(event.TypeSystemSilenceDetected, "scheduler", event.SystemSilenceDetectedPayload{SilentForSeconds: silentFor.Seconds()}).WithRun(event.ID(runID))
	_, _ = w.vault.Append(w.streamOf(runID), e)
}
