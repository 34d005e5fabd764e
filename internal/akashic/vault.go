// Package akashic implements the Akashic Record (C2): a durable,
// append-only, hash-chained, per-stream event log on disk. It is the
// system's single source of truth; every other component either writes to
// it (the scheduler) or replays it (projections, sinks).
package akashic

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/k-iijima/hiveforge/internal/event"
	"github.com/k-iijima/hiveforge/internal/health"
)

// Vault owns one process's exclusive claim on a directory tree of streams.
// A single process owns a given Vault directory (SPEC_FULL.md §5); Open
// enforces that with the same flock idiom internal/health uses for Cortex's
// single-instance guarantee.
type Vault struct {
	root string
	lock *os.File
	log  *slog.Logger

	mu      sync.Mutex
	streams map[string]*stream
}

// Open acquires the Vault's exclusive lock and returns a ready handle.
// Callers must Close it on shutdown.
func Open(root string, logger *slog.Logger) (*Vault, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("akashic: mkdir vault root: %w", err)
	}
	lockPath := filepath.Join(root, ".lock")
	lf, err := health.AcquireFlock(lockPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVaultLocked, err)
	}
	return &Vault{
		root:    root,
		lock:    lf,
		log:     logger.With(slog.String("component", "akashic")),
		streams: make(map[string]*stream),
	}, nil
}

// Close flushes and closes every open stream handle and releases the
// Vault lock.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	var firstErr error
	for id, s := range v.streams {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("akashic: close stream %s: %w", id, err)
		}
	}
	health.ReleaseFlock(v.lock)
	return firstErr
}

func (v *Vault) streamDir(streamID string) string {
	return filepath.Join(v.root, streamID)
}

// handle returns (creating if needed) the in-memory handle for streamID.
func (v *Vault) handle(streamID string) (*stream, error) {
	if err := ValidateStreamID(streamID); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.streams[streamID]; ok {
		return s, nil
	}
	dir := v.streamDir(streamID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("akashic: mkdir stream dir: %w", err)
	}
	s := &stream{dir: dir}
	v.streams[streamID] = s
	return s, nil
}

// Append validates streamID, seals e against the stream's current tail
// hash, writes it, and returns the sealed event.
func (v *Vault) Append(streamID string, e *event.Event) (*event.Event, error) {
	s, err := v.handle(streamID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	sealed, err := event.Seal(e, s.lastHash)
	if err != nil {
		return nil, fmt.Errorf("akashic: seal: %w", err)
	}
	if err := s.append(sealed); err != nil {
		return nil, err
	}
	return sealed, nil
}

// GetLastEvent returns the most recently appended event for streamID, or
// nil if the stream is empty or doesn't exist. Every call reads the last
// event back from the events file with tailLastEvent; the in-memory tail
// state of an already-open stream is consulted only to return nil early
// for an empty stream, so the cost is not O(1).
func (v *Vault) GetLastEvent(streamID string) (*event.Event, error) {
	if err := ValidateStreamID(streamID); err != nil {
		return nil, err
	}
	v.mu.Lock()
	s, ok := v.streams[streamID]
	v.mu.Unlock()
	if !ok {
		return tailLastEvent(eventsFilePath(v.streamDir(streamID)))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	if s.lastHash == nil && s.lastID == "" {
		return nil, nil
	}
	return tailLastEvent(s.path())
}

// Replay streams events from streamID in insertion order, optionally
// filtered to events at or after since. It takes no lock: readers never
// block on writers, and an unparseable final line is treated as "not yet
// written" and skipped. An unparseable line followed by further lines is
// reported as ErrCorruptEvent.
func (v *Vault) Replay(streamID string, since *time.Time) ([]*event.Event, error) {
	if err := ValidateStreamID(streamID); err != nil {
		return nil, err
	}
	f, err := os.Open(eventsFilePath(v.streamDir(streamID)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("akashic: replay: %w", err)
	}
	defer f.Close()

	var out []*event.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := event.UnmarshalEventJSON(line)
		if err != nil {
			// A bad line with more lines after it is corruption; a bad
			// last line is a partial tail still being written, so stop
			// rather than surface a parse error to a concurrent reader.
			if scanner.Scan() {
				return nil, fmt.Errorf("%w: %v", ErrCorruptEvent, err)
			}
			break
		}
		if since != nil && ev.Timestamp.Before(*since) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// CountEvents returns the number of events in streamID via a linear scan.
// Callers are expected to be admin tools, not hot paths (§4.2).
func (v *Vault) CountEvents(streamID string) (int, error) {
	events, err := v.Replay(streamID, nil)
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

// VerifyChain recomputes every event's hash and checks the prev_hash chain
// for streamID, returning the index of the first failure if any.
func (v *Vault) VerifyChain(streamID string) (ok bool, firstFailureIndex int, err error) {
	events, err := v.Replay(streamID, nil)
	if err != nil {
		return false, -1, err
	}
	var prevHash *string
	for i, ev := range events {
		recomputed, rerr := event.Recompute(ev)
		if rerr != nil {
			return false, i, fmt.Errorf("%w: %v", ErrCorruptEvent, rerr)
		}
		if recomputed != ev.Hash {
			return false, i, fmt.Errorf("%w: event %s at index %d", ErrCorruptEvent, ev.ID, i)
		}
		if i == 0 {
			if ev.PrevHash != nil {
				return false, i, fmt.Errorf("%w: first event has non-nil prev_hash", ErrChainMismatch)
			}
		} else {
			if ev.PrevHash == nil || prevHash == nil || *ev.PrevHash != *prevHash {
				return false, i, fmt.Errorf("%w: at index %d", ErrChainMismatch, i)
			}
		}
		h := ev.Hash
		prevHash = &h
	}
	return true, -1, nil
}

// ListStreams enumerates stream directories under the Vault root that
// contain at least one events.jsonl file.
func (v *Vault) ListStreams() ([]string, error) {
	entries, err := os.ReadDir(v.root)
	if err != nil {
		return nil, fmt.Errorf("akashic: list streams: %w", err)
	}
	var streams []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(eventsFilePath(filepath.Join(v.root, e.Name()))); err == nil {
			streams = append(streams, e.Name())
		}
	}
	return streams, nil
}

// ExportStream copies streamID's events.jsonl byte-for-byte to dest,
// returning the number of bytes copied.
func (v *Vault) ExportStream(streamID, dest string) (int64, error) {
	if err := ValidateStreamID(streamID); err != nil {
		return 0, err
	}
	src := eventsFilePath(v.streamDir(streamID))
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrStreamNotFound
		}
		return 0, fmt.Errorf("akashic: export: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("akashic: export: create dest: %w", err)
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return n, fmt.Errorf("akashic: export: copy: %w", err)
	}
	return n, nil
}
