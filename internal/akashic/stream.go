package akashic

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/k-iijima/hiveforge/internal/event"
)

// streamIDPattern enforces SPEC_FULL.md §6: alphanumerics, '-', '_', 1-128
// chars. Anything else (path separators, "..", control bytes) is rejected
// before it ever touches the filesystem.
var streamIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateStreamID rejects path traversal and control-byte smuggling
// attempts up front, per the InvalidStreamId failure mode in §4.2.
func ValidateStreamID(id string) error {
	if !streamIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidStreamId, id)
	}
	return nil
}

// fsyncBatchEvents and fsyncBatchInterval implement the "flush after each
// append; fsync batched up to 50ms or 32 events, whichever first" policy
// from §4.2.
const (
	fsyncBatchEvents   = 32
	fsyncBatchInterval = 50 * time.Millisecond
)

// stream is the single-writer handle for one stream's events.jsonl. All
// mutation goes through mu; replay() (in vault.go) never takes it.
type stream struct {
	mu   sync.Mutex
	dir  string
	file *os.File

	lastHash    *string
	lastID      event.ID
	initialized bool

	pending   int
	flushTimer *time.Timer
}

func (s *stream) path() string {
	return eventsFilePath(s.dir)
}

func eventsFilePath(dir string) string {
	return dir + string(os.PathSeparator) + "events.jsonl"
}

// ensureOpen opens (creating if absent) the append-mode file handle and,
// the first time, recovers the tail cache by scanning the file's last
// valid line.
func (s *stream) ensureOpen() error {
	if s.file == nil {
		f, err := os.OpenFile(s.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("akashic: open stream file: %w", err)
		}
		s.file = f
	}
	if !s.initialized {
		last, err := tailLastEvent(s.path())
		if err != nil {
			return err
		}
		if last != nil {
			s.lastID = last.ID
			hash := last.Hash
			s.lastHash = &hash
		}
		s.initialized = true
	}
	return nil
}

// tailLastEvent scans an events.jsonl file for the last well-formed event,
// tolerating a single unterminated trailing line (§9: "a reader opening the
// file mid-write must tolerate a single unterminated tail line").
func tailLastEvent(path string) (*event.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("akashic: tail scan: %w", err)
	}
	defer f.Close()

	var last *event.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := event.UnmarshalEventJSON(line)
		if err != nil {
			// Not-yet-flushed tail line or corruption; tail scan treats it
			// as "not yet written" per the stream invariant note in §9 and
			// simply stops here. Full corruption detection is VerifyChain's
			// job, not the tail cache's.
			break
		}
		last = ev
	}
	return last, nil
}

// append writes one sealed line to disk, updates the tail cache, and
// applies the fsync batching policy. Must be called with mu held.
func (s *stream) append(e *event.Event) error {
	line, err := event.MarshalLine(e)
	if err != nil {
		return fmt.Errorf("akashic: %w", err)
	}
	line = append(line, '\n')
	if _, err := s.file.Write(line); err != nil {
		s.invalidateLocked()
		return fmt.Errorf("akashic: write: %w", err)
	}

	hash := e.Hash
	s.lastHash = &hash
	s.lastID = e.ID
	s.pending++

	if s.pending >= fsyncBatchEvents {
		return s.flushLocked()
	}
	s.scheduleFlushLocked()
	return nil
}

// scheduleFlushLocked arms the batch timer unless one is already armed; it fires at most
// fsyncBatchInterval after the first buffered, unflushed append.
func (s *stream) scheduleFlushLocked() {
	if s.flushTimer != nil {
		return
	}
	s.flushTimer = time.AfterFunc(fsyncBatchInterval, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		_ = s.flushLocked()
	})
}

func (s *stream) flushLocked() error {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	if s.file == nil || s.pending == 0 {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		s.invalidateLocked()
		return fmt.Errorf("akashic: fsync: %w", err)
	}
	s.pending = 0
	return nil
}

// invalidateLocked drops the tail cache so the next access falls back to a
// fresh file scan, per §4.2's "on any write failure, the stream's tail
// cache is invalidated" rule.
func (s *stream) invalidateLocked() {
	s.initialized = false
	s.lastHash = nil
	s.lastID = ""
}

func (s *stream) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.flushLocked()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
