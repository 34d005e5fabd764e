package sink

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/k-iijima/hiveforge/internal/event"
)

// CommandRunner executes an external command in dir, returning its
// trimmed combined output. execRunner is the production implementation;
// tests substitute a fake that never shells out, mirroring internal/git's
// own exec.Command-plus-CombinedOutput idiom for talking to the gh CLI.
type CommandRunner interface {
	Run(dir, name string, args ...string) (string, error)
}

type execRunner struct{ workspace string }

func (r execRunner) Run(dir, name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		return "", fmt.Errorf("sink: %s %s: %w (%s)", name, strings.Join(args, " "), err, trimmed)
	}
	return trimmed, nil
}

// NewExecRunner returns a CommandRunner that shells out to real binaries
// (gh, in practice) from workspace.
func NewExecRunner(workspace string) CommandRunner { return execRunner{workspace: workspace} }

// GitHubSink mirrors Run/Task lifecycle events onto a GitHub issue per Run,
// using the gh CLI the same way internal/git/pr.go does rather than a
// go-github API client (no such client appears anywhere in the example
// pack; gh-CLI-via-exec.Command is the idiom the teacher's own GitHub
// integration uses) (SPEC_FULL.md §4.10).
//
//   - run.started          -> gh issue create
//   - task.completed       -> gh issue comment
//   - sentinel.alert_raised -> gh issue edit --add-label, then gh issue comment
//   - run.completed        -> gh issue comment, then gh issue close
type GitHubSink struct {
	runner    CommandRunner
	workspace string
	repo      string

	state *syncState

	mu          sync.Mutex
	issueForRun map[string]int // runID -> issue number
}

// NewGitHubSink returns a sink that creates/comments/closes issues in repo
// ("owner/name") via runner, invoked from workspace.
func NewGitHubSink(runner CommandRunner, workspace, repo string) *GitHubSink {
	return &GitHubSink{
		runner:      runner,
		workspace:   workspace,
		repo:        repo,
		state:       newSyncState(),
		issueForRun: make(map[string]int),
	}
}

// Apply routes e to the matching GitHub action, skipping event types this
// sink doesn't mirror and events already applied.
func (s *GitHubSink) Apply(e *event.Event) error {
	if s.state.alreadySynced(string(e.ID)) {
		return nil
	}

	var err error
	switch e.Type {
	case event.TypeRunStarted:
		err = s.onRunStarted(e)
	case event.TypeTaskCompleted:
		err = s.onTaskCompleted(e)
	case event.TypeSentinelAlertRaised:
		err = s.onSentinelAlert(e)
	case event.TypeRunCompleted:
		err = s.onRunCompleted(e)
	default:
		return nil
	}
	if err != nil {
		return err
	}

	streamID := ""
	if e.RunID != nil {
		streamID = string(*e.RunID)
	}
	s.state.markSynced(streamID, string(e.ID))
	return nil
}

// LastAppliedEventID exposes the sink's idempotency bookkeeping for a given
// Run's stream, for diagnostics/resume.
func (s *GitHubSink) LastAppliedEventID(runID string) string {
	return s.state.LastAppliedEventID(runID)
}

func (s *GitHubSink) runIDOf(e *event.Event) (string, error) {
	if e.RunID == nil {
		return "", fmt.Errorf("sink: github: event %s has no run_id", e.ID)
	}
	return string(*e.RunID), nil
}

func payloadString(e *event.Event, key string) string {
	op, ok := e.Payload.(event.OpaquePayload)
	if !ok {
		return ""
	}
	v, ok := op[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (s *GitHubSink) onRunStarted(e *event.Event) error {
	runID, err := s.runIDOf(e)
	if err != nil {
		return err
	}
	goal := payloadString(e, "goal")
	title := fmt.Sprintf("Run %s", runID)
	body := fmt.Sprintf("Goal: %s\n\nStarted %s.", goal, humanize.Time(e.Timestamp))

	out, err := s.runner.Run(s.workspace, "gh", "issue", "create",
		"--repo", s.repo, "--title", title, "--body", body)
	if err != nil {
		return fmt.Errorf("sink: github: create issue for run %s: %w", runID, err)
	}
	num, err := issueNumberFromURL(out)
	if err != nil {
		return fmt.Errorf("sink: github: parse issue number for run %s: %w", runID, err)
	}

	s.mu.Lock()
	s.issueForRun[runID] = num
	s.mu.Unlock()
	return nil
}

func (s *GitHubSink) onTaskCompleted(e *event.Event) error {
	runID, err := s.runIDOf(e)
	if err != nil {
		return err
	}
	num, ok := s.issueNumber(runID)
	if !ok {
		return fmt.Errorf("sink: github: task.completed for run %s with no tracked issue", runID)
	}

	taskID := ""
	if e.TaskID != nil {
		taskID = string(*e.TaskID)
	}
	output := payloadString(e, "output")
	body := fmt.Sprintf("Task %s completed %s.\n\n%s", taskID, humanize.Time(e.Timestamp), output)

	_, err = s.runner.Run(s.workspace, "gh", "issue", "comment", strconv.Itoa(num),
		"--repo", s.repo, "--body", body)
	if err != nil {
		return fmt.Errorf("sink: github: comment task.completed on issue %d: %w", num, err)
	}
	return nil
}

func (s *GitHubSink) onSentinelAlert(e *event.Event) error {
	runID, err := s.runIDOf(e)
	if err != nil {
		return err
	}
	num, ok := s.issueNumber(runID)
	if !ok {
		return fmt.Errorf("sink: github: sentinel.alert_raised for run %s with no tracked issue", runID)
	}

	if _, err := s.runner.Run(s.workspace, "gh", "issue", "edit", strconv.Itoa(num),
		"--repo", s.repo, "--add-label", "alert"); err != nil {
		return fmt.Errorf("sink: github: label issue %d: %w", num, err)
	}

	message := payloadString(e, "message")
	body := fmt.Sprintf("Alert raised %s:\n\n%s", humanize.Time(e.Timestamp), message)
	if _, err := s.runner.Run(s.workspace, "gh", "issue", "comment", strconv.Itoa(num),
		"--repo", s.repo, "--body", body); err != nil {
		return fmt.Errorf("sink: github: comment sentinel.alert_raised on issue %d: %w", num, err)
	}
	return nil
}

func (s *GitHubSink) onRunCompleted(e *event.Event) error {
	runID, err := s.runIDOf(e)
	if err != nil {
		return err
	}
	num, ok := s.issueNumber(runID)
	if !ok {
		return fmt.Errorf("sink: github: run.completed for run %s with no tracked issue", runID)
	}

	summary := payloadString(e, "summary")
	body := fmt.Sprintf("Run completed %s.\n\n%s", humanize.Time(e.Timestamp), summary)
	if _, err := s.runner.Run(s.workspace, "gh", "issue", "comment", strconv.Itoa(num),
		"--repo", s.repo, "--body", body); err != nil {
		return fmt.Errorf("sink: github: comment run.completed on issue %d: %w", num, err)
	}
	if _, err := s.runner.Run(s.workspace, "gh", "issue", "close", strconv.Itoa(num),
		"--repo", s.repo); err != nil {
		return fmt.Errorf("sink: github: close issue %d: %w", num, err)
	}
	return nil
}

func (s *GitHubSink) issueNumber(runID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	num, ok := s.issueForRun[runID]
	return num, ok
}

// issueNumberFromURL extracts the trailing /NNN from a gh-issue-create URL
// (https://github.com/org/repo/issues/123), the same parsing internal/git's
// CreatePR uses for PR URLs.
func issueNumberFromURL(url string) (int, error) {
	parts := strings.Split(url, "/")
	if len(parts) == 0 {
		return 0, fmt.Errorf("empty URL")
	}
	num, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, fmt.Errorf("no trailing issue number in %q: %w", url, err)
	}
	return num, nil
}
