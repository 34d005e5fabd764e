package scheduler

import (
	"fmt"
	"sync"

	"github.com/robfig/cron"

	"github.com/k-iijima/hiveforge/internal/event"
)

// ConferenceStatus is a Conference session's lifecycle state (§4.9h).
type ConferenceStatus string

const (
	ConferencePending    ConferenceStatus = "pending"
	ConferenceInProgress ConferenceStatus = "in_progress"
	ConferenceVoting     ConferenceStatus = "voting"
	ConferenceConcluded  ConferenceStatus = "concluded"
	ConferenceCancelled  ConferenceStatus = "cancelled"
)

// VoteType is one Colony's vote on a Conference agenda.
type VoteType string

const (
	VoteApprove VoteType = "approve"
	VoteReject  VoteType = "reject"
	VoteAbstain VoteType = "abstain"
)

// ConferenceAgenda is the question a Conference session puts to its
// participant Colonies.
type ConferenceAgenda struct {
	Title             string
	Description       string
	Options           []string
	RequiresConsensus bool
}

// Vote is one participant's cast vote.
type Vote struct {
	ColonyID string
	Type     VoteType
	Comment  string
}

// ConferenceSession is a Colony-to-Colony coordination session (§3.1, §4.9h).
// Quorum is the minimum number of votes required before tallying is
// considered meaningful; TieBreaker names the Colony whose vote decides a
// tie, both supplementing the base spec per the original's conference.py.
type ConferenceSession struct {
	ID           string
	HiveID       string
	Topic        string
	Agenda       ConferenceAgenda
	Status       ConferenceStatus
	Participants []string
	Votes        []Vote
	Conclusion   string
	Quorum       int
	TieBreaker   string
}

func (s *ConferenceSession) isActive() bool {
	return s.Status == ConferenceInProgress || s.Status == ConferenceVoting
}

// ConferenceManager owns every Conference session's lifecycle and emits the
// corresponding events. One manager is process-wide; sessions are keyed by
// ID, generalised from the teacher's in-memory-map-plus-listener pattern
// used across internal/scheduler and internal/chief.
type ConferenceManager struct {
	vault Vault

	mu       sync.Mutex
	sessions map[string]*ConferenceSession
	cron     *cron.Cron
}

// NewConferenceManager returns a manager with its own cron scheduler for
// recurring conference cadences (§2.2); callers must call Start/Stop on the
// returned manager to run scheduled cadences.
func NewConferenceManager(vault Vault) *ConferenceManager {
	return &ConferenceManager{
		vault:    vault,
		sessions: make(map[string]*ConferenceSession),
		cron:     cron.New(),
	}
}

// ScheduleCadence registers fn to run on the given cron expression — e.g.
// opening a recurring planning conference every morning.
func (m *ConferenceManager) ScheduleCadence(spec string, fn func()) error {
	return m.cron.AddFunc(spec, fn)
}

// StartCadences begins running registered cadences in the background.
func (m *ConferenceManager) StartCadences() { m.cron.Start() }

// StopCadences halts the cron scheduler.
func (m *ConferenceManager) StopCadences() { m.cron.Stop() }

func conferenceStreamID(hiveID string) string { return fmt.Sprintf("hive-%s", hiveID) }

// Open creates and starts a Conference session, emitting conference.opened.
func (m *ConferenceManager) Open(hiveID, topic string, participants []string, agenda ConferenceAgenda, quorum int, tieBreaker string) (*ConferenceSession, error) {
	s := &ConferenceSession{
		ID:           string(event.NewID()),
		HiveID:       hiveID,
		Topic:        topic,
		Agenda:       agenda,
		Status:       ConferenceInProgress,
		Participants: participants,
		Quorum:       quorum,
		TieBreaker:   tieBreaker,
	}

	e := event.New(event.TypeConferenceOpened, "scheduler", event.OpaquePayload{
		"session_id":   s.ID,
		"topic":        topic,
		"participants": participants,
	})
	if _, err := m.vault.Append(conferenceStreamID(hiveID), e); err != nil {
		return nil, fmt.Errorf("scheduler: open conference: %w", err)
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s, nil
}

// StartVoting moves an in-progress session into its voting phase.
func (m *ConferenceManager) StartVoting(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("scheduler: start voting: unknown conference %s", sessionID)
	}
	if s.Status != ConferenceInProgress {
		return fmt.Errorf("scheduler: start voting: conference %s not in_progress (is %s)", sessionID, s.Status)
	}
	s.Status = ConferenceVoting
	return nil
}

// CastVote records colonyID's vote, replacing any prior vote by the same
// Colony, and emits conference.vote_cast.
func (m *ConferenceManager) CastVote(sessionID, colonyID string, vt VoteType, comment string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("scheduler: cast vote: unknown conference %s", sessionID)
	}
	if s.Status != ConferenceVoting {
		m.mu.Unlock()
		return fmt.Errorf("scheduler: cast vote: conference %s not in voting phase", sessionID)
	}
	if !contains(s.Participants, colonyID) {
		m.mu.Unlock()
		return fmt.Errorf("scheduler: cast vote: %s is not a participant of %s", colonyID, sessionID)
	}
	filtered := s.Votes[:0]
	for _, v := range s.Votes {
		if v.ColonyID != colonyID {
			filtered = append(filtered, v)
		}
	}
	s.Votes = append(filtered, Vote{ColonyID: colonyID, Type: vt, Comment: comment})
	hiveID := s.HiveID
	m.mu.Unlock()

	e := event.New(event.TypeConferenceVoteCast, "scheduler", event.OpaquePayload{
		"session_id": sessionID,
		"colony_id":  colonyID,
		"vote":       string(vt),
	})
	if _, err := m.vault.Append(conferenceStreamID(hiveID), e); err != nil {
		return fmt.Errorf("scheduler: record vote: %w", err)
	}
	return nil
}

// Conclude tallies votes deterministically (unless an explicit conclusion is
// given) and emits conference.concluded.
func (m *ConferenceManager) Conclude(sessionID, conclusion string) (*ConferenceSession, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("scheduler: conclude conference: unknown conference %s", sessionID)
	}
	if !s.isActive() {
		m.mu.Unlock()
		return nil, fmt.Errorf("scheduler: conclude conference: %s is not active", sessionID)
	}
	if conclusion == "" {
		conclusion = summarizeVotes(s)
	}
	s.Conclusion = conclusion
	s.Status = ConferenceConcluded
	hiveID := s.HiveID
	m.mu.Unlock()

	e := event.New(event.TypeConferenceConcluded, "scheduler", event.OpaquePayload{
		"session_id": sessionID,
		"conclusion": conclusion,
	})
	if _, err := m.vault.Append(conferenceStreamID(hiveID), e); err != nil {
		return nil, fmt.Errorf("scheduler: record conclusion: %w", err)
	}
	return s, nil
}

// Cancel marks a non-concluded session cancelled.
func (m *ConferenceManager) Cancel(sessionID, reason string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("scheduler: cancel conference: unknown conference %s", sessionID)
	}
	if s.Status == ConferenceConcluded {
		m.mu.Unlock()
		return fmt.Errorf("scheduler: cancel conference: %s already concluded", sessionID)
	}
	s.Status = ConferenceCancelled
	hiveID := s.HiveID
	m.mu.Unlock()

	e := event.New(event.TypeConferenceCancelled, "scheduler", event.OpaquePayload{
		"session_id": sessionID,
		"reason":     reason,
	})
	_, err := m.vault.Append(conferenceStreamID(hiveID), e)
	return err
}

// Get returns the session by ID.
func (m *ConferenceManager) Get(sessionID string) (*ConferenceSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// summarizeVotes deterministically tallies a session's votes: consensus
// agendas require unanimous approval, otherwise it's a simple majority with
// TieBreaker deciding ties when set (§4.9h, §3.1).
func summarizeVotes(s *ConferenceSession) string {
	var approve, reject, abstain int
	byColony := make(map[string]VoteType, len(s.Votes))
	for _, v := range s.Votes {
		byColony[v.ColonyID] = v.Type
		switch v.Type {
		case VoteApprove:
			approve++
		case VoteReject:
			reject++
		default:
			abstain++
		}
	}
	total := len(s.Participants)

	if s.Agenda.RequiresConsensus {
		switch {
		case approve == total:
			return "consensus reached: approved"
		case reject > 0:
			return fmt.Sprintf("no consensus: %d rejections", reject)
		default:
			// Participants who cast no vote count as abstaining.
			return fmt.Sprintf("no consensus: %d abstentions", abstain+total-len(byColony))
		}
	}

	switch {
	case approve > reject:
		return fmt.Sprintf("approved (%d/%d)", approve, total)
	case reject > approve:
		return fmt.Sprintf("rejected (%d/%d)", reject, total)
	case s.TieBreaker != "":
		if byColony[s.TieBreaker] == VoteApprove {
			return fmt.Sprintf("tied (%d/%d), broken by %s: approved", approve, total, s.TieBreaker)
		}
		return fmt.Sprintf("tied (%d/%d), broken by %s: rejected", approve, total, s.TieBreaker)
	default:
		return fmt.Sprintf("tied (%d/%d)", approve, total)
	}
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}
