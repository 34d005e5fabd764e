package scheduler

import (
	"testing"

	"github.com/k-iijima/hiveforge/internal/event"
)

func TestConferenceManagerConsensusRequiresUnanimity(t *testing.T) {
	v := newMemVault()
	m := NewConferenceManager(v)

	s, err := m.Open("hive-1", "merge strategy", []string{"c1", "c2", "c3"},
		ConferenceAgenda{Title: "adopt strategy X", RequiresConsensus: true}, 2, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.StartVoting(s.ID); err != nil {
		t.Fatalf("StartVoting: %v", err)
	}
	for _, c := range []string{"c1", "c2"} {
		if err := m.CastVote(s.ID, c, VoteApprove, ""); err != nil {
			t.Fatalf("CastVote(%s): %v", c, err)
		}
	}
	concluded, err := m.Conclude(s.ID, "")
	if err != nil {
		t.Fatalf("Conclude: %v", err)
	}
	if concluded.Conclusion != "no consensus: 1 abstentions" {
		t.Fatalf("conclusion = %q, want no-consensus abstentions summary", concluded.Conclusion)
	}
}

func TestConferenceManagerMajorityVote(t *testing.T) {
	v := newMemVault()
	m := NewConferenceManager(v)

	s, _ := m.Open("hive-1", "priority reorder", []string{"c1", "c2", "c3"}, ConferenceAgenda{}, 2, "")
	_ = m.StartVoting(s.ID)
	_ = m.CastVote(s.ID, "c1", VoteApprove, "")
	_ = m.CastVote(s.ID, "c2", VoteApprove, "")
	_ = m.CastVote(s.ID, "c3", VoteReject, "")

	concluded, err := m.Conclude(s.ID, "")
	if err != nil {
		t.Fatalf("Conclude: %v", err)
	}
	if concluded.Conclusion != "approved (2/3)" {
		t.Fatalf("conclusion = %q, want approved (2/3)", concluded.Conclusion)
	}
}

func TestConferenceManagerTieBrokenByDesignatedColony(t *testing.T) {
	v := newMemVault()
	m := NewConferenceManager(v)

	s, _ := m.Open("hive-1", "tool choice", []string{"c1", "c2"}, ConferenceAgenda{}, 2, "c2")
	_ = m.StartVoting(s.ID)
	_ = m.CastVote(s.ID, "c1", VoteApprove, "")
	_ = m.CastVote(s.ID, "c2", VoteReject, "")

	concluded, err := m.Conclude(s.ID, "")
	if err != nil {
		t.Fatalf("Conclude: %v", err)
	}
	want := "tied (1/2), broken by c2: rejected"
	if concluded.Conclusion != want {
		t.Fatalf("conclusion = %q, want %q", concluded.Conclusion, want)
	}
}

func TestConferenceManagerCastVoteRejectsNonParticipant(t *testing.T) {
	v := newMemVault()
	m := NewConferenceManager(v)

	s, _ := m.Open("hive-1", "topic", []string{"c1"}, ConferenceAgenda{}, 1, "")
	_ = m.StartVoting(s.ID)

	if err := m.CastVote(s.ID, "outsider", VoteApprove, ""); err == nil {
		t.Fatalf("CastVote from non-participant should error")
	}
}

func TestConferenceManagerCancelBlockedAfterConclusion(t *testing.T) {
	v := newMemVault()
	m := NewConferenceManager(v)

	s, _ := m.Open("hive-1", "topic", []string{"c1"}, ConferenceAgenda{}, 1, "")
	_ = m.StartVoting(s.ID)
	_ = m.CastVote(s.ID, "c1", VoteApprove, "")
	if _, err := m.Conclude(s.ID, ""); err != nil {
		t.Fatalf("Conclude: %v", err)
	}

	if err := m.Cancel(s.ID, "too late"); err == nil {
		t.Fatalf("Cancel after Conclude should error")
	}

	events := v.eventsOf(conferenceStreamID("hive-1"))
	var types []event.Type
	for _, e := range events {
		types = append(types, e.Type)
	}
	if len(types) < 3 || types[0] != event.TypeConferenceOpened || types[len(types)-1] != event.TypeConferenceConcluded {
		t.Fatalf("event sequence = %v, want opened...concluded", types)
	}
}
