package scheduler

import (
	"testing"

	"github.com/k-iijima/hiveforge/internal/event"
	"github.com/k-iijima/hiveforge/internal/projection"
)

func runLifecycleEvent(typ event.Type, runID string) *event.Event {
	return event.New(typ, "test", event.OpaquePayload{}).WithRun(event.ID(runID))
}

func TestColonyRollupCompletesWhenAllRunsComplete(t *testing.T) {
	v := newMemVault()
	hives := NewHiveManager(v)
	hiveID, _ := hives.CreateHive("forge")
	colonyID, _ := hives.CreateColony(hiveID, "c1")
	_ = hives.StartColony(hiveID, colonyID)

	r := NewColonyRollup(hives)
	r.Track(hiveID, colonyID)
	r.RegisterRun(colonyID, "run-1")
	r.RegisterRun(colonyID, "run-2")

	if err := r.ApplyRunEvent(colonyID, runLifecycleEvent(event.TypeRunCompleted, "run-1")); err != nil {
		t.Fatalf("ApplyRunEvent: %v", err)
	}
	p, _ := hives.Get(hiveID)
	if p.Colonies[colonyID].State != projection.ColonyRunning {
		t.Fatalf("colony should still be running with one run outstanding, got %v", p.Colonies[colonyID].State)
	}

	if err := r.ApplyRunEvent(colonyID, runLifecycleEvent(event.TypeRunCompleted, "run-2")); err != nil {
		t.Fatalf("ApplyRunEvent: %v", err)
	}
	p, _ = hives.Get(hiveID)
	if p.Colonies[colonyID].State != projection.ColonyCompleted {
		t.Fatalf("colony state = %v, want completed once every run completes", p.Colonies[colonyID].State)
	}
}

func TestColonyRollupFailsWhenAnyRunFails(t *testing.T) {
	v := newMemVault()
	hives := NewHiveManager(v)
	hiveID, _ := hives.CreateHive("forge")
	colonyID, _ := hives.CreateColony(hiveID, "c1")
	_ = hives.StartColony(hiveID, colonyID)

	r := NewColonyRollup(hives)
	r.Track(hiveID, colonyID)
	r.RegisterRun(colonyID, "run-1")
	r.RegisterRun(colonyID, "run-2")

	_ = r.ApplyRunEvent(colonyID, runLifecycleEvent(event.TypeRunCompleted, "run-1"))
	if err := r.ApplyRunEvent(colonyID, runLifecycleEvent(event.TypeRunFailed, "run-2")); err != nil {
		t.Fatalf("ApplyRunEvent: %v", err)
	}

	p, _ := hives.Get(hiveID)
	if p.Colonies[colonyID].State != projection.ColonyFailed {
		t.Fatalf("colony state = %v, want failed (one run failed)", p.Colonies[colonyID].State)
	}
}

func TestColonyRollupUntrackedColonyErrors(t *testing.T) {
	v := newMemVault()
	hives := NewHiveManager(v)
	r := NewColonyRollup(hives)

	if err := r.ApplyRunEvent("never-tracked", runLifecycleEvent(event.TypeRunCompleted, "run-1")); err == nil {
		t.Fatalf("ApplyRunEvent on an untracked colony should error")
	}
}
