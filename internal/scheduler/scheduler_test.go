package scheduler

import (
	"testing"

	"github.com/k-iijima/hiveforge/internal/projection"
)

func TestSchedulerStartRunRegistersWithRollupAndEmergency(t *testing.T) {
	v := newMemVault()
	d := &fakeDispatcher{}
	s := New(v, d, nil, 0)

	hiveID, _ := s.Hives.CreateHive("forge")
	colonyID, _ := s.Hives.CreateColony(hiveID, "c1")
	_ = s.Hives.StartColony(hiveID, colonyID)
	s.Rollup.Track(hiveID, colonyID)

	runID, err := s.StartRun(hiveID, colonyID, "ship the feature", "worker", []TaskNode{{ID: "t1"}})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if runID == "" {
		t.Fatalf("StartRun returned empty run ID")
	}

	s.mu.Lock()
	_, tracked := s.runs[runID]
	s.mu.Unlock()
	if !tracked {
		t.Fatalf("StartRun should register the run in the scheduler's active set")
	}
}

func TestSchedulerTickDispatchesAndFinishesRun(t *testing.T) {
	v := newMemVault()
	d := &fakeDispatcher{}
	s := New(v, d, nil, 0)

	hiveID, _ := s.Hives.CreateHive("forge")
	colonyID, _ := s.Hives.CreateColony(hiveID, "c1")
	_ = s.Hives.StartColony(hiveID, colonyID)
	s.Rollup.Track(hiveID, colonyID)

	runID, err := s.StartRun(hiveID, colonyID, "single task run", "worker", []TaskNode{{ID: "t1"}})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	s.mu.Lock()
	rm := s.runs[runID]
	s.mu.Unlock()

	s.tick()
	if len(d.dispatched) != 1 {
		t.Fatalf("dispatched = %d, want 1 after first tick", len(d.dispatched))
	}

	if err := rm.CompleteTask("t1", "done", nil); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}

	s.tick()

	snap, err := rm.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.State != projection.RunCompleted {
		t.Fatalf("run state = %v, want completed after all tasks terminal", snap.State)
	}

	s.mu.Lock()
	_, stillTracked := s.runs[runID]
	s.mu.Unlock()
	if stillTracked {
		t.Fatalf("a finished run should be removed from the scheduler's active set")
	}
}

func TestSchedulerEmergencyStopAbortsRun(t *testing.T) {
	v := newMemVault()
	d := &fakeDispatcher{}
	s := New(v, d, nil, 0)

	hiveID, _ := s.Hives.CreateHive("forge")
	colonyID, _ := s.Hives.CreateColony(hiveID, "c1")
	_ = s.Hives.StartColony(hiveID, colonyID)
	s.Rollup.Track(hiveID, colonyID)

	runID, err := s.StartRun(hiveID, colonyID, "goal", "worker", []TaskNode{{ID: "t1"}})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	s.tick() // dispatch t1

	if err := s.EmergencyStop(ScopeRun, runID, "operator abort"); err != nil {
		t.Fatalf("EmergencyStop: %v", err)
	}

	s.mu.Lock()
	rm := s.runs[runID]
	s.mu.Unlock()
	snap, err := rm.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.State != projection.RunAborted {
		t.Fatalf("run state = %v, want aborted", snap.State)
	}
	if len(d.terminated) != 1 || d.terminated[0] != "wf-t1" {
		t.Fatalf("terminated = %v, want [wf-t1]", d.terminated)
	}
}
