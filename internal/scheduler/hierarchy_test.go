package scheduler

import (
	"testing"

	"github.com/k-iijima/hiveforge/internal/projection"
)

func TestHiveManagerCreateAndCloseLifecycle(t *testing.T) {
	v := newMemVault()
	m := NewHiveManager(v)

	hiveID, err := m.CreateHive("forge-alpha")
	if err != nil {
		t.Fatalf("CreateHive: %v", err)
	}
	colonyID, err := m.CreateColony(hiveID, "colony-1")
	if err != nil {
		t.Fatalf("CreateColony: %v", err)
	}
	if err := m.StartColony(hiveID, colonyID); err != nil {
		t.Fatalf("StartColony: %v", err)
	}

	p, err := m.Get(hiveID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Colonies[colonyID].State != projection.ColonyRunning {
		t.Fatalf("colony state = %v, want running", p.Colonies[colonyID].State)
	}

	if err := m.CloseHive(hiveID); err != nil {
		t.Fatalf("CloseHive: %v", err)
	}

	p, _ = m.Get(hiveID)
	if p.State != projection.HiveClosed {
		t.Fatalf("hive state = %v, want closed", p.State)
	}
	c := p.Colonies[colonyID]
	if c.State != projection.ColonyCompleted || !c.Forced {
		t.Fatalf("colony = %+v, want completed+forced (soft-terminated)", c)
	}
}

func TestHiveManagerCloseHiveLeavesTerminalColoniesAlone(t *testing.T) {
	v := newMemVault()
	m := NewHiveManager(v)

	hiveID, _ := m.CreateHive("forge")
	colonyID, _ := m.CreateColony(hiveID, "c1")
	_ = m.StartColony(hiveID, colonyID)
	if err := m.CompleteColony(hiveID, colonyID, false, false); err != nil {
		t.Fatalf("CompleteColony: %v", err)
	}

	if err := m.CloseHive(hiveID); err != nil {
		t.Fatalf("CloseHive: %v", err)
	}

	p, _ := m.Get(hiveID)
	c := p.Colonies[colonyID]
	if c.Forced {
		t.Fatalf("an already-completed colony must not be marked forced by CloseHive")
	}
}

func TestHiveManagerListAndUnknownHive(t *testing.T) {
	v := newMemVault()
	m := NewHiveManager(v)
	id1, _ := m.CreateHive("a")
	id2, _ := m.CreateHive("b")

	ids := m.List()
	if len(ids) != 2 {
		t.Fatalf("List = %v, want 2 entries", ids)
	}
	found := map[string]bool{}
	for _, id := range ids {
		found[id] = true
	}
	if !found[id1] || !found[id2] {
		t.Fatalf("List missing a created hive: %v", ids)
	}

	if _, err := m.Get("nonexistent"); err == nil {
		t.Fatalf("Get(unknown) should error")
	}
}
