package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/k-iijima/hiveforge/internal/event"
	"github.com/k-iijima/hiveforge/internal/projection"
)

// Vault is the subset of *akashic.Vault the scheduler writes lifecycle
// events through and replays projections from.
type Vault interface {
	Append(streamID string, e *event.Event) (*event.Event, error)
	Replay(streamID string, since *time.Time) ([]*event.Event, error)
}

// HiveManager owns Hive/Colony lifecycle (§4.9a): create, list, get, close.
// One Akashic Record stream per Hive holds its own and its Colonies'
// lifecycle events; the HiveProjection is the scheduler's single-goroutine
// working copy (§5).
type HiveManager struct {
	vault Vault

	mu    sync.Mutex
	hives map[string]*projection.HiveProjection
}

// NewHiveManager returns a manager with no hives loaded.
func NewHiveManager(v Vault) *HiveManager {
	return &HiveManager{vault: v, hives: make(map[string]*projection.HiveProjection)}
}

func hiveStreamID(hiveID string) string { return fmt.Sprintf("hive-%s", hiveID) }

// CreateHive emits hive.created and returns the new hive's ID.
func (m *HiveManager) CreateHive(name string) (string, error) {
	hiveID := string(event.NewID())
	e := event.New(event.TypeHiveCreated, "scheduler", event.OpaquePayload{"name": name})
	if _, err := m.vault.Append(hiveStreamID(hiveID), e); err != nil {
		return "", fmt.Errorf("scheduler: create hive: %w", err)
	}
	m.mu.Lock()
	m.hives[hiveID] = projection.NewHiveProjection(hiveID)
	m.hives[hiveID].Name = name
	m.mu.Unlock()
	return hiveID, nil
}

// CreateColony emits colony.created under hiveID and returns the new
// colony's ID.
func (m *HiveManager) CreateColony(hiveID, name string) (string, error) {
	colonyID := string(event.NewID())
	e := event.New(event.TypeColonyCreated, "scheduler", event.OpaquePayload{"colony_id": colonyID, "name": name})
	if _, err := m.vault.Append(hiveStreamID(hiveID), e); err != nil {
		return "", fmt.Errorf("scheduler: create colony: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.hives[hiveID]
	if !ok {
		return "", fmt.Errorf("scheduler: create colony: unknown hive %s", hiveID)
	}
	p.Colonies[colonyID] = &projection.ColonyProjection{ID: colonyID, Name: name, State: projection.ColonyPending}
	return colonyID, nil
}

// StartColony emits colony.started.
func (m *HiveManager) StartColony(hiveID, colonyID string) error {
	e := event.New(event.TypeColonyStarted, "scheduler", event.OpaquePayload{"colony_id": colonyID})
	if _, err := m.vault.Append(hiveStreamID(hiveID), e); err != nil {
		return fmt.Errorf("scheduler: start colony: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.hives[hiveID]; ok {
		if c, ok := p.Colonies[colonyID]; ok {
			c.State = projection.ColonyRunning
		}
	}
	return nil
}

// CompleteColony emits colony.completed or colony.failed depending on
// failed, carrying forced when the completion was caused by a Hive close
// rather than the Colony's own runs finishing (§4.9a, §4.9d).
func (m *HiveManager) CompleteColony(hiveID, colonyID string, failed, forced bool) error {
	typ := event.TypeColonyCompleted
	state := projection.ColonyCompleted
	if failed {
		typ = event.TypeColonyFailed
		state = projection.ColonyFailed
	}
	e := event.New(typ, "scheduler", event.ColonyCompletedPayload{ColonyID: colonyID, Forced: forced})
	if _, err := m.vault.Append(hiveStreamID(hiveID), e); err != nil {
		return fmt.Errorf("scheduler: complete colony: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.hives[hiveID]; ok {
		if c, ok := p.Colonies[colonyID]; ok {
			c.State = state
			c.Forced = forced
		}
	}
	return nil
}

// CloseHive emits hive.closed and soft-terminates every Colony still
// active (not already completed/failed) by emitting colony.completed with
// forced=true for each (§4.9a).
func (m *HiveManager) CloseHive(hiveID string) error {
	m.mu.Lock()
	p, ok := m.hives[hiveID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("scheduler: close hive: unknown hive %s", hiveID)
	}
	var active []string
	for id, c := range p.Colonies {
		if c.State != projection.ColonyCompleted && c.State != projection.ColonyFailed {
			active = append(active, id)
		}
	}
	m.mu.Unlock()

	for _, colonyID := range active {
		if err := m.CompleteColony(hiveID, colonyID, false, true); err != nil {
			return err
		}
	}

	e := event.New(event.TypeHiveClosed, "scheduler", event.OpaquePayload{})
	if _, err := m.vault.Append(hiveStreamID(hiveID), e); err != nil {
		return fmt.Errorf("scheduler: close hive: %w", err)
	}
	m.mu.Lock()
	p.State = projection.HiveClosed
	m.mu.Unlock()
	return nil
}

// Get returns the scheduler's in-memory HiveProjection for hiveID.
func (m *HiveManager) Get(hiveID string) (*projection.HiveProjection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.hives[hiveID]
	if !ok {
		return nil, fmt.Errorf("scheduler: unknown hive %s", hiveID)
	}
	return p, nil
}

// List returns every known hive ID.
func (m *HiveManager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.hives))
	for id := range m.hives {
		ids = append(ids, id)
	}
	return ids
}
