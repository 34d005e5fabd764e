package scheduler

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/k-iijima/hiveforge/internal/event"
)

// MessagePriority orders a mailbox's delivery queue: urgent drains before
// high, high before normal, normal before low (§4.9i).
type MessagePriority int

const (
	PriorityLow MessagePriority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// Message is one inter-colony communication, addressed by colony ID or
// broadcast to every mailbox.
type Message struct {
	CorrelationID string
	From          string
	To            string // empty for a broadcast
	Priority      MessagePriority
	Body          string
	InReplyTo     string // correlation ID this message responds to, if any

	seq int // insertion order, breaks priority ties FIFO
}

// mailboxHeap is a max-heap on (Priority, insertion order) so higher
// priority drains first and same-priority messages stay FIFO.
type mailboxHeap []*Message

func (h mailboxHeap) Len() int { return len(h) }
func (h mailboxHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h mailboxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mailboxHeap) Push(x any)        { *h = append(*h, x.(*Message)) }
func (h *mailboxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// ResourceConflict records that colonyA and colonyB both hold (or want) the
// same named resource — a dead-simple lock table, not a general scheduler
// (§4.9i).
type ResourceConflict struct {
	Resource string
	Holder   string
	Waiter   string
}

// Messenger is a priority mailbox per Colony plus a resource lock table with
// a cycle-based deadlock detector, generalised from the teacher's
// event-emitting coordination idioms to Colony-to-Colony messaging.
type Messenger struct {
	vault Vault

	mu       sync.Mutex
	boxes    map[string]*mailboxHeap // colonyID -> mailbox
	colonies []string                // known colony IDs, for broadcast
	seq      int

	locksMu sync.Mutex
	holders map[string]string // resource -> holding colony ID
	waiters map[string]string // resource -> waiting colony ID (single waiter per resource, last wins)
}

// NewMessenger returns a messenger with no registered mailboxes.
func NewMessenger(vault Vault) *Messenger {
	return &Messenger{
		vault:   vault,
		boxes:   make(map[string]*mailboxHeap),
		holders: make(map[string]string),
		waiters: make(map[string]string),
	}
}

// RegisterColony gives colonyID a mailbox and includes it in future
// broadcasts.
func (m *Messenger) RegisterColony(colonyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boxes[colonyID]; ok {
		return
	}
	h := &mailboxHeap{}
	heap.Init(h)
	m.boxes[colonyID] = h
	m.colonies = append(m.colonies, colonyID)
}

func messengerStreamID(colonyID string) string { return fmt.Sprintf("colony-%s", colonyID) }

// Send delivers msg to a single Colony's mailbox and emits messenger.sent.
// The returned correlation ID identifies the message for Respond.
func (m *Messenger) Send(from, to string, priority MessagePriority, body string) (string, error) {
	corr := uuid.NewString()
	m.mu.Lock()
	box, ok := m.boxes[to]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("scheduler: send: unknown colony %s", to)
	}
	m.seq++
	heap.Push(box, &Message{CorrelationID: corr, From: from, To: to, Priority: priority, Body: body, seq: m.seq})
	m.mu.Unlock()

	e := event.New(event.TypeMessengerSent, "scheduler", event.OpaquePayload{
		"correlation_id": corr,
		"from":           from,
		"to":             to,
		"priority":       int(priority),
	})
	if _, err := m.vault.Append(messengerStreamID(to), e); err != nil {
		return corr, fmt.Errorf("scheduler: record messenger.sent: %w", err)
	}
	return corr, nil
}

// Broadcast delivers msg to every registered Colony except from.
func (m *Messenger) Broadcast(from string, priority MessagePriority, body string) ([]string, error) {
	m.mu.Lock()
	targets := make([]string, 0, len(m.colonies))
	for _, c := range m.colonies {
		if c != from {
			targets = append(targets, c)
		}
	}
	m.mu.Unlock()

	corrs := make([]string, 0, len(targets))
	for _, to := range targets {
		corr, err := m.Send(from, to, priority, body)
		if err != nil {
			return corrs, err
		}
		corrs = append(corrs, corr)
	}
	return corrs, nil
}

// Receive pops the highest-priority message from colonyID's mailbox,
// emitting messenger.received. Returns ok=false if the mailbox is empty.
func (m *Messenger) Receive(colonyID string) (Message, bool, error) {
	m.mu.Lock()
	box, ok := m.boxes[colonyID]
	if !ok || box.Len() == 0 {
		m.mu.Unlock()
		return Message{}, false, nil
	}
	msg := heap.Pop(box).(*Message)
	m.mu.Unlock()

	e := event.New(event.TypeMessengerReceived, "scheduler", event.OpaquePayload{
		"correlation_id": msg.CorrelationID,
		"to":             colonyID,
	})
	if _, err := m.vault.Append(messengerStreamID(colonyID), e); err != nil {
		return *msg, true, fmt.Errorf("scheduler: record messenger.received: %w", err)
	}
	return *msg, true, nil
}

// Peek returns the highest-priority message without removing it.
func (m *Messenger) Peek(colonyID string) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	box, ok := m.boxes[colonyID]
	if !ok || box.Len() == 0 {
		return Message{}, false
	}
	return *(*box)[0], true
}

// Respond sends a reply addressed back to original's sender, carrying
// original's correlation ID as InReplyTo.
func (m *Messenger) Respond(original Message, priority MessagePriority, body string) (string, error) {
	corr := uuid.NewString()
	m.mu.Lock()
	box, ok := m.boxes[original.From]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("scheduler: respond: unknown colony %s", original.From)
	}
	m.seq++
	heap.Push(box, &Message{
		CorrelationID: corr,
		From:          original.To,
		To:            original.From,
		Priority:      priority,
		Body:          body,
		InReplyTo:     original.CorrelationID,
		seq:           m.seq,
	})
	m.mu.Unlock()

	e := event.New(event.TypeMessengerSent, "scheduler", event.OpaquePayload{
		"correlation_id": corr,
		"from":           original.To,
		"to":             original.From,
		"in_reply_to":    original.CorrelationID,
		"priority":       int(priority),
	})
	_, err := m.vault.Append(messengerStreamID(original.From), e)
	return corr, err
}

// AcquireResource records colonyID as holding resource, or as waiting on it
// if another Colony already holds it. Returns a ResourceConflict and
// deadlocked=true if granting the wait would close a cycle in the
// wait-for graph.
func (m *Messenger) AcquireResource(colonyID, resource string) (conflict *ResourceConflict, deadlocked bool) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	holder, held := m.holders[resource]
	if !held {
		m.holders[resource] = colonyID
		return nil, false
	}
	if holder == colonyID {
		return nil, false
	}

	m.waiters[resource] = colonyID
	if m.hasCycleLocked(colonyID, holder) {
		delete(m.waiters, resource)
		return &ResourceConflict{Resource: resource, Holder: holder, Waiter: colonyID}, true
	}
	return &ResourceConflict{Resource: resource, Holder: holder, Waiter: colonyID}, false
}

// hasCycleLocked walks the wait-for graph starting from waiter: if waiter is
// (transitively) waiting on a resource held by target, granting waiter's
// request on target's resource would deadlock.
func (m *Messenger) hasCycleLocked(waiter, target string) bool {
	visited := map[string]bool{waiter: true}
	current := target
	for {
		if current == waiter {
			return true
		}
		if visited[current] {
			return false
		}
		visited[current] = true

		next := ""
		for resource, w := range m.waiters {
			if w == current {
				next = m.holders[resource]
				break
			}
		}
		if next == "" {
			return false
		}
		current = next
	}
}

// ReleaseResource drops colonyID's hold on resource, handing it to any
// registered waiter.
func (m *Messenger) ReleaseResource(colonyID, resource string) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	if m.holders[resource] != colonyID {
		return
	}
	delete(m.holders, resource)
	if waiter, ok := m.waiters[resource]; ok {
		m.holders[resource] = waiter
		delete(m.waiters, resource)
	}
}
