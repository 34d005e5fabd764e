package scheduler

import "testing"

func TestMessengerSendReceiveByPriority(t *testing.T) {
	v := newMemVault()
	m := NewMessenger(v)
	m.RegisterColony("c1")

	if _, err := m.Send("c2", "c1", PriorityLow, "low prio"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := m.Send("c2", "c1", PriorityUrgent, "urgent prio"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := m.Send("c2", "c1", PriorityNormal, "normal prio"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	first, ok, err := m.Receive("c1")
	if err != nil || !ok {
		t.Fatalf("Receive: ok=%v err=%v", ok, err)
	}
	if first.Body != "urgent prio" {
		t.Fatalf("first received = %q, want urgent (highest priority drains first)", first.Body)
	}

	second, _, _ := m.Receive("c1")
	if second.Body != "normal prio" {
		t.Fatalf("second received = %q, want normal", second.Body)
	}
}

func TestMessengerReceiveEmptyMailbox(t *testing.T) {
	v := newMemVault()
	m := NewMessenger(v)
	m.RegisterColony("c1")

	_, ok, err := m.Receive("c1")
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if ok {
		t.Fatalf("Receive on empty mailbox should return ok=false")
	}
}

func TestMessengerBroadcastExcludesSender(t *testing.T) {
	v := newMemVault()
	m := NewMessenger(v)
	m.RegisterColony("a")
	m.RegisterColony("b")
	m.RegisterColony("c")

	corrs, err := m.Broadcast("a", PriorityNormal, "all hands")
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(corrs) != 2 {
		t.Fatalf("Broadcast returned %d correlation IDs, want 2 (excluding sender)", len(corrs))
	}

	if _, ok, _ := m.Receive("a"); ok {
		t.Fatalf("sender a should not receive its own broadcast")
	}
	if _, ok, _ := m.Receive("b"); !ok {
		t.Fatalf("b should have received the broadcast")
	}
}

func TestMessengerRespondCarriesInReplyTo(t *testing.T) {
	v := newMemVault()
	m := NewMessenger(v)
	m.RegisterColony("a")
	m.RegisterColony("b")

	_, err := m.Send("a", "b", PriorityNormal, "question")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	original, _, _ := m.Receive("b")

	if _, err := m.Respond(original, PriorityNormal, "answer"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	reply, ok, _ := m.Receive("a")
	if !ok {
		t.Fatalf("a should have received the reply")
	}
	if reply.InReplyTo != original.CorrelationID {
		t.Fatalf("reply.InReplyTo = %q, want %q", reply.InReplyTo, original.CorrelationID)
	}
}

func TestMessengerAcquireResourceNoConflict(t *testing.T) {
	v := newMemVault()
	m := NewMessenger(v)

	conflict, deadlocked := m.AcquireResource("a", "db-lock")
	if conflict != nil || deadlocked {
		t.Fatalf("first acquire should be conflict-free, got %+v deadlocked=%v", conflict, deadlocked)
	}
}

func TestMessengerAcquireResourceConflictWithoutDeadlock(t *testing.T) {
	v := newMemVault()
	m := NewMessenger(v)

	m.AcquireResource("a", "db-lock")
	conflict, deadlocked := m.AcquireResource("b", "db-lock")
	if conflict == nil || conflict.Holder != "a" || conflict.Waiter != "b" {
		t.Fatalf("conflict = %+v, want holder=a waiter=b", conflict)
	}
	if deadlocked {
		t.Fatalf("simple contention should not be reported as a deadlock")
	}
}

func TestMessengerAcquireResourceDetectsCycle(t *testing.T) {
	v := newMemVault()
	m := NewMessenger(v)

	// a holds r1, b holds r2. a wants r2 (waits on b); b wants r1 (waits on a): a cycle.
	m.AcquireResource("a", "r1")
	m.AcquireResource("b", "r2")
	m.AcquireResource("b", "r1") // b waits on a for r1

	_, deadlocked := m.AcquireResource("a", "r2") // a would wait on b for r2 -> cycle
	if !deadlocked {
		t.Fatalf("mutual wait-for cycle should be detected as a deadlock")
	}
}

func TestMessengerReleaseResourceHandsToWaiter(t *testing.T) {
	v := newMemVault()
	m := NewMessenger(v)

	m.AcquireResource("a", "db-lock")
	m.AcquireResource("b", "db-lock")
	m.ReleaseResource("a", "db-lock")

	conflict, _ := m.AcquireResource("b", "db-lock")
	if conflict != nil {
		t.Fatalf("b should now hold db-lock uncontested after a released it, got conflict %+v", conflict)
	}
}
