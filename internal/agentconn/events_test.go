package agentconn

import (
	"fmt"
	"sync"
	"testing"
)

func TestEventLog_EmitAndRecent(t *testing.T) {
	l := newEventLog()

	l.emit(1, EventConnected, "connected to 10.0.0.1:8211")
	l.emit(1, EventDisconnected, "connection lost")
	l.emit(2, EventConnected, "other server")

	events := l.recent(1, 0)
	if len(events) != 2 {
		t.Fatalf("expected 2 events for server 1, got %d", len(events))
	}
	if events[0].Type != EventConnected || events[1].Type != EventDisconnected {
		t.Errorf("event order = %s, %s, want connected, disconnected", events[0].Type, events[1].Type)
	}
	for i, ev := range events {
		if ev.ServerID != 1 {
			t.Errorf("event[%d].ServerID = %d, want 1", i, ev.ServerID)
		}
		if ev.Timestamp.IsZero() {
			t.Errorf("event[%d].Timestamp is zero", i)
		}
	}

	if other := l.recent(2, 0); len(other) != 1 {
		t.Errorf("expected 1 event for server 2, got %d", len(other))
	}
}

func TestEventLog_RecentLimit(t *testing.T) {
	l := newEventLog()

	for i := 0; i < 10; i++ {
		l.emit(1, EventReconnecting, fmt.Sprintf("attempt %d", i))
	}

	events := l.recent(1, 3)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	// Most recent events are kept
	if events[2].Details != "attempt 9" {
		t.Errorf("newest event = %q, want %q", events[2].Details, "attempt 9")
	}
	if events[0].Details != "attempt 7" {
		t.Errorf("oldest returned event = %q, want %q", events[0].Details, "attempt 7")
	}
}

func TestEventLog_RingWraps(t *testing.T) {
	l := newEventLog()

	for i := 0; i < eventBufferSize+20; i++ {
		l.emit(1, EventReconnecting, fmt.Sprintf("event-%d", i))
	}

	events := l.recent(1, 0)
	if len(events) != eventBufferSize {
		t.Fatalf("expected %d events, got %d", eventBufferSize, len(events))
	}
	if events[0].Details != "event-20" {
		t.Errorf("oldest retained = %q, want %q", events[0].Details, "event-20")
	}
	if events[len(events)-1].Details != fmt.Sprintf("event-%d", eventBufferSize+19) {
		t.Errorf("newest retained = %q", events[len(events)-1].Details)
	}
}

func TestEventLog_Listeners(t *testing.T) {
	l := newEventLog()

	var mu sync.Mutex
	var seen []ConnectionEvent
	l.addListener(func(ev ConnectionEvent) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})

	l.emit(1, EventConnected, "up")
	l.emit(2, EventGaveUp, "down for good")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected 2 listener invocations, got %d", len(seen))
	}
	if seen[0].Type != EventConnected || seen[0].ServerID != 1 {
		t.Errorf("seen[0] = %+v, want connected for server 1", seen[0])
	}
	if seen[1].Type != EventGaveUp || seen[1].ServerID != 2 {
		t.Errorf("seen[1] = %+v, want gave_up for server 2", seen[1])
	}
}

func TestEventLog_Remove(t *testing.T) {
	l := newEventLog()

	l.emit(1, EventConnected, "up")
	l.remove(1)

	if events := l.recent(1, 0); len(events) != 0 {
		t.Errorf("events after remove = %d, want 0", len(events))
	}
}

func TestEventLog_UnknownServer(t *testing.T) {
	l := newEventLog()
	if events := l.recent(42, 0); events != nil {
		t.Errorf("expected nil events for unknown server, got %v", events)
	}
}
