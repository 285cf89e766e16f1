// events.go implements connection event records for the agentconn package.
//
// Events capture lifecycle milestones of agent connections (connected,
// disconnected, reconnecting, gave up) with timestamps and details. The last
// 100 events per server are kept in a ring buffer for the activity feed, and
// registered listeners receive every event as it happens (the console wires a
// listener that persists selected events to the connection log table).

package agentconn

import (
	"sync"
	"time"
)

// ConnectionEventType identifies the kind of connection event.
type ConnectionEventType string

const (
	EventConnected         ConnectionEventType = "connected"
	EventDisconnected      ConnectionEventType = "disconnected"
	EventReconnecting      ConnectionEventType = "reconnecting"
	EventReconnectDeferred ConnectionEventType = "reconnect_deferred"
	EventHeartbeatTimeout  ConnectionEventType = "heartbeat_timeout"
	EventGaveUp            ConnectionEventType = "gave_up"
	EventAgentError        ConnectionEventType = "agent_error"
)

// ConnectionEvent records a single connection lifecycle event.
type ConnectionEvent struct {
	ServerID  uint                `json:"server_id"`
	Type      ConnectionEventType `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	Details   string              `json:"details,omitempty"`
}

// EventListener is called for each connection event.
// Listeners are invoked synchronously; long-running handlers should spawn goroutines.
type EventListener func(ConnectionEvent)

// eventBufferSize is the maximum number of events stored per server.
const eventBufferSize = 100

// eventBuffer is a fixed-size ring of events for one server.
type eventBuffer struct {
	events [eventBufferSize]ConnectionEvent
	head   int
	count  int
}

func (b *eventBuffer) add(ev ConnectionEvent) {
	b.events[b.head] = ev
	b.head = (b.head + 1) % eventBufferSize
	if b.count < eventBufferSize {
		b.count++
	}
}

// history returns the buffered events in chronological order.
func (b *eventBuffer) history() []ConnectionEvent {
	if b.count == 0 {
		return nil
	}
	result := make([]ConnectionEvent, b.count)
	if b.count < eventBufferSize {
		copy(result, b.events[:b.count])
	} else {
		n := copy(result, b.events[b.head:])
		copy(result[n:], b.events[:b.head])
	}
	return result
}

// eventLog stores recent connection events per server and fans them out
// to registered listeners.
type eventLog struct {
	mu        sync.RWMutex
	buffers   map[uint]*eventBuffer
	listeners []EventListener
}

func newEventLog() *eventLog {
	return &eventLog{
		buffers: make(map[uint]*eventBuffer),
	}
}

// emit records an event and notifies listeners.
func (l *eventLog) emit(serverID uint, evType ConnectionEventType, details string) {
	ev := ConnectionEvent{
		ServerID:  serverID,
		Type:      evType,
		Timestamp: time.Now(),
		Details:   details,
	}

	l.mu.Lock()
	buf, ok := l.buffers[serverID]
	if !ok {
		buf = &eventBuffer{}
		l.buffers[serverID] = buf
	}
	buf.add(ev)

	// Copy listeners under lock, invoke outside lock
	listeners := make([]EventListener, len(l.listeners))
	copy(listeners, l.listeners)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// recent returns up to limit buffered events for a server, most recent last.
// A limit <= 0 returns the full buffer.
func (l *eventLog) recent(serverID uint, limit int) []ConnectionEvent {
	l.mu.RLock()
	buf, ok := l.buffers[serverID]
	if !ok {
		l.mu.RUnlock()
		return nil
	}
	events := buf.history()
	l.mu.RUnlock()

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events
}

// addListener registers a listener for all future events.
func (l *eventLog) addListener(fn EventListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// remove deletes the event buffer for a server.
func (l *eventLog) remove(serverID uint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buffers, serverID)
}
