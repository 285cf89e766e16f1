// state.go implements connection state tracking for the agentconn package.
//
// Each agent connection has a ConnState (Idle, Connecting, Open, Closing,
// Backoff, Closed, GaveUp) that is updated by the Manager lifecycle methods.
// State transitions are recorded in a per-server ring buffer (50 entries) for
// debugging, and registered callbacks are invoked on every state change for
// UI updates or alerting.

package agentconn

import (
	"sync"
	"time"
)

// ConnState represents the current state of an agent connection.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateBackoff
	StateClosed
	StateGaveUp
)

// String returns the human-readable name of the connection state.
func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateBackoff:
		return "backoff"
	case StateClosed:
		return "closed"
	case StateGaveUp:
		return "gave_up"
	default:
		return "unknown"
	}
}

// stateTransitionBufferSize is the maximum number of state transitions stored
// per server for debugging.
const stateTransitionBufferSize = 50

// StateTransition records a single state change for debugging.
type StateTransition struct {
	From      ConnState `json:"from"`
	To        ConnState `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// StateChangeCallback is called when a connection state changes.
// Callbacks are invoked synchronously; long-running handlers should spawn goroutines.
type StateChangeCallback func(serverID uint, from, to ConnState)

// stateEntry tracks the current state and transition history for one server.
type stateEntry struct {
	current     ConnState
	transitions [stateTransitionBufferSize]StateTransition // fixed-size ring buffer
	head        int                                        // next write position
	count       int                                        // total entries written (capped at buffer size for reads)
}

// record adds a state transition to the ring buffer.
func (e *stateEntry) record(from, to ConnState, reason string) {
	e.transitions[e.head] = StateTransition{
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	e.head = (e.head + 1) % stateTransitionBufferSize
	if e.count < stateTransitionBufferSize {
		e.count++
	}
}

// history returns the state transitions in chronological order.
func (e *stateEntry) history() []StateTransition {
	if e.count == 0 {
		return nil
	}

	result := make([]StateTransition, e.count)
	if e.count < stateTransitionBufferSize {
		// Buffer not yet full; entries start at index 0.
		copy(result, e.transitions[:e.count])
	} else {
		// Buffer is full; head is the oldest entry.
		n := copy(result, e.transitions[e.head:])
		copy(result[n:], e.transitions[:e.head])
	}
	return result
}

// stateTracker manages per-server connection state, transition history,
// and state change callbacks. It is embedded in Manager.
type stateTracker struct {
	mu        sync.RWMutex
	states    map[uint]*stateEntry
	callbacks []StateChangeCallback
}

// newStateTracker creates an initialized stateTracker.
func newStateTracker() *stateTracker {
	return &stateTracker{
		states: make(map[uint]*stateEntry),
	}
}

// getOrCreate returns the state entry for a server, creating it if needed.
// Caller must hold st.mu (write lock).
func (st *stateTracker) getOrCreate(serverID uint) *stateEntry {
	entry, ok := st.states[serverID]
	if !ok {
		entry = &stateEntry{current: StateIdle}
		st.states[serverID] = entry
	}
	return entry
}

// setState updates the connection state for a server, records the transition,
// and invokes callbacks. If the state is unchanged, this is a no-op.
func (st *stateTracker) setState(serverID uint, state ConnState, reason string) {
	st.mu.Lock()
	entry := st.getOrCreate(serverID)
	from := entry.current
	if from == state {
		st.mu.Unlock()
		return
	}
	entry.current = state
	entry.record(from, state, reason)

	// Copy callbacks under lock, invoke outside lock
	cbs := make([]StateChangeCallback, len(st.callbacks))
	copy(cbs, st.callbacks)
	st.mu.Unlock()

	for _, cb := range cbs {
		cb(serverID, from, state)
	}
}

// getState returns the current connection state for a server.
// Returns StateIdle if the server has no tracked state.
func (st *stateTracker) getState(serverID uint) ConnState {
	st.mu.RLock()
	defer st.mu.RUnlock()
	entry, ok := st.states[serverID]
	if !ok {
		return StateIdle
	}
	return entry.current
}

// getTransitions returns the state transition history for a server
// in chronological order (oldest first).
func (st *stateTracker) getTransitions(serverID uint) []StateTransition {
	st.mu.RLock()
	defer st.mu.RUnlock()
	entry, ok := st.states[serverID]
	if !ok {
		return nil
	}
	return entry.history()
}

// onStateChange registers a callback for state changes.
func (st *stateTracker) onStateChange(cb StateChangeCallback) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.callbacks = append(st.callbacks, cb)
}

// remove deletes all state tracking for a server.
func (st *stateTracker) remove(serverID uint) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.states, serverID)
}
