// Package agentconn maintains the WebSocket connections between the console
// and server agents.
//
// It consolidates four concerns into a single package:
//   - Connection management (manager.go, conn.go): one multiplexed WebSocket
//     connection per server, keyed by server ID (uint), with heartbeats and a
//     bounded queue for frames sent while the socket is closed.
//   - Reconnection (reconnect.go): linear backoff after unexpected closes,
//     with a terminal gave-up state after too many consecutive failures.
//   - Inbound routing (router.go): decoded frames are dispatched to the
//     registered terminal and log stream sinks; heartbeat echoes and
//     monitoring samples are absorbed here.
//   - Observability (state.go, events.go, metrics.go): per-server state with
//     transition history, a ring of lifecycle events, and traffic counters.
//
// The central type is Manager. All lookups use the database server ID (uint)
// rather than the server name, so connections stay valid across renames. The
// WebSocket protocol itself (frame shapes, payloads) lives in the protocol
// package; agentconn only moves frames.
package agentconn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/EnderKC/BetterMonitor-sub000/internal/protocol"
)

// ErrServerNotFound is returned by a ServerResolver when the server ID does
// not exist. Dial attempts failing with it are not retried.
var ErrServerNotFound = errors.New("server not found")

// ErrNotConnected is returned by operations that need an open socket when
// the connection is down.
var ErrNotConnected = errors.New("agent connection not open")

// ErrGaveUp is returned while a connection sits in the gave-up state. Only
// an explicit Connect clears it.
var ErrGaveUp = errors.New("agent connection gave up, reconnect required")

// Endpoint is the dial target for one server's agent.
type Endpoint struct {
	Host   string
	Port   int
	UseTLS bool
	Token  string
}

// ServerResolver supplies the dial endpoint and credential for a server.
// The console implements it over the servers table.
type ServerResolver interface {
	ResolveServer(ctx context.Context, serverID uint) (Endpoint, error)
}

// SaveGuard reports whether a file save is being delivered to a server.
// Reconnects are deferred while the guard reports true, so an agent restart
// cannot race a save in progress.
type SaveGuard interface {
	SaveInFlight(serverID uint) bool
}

// Config holds the tunables of the connection layer. Zero fields are filled
// with defaults by NewManager.
type Config struct {
	ConnectTimeout        time.Duration
	HeartbeatInterval     time.Duration
	HeartbeatFailureLimit int
	ReconnectBaseDelay    time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectMaxAttempts  int
	PendingQueueLimit     int
	SaveGuardPollInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:        10 * time.Second,
		HeartbeatInterval:     30 * time.Second,
		HeartbeatFailureLimit: 3,
		ReconnectBaseDelay:    2 * time.Second,
		ReconnectMaxDelay:     30 * time.Second,
		ReconnectMaxAttempts:  10,
		PendingQueueLimit:     100,
		SaveGuardPollInterval: 250 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatFailureLimit <= 0 {
		c.HeartbeatFailureLimit = def.HeartbeatFailureLimit
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if c.ReconnectMaxAttempts <= 0 {
		c.ReconnectMaxAttempts = def.ReconnectMaxAttempts
	}
	if c.PendingQueueLimit <= 0 {
		c.PendingQueueLimit = def.PendingQueueLimit
	}
	if c.SaveGuardPollInterval <= 0 {
		c.SaveGuardPollInterval = def.SaveGuardPollInterval
	}
	return c
}

// Manager manages agent WebSocket connections, keyed by server ID.
// Server IDs are stable across renames, making them safer than names for
// long-lived connection maps. The agent multiplexes terminal sessions and log
// streams over a single socket, so one connection per server suffices.
type Manager struct {
	cfg      Config
	resolver ServerResolver

	mu    sync.RWMutex
	conns map[uint]*conn // keyed by server ID; IDs are stable across renames

	guardMu   sync.RWMutex
	saveGuard SaveGuard

	stateTracker *stateTracker
	events       *eventLog
	info         *infoStore
	router       *Router
}

// NewManager creates a Manager. The resolver is required; sinks for inbound
// terminal and log stream frames are registered on Router afterwards.
func NewManager(cfg Config, resolver ServerResolver) *Manager {
	m := &Manager{
		cfg:          cfg.withDefaults(),
		resolver:     resolver,
		conns:        make(map[uint]*conn),
		stateTracker: newStateTracker(),
		events:       newEventLog(),
		info:         newInfoStore(),
	}
	m.router = newRouter(m)
	return m
}

// Router returns the inbound frame router for sink registration.
func (m *Manager) Router() *Router {
	return m.router
}

// SetSaveGuard configures the guard consulted before automatic reconnects.
func (m *Manager) SetSaveGuard(g SaveGuard) {
	m.guardMu.Lock()
	defer m.guardMu.Unlock()
	m.saveGuard = g
}

func (m *Manager) saveInFlight(serverID uint) bool {
	m.guardMu.RLock()
	g := m.saveGuard
	m.guardMu.RUnlock()
	return g != nil && g.SaveInFlight(serverID)
}

// getOrCreate returns the connection entry for a server, creating an idle
// one if needed.
func (m *Manager) getOrCreate(serverID uint) *conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[serverID]
	if !ok {
		c = newConn(m, serverID)
		m.conns[serverID] = c
	}
	return c
}

// Connect opens the agent connection for a server. If the socket is already
// open this is a no-op. A user-initiated connect clears a previous gave-up
// state and resets the backoff counter, so it always gets a full round of
// retries.
func (m *Manager) Connect(ctx context.Context, serverID uint) error {
	c := m.getOrCreate(serverID)

	c.reconnectTask.Cancel()
	c.mu.Lock()
	c.suppressReconnect = false
	c.gaveUp = false
	c.attempt = 0
	c.mu.Unlock()

	return c.dialAndOpen(ctx)
}

// Disconnect closes the agent connection for a server with a normal close
// and stops any pending reconnect. It is a no-op for unknown servers.
func (m *Manager) Disconnect(serverID uint) error {
	m.mu.RLock()
	c, ok := m.conns[serverID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return c.disconnect()
}

// Send delivers a frame to a server's agent. While the socket is closed the
// frame is held in a bounded queue and flushed once on the next open; when
// the queue is full the oldest frame is displaced. Send never blocks on a
// closed socket.
func (m *Manager) Send(serverID uint, f protocol.Frame) error {
	c := m.getOrCreate(serverID)
	return c.send(f)
}

// EnsureOpen returns once the connection for a server is open, dialing first
// if needed. The context bounds the wait. Unlike Connect it respects a
// gave-up link: implicit opens (a terminal attach, a log stream start) must
// not burn the retries only a user connect may reset.
func (m *Manager) EnsureOpen(ctx context.Context, serverID uint) error {
	switch m.State(serverID) {
	case StateOpen:
		return nil
	case StateGaveUp:
		return fmt.Errorf("server %d: %w", serverID, ErrGaveUp)
	}
	return m.Connect(ctx, serverID)
}

// State returns the current connection state for a server.
func (m *Manager) State(serverID uint) ConnState {
	return m.stateTracker.getState(serverID)
}

// Transitions returns the state transition history for a server in
// chronological order.
func (m *Manager) Transitions(serverID uint) []StateTransition {
	return m.stateTracker.getTransitions(serverID)
}

// Events returns up to limit recent connection events for a server.
func (m *Manager) Events(serverID uint, limit int) []ConnectionEvent {
	return m.events.recent(serverID, limit)
}

// OnStateChange registers a callback for connection state changes.
func (m *Manager) OnStateChange(cb StateChangeCallback) {
	m.stateTracker.onStateChange(cb)
}

// OnEvent registers a listener for connection lifecycle events.
func (m *Manager) OnEvent(fn EventListener) {
	m.events.addListener(fn)
}

// Metrics returns a snapshot of the connection metrics for a server, or nil
// if the server has no connection entry.
func (m *Manager) Metrics(serverID uint) *ConnectionMetrics {
	m.mu.RLock()
	c, ok := m.conns[serverID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	c.mu.Lock()
	metrics := c.metrics
	c.mu.Unlock()
	snapshot := metrics.Snapshot()
	return &snapshot
}

// Info returns the latest known agent identity and monitoring sample for a
// server.
func (m *Manager) Info(serverID uint) (ServerInfo, bool) {
	return m.info.get(serverID)
}

// PendingCount returns the number of frames queued for a closed connection.
func (m *Manager) PendingCount(serverID uint) int {
	m.mu.RLock()
	c, ok := m.conns[serverID]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.pending.len()
}

// Forget disconnects a server and drops all tracked state for it. Used when
// a server is deleted from the console.
func (m *Manager) Forget(serverID uint) {
	m.mu.Lock()
	c, ok := m.conns[serverID]
	delete(m.conns, serverID)
	m.mu.Unlock()

	if ok {
		_ = c.disconnect()
	}
	m.stateTracker.remove(serverID)
	m.events.remove(serverID)
	m.info.remove(serverID)
}

// CloseAll disconnects every server. Used during shutdown.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[uint]*conn)
	m.mu.Unlock()

	var firstErr error
	for id, c := range conns {
		if err := c.disconnect(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close agent connection for server %d: %w", id, err)
		}
	}
	log.Printf("All agent connections closed (%d total)", len(conns))
	return firstErr
}

// noteHeartbeatSeen resets the heartbeat failure counter for a server and
// stamps the liveness time. Called by the router on every inbound heartbeat.
func (m *Manager) noteHeartbeatSeen(serverID uint) {
	m.mu.RLock()
	c, ok := m.conns[serverID]
	m.mu.RUnlock()
	if ok {
		c.mu.Lock()
		c.hbFailures = 0
		c.mu.Unlock()
	}
	m.info.recordHeartbeat(serverID)
}
