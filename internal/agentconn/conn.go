// conn.go implements the per-server connection lifecycle for the agentconn
// package: dialing, the read loop, heartbeats, and the teardown paths.
//
// A conn owns at most one live WebSocket at a time. Teardown has three
// entry points that must not double-handle the same socket: the read loop
// exiting (handleReadExit), a heartbeat failure threshold (forceReconnect),
// and a user disconnect. Whichever path runs first takes the socket out of
// the conn under the mutex; the others see a nil socket or a stale
// generation and back off.

package agentconn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/EnderKC/BetterMonitor-sub000/internal/protocol"
	"github.com/EnderKC/BetterMonitor-sub000/internal/schedule"
)

const (
	// maxFrameBytes bounds a single inbound frame. Log chunks and terminal
	// scrollback can be large, so this is well above the library default.
	maxFrameBytes = 1 << 20

	// writeTimeout bounds a single frame write on an open socket.
	writeTimeout = 10 * time.Second
)

// wsConn is the subset of *websocket.Conn the connection layer uses.
// Tests substitute an in-memory implementation.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	CloseNow() error
}

// dialAgent opens the WebSocket to an agent. Package-level var so tests can
// substitute an in-memory dialer.
var dialAgent = func(ctx context.Context, rawURL string) (wsConn, error) {
	c, _, err := websocket.Dial(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(maxFrameBytes)
	return c, nil
}

// conn is the connection entry for one server. It persists across socket
// lifetimes: the pending queue, backoff counter, and reconnect timer outlive
// any individual WebSocket.
type conn struct {
	serverID uint
	m        *Manager

	mu                sync.Mutex
	ws                wsConn             // nil unless open
	cancel            context.CancelFunc // stops the read loop and heartbeat goroutines
	gen               uint64             // bumped on every successful open; stale goroutines check it
	connecting        chan struct{}      // non-nil while a dial is in flight; closed when it settles
	lastDialErr       error
	attempt           int // consecutive failed attempts since the last open
	hbFailures        int // heartbeat sends failed since the last inbound heartbeat
	suppressReconnect bool
	gaveUp            bool
	metrics           *ConnectionMetrics

	writeMu sync.Mutex // serializes socket writes

	pending       *pendingQueue
	reconnectTask *schedule.Task
}

func newConn(m *Manager, serverID uint) *conn {
	c := &conn{
		serverID: serverID,
		m:        m,
		pending:  newPendingQueue(m.cfg.PendingQueueLimit),
		metrics:  &ConnectionMetrics{},
	}
	c.reconnectTask = schedule.NewTask(c.attemptReconnect)
	return c
}

// wsURL builds the agent WebSocket endpoint for a server. The token rides in
// the query string, so the returned URL must never be logged.
func wsURL(ep Endpoint, serverID uint) string {
	scheme := "ws"
	if ep.UseTLS {
		scheme = "wss"
	}
	q := url.Values{}
	q.Set("token", ep.Token)
	u := url.URL{
		Scheme:   scheme,
		Host:     net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port)),
		Path:     fmt.Sprintf("/api/servers/%d/ws", serverID),
		RawQuery: q.Encode(),
	}
	return u.String()
}

// dialAndOpen establishes the socket unless it is already open. Concurrent
// callers share a single dial: the second caller waits for the first dial to
// settle instead of racing it.
func (c *conn) dialAndOpen(ctx context.Context) error {
	c.mu.Lock()
	if c.ws != nil {
		c.mu.Unlock()
		return nil
	}
	if ch := c.connecting; ch != nil {
		c.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
		open := c.ws != nil
		err := c.lastDialErr
		c.mu.Unlock()
		if open {
			return nil
		}
		return err
	}
	ch := make(chan struct{})
	c.connecting = ch
	c.mu.Unlock()

	err := c.dial(ctx)

	c.mu.Lock()
	c.lastDialErr = err
	c.connecting = nil
	c.mu.Unlock()
	close(ch)
	return err
}

// dial resolves the endpoint, opens the socket, and on success installs it
// and starts the read and heartbeat goroutines. On failure it schedules the
// next reconnect attempt per policy.
func (c *conn) dial(ctx context.Context) error {
	m := c.m
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	ep, err := m.resolver.ResolveServer(dialCtx, c.serverID)
	if err != nil {
		if errors.Is(err, ErrServerNotFound) {
			m.stateTracker.setState(c.serverID, StateClosed, "server not found")
			return fmt.Errorf("resolve server %d: %w", c.serverID, err)
		}
		m.stateTracker.setState(c.serverID, StateClosed, fmt.Sprintf("resolve failed: %v", err))
		c.scheduleReconnect(fmt.Sprintf("resolve failed: %v", err))
		return fmt.Errorf("resolve server %d: %w", c.serverID, err)
	}

	addr := net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))
	m.stateTracker.setState(c.serverID, StateConnecting, fmt.Sprintf("connecting to %s", addr))
	promConnectAttempts.Inc()

	ws, err := dialAgent(dialCtx, wsURL(ep, c.serverID))
	if err != nil {
		c.mu.Lock()
		metrics := c.metrics
		c.mu.Unlock()
		metrics.recordError(err.Error())
		log.Printf("agent dial failed for server %d (%s): %v", c.serverID, addr, err)
		c.scheduleReconnect(fmt.Sprintf("dial failed: %v", err))
		return fmt.Errorf("dial agent for server %d: %w", c.serverID, err)
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.suppressReconnect {
		// Disconnect raced the dial and wins.
		c.mu.Unlock()
		loopCancel()
		_ = ws.Close(websocket.StatusNormalClosure, "disconnect requested")
		m.stateTracker.setState(c.serverID, StateClosed, "disconnected during connect")
		return nil
	}
	c.ws = ws
	c.cancel = loopCancel
	c.gen++
	gen := c.gen
	c.attempt = 0
	c.hbFailures = 0
	metrics := &ConnectionMetrics{ConnectedAt: time.Now()}
	c.metrics = metrics
	queued := c.pending.drain()
	c.mu.Unlock()

	promOpenConnections.Inc()
	m.stateTracker.setState(c.serverID, StateOpen, fmt.Sprintf("connected to %s", addr))
	m.events.emit(c.serverID, EventConnected, fmt.Sprintf("connected to %s", addr))
	log.Printf("agent connected for server %d (%s)", c.serverID, addr)

	// Flush frames queued while the socket was closed, oldest first. Frames
	// are not requeued if a write fails; the read loop handles the dead
	// socket.
	for _, data := range queued {
		if err := c.writeRaw(loopCtx, ws, data); err != nil {
			log.Printf("agent pending flush failed for server %d: %v", c.serverID, err)
			break
		}
		metrics.recordSent()
		promFramesSent.Inc()
	}

	go c.readLoop(loopCtx, ws, gen, metrics)
	go c.heartbeatLoop(loopCtx, gen, metrics)
	return nil
}

// readLoop reads frames until the socket dies, handing each one to the
// router.
func (c *conn) readLoop(ctx context.Context, ws wsConn, gen uint64, metrics *ConnectionMetrics) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			c.handleReadExit(gen, err)
			return
		}
		metrics.recordReceived()
		c.m.router.handle(c.serverID, data)
	}
}

// handleReadExit tears down after the read loop stops. Normal closes (1000,
// 1001) and user disconnects end in Closed; anything else enters the
// reconnect policy.
func (c *conn) handleReadExit(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.ws == nil {
		// A newer socket exists or another teardown path already ran.
		c.mu.Unlock()
		return
	}
	ws := c.ws
	cancel := c.cancel
	c.ws = nil
	c.cancel = nil
	suppress := c.suppressReconnect
	metrics := c.metrics
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = ws.CloseNow()
	promOpenConnections.Dec()

	code := websocket.CloseStatus(err)
	var reason string
	if code >= 0 {
		reason = fmt.Sprintf("connection closed (code %d)", code)
	} else {
		reason = fmt.Sprintf("connection lost: %v", err)
	}
	metrics.recordError(reason)
	c.m.events.emit(c.serverID, EventDisconnected, reason)
	log.Printf("agent connection closed for server %d: %v", c.serverID, err)

	if suppress || code == websocket.StatusNormalClosure || code == websocket.StatusGoingAway {
		c.m.stateTracker.setState(c.serverID, StateClosed, reason)
		return
	}
	c.scheduleReconnect(reason)
}

// heartbeatLoop sends liveness frames at the configured interval. Failed
// sends accumulate; the router resets the counter on any inbound heartbeat.
// At the failure limit the socket is torn down and redialed once.
func (c *conn) heartbeatLoop(ctx context.Context, gen uint64, metrics *ConnectionMetrics) {
	ticker := time.NewTicker(c.m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := c.writeNow(protocol.NewHeartbeat(time.Now()))
			if err == nil {
				continue
			}
			metrics.recordHeartbeatFailure()
			promHeartbeatFailures.Inc()
			log.Printf("agent heartbeat send failed for server %d: %v", c.serverID, err)
			if c.noteHeartbeatFailure(gen) {
				c.forceReconnect(gen, "heartbeat failure limit reached")
				return
			}
		}
	}
}

// noteHeartbeatFailure counts a failed heartbeat send and reports whether
// the failure limit has been reached for the current socket.
func (c *conn) noteHeartbeatFailure(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.ws == nil {
		return false
	}
	c.hbFailures++
	return c.hbFailures >= c.m.cfg.HeartbeatFailureLimit
}

// forceReconnect tears the socket down locally and dials again. It takes the
// socket out of the conn before closing so the read loop exit cannot
// schedule a second reconnect for the same failure.
func (c *conn) forceReconnect(gen uint64, reason string) {
	c.mu.Lock()
	if gen != c.gen || c.ws == nil {
		c.mu.Unlock()
		return
	}
	ws := c.ws
	cancel := c.cancel
	c.ws = nil
	c.cancel = nil
	c.hbFailures = 0
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = ws.CloseNow()
	promOpenConnections.Dec()

	c.m.stateTracker.setState(c.serverID, StateClosing, reason)
	c.m.events.emit(c.serverID, EventHeartbeatTimeout, reason)
	log.Printf("agent connection for server %d force-closed: %s", c.serverID, reason)

	ctx, cancelDial := context.WithTimeout(context.Background(), c.m.cfg.ConnectTimeout)
	defer cancelDial()
	_ = c.dialAndOpen(ctx)
}

// disconnect closes the connection with a normal close and suppresses any
// automatic reconnect until the next user connect.
func (c *conn) disconnect() error {
	c.reconnectTask.Cancel()

	c.mu.Lock()
	c.suppressReconnect = true
	c.attempt = 0
	c.hbFailures = 0
	ws := c.ws
	cancel := c.cancel
	c.ws = nil
	c.cancel = nil
	c.mu.Unlock()

	if ws == nil {
		c.m.stateTracker.setState(c.serverID, StateClosed, "disconnect requested")
		return nil
	}

	c.m.stateTracker.setState(c.serverID, StateClosing, "disconnect requested")
	err := ws.Close(websocket.StatusNormalClosure, "disconnect requested")
	if cancel != nil {
		cancel()
	}
	promOpenConnections.Dec()
	c.m.stateTracker.setState(c.serverID, StateClosed, "disconnect requested")
	c.m.events.emit(c.serverID, EventDisconnected, "user disconnect")
	log.Printf("agent disconnected for server %d", c.serverID)
	return err
}

// send delivers a frame on the open socket, or queues it while closed.
func (c *conn) send(f protocol.Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	ws := c.ws
	metrics := c.metrics
	c.mu.Unlock()

	if ws == nil {
		if c.pending.push(data) {
			metrics.recordPendingDropped()
			promPendingDropped.Inc()
			log.Printf("agent send queue full for server %d, dropped oldest frame", c.serverID)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.writeRaw(ctx, ws, data); err != nil {
		return fmt.Errorf("send %s frame to server %d: %w", f.Type, c.serverID, err)
	}
	metrics.recordSent()
	promFramesSent.Inc()
	return nil
}

// writeNow writes a frame only if the socket is open. Unlike send it never
// queues: heartbeats for a closed socket are pointless.
func (c *conn) writeNow(f protocol.Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	ws := c.ws
	metrics := c.metrics
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.writeRaw(ctx, ws, data); err != nil {
		return err
	}
	metrics.recordSent()
	promFramesSent.Inc()
	return nil
}

func (c *conn) writeRaw(ctx context.Context, ws wsConn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.Write(ctx, websocket.MessageText, data)
}
