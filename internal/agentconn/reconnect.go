// reconnect.go implements automatic reconnection for the agentconn package.
//
// When a socket closes unexpectedly (or a dial fails), scheduleReconnect
// arms the connection's reconnect timer with a linearly growing delay:
// attempt × base, capped at the maximum (2s → 4s → 6s → ... → 30s with the
// defaults). After the attempt limit the connection enters a terminal
// gave-up state that only a user-initiated connect clears.
//
// Reconnects are deferred while a file save is in flight for the server: an
// agent restarting mid-save would lose the write acknowledgement. The timer
// callback polls the save guard until it clears, then dials with a fresh
// backoff counter.

package agentconn

import (
	"context"
	"fmt"
	"log"
	"time"
)

// reconnectDelay computes the wait before a reconnect attempt. The delay
// grows linearly with the attempt number and is capped at max.
func reconnectDelay(attempt int, base, max time.Duration) time.Duration {
	d := time.Duration(attempt) * base
	if d > max {
		d = max
	}
	return d
}

// scheduleReconnect arms the reconnect timer after an unexpected close or a
// failed dial. The attempt counter is incremented first, so the first retry
// already waits one base delay. Past the attempt limit the connection gives
// up instead.
func (c *conn) scheduleReconnect(reason string) {
	cfg := c.m.cfg

	c.mu.Lock()
	if c.suppressReconnect || c.gaveUp {
		c.mu.Unlock()
		c.m.stateTracker.setState(c.serverID, StateClosed, reason)
		return
	}
	c.attempt++
	attempt := c.attempt
	if attempt > cfg.ReconnectMaxAttempts {
		c.gaveUp = true
		c.mu.Unlock()
		detail := fmt.Sprintf("gave up after %d attempts (%s)", cfg.ReconnectMaxAttempts, reason)
		c.m.stateTracker.setState(c.serverID, StateGaveUp, detail)
		c.m.events.emit(c.serverID, EventGaveUp, detail)
		log.Printf("agent reconnection for server %d: %s", c.serverID, detail)
		return
	}
	c.mu.Unlock()

	delay := reconnectDelay(attempt, cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay)
	promReconnects.Inc()
	c.m.stateTracker.setState(c.serverID, StateBackoff,
		fmt.Sprintf("retry %d/%d in %s (%s)", attempt, cfg.ReconnectMaxAttempts, delay, reason))
	c.m.events.emit(c.serverID, EventReconnecting,
		fmt.Sprintf("attempt %d/%d in %s", attempt, cfg.ReconnectMaxAttempts, delay))
	c.reconnectTask.Schedule(delay)
}

// attemptReconnect is the reconnect timer callback. It dials once; a failed
// dial schedules the next attempt itself.
func (c *conn) attemptReconnect() {
	c.mu.Lock()
	if c.suppressReconnect || c.gaveUp || c.ws != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if c.m.saveInFlight(c.serverID) {
		c.m.events.emit(c.serverID, EventReconnectDeferred, "file save in flight")
		log.Printf("agent reconnect deferred for server %d: file save in flight", c.serverID)
		if !c.waitForSaveGuard() {
			return
		}
		c.mu.Lock()
		c.attempt = 0
		c.mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.m.cfg.ConnectTimeout)
	defer cancel()
	_ = c.dialAndOpen(ctx)
}

// waitForSaveGuard polls until no save is in flight for the server. Returns
// false if the connection was disconnected or gave up while waiting.
func (c *conn) waitForSaveGuard() bool {
	ticker := time.NewTicker(c.m.cfg.SaveGuardPollInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		stopped := c.suppressReconnect || c.gaveUp
		c.mu.Unlock()
		if stopped {
			return false
		}
		if !c.m.saveInFlight(c.serverID) {
			return true
		}
	}
	return false
}
