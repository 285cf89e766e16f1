// metrics.go implements per-connection counters and Prometheus collectors
// for the agentconn package.
//
// ConnectionMetrics tracks one connection's traffic and failure counts for
// the status API. The package-level Prometheus collectors aggregate across
// all connections and are served by the console's /metrics endpoint.

package agentconn

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConnectionMetrics tracks traffic and failure metrics for an agent connection.
type ConnectionMetrics struct {
	mu                sync.Mutex
	ConnectedAt       time.Time `json:"connected_at"`
	FramesReceived    int64     `json:"frames_received"`
	FramesSent        int64     `json:"frames_sent"`
	HeartbeatFailures int64     `json:"heartbeat_failures"`
	PendingDropped    int64     `json:"pending_dropped"`
	LastError         string    `json:"last_error,omitempty"`
	LastErrorAt       time.Time `json:"last_error_at,omitempty"`
}

// Uptime returns the duration since the connection was established.
func (cm *ConnectionMetrics) Uptime() time.Duration {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.ConnectedAt.IsZero() {
		return 0
	}
	return time.Since(cm.ConnectedAt)
}

// Snapshot returns a copy of the metrics safe for concurrent use.
func (cm *ConnectionMetrics) Snapshot() ConnectionMetrics {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return ConnectionMetrics{
		ConnectedAt:       cm.ConnectedAt,
		FramesReceived:    cm.FramesReceived,
		FramesSent:        cm.FramesSent,
		HeartbeatFailures: cm.HeartbeatFailures,
		PendingDropped:    cm.PendingDropped,
		LastError:         cm.LastError,
		LastErrorAt:       cm.LastErrorAt,
	}
}

func (cm *ConnectionMetrics) recordReceived() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.FramesReceived++
}

func (cm *ConnectionMetrics) recordSent() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.FramesSent++
}

func (cm *ConnectionMetrics) recordHeartbeatFailure() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.HeartbeatFailures++
}

func (cm *ConnectionMetrics) recordPendingDropped() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.PendingDropped++
}

func (cm *ConnectionMetrics) recordError(msg string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.LastError = msg
	cm.LastErrorAt = time.Now()
}

// Prometheus collectors, registered on the default registry and served by
// the console's /metrics endpoint.
var (
	promOpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bettermonitor_agent_connections_open",
		Help: "Number of agent websocket connections currently open.",
	})
	promConnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bettermonitor_agent_connect_attempts_total",
		Help: "Total websocket dial attempts, including reconnects.",
	})
	promReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bettermonitor_agent_reconnects_total",
		Help: "Total automatic reconnect attempts scheduled after unexpected closes.",
	})
	promFramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bettermonitor_agent_frames_received_total",
		Help: "Frames received from agents, by frame type.",
	}, []string{"type"})
	promFramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bettermonitor_agent_frames_sent_total",
		Help: "Frames sent to agents.",
	})
	promHeartbeatFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bettermonitor_agent_heartbeat_failures_total",
		Help: "Heartbeat sends that failed.",
	})
	promProtocolErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bettermonitor_agent_protocol_errors_total",
		Help: "Inbound frames dropped because they could not be parsed.",
	})
	promPendingDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bettermonitor_agent_pending_frames_dropped_total",
		Help: "Pending frames displaced from the bounded outbound queue.",
	})
)
