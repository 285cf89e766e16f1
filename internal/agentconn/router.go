// router.go dispatches inbound agent frames for the agentconn package.
//
// The router is the only place raw bytes from an agent are decoded. Frames
// that fail to decode are logged and dropped; a misbehaving agent must never
// take the console down. Heartbeats, welcome frames, and monitoring samples
// are absorbed here; terminal and log stream frames are handed to the
// registered sinks.

package agentconn

import (
	"log"
	"sync"

	"github.com/EnderKC/BetterMonitor-sub000/internal/logutil"
	"github.com/EnderKC/BetterMonitor-sub000/internal/protocol"
)

// ShellSink receives terminal frames routed off an agent connection.
// The terminal session registry implements it.
type ShellSink interface {
	HandleShellFrame(serverID uint, env protocol.Envelope)
}

// StreamSink receives container log stream frames routed off an agent
// connection. The log stream registry implements it.
type StreamSink interface {
	HandleLogData(serverID uint, streamID string, logs string)
	HandleLogEnd(serverID uint, streamID string, reason string)
}

// Router fans inbound frames out to the registered sinks. Sinks may be
// registered or replaced at any time; a nil sink drops its frames.
type Router struct {
	m *Manager

	mu     sync.RWMutex
	shell  ShellSink
	stream StreamSink
}

func newRouter(m *Manager) *Router {
	return &Router{m: m}
}

// SetShellSink registers the consumer of terminal frames.
func (r *Router) SetShellSink(s ShellSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shell = s
}

// SetStreamSink registers the consumer of log stream frames.
func (r *Router) SetStreamSink(s StreamSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stream = s
}

func (r *Router) sinks() (ShellSink, StreamSink) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.shell, r.stream
}

// handle decodes one raw inbound message and dispatches it. It never
// panics on agent input: undecodable frames are dropped with a log line,
// unknown types are ignored.
func (r *Router) handle(serverID uint, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		promProtocolErrors.Inc()
		log.Printf("agent frame dropped for server %d: %v", serverID, err)
		return
	}
	promFramesReceived.WithLabelValues(env.Kind.String()).Inc()

	shell, stream := r.sinks()

	switch env.Kind {
	case protocol.KindWelcome:
		w, err := env.Welcome()
		if err != nil {
			log.Printf("agent welcome frame for server %d undecodable: %v", serverID, err)
			return
		}
		r.m.info.mergeWelcome(serverID, w)
		log.Printf("agent for server %d is %s %s/%s (agent %s)",
			serverID, logutil.SanitizeForLog(w.Hostname), w.OS, w.Arch, logutil.SanitizeForLog(w.AgentVersion))

	case protocol.KindHeartbeat:
		r.m.noteHeartbeatSeen(serverID)
		if stats, ok := env.Monitor(); ok {
			r.m.info.recordSample(serverID, stats)
		}

	case protocol.KindStatus:
		if p, ok := env.Status(); ok {
			r.m.info.mergeStatus(serverID, p)
		}
		if stats, ok := env.Monitor(); ok {
			r.m.info.recordSample(serverID, stats)
		}

	case protocol.KindMonitor:
		if stats, ok := env.Monitor(); ok {
			r.m.info.recordSample(serverID, stats)
		}

	case protocol.KindShellResponse, protocol.KindShellError, protocol.KindShellClose:
		if env.SessionID == "" {
			log.Printf("agent %s frame for server %d carries no session id, dropped", env.Kind, serverID)
			return
		}
		if shell != nil {
			shell.HandleShellFrame(serverID, env)
		}

	case protocol.KindLogData:
		if env.StreamID == "" {
			log.Printf("agent log data frame for server %d carries no stream id, dropped", serverID)
			return
		}
		data, err := env.LogData()
		if err != nil {
			log.Printf("agent log data frame for server %d undecodable: %v", serverID, err)
			return
		}
		if stream != nil {
			stream.HandleLogData(serverID, env.StreamID, data.Logs)
		}

	case protocol.KindLogEnd:
		if env.StreamID == "" {
			log.Printf("agent log end frame for server %d carries no stream id, dropped", serverID)
			return
		}
		if stream != nil {
			stream.HandleLogEnd(serverID, env.StreamID, env.LogEnd().Reason)
		}

	case protocol.KindError:
		msg := logutil.Truncate(logutil.SanitizeForLog(env.Error().Message), 200)
		r.m.events.emit(serverID, EventAgentError, msg)
		log.Printf("agent error for server %d: %s", serverID, msg)

	case protocol.KindNoData:
		// Keepalive filler from the agent, nothing to route.

	default:
		log.Printf("agent frame with unknown type %q for server %d ignored",
			logutil.Truncate(logutil.SanitizeForLog(string(env.Type)), 64), serverID)
	}
}
