package agentd

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/EnderKC/BetterMonitor-sub000/internal/protocol"
)

// wsSession is one console connection. All frame writes funnel through the
// mutex: shell pumps and log streams emit from their own goroutines while
// the read loop answers heartbeats.
type wsSession struct {
	mu   sync.Mutex
	ctx  context.Context
	sock *websocket.Conn
}

func (c *wsSession) emit(f protocol.Frame) {
	data, err := f.Encode()
	if err != nil {
		log.Printf("[ws] %v", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sock.Write(c.ctx, websocket.MessageText, data); err != nil && c.ctx.Err() == nil {
		log.Printf("[ws] write %s frame: %v", f.Type, err)
	}
}

// handleWS serves the multiplexed console connection: a welcome frame on
// open, then a read loop answering heartbeats and routing shell and log
// stream commands. Undecodable or unrecognized frames are dropped with a
// log line; they never terminate the connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1024 * 1024)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ws := &wsSession{ctx: ctx, sock: conn}

	hostname, _ := os.Hostname()
	ws.emit(protocol.NewWelcome(protocol.WelcomePayload{
		ServerID:        chi.URLParam(r, "id"),
		AgentVersion:    Version,
		Hostname:        hostname,
		OS:              runtime.GOOS,
		Arch:            runtime.GOARCH,
		DockerAvailable: s.engine.Available(),
		Session:         r.URL.Query().Get("session"),
	}))

	detach := s.shells.SetEmitter(ws.emit)
	defer detach()

	// A session query parameter pre-attaches one existing shell: its
	// scrollback is replayed so the viewer sees recent output right away.
	if sid := r.URL.Query().Get("session"); sid != "" {
		if !s.shells.Replay(sid) {
			ws.emit(protocol.NewShellError(sid, "no such session"))
		}
	}

	log.Printf("[ws] console connected from %s", r.RemoteAddr)
	defer log.Printf("[ws] console disconnected")

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var f protocol.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("[ws] unparseable frame dropped: %v", err)
			continue
		}
		s.dispatch(ctx, ws, f)
	}
}

func (s *Server) dispatch(ctx context.Context, ws *wsSession, f protocol.Frame) {
	switch f.Type {
	case protocol.TypeHeartbeat:
		ts := time.Now()
		if f.Timestamp > 0 {
			ts = time.UnixMilli(f.Timestamp)
		}
		ws.emit(protocol.NewHeartbeatEcho(ts, s.monitor.Sample(ctx)))

	case protocol.TypeShellCommand:
		var p protocol.ShellCommandPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			log.Printf("[ws] bad shell command payload dropped: %v", err)
			return
		}
		sessionID := p.Session
		if sessionID == "" {
			sessionID = f.Session
		}
		s.dispatchShell(ws, sessionID, p)

	case protocol.TypeDockerLogsStream:
		var p protocol.LogStreamPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			log.Printf("[ws] bad log stream payload dropped: %v", err)
			return
		}
		if p.StreamID == "" {
			p.StreamID = f.StreamID
		}
		switch p.Action {
		case protocol.LogActionStart:
			s.streams.Start(ctx, p, ws.emit)
		case protocol.LogActionStop:
			s.streams.Stop(p.StreamID)
		default:
			log.Printf("[ws] unknown log stream action %q dropped", p.Action)
		}

	default:
		log.Printf("[ws] unrecognized frame type %q dropped", f.Type)
	}
}

func (s *Server) dispatchShell(ws *wsSession, sessionID string, p protocol.ShellCommandPayload) {
	switch p.Type {
	case protocol.ShellCreate:
		var spec protocol.CreateSpec
		if len(p.Data) > 0 {
			if err := json.Unmarshal(p.Data, &spec); err != nil {
				ws.emit(protocol.NewShellError(sessionID, "bad create spec"))
				return
			}
		}
		s.shells.Create(sessionID, spec)

	case protocol.ShellInput:
		var input string
		if err := json.Unmarshal(p.Data, &input); err != nil {
			log.Printf("[ws] bad shell input for session %s dropped", sessionID)
			return
		}
		s.shells.Input(sessionID, input)

	case protocol.ShellResize:
		var dims protocol.Dims
		if err := json.Unmarshal(p.Data, &dims); err != nil {
			return
		}
		s.shells.Resize(sessionID, dims)

	case protocol.ShellKill:
		s.shells.Close(sessionID)

	default:
		log.Printf("[ws] unknown shell command %q dropped", p.Type)
	}
}
