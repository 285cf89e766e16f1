package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/EnderKC/BetterMonitor-sub000/internal/agentconn"
	"github.com/EnderKC/BetterMonitor-sub000/internal/agentterm"
	"github.com/EnderKC/BetterMonitor-sub000/internal/database"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// terminalRateLimit is the maximum number of browser messages per second
// per WebSocket connection. Messages beyond this rate are dropped.
const terminalRateLimit = 200

// terminalRateBurst is the token bucket burst size, allowing short bursts
// of rapid input (e.g. paste operations) before rate limiting kicks in.
const terminalRateBurst = 200

// maxTerminalInput caps a single browser input message.
const maxTerminalInput = 64 * 1024

// maxTerminalCols and maxTerminalRows bound resize requests.
const (
	maxTerminalCols uint16 = 500
	maxTerminalRows uint16 = 500
)

type createSessionRequest struct {
	Name string `json:"name"`
	Cwd  string `json:"cwd"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// ListTerminalSessions returns the registered shell sessions for a server.
// GET /api/servers/{id}/terminal/sessions
func ListTerminalSessions(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	if _, err := database.GetServer(id); err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	if TermRegistry == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": []interface{}{}})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": TermRegistry.List(id)})
}

// CreateTerminalSession opens a new shell session on the server's agent.
// The connection is brought up first when it is down.
// POST /api/servers/{id}/terminal/sessions
func CreateTerminalSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	if _, err := database.GetServer(id); err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	if ConnMgr == nil || TermRegistry == nil {
		writeError(w, http.StatusServiceUnavailable, "Session registry not initialized")
		return
	}

	var req createSessionRequest
	if r.Body != nil {
		// An empty body opens a session with defaults.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	if err := ConnMgr.EnsureOpen(r.Context(), id); err != nil {
		log.Printf("Terminal open failed for server %d: agent unreachable: %v", id, err)
		if errors.Is(err, agentconn.ErrGaveUp) {
			writeError(w, http.StatusBadGateway, "Connection gave up; reconnect the server first")
			return
		}
		writeError(w, http.StatusBadGateway, "Agent connection unavailable")
		return
	}

	sess, err := TermRegistry.Open(id, agentterm.OpenOptions{
		DisplayName:      req.Name,
		WorkingDirectory: req.Cwd,
		Cols:             req.Cols,
		Rows:             req.Rows,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to open session")
		return
	}

	writeJSON(w, http.StatusCreated, sess.Info())
}

// CloseTerminalSession closes a shell session and tells the agent to kill
// the backing shell.
// DELETE /api/servers/{id}/terminal/sessions/{sid}
func CloseTerminalSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	sid := chi.URLParam(r, "sid")
	if sid == "" {
		writeError(w, http.StatusBadRequest, "Session ID required")
		return
	}
	if TermRegistry == nil {
		writeError(w, http.StatusServiceUnavailable, "Session registry not initialized")
		return
	}

	sess, ok := TermRegistry.Get(sid)
	if !ok || sess.ServerID != id {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	if err := TermRegistry.Close(sid); err != nil {
		log.Printf("Session close for %s reported: %v", sid, err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// tokenBucket is a simple per-connection rate limiter for browser messages.
type tokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate int // tokens added per second
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate int) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// allow checks if a message is allowed and consumes a token.
func (tb *tokenBucket) allow() bool {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.lastRefill = now

	tb.tokens += int(elapsed.Seconds() * float64(tb.refillRate))
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}

	if tb.tokens <= 0 {
		return false
	}
	tb.tokens--
	return true
}

// wsBridgeWriter serializes writes to a browser WebSocket. Output
// callbacks fire on registry goroutines while the handler may also
// write, so every write goes through one mutex.
type wsBridgeWriter struct {
	mu   sync.Mutex
	ctx  context.Context
	conn *websocket.Conn
}

func (w *wsBridgeWriter) binary(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Write(w.ctx, websocket.MessageBinary, p)
}

func (w *wsBridgeWriter) text(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Write(w.ctx, websocket.MessageText, data)
}

type termControlMsg struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// TerminalWS bridges a browser WebSocket onto an existing shell session.
//
// Browser to console: binary messages are raw terminal input; text
// messages are JSON control frames ({"type":"resize","cols":...,"rows":...}).
// Console to browser: binary messages are terminal output; text messages
// are JSON events (session_info on open, error, closed).
//
// Attaching re-announces the session to the agent, which replays its
// scrollback ring, so a reconnecting browser sees missed output.
// GET /api/servers/{id}/terminal/ws?session=<sid>
func TerminalWS(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "Invalid server ID", http.StatusBadRequest)
		return
	}
	sid := r.URL.Query().Get("session")
	if sid == "" {
		http.Error(w, "session parameter required", http.StatusBadRequest)
		return
	}
	if ConnMgr == nil || TermRegistry == nil {
		http.Error(w, "Session registry not initialized", http.StatusServiceUnavailable)
		return
	}

	clientConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("Failed to accept terminal websocket: %v", err)
		return
	}
	defer clientConn.CloseNow()

	ctx := r.Context()

	sess, ok := TermRegistry.Get(sid)
	if !ok || sess.ServerID != id {
		clientConn.Close(4004, "Session not found")
		return
	}

	if err := ConnMgr.EnsureOpen(ctx, id); err != nil {
		log.Printf("Terminal bridge for session %s: agent unreachable: %v", sid, err)
		clientConn.Close(4500, "Agent connection unavailable")
		return
	}

	clientConn.SetReadLimit(1024 * 1024)

	relayCtx, relayCancel := context.WithCancel(ctx)
	defer relayCancel()

	writer := &wsBridgeWriter{ctx: relayCtx, conn: clientConn}

	if err := writer.text(map[string]string{"type": "session_info", "session_id": sid}); err != nil {
		return
	}

	err = TermRegistry.Attach(sid, func(_ string, out agentterm.Output) {
		switch out.Kind {
		case agentterm.OutputData:
			writer.binary([]byte(out.Data))
		case agentterm.OutputError:
			writer.text(map[string]string{"type": "error", "message": out.Message})
		case agentterm.OutputClosed:
			ev := map[string]interface{}{"type": "closed"}
			if out.ExitCode != nil {
				ev["exit_code"] = *out.ExitCode
			}
			writer.text(ev)
			relayCancel()
		}
	})
	if err != nil {
		clientConn.Close(4500, "Failed to attach session")
		return
	}
	defer sess.SetOutput(nil)

	log.Printf("Terminal bridge attached: session=%s server=%d", sid, id)

	limiter := newTokenBucket(terminalRateBurst, terminalRateLimit)

	for {
		msgType, data, err := clientConn.Read(relayCtx)
		if err != nil {
			break
		}
		if !limiter.allow() {
			continue
		}

		if msgType == websocket.MessageBinary {
			if len(data) > maxTerminalInput {
				log.Printf("Terminal input too large: session=%s size=%d limit=%d", sid, len(data), maxTerminalInput)
				continue
			}
			if err := TermRegistry.Write(sid, string(data)); err != nil {
				break
			}
		} else {
			var msg termControlMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == "resize" && msg.Cols > 0 && msg.Rows > 0 {
				cols, rows := msg.Cols, msg.Rows
				if cols > maxTerminalCols {
					cols = maxTerminalCols
				}
				if rows > maxTerminalRows {
					rows = maxTerminalRows
				}
				TermRegistry.Resize(sid, cols, rows)
			}
		}
	}

	log.Printf("Terminal bridge detached: session=%s server=%d", sid, id)
	clientConn.Close(websocket.StatusNormalClosure, "")
}
