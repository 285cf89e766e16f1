package agentterm

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EnderKC/BetterMonitor-sub000/internal/protocol"
	"github.com/EnderKC/BetterMonitor-sub000/internal/schedule"
)

// resizeDebounce is how long a resize send waits for further dimension
// changes. A drag-resize fires many times per second; only the last value
// inside the window is sent. Variable so tests can shorten it.
var resizeDebounce = 16 * time.Millisecond

// Terminal dimensions when the caller does not supply any.
const (
	defaultCols uint16 = 80
	defaultRows uint16 = 24
)

// FrameSender is the slice of the connection manager the registry needs:
// frames go out on the per-server socket, queued while the link is down.
type FrameSender interface {
	Send(serverID uint, f protocol.Frame) error
}

// OpenOptions configures a new session.
type OpenOptions struct {
	// SessionID is the id to register under. Generated (UUID) when empty.
	SessionID string
	// DisplayName is a human label for listings.
	DisplayName string
	// WorkingDirectory is where the shell starts. Agent default when empty.
	WorkingDirectory string
	// Cols and Rows are the initial dimensions. 80x24 when zero.
	Cols, Rows uint16
	// Output receives the session's output. May be nil and attached later
	// with Session.SetOutput.
	Output OutputFunc
}

// Registry tracks every open shell session across all servers and routes
// frames between them and the connection manager.
type Registry struct {
	sender FrameSender

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry sending through sender.
func NewRegistry(sender FrameSender) *Registry {
	return &Registry{
		sender:   sender,
		sessions: make(map[string]*Session),
	}
}

// Open registers a new session and sends the create command. The session
// starts with connected=false; the agent's first shell_response flips it.
// The create frame is queued by the connection manager if the link is down.
func (r *Registry) Open(serverID uint, opts OpenOptions) (*Session, error) {
	id := opts.SessionID
	if id == "" {
		id = uuid.New().String()
	}
	cols, rows := opts.Cols, opts.Rows
	if cols == 0 {
		cols = defaultCols
	}
	if rows == 0 {
		rows = defaultRows
	}

	s := &Session{
		ID:           id,
		ServerID:     serverID,
		CreatedAt:    time.Now(),
		displayName:  opts.DisplayName,
		workingDir:   opts.WorkingDirectory,
		dims:         protocol.Dims{Cols: cols, Rows: rows},
		lastActivity: time.Now(),
		output:       opts.Output,
	}
	s.resizeTask = schedule.NewTask(func() { r.flushResize(s) })

	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("session %q already open", id)
	}
	r.sessions[id] = s
	r.mu.Unlock()

	create := protocol.NewShellCreate(id, protocol.CreateSpec{
		Cols: cols,
		Rows: rows,
		Cwd:  opts.WorkingDirectory,
		Name: opts.DisplayName,
	})
	if err := r.sender.Send(serverID, create); err != nil {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		s.markClosed()
		return nil, fmt.Errorf("send create for session %s: %w", id, err)
	}

	log.Printf("[terminal] opened session %s for server %d (%dx%d)", id, serverID, cols, rows)
	return s, nil
}

// Get returns a session by id.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Attach wires out to an existing session's output and re-sends the create
// command so the agent replays its scrollback to the new viewer. The agent
// treats create for a known session id as an attach, not a fresh shell.
func (r *Registry) Attach(sessionID string, out OutputFunc) error {
	s, ok := r.Get(sessionID)
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	s.SetOutput(out)

	dims := s.Dims()
	create := protocol.NewShellCreate(sessionID, protocol.CreateSpec{
		Cols: dims.Cols,
		Rows: dims.Rows,
		Cwd:  s.WorkingDirectory(),
		Name: s.DisplayName(),
	})
	if err := r.sender.Send(s.ServerID, create); err != nil {
		return fmt.Errorf("send attach for session %s: %w", sessionID, err)
	}
	return nil
}

// Write forwards terminal input to the agent. Unknown session ids are a
// no-op: the session may have been closed while input was in flight.
func (r *Registry) Write(sessionID, data string) error {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	s.touch()
	return r.sender.Send(s.ServerID, protocol.NewShellInput(sessionID, data))
}

// Resize records new dimensions and schedules a debounced resize send. Rapid
// calls coalesce; only the dimensions current when the timer fires go out.
// Zero dimensions are ignored.
func (r *Registry) Resize(sessionID string, cols, rows uint16) {
	if cols == 0 || rows == 0 {
		return
	}
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.dims = protocol.Dims{Cols: cols, Rows: rows}
	s.lastActivity = time.Now()
	task := s.resizeTask
	s.mu.Unlock()

	task.Schedule(resizeDebounce)
}

// flushResize sends the dimensions current at fire time.
func (r *Registry) flushResize(s *Session) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	dims := s.dims
	s.mu.Unlock()

	if err := r.sender.Send(s.ServerID, protocol.NewShellResize(s.ID, dims.Cols, dims.Rows)); err != nil {
		log.Printf("[terminal] resize send failed for session %s: %v", s.ID, err)
	}
}

// Close sends the kill command, removes the session and invalidates its
// callbacks so late frames for this id are dropped. The local teardown
// happens regardless of whether the kill frame could be sent.
func (r *Registry) Close(sessionID string) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("session %q not found", sessionID)
	}
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	err := r.sender.Send(s.ServerID, protocol.NewShellKill(sessionID))
	s.markClosed()
	log.Printf("[terminal] closed session %s for server %d", sessionID, s.ServerID)
	return err
}

// DropServer removes every session belonging to a server without sending
// kill commands. Used when the server itself is being forgotten and the
// connection is going away with it. Returns how many sessions were dropped.
func (r *Registry) DropServer(serverID uint) int {
	r.mu.Lock()
	var dropped []*Session
	for id, s := range r.sessions {
		if s.ServerID == serverID {
			dropped = append(dropped, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range dropped {
		s.markClosed()
	}
	if len(dropped) > 0 {
		log.Printf("[terminal] dropped %d session(s) for server %d", len(dropped), serverID)
	}
	return len(dropped)
}

// List returns snapshots of all sessions for a server, oldest first.
func (r *Registry) List(serverID uint) []SessionInfo {
	r.mu.RLock()
	var out []SessionInfo
	for _, s := range r.sessions {
		if s.ServerID == serverID {
			out = append(out, s.Info())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of open sessions across all servers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// HandleShellFrame routes one decoded shell frame to its session. Frames for
// unknown ids are dropped: the session may have been closed while the frame
// was in flight.
func (r *Registry) HandleShellFrame(serverID uint, env protocol.Envelope) {
	r.mu.RLock()
	s, ok := r.sessions[env.SessionID]
	r.mu.RUnlock()
	if !ok {
		log.Printf("[terminal] %s frame for unknown session %s dropped (server %d)", env.Kind, env.SessionID, serverID)
		return
	}
	if s.ServerID != serverID {
		log.Printf("[terminal] %s frame for session %s arrived on server %d, belongs to %d, dropped",
			env.Kind, env.SessionID, serverID, s.ServerID)
		return
	}

	out := env.ShellOutput()
	switch env.Kind {
	case protocol.KindShellResponse:
		s.noteConnected()
		data := out.Data
		if data == "" {
			data = out.Message
		}
		s.deliver(Output{Kind: OutputData, Data: data})
	case protocol.KindShellError:
		s.deliver(Output{Kind: OutputError, Message: out.Message})
	case protocol.KindShellClose:
		s.noteShellExited()
		s.deliver(Output{Kind: OutputClosed, Message: out.Message, ExitCode: out.ExitCode})
	}
}
