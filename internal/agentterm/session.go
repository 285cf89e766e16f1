package agentterm

import (
	"sync"
	"time"

	"github.com/EnderKC/BetterMonitor-sub000/internal/protocol"
	"github.com/EnderKC/BetterMonitor-sub000/internal/schedule"
)

// OutputKind distinguishes the three things an agent can say about a shell.
type OutputKind int

const (
	// OutputData is terminal bytes from the shell's stdout/stderr.
	OutputData OutputKind = iota
	// OutputError is a server-reported error, rendered inline with a
	// distinct highlight. The session stays usable.
	OutputError
	// OutputClosed reports that the shell exited.
	OutputClosed
)

// String returns a short name for logging.
func (k OutputKind) String() string {
	switch k {
	case OutputData:
		return "data"
	case OutputError:
		return "error"
	case OutputClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Output is one delivery to a session's output callback.
type Output struct {
	Kind     OutputKind
	Data     string // terminal bytes for OutputData
	Message  string // error text for OutputError, exit notice for OutputClosed
	ExitCode *int   // set on OutputClosed when the agent reported one
}

// OutputFunc receives session output. It is invoked from the connection's
// read loop, so implementations should hand the data off quickly.
type OutputFunc func(sessionID string, out Output)

// Session is the console-side record of one interactive shell on an agent.
type Session struct {
	// ID is the session identifier, client-generated (UUID) unless the
	// caller supplied one.
	ID string
	// ServerID is the server whose agent hosts the shell.
	ServerID uint
	// CreatedAt is when the session was opened on the console side.
	CreatedAt time.Time

	mu           sync.Mutex
	displayName  string
	workingDir   string
	dims         protocol.Dims
	connected    bool
	closed       bool
	lastActivity time.Time
	output       OutputFunc
	resizeTask   *schedule.Task
}

// Connected reports whether the agent has confirmed the shell is live.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Dims returns the last known terminal dimensions.
func (s *Session) Dims() protocol.Dims {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dims
}

// DisplayName returns the session's display name.
func (s *Session) DisplayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayName
}

// WorkingDirectory returns the directory the shell was started in.
func (s *Session) WorkingDirectory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workingDir
}

// LastActivity returns the time of the last input, output or state change.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// SetOutput installs or replaces the output callback. Passing nil detaches
// the current one; frames arriving while detached are dropped.
func (s *Session) SetOutput(fn OutputFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.output = fn
}

// touch updates the activity timestamp.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// noteConnected marks the shell live after its first response frame.
func (s *Session) noteConnected() {
	s.mu.Lock()
	s.connected = true
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// noteShellExited records that the agent reported the shell gone.
func (s *Session) noteShellExited() {
	s.mu.Lock()
	s.connected = false
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// deliver invokes the output callback outside the session lock. Deliveries
// after markClosed are dropped.
func (s *Session) deliver(out Output) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fn := s.output
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if fn != nil {
		fn(s.ID, out)
	}
}

// markClosed invalidates the session: pending resize sends are cancelled and
// the output callback is dropped so late frames become no-ops.
func (s *Session) markClosed() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.connected = false
	s.output = nil
	task := s.resizeTask
	s.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
}

// SessionInfo is a point-in-time snapshot of a session for listings.
type SessionInfo struct {
	ID               string    `json:"id"`
	ServerID         uint      `json:"server_id"`
	DisplayName      string    `json:"display_name,omitempty"`
	WorkingDirectory string    `json:"working_directory,omitempty"`
	Cols             uint16    `json:"cols"`
	Rows             uint16    `json:"rows"`
	Connected        bool      `json:"connected"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
}

// Info snapshots the session under its lock.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:               s.ID,
		ServerID:         s.ServerID,
		DisplayName:      s.displayName,
		WorkingDirectory: s.workingDir,
		Cols:             s.dims.Cols,
		Rows:             s.dims.Rows,
		Connected:        s.connected,
		CreatedAt:        s.CreatedAt,
		LastActivity:     s.lastActivity,
	}
}
