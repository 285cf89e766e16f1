package agentd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/EnderKC/BetterMonitor-sub000/internal/protocol"
)

// EmitFunc delivers an agent-side frame to the connected console. Frames
// emitted while no console is attached are dropped; shell output still
// lands in the session's scrollback ring.
type EmitFunc func(protocol.Frame)

// shellProc is the running shell behind a session. The real implementation
// wraps a PTY; tests substitute a pipe-backed fake through startShell.
type shellProc interface {
	io.ReadWriter
	Resize(cols, rows uint16) error
	Kill() error
	// Wait blocks until the shell exits and returns its exit code.
	Wait() int
}

// startShell launches a shell under a PTY. Package-level so tests can
// swap in a fake process.
var startShell = func(shell, cwd string, cols, rows uint16) (shellProc, error) {
	cmd := exec.Command(shell)
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "COLORTERM=truecolor")
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}
	return &ptyProc{ptmx: ptmx, cmd: cmd}, nil
}

type ptyProc struct {
	ptmx *os.File
	cmd  *exec.Cmd
}

func (p *ptyProc) Read(b []byte) (int, error)  { return p.ptmx.Read(b) }
func (p *ptyProc) Write(b []byte) (int, error) { return p.ptmx.Write(b) }

func (p *ptyProc) Resize(cols, rows uint16) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

func (p *ptyProc) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *ptyProc) Wait() int {
	err := p.cmd.Wait()
	p.ptmx.Close()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// ShellInfo is one row of the session listing.
type ShellInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Cwd       string    `json:"cwd,omitempty"`
	Cols      uint16    `json:"cols"`
	Rows      uint16    `json:"rows"`
	StartedAt time.Time `json:"started_at"`
}

// ShellManager owns the PTY-backed shell sessions of this host. Session ids
// are assigned by the console; a create command for an id that is already
// running is an attach, answered by replaying the scrollback ring so the
// reconnecting viewer sees recent output.
type ShellManager struct {
	shell      string
	defaultCwd string
	scrollback int

	mu       sync.Mutex
	sessions map[string]*shellSession
	emit     EmitFunc
	emitGen  uint64
}

type shellSession struct {
	id      string
	name    string
	cwd     string
	proc    shellProc
	started time.Time

	mu   sync.Mutex
	dims protocol.Dims
	ring *byteRing
}

func NewShellManager(shell, defaultCwd string, scrollbackBytes int) *ShellManager {
	if scrollbackBytes <= 0 {
		scrollbackBytes = 256 * 1024
	}
	return &ShellManager{
		shell:      shell,
		defaultCwd: defaultCwd,
		scrollback: scrollbackBytes,
		sessions:   make(map[string]*shellSession),
	}
}

// SetEmitter installs or replaces the frame sink. Sessions keep running
// and buffering scrollback while no console is attached. The returned
// detach clears the sink only if no newer console has attached since, so
// a slow teardown of the old connection cannot silence a fresh one.
func (m *ShellManager) SetEmitter(fn EmitFunc) (detach func()) {
	m.mu.Lock()
	m.emitGen++
	gen := m.emitGen
	m.emit = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		if m.emitGen == gen {
			m.emit = nil
		}
		m.mu.Unlock()
	}
}

func (m *ShellManager) send(f protocol.Frame) {
	m.mu.Lock()
	fn := m.emit
	m.mu.Unlock()
	if fn != nil {
		fn(f)
	}
}

// Create starts a shell for the given session id, or attaches to it if one
// is already running. Attach replays the scrollback ring as a single
// shell_response frame, which doubles as the liveness confirmation the
// console waits for.
func (m *ShellManager) Create(id string, spec protocol.CreateSpec) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if spec.Cols == 0 {
		spec.Cols = 80
	}
	if spec.Rows == 0 {
		spec.Rows = 24
	}

	m.mu.Lock()
	existing := m.sessions[id]
	m.mu.Unlock()

	if existing != nil {
		existing.mu.Lock()
		replay := string(existing.ring.snapshot())
		if spec.Cols != existing.dims.Cols || spec.Rows != existing.dims.Rows {
			existing.dims = protocol.Dims{Cols: spec.Cols, Rows: spec.Rows}
			existing.proc.Resize(spec.Cols, spec.Rows)
		}
		existing.mu.Unlock()
		m.send(protocol.NewShellResponse(id, replay))
		return nil
	}

	cwd := spec.Cwd
	if cwd == "" {
		cwd = m.defaultCwd
	}
	proc, err := startShell(m.shell, cwd, spec.Cols, spec.Rows)
	if err != nil {
		log.Printf("[shell] session %s: %v", id, err)
		m.send(protocol.NewShellError(id, fmt.Sprintf("failed to start shell: %v", err)))
		return err
	}

	s := &shellSession{
		id:      id,
		name:    spec.Name,
		cwd:     cwd,
		proc:    proc,
		started: time.Now(),
		dims:    protocol.Dims{Cols: spec.Cols, Rows: spec.Rows},
		ring:    newByteRing(m.scrollback),
	}
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	log.Printf("[shell] session %s started (%dx%d, cwd=%s)", id, spec.Cols, spec.Rows, cwd)

	go m.pump(s)
	return nil
}

// pump relays shell output until the process exits, then reaps it and
// reports the exit code.
func (m *ShellManager) pump(s *shellSession) {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.proc.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.ring.append(buf[:n])
			s.mu.Unlock()
			m.send(protocol.NewShellResponse(s.id, string(buf[:n])))
		}
		if err != nil {
			break
		}
	}

	exitCode := s.proc.Wait()

	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()

	log.Printf("[shell] session %s exited with code %d", s.id, exitCode)
	m.send(protocol.NewShellCloseNotice(s.id, exitCode))
}

// Replay re-sends a session's scrollback ring without touching its
// dimensions. Used for the session query parameter on a fresh console
// connection. Reports whether the session exists.
func (m *ShellManager) Replay(id string) bool {
	m.mu.Lock()
	s := m.sessions[id]
	m.mu.Unlock()
	if s == nil {
		return false
	}
	s.mu.Lock()
	replay := string(s.ring.snapshot())
	s.mu.Unlock()
	m.send(protocol.NewShellResponse(id, replay))
	return true
}

// Input writes terminal input to a session's shell.
func (m *ShellManager) Input(id, data string) {
	m.mu.Lock()
	s := m.sessions[id]
	m.mu.Unlock()
	if s == nil {
		m.send(protocol.NewShellError(id, "no such session"))
		return
	}
	if _, err := s.proc.Write([]byte(data)); err != nil {
		m.send(protocol.NewShellError(id, fmt.Sprintf("write failed: %v", err)))
	}
}

// Resize changes a session's terminal dimensions.
func (m *ShellManager) Resize(id string, dims protocol.Dims) {
	if dims.Cols == 0 || dims.Rows == 0 {
		return
	}
	m.mu.Lock()
	s := m.sessions[id]
	m.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	s.dims = dims
	s.mu.Unlock()
	if err := s.proc.Resize(dims.Cols, dims.Rows); err != nil {
		log.Printf("[shell] session %s resize: %v", id, err)
	}
}

// Close terminates a session's shell. The exit notice is sent by the pump
// once the process is reaped. Closing an unknown session is a no-op.
func (m *ShellManager) Close(id string) {
	m.mu.Lock()
	s := m.sessions[id]
	m.mu.Unlock()
	if s == nil {
		return
	}
	if err := s.proc.Kill(); err != nil {
		log.Printf("[shell] session %s kill: %v", id, err)
	}
}

// Get reports whether a session is running.
func (m *ShellManager) Get(id string) (ShellInfo, bool) {
	m.mu.Lock()
	s := m.sessions[id]
	m.mu.Unlock()
	if s == nil {
		return ShellInfo{}, false
	}
	return s.info(), true
}

// List snapshots the running sessions, oldest first.
func (m *ShellManager) List() []ShellInfo {
	m.mu.Lock()
	sessions := make([]*shellSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]ShellInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// CloseAll kills every running shell. Used at shutdown.
func (m *ShellManager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*shellSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.proc.Kill()
	}
}

func (s *shellSession) info() ShellInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ShellInfo{
		ID:        s.id,
		Name:      s.name,
		Cwd:       s.cwd,
		Cols:      s.dims.Cols,
		Rows:      s.dims.Rows,
		StartedAt: s.started,
	}
}
