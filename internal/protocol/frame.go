// Package protocol defines the JSON frame protocol spoken between the console
// and a server agent over the per-server WebSocket.
//
// Every message is one Frame: {"type": ..., "payload": {...}}. Older agent
// builds put the session id (and sometimes the stream id) at the top level of
// the frame instead of inside the payload; Decode accepts both shapes and
// produces a single canonical Envelope so nothing downstream has to know the
// difference.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// FrameType identifies the kind of frame.
type FrameType string

const (
	TypeWelcome             FrameType = "welcome"
	TypeHeartbeat           FrameType = "heartbeat"
	TypeShellCommand        FrameType = "shell_command"
	TypeShellResponse       FrameType = "shell_response"
	TypeShellError          FrameType = "shell_error"
	TypeShellClose          FrameType = "shell_close"
	TypeDockerLogsStream    FrameType = "docker_logs_stream"
	TypeDockerLogsData      FrameType = "docker_logs_stream_data"
	TypeDockerLogsEnd       FrameType = "docker_logs_stream_end"
	TypeError               FrameType = "error"
	TypeStatus              FrameType = "status"
	TypeMonitor             FrameType = "monitor"
	TypeNoData              FrameType = "no_data"
)

// Shell command sub-types (ShellCommandPayload.Type).
const (
	ShellInput  = "input"
	ShellResize = "resize"
	ShellCreate = "create"
	ShellKill   = "close"
)

// Log stream actions (LogStreamPayload.Action).
const (
	LogActionStart = "start"
	LogActionStop  = "stop"
)

// Frame is the wire envelope. Session, StreamID and Message are legacy
// top-level fields kept for agents that predate nested payloads.
type Frame struct {
	Type      FrameType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Session   string          `json:"session,omitempty"`
	StreamID  string          `json:"stream_id,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Encode serializes the frame for the wire.
func (f Frame) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

// ShellCommandPayload is the payload of an outbound shell_command frame.
// Data holds the input string for "input", Dims for "resize", and
// CreateSpec for "create".
type ShellCommandPayload struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Session string          `json:"session"`
}

// Dims carries terminal dimensions for resize commands.
type Dims struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// CreateSpec carries the initial parameters of a new shell session.
type CreateSpec struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
	Cwd  string `json:"cwd,omitempty"`
	Name string `json:"name,omitempty"`
}

// ShellOutputPayload is the payload of shell_response, shell_error and
// shell_close frames.
type ShellOutputPayload struct {
	Session  string `json:"session"`
	Data     string `json:"data,omitempty"`
	Message  string `json:"message,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// LogStreamPayload is the payload of an outbound docker_logs_stream frame.
type LogStreamPayload struct {
	Action      string `json:"action"`
	StreamID    string `json:"stream_id"`
	ContainerID string `json:"container_id,omitempty"`
	Tail        int    `json:"tail,omitempty"`
	Timestamps  bool   `json:"timestamps,omitempty"`
}

// LogDataPayload is the payload of a docker_logs_stream_data frame. Logs is
// a raw chunk that may contain several newline-separated lines.
type LogDataPayload struct {
	StreamID string `json:"stream_id,omitempty"`
	Logs     string `json:"logs"`
}

// LogEndPayload is the payload of a docker_logs_stream_end frame.
type LogEndPayload struct {
	StreamID string `json:"stream_id,omitempty"`
	Reason   string `json:"reason"`
}

// WelcomePayload is sent by the agent once per connection, immediately after
// the WebSocket is accepted.
type WelcomePayload struct {
	ServerID        string `json:"server_id"`
	AgentVersion    string `json:"agent_version"`
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Arch            string `json:"arch"`
	DockerAvailable bool   `json:"docker_available"`
	Session         string `json:"session,omitempty"`
}

// StatusPayload is a partial agent-info update pushed after the welcome.
// Fields left empty (nil for the bool) leave the stored value untouched.
type StatusPayload struct {
	AgentVersion    string `json:"agent_version,omitempty"`
	Hostname        string `json:"hostname,omitempty"`
	OS              string `json:"os,omitempty"`
	Arch            string `json:"arch,omitempty"`
	DockerAvailable *bool  `json:"docker_available,omitempty"`
}

// MonitorStats is the monitoring sample carried by heartbeat echoes and
// monitor frames.
type MonitorStats struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryUsed     uint64  `json:"memory_used"`
	MemoryTotal    uint64  `json:"memory_total"`
	DiskUsed       uint64  `json:"disk_used"`
	DiskTotal      uint64  `json:"disk_total"`
	Load1          float64 `json:"load1"`
	UptimeSeconds  int64   `json:"uptime"`
	ContainerCount int     `json:"container_count"`
}

// ErrorPayload is the payload of an error frame.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// mustPayload marshals v for use as a frame payload. The payload types above
// contain only marshalable fields, so a failure is a programming error.
func mustPayload(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("protocol: marshal payload: %v", err))
	}
	return data
}

// NewHeartbeat builds the periodic liveness frame. The timestamp is unix
// milliseconds, matching what agents echo back.
func NewHeartbeat(ts time.Time) Frame {
	return Frame{Type: TypeHeartbeat, Timestamp: ts.UnixMilli()}
}

// NewHeartbeatEcho builds the agent's reply to a heartbeat, carrying a
// monitoring sample.
func NewHeartbeatEcho(ts time.Time, stats MonitorStats) Frame {
	return Frame{Type: TypeHeartbeat, Timestamp: ts.UnixMilli(), Payload: mustPayload(stats)}
}

// NewShellInput builds a shell_command frame carrying terminal input.
func NewShellInput(sessionID, data string) Frame {
	return Frame{Type: TypeShellCommand, Payload: mustPayload(ShellCommandPayload{
		Type:    ShellInput,
		Data:    mustPayload(data),
		Session: sessionID,
	})}
}

// NewShellResize builds a shell_command frame carrying new dimensions.
func NewShellResize(sessionID string, cols, rows uint16) Frame {
	return Frame{Type: TypeShellCommand, Payload: mustPayload(ShellCommandPayload{
		Type:    ShellResize,
		Data:    mustPayload(Dims{Cols: cols, Rows: rows}),
		Session: sessionID,
	})}
}

// NewShellCreate builds a shell_command frame starting a shell for an
// already-registered session id.
func NewShellCreate(sessionID string, spec CreateSpec) Frame {
	return Frame{Type: TypeShellCommand, Payload: mustPayload(ShellCommandPayload{
		Type:    ShellCreate,
		Data:    mustPayload(spec),
		Session: sessionID,
	})}
}

// NewShellKill builds a shell_command frame asking the agent to terminate a
// session.
func NewShellKill(sessionID string) Frame {
	return Frame{Type: TypeShellCommand, Payload: mustPayload(ShellCommandPayload{
		Type:    ShellKill,
		Session: sessionID,
	})}
}

// NewShellResponse builds an agent-side output frame.
func NewShellResponse(sessionID, data string) Frame {
	return Frame{Type: TypeShellResponse, Payload: mustPayload(ShellOutputPayload{
		Session: sessionID,
		Data:    data,
	})}
}

// NewShellError builds an agent-side error frame for one session.
func NewShellError(sessionID, message string) Frame {
	return Frame{Type: TypeShellError, Payload: mustPayload(ShellOutputPayload{
		Session: sessionID,
		Message: message,
	})}
}

// NewShellCloseNotice builds the agent-side frame reporting that a shell
// exited.
func NewShellCloseNotice(sessionID string, exitCode int) Frame {
	return Frame{Type: TypeShellClose, Payload: mustPayload(ShellOutputPayload{
		Session:  sessionID,
		ExitCode: &exitCode,
	})}
}

// NewLogStreamStart builds the frame that starts a container log stream.
// Timestamps are always requested so lines carry their own time prefix.
func NewLogStreamStart(streamID, containerID string, tail int) Frame {
	return Frame{Type: TypeDockerLogsStream, Payload: mustPayload(LogStreamPayload{
		Action:      LogActionStart,
		StreamID:    streamID,
		ContainerID: containerID,
		Tail:        tail,
		Timestamps:  true,
	})}
}

// NewLogStreamStop builds the frame that stops a container log stream.
func NewLogStreamStop(streamID string) Frame {
	return Frame{Type: TypeDockerLogsStream, Payload: mustPayload(LogStreamPayload{
		Action:   LogActionStop,
		StreamID: streamID,
	})}
}

// NewLogData builds an agent-side log chunk frame.
func NewLogData(streamID, logs string) Frame {
	return Frame{Type: TypeDockerLogsData, StreamID: streamID, Payload: mustPayload(LogDataPayload{
		Logs: logs,
	})}
}

// NewLogEnd builds the agent-side frame terminating a log stream.
func NewLogEnd(streamID, reason string) Frame {
	return Frame{Type: TypeDockerLogsEnd, StreamID: streamID, Payload: mustPayload(LogEndPayload{
		Reason: reason,
	})}
}

// NewWelcome builds the agent's first frame on a fresh connection.
func NewWelcome(p WelcomePayload) Frame {
	return Frame{Type: TypeWelcome, Payload: mustPayload(p)}
}

// NewMonitor builds a standalone monitoring sample frame.
func NewMonitor(stats MonitorStats) Frame {
	return Frame{Type: TypeMonitor, Payload: mustPayload(stats)}
}

// NewError builds an agent-side error frame not tied to a session or stream.
func NewError(message, code string) Frame {
	return Frame{Type: TypeError, Payload: mustPayload(ErrorPayload{
		Message: message,
		Code:    code,
	})}
}
