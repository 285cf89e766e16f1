package protocol

import (
	"encoding/json"
	"fmt"
)

// Kind is the decoded discriminator of an Envelope. Unlike FrameType it is a
// closed set: anything the console does not understand decodes to
// KindUnknown, which every consumer must handle explicitly.
type Kind int

const (
	KindUnknown Kind = iota
	KindWelcome
	KindHeartbeat
	KindShellResponse
	KindShellError
	KindShellClose
	KindLogData
	KindLogEnd
	KindError
	KindStatus
	KindMonitor
	KindNoData
)

// String returns the wire name of the kind, or "unknown".
func (k Kind) String() string {
	switch k {
	case KindWelcome:
		return string(TypeWelcome)
	case KindHeartbeat:
		return string(TypeHeartbeat)
	case KindShellResponse:
		return string(TypeShellResponse)
	case KindShellError:
		return string(TypeShellError)
	case KindShellClose:
		return string(TypeShellClose)
	case KindLogData:
		return string(TypeDockerLogsData)
	case KindLogEnd:
		return string(TypeDockerLogsEnd)
	case KindError:
		return string(TypeError)
	case KindStatus:
		return string(TypeStatus)
	case KindMonitor:
		return string(TypeMonitor)
	case KindNoData:
		return string(TypeNoData)
	default:
		return "unknown"
	}
}

// Envelope is the canonical decoded form of an inbound frame. The session or
// stream id has already been resolved from whichever shape the agent used,
// so consumers never look at raw frames.
type Envelope struct {
	Kind      Kind
	Type      FrameType // wire type string, kept for logging unknown frames
	SessionID string
	StreamID  string
	Message   string // legacy top-level message field
	Timestamp int64
	Payload   json.RawMessage
}

// payloadIDs extracts just the identifying fields of a nested payload.
type payloadIDs struct {
	Session  string `json:"session"`
	StreamID string `json:"stream_id"`
}

// kindOf maps a wire type string to its Kind.
func kindOf(t FrameType) Kind {
	switch t {
	case TypeWelcome:
		return KindWelcome
	case TypeHeartbeat:
		return KindHeartbeat
	case TypeShellResponse:
		return KindShellResponse
	case TypeShellError:
		return KindShellError
	case TypeShellClose:
		return KindShellClose
	case TypeDockerLogsData:
		return KindLogData
	case TypeDockerLogsEnd:
		return KindLogEnd
	case TypeError:
		return KindError
	case TypeStatus:
		return KindStatus
	case TypeMonitor:
		return KindMonitor
	case TypeNoData:
		return KindNoData
	default:
		return KindUnknown
	}
}

// Decode parses a raw inbound message into its canonical Envelope. It fails
// only on unparseable JSON; an unrecognized type decodes successfully with
// Kind == KindUnknown.
func Decode(raw []byte) (Envelope, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	return Normalize(f), nil
}

// Normalize resolves the dual payload shapes into the canonical Envelope.
// Current agents nest ids inside payload; older ones put them at the top
// level. For sessions the nested field wins; for streams the top-level field
// wins (the shape current agents emit). Nothing downstream sees raw frames.
func Normalize(f Frame) Envelope {
	env := Envelope{
		Kind:      kindOf(f.Type),
		Type:      f.Type,
		SessionID: f.Session,
		StreamID:  f.StreamID,
		Message:   f.Message,
		Timestamp: f.Timestamp,
		Payload:   f.Payload,
	}

	if len(f.Payload) > 0 {
		var ids payloadIDs
		// Payloads are not always objects (no_data sends null); a failed
		// unmarshal just means there are no nested ids to prefer.
		if err := json.Unmarshal(f.Payload, &ids); err == nil {
			if ids.Session != "" {
				env.SessionID = ids.Session
			}
			if env.StreamID == "" && ids.StreamID != "" {
				env.StreamID = ids.StreamID
			}
		}
	}

	return env
}

// ShellOutput unmarshals the envelope payload as shell output. For legacy
// frames with no payload, the top-level message field is used.
func (e Envelope) ShellOutput() ShellOutputPayload {
	var p ShellOutputPayload
	if len(e.Payload) > 0 {
		_ = json.Unmarshal(e.Payload, &p)
	}
	p.Session = e.SessionID
	if p.Message == "" {
		p.Message = e.Message
	}
	return p
}

// LogData unmarshals the envelope payload as a log chunk.
func (e Envelope) LogData() (LogDataPayload, error) {
	var p LogDataPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return LogDataPayload{}, fmt.Errorf("decode log data payload: %w", err)
	}
	p.StreamID = e.StreamID
	return p, nil
}

// LogEnd unmarshals the envelope payload as a stream end notice. A missing
// or malformed payload yields an empty reason rather than an error: the end
// of the stream matters more than its stated cause.
func (e Envelope) LogEnd() LogEndPayload {
	var p LogEndPayload
	if len(e.Payload) > 0 {
		_ = json.Unmarshal(e.Payload, &p)
	}
	p.StreamID = e.StreamID
	return p
}

// Monitor unmarshals the envelope payload as a monitoring sample. ok is
// false when the frame carries no sample (a plain heartbeat echo).
func (e Envelope) Monitor() (MonitorStats, bool) {
	if len(e.Payload) == 0 {
		return MonitorStats{}, false
	}
	var p MonitorStats
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return MonitorStats{}, false
	}
	if p == (MonitorStats{}) {
		return MonitorStats{}, false
	}
	return p, true
}

// Welcome unmarshals the envelope payload as the agent's hello.
func (e Envelope) Welcome() (WelcomePayload, error) {
	var p WelcomePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return WelcomePayload{}, fmt.Errorf("decode welcome payload: %w", err)
	}
	return p, nil
}

// Status unmarshals the envelope payload as a partial agent-info update.
func (e Envelope) Status() (StatusPayload, bool) {
	if len(e.Payload) == 0 {
		return StatusPayload{}, false
	}
	var p StatusPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return StatusPayload{}, false
	}
	if p == (StatusPayload{}) {
		return StatusPayload{}, false
	}
	return p, true
}

// Error unmarshals the envelope payload as an error report. Legacy frames
// carry the message at the top level.
func (e Envelope) Error() ErrorPayload {
	var p ErrorPayload
	if len(e.Payload) > 0 {
		_ = json.Unmarshal(e.Payload, &p)
	}
	if p.Message == "" {
		p.Message = e.Message
	}
	return p
}
