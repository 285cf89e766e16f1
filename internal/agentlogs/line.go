package agentlogs

import "strings"

// Level classifies a log line for rendering. Detection is a pure function of
// the line text, so re-running it on an already classified line yields the
// same answer.
type Level string

const (
	// LevelNone means no recognizable severity token.
	LevelNone  Level = ""
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	// LevelMarker is used only for synthetic lines the console inserts,
	// such as the stream-end notice. Agents never produce it.
	LevelMarker Level = "marker"
)

// Line is one immutable log line with its detected severity.
type Line struct {
	Text  string `json:"text"`
	Level Level  `json:"level,omitempty"`
}

// NewLine classifies text and wraps it.
func NewLine(text string) Line {
	return Line{Text: text, Level: DetectLevel(text)}
}

// markerPrefix distinguishes console-inserted lines from agent output.
const markerPrefix = "--- "

// newMarkerLine builds the synthetic line appended when a stream ends.
func newMarkerLine(text string) Line {
	return Line{Text: markerPrefix + text + " ---", Level: LevelMarker}
}

// Severity tokens. The earliest match in the line wins, so
// "WARN: previous error resolved" classifies as warn.
var levelTokens = []struct {
	token string
	level Level
}{
	{"panic", LevelError},
	{"fatal", LevelError},
	{"error", LevelError},
	{"err:", LevelError},
	{"warn", LevelWarn},
	{"info", LevelInfo},
	{"debug", LevelDebug},
	{"trace", LevelDebug},
}

// DetectLevel scans for the earliest severity token in the line,
// case-insensitively. Lines with no token classify as LevelNone.
func DetectLevel(text string) Level {
	lower := strings.ToLower(text)
	best := -1
	level := LevelNone
	for _, lt := range levelTokens {
		idx := strings.Index(lower, lt.token)
		if idx < 0 {
			continue
		}
		if best < 0 || idx < best {
			best = idx
			level = lt.level
		}
	}
	return level
}

// endReasonText maps agent end-reason codes to the text shown on the marker
// line. Unknown codes pass through so nothing is hidden.
func endReasonText(reason string) string {
	switch reason {
	case "container_stopped":
		return "container stopped"
	case "stopped_by_user":
		return "stream stopped"
	case "connection_closed":
		return "connection closed"
	case "":
		return "stream ended"
	default:
		return strings.ReplaceAll(reason, "_", " ")
	}
}
