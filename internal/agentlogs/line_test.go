package agentlogs

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestDetectLevel(t *testing.T) {
	tests := []struct {
		line string
		want Level
	}{
		{"ERROR: connection refused", LevelError},
		{"[error] handler crashed", LevelError},
		{"panic: runtime error: index out of range", LevelError},
		{"FATAL: database unreachable", LevelError},
		{"2024-06-01T10:00:00Z WARN disk usage at 91%", LevelWarn},
		{"warning: deprecated flag", LevelWarn},
		{"INFO: server listening on :8080", LevelInfo},
		{"level=info msg=\"ready\"", LevelInfo},
		{"DEBUG cache miss for key abc", LevelDebug},
		{"TRACE entering handler", LevelDebug},
		{"GET /healthz 200 3ms", LevelNone},
		{"", LevelNone},
		// The earliest token wins when several appear.
		{"WARN: previous error resolved", LevelWarn},
		{"error while emitting warning", LevelError},
	}
	for _, tt := range tests {
		if got := DetectLevel(tt.line); got != tt.want {
			t.Errorf("DetectLevel(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestNewLineClassifies(t *testing.T) {
	l := NewLine("ERROR: oom killed")
	if l.Level != LevelError {
		t.Errorf("level = %q, want error", l.Level)
	}
	if l.Text != "ERROR: oom killed" {
		t.Errorf("text mangled: %q", l.Text)
	}
}

func TestMarkerLine(t *testing.T) {
	l := newMarkerLine("container stopped")
	if l.Level != LevelMarker {
		t.Errorf("level = %q, want marker", l.Level)
	}
	if l.Text != "--- container stopped ---" {
		t.Errorf("text = %q", l.Text)
	}
}

func TestEndReasonText(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"container_stopped", "container stopped"},
		{"stopped_by_user", "stream stopped"},
		{"connection_closed", "connection closed"},
		{"", "stream ended"},
		{"daemon_shutting_down", "daemon shutting down"},
	}
	for _, tt := range tests {
		if got := endReasonText(tt.reason); got != tt.want {
			t.Errorf("endReasonText(%q) = %q, want %q", tt.reason, got, tt.want)
		}
	}
}

func TestLevelDetectionProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("classification is deterministic", prop.ForAll(
		func(text string) bool {
			return DetectLevel(text) == DetectLevel(text)
		},
		gen.AnyString(),
	))

	properties.Property("re-classifying a built line never changes its level", prop.ForAll(
		func(text string) bool {
			l := NewLine(text)
			return NewLine(l.Text).Level == l.Level
		},
		gen.AnyString(),
	))

	properties.Property("classification is case-insensitive", prop.ForAll(
		func(text string) bool {
			return DetectLevel(strings.ToUpper(text)) == DetectLevel(strings.ToLower(text))
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
