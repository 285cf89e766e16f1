package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDecodeNestedSessionID(t *testing.T) {
	raw := []byte(`{"type":"shell_response","payload":{"session":"abc","data":"hi"}}`)
	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Kind != KindShellResponse {
		t.Fatalf("Kind = %v, want KindShellResponse", env.Kind)
	}
	if env.SessionID != "abc" {
		t.Fatalf("SessionID = %q, want abc", env.SessionID)
	}
	if got := env.ShellOutput().Data; got != "hi" {
		t.Fatalf("Data = %q, want hi", got)
	}
}

func TestDecodeLegacyTopLevelSessionID(t *testing.T) {
	raw := []byte(`{"type":"shell_response","session":"abc","message":"hi"}`)
	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.SessionID != "abc" {
		t.Fatalf("SessionID = %q, want abc", env.SessionID)
	}
	if got := env.ShellOutput().Message; got != "hi" {
		t.Fatalf("Message = %q, want hi", got)
	}
}

func TestDecodeBothShapesRouteToSameSession(t *testing.T) {
	nested := []byte(`{"type":"shell_response","payload":{"session":"abc","data":"x"}}`)
	legacy := []byte(`{"type":"shell_response","session":"abc"}`)

	envNested, err := Decode(nested)
	if err != nil {
		t.Fatalf("Decode nested: %v", err)
	}
	envLegacy, err := Decode(legacy)
	if err != nil {
		t.Fatalf("Decode legacy: %v", err)
	}

	if envNested.SessionID != envLegacy.SessionID {
		t.Fatalf("session ids differ: nested=%q legacy=%q", envNested.SessionID, envLegacy.SessionID)
	}
	if envNested.SessionID != "abc" {
		t.Fatalf("SessionID = %q, want abc", envNested.SessionID)
	}
}

func TestDecodeNestedSessionWinsOverTopLevel(t *testing.T) {
	raw := []byte(`{"type":"shell_response","session":"old","payload":{"session":"new"}}`)
	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.SessionID != "new" {
		t.Fatalf("SessionID = %q, want new (nested wins)", env.SessionID)
	}
}

func TestDecodeStreamIDShapes(t *testing.T) {
	topLevel := []byte(`{"type":"docker_logs_stream_data","stream_id":"s1","payload":{"logs":"a\n"}}`)
	nested := []byte(`{"type":"docker_logs_stream_data","payload":{"stream_id":"s1","logs":"a\n"}}`)

	for _, raw := range [][]byte{topLevel, nested} {
		env, err := Decode(raw)
		if err != nil {
			t.Fatalf("Decode %s: %v", raw, err)
		}
		if env.StreamID != "s1" {
			t.Fatalf("StreamID = %q, want s1 for %s", env.StreamID, raw)
		}
		data, err := env.LogData()
		if err != nil {
			t.Fatalf("LogData: %v", err)
		}
		if data.Logs != "a\n" {
			t.Fatalf("Logs = %q, want a\\n", data.Logs)
		}
	}
}

func TestDecodeUnknownType(t *testing.T) {
	env, err := Decode([]byte(`{"type":"sorcery","payload":{"x":1}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Kind != KindUnknown {
		t.Fatalf("Kind = %v, want KindUnknown", env.Kind)
	}
	if env.Type != "sorcery" {
		t.Fatalf("Type = %q, want sorcery", env.Type)
	}
}

func TestDecodeUnparseable(t *testing.T) {
	if _, err := Decode([]byte(`{nope`)); err == nil {
		t.Fatal("Decode accepted invalid JSON")
	}
}

func TestHeartbeatCarriesUnixMillis(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	raw, err := NewHeartbeat(ts).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Kind != KindHeartbeat {
		t.Fatalf("Kind = %v, want KindHeartbeat", env.Kind)
	}
	if env.Timestamp != ts.UnixMilli() {
		t.Fatalf("Timestamp = %d, want %d", env.Timestamp, ts.UnixMilli())
	}
}

func TestHeartbeatEchoMonitorSample(t *testing.T) {
	stats := MonitorStats{CPUPercent: 12.5, MemoryUsed: 1024, MemoryTotal: 4096, ContainerCount: 3}
	raw, err := NewHeartbeatEcho(time.Now(), stats).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := env.Monitor()
	if !ok {
		t.Fatal("Monitor() reported no sample")
	}
	if got != stats {
		t.Fatalf("Monitor() = %+v, want %+v", got, stats)
	}
}

func TestPlainHeartbeatHasNoMonitorSample(t *testing.T) {
	raw, _ := NewHeartbeat(time.Now()).Encode()
	env, _ := Decode(raw)
	if _, ok := env.Monitor(); ok {
		t.Fatal("plain heartbeat reported a monitor sample")
	}
}

func TestShellCommandPayloadShapes(t *testing.T) {
	raw, err := NewShellResize("sess", 120, 40).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	var p ShellCommandPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Type != ShellResize || p.Session != "sess" {
		t.Fatalf("payload = %+v", p)
	}
	var dims Dims
	if err := json.Unmarshal(p.Data, &dims); err != nil {
		t.Fatalf("dims: %v", err)
	}
	if dims.Cols != 120 || dims.Rows != 40 {
		t.Fatalf("dims = %+v, want 120x40", dims)
	}
}

func TestLogStreamStartAlwaysRequestsTimestamps(t *testing.T) {
	raw, err := NewLogStreamStart("id-1", "cont-1", 200).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(raw), `"timestamps":true`) {
		t.Fatalf("start frame missing timestamps flag: %s", raw)
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	var p LogStreamPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Action != LogActionStart || p.StreamID != "id-1" || p.ContainerID != "cont-1" || p.Tail != 200 {
		t.Fatalf("payload = %+v", p)
	}
}

func TestLogEndWithoutPayload(t *testing.T) {
	env, err := Decode([]byte(`{"type":"docker_logs_stream_end","stream_id":"s9"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	end := env.LogEnd()
	if end.StreamID != "s9" || end.Reason != "" {
		t.Fatalf("LogEnd = %+v", end)
	}
}

func TestErrorMessageFallsBackToTopLevel(t *testing.T) {
	env, err := Decode([]byte(`{"type":"error","message":"agent exploded"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := env.Error().Message; got != "agent exploded" {
		t.Fatalf("Message = %q", got)
	}
}
