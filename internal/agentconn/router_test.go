package agentconn

import (
	"sync"
	"testing"
	"time"

	"github.com/EnderKC/BetterMonitor-sub000/internal/protocol"
)

type recordingShellSink struct {
	mu     sync.Mutex
	frames []protocol.Envelope
	ids    []uint
}

func (s *recordingShellSink) HandleShellFrame(serverID uint, env protocol.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, serverID)
	s.frames = append(s.frames, env)
}

func (s *recordingShellSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type streamEvent struct {
	serverID uint
	streamID string
	logs     string
	reason   string
	end      bool
}

type recordingStreamSink struct {
	mu     sync.Mutex
	events []streamEvent
}

func (s *recordingStreamSink) HandleLogData(serverID uint, streamID, logs string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, streamEvent{serverID: serverID, streamID: streamID, logs: logs})
}

func (s *recordingStreamSink) HandleLogEnd(serverID uint, streamID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, streamEvent{serverID: serverID, streamID: streamID, reason: reason, end: true})
}

func newRouterTestManager(t *testing.T) (*Manager, *recordingShellSink, *recordingStreamSink) {
	t.Helper()
	m := NewManager(fastConfig(), staticResolver{ep: Endpoint{Host: "127.0.0.1", Port: 8211}})
	t.Cleanup(func() { _ = m.CloseAll() })

	shell := &recordingShellSink{}
	stream := &recordingStreamSink{}
	m.Router().SetShellSink(shell)
	m.Router().SetStreamSink(stream)
	return m, shell, stream
}

func TestRouter_BothSessionShapesReachTheSink(t *testing.T) {
	m, shell, _ := newRouterTestManager(t)

	nested := []byte(`{"type":"shell_response","payload":{"session":"abc","data":"hello"}}`)
	legacy := []byte(`{"type":"shell_response","session":"abc","message":"hello"}`)

	m.Router().handle(1, nested)
	m.Router().handle(1, legacy)

	shell.mu.Lock()
	defer shell.mu.Unlock()
	if len(shell.frames) != 2 {
		t.Fatalf("shell sink received %d frames, want 2", len(shell.frames))
	}
	for i, env := range shell.frames {
		if env.SessionID != "abc" {
			t.Errorf("frame[%d].SessionID = %q, want %q", i, env.SessionID, "abc")
		}
		if env.Kind != protocol.KindShellResponse {
			t.Errorf("frame[%d].Kind = %v, want KindShellResponse", i, env.Kind)
		}
	}
}

func TestRouter_SessionFrameWithoutIDIsDropped(t *testing.T) {
	m, shell, _ := newRouterTestManager(t)

	m.Router().handle(1, []byte(`{"type":"shell_response","payload":{"data":"orphan"}}`))

	if got := shell.count(); got != 0 {
		t.Errorf("shell sink received %d frames, want 0", got)
	}
}

func TestRouter_UnparseableFrameIsDroppedWithoutPanic(t *testing.T) {
	m, shell, stream := newRouterTestManager(t)

	for _, raw := range [][]byte{
		[]byte(`{not json`),
		[]byte(``),
		[]byte(`"just a string"`),
		[]byte(`[1,2,3]`),
	} {
		m.Router().handle(1, raw)
	}

	if got := shell.count(); got != 0 {
		t.Errorf("shell sink received %d frames, want 0", got)
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	if len(stream.events) != 0 {
		t.Errorf("stream sink received %d events, want 0", len(stream.events))
	}
}

func TestRouter_UnknownTypeIsIgnored(t *testing.T) {
	m, shell, stream := newRouterTestManager(t)

	m.Router().handle(1, []byte(`{"type":"quantum_entangle","payload":{"session":"abc"}}`))

	if got := shell.count(); got != 0 {
		t.Errorf("shell sink received %d frames, want 0", got)
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	if len(stream.events) != 0 {
		t.Errorf("stream sink received %d events, want 0", len(stream.events))
	}
}

func TestRouter_HeartbeatResetsFailureCountAndRecordsSample(t *testing.T) {
	m, _, _ := newRouterTestManager(t)

	c := m.getOrCreate(1)
	c.mu.Lock()
	c.hbFailures = 2
	c.mu.Unlock()

	echo := protocol.NewHeartbeatEcho(time.Now(), protocol.MonitorStats{
		CPUPercent:  12.5,
		MemoryUsed:  512,
		MemoryTotal: 2048,
	})
	raw, err := echo.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	m.Router().handle(1, raw)

	c.mu.Lock()
	failures := c.hbFailures
	c.mu.Unlock()
	if failures != 0 {
		t.Errorf("hbFailures = %d, want 0 after inbound heartbeat", failures)
	}

	info, ok := m.Info(1)
	if !ok {
		t.Fatal("expected server info after heartbeat echo")
	}
	if info.LastHeartbeatAt.IsZero() {
		t.Error("LastHeartbeatAt not stamped")
	}
	if info.LastSample == nil || info.LastSample.CPUPercent != 12.5 {
		t.Errorf("LastSample = %+v, want cpu 12.5", info.LastSample)
	}
}

func TestRouter_PlainHeartbeatCarriesNoSample(t *testing.T) {
	m, _, _ := newRouterTestManager(t)

	raw, err := protocol.NewHeartbeat(time.Now()).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	m.Router().handle(1, raw)

	info, ok := m.Info(1)
	if !ok {
		t.Fatal("expected server info after heartbeat")
	}
	if info.LastSample != nil {
		t.Errorf("LastSample = %+v, want nil for plain heartbeat", info.LastSample)
	}
}

func TestRouter_WelcomeRecordsAgentIdentity(t *testing.T) {
	m, _, _ := newRouterTestManager(t)

	raw, err := protocol.NewWelcome(protocol.WelcomePayload{
		ServerID:        "1",
		AgentVersion:    "1.4.2",
		Hostname:        "web-01",
		OS:              "linux",
		Arch:            "amd64",
		DockerAvailable: true,
	}).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	m.Router().handle(1, raw)

	info, ok := m.Info(1)
	if !ok {
		t.Fatal("expected server info after welcome")
	}
	if info.Hostname != "web-01" || info.AgentVersion != "1.4.2" || !info.DockerAvailable {
		t.Errorf("info = %+v, want web-01 / 1.4.2 / docker available", info)
	}
}

func TestRouter_StatusMergesWithoutClobberingIdentity(t *testing.T) {
	m, _, _ := newRouterTestManager(t)

	raw, err := protocol.NewWelcome(protocol.WelcomePayload{
		AgentVersion:    "1.4.2",
		Hostname:        "web-01",
		OS:              "linux",
		Arch:            "amd64",
		DockerAvailable: true,
	}).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	m.Router().handle(1, raw)

	// A partial update: the docker daemon went away, the agent upgraded.
	m.Router().handle(1, []byte(`{"type":"status","payload":{"agent_version":"1.4.3","docker_available":false}}`))

	info, ok := m.Info(1)
	if !ok {
		t.Fatal("expected server info")
	}
	if info.AgentVersion != "1.4.3" {
		t.Errorf("AgentVersion = %q, want 1.4.3", info.AgentVersion)
	}
	if info.DockerAvailable {
		t.Error("DockerAvailable still true after status cleared it")
	}
	if info.Hostname != "web-01" || info.OS != "linux" {
		t.Errorf("identity clobbered by partial status: %+v", info)
	}

	// A status carrying only a monitoring sample leaves identity alone.
	m.Router().handle(1, []byte(`{"type":"status","payload":{"cpu_percent":12.5,"memory_used":100,"memory_total":200}}`))

	info, _ = m.Info(1)
	if info.LastSample == nil || info.LastSample.CPUPercent != 12.5 {
		t.Errorf("LastSample = %+v, want cpu 12.5", info.LastSample)
	}
	if info.AgentVersion != "1.4.3" || info.Hostname != "web-01" {
		t.Errorf("identity changed by sample-only status: %+v", info)
	}
}

func TestRouter_LogFramesRouteByStreamID(t *testing.T) {
	m, _, stream := newRouterTestManager(t)

	// Current shape: stream id at the top level.
	data, err := protocol.NewLogData("stream-7", "line one\nline two\n").Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	m.Router().handle(3, data)

	// Older shape: stream id nested in the payload only.
	m.Router().handle(3, []byte(`{"type":"docker_logs_stream_data","payload":{"stream_id":"stream-7","logs":"line three\n"}}`))

	end, err := protocol.NewLogEnd("stream-7", "container_stopped").Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	m.Router().handle(3, end)

	stream.mu.Lock()
	defer stream.mu.Unlock()
	if len(stream.events) != 3 {
		t.Fatalf("stream sink received %d events, want 3", len(stream.events))
	}
	if stream.events[0].logs != "line one\nline two\n" || stream.events[0].streamID != "stream-7" {
		t.Errorf("event[0] = %+v", stream.events[0])
	}
	if stream.events[1].logs != "line three\n" || stream.events[1].streamID != "stream-7" {
		t.Errorf("event[1] = %+v", stream.events[1])
	}
	if !stream.events[2].end || stream.events[2].reason != "container_stopped" {
		t.Errorf("event[2] = %+v, want end with reason container_stopped", stream.events[2])
	}
	for i, ev := range stream.events {
		if ev.serverID != 3 {
			t.Errorf("event[%d].serverID = %d, want 3", i, ev.serverID)
		}
	}
}

func TestRouter_LogFrameWithoutStreamIDIsDropped(t *testing.T) {
	m, _, stream := newRouterTestManager(t)

	m.Router().handle(1, []byte(`{"type":"docker_logs_stream_data","payload":{"logs":"orphan line\n"}}`))
	m.Router().handle(1, []byte(`{"type":"docker_logs_stream_end","payload":{"reason":"whatever"}}`))

	stream.mu.Lock()
	defer stream.mu.Unlock()
	if len(stream.events) != 0 {
		t.Errorf("stream sink received %d events, want 0", len(stream.events))
	}
}

func TestRouter_ErrorFrameBecomesEvent(t *testing.T) {
	m, _, _ := newRouterTestManager(t)

	raw, err := protocol.NewError("docker daemon unreachable", "docker_unavailable").Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	m.Router().handle(1, raw)

	events := m.Events(1, 0)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != EventAgentError {
		t.Errorf("event type = %s, want %s", events[0].Type, EventAgentError)
	}
	if events[0].Details != "docker daemon unreachable" {
		t.Errorf("event details = %q", events[0].Details)
	}
}

func TestRouter_NilSinksDropFramesWithoutPanic(t *testing.T) {
	m := NewManager(fastConfig(), staticResolver{ep: Endpoint{Host: "127.0.0.1", Port: 8211}})
	t.Cleanup(func() { _ = m.CloseAll() })

	m.Router().handle(1, []byte(`{"type":"shell_response","payload":{"session":"abc","data":"x"}}`))
	m.Router().handle(1, []byte(`{"type":"docker_logs_stream_data","stream_id":"s","payload":{"logs":"x"}}`))
	m.Router().handle(1, []byte(`{"type":"docker_logs_stream_end","stream_id":"s","payload":{"reason":"done"}}`))
}
