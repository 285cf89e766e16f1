package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/EnderKC/BetterMonitor-sub000/internal/agentconn"
	"github.com/EnderKC/BetterMonitor-sub000/internal/agentfiles"
	"github.com/EnderKC/BetterMonitor-sub000/internal/agentlogs"
	"github.com/EnderKC/BetterMonitor-sub000/internal/agentrest"
	"github.com/EnderKC/BetterMonitor-sub000/internal/agentterm"
	"github.com/EnderKC/BetterMonitor-sub000/internal/crypto"
	"github.com/EnderKC/BetterMonitor-sub000/internal/database"
	"github.com/EnderKC/BetterMonitor-sub000/internal/protocol"
)

// setupTestDB swaps the package database for an in-memory one for the
// duration of the test.
func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&database.Server{}, &database.Setting{}, &database.Certificate{}, &database.ConnectionLog{}); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	saved := database.DB
	database.DB = db
	t.Cleanup(func() { database.DB = saved })
}

// resetHandlerDeps clears the package wiring and restores it afterwards,
// so tests only see what they set themselves.
func resetHandlerDeps(t *testing.T) {
	t.Helper()
	savedMgr := ConnMgr
	savedTerm := TermRegistry
	savedLogs := LogRegistry
	savedFiles := FileSvc
	savedResolver := Resolver
	t.Cleanup(func() {
		ConnMgr = savedMgr
		TermRegistry = savedTerm
		LogRegistry = savedLogs
		FileSvc = savedFiles
		Resolver = savedResolver
	})
	ConnMgr = nil
	TermRegistry = nil
	LogRegistry = nil
	FileSvc = nil
	Resolver = nil
}

// newChiRequest builds a request carrying chi URL parameters, so handlers
// can be invoked directly without a router.
func newChiRequest(method, target string, params map[string]string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func newChiRequestWithBody(t *testing.T, method, target string, params map[string]string, body interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request body: %v", err)
	}
	r := httptest.NewRequest(method, target, bytes.NewReader(data))
	r.Header.Set("Content-Type", "application/json")
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// restCall records one REST request the console made to the fake agent.
type restCall struct {
	method string
	path   string
	query  url.Values
	body   []byte
	auth   string
}

// fakeAgent is an in-process agent endpoint. The console's WebSocket gets
// a welcome frame and heartbeat echoes with a monitoring sample; every
// other realtime frame is recorded. The request-shaped surface (files,
// containers, certificates, websites) serves canned data and records
// each call.
type fakeAgent struct {
	t   *testing.T
	srv *httptest.Server

	mu        sync.Mutex
	conns     []*websocket.Conn
	frames    []protocol.Frame
	restCalls []restCall
}

func startFakeAgent(t *testing.T) *fakeAgent {
	t.Helper()
	a := &fakeAgent{t: t}
	a.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/ws") {
			a.serveWS(w, r)
			return
		}
		a.serveREST(w, r)
	}))
	t.Cleanup(a.srv.Close)
	return a
}

func (a *fakeAgent) serveWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	a.mu.Lock()
	a.conns = append(a.conns, c)
	a.mu.Unlock()

	ctx := r.Context()
	welcome, _ := protocol.NewWelcome(protocol.WelcomePayload{
		AgentVersion:    "1.2.3",
		Hostname:        "agent-under-test",
		OS:              "linux",
		Arch:            "amd64",
		DockerAvailable: true,
	}).Encode()
	if err := c.Write(ctx, websocket.MessageText, welcome); err != nil {
		return
	}

	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		var f protocol.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if f.Type == protocol.TypeHeartbeat {
			echo, _ := protocol.NewHeartbeatEcho(time.Now(), protocol.MonitorStats{
				CPUPercent: 12.5, MemoryUsed: 1 << 30, MemoryTotal: 4 << 30,
			}).Encode()
			c.Write(ctx, websocket.MessageText, echo)
			continue
		}
		a.mu.Lock()
		a.frames = append(a.frames, f)
		a.mu.Unlock()
	}
}

func (a *fakeAgent) serveREST(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	a.mu.Lock()
	a.restCalls = append(a.restCalls, restCall{
		method: r.Method,
		path:   r.URL.Path,
		query:  r.URL.Query(),
		body:   body,
		auth:   r.Header.Get("Authorization"),
	})
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	route := r.Method + " " + r.URL.Path
	switch {
	case route == "GET /api/files/list":
		json.NewEncoder(w).Encode([]agentrest.FileEntry{
			{Name: "nginx", Path: "/etc/nginx", Type: "directory", Permissions: "drwxr-xr-x"},
			{Name: "hosts", Path: "/etc/hosts", Type: "file", Size: 220, Permissions: "-rw-r--r--"},
		})
	case route == "GET /api/files":
		json.NewEncoder(w).Encode(agentrest.FileContent{
			Path:    r.URL.Query().Get("path"),
			Content: "server {}\n",
			Size:    10,
		})
	case route == "PUT /api/files":
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	case route == "GET /api/docker/containers":
		json.NewEncoder(w).Encode([]agentrest.ContainerInfo{
			{ID: "abc123", Name: "web", Image: "nginx:1.27", State: "running", Status: "Up 2 hours"},
		})
	case route == "GET /api/docker/containers/abc123":
		json.NewEncoder(w).Encode(agentrest.ContainerDetail{
			ID: "abc123", Name: "web", Image: "nginx:1.27", State: "running",
			RestartPolicy: "unless-stopped",
			Ports:         []agentrest.PortBinding{{ContainerPort: "80", Protocol: "tcp", HostPort: "8080"}},
			Mounts:        []string{"/var/www -> /usr/share/nginx/html"},
		})
	case route == "GET /api/docker/images":
		json.NewEncoder(w).Encode([]agentrest.ImageInfo{
			{ID: "sha256:f00", Tags: []string{"nginx:1.27"}, Size: 187654321},
		})
	case route == "GET /api/certificates":
		json.NewEncoder(w).Encode([]agentrest.CertificateInfo{
			{Domain: "example.com", Issuer: "R3", NotBefore: time.Now().Add(-24 * time.Hour), NotAfter: time.Now().Add(60 * 24 * time.Hour)},
		})
	case route == "GET /api/websites":
		json.NewEncoder(w).Encode([]agentrest.WebsiteInfo{
			{Domain: "example.com", Root: "/var/www/example", SSL: true},
		})
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/docker/containers/"):
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// restPaths returns "METHOD /path" for each recorded REST call.
func (a *fakeAgent) restPaths() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, c := range a.restCalls {
		out = append(out, c.method+" "+c.path)
	}
	return out
}

func (a *fakeAgent) lastRESTCall() (restCall, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.restCalls) == 0 {
		return restCall{}, false
	}
	return a.restCalls[len(a.restCalls)-1], true
}

func (a *fakeAgent) hostPort() (string, int) {
	u, err := url.Parse(a.srv.URL)
	if err != nil {
		a.t.Fatalf("Failed to parse fake agent URL: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		a.t.Fatalf("Failed to split fake agent host: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// send pushes a frame to the console over the most recent connection.
func (a *fakeAgent) send(f protocol.Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.conns) == 0 {
		a.t.Fatal("fake agent has no connection to send on")
	}
	data, err := f.Encode()
	if err != nil {
		a.t.Fatalf("Failed to encode frame: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.conns[len(a.conns)-1].Write(ctx, websocket.MessageText, data); err != nil {
		a.t.Logf("fake agent write failed: %v", err)
	}
}

// framesOfType returns recorded console frames of one type, oldest first.
func (a *fakeAgent) framesOfType(ft protocol.FrameType) []protocol.Frame {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []protocol.Frame
	for _, f := range a.frames {
		if f.Type == ft {
			out = append(out, f)
		}
	}
	return out
}

// handlerEnv wires the handler package the way main does, against an
// in-memory database and a fake agent.
type handlerEnv struct {
	agent *fakeAgent
	mgr   *agentconn.Manager
}

func setupHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	setupTestDB(t)
	resetHandlerDeps(t)

	agent := startFakeAgent(t)
	resolver := DBResolver{}

	mgr := agentconn.NewManager(agentconn.Config{
		ConnectTimeout:        2 * time.Second,
		HeartbeatInterval:     50 * time.Millisecond,
		HeartbeatFailureLimit: 3,
		ReconnectBaseDelay:    10 * time.Millisecond,
		ReconnectMaxDelay:     50 * time.Millisecond,
		ReconnectMaxAttempts:  2,
		PendingQueueLimit:     10,
	}, resolver)
	t.Cleanup(func() { _ = mgr.CloseAll() })

	term := agentterm.NewRegistry(mgr)
	logs := agentlogs.NewRegistry(mgr, agentlogs.Config{
		MaxLines:      100,
		FlushInterval: 20 * time.Millisecond,
		StartTimeout:  2 * time.Second,
	})
	mgr.Router().SetShellSink(term)
	mgr.Router().SetStreamSink(logs)

	files := agentfiles.NewService(resolver)
	mgr.SetSaveGuard(files)

	ConnMgr = mgr
	TermRegistry = term
	LogRegistry = logs
	FileSvc = files
	Resolver = resolver

	return &handlerEnv{agent: agent, mgr: mgr}
}

// createAgentServer inserts a server row pointing at the fake agent.
func (e *handlerEnv) createAgentServer(t *testing.T, name string) database.Server {
	t.Helper()
	host, port := e.agent.hostPort()
	return insertServer(t, name, host, port)
}

// insertServer stores a server row with an encrypted token.
func insertServer(t *testing.T, name, host string, port int) database.Server {
	t.Helper()
	enc, err := crypto.Encrypt("agent-token-1234")
	if err != nil {
		t.Fatalf("Failed to encrypt token: %v", err)
	}
	s := database.Server{Name: name, Host: host, Port: port, TokenEncrypted: enc}
	if err := database.CreateServer(&s); err != nil {
		t.Fatalf("Failed to create server row: %v", err)
	}
	return s
}
