// Package agentd is the per-server agent daemon. It serves the multiplexed
// WebSocket protocol the console connects to (shell sessions, container log
// streams, heartbeat echoes with monitoring samples) plus the REST surface
// the console proxies (files, containers, certificates, websites).
package agentd

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Version is reported in the welcome frame and the health endpoint.
const Version = "1.3.0"

// Server owns the agent's runtime state. One instance per process.
type Server struct {
	cfg     Config
	shells  *ShellManager
	engine  Engine
	streams *LogStreamer
	monitor *Monitor
	certs   *CertStore
	sites   *Sites
	started time.Time
}

// New wires the agent components. Docker being unreachable is not an error;
// the daemon runs with container features reporting unavailable.
func New(ctx context.Context, cfg Config) *Server {
	engine := OpenEngine(ctx, cfg.DockerHost)
	return &Server{
		cfg:     cfg,
		shells:  NewShellManager(cfg.Shell, cfg.DefaultCwd, cfg.ScrollbackBytes),
		engine:  engine,
		streams: NewLogStreamer(engine),
		monitor: NewMonitor(engine),
		certs:   NewCertStore(cfg.CertsDir),
		sites:   NewSites(cfg.SitesDir),
		started: time.Now(),
	}
}

// Close releases background resources. Shell sessions are killed so their
// pty children do not outlive the daemon.
func (s *Server) Close() {
	s.certs.Close()
	s.shells.CloseAll()
}

func (s *Server) uptime() time.Duration {
	return time.Since(s.started)
}

// Handler builds the agent's HTTP routes. Every route, the WebSocket
// endpoint included, sits behind the token check.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requireToken(s.cfg.Token))

	r.Get("/api/servers/{id}/ws", s.handleWS)
	r.Get("/api/health", s.handleHealth)

	r.Get("/api/files/list", s.handleListFiles)
	r.Get("/api/files", s.handleReadFile)
	r.Put("/api/files", s.handleWriteFile)

	r.Get("/api/docker/containers", s.handleListContainers)
	r.Get("/api/docker/containers/{cid}", s.handleInspectContainer)
	r.Post("/api/docker/containers/{cid}/{action}", s.handleContainerAction)
	r.Get("/api/docker/images", s.handleListImages)

	r.Get("/api/certificates", s.handleListCertificates)
	r.Get("/api/websites", s.handleListWebsites)

	r.Get("/api/terminal/sessions", s.handleListShells)
	r.Post("/api/terminal/sessions", s.handleCreateShell)
	r.Delete("/api/terminal/sessions/{sid}", s.handleCloseShell)

	return r
}

// HTTPServer returns the configured *http.Server. No write timeout: the
// WebSocket route holds its connection open for the life of the console
// session.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// requireToken authenticates every request with the shared per-server token,
// from the Authorization header or, for WebSocket dials where headers are
// awkward, the token query parameter.
func requireToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.URL.Query().Get("token")
			if presented == "" {
				header := r.Header.Get("Authorization")
				if strings.HasPrefix(header, "Bearer ") {
					presented = strings.TrimPrefix(header, "Bearer ")
				}
			}
			if subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
