// consoled is the operator console daemon. It owns one agent WebSocket
// per managed server, multiplexes terminal sessions and container log
// streams over those links, and serves the operator HTTP API and web UI.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/EnderKC/BetterMonitor-sub000/internal/agentconn"
	"github.com/EnderKC/BetterMonitor-sub000/internal/agentfiles"
	"github.com/EnderKC/BetterMonitor-sub000/internal/agentlogs"
	"github.com/EnderKC/BetterMonitor-sub000/internal/agentterm"
	"github.com/EnderKC/BetterMonitor-sub000/internal/config"
	"github.com/EnderKC/BetterMonitor-sub000/internal/database"
	"github.com/EnderKC/BetterMonitor-sub000/internal/handlers"
	"github.com/EnderKC/BetterMonitor-sub000/internal/jobs"
	"github.com/EnderKC/BetterMonitor-sub000/internal/logging"
	"github.com/EnderKC/BetterMonitor-sub000/internal/middleware"
)

func main() {
	config.Load()
	logging.Init()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	resolver := handlers.DBResolver{}

	mgr := agentconn.NewManager(agentconn.Config{
		ConnectTimeout:        config.Cfg.ConnectTimeout,
		HeartbeatInterval:     config.Cfg.HeartbeatInterval,
		HeartbeatFailureLimit: config.Cfg.HeartbeatFailureLimit,
		ReconnectBaseDelay:    config.Cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:     config.Cfg.ReconnectMaxDelay,
		ReconnectMaxAttempts:  config.Cfg.ReconnectMaxAttempts,
		PendingQueueLimit:     config.Cfg.PendingQueueLimit,
		SaveGuardPollInterval: config.Cfg.SaveGuardPollInterval,
	}, resolver)

	term := agentterm.NewRegistry(mgr)
	logStreams := agentlogs.NewRegistry(mgr, agentlogs.Config{
		MaxLines:      config.Cfg.LogMaxLines,
		FlushInterval: config.Cfg.LogFlushInterval,
		StartTimeout:  config.Cfg.LogStreamStartWait,
	})
	mgr.Router().SetShellSink(term)
	mgr.Router().SetStreamSink(logStreams)

	files := agentfiles.NewService(resolver)
	mgr.SetSaveGuard(files)

	// Persist the audit-worthy connection events.
	mgr.OnEvent(func(ev agentconn.ConnectionEvent) {
		switch ev.Type {
		case agentconn.EventConnected, agentconn.EventDisconnected, agentconn.EventGaveUp:
			if err := database.AppendConnectionLog(ev.ServerID, string(ev.Type), ev.Details); err != nil {
				log.Printf("Connection log append: %v", err)
			}
		}
	})

	handlers.ConnMgr = mgr
	handlers.TermRegistry = term
	handlers.LogRegistry = logStreams
	handlers.FileSvc = files
	handlers.Resolver = resolver

	logMaxAge, err := time.ParseDuration(config.Cfg.ConnectionLogMaxAge)
	if err != nil {
		log.Printf("WARNING: bad CONNECTION_LOG_MAX_AGE %q, using 720h", config.Cfg.ConnectionLogMaxAge)
		logMaxAge = 720 * time.Hour
	}
	runner := jobs.New(resolver, config.Cfg.CertExpiryWarningDays, logMaxAge)
	if err := runner.Start(config.Cfg.CertSweepSchedule); err != nil {
		log.Printf("WARNING: background jobs not started: %v", err)
	}

	if servers, err := database.ListServers(); err == nil {
		log.Printf("Managing %d server(s); connections open on demand", len(servers))
	}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/healthz", handlers.HealthCheck)
	r.Method("GET", "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Console diagnostics
		r.Get("/logs", handlers.SystemLogTail)
		r.Delete("/logs", handlers.ClearSystemLog)

		// Server inventory
		r.Get("/servers", handlers.ListServers)
		r.Post("/servers", handlers.CreateServer)
		r.Put("/servers/reorder", handlers.ReorderServers)

		r.Route("/servers/{id}", func(r chi.Router) {
			r.Get("/", handlers.GetServer)
			r.Put("/", handlers.UpdateServer)
			r.Delete("/", handlers.DeleteServer)

			// Connection control and status
			r.Post("/connect", handlers.ConnectServer)
			r.Post("/disconnect", handlers.DisconnectServer)
			r.Get("/status", handlers.ServerStatus)
			r.Get("/events", handlers.ServerEvents)

			// Terminals
			r.Get("/terminal/ws", handlers.TerminalWS)
			r.Get("/terminal/sessions", handlers.ListTerminalSessions)
			r.Post("/terminal/sessions", handlers.CreateTerminalSession)
			r.Delete("/terminal/sessions/{sid}", handlers.CloseTerminalSession)

			// Files
			r.Get("/files/list", handlers.BrowseFiles)
			r.Get("/files", handlers.ReadFileContent)
			r.Put("/files", handlers.SaveFileContent)

			// Docker
			r.Get("/docker/containers", handlers.ListContainers)
			r.Get("/docker/containers/{cid}", handlers.InspectContainer)
			r.Post("/docker/containers/{cid}/{action}", handlers.ContainerAction)
			r.Get("/docker/containers/{cid}/logs/ws", handlers.ContainerLogsWS)
			r.Get("/docker/images", handlers.ListImages)

			// Certificates and websites
			r.Get("/certificates", handlers.ListServerCertificates)
			r.Post("/certificates/refresh", handlers.RefreshServerCertificates)
			r.Get("/websites", handlers.ListServerWebsites)
		})
	})

	// SPA static files, when a built UI is present.
	if info, err := os.Stat(config.Cfg.WebDir); err == nil && info.IsDir() {
		spa := middleware.SPA(os.DirFS(config.Cfg.WebDir))
		r.NotFound(spa.ServeHTTP)
	} else {
		log.Printf("No web UI at %s; serving API only", config.Cfg.WebDir)
	}

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Console listening on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	runner.Stop()

	if err := mgr.CloseAll(); err != nil {
		log.Printf("Agent connections shutdown: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Console stopped")
}
