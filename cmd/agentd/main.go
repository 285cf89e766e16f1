// agentd runs on each managed server. It serves the console's WebSocket
// at /api/servers/{id}/ws plus the REST collaborators (files, docker,
// certificates, websites, headless terminal sessions).
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EnderKC/BetterMonitor-sub000/internal/agentd"
	"github.com/EnderKC/BetterMonitor-sub000/internal/crypto"
)

func main() {
	configPath := flag.String("config", "/etc/agentd/config.yaml", "path to the agent config file")
	flag.Parse()

	cfg, err := agentd.Load(*configPath)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}

	if cfg.TLSEnabled() && cfg.TLSSelfSigned {
		hostname, _ := os.Hostname()
		created, err := crypto.EnsureServerCert(cfg.TLSCert, cfg.TLSKey, hostname)
		if err != nil {
			log.Fatalf("TLS cert: %v", err)
		}
		if created {
			log.Printf("Generated self-signed TLS pair at %s", cfg.TLSCert)
		}
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agent := agentd.New(sigCtx, cfg)
	srv := agent.HTTPServer()

	go func() {
		log.Printf("agentd %s listening on %s (tls=%v)", agentd.Version, cfg.Listen, cfg.TLSEnabled())
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown: %v", err)
	}

	agent.Close()
	log.Println("agentd stopped")
}
