package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/EnderKC/BetterMonitor-sub000/internal/agentrest"
	"github.com/go-chi/chi/v5"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// parseID extracts a positive numeric URL parameter.
func parseID(r *http.Request, name string) (uint, error) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return uint(id), nil
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// agentClient builds a REST client for the server's agent.
func agentClient(ctx context.Context, serverID uint) (*agentrest.Client, error) {
	if Resolver == nil {
		return nil, fmt.Errorf("server resolver not initialized")
	}
	ep, err := Resolver.ResolveServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return agentrest.NewClient(ep), nil
}
