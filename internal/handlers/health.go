package handlers

import (
	"net/http"

	"github.com/EnderKC/BetterMonitor-sub000/internal/database"
)

// HealthCheck reports liveness of the console and its database.
// GET /healthz
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	sqlDB, err := database.DB.DB()
	if err != nil || sqlDB.Ping() != nil {
		dbStatus = "disconnected"
	}

	status := "healthy"
	code := http.StatusOK
	if dbStatus != "connected" {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	sessions := 0
	if TermRegistry != nil {
		sessions = TermRegistry.Count()
	}
	streams := 0
	if LogRegistry != nil {
		streams = LogRegistry.Count()
	}

	writeJSON(w, code, map[string]interface{}{
		"status":            status,
		"database":          dbStatus,
		"terminal_sessions": sessions,
		"log_streams":       streams,
	})
}
