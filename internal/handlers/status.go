package handlers

import (
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/EnderKC/BetterMonitor-sub000/internal/agentconn"
	"github.com/EnderKC/BetterMonitor-sub000/internal/database"
)

// ConnectServer opens the agent connection for a server. Explicit user
// connects always get a full round of reconnect attempts, even after the
// manager previously gave up on the server.
// POST /api/servers/{id}/connect
func ConnectServer(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	if _, err := database.GetServer(id); err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	if ConnMgr == nil {
		writeError(w, http.StatusServiceUnavailable, "Connection manager not initialized")
		return
	}

	if err := ConnMgr.Connect(r.Context(), id); err != nil {
		log.Printf("Connect failed for server %d: %v", id, err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("Failed to connect: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "connected",
		"state":  ConnMgr.State(id).String(),
	})
}

// DisconnectServer closes the agent connection for a server.
// POST /api/servers/{id}/disconnect
func DisconnectServer(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	if _, err := database.GetServer(id); err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	if ConnMgr == nil {
		writeError(w, http.StatusServiceUnavailable, "Connection manager not initialized")
		return
	}

	if err := ConnMgr.Disconnect(id); err != nil {
		log.Printf("Disconnect failed for server %d: %v", id, err)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "disconnected",
		"state":  ConnMgr.State(id).String(),
	})
}

type transitionView struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
}

type serverStatusResponse struct {
	ServerID      uint                        `json:"server_id"`
	State         string                      `json:"state"`
	PendingFrames int                         `json:"pending_frames"`
	UptimeSeconds int64                       `json:"uptime_seconds"`
	Metrics       *agentconn.ConnectionMetrics `json:"metrics,omitempty"`
	Agent         *agentconn.ServerInfo       `json:"agent,omitempty"`
	Transitions   []transitionView            `json:"transitions"`
}

// ServerStatus reports the connection state, traffic metrics, the latest
// agent identity and monitoring sample, and the transition history.
// GET /api/servers/{id}/status
func ServerStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	if _, err := database.GetServer(id); err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	if ConnMgr == nil {
		writeError(w, http.StatusServiceUnavailable, "Connection manager not initialized")
		return
	}

	resp := serverStatusResponse{
		ServerID:      id,
		State:         ConnMgr.State(id).String(),
		PendingFrames: ConnMgr.PendingCount(id),
		Transitions:   make([]transitionView, 0),
	}

	if metrics := ConnMgr.Metrics(id); metrics != nil {
		resp.UptimeSeconds = int64(metrics.Uptime().Seconds())
		resp.Metrics = metrics
	}
	if info, ok := ConnMgr.Info(id); ok {
		resp.Agent = &info
	}
	for _, tr := range ConnMgr.Transitions(id) {
		resp.Transitions = append(resp.Transitions, transitionView{
			From:      tr.From.String(),
			To:        tr.To.String(),
			Timestamp: formatTimestamp(tr.Timestamp),
			Reason:    tr.Reason,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// ServerEvents returns the recent connection events for a server,
// oldest first.
// GET /api/servers/{id}/events?limit=N
func ServerEvents(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	if _, err := database.GetServer(id); err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	if ConnMgr == nil {
		writeError(w, http.StatusServiceUnavailable, "Connection manager not initialized")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	events := ConnMgr.Events(id, limit)
	if events == nil {
		events = []agentconn.ConnectionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
