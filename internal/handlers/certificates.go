package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/EnderKC/BetterMonitor-sub000/internal/agentrest"
	"github.com/EnderKC/BetterMonitor-sub000/internal/database"
)

// ListServerCertificates returns the cached certificate inventory for a
// server. The cache is filled by refreshes and the daily sweep, so this
// endpoint never needs the agent to be reachable.
// GET /api/servers/{id}/certificates
func ListServerCertificates(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	if _, err := database.GetServer(id); err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}

	certs, err := database.ListCertificates(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load certificates")
		return
	}
	if certs == nil {
		certs = []database.Certificate{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"certificates": certs})
}

// RefreshServerCertificates asks the agent for its current certificate
// inventory and replaces the cached rows with it.
// POST /api/servers/{id}/certificates/refresh
func RefreshServerCertificates(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	if _, err := database.GetServer(id); err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}

	client, err := agentClient(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve server")
		return
	}
	inventory, err := client.ListCertificates(r.Context())
	if err != nil {
		log.Printf("Certificate refresh failed for server %d: %v", id, err)
		writeError(w, http.StatusBadGateway, "Failed to fetch certificates from agent")
		return
	}

	now := time.Now()
	rows := make([]database.Certificate, 0, len(inventory))
	for _, c := range inventory {
		rows = append(rows, database.Certificate{
			ServerID:      id,
			Domain:        c.Domain,
			Issuer:        c.Issuer,
			NotBefore:     c.NotBefore,
			NotAfter:      c.NotAfter,
			LastCheckedAt: now,
		})
	}
	if err := database.ReplaceCertificates(id, rows); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store certificates")
		return
	}

	log.Printf("Certificate inventory refreshed for server %d: %d certificate(s)", id, len(rows))
	writeJSON(w, http.StatusOK, map[string]interface{}{"certificates": rows})
}

// ListServerWebsites proxies the agent's configured website list.
// GET /api/servers/{id}/websites
func ListServerWebsites(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	if _, err := database.GetServer(id); err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}

	client, err := agentClient(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve server")
		return
	}
	sites, err := client.ListWebsites(r.Context())
	if err != nil {
		log.Printf("Website list failed for server %d: %v", id, err)
		writeError(w, http.StatusBadGateway, "Failed to list websites")
		return
	}
	if sites == nil {
		sites = []agentrest.WebsiteInfo{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"websites": sites})
}
