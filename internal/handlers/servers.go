package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/EnderKC/BetterMonitor-sub000/internal/crypto"
	"github.com/EnderKC/BetterMonitor-sub000/internal/database"
	"github.com/EnderKC/BetterMonitor-sub000/internal/logutil"
	"gorm.io/gorm"
)

type createServerRequest struct {
	Name   string `json:"name"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	UseTLS bool   `json:"use_tls"`
	Token  string `json:"token"`
}

type updateServerRequest struct {
	Name   *string `json:"name"`
	Host   *string `json:"host"`
	Port   *int    `json:"port"`
	UseTLS *bool   `json:"use_tls"`
	Token  *string `json:"token"`
}

type serverResponse struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	TokenMasked string `json:"token_masked"`
	State       string `json:"state"`
	SortOrder   int    `json:"sort_order"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func serverToResponse(s database.Server) serverResponse {
	masked := ""
	if token, err := crypto.Decrypt(s.TokenEncrypted); err == nil {
		masked = crypto.Mask(token)
	}
	state := ""
	if ConnMgr != nil {
		state = ConnMgr.State(s.ID).String()
	}
	return serverResponse{
		ID:          s.ID,
		Name:        s.Name,
		Host:        s.Host,
		Port:        s.Port,
		UseTLS:      s.UseTLS,
		TokenMasked: masked,
		State:       state,
		SortOrder:   s.SortOrder,
		CreatedAt:   formatTimestamp(s.CreatedAt),
		UpdatedAt:   formatTimestamp(s.UpdatedAt),
	}
}

// ListServers returns the server inventory in sort order.
// GET /api/servers
func ListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := database.ListServers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list servers")
		return
	}

	resp := make([]serverResponse, 0, len(servers))
	for _, s := range servers {
		resp = append(resp, serverToResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"servers": resp})
}

// CreateServer registers a new managed server. The agent token is stored
// fernet-encrypted and never returned in responses.
// POST /api/servers
func CreateServer(w http.ResponseWriter, r *http.Request) {
	var req createServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.Host == "" || req.Token == "" {
		writeError(w, http.StatusBadRequest, "name, host and token are required")
		return
	}
	if req.Port == 0 {
		req.Port = 8211
	}

	if _, err := database.GetServerByName(req.Name); err == nil {
		writeError(w, http.StatusConflict, "A server with this name already exists")
		return
	}

	encrypted, err := crypto.Encrypt(req.Token)
	if err != nil {
		log.Printf("Failed to encrypt token for new server %s: %v", logutil.SanitizeForLog(req.Name), err)
		writeError(w, http.StatusInternalServerError, "Failed to store token")
		return
	}

	srv := database.Server{
		Name:           req.Name,
		Host:           req.Host,
		Port:           req.Port,
		UseTLS:         req.UseTLS,
		TokenEncrypted: encrypted,
	}
	if err := database.CreateServer(&srv); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create server")
		return
	}

	// New rows keep list order stable by defaulting to their own id.
	srv.SortOrder = int(srv.ID)
	if err := database.UpdateServer(&srv); err != nil {
		log.Printf("Failed to set sort order for server %d: %v", srv.ID, err)
	}

	log.Printf("Server created: id=%d name=%s host=%s:%d", srv.ID, logutil.SanitizeForLog(srv.Name), logutil.SanitizeForLog(srv.Host), srv.Port)
	writeJSON(w, http.StatusCreated, serverToResponse(srv))
}

// GetServer returns one server.
// GET /api/servers/{id}
func GetServer(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}

	srv, err := database.GetServer(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	writeJSON(w, http.StatusOK, serverToResponse(*srv))
}

// UpdateServer applies a partial update. When the endpoint or token
// changes, any open connection is dropped so the next connect dials with
// the fresh settings.
// PUT /api/servers/{id}
func UpdateServer(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}

	srv, err := database.GetServer(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}

	var req updateServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	endpointChanged := false
	if req.Name != nil && *req.Name != srv.Name {
		if *req.Name == "" {
			writeError(w, http.StatusBadRequest, "name cannot be empty")
			return
		}
		if existing, err := database.GetServerByName(*req.Name); err == nil && existing.ID != srv.ID {
			writeError(w, http.StatusConflict, "A server with this name already exists")
			return
		}
		srv.Name = *req.Name
	}
	if req.Host != nil && *req.Host != srv.Host {
		if *req.Host == "" {
			writeError(w, http.StatusBadRequest, "host cannot be empty")
			return
		}
		srv.Host = *req.Host
		endpointChanged = true
	}
	if req.Port != nil && *req.Port != srv.Port {
		if *req.Port <= 0 || *req.Port > 65535 {
			writeError(w, http.StatusBadRequest, "port out of range")
			return
		}
		srv.Port = *req.Port
		endpointChanged = true
	}
	if req.UseTLS != nil && *req.UseTLS != srv.UseTLS {
		srv.UseTLS = *req.UseTLS
		endpointChanged = true
	}
	if req.Token != nil {
		if *req.Token == "" {
			writeError(w, http.StatusBadRequest, "token cannot be empty")
			return
		}
		encrypted, err := crypto.Encrypt(*req.Token)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to store token")
			return
		}
		srv.TokenEncrypted = encrypted
		endpointChanged = true
	}

	if err := database.UpdateServer(srv); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update server")
		return
	}

	if endpointChanged && ConnMgr != nil {
		if err := ConnMgr.Disconnect(id); err == nil {
			log.Printf("Server %d endpoint changed, connection dropped", id)
		}
	}

	writeJSON(w, http.StatusOK, serverToResponse(*srv))
}

// DeleteServer removes a server and everything tracked for it: open
// sessions, log streams, the connection, cached certificates and logs.
// DELETE /api/servers/{id}
func DeleteServer(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}

	srv, err := database.GetServer(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}

	if TermRegistry != nil {
		TermRegistry.DropServer(id)
	}
	if LogRegistry != nil {
		LogRegistry.DropServer(id)
	}
	if ConnMgr != nil {
		ConnMgr.Forget(id)
	}

	if err := database.DeleteServer(id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete server")
		return
	}

	log.Printf("Server deleted: id=%d name=%s", id, logutil.SanitizeForLog(srv.Name))
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ReorderServers persists a new display order.
// PUT /api/servers/reorder
func ReorderServers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Order []uint `json:"order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Order) == 0 {
		writeError(w, http.StatusBadRequest, "order is required")
		return
	}

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		for i, serverID := range req.Order {
			res := tx.Model(&database.Server{}).Where("id = ?", serverID).Update("sort_order", i+1)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusBadRequest, "Unknown server in order list")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to reorder servers")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "reordered"})
}
