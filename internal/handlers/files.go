package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/EnderKC/BetterMonitor-sub000/internal/agentconn"
	"github.com/EnderKC/BetterMonitor-sub000/internal/agentfiles"
	"github.com/EnderKC/BetterMonitor-sub000/internal/agentrest"
	"github.com/EnderKC/BetterMonitor-sub000/internal/database"
	"github.com/EnderKC/BetterMonitor-sub000/internal/logutil"
)

type saveFileRequest struct {
	Content string `json:"content"`
}

// fileError maps file service failures onto HTTP responses.
func fileError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agentfiles.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, "Invalid file path")
	case errors.Is(err, agentfiles.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "File exceeds the editable size limit")
	case errors.Is(err, agentconn.ErrServerNotFound):
		writeError(w, http.StatusNotFound, "Server not found")
	default:
		writeError(w, http.StatusBadGateway, "File operation failed")
	}
}

// BrowseFiles lists a directory on the remote server.
// GET /api/servers/{id}/files/list?path=/some/dir
func BrowseFiles(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	if _, err := database.GetServer(id); err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	if FileSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "File service not initialized")
		return
	}

	dirPath := r.URL.Query().Get("path")
	if dirPath == "" {
		dirPath = "/"
	}

	entries, err := FileSvc.List(r.Context(), id, dirPath)
	if err != nil {
		log.Printf("File browse failed for %s on server %d: %v", logutil.SanitizeForLog(dirPath), id, err)
		fileError(w, err)
		return
	}
	if entries == nil {
		entries = []agentrest.FileEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":    dirPath,
		"entries": entries,
	})
}

// ReadFileContent returns a remote file's content for the editor.
// GET /api/servers/{id}/files?path=/some/file
func ReadFileContent(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	if _, err := database.GetServer(id); err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	if FileSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "File service not initialized")
		return
	}

	filePath := r.URL.Query().Get("path")
	if filePath == "" {
		writeError(w, http.StatusBadRequest, "path parameter required")
		return
	}

	content, err := FileSvc.Read(r.Context(), id, filePath)
	if err != nil {
		log.Printf("File read failed for %s on server %d: %v", logutil.SanitizeForLog(filePath), id, err)
		fileError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, content)
}

// SaveFileContent writes a remote file. The save is tracked so the
// connection layer will not tear the link down mid-write.
// PUT /api/servers/{id}/files?path=/some/file
func SaveFileContent(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	if _, err := database.GetServer(id); err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	if FileSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "File service not initialized")
		return
	}

	filePath := r.URL.Query().Get("path")
	if filePath == "" {
		writeError(w, http.StatusBadRequest, "path parameter required")
		return
	}

	var req saveFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := FileSvc.Save(r.Context(), id, filePath, req.Content); err != nil {
		log.Printf("File save failed for %s on server %d: %v", logutil.SanitizeForLog(filePath), id, err)
		fileError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "path": filePath})
}
