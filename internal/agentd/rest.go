package agentd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"

	dockerclient "github.com/docker/docker/client"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/EnderKC/BetterMonitor-sub000/internal/agentrest"
	"github.com/EnderKC/BetterMonitor-sub000/internal/protocol"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeJSON(w, status, map[string]string{"detail": fmt.Sprintf(format, args...)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, agentrest.AgentHealth{
		Status:          "ok",
		Version:         Version,
		UptimeSeconds:   int64(s.uptime().Seconds()),
		DockerAvailable: s.engine.Available(),
	})
}

// validatePath accepts only absolute, already-canonical paths. Cleaning
// here would silently operate on a different path than the caller named,
// so non-canonical input is rejected instead.
func validatePath(p string) error {
	if p == "" {
		return errors.New("path is required")
	}
	if strings.ContainsRune(p, 0) {
		return errors.New("path contains a NUL byte")
	}
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("%s is not absolute", p)
	}
	if p != path.Clean(p) {
		return fmt.Errorf("%s is not canonical", p)
	}
	return nil
}

func fileStatus(err error) int {
	if errors.Is(err, fs.ErrNotExist) {
		return http.StatusNotFound
	}
	if errors.Is(err, fs.ErrPermission) {
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("path")
	if err := validatePath(dir); err != nil {
		writeError(w, http.StatusBadRequest, "invalid path: %v", err)
		return
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		writeError(w, fileStatus(err), "failed to read directory: %v", err)
		return
	}

	entries := make([]agentrest.FileEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		entry := agentrest.FileEntry{
			Name: de.Name(),
			Path: path.Join(dir, de.Name()),
			Type: "file",
		}
		if de.IsDir() {
			entry.Type = "directory"
		} else if de.Type()&fs.ModeSymlink != 0 {
			entry.Type = "symlink"
		}
		if info, err := de.Info(); err == nil {
			entry.Size = info.Size()
			entry.Permissions = info.Mode().String()
			entry.ModifiedAt = info.ModTime()
		}
		entries = append(entries, entry)
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if err := validatePath(p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid path: %v", err)
		return
	}

	info, err := os.Stat(p)
	if err != nil {
		writeError(w, fileStatus(err), "failed to stat file: %v", err)
		return
	}
	if info.IsDir() {
		writeError(w, http.StatusBadRequest, "%s is a directory", p)
		return
	}
	if info.Size() > s.cfg.MaxFileBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			"file is %d bytes, limit is %d", info.Size(), s.cfg.MaxFileBytes)
		return
	}

	data, err := os.ReadFile(p)
	if err != nil {
		writeError(w, fileStatus(err), "failed to read file: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, agentrest.FileContent{
		Path:       p,
		Content:    string(data),
		Size:       int64(len(data)),
		ModifiedAt: info.ModTime(),
	})
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, s.cfg.MaxFileBytes*2)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if err := validatePath(req.Path); err != nil {
		writeError(w, http.StatusBadRequest, "invalid path: %v", err)
		return
	}
	if int64(len(req.Content)) > s.cfg.MaxFileBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			"content is %d bytes, limit is %d", len(req.Content), s.cfg.MaxFileBytes)
		return
	}

	if err := os.WriteFile(req.Path, []byte(req.Content), 0644); err != nil {
		writeError(w, fileStatus(err), "failed to write file: %v", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func dockerStatus(err error) int {
	if errors.Is(err, ErrDockerUnavailable) {
		return http.StatusServiceUnavailable
	}
	if dockerclient.IsErrNotFound(err) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	containers, err := s.engine.Containers(r.Context())
	if err != nil {
		writeError(w, dockerStatus(err), "failed to list containers: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, containers)
}

func (s *Server) handleInspectContainer(w http.ResponseWriter, r *http.Request) {
	detail, err := s.engine.Inspect(r.Context(), chi.URLParam(r, "cid"))
	if err != nil {
		writeError(w, dockerStatus(err), "failed to inspect container: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleContainerAction(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")
	action := chi.URLParam(r, "action")
	switch action {
	case agentrest.ActionStart, agentrest.ActionStop, agentrest.ActionRestart, agentrest.ActionRemove:
	default:
		writeError(w, http.StatusBadRequest, "unsupported container action %q", action)
		return
	}

	if err := s.engine.Action(r.Context(), cid, action); err != nil {
		writeError(w, dockerStatus(err), "failed to %s container: %v", action, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	images, err := s.engine.Images(r.Context())
	if err != nil {
		writeError(w, dockerStatus(err), "failed to list images: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, images)
}

func (s *Server) handleListCertificates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.certs.List())
}

func (s *Server) handleListWebsites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sites.List())
}

func (s *Server) handleListShells(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.shells.List())
}

// handleCreateShell starts a headless shell session over REST. The console
// normally creates sessions through the WebSocket with its own ids; sessions
// created here get a fresh id and buffer scrollback until a console attaches.
func (s *Server) handleCreateShell(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Cwd  string `json:"cwd"`
		Cols uint16 `json:"cols"`
		Rows uint16 `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	id := uuid.NewString()
	spec := protocol.CreateSpec{Cols: req.Cols, Rows: req.Rows, Cwd: req.Cwd, Name: req.Name}
	if err := s.shells.Create(id, spec); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start shell: %v", err)
		return
	}
	info, _ := s.shells.Get(id)
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleCloseShell(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	if _, ok := s.shells.Get(sid); !ok {
		writeError(w, http.StatusNotFound, "no such session: %s", sid)
		return
	}
	s.shells.Close(sid)
	w.WriteHeader(http.StatusNoContent)
}
