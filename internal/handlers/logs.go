package handlers

import (
	"net/http"
	"strconv"

	"github.com/EnderKC/BetterMonitor-sub000/internal/logging"
)

const defaultLogLines = 500

// SystemLogTail returns the tail of the console's own log file, for the
// settings page's diagnostics view.
// GET /api/logs?lines=N
func SystemLogTail(w http.ResponseWriter, r *http.Request) {
	lines := defaultLogLines
	if v := r.URL.Query().Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid lines parameter")
			return
		}
		lines = n
	}

	content, err := logging.ReadTail(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read log file")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"logs": content})
}

// ClearSystemLog truncates the console's log file.
// DELETE /api/logs
func ClearSystemLog(w http.ResponseWriter, r *http.Request) {
	if err := logging.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear log file")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
