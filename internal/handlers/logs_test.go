package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/EnderKC/BetterMonitor-sub000/internal/config"
)

// pointLogAt swaps the configured log path to a temp file for the test.
func pointLogAt(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "console.log")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write log file: %v", err)
	}
	saved := config.Cfg.LogPath
	config.Cfg.LogPath = path
	t.Cleanup(func() { config.Cfg.LogPath = saved })
	return path
}

func TestSystemLogTail_ReturnsLastLines(t *testing.T) {
	pointLogAt(t, "one\ntwo\nthree\nfour\n")

	w := httptest.NewRecorder()
	SystemLogTail(w, httptest.NewRequest("GET", "/api/logs?lines=2", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	decodeBody(t, w, &resp)
	if resp["logs"] != "three\nfour" {
		t.Errorf("logs = %q, want the last two lines", resp["logs"])
	}
}

func TestSystemLogTail_MissingFileIsEmpty(t *testing.T) {
	path := pointLogAt(t, "")
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	SystemLogTail(w, httptest.NewRequest("GET", "/api/logs", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]string
	decodeBody(t, w, &resp)
	if resp["logs"] != "" {
		t.Errorf("logs = %q, want empty", resp["logs"])
	}
}

func TestSystemLogTail_RejectsBadLines(t *testing.T) {
	pointLogAt(t, "one\n")

	for _, q := range []string{"lines=0", "lines=-3", "lines=ten"} {
		w := httptest.NewRecorder()
		SystemLogTail(w, httptest.NewRequest("GET", "/api/logs?"+q, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}

func TestClearSystemLog_Truncates(t *testing.T) {
	path := pointLogAt(t, strings.Repeat("noise\n", 100))

	w := httptest.NewRecorder()
	ClearSystemLog(w, httptest.NewRequest("DELETE", "/api/logs", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("log file size = %d after clear, want 0", info.Size())
	}
}
