// Package logging mirrors the console's log output to a file so the
// settings page can show recent entries without shell access to the host.
package logging

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/EnderKC/BetterMonitor-sub000/internal/config"
)

const fallbackPath = "/app/data/bettermonitor.log"

var (
	mu      sync.Mutex
	logFile *os.File
)

func filePath() string {
	if p := config.Cfg.LogPath; p != "" {
		return p
	}
	return fallbackPath
}

// Init routes the standard logger to stdout and the log file. Call after
// config.Load. When the file cannot be opened the console keeps
// stdout-only logging and says so.
func Init() {
	path := filePath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Printf("WARNING: log directory: %v", err)
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("WARNING: log file %s: %v", path, err)
		return
	}
	logFile = f
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	log.Printf("Console log mirrored to %s", path)
}

// ReadTail returns the last n lines of the log file, oldest first. A
// missing file reads as empty. The scan keeps a rolling window of n lines,
// so memory is bounded by the request rather than the file.
func ReadTail(n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	mu.Lock()
	defer mu.Unlock()

	f, err := os.Open(filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	window := make([]string, n)
	total := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		window[total%n] = scanner.Text()
		total++
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan log file: %w", err)
	}

	if total < n {
		return strings.Join(window[:total], "\n"), nil
	}
	oldest := total % n
	return strings.Join(append(window[oldest:], window[:oldest]...), "\n"), nil
}

// Clear truncates the log file. When Init succeeded the open handle is
// truncated in place and mirrored logging continues; otherwise the file is
// truncated by path.
func Clear() error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		if err := logFile.Truncate(0); err != nil {
			return fmt.Errorf("truncate log file: %w", err)
		}
		if _, err := logFile.Seek(0, 0); err != nil {
			return fmt.Errorf("seek log file: %w", err)
		}
		return nil
	}
	return os.Truncate(filePath(), 0)
}
