package config

import (
	"testing"
	"time"
)

// loadFresh clears the package-level Cfg first: envconfig leaves fields
// without a default untouched, so stale values from an earlier test would
// otherwise leak through.
func loadFresh(t *testing.T) {
	t.Helper()
	Cfg = Settings{}
	Load()
}

func TestLoad_DerivesPathsFromDataPath(t *testing.T) {
	t.Setenv("BM_DATA_PATH", "/srv/console")
	loadFresh(t)

	if Cfg.DatabasePath != "/srv/console/bettermonitor.db" {
		t.Errorf("database path = %q", Cfg.DatabasePath)
	}
	if Cfg.LogPath != "/srv/console/bettermonitor.log" {
		t.Errorf("log path = %q", Cfg.LogPath)
	}
}

func TestLoad_ExplicitPathsWin(t *testing.T) {
	t.Setenv("BM_DATA_PATH", "/srv/console")
	t.Setenv("BM_DATABASE_PATH", "/var/lib/bm.db")
	t.Setenv("BM_LOG_PATH", "/var/log/bm.log")
	loadFresh(t)

	if Cfg.DatabasePath != "/var/lib/bm.db" {
		t.Errorf("database path = %q", Cfg.DatabasePath)
	}
	if Cfg.LogPath != "/var/log/bm.log" {
		t.Errorf("log path = %q", Cfg.LogPath)
	}
}

func TestLoad_Defaults(t *testing.T) {
	loadFresh(t)

	if Cfg.ListenAddr != ":8000" {
		t.Errorf("listen addr = %q", Cfg.ListenAddr)
	}
	if Cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("heartbeat interval = %v", Cfg.HeartbeatInterval)
	}
	if Cfg.ReconnectMaxAttempts != 10 {
		t.Errorf("reconnect attempts = %d", Cfg.ReconnectMaxAttempts)
	}
	if Cfg.SaveGuardPollInterval != 250*time.Millisecond {
		t.Errorf("save guard poll = %v", Cfg.SaveGuardPollInterval)
	}
	if Cfg.AgentRequestTimeout != 15*time.Second {
		t.Errorf("agent request timeout = %v", Cfg.AgentRequestTimeout)
	}
}
