package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	// DataPath is the base directory for everything the console persists.
	// The database and log paths derive from it unless set explicitly.
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH"`
	LogPath      string `envconfig:"LOG_PATH"`
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`
	WebDir       string `envconfig:"WEB_DIR" default:"/app/web"`

	// Agent connection settings
	ConnectTimeout        time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s"`
	HeartbeatInterval     time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
	HeartbeatFailureLimit int           `envconfig:"HEARTBEAT_FAILURE_LIMIT" default:"3"`
	ReconnectBaseDelay    time.Duration `envconfig:"RECONNECT_BASE_DELAY" default:"2s"`
	ReconnectMaxDelay     time.Duration `envconfig:"RECONNECT_MAX_DELAY" default:"30s"`
	ReconnectMaxAttempts  int           `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"10"`
	PendingQueueLimit     int           `envconfig:"PENDING_QUEUE_LIMIT" default:"100"`
	SaveGuardPollInterval time.Duration `envconfig:"SAVE_GUARD_POLL_INTERVAL" default:"250ms"`

	// Log stream settings
	LogFlushInterval   time.Duration `envconfig:"LOG_FLUSH_INTERVAL" default:"100ms"`
	LogMaxLines        int           `envconfig:"LOG_MAX_LINES" default:"5000"`
	LogStreamStartWait time.Duration `envconfig:"LOG_STREAM_START_WAIT" default:"5s"`

	// Agent REST settings
	AgentRequestTimeout time.Duration `envconfig:"AGENT_REQUEST_TIMEOUT" default:"15s"`

	// Certificate sweep settings
	CertExpiryWarningDays int    `envconfig:"CERT_EXPIRY_WARNING_DAYS" default:"30"`
	CertSweepSchedule     string `envconfig:"CERT_SWEEP_SCHEDULE" default:"0 6 * * *"`
	ConnectionLogMaxAge   string `envconfig:"CONNECTION_LOG_MAX_AGE" default:"720h"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("BM", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if Cfg.DatabasePath == "" {
		Cfg.DatabasePath = filepath.Join(Cfg.DataPath, "bettermonitor.db")
	}
	if Cfg.LogPath == "" {
		Cfg.LogPath = filepath.Join(Cfg.DataPath, "bettermonitor.log")
	}
}
