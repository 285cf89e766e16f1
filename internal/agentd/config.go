package agentd

import (
	"fmt"
	"os"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Config holds the agent daemon configuration, read from a YAML file.
// The connection token may be overridden with AGENTD_TOKEN so it can be
// injected without living in the file.
type Config struct {
	Listen     string `yaml:"listen"`
	Token      string `yaml:"token"`
	Shell      string `yaml:"shell"`
	DefaultCwd string `yaml:"default_cwd"`
	DockerHost string `yaml:"docker_host"`
	CertsDir   string `yaml:"certs_dir"`
	SitesDir   string `yaml:"sites_dir"`

	// TLS serving. Set both paths to serve wss/https. With
	// tls_self_signed, a missing pair is generated at those paths on
	// first boot.
	TLSCert       string `yaml:"tls_cert"`
	TLSKey        string `yaml:"tls_key"`
	TLSSelfSigned bool   `yaml:"tls_self_signed"`

	// Size limits accept human-readable values ("2MB", "256KB").
	MaxFileSize    string `yaml:"max_file_size"`
	ScrollbackSize string `yaml:"scrollback_size"`

	// Resolved byte values of the limits above, filled in by Load.
	MaxFileBytes    int64 `yaml:"-"`
	ScrollbackBytes int   `yaml:"-"`
}

// TLSEnabled reports whether the daemon should serve TLS.
func (c Config) TLSEnabled() bool {
	return c.TLSCert != ""
}

// Load reads and validates the configuration file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Listen == "" {
		cfg.Listen = ":8211"
	}
	if cfg.Shell == "" {
		cfg.Shell = "/bin/bash"
	}
	if cfg.CertsDir == "" {
		cfg.CertsDir = "/etc/letsencrypt/live"
	}
	if cfg.SitesDir == "" {
		cfg.SitesDir = "/etc/nginx/sites-enabled"
	}
	if cfg.MaxFileSize == "" {
		cfg.MaxFileSize = "2MB"
	}
	if cfg.ScrollbackSize == "" {
		cfg.ScrollbackSize = "256KB"
	}

	cfg.MaxFileBytes, err = units.RAMInBytes(cfg.MaxFileSize)
	if err != nil {
		return Config{}, fmt.Errorf("parse max_file_size: %w", err)
	}
	scrollback, err := units.RAMInBytes(cfg.ScrollbackSize)
	if err != nil {
		return Config{}, fmt.Errorf("parse scrollback_size: %w", err)
	}
	cfg.ScrollbackBytes = int(scrollback)

	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return Config{}, fmt.Errorf("tls_cert and tls_key must be set together")
	}
	if cfg.TLSSelfSigned && cfg.TLSCert == "" {
		return Config{}, fmt.Errorf("tls_self_signed needs tls_cert and tls_key paths to write the pair to")
	}

	if envToken := os.Getenv("AGENTD_TOKEN"); envToken != "" {
		cfg.Token = envToken
	}
	if cfg.Token == "" {
		return Config{}, fmt.Errorf("token is required (config file or AGENTD_TOKEN)")
	}

	return cfg, nil
}
