// Package config loads tablechat settings from defaults, a YAML file, TABLECHAT_ environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"fmt"
	"time"
)

// Default values
const (
	DefaultServerURL                = "http://localhost:8000"
	DefaultPollInterval             = 2 * time.Second
	DefaultEphemeralRefreshInterval = 30 * time.Second
	DefaultLogDir                   = "logs"
	DefaultPreviewRows              = 5
	DefaultMaxUploadMB              = 10

	DefaultDevServerAddr     = ":8000"
	DefaultDevServerDatabase = ":memory:"
	DefaultAnalysisDelay     = 3 * time.Second
	DefaultUploadTTL         = 30 * time.Minute
)

// Config holds application configuration
type Config struct {
	ServerURL                string        `koanf:"server_url"`
	PollInterval             time.Duration `koanf:"poll_interval"`
	EphemeralRefreshInterval time.Duration `koanf:"ephemeral_refresh_interval"`
	RequestTimeout           time.Duration `koanf:"request_timeout"` // 0 waits for the transport
	LogDir                   string        `koanf:"log_dir"`
	Telemetry                bool          `koanf:"telemetry"` // export traces and metrics to files under LogDir
	PreviewRows              int           `koanf:"preview_rows"`
	MaxUploadMB              int           `koanf:"max_upload_mb"`
	Debug                    bool          `koanf:"debug"`

	DevServer DevServerConfig `koanf:"devserver"`
}

// DevServerConfig configures the local development backend
type DevServerConfig struct {
	Addr          string        `koanf:"addr"`
	Database      string        `koanf:"database"` // sqlite file path or :memory:
	AnalysisDelay time.Duration `koanf:"analysis_delay"`
	UploadTTL     time.Duration `koanf:"upload_ttl"`
	Seed          bool          `koanf:"seed"` // create demo tables on start
}

// MaxUploadBytes returns the upload size limit in bytes, 0 for none
func (c *Config) MaxUploadBytes() int64 {
	if c.MaxUploadMB <= 0 {
		return 0
	}
	return int64(c.MaxUploadMB) << 20
}

// Validate checks values that would make the client misbehave
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.EphemeralRefreshInterval <= 0 {
		return fmt.Errorf("ephemeral_refresh_interval must be positive, got %s", c.EphemeralRefreshInterval)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout cannot be negative")
	}
	if c.PreviewRows < 1 {
		return fmt.Errorf("preview_rows must be at least 1, got %d", c.PreviewRows)
	}
	return nil
}
