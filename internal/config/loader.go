package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment variables read by Load
const EnvPrefix = "TABLECHAT_"

// DefaultConfigFiles are looked up in the working directory when no file is given
var DefaultConfigFiles = []string{"tablechat.yaml", "tablechat.yml"}

// flagKeys maps flag names to config keys where they differ from the snake_case name
var flagKeys = map[string]string{
	"server":         "server_url",
	"timeout":        "request_timeout",
	"addr":           "devserver.addr",
	"db":             "devserver.database",
	"analysis_delay": "devserver.analysis_delay",
	"upload_ttl":     "devserver.upload_ttl",
	"seed":           "devserver.seed",
}

// Loaded is the result of Load
type Loaded struct {
	Config *Config
	File   string // config file read, empty if none
}

func defaults() map[string]any {
	return map[string]any{
		"server_url":                 DefaultServerURL,
		"poll_interval":              DefaultPollInterval.String(),
		"ephemeral_refresh_interval": DefaultEphemeralRefreshInterval.String(),
		"request_timeout":            "0s",
		"log_dir":                    DefaultLogDir,
		"telemetry":                  false,
		"preview_rows":               DefaultPreviewRows,
		"max_upload_mb":              DefaultMaxUploadMB,
		"debug":                      false,
		"devserver.addr":             DefaultDevServerAddr,
		"devserver.database":         DefaultDevServerDatabase,
		"devserver.analysis_delay":   DefaultAnalysisDelay.String(),
		"devserver.upload_ttl":       DefaultUploadTTL.String(),
		"devserver.seed":             false,
	}
}

// findConfigFile returns the explicit path or the first default file that exists
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range DefaultConfigFiles {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load reads configuration. Precedence (highest to lowest): flags > env vars > config file > defaults.
// Only flags that were explicitly set override lower layers.
func Load(cfgFile string, flags *pflag.FlagSet) (*Loaded, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// TABLECHAT_POLL_INTERVAL -> poll_interval, TABLECHAT_DEVSERVER__ADDR -> devserver.addr
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if mapped, ok := flagKeys[key]; ok {
				key = mapped
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Loaded{Config: &cfg, File: used}, nil
}
