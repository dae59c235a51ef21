// Package config handles global configuration loading using viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `rlink:` root key in YAML.
type GlobalConfig struct {
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// ─── Capture ───

// CaptureConfig controls how device handles are opened.
type CaptureConfig struct {
	Transport   string        `mapstructure:"transport" yaml:"transport"` // pcap | afpacket | file
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`     // 0 = block until a frame arrives
	SnapLen     int           `mapstructure:"snap_len" yaml:"snap_len"`
	Promiscuous bool          `mapstructure:"promiscuous" yaml:"promiscuous"`
	Direction   string        `mapstructure:"direction" yaml:"direction"` // in | out | inout
	Filter      string        `mapstructure:"filter" yaml:"filter"`       // BPF expression
	ReplayDir   string        `mapstructure:"replay_dir" yaml:"replay_dir"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string           `mapstructure:"level" yaml:"level"`   // trace / debug / info / warn / error
	Format string           `mapstructure:"format" yaml:"format"` // pattern with %time %level %field %msg
	Time   string           `mapstructure:"time" yaml:"time"`     // Go time layout for %time
	File   FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures the rotating file appender.
type FileOutputConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

const rootKey = "rlink"

// configRoot is the top-level wrapper matching the YAML structure `rlink: ...`.
type configRoot struct {
	Rlink GlobalConfig `mapstructure:"rlink" yaml:"rlink"`
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"transport":  "capture.transport",
	"timeout":    "capture.timeout",
	"snap-len":   "capture.snap_len",
	"promisc":    "capture.promiscuous",
	"direction":  "capture.direction",
	"filter":     "capture.filter",
	"replay-dir": "capture.replay_dir",
	"log-level":  "log.level",
}

// Load loads configuration from path, then environment, then flags.
// An empty path or a missing file leaves the defaults in place.
// Env vars use the RLINK_ prefix (e.g., RLINK_LOG_LEVEL); flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path != "" {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	// key "rlink.log.level" → env "RLINK_LOG_LEVEL"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(rootKey+"."+key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Rlink

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "rlink." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("rlink.capture.transport", "pcap")
	v.SetDefault("rlink.capture.timeout", "0s")
	v.SetDefault("rlink.capture.snap_len", 65535)
	v.SetDefault("rlink.capture.promiscuous", true)
	v.SetDefault("rlink.capture.direction", "inout")
	v.SetDefault("rlink.capture.filter", "")
	v.SetDefault("rlink.capture.replay_dir", "")

	// Log defaults
	v.SetDefault("rlink.log.level", "info")
	v.SetDefault("rlink.log.format", "%time [%level] %field %msg\n")
	v.SetDefault("rlink.log.time", "2006-01-02 15:04:05.000")
	v.SetDefault("rlink.log.file.enabled", false)
	v.SetDefault("rlink.log.file.path", "/var/log/rlink/rlink.log")
	v.SetDefault("rlink.log.file.max_size_mb", 100)
	v.SetDefault("rlink.log.file.max_age_days", 30)
	v.SetDefault("rlink.log.file.max_backups", 5)
	v.SetDefault("rlink.log.file.compress", true)

	// Metrics defaults
	v.SetDefault("rlink.metrics.enabled", false)
	v.SetDefault("rlink.metrics.listen", ":9091")
	v.SetDefault("rlink.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and normalizes case-insensitive fields.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return fmt.Errorf("log.file.path is required when log.file.enabled=true")
	}

	// ── Capture validation ──
	cfg.Capture.Transport = strings.ToLower(cfg.Capture.Transport)
	switch cfg.Capture.Transport {
	case "pcap", "afpacket":
	case "file":
		if cfg.Capture.ReplayDir == "" {
			return fmt.Errorf("capture.replay_dir is required when capture.transport=file")
		}
	default:
		return fmt.Errorf("invalid capture transport: %s (must be pcap/afpacket/file)", cfg.Capture.Transport)
	}
	if cfg.Capture.Timeout < 0 {
		return fmt.Errorf("capture.timeout must not be negative, got %s", cfg.Capture.Timeout)
	}
	if cfg.Capture.SnapLen < 0 {
		return fmt.Errorf("capture.snap_len must not be negative, got %d", cfg.Capture.SnapLen)
	}
	cfg.Capture.Direction = strings.ToLower(cfg.Capture.Direction)
	switch cfg.Capture.Direction {
	case "":
		cfg.Capture.Direction = "inout"
	case "in", "out", "inout":
	default:
		return fmt.Errorf("invalid capture direction: %s (must be in/out/inout)", cfg.Capture.Direction)
	}

	// ── Metrics validation ──
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			return fmt.Errorf("metrics.listen is required when metrics.enabled=true")
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with '/', got %q", cfg.Metrics.Path)
		}
	}

	return nil
}

// Wrap returns cfg under the `rlink:` root key, ready for YAML encoding.
func (cfg *GlobalConfig) Wrap() interface{} {
	return configRoot{Rlink: *cfg}
}
