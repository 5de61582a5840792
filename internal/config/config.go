// Package config handles configuration loading, validation, and management for kanaime.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version" validate:"min=1"`

	// Dictionary configures the candidate store and its backends.
	Dictionary DictionaryConfig `toml:"dictionary" json:"dictionary" yaml:"dictionary"`

	// Conversion configures the conversion engine and segmenter.
	Conversion ConversionConfig `toml:"conversion" json:"conversion" yaml:"conversion"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// Health configures the health endpoints.
	Health HealthConfig `toml:"health" json:"health" yaml:"health"`

	// DBus configures the renderer surface on the session bus.
	DBus DBusConfig `toml:"dbus" json:"dbus" yaml:"dbus"`

	// Watch configures dictionary source hot reload.
	Watch WatchConfig `toml:"watch" json:"watch" yaml:"watch"`
}

// DictionaryConfig holds candidate store configuration.
type DictionaryConfig struct {
	// SQLitePath is the structured store, tried first.
	SQLitePath string `toml:"sqlite_path" json:"sqlite_path" yaml:"sqlite_path" env:"KANAIME_DICTIONARY_SQLITE_PATH" env-description:"SQLite dictionary database"`

	// SourcePath is the TSV bootstrap file (reading, word, cost).
	SourcePath string `toml:"source_path" json:"source_path" yaml:"source_path" env:"KANAIME_DICTIONARY_SOURCE_PATH" env-description:"TSV dictionary source"`

	// JournalPath persists learning when the flat backend is in use.
	JournalPath string `toml:"journal_path" json:"journal_path" yaml:"journal_path" env:"KANAIME_DICTIONARY_JOURNAL_PATH" env-description:"learn journal for the flat backend"`

	// MaxPerKey caps the words kept per reading at import.
	MaxPerKey int `toml:"max_per_key" json:"max_per_key" yaml:"max_per_key" env:"KANAIME_DICTIONARY_MAX_PER_KEY" validate:"min=1,max=1000"`

	// QueryLimit caps the candidates returned per query.
	QueryLimit int `toml:"query_limit" json:"query_limit" yaml:"query_limit" env:"KANAIME_DICTIONARY_QUERY_LIMIT" validate:"min=2,max=50"`

	// CacheSize is the number of cached query results. 0 disables the cache.
	CacheSize int `toml:"cache_size" json:"cache_size" yaml:"cache_size" env:"KANAIME_DICTIONARY_CACHE_SIZE" validate:"min=0"`

	// BreakerFailures is the number of consecutive backend failures that
	// open the circuit.
	BreakerFailures int `toml:"breaker_failures" json:"breaker_failures" yaml:"breaker_failures" validate:"min=1"`

	// BreakerTimeoutSec is how long the circuit stays open.
	BreakerTimeoutSec int `toml:"breaker_timeout_sec" json:"breaker_timeout_sec" yaml:"breaker_timeout_sec" validate:"min=1"`
}

// BreakerTimeout returns BreakerTimeoutSec as a duration.
func (d DictionaryConfig) BreakerTimeout() time.Duration {
	return time.Duration(d.BreakerTimeoutSec) * time.Second
}

// ConversionConfig holds conversion engine configuration.
type ConversionConfig struct {
	// Workers bounds concurrent dictionary lookups.
	Workers int `toml:"workers" json:"workers" yaml:"workers" env:"KANAIME_CONVERSION_WORKERS" validate:"min=1,max=64"`

	// MaxSegmentLength is the longest segment probed, in characters.
	MaxSegmentLength int `toml:"max_segment_length" json:"max_segment_length" yaml:"max_segment_length" validate:"min=1,max=16"`

	// SegmentParallelism bounds concurrent probes per position. 0 means
	// MaxSegmentLength.
	SegmentParallelism int `toml:"segment_parallelism" json:"segment_parallelism" yaml:"segment_parallelism" validate:"min=0"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level" env:"KANAIME_LOG_LEVEL" env-description:"log level" validate:"oneof=debug info warn error"`

	// Format is text or json.
	Format string `toml:"format" json:"format" yaml:"format" env:"KANAIME_LOG_FORMAT" validate:"oneof=text json"`

	// Output is stdout, stderr, file or both (stderr and file).
	Output string `toml:"output" json:"output" yaml:"output" env:"KANAIME_LOG_OUTPUT" validate:"oneof=stdout stderr file both"`

	// FilePath is the log file for file and both outputs.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path" env:"KANAIME_LOG_PATH"`

	// MaxSizeMB is the size at which the log file rotates.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb" validate:"min=1"`

	// MaxBackups is the number of rotated files kept.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups" validate:"min=0"`

	// AddSource adds file:line to records.
	AddSource bool `toml:"add_source" json:"add_source" yaml:"add_source"`

	// RedactText replaces typed text in records with its length.
	RedactText bool `toml:"redact_text" json:"redact_text" yaml:"redact_text" env:"KANAIME_LOG_REDACT_TEXT"`
}

// MetricsConfig holds Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled" json:"enabled" yaml:"enabled" env:"KANAIME_METRICS_ENABLED"`
	Listen    string `toml:"listen" json:"listen" yaml:"listen" env:"KANAIME_METRICS_LISTEN" env-description:"metrics listen address" validate:"omitempty,hostname_port"`
	Namespace string `toml:"namespace" json:"namespace" yaml:"namespace" validate:"required"`
}

// HealthConfig holds the /livez, /readyz and /healthz endpoint
// configuration. When Listen equals the metrics address both are served by
// one listener.
type HealthConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled" env:"KANAIME_HEALTH_ENABLED"`
	Listen  string `toml:"listen" json:"listen" yaml:"listen" env:"KANAIME_HEALTH_LISTEN" env-description:"health listen address" validate:"omitempty,hostname_port"`
}

// DBusConfig holds session bus configuration.
type DBusConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled" env:"KANAIME_DBUS_ENABLED"`
}

// WatchConfig holds dictionary source watching configuration.
type WatchConfig struct {
	// Enabled re-imports the dictionary source when it changes.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled" env:"KANAIME_WATCH_ENABLED"`

	// DebounceMs is how long the source must be stable before a re-import.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms" validate:"min=10"`
}

// Debounce returns DebounceMs as a duration.
func (w WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()
	return &Config{
		Version: Version,
		Dictionary: DictionaryConfig{
			SQLitePath:        filepath.Join(dir, "words.db"),
			SourcePath:        filepath.Join(dir, "words.tsv"),
			JournalPath:       filepath.Join(dir, "learn.json"),
			MaxPerKey:         50,
			QueryLimit:        50,
			CacheSize:         1024,
			BreakerFailures:   5,
			BreakerTimeoutSec: 30,
		},
		Conversion: ConversionConfig{
			Workers:          4,
			MaxSegmentLength: 6,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "kanaimed.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			RedactText: true,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Listen:    "127.0.0.1:9464",
			Namespace: "kanaime",
		},
		Health: HealthConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9464",
		},
		DBus: DBusConfig{
			Enabled: true,
		},
		Watch: WatchConfig{
			Enabled:    true,
			DebounceMs: 500,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// DataDir returns the base kanaime data directory.
// KANAIME_DATA_DIR overrides the platform default.
func DataDir() string {
	if envDir := os.Getenv("KANAIME_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// Load reads configuration from the specified path, applies environment
// overrides and validates the result. A missing file yields defaults.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies KANAIME_* environment variables. Fields without
// a matching variable keep their value.
func (c *Config) ApplyEnvOverrides() error {
	if err := cleanenv.ReadEnv(c); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	return nil
}

// EnvDescription lists the supported environment variables.
func EnvDescription() (string, error) {
	header := "Environment variables:"
	return cleanenv.GetDescription(&Config{}, &header)
}

// EnsureDirectories creates all necessary directories for the daemon.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Dictionary.SQLitePath),
		filepath.Dir(c.Dictionary.JournalPath),
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// loadConfigFromFile reads and parses a config file based on its extension.
func loadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := decodeJSON(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if err := autoDetectAndParse(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	return cfg, nil
}

// autoDetectAndParse attempts to parse the config in multiple formats.
func autoDetectAndParse(data []byte, cfg *Config) error {
	if _, err := toml.Decode(string(data), cfg); err == nil {
		return nil
	}
	if err := decodeJSON(data, cfg); err == nil {
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err == nil {
		return nil
	}
	return errors.New("unable to parse config file (tried TOML, JSON, YAML)")
}
