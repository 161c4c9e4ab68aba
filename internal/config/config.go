package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel          string                  `yaml:"log_level"`
	Timezone          string                  `yaml:"timezone"`
	Database          DatabaseConfig          `yaml:"database"`
	Status            StatusConfig            `yaml:"status"`
	Identity          IdentityConfig          `yaml:"identity"`
	Collector         CollectorConfig         `yaml:"collector"`
	HTTP              HTTPConfig              `yaml:"http"`
	GeoIP             GeoIPConfig             `yaml:"geoip"`
	ObservabilityHTTP ObservabilityHTTPConfig `yaml:"observability_http"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type StatusConfig struct {
	Source     string   `yaml:"source"`     // "command" or "uapi"
	Command    []string `yaml:"command"`    // argv for source=command
	Timeout    int      `yaml:"timeout"`    // seconds
	Interfaces []string `yaml:"interfaces"` // for source=uapi
	SocketDir  string   `yaml:"socket_dir"` // for source=uapi
}

type IdentityConfig struct {
	ConfigPath string `yaml:"config_path"`
	CacheTTL   int    `yaml:"cache_ttl"` // seconds
}

type CollectorConfig struct {
	Workers     int   `yaml:"workers"`
	HistoryDays int   `yaml:"history_days"`
	SpikeBytes  int64 `yaml:"spike_bytes"` // rx+tx growth between two samples that is logged as a spike, 0 disables
}

type HTTPConfig struct {
	Listen    string  `yaml:"listen"`
	RateLimit float64 `yaml:"rate_limit"` // requests per second per client IP, 0 disables
	Burst     int     `yaml:"burst"`
}

type GeoIPConfig struct {
	Path string `yaml:"path"` // optional .mmdb file
}

type ObservabilityHTTPConfig struct {
	Addr    string `yaml:"addr"`
	Metrics bool   `yaml:"metrics"`
	Pprof   bool   `yaml:"pprof"`
}

const (
	SourceCommand = "command"
	SourceUAPI    = "uapi"
)

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.ObservabilityHTTP.Metrics = true
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Database.Path == "" {
		c.Database.Path = "wgstats.sqlite"
	}
	if c.Status.Source == "" {
		c.Status.Source = SourceCommand
	}
	if len(c.Status.Command) == 0 {
		c.Status.Command = []string{"wg", "show", "all", "dump"}
	}
	if c.Status.Timeout == 0 {
		c.Status.Timeout = 10
	}
	if len(c.Status.Interfaces) == 0 {
		c.Status.Interfaces = []string{"wg0"}
	}
	if c.Status.SocketDir == "" {
		c.Status.SocketDir = "/var/run/wireguard"
	}
	if c.Identity.ConfigPath == "" {
		c.Identity.ConfigPath = "/etc/wireguard/wg0.conf"
	}
	if c.Identity.CacheTTL == 0 {
		c.Identity.CacheTTL = 30
	}
	if c.Collector.Workers == 0 {
		c.Collector.Workers = 4
	}
	if c.Collector.HistoryDays == 0 {
		c.Collector.HistoryDays = 30
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}
	if c.HTTP.RateLimit == 0 {
		c.HTTP.RateLimit = 2
	}
	if c.HTTP.Burst == 0 {
		c.HTTP.Burst = 5
	}
}

func (c *Config) validate() error {
	switch c.Status.Source {
	case SourceCommand, SourceUAPI:
	default:
		return fmt.Errorf("status.source: unknown source %q (want %q or %q)", c.Status.Source, SourceCommand, SourceUAPI)
	}
	if c.Status.Timeout < 0 {
		return fmt.Errorf("status.timeout: must be positive, got %d", c.Status.Timeout)
	}
	if c.Collector.Workers < 0 {
		return fmt.Errorf("collector.workers: must be positive, got %d", c.Collector.Workers)
	}
	if c.Collector.HistoryDays < 0 {
		return fmt.Errorf("collector.history_days: must be positive, got %d", c.Collector.HistoryDays)
	}
	if c.Collector.SpikeBytes < 0 {
		return fmt.Errorf("collector.spike_bytes: must not be negative, got %d", c.Collector.SpikeBytes)
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit: must not be negative, got %v", c.HTTP.RateLimit)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	return nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Migrate rewrites keys from the flat pre-1.0 layout ("db_path",
// "wg_config") into their current sections and loads the result.
func Migrate(path string) (*Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("reading config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, false, fmt.Errorf("parsing config file: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	modified := false
	moveKey := func(oldKey, section, newKey string) {
		v, ok := raw[oldKey]
		if !ok {
			return
		}
		sec, _ := raw[section].(map[string]any)
		if sec == nil {
			sec = map[string]any{}
		}
		if _, exists := sec[newKey]; !exists {
			sec[newKey] = v
		}
		raw[section] = sec
		delete(raw, oldKey)
		modified = true
	}
	moveKey("db_path", "database", "path")
	moveKey("wg_config", "identity", "config_path")

	if modified {
		newData, err := yaml.Marshal(raw)
		if err != nil {
			return nil, false, fmt.Errorf("marshaling migrated config: %w", err)
		}
		if err := os.WriteFile(path, newData, 0o644); err != nil {
			return nil, false, fmt.Errorf("writing migrated config: %w", err)
		}
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, false, err
	}
	return cfg, modified, nil
}

func (c *Config) ParseLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Location returns the time zone that calendar dates are computed in.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func (c *StatusConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c *IdentityConfig) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}
