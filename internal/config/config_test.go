package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("log_level: debug\n"))
	require.NoError(t, err)

	require.Equal(t, slog.LevelDebug, cfg.ParseLogLevel())
	require.Equal(t, "wgstats.sqlite", cfg.Database.Path)
	require.Equal(t, SourceCommand, cfg.Status.Source)
	require.Equal(t, []string{"wg", "show", "all", "dump"}, cfg.Status.Command)
	require.Equal(t, 10*time.Second, cfg.Status.TimeoutDuration())
	require.Equal(t, 30*time.Second, cfg.Identity.CacheTTLDuration())
	require.Equal(t, 4, cfg.Collector.Workers)
	require.Equal(t, 30, cfg.Collector.HistoryDays)
	require.Zero(t, cfg.Collector.SpikeBytes)
	require.Equal(t, ":8080", cfg.HTTP.Listen)

	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, time.Local, loc)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown source", "status:\n  source: netlink\n"},
		{"negative timeout", "status:\n  timeout: -1\n"},
		{"negative workers", "collector:\n  workers: -2\n"},
		{"negative spike threshold", "collector:\n  spike_bytes: -1\n"},
		{"bad timezone", "timezone: Mars/Olympus\n"},
		{"negative rate", "http:\n  rate_limit: -1\n"},
		{"not yaml", "status: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestParseSpikeBytes(t *testing.T) {
	cfg, err := Parse([]byte("collector:\n  spike_bytes: 1000000\n"))
	require.NoError(t, err)
	require.Equal(t, int64(1000000), cfg.Collector.SpikeBytes)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"chatty", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := Config{LogLevel: tt.in}
		if got := cfg.ParseLogLevel(); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSaveLoadDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wgstats.yaml")
	require.NoError(t, Default().Save(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestMigrateFlatKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wgstats.yaml")
	legacy := "db_path: /var/lib/wgstats/old.sqlite\nwg_config: /etc/wireguard/wg1.conf\n"
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	cfg, migrated, err := Migrate(path)
	require.NoError(t, err)
	require.True(t, migrated)
	require.Equal(t, "/var/lib/wgstats/old.sqlite", cfg.Database.Path)
	require.Equal(t, "/etc/wireguard/wg1.conf", cfg.Identity.ConfigPath)

	_, migrated, err = Migrate(path)
	require.NoError(t, err)
	require.False(t, migrated)
}
