package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bigbes/wgstats/internal/collector"
	"github.com/bigbes/wgstats/internal/config"
	"github.com/bigbes/wgstats/internal/geoip"
	"github.com/bigbes/wgstats/internal/identity"
	"github.com/bigbes/wgstats/internal/sample"
	"github.com/bigbes/wgstats/internal/statsdb"
)

const defaultConfigPath = "configs/wgstats.yaml"

// app bundles the long-lived components built from a config.
type app struct {
	cfg       *config.Config
	store     *statsdb.Store
	resolver  *identity.Resolver
	geo       *geoip.DB
	collector *collector.Collector
}

// loadConfig migrates old config layouts in place and loads the result.
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, migrated, err := config.Migrate(path)
	if err != nil {
		return nil, err
	}
	if migrated {
		logger.Info("config migrated to current layout", "path", path)
	}
	return cfg, nil
}

// newApp opens the store and wires the collector. source overrides the
// configured status source when non-nil.
func newApp(ctx context.Context, cfg *config.Config, source sample.Source, logger *slog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}

	store, err := statsdb.Open(ctx, cfg.Database.Path, logger, statsdb.WithLocation(loc))
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		store:    store,
		resolver: identity.NewResolver(cfg.Identity.ConfigPath, cfg.Identity.CacheTTLDuration(), logger),
	}

	if source == nil {
		source, err = newSource(&cfg.Status)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	opts := collector.Options{
		Workers:     cfg.Collector.Workers,
		HistoryDays: cfg.Collector.HistoryDays,
		SpikeBytes:  cfg.Collector.SpikeBytes,
	}
	if cfg.GeoIP.Path != "" {
		a.geo, err = geoip.Open(cfg.GeoIP.Path, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts.Countries = a.geo
	}

	a.collector = collector.New(a.resolver, source, store, opts, logger)
	return a, nil
}

func (a *app) Close() {
	a.geo.Close()
	a.store.Close()
}

// newSource builds the configured WireGuard status source.
func newSource(cfg *config.StatusConfig) (sample.Source, error) {
	switch cfg.Source {
	case config.SourceCommand:
		return &sample.CommandSource{Argv: cfg.Command, Timeout: cfg.TimeoutDuration()}, nil
	case config.SourceUAPI:
		return &sample.UAPISource{SocketDir: cfg.SocketDir, Interfaces: cfg.Interfaces, Timeout: cfg.TimeoutDuration()}, nil
	default:
		return nil, fmt.Errorf("unknown status source %q", cfg.Source)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}

func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
