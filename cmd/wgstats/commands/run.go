package commands

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigbes/wgstats/internal/api"
	"github.com/bigbes/wgstats/internal/config"
)

const logo = `
                     __        __
 _      ______ _____/ /_____ _/ /______
| | /| / / __ '/ ___/ __/ __ '/ __/ ___/
| |/ |/ / /_/ (__  ) /_/ /_/ / /_(__  )
|__/|__/\__, /____/\__/\__,_/\__/____/
       /____/`

func Run(args []string, logger *slog.Logger, version string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, logger)
	if err != nil {
		fatal(logger, "failed to load config", err)
	}

	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.ParseLogLevel()}))
	slog.SetDefault(logger)

	fmt.Println(logo)
	logger.Info("starting wgstats", "version", version)
	if bi, ok := debug.ReadBuildInfo(); ok {
		var buildAttrs []any
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs", "vcs.revision", "vcs.time", "vcs.modified":
				buildAttrs = append(buildAttrs, s.Key, s.Value)
			}
		}
		if len(buildAttrs) > 0 {
			logger.Info("build info", buildAttrs...)
		}
	}

	startObservability(cfg.ObservabilityHTTP, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = serve(ctx, cfg, logger)
	cancel()
	if err != nil {
		fatal(logger, "wgstats error", err)
	}
}

func startObservability(obs config.ObservabilityHTTPConfig, logger *slog.Logger) {
	if obs.Addr == "" {
		return
	}
	mux := http.NewServeMux()
	if obs.Pprof {
		// net/http/pprof registers on DefaultServeMux.
		mux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)
	}
	if obs.Metrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	go func() {
		logger.Info("starting observability server", "addr", obs.Addr, "pprof", obs.Pprof, "metrics", obs.Metrics)
		if err := http.ListenAndServe(obs.Addr, mux); err != nil {
			logger.Error("observability server failed", "err", err)
		}
	}()
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.reloadOnHangup(ctx, logger)

	var limiter api.RateLimiter
	if cfg.HTTP.RateLimit > 0 {
		var stop func()
		limiter, stop = api.NewTokenBucketRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.Burst)
		defer stop()
	}

	return api.New(a.collector, limiter, cfg.HTTP.Listen, logger).Run(ctx)
}

// reloadOnHangup re-reads the identity file and GeoIP database on SIGHUP.
func (a *app) reloadOnHangup(ctx context.Context, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info("SIGHUP received, reloading identities and geoip")
			a.resolver.Invalidate()
			if a.geo != nil {
				if err := a.geo.Reload(); err != nil {
					logger.Error("geoip reload failed", "err", err)
				}
			}
		}
	}
}
