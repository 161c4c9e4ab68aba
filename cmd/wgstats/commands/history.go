package commands

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/bigbes/wgstats/internal/config"
	"github.com/bigbes/wgstats/internal/identity"
	"github.com/bigbes/wgstats/internal/statsdb"
)

func History(args []string, logger *slog.Logger) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	key := fs.String("key", "", "peer public key (required)")
	days := fs.Int("days", 0, "window in days (default collector.history_days)")
	asJSON := fs.Bool("json", false, "print JSON")
	fs.Parse(args)

	if *key == "" {
		fmt.Fprintln(os.Stderr, "error: -key is required")
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath, logger)
	if err != nil {
		fatal(logger, "failed to load config", err)
	}

	if err := printHistory(context.Background(), cfg, *key, *days, *asJSON, os.Stdout, logger); err != nil {
		fatal(logger, "history failed", err)
	}
}

func printHistory(ctx context.Context, cfg *config.Config, key string, days int, asJSON bool, w io.Writer, logger *slog.Logger) error {
	if days <= 0 {
		days = cfg.Collector.HistoryDays
	}
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}

	store, err := statsdb.Open(ctx, cfg.Database.Path, logger, statsdb.WithLocation(loc))
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := store.User(ctx, key)
	if errors.Is(err, statsdb.ErrNotFound) {
		return fmt.Errorf("peer %s has no recorded history", key)
	}
	if err != nil {
		return err
	}
	stats, err := store.History(ctx, user.ID, days)
	if err != nil {
		return err
	}

	name := user.Username
	if name == "" {
		resolver := identity.NewResolver(cfg.Identity.ConfigPath, 0, logger)
		name = identity.Lookup(resolver.Names(ctx), key)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Username   string              `json:"username"`
			PublicKey  string              `json:"publicKey"`
			DailyStats []statsdb.DailyStat `json:"dailyStats"`
		}{name, key, stats})
	}

	fmt.Fprintf(w, "Peer:  %s\nKey:   %s\nSince: %s\n\n", name, key, user.CreatedAtTime().In(loc).Format("2006-01-02 15:04"))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tHOURS\tRX\tTX")
	for _, d := range stats {
		fmt.Fprintf(tw, "%s\t%.2f\t%s\t%s\n", d.Date, d.HoursConnected, formatBytes(d.TransferRx), formatBytes(d.TransferTx))
	}
	return tw.Flush()
}
