package commands

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/bigbes/wgstats/internal/api"
	"github.com/bigbes/wgstats/internal/collector"
	"github.com/bigbes/wgstats/internal/config"
	"github.com/bigbes/wgstats/internal/sample"
)

func Collect(args []string, logger *slog.Logger) {
	fs := flag.NewFlagSet("collect", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	dumpPath := fs.String("dump", "", "read a saved 'wg show all dump' file instead of the configured source")
	asJSON := fs.Bool("json", false, "print the /api/stats JSON instead of a table")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, logger)
	if err != nil {
		fatal(logger, "failed to load config", err)
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.ParseLogLevel()}))

	if err := collectOnce(context.Background(), cfg, *dumpPath, *asJSON, os.Stdout, logger); err != nil {
		fatal(logger, "collect failed", err)
	}
}

func collectOnce(ctx context.Context, cfg *config.Config, dumpPath string, asJSON bool, w io.Writer, logger *slog.Logger) error {
	var source sample.Source
	if dumpPath != "" {
		data, err := os.ReadFile(dumpPath)
		if err != nil {
			return fmt.Errorf("reading dump: %w", err)
		}
		source = &sample.StaticSource{Dump: string(data)}
	}

	a, err := newApp(ctx, cfg, source, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.collector.Collect(ctx)
	if err != nil {
		return err
	}
	if len(res.Failed) > 0 {
		logger.Warn("some peers were not persisted", "peers", res.Failed)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(api.ToPeerStats(res))
	}
	return writeSnapshotTable(w, res)
}

func writeSnapshotTable(w io.Writer, res collector.Result) error {
	snaps := make([]collector.Snapshot, 0, len(res.Snapshots))
	for _, s := range res.Snapshots {
		snaps = append(snaps, s)
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].Username != snaps[j].Username {
			return snaps[i].Username < snaps[j].Username
		}
		return snaps[i].PublicKey < snaps[j].PublicKey
	})

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tINTERFACE\tPUBLIC KEY\tENDPOINT\tHOURS\tRX\tTX\tDAYS")
	for _, s := range snaps {
		endpoint := s.Endpoint
		if endpoint == "" {
			endpoint = "-"
		} else if s.EndpointCountry != "" {
			endpoint += " (" + s.EndpointCountry + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\t%s\t%d\n",
			s.Username, s.Interface, s.PublicKey, endpoint, s.ConnectedHours,
			formatBytes(s.TransferRx), formatBytes(s.TransferTx), len(s.DailyStats))
	}
	return tw.Flush()
}
