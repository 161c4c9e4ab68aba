// Package collector samples live WireGuard peers, folds each sample into the
// persisted daily history and assembles the merged per-peer view.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/bigbes/wgstats/internal/identity"
	"github.com/bigbes/wgstats/internal/logging"
	"github.com/bigbes/wgstats/internal/metrics"
	"github.com/bigbes/wgstats/internal/sample"
	"github.com/bigbes/wgstats/internal/statsdb"
)

// Store is the subset of *statsdb.Store the collector needs.
type Store interface {
	RecordUser(ctx context.Context, publicKey, name string) (statsdb.User, error)
	Reconcile(ctx context.Context, userID int64, date string, hours float64, rx, tx int64) (statsdb.ReconcileResult, error)
	History(ctx context.Context, userID int64, windowDays int) ([]statsdb.DailyStat, error)
	Today() string
}

// NameSource maps public keys to display names.
type NameSource interface {
	Names(ctx context.Context) map[string]string
}

// CountryLookup annotates endpoints with a country code.
type CountryLookup interface {
	EndpointCountry(endpoint string) string
}

// Snapshot is the merged live and historical view of one peer.
type Snapshot struct {
	Username        string
	Interface       string
	PublicKey       string
	Endpoint        string
	EndpointCountry string
	AllowedIPs      string
	ConnectedHours  float64
	TransferRx      int64
	TransferTx      int64
	DailyStats      []statsdb.DailyStat
}

// Result is the outcome of one collection.
type Result struct {
	Snapshots map[string]Snapshot // keyed by public key
	Failed    []string            // public keys omitted because persistence failed
}

// Options tunes a Collector. Zero values select defaults.
type Options struct {
	Workers     int
	HistoryDays int
	// SpikeBytes is the rx+tx growth between two samples of the same day
	// reported as a traffic spike. Zero disables the check.
	SpikeBytes int64
	Countries  CountryLookup
	Now        func() time.Time
}

const (
	defaultWorkers     = 4
	defaultHistoryDays = 30
)

type Collector struct {
	names       NameSource
	source      sample.Source
	store       Store
	countries   CountryLookup
	workers     int
	historyDays int
	spikeBytes  int64
	nowFunc     func() time.Time
	logger      *slog.Logger
	tracer      trace.Tracer
}

func New(names NameSource, source sample.Source, store Store, opts Options, logger *slog.Logger) *Collector {
	c := &Collector{
		names:       names,
		source:      source,
		store:       store,
		countries:   opts.Countries,
		workers:     opts.Workers,
		historyDays: opts.HistoryDays,
		spikeBytes:  opts.SpikeBytes,
		nowFunc:     opts.Now,
		logger:      logger,
		tracer:      otel.Tracer("wgstats/collector"),
	}
	if c.workers <= 0 {
		c.workers = defaultWorkers
	}
	if c.historyDays <= 0 {
		c.historyDays = defaultHistoryDays
	}
	if c.nowFunc == nil {
		c.nowFunc = time.Now
	}
	return c
}

// Collect takes one sample of every peer, reconciles it into today's rollup
// and returns the merged view. Only a failure to obtain the sample fails the
// whole call; peers whose persistence fails are logged and left out.
func (c *Collector) Collect(ctx context.Context) (Result, error) {
	start := time.Now()
	defer func() { metrics.CollectionDuration.Observe(time.Since(start).Seconds()) }()

	ctx, span := c.tracer.Start(ctx, "Collector.Collect")
	defer span.End()

	logger := logging.FromContextOr(ctx, c.logger)

	names := c.names.Names(ctx)
	samples, err := c.source.Samples(ctx, c.nowFunc())
	if err != nil {
		span.RecordError(err)
		metrics.CollectionsTotal.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("collector: sample peers: %w", err)
	}
	metrics.PeersSampled.Set(float64(len(samples)))
	span.SetAttributes(attribute.Int("peers", len(samples)))

	today := c.store.Today()
	snapshots := make([]*Snapshot, len(samples))

	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, s := range samples {
		g.Go(func() error {
			snap, err := c.collectPeer(ctx, s, names, today)
			if err != nil {
				metrics.PeerErrorsTotal.Inc()
				logger.ErrorContext(ctx, "collector: peer omitted", "peer", s.PublicKey, "interface", s.Interface, "err", err)
				return nil
			}
			snapshots[i] = &snap
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Snapshots: make(map[string]Snapshot, len(samples))}
	for i, snap := range snapshots {
		if snap == nil {
			res.Failed = append(res.Failed, samples[i].PublicKey)
			continue
		}
		res.Snapshots[snap.PublicKey] = *snap
	}
	// A key failing on one interface may have succeeded on another.
	res.Failed = pruneFailed(res.Failed, res.Snapshots)

	if len(res.Failed) > 0 {
		metrics.CollectionsTotal.WithLabelValues("partial").Inc()
		logger.WarnContext(ctx, "collector: partial collection", "ok", len(res.Snapshots), "failed", len(res.Failed))
	} else {
		metrics.CollectionsTotal.WithLabelValues("ok").Inc()
		logger.DebugContext(ctx, "collector: collection done", "peers", len(res.Snapshots), "elapsed", time.Since(start))
	}
	return res, nil
}

func (c *Collector) collectPeer(ctx context.Context, s sample.Sample, names map[string]string, today string) (Snapshot, error) {
	logger := logging.FromContextOr(ctx, c.logger).With("peer", s.PublicKey)

	if s.ConnectedHours < 0 {
		metrics.AnomaliesTotal.WithLabelValues("negative_hours").Inc()
		logger.WarnContext(ctx, "collector: handshake in the future", "hours", s.ConnectedHours, "handshake", s.LastHandshake)
	}

	// Unmapped keys keep whatever name was stored earlier.
	user, err := c.store.RecordUser(ctx, s.PublicKey, names[s.PublicKey])
	if err != nil {
		return Snapshot{}, err
	}

	rec, err := c.store.Reconcile(ctx, user.ID, today, s.ConnectedHours, s.RxBytes, s.TxBytes)
	if err != nil {
		return Snapshot{}, err
	}
	if rec.Rollback {
		metrics.CounterRollbacksTotal.Inc()
		logger.InfoContext(ctx, "collector: transfer counters went backwards", "date", today,
			"rx", s.RxBytes, "tx", s.TxBytes, "resets", rec.CounterResets)
	}
	if c.spikeBytes > 0 && rec.Delta > c.spikeBytes {
		metrics.AnomaliesTotal.WithLabelValues("traffic_spike").Inc()
		logger.WarnContext(ctx, "collector: traffic spike", "date", today,
			"bytes", rec.Delta, "threshold", c.spikeBytes)
	}

	history, err := c.store.History(ctx, user.ID, c.historyDays)
	if err != nil {
		return Snapshot{}, err
	}

	username := user.Username
	if username == "" {
		username = identity.UnknownName
	}
	snap := Snapshot{
		Username:       username,
		Interface:      s.Interface,
		PublicKey:      s.PublicKey,
		Endpoint:       s.Endpoint,
		AllowedIPs:     s.AllowedIPs,
		ConnectedHours: s.ConnectedHours,
		TransferRx:     s.RxBytes,
		TransferTx:     s.TxBytes,
		DailyStats:     history,
	}
	if c.countries != nil {
		snap.EndpointCountry = c.countries.EndpointCountry(s.Endpoint)
	}
	return snap, nil
}

func pruneFailed(failed []string, ok map[string]Snapshot) []string {
	out := failed[:0]
	seen := make(map[string]bool, len(failed))
	for _, key := range failed {
		if _, done := ok[key]; done || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
