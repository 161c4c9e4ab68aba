package statsdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"
)

// DateLayout is the calendar date format stored in daily_stats.date.
const DateLayout = "2006-01-02"

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("statsdb: not found")

// Store is a SQLite-backed history of per-user daily rollups.
type Store struct {
	db      *sqlx.DB
	logger  *slog.Logger
	tracer  trace.Tracer
	nowFunc func() time.Time
	loc     *time.Location
}

// Option configures a Store.
type Option func(*Store)

// WithNow overrides the clock used for "today" and timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.nowFunc = now }
}

// WithLocation sets the time zone calendar dates are computed in.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.loc = loc }
}

// Open opens (or creates) the SQLite database at path and migrates the schema.
func Open(ctx context.Context, path string, logger *slog.Logger, opts ...Option) (*Store, error) {
	dsn := dataSourceName(path)

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("statsdb: open %q: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("statsdb: open %q: %w", path, err)
	}

	s := &Store{
		db:      db,
		logger:  logger,
		tracer:  otel.Tracer("wgstats/statsdb"),
		nowFunc: time.Now,
		loc:     time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(ctx, dsn); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func dataSourceName(path string) string {
	return "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_txlock=immediate"
}

func (s *Store) initSchema(ctx context.Context, dsn string) error {
	if _, err := setAsideLegacyTables(ctx, s.db, s.logger); err != nil {
		return err
	}
	if err := migrateSchema(ctx, dsn, s.logger); err != nil {
		return err
	}
	return restoreLegacyRows(ctx, s.db, s.nowFunc().Unix(), s.logger)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Today returns the current calendar date in the store's time zone.
func (s *Store) Today() string {
	return s.nowFunc().In(s.loc).Format(DateLayout)
}

// RecordUser creates the user for publicKey or renames it to name. An empty
// name never overwrites a stored one.
func (s *Store) RecordUser(ctx context.Context, publicKey, name string) (User, error) {
	ctx, span := s.tracer.Start(ctx, "Store.RecordUser")
	defer span.End()

	if publicKey == "" {
		return User{}, fmt.Errorf("statsdb: record user: empty public key")
	}

	var u User
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO users (public_key, username, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(public_key) DO UPDATE SET
		   username = CASE WHEN excluded.username = '' THEN users.username ELSE excluded.username END
		 RETURNING id, public_key, username, created_at`,
		publicKey, name, s.nowFunc().Unix(),
	).StructScan(&u)
	if err != nil {
		span.RecordError(err)
		return User{}, fmt.Errorf("statsdb: record user %s: %w", publicKey, err)
	}
	return u, nil
}

// User returns the stored user for publicKey.
func (s *Store) User(ctx context.Context, publicKey string) (User, error) {
	var u User
	err := s.db.GetContext(ctx, &u,
		`SELECT id, public_key, username, created_at FROM users WHERE public_key = ?`, publicKey)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("statsdb: user %s: %w", publicKey, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("statsdb: user %s: %w", publicKey, err)
	}
	return u, nil
}

// Users returns every known user ordered by id.
func (s *Store) Users(ctx context.Context) ([]User, error) {
	users := []User{}
	if err := s.db.SelectContext(ctx, &users,
		`SELECT id, public_key, username, created_at FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("statsdb: list users: %w", err)
	}
	return users, nil
}

// Reconcile folds one sample into the (userID, date) rollup in a single
// upsert: hours keep the larger of the stored and sampled values, counters
// take the sampled values. A lower counter than the stored one is accepted
// and flagged in the result. The result also carries the bytes added since
// the previous sample of the day, which is 0 for the first sample and after
// a rollback.
func (s *Store) Reconcile(ctx context.Context, userID int64, date string, hours float64, rx, tx int64) (ReconcileResult, error) {
	ctx, span := s.tracer.Start(ctx, "Store.Reconcile", trace.WithAttributes(
		attribute.Int64("user_id", userID),
		attribute.String("date", date),
	))
	defer span.End()

	if _, err := time.Parse(DateLayout, date); err != nil {
		return ReconcileResult{}, fmt.Errorf("statsdb: reconcile: invalid date %q: %w", date, err)
	}

	var res ReconcileResult
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO daily_stats
		   (user_id, date, hours_connected, transfer_rx, transfer_tx, counter_resets, last_rollback, last_delta, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, 0, 0, ?)
		 ON CONFLICT(user_id, date) DO UPDATE SET
		   hours_connected = MAX(daily_stats.hours_connected, excluded.hours_connected),
		   last_delta = CASE
		     WHEN excluded.transfer_rx < daily_stats.transfer_rx OR excluded.transfer_tx < daily_stats.transfer_tx THEN 0
		     ELSE (excluded.transfer_rx - daily_stats.transfer_rx) + (excluded.transfer_tx - daily_stats.transfer_tx)
		   END,
		   last_rollback = (excluded.transfer_rx < daily_stats.transfer_rx OR excluded.transfer_tx < daily_stats.transfer_tx),
		   counter_resets = daily_stats.counter_resets +
		     (excluded.transfer_rx < daily_stats.transfer_rx OR excluded.transfer_tx < daily_stats.transfer_tx),
		   transfer_rx = excluded.transfer_rx,
		   transfer_tx = excluded.transfer_tx,
		   updated_at = excluded.updated_at
		 RETURNING hours_connected, transfer_rx, transfer_tx, counter_resets, last_rollback, last_delta`,
		userID, date, hours, rx, tx, s.nowFunc().Unix(),
	).StructScan(&res)
	if err != nil {
		span.RecordError(err)
		return ReconcileResult{}, fmt.Errorf("statsdb: reconcile user %d on %s: %w", userID, date, err)
	}
	return res, nil
}

// History returns the user's rollups from the last windowDays days,
// ascending by date. It returns an empty slice when nothing matches.
func (s *Store) History(ctx context.Context, userID int64, windowDays int) ([]DailyStat, error) {
	ctx, span := s.tracer.Start(ctx, "Store.History")
	defer span.End()

	cutoff := s.nowFunc().In(s.loc).AddDate(0, 0, -windowDays).Format(DateLayout)

	stats := []DailyStat{}
	err := s.db.SelectContext(ctx, &stats,
		`SELECT date, hours_connected, transfer_rx, transfer_tx
		 FROM daily_stats
		 WHERE user_id = ? AND date >= ?
		 ORDER BY date ASC`,
		userID, cutoff)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("statsdb: history user %d: %w", userID, err)
	}
	return stats, nil
}
