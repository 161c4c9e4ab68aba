package statsdb

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openAt(t *testing.T, path string, now time.Time) *Store {
	t.Helper()
	s, err := Open(context.Background(), path, testLogger(),
		WithNow(func() time.Time { return now }),
		WithLocation(time.UTC),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testStore(t *testing.T) *Store {
	t.Helper()
	return openAt(t, filepath.Join(t.TempDir(), "test.sqlite"), testNow)
}

func TestRecordUser(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	alice, err := s.RecordUser(ctx, "pk-alice", "alice")
	require.NoError(t, err)
	require.NotZero(t, alice.ID)
	require.Equal(t, "alice", alice.Username)
	require.Equal(t, testNow.Unix(), alice.CreatedAt)

	bob, err := s.RecordUser(ctx, "pk-bob", "bob")
	require.NoError(t, err)
	require.NotEqual(t, alice.ID, bob.ID)

	renamed, err := s.RecordUser(ctx, "pk-alice", "alice-laptop")
	require.NoError(t, err)
	require.Equal(t, alice.ID, renamed.ID)
	require.Equal(t, "alice-laptop", renamed.Username)

	kept, err := s.RecordUser(ctx, "pk-alice", "")
	require.NoError(t, err)
	require.Equal(t, alice.ID, kept.ID)
	require.Equal(t, "alice-laptop", kept.Username)

	got, err := s.User(ctx, "pk-alice")
	require.NoError(t, err)
	require.Equal(t, kept, got)

	_, err = s.User(ctx, "pk-nobody")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.RecordUser(ctx, "", "ghost")
	require.Error(t, err)

	users, err := s.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
}

func TestReconcileFirstInsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u, err := s.RecordUser(ctx, "ABC123", "")
	require.NoError(t, err)

	res, err := s.Reconcile(ctx, u.ID, "2024-03-15", 1.0, 500, 1000)
	require.NoError(t, err)
	require.Equal(t, ReconcileResult{HoursConnected: 1.0, TransferRx: 500, TransferTx: 1000}, res)

	hist, err := s.History(ctx, u.ID, 30)
	require.NoError(t, err)
	require.Equal(t, []DailyStat{{Date: "2024-03-15", HoursConnected: 1.0, TransferRx: 500, TransferTx: 1000}}, hist)
}

func TestReconcileSmallerSecondSample(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u, err := s.RecordUser(ctx, "ABC123", "")
	require.NoError(t, err)

	_, err = s.Reconcile(ctx, u.ID, "2024-03-15", 1.0, 500, 1000)
	require.NoError(t, err)
	res, err := s.Reconcile(ctx, u.ID, "2024-03-15", 0.5, 600, 1000)
	require.NoError(t, err)

	require.Equal(t, 1.0, res.HoursConnected)
	require.Equal(t, int64(600), res.TransferRx)
	require.False(t, res.Rollback)
}

func TestReconcileIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u, err := s.RecordUser(ctx, "pk", "")
	require.NoError(t, err)

	var last ReconcileResult
	for i := 0; i < 5; i++ {
		last, err = s.Reconcile(ctx, u.ID, "2024-03-15", 2.25, 700, 800)
		require.NoError(t, err)
	}
	require.Equal(t, ReconcileResult{HoursConnected: 2.25, TransferRx: 700, TransferTx: 800}, last)

	hist, err := s.History(ctx, u.ID, 30)
	require.NoError(t, err)
	require.Len(t, hist, 1)
}

func TestReconcileHoursAreMax(t *testing.T) {
	sequences := [][]float64{
		{1, 2, 3},
		{3, 2, 1},
		{0.5, 4.75, 0.25, 4.7, 0},
		{-1, 0.1},
		{0},
	}
	for _, hours := range sequences {
		s := testStore(t)
		ctx := context.Background()
		u, err := s.RecordUser(ctx, "pk", "")
		require.NoError(t, err)

		want := hours[0]
		var res ReconcileResult
		for i, h := range hours {
			want = max(want, h)
			res, err = s.Reconcile(ctx, u.ID, "2024-03-15", h, int64(i), int64(i))
			require.NoError(t, err)
			require.Equal(t, want, res.HoursConnected, "after %v", hours[:i+1])
		}
		require.Equal(t, int64(len(hours)-1), res.TransferRx, "counters are last-writer-wins")
	}
}

func TestReconcileDateIsolation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u, err := s.RecordUser(ctx, "pk", "")
	require.NoError(t, err)

	_, err = s.Reconcile(ctx, u.ID, "2024-03-14", 5, 100, 200)
	require.NoError(t, err)
	_, err = s.Reconcile(ctx, u.ID, "2024-03-15", 7, 1, 2)
	require.NoError(t, err)
	_, err = s.Reconcile(ctx, u.ID, "2024-03-15", 9, 3, 4)
	require.NoError(t, err)

	hist, err := s.History(ctx, u.ID, 30)
	require.NoError(t, err)
	require.Equal(t, []DailyStat{
		{Date: "2024-03-14", HoursConnected: 5, TransferRx: 100, TransferTx: 200},
		{Date: "2024-03-15", HoursConnected: 9, TransferRx: 3, TransferTx: 4},
	}, hist)
}

func TestReconcileUsersIsolated(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a, err := s.RecordUser(ctx, "pk-a", "")
	require.NoError(t, err)
	b, err := s.RecordUser(ctx, "pk-b", "")
	require.NoError(t, err)

	_, err = s.Reconcile(ctx, a.ID, "2024-03-15", 3, 30, 30)
	require.NoError(t, err)
	_, err = s.Reconcile(ctx, b.ID, "2024-03-15", 1, 10, 10)
	require.NoError(t, err)

	hist, err := s.History(ctx, a.ID, 30)
	require.NoError(t, err)
	require.Equal(t, 3.0, hist[0].HoursConnected)
}

func TestReconcileCounterRollback(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u, err := s.RecordUser(ctx, "pk", "")
	require.NoError(t, err)

	res, err := s.Reconcile(ctx, u.ID, "2024-03-15", 1, 5000, 9000)
	require.NoError(t, err)
	require.False(t, res.Rollback)

	// Interface restart: counters start again from zero.
	res, err = s.Reconcile(ctx, u.ID, "2024-03-15", 1, 40, 9000)
	require.NoError(t, err)
	require.True(t, res.Rollback)
	require.Equal(t, int64(1), res.CounterResets)
	require.Equal(t, int64(40), res.TransferRx)

	res, err = s.Reconcile(ctx, u.ID, "2024-03-15", 1, 80, 9100)
	require.NoError(t, err)
	require.False(t, res.Rollback)
	require.Equal(t, int64(1), res.CounterResets)
}

func TestReconcileDelta(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u, err := s.RecordUser(ctx, "pk", "")
	require.NoError(t, err)

	res, err := s.Reconcile(ctx, u.ID, "2024-03-15", 1, 1000, 2000)
	require.NoError(t, err)
	require.Equal(t, int64(0), res.Delta)

	res, err = s.Reconcile(ctx, u.ID, "2024-03-15", 1, 1500, 2100)
	require.NoError(t, err)
	require.Equal(t, int64(600), res.Delta)

	res, err = s.Reconcile(ctx, u.ID, "2024-03-15", 1, 1500, 2100)
	require.NoError(t, err)
	require.Equal(t, int64(0), res.Delta)

	// A counter reset is not a burst of traffic.
	res, err = s.Reconcile(ctx, u.ID, "2024-03-15", 1, 10, 5000)
	require.NoError(t, err)
	require.True(t, res.Rollback)
	require.Equal(t, int64(0), res.Delta)

	res, err = s.Reconcile(ctx, u.ID, "2024-03-16", 1, 9000, 9000)
	require.NoError(t, err)
	require.Equal(t, int64(0), res.Delta)
}

func TestReconcileInvalidDate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u, err := s.RecordUser(ctx, "pk", "")
	require.NoError(t, err)

	_, err = s.Reconcile(ctx, u.ID, "15/03/2024", 1, 1, 1)
	require.Error(t, err)
}

func TestReconcileUnknownUser(t *testing.T) {
	s := testStore(t)
	_, err := s.Reconcile(context.Background(), 999, "2024-03-15", 1, 1, 1)
	require.Error(t, err, "foreign key must reject rows for unknown users")
}

func TestReconcileConcurrentSameDay(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u, err := s.RecordUser(ctx, "pk", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(h float64) {
			defer wg.Done()
			_, err := s.Reconcile(ctx, u.ID, "2024-03-15", h, 1, 1)
			errs <- err
		}(float64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	hist, err := s.History(ctx, u.ID, 30)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, 20.0, hist[0].HoursConnected)
}

func TestHistoryWindow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u, err := s.RecordUser(ctx, "pk", "")
	require.NoError(t, err)

	// N distinct dates inside the window, inserted out of order.
	offsets := []int{0, 29, 3, 17, 1, 8}
	for _, off := range offsets {
		date := testNow.AddDate(0, 0, -off).Format(DateLayout)
		_, err := s.Reconcile(ctx, u.ID, date, float64(off), 0, 0)
		require.NoError(t, err)
	}
	// Outside the window.
	_, err = s.Reconcile(ctx, u.ID, testNow.AddDate(0, 0, -45).Format(DateLayout), 1, 0, 0)
	require.NoError(t, err)

	hist, err := s.History(ctx, u.ID, 30)
	require.NoError(t, err)
	require.Len(t, hist, len(offsets))
	for i := 1; i < len(hist); i++ {
		require.Less(t, hist[i-1].Date, hist[i].Date)
	}
	require.Equal(t, "2024-02-15", hist[0].Date)
	require.Equal(t, "2024-03-15", hist[len(hist)-1].Date)

	empty, err := s.History(ctx, u.ID+1, 30)
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)
}

func TestTodayUsesLocation(t *testing.T) {
	loc := time.FixedZone("JST", 9*60*60)
	late := time.Date(2024, 3, 15, 20, 0, 0, 0, time.UTC)

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "tz.sqlite"), testLogger(),
		WithNow(func() time.Time { return late }), WithLocation(loc))
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, "2024-03-16", s.Today())
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sqlite")
	ctx := context.Background()

	s := openAt(t, path, testNow)
	u, err := s.RecordUser(ctx, "pk", "alice")
	require.NoError(t, err)
	_, err = s.Reconcile(ctx, u.ID, "2024-03-15", 2, 3, 4)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2 := openAt(t, path, testNow)
	got, err := s2.User(ctx, "pk")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	hist, err := s2.History(ctx, u.ID, 30)
	require.NoError(t, err)
	require.Len(t, hist, 1)
}

func TestAdoptLegacySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.sqlite")
	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = raw.Exec(`
CREATE TABLE users (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  public_key TEXT,
  username TEXT,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE daily_stats (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id INTEGER,
  date DATE,
  hours_connected REAL,
  transfer_rx INTEGER
);
CREATE INDEX idx_daily_stats_user_date ON daily_stats (user_id, date);
INSERT INTO users (id, public_key, username, created_at) VALUES
  (1, 'pk-alice', 'alice', '2024-01-01 10:00:00'),
  (2, 'pk-bob', NULL, '2024-01-02 10:00:00'),
  (3, '', 'nokey', NULL),
  (4, 'pk-alice', 'alice-dup', NULL);
INSERT INTO daily_stats (user_id, date, hours_connected, transfer_rx) VALUES
  (1, '2024-03-14', 2.0, 100),
  (1, '2024-03-14', 5.0, 150),
  (1, '2024-03-14', 3.0, 120),
  (1, '2024-03-15', 1.0, 10),
  (2, '2024-03-15', NULL, NULL),
  (NULL, '2024-03-15', 9.0, 9),
  (1, 'not a date', 9.0, 9),
  (3, '2024-03-15', 1.0, 1);
`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	s := openAt(t, path, testNow)
	ctx := context.Background()

	users, err := s.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, User{ID: 1, PublicKey: "pk-alice", Username: "alice", CreatedAt: 1704103200}, users[0])
	require.Equal(t, "", users[1].Username)

	hist, err := s.History(ctx, 1, 30)
	require.NoError(t, err)
	require.Equal(t, []DailyStat{
		{Date: "2024-03-14", HoursConnected: 5.0, TransferRx: 120},
		{Date: "2024-03-15", HoursConnected: 1.0, TransferRx: 10},
	}, hist)

	// The adopted table enforces uniqueness and the max rule.
	res, err := s.Reconcile(ctx, 1, "2024-03-14", 4.0, 130, 0)
	require.NoError(t, err)
	require.Equal(t, 5.0, res.HoursConnected)

	for _, table := range []string{legacyUsers, legacyDailyStats} {
		exists, err := tableExists(ctx, s.db, table)
		require.NoError(t, err)
		require.False(t, exists, table)
	}

	// New users continue after the adopted ids.
	carol, err := s.RecordUser(ctx, "pk-carol", "carol")
	require.NoError(t, err)
	require.Greater(t, carol.ID, int64(2))
}

func TestBackup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u, err := s.RecordUser(ctx, "pk", "alice")
	require.NoError(t, err)
	_, err = s.Reconcile(ctx, u.ID, "2024-03-15", 2, 3, 4)
	require.NoError(t, err)

	t.Run("plain", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, s.Backup(ctx, &buf, ""))
		require.True(t, bytes.HasPrefix(buf.Bytes(), []byte("SQLite format 3\x00")))
		require.False(t, IsEncryptedBackup(buf.Bytes()))
	})

	t.Run("encrypted", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, s.Backup(ctx, &buf, "hunter2"))
		require.True(t, IsEncryptedBackup(buf.Bytes()))

		require.Error(t, DecryptBackup(io.Discard, buf.Bytes(), "wrong"))

		var plain bytes.Buffer
		require.NoError(t, DecryptBackup(&plain, buf.Bytes(), "hunter2"))

		restored := filepath.Join(t.TempDir(), "restored.sqlite")
		require.NoError(t, os.WriteFile(restored, plain.Bytes(), 0o600))
		r := openAt(t, restored, testNow)
		got, err := r.User(ctx, "pk")
		require.NoError(t, err)
		require.Equal(t, "alice", got.Username)
	})
}

func TestDecryptBackupRejectsGarbage(t *testing.T) {
	require.Error(t, DecryptBackup(io.Discard, []byte("plain sqlite"), "pw"))
	require.Error(t, DecryptBackup(io.Discard, append([]byte("WGSB\x01"), 1, 2, 3), "pw"))
}
