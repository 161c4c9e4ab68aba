package statsdb

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Databases written before schema versioning was introduced have no
// schema_migrations table and may lack the (user_id, date) uniqueness
// constraint or some columns. They are adopted in two steps around the
// migration run: the old tables are renamed aside, the current schema is
// created, and the old rows are copied back with filtering.

const (
	legacyUsers      = "users_legacy"
	legacyDailyStats = "daily_stats_legacy"
)

// setAsideLegacyTables renames unversioned tables out of the way of the
// migrations. It reports whether anything was renamed.
func setAsideLegacyTables(ctx context.Context, db *sqlx.DB, logger *slog.Logger) (bool, error) {
	versioned, err := tableExists(ctx, db, "schema_migrations")
	if err != nil {
		return false, err
	}
	if versioned {
		return false, nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("statsdb: legacy: begin tx: %w", err)
	}
	defer tx.Rollback()

	renamed := false
	for _, t := range []struct{ from, to string }{
		{"daily_stats", legacyDailyStats},
		{"users", legacyUsers},
	} {
		exists, err := tableExists(ctx, tx, t.from)
		if err != nil {
			return false, err
		}
		if !exists {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, quoteIdent(t.from), quoteIdent(t.to))); err != nil {
			return false, fmt.Errorf("statsdb: legacy: rename %s: %w", t.from, err)
		}
		renamed = true
	}
	if !renamed {
		return false, nil
	}

	// Index names are database-wide; drop the old ones so the migrations
	// can create them on the new tables.
	var indexes []string
	if err := tx.SelectContext(ctx, &indexes,
		`SELECT name FROM sqlite_master
		 WHERE type = 'index' AND sql IS NOT NULL AND tbl_name IN (?, ?)`,
		legacyUsers, legacyDailyStats); err != nil {
		return false, fmt.Errorf("statsdb: legacy: list indexes: %w", err)
	}
	for _, idx := range indexes {
		if _, err := tx.ExecContext(ctx, `DROP INDEX `+quoteIdent(idx)); err != nil {
			return false, fmt.Errorf("statsdb: legacy: drop index %s: %w", idx, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("statsdb: legacy: commit rename: %w", err)
	}
	logger.WarnContext(ctx, "statsdb: unversioned schema found, adopting existing data")
	return true, nil
}

// restoreLegacyRows copies rows from set-aside tables into the current
// schema and drops them. Rows without a key or with an unparsable date are
// discarded; duplicate (user, date) rows collapse into one keeping the
// largest hours and the most recently inserted counters.
func restoreLegacyRows(ctx context.Context, db *sqlx.DB, nowUnix int64, logger *slog.Logger) error {
	hasUsers, err := tableExists(ctx, db, legacyUsers)
	if err != nil {
		return err
	}
	hasStats, err := tableExists(ctx, db, legacyDailyStats)
	if err != nil {
		return err
	}
	if !hasUsers && !hasStats {
		return nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("statsdb: legacy: begin tx: %w", err)
	}
	defer tx.Rollback()

	var usersCopied, statsCopied int64
	if hasUsers {
		cols, err := tableColumns(ctx, tx, legacyUsers)
		if err != nil {
			return err
		}
		if !cols["public_key"] {
			logger.WarnContext(ctx, "statsdb: legacy users table has no public_key column, leaving it in place", "table", legacyUsers)
			return nil
		}
		res, err := tx.ExecContext(ctx, legacyUsersCopySQL(cols), nowUnix)
		if err != nil {
			return fmt.Errorf("statsdb: legacy: copy users: %w", err)
		}
		usersCopied, _ = res.RowsAffected()
	}

	if hasStats {
		cols, err := tableColumns(ctx, tx, legacyDailyStats)
		if err != nil {
			return err
		}
		if !cols["user_id"] || !cols["date"] {
			logger.WarnContext(ctx, "statsdb: legacy daily stats table lacks user_id or date, leaving it in place", "table", legacyDailyStats)
			return nil
		}
		res, err := tx.ExecContext(ctx, legacyStatsCopySQL(cols), nowUnix)
		if err != nil {
			return fmt.Errorf("statsdb: legacy: copy daily stats: %w", err)
		}
		statsCopied, _ = res.RowsAffected()
		if _, err := tx.ExecContext(ctx, `DROP TABLE `+legacyDailyStats); err != nil {
			return fmt.Errorf("statsdb: legacy: drop %s: %w", legacyDailyStats, err)
		}
	}
	if hasUsers {
		if _, err := tx.ExecContext(ctx, `DROP TABLE `+legacyUsers); err != nil {
			return fmt.Errorf("statsdb: legacy: drop %s: %w", legacyUsers, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("statsdb: legacy: commit copy: %w", err)
	}
	logger.InfoContext(ctx, "statsdb: legacy data adopted", "users", usersCopied, "daily_stats", statsCopied)
	return nil
}

func legacyUsersCopySQL(cols map[string]bool) string {
	id := "rowid"
	if cols["id"] {
		id = "id"
	}
	username := "''"
	if c := firstColumn(cols, "username", "name"); c != "" {
		username = fmt.Sprintf("COALESCE(%s, '')", c)
	}
	created := "?1"
	if cols["created_at"] {
		created = `COALESCE(CASE typeof(created_at)
			WHEN 'integer' THEN created_at
			WHEN 'real' THEN CAST(created_at AS INTEGER)
			ELSE CAST(strftime('%s', created_at) AS INTEGER) END, ?1)`
	}
	// OR IGNORE keeps the lowest id for duplicated keys.
	return fmt.Sprintf(`INSERT OR IGNORE INTO users (id, public_key, username, created_at)
		SELECT %s, TRIM(public_key), %s, %s FROM %s
		WHERE public_key IS NOT NULL AND TRIM(public_key) <> ''
		ORDER BY %s`, id, username, created, legacyUsers, id)
}

func legacyStatsCopySQL(cols map[string]bool) string {
	hours := "0"
	if c := firstColumn(cols, "hours_connected", "hours"); c != "" {
		hours = fmt.Sprintf("COALESCE(d.%s, 0)", c)
	}
	latest := func(candidates ...string) string {
		c := firstColumn(cols, candidates...)
		if c == "" {
			return "0"
		}
		return fmt.Sprintf(`COALESCE((SELECT l.%s FROM %s l
			WHERE l.user_id = d.user_id AND date(l.date) = date(d.date)
			ORDER BY l.rowid DESC LIMIT 1), 0)`, c, legacyDailyStats)
	}
	return fmt.Sprintf(`INSERT INTO daily_stats (user_id, date, hours_connected, transfer_rx, transfer_tx, updated_at)
		SELECT d.user_id, date(d.date), MAX(%s), %s, %s, ?1
		FROM %s d
		WHERE d.user_id IN (SELECT id FROM users) AND date(d.date) IS NOT NULL
		GROUP BY d.user_id, date(d.date)`,
		hours, latest("transfer_rx", "rx"), latest("transfer_tx", "tx"), legacyDailyStats)
}

func firstColumn(cols map[string]bool, candidates ...string) string {
	for _, c := range candidates {
		if cols[c] {
			return c
		}
	}
	return ""
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
