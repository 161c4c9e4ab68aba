package statsdb

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Backup writes a consistent snapshot of the database to w. A non-empty
// password encrypts the snapshot with EncryptBackup.
func (s *Store) Backup(ctx context.Context, w io.Writer, password string) error {
	dir, err := os.MkdirTemp("", "wgstats-backup-*")
	if err != nil {
		return fmt.Errorf("statsdb: backup: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	snapshot := filepath.Join(dir, "snapshot.sqlite")
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, snapshot); err != nil {
		return fmt.Errorf("statsdb: backup: vacuum into: %w", err)
	}

	f, err := os.Open(snapshot)
	if err != nil {
		return fmt.Errorf("statsdb: backup: open snapshot: %w", err)
	}
	defer f.Close()

	if password != "" {
		return EncryptBackup(w, f, password)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("statsdb: backup: copy snapshot: %w", err)
	}
	return nil
}
