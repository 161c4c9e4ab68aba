package commands

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/bigbes/wgstats/internal/config"
	"github.com/bigbes/wgstats/internal/statsdb"
)

// passwordEnv is read when -password is not given.
const passwordEnv = "WGSTATS_BACKUP_PASSWORD"

func Backup(args []string, logger *slog.Logger) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	out := fs.String("out", "", "output file (required)")
	password := fs.String("password", "", "encrypt with this password (default $"+passwordEnv+")")
	decrypt := fs.String("decrypt", "", "decrypt this encrypted backup into -out instead of taking a snapshot")
	fs.Parse(args)

	if *out == "" {
		fmt.Fprintln(os.Stderr, "error: -out is required")
		fs.Usage()
		os.Exit(1)
	}
	pw := *password
	if pw == "" {
		pw = os.Getenv(passwordEnv)
	}

	if *decrypt != "" {
		if err := decryptBackupFile(*decrypt, *out, pw); err != nil {
			fatal(logger, "decrypt failed", err)
		}
		fmt.Printf("Decrypted %s -> %s\n", *decrypt, *out)
		return
	}

	cfg, err := loadConfig(*configPath, logger)
	if err != nil {
		fatal(logger, "failed to load config", err)
	}
	if err := writeBackup(context.Background(), cfg, *out, pw, logger); err != nil {
		fatal(logger, "backup failed", err)
	}
	fmt.Printf("Backup written to %s (encrypted: %t)\n", *out, pw != "")
}

func writeBackup(ctx context.Context, cfg *config.Config, out, password string, logger *slog.Logger) error {
	store, err := statsdb.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating backup file: %w", err)
	}
	if err := store.Backup(ctx, f, password); err != nil {
		f.Close()
		os.Remove(out)
		return err
	}
	return f.Close()
}

func decryptBackupFile(in, out, password string) error {
	if password == "" {
		return fmt.Errorf("a password is required to decrypt (-password or $%s)", passwordEnv)
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("reading backup: %w", err)
	}
	if !statsdb.IsEncryptedBackup(data) {
		return fmt.Errorf("%s is not an encrypted backup", in)
	}

	f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	if err := statsdb.DecryptBackup(f, data, password); err != nil {
		f.Close()
		os.Remove(out)
		return err
	}
	return f.Close()
}
