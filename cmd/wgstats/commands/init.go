package commands

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bigbes/wgstats/internal/config"
)

func Init(args []string, logger *slog.Logger) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	force := fs.Bool("force", false, "overwrite an existing config")
	fs.Parse(args)

	if err := initConfig(*configPath, *force); err != nil {
		fatal(logger, "failed to write config", err)
	}

	fmt.Println("=== Config initialized ===")
	fmt.Printf("Config:   %s\n", *configPath)
	fmt.Println()
	fmt.Println("Point identity.config_path at your WireGuard server config")
	fmt.Println("and run 'wgstats run' to serve /api/stats.")
}

func initConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return config.Default().Save(path)
}
