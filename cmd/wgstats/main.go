package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bigbes/wgstats/cmd/wgstats/commands"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		commands.Run(os.Args[2:], logger, version)
	case "collect":
		commands.Collect(os.Args[2:], logger)
	case "history":
		commands.History(os.Args[2:], logger)
	case "backup":
		commands.Backup(os.Args[2:], logger)
	case "init":
		commands.Init(os.Args[2:], logger)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: wgstats <command> [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  run       Serve GET /api/stats")
	fmt.Fprintln(os.Stderr, "  collect   Take one sample, persist it and print the result")
	fmt.Fprintln(os.Stderr, "  history   Print the stored daily history of one peer")
	fmt.Fprintln(os.Stderr, "  backup    Write (or decrypt) a database snapshot")
	fmt.Fprintln(os.Stderr, "  init      Write a default config file")
	fmt.Fprintln(os.Stderr, "  version   Print the version")
}
