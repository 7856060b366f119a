// Package main provides the schema migration CLI.
// Usage: migrate up
//
//	migrate down
//	migrate version
//	migrate force <version>
package main

import (
	"fmt"
	"os"
	"strconv"

	"stockledger/internal/config"
	"stockledger/internal/infrastructure/storage/postgres"
	"stockledger/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "help", "--help", "-h":
		printUsage()
		return
	case "up", "down", "version", "force":
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: !cfg.IsProduction()})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	m, err := postgres.NewMigrator(cfg.DatabaseURL, log.Desugar())
	if err != nil {
		log.Fatalw("failed to open migrator", "error", err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warnw("failed to close migrator", "error", err)
		}
	}()

	if err := run(m, os.Args[1], os.Args[2:]); err != nil {
		log.Errorw("migration command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(m *postgres.Migrator, command string, args []string) error {
	switch command {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version %d (dirty: %t)\n", version, dirty)
		return nil
	case "force":
		if len(args) < 1 {
			return fmt.Errorf("usage: migrate force <version>")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		return m.Force(version)
	}
	return fmt.Errorf("unknown command %s", command)
}

func printUsage() {
	fmt.Println(`stockledger schema migrations

Usage:
  migrate <command> [args]

Commands:
  up               Apply all pending migrations
  down             Roll back all migrations
  version          Print the current schema version
  force <version>  Set the version without running migrations (dirty recovery)
  help             Show this help

Environment Variables:
  DATABASE_URL     Connection string (required)
  LOG_LEVEL        Log level (default info)`)
}
