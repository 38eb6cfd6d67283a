package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"bizzai/backend/internal/config"
	"bizzai/backend/internal/logger"
	pgstore "bizzai/backend/internal/store/postgres"
)

func main() {
	var logLevel string
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	command := args[0]

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync(log)

	config.LoadDotEnv()
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pg, err := pgstore.New(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("connect to database", zap.Error(err))
	}

	m, err := pgstore.NewMigrator(pg.DB(), log)
	if err != nil {
		_ = pg.Close()
		log.Fatal("create migrator", zap.Error(err))
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("close migrator", zap.Error(err))
		}
	}()

	log.Info("migration CLI started", zap.String("command", command))

	if err := run(m, command, args[1:]); err != nil {
		log.Error("migration command failed", zap.String("command", command), zap.Error(err))
		printUsage()
		os.Exit(1)
	}
}

type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Version() (uint, bool, error)
}

func run(m migrator, command string, args []string) error {
	switch command {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "step":
		if len(args) < 1 {
			return fmt.Errorf("step count required: migrate step <n>")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n == 0 {
			return fmt.Errorf("invalid step count %q", args[0])
		}
		return m.Steps(n)
	case "force":
		if len(args) < 1 {
			return fmt.Errorf("version required: migrate force <version>")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[0])
		}
		return m.Force(version)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func printUsage() {
	fmt.Println(`POS database migration tool

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up                 Apply all pending migrations
  down               Roll back all migrations
  step <n>           Apply n migrations (positive=up, negative=down)
  force <version>    Force set migration version (use with caution)
  version            Show current migration version

Flags:
  -log-level string  Log level: debug, info, warn, error (default: info)

Environment Variables:
  DATABASE_URL`)
}
