package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BaSui01/voiceflow/config"
	"github.com/BaSui01/voiceflow/internal/migration"
)

// =============================================================================
// 🗄️ 聊天历史数据库迁移
// =============================================================================

// numericMigrateCommands take a version or step count before the flags.
var numericMigrateCommands = map[string]bool{"steps": true, "goto": true, "force": true}

// runMigrate handles "voiceflow migrate <subcommand> [N] [flags]".
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	command := args[0]
	rest := args[1:]
	switch command {
	case "help", "-h", "--help":
		printMigrateUsage()
		return
	case "reset":
		command = "down-all"
	}

	var positional []string
	if numericMigrateCommands[command] {
		if len(rest) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: voiceflow migrate %s <number> [flags]\n", command)
			os.Exit(1)
		}
		positional, rest = rest[:1], rest[1:]
	}

	migrator, err := createMigrator(flag.NewFlagSet("migrate "+command, flag.ExitOnError), rest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migration.NewCLI(migrator).Run(ctx, command, positional); err != nil {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", command, err)
		os.Exit(1)
	}
}

// createMigrator builds a migrator from --db-type/--db-url, or from the
// database section of the configuration.
func createMigrator(fs *flag.FlagSet, args []string) (*migration.DefaultMigrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *dbType != "" && *dbURL != "" {
		t, err := migration.ParseDatabaseType(*dbType)
		if err != nil {
			return nil, err
		}
		return migration.NewMigrator(&migration.Config{DatabaseType: t, DatabaseURL: *dbURL})
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}

func printMigrateUsage() {
	fmt.Println(`Chat history database migrations

Usage:
  voiceflow migrate <subcommand> [number] [options]

Subcommands:
  up          Apply all pending migrations
  down        Roll back the last migration
  reset       Roll back all migrations
  steps <n>   Apply n migrations (negative rolls back)
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  version     Show current migration version
  status      Show every migration and whether it is applied
  info        Show current version and pending count
  help        Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: built from config)

Examples:
  voiceflow migrate up
  voiceflow migrate up --config /etc/voiceflow/config.yaml
  voiceflow migrate status --db-type sqlite --db-url "file:voiceflow.db"
  voiceflow migrate goto 1
  voiceflow migrate force 0`)
}
