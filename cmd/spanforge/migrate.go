package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/spanforge/spanforge/config"
	"github.com/spanforge/spanforge/internal/migration"
	"github.com/spanforge/spanforge/store"
)

// runMigrate handles the migrate command and its subcommands.
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "up":
		runMigrateUp(args[1:])
	case "down":
		runMigrateDown(args[1:])
	case "status":
		runMigrateStatus(args[1:])
	case "version":
		runMigrateVersion(args[1:])
	case "force":
		runMigrateForce(args[1:])
	case "seed":
		runMigrateSeed(args[1:])
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", args[0])
		printMigrateUsage()
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  spanforge migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  status    Show migration status
  version   Show current migration version
  force     Force set migration version (use with caution)
  seed      Load model definitions from a YAML file into the registry
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)
  --models <path>     Model definition file (seed only)

Examples:
  spanforge migrate up
  spanforge migrate up --config /etc/spanforge/config.yaml
  spanforge migrate status
  spanforge migrate force 0
  spanforge migrate seed --models models.yaml`)
}

// migrateFlags holds the shared migrate flag values after parsing.
type migrateFlags struct {
	configPath string
	dbType     string
	dbURL      string
	models     string
}

func parseMigrateFlags(name string, args []string) *migrateFlags {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	f := &migrateFlags{}
	fs.StringVar(&f.configPath, "config", "", "Path to config file")
	fs.StringVar(&f.dbType, "db-type", "", "Database type (postgres, mysql, sqlite)")
	fs.StringVar(&f.dbURL, "db-url", "", "Database connection URL")
	fs.StringVar(&f.models, "models", "", "Model definition file")
	fs.Parse(args)
	return f
}

// loadDatabaseConfig resolves the database settings from flags and the
// config file.
func (f *migrateFlags) loadDatabaseConfig() (config.DatabaseConfig, error) {
	loader := config.NewLoader()
	if f.configPath != "" {
		loader = loader.WithConfigPath(f.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return config.DatabaseConfig{}, fmt.Errorf("failed to load config: %w", err)
	}
	if f.dbType != "" {
		cfg.Database.Driver = f.dbType
	}
	return cfg.Database, nil
}

// createMigrator builds a migrator from flags, preferring an explicit
// connection URL over the config file.
func (f *migrateFlags) createMigrator() (*migration.Migrator, error) {
	if f.dbType != "" && f.dbURL != "" {
		dialect, err := migration.ParseDialect(f.dbType)
		if err != nil {
			return nil, err
		}
		return migration.New(migration.Config{Dialect: dialect, DatabaseURL: f.dbURL})
	}

	dbCfg, err := f.loadDatabaseConfig()
	if err != nil {
		return nil, err
	}
	dialect, err := migration.ParseDialect(dbCfg.Driver)
	if err != nil {
		return nil, err
	}
	url := migration.BuildDatabaseURL(dialect,
		dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode)
	return migration.New(migration.Config{Dialect: dialect, DatabaseURL: url})
}

func mustMigrator(name string, args []string) (*migration.Migrator, *migrateFlags) {
	f := parseMigrateFlags(name, args)
	m, err := f.createMigrator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	return m, f
}

func runMigrateUp(args []string) {
	m, _ := mustMigrator("migrate up", args)
	defer m.Close()

	if err := m.Up(); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
	version, _, _ := m.Version()
	fmt.Printf("Migrated to version %d\n", version)
}

func runMigrateDown(args []string) {
	m, _ := mustMigrator("migrate down", args)
	defer m.Close()

	if err := m.Down(); err != nil {
		fmt.Fprintf(os.Stderr, "Migration rollback failed: %v\n", err)
		os.Exit(1)
	}
	version, _, _ := m.Version()
	fmt.Printf("Rolled back to version %d\n", version)
}

func runMigrateStatus(args []string) {
	m, _ := mustMigrator("migrate status", args)
	defer m.Close()

	statuses, err := m.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get status: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Version  Applied  Name")
	for _, s := range statuses {
		applied := "no"
		if s.Applied {
			applied = "yes"
		}
		if s.Dirty {
			applied = "dirty"
		}
		fmt.Printf("%-8d %-8s %s\n", s.Version, applied, s.Name)
	}
}

func runMigrateVersion(args []string) {
	m, _ := mustMigrator("migrate version", args)
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get version: %v\n", err)
		os.Exit(1)
	}
	if dirty {
		fmt.Printf("Version: %d (dirty)\n", version)
	} else {
		fmt.Printf("Version: %d\n", version)
	}
}

func runMigrateForce(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: spanforge migrate force <version>\n")
		os.Exit(1)
	}
	version, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", args[0])
		os.Exit(1)
	}

	m, _ := mustMigrator("migrate force", args[1:])
	defer m.Close()

	if err := m.Force(int(version)); err != nil {
		fmt.Fprintf(os.Stderr, "Force failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Forced version to %d\n", version)
}

// runMigrateSeed replaces the model_definitions table contents with the
// definitions from a YAML file.
func runMigrateSeed(args []string) {
	f := parseMigrateFlags("migrate seed", args)
	if f.models == "" {
		fmt.Fprintf(os.Stderr, "Usage: spanforge migrate seed --models <path>\n")
		os.Exit(1)
	}

	models, err := store.LoadModelFile(f.models)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load model file: %v\n", err)
		os.Exit(1)
	}

	dbCfg, err := f.loadDatabaseConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := zap.NewNop()
	db, err := openDatabase(dbCfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	if db == nil {
		fmt.Fprintf(os.Stderr, "Seeding requires a configured database driver\n")
		os.Exit(1)
	}

	registry := store.NewGormRegistry(db, logger)
	if err := registry.Seed(context.Background(), models); err != nil {
		fmt.Fprintf(os.Stderr, "Seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Seeded %d model definitions\n", len(models))
}
