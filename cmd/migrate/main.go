package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/ordercore/pkg/config"
	"github.com/angelmondragon/ordercore/pkg/db"
	"github.com/angelmondragon/ordercore/pkg/logger"
	"github.com/angelmondragon/ordercore/pkg/migrate"
)

var errUsage = errors.New("usage")

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "migration command: up|down|status|version|create|validate")
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	ctx := logg.WithFields(context.Background(), map[string]any{
		"cmd": opts.cmd,
		"dir": opts.dir,
	})

	handled, err := runOffline(os.Stdout, opts)
	if err != nil {
		exit(ctx, logg, err)
	}
	if handled {
		return
	}

	cfg, err := config.Load()
	if err != nil {
		exit(ctx, logg, fmt.Errorf("load config: %w", err))
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		exit(ctx, logg, fmt.Errorf("database: %w", err))
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		exit(ctx, logg, fmt.Errorf("sql database: %w", err))
	}

	logg.Info(ctx, "migrate ready")
	if err := runOnline(ctx, sqlDB, opts); err != nil {
		exit(ctx, logg, err)
	}
	logg.Info(ctx, "migrate finished")
}

// runOffline handles the commands that never touch the database.
func runOffline(out io.Writer, opts options) (bool, error) {
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return true, fmt.Errorf("%w: missing -name for create", errUsage)
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return true, fmt.Errorf("create migration: %w", err)
		}
		fmt.Fprintln(out, "created migration:", path)
		return true, nil
	case "validate":
		if err := migrate.ValidateDir(opts.dir); err != nil {
			return true, fmt.Errorf("migration validation failed: %w", err)
		}
		fmt.Fprintln(out, "migration validation passed")
		return true, nil
	}
	return false, nil
}

func runOnline(ctx context.Context, sqlDB *sql.DB, opts options) error {
	switch opts.cmd {
	case "up", "down", "status":
		return migrate.Run(ctx, sqlDB, opts.dir, opts.cmd)
	case "version":
		if opts.version == "" {
			return fmt.Errorf("%w: missing -version for version command", errUsage)
		}
		return migrate.MigrateToVersion(ctx, sqlDB, opts.dir, opts.version)
	default:
		return fmt.Errorf("%w: unknown -cmd value %q", errUsage, opts.cmd)
	}
}

func exit(ctx context.Context, logg *logger.Logger, err error) {
	logg.Error(ctx, "migrate failed", err)
	if errors.Is(err, errUsage) {
		flag.Usage()
		os.Exit(2)
	}
	os.Exit(1)
}
