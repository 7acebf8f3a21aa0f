// Package main provides the CLI entrypoint for worksync.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JohanCodinha/worksync/internal/config"
	"github.com/JohanCodinha/worksync/internal/jira"
	"github.com/JohanCodinha/worksync/internal/logger"
	"github.com/JohanCodinha/worksync/internal/store"
	"github.com/JohanCodinha/worksync/internal/sync"
	"github.com/JohanCodinha/worksync/internal/telemetry"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app carries state shared by every subcommand. The store is opened on first
// use so commands such as "config show" work without a database.
type app struct {
	configPath string
	logLevel   string

	loader *config.Loader
	cfg    *config.Config
	db     *store.DB
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "worksync",
		Short: "Mirror Jira worklogs and users into a local timesheet store",
		Long: `worksync pulls worklogs, users and projects from a Jira instance into a
local SQLite or MySQL store, keeps per-user leave balances, and reports on
planned versus logged hours.

Settings come from worksync.yaml, WORKSYNC_* environment variables and an
optional .env file.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) { a.close() },
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ./worksync.yaml or ~/.config/worksync/worksync.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(a),
		newSyncCmd(a),
		newRunsCmd(a),
		newLeaveCmd(a),
		newReportCmd(a),
		newAccountCmd(a),
		newPlanCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	loader, err := config.NewLoader(a.configPath)
	if err != nil {
		return err
	}
	cfg, err := loader.Config()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.loader, a.cfg = loader, cfg

	if err := applyLogging(cfg.Log, a.logLevel); err != nil {
		return err
	}

	return telemetry.Init(cmd.Context(), telemetry.Options{
		Enabled: cfg.Telemetry.Enabled,
		Stdout:  cfg.Telemetry.Stdout,
		Version: version,
	})
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to close database: %v\n", err)
		}
		a.db = nil
	}
	telemetry.Shutdown(context.Background())
	logger.Close()
}

// applyLogging sets the level (override wins over the config) and the
// rotating log file.
func applyLogging(cfg config.LogConfig, override string) error {
	name := cfg.Level
	if override != "" {
		name = override
	}
	level, err := logger.ParseLevel(name)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	if cfg.File == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	opts := logger.DefaultRotateOptions()
	if cfg.MaxSizeMB > 0 {
		opts.MaxSizeMB = cfg.MaxSizeMB
	}
	if cfg.MaxBackups > 0 {
		opts.MaxBackups = cfg.MaxBackups
	}
	if cfg.MaxAgeDays > 0 {
		opts.MaxAgeDays = cfg.MaxAgeDays
	}
	return logger.SetLogFileWithRotation(cfg.File, opts)
}

// openStore opens the configured database on first call.
func (a *app) openStore() (*store.DB, error) {
	if a.db != nil {
		return a.db, nil
	}

	dsn := a.cfg.Database.DSN
	if a.cfg.Database.Driver == store.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := store.Open(a.cfg.Database.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.db = db
	return db, nil
}

// engine builds the sync engines against the configured Jira instance.
func (a *app) engine() (*sync.Engine, error) {
	if a.cfg.Jira.URL == "" {
		return nil, fmt.Errorf("jira.url is not configured")
	}

	db, err := a.openStore()
	if err != nil {
		return nil, err
	}

	metrics, err := telemetry.NewSyncMetrics(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}

	client := jira.New(a.cfg.Jira.URL, jira.Options{
		Username:        a.cfg.Jira.Username,
		Token:           a.cfg.Jira.Token,
		Timeout:         a.cfg.Jira.Timeout,
		RateLimit:       a.cfg.Jira.RateLimit,
		Burst:           a.cfg.Jira.Burst,
		MaxRetryElapsed: a.cfg.Jira.MaxRetryElapsed,
	})

	return sync.NewEngine(db, client, sync.Options{
		Group:       a.cfg.Jira.Group,
		PageSize:    a.cfg.Jira.PageSize,
		DefaultRole: a.cfg.Sync.DefaultRole,
		Metrics:     metrics,
	}), nil
}
