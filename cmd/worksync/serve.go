package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JohanCodinha/worksync/internal/config"
	"github.com/JohanCodinha/worksync/internal/leave"
	"github.com/JohanCodinha/worksync/internal/logger"
	"github.com/JohanCodinha/worksync/internal/report"
	"github.com/JohanCodinha/worksync/internal/scheduler"
	"github.com/JohanCodinha/worksync/internal/server"
	"github.com/JohanCodinha/worksync/internal/sync"
)

// Scheduled job names.
const (
	jobWorklogs = "worklogs"
	jobUsers    = "users"
	jobFull     = "full"
)

func newServeCmd(a *app) *cobra.Command {
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic sync jobs",
		Long: `Run the HTTP API and the periodic sync jobs until interrupted.

Edits to the config file are picked up for log.level without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret is not configured")
			}

			engine, err := a.engine()
			if err != nil {
				return err
			}
			db := a.db

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if a.logLevel == "" {
				a.loader.Watch(reloadLogLevel, func(err error) {
					logger.Warn("config: %v", err)
				})
			}

			var sched *scheduler.Scheduler
			if !noScheduler {
				sched, err = newScheduler(engine, a.cfg)
				if err != nil {
					return err
				}
				sched.Start(ctx)
			}

			srv := server.New(db, engine, leave.New(db), report.New(db), server.Options{
				Addr:       a.cfg.Server.Addr,
				JWTSecret:  a.cfg.Server.JWTSecret,
				JWTExpiry:  a.cfg.Server.JWTExpiry,
				WindowDays: a.cfg.Sync.WindowDays,
			})
			err = srv.ListenAndServe(ctx)

			cancel()
			if sched != nil {
				sched.Wait()
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve the API without periodic sync jobs")
	return cmd
}

func newScheduler(engine *sync.Engine, cfg *config.Config) (*scheduler.Scheduler, error) {
	window := cfg.Sync.WindowDays
	s := scheduler.New()

	jobs := []struct {
		name     string
		interval time.Duration
		fn       scheduler.JobFunc
	}{
		{jobWorklogs, cfg.Scheduler.WorklogsInterval, func(ctx context.Context) error {
			_, err := engine.Worklogs.Sync(ctx, window)
			return err
		}},
		{jobUsers, cfg.Scheduler.UsersInterval, func(ctx context.Context) error {
			_, err := engine.Users.Sync(ctx)
			return err
		}},
		{jobFull, cfg.Scheduler.FullInterval, func(ctx context.Context) error {
			_, err := engine.SyncAll(ctx, window)
			return err
		}},
	}
	for _, j := range jobs {
		if err := s.Add(j.name, j.interval, j.fn); err != nil {
			return nil, fmt.Errorf("failed to schedule %s: %w", j.name, err)
		}
	}
	return s, nil
}

func reloadLogLevel(cfg *config.Config) {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Warn("config: %v", err)
		return
	}
	if level != logger.GetLevel() {
		logger.SetLevel(level)
		logger.Info("config: log level set to %s", level)
	}
}
