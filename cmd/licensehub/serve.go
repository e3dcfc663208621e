package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"licensehub/internal/api"
	"licensehub/internal/auth"
	"licensehub/internal/backup"
	"licensehub/internal/database"
	"licensehub/internal/logging"
	"licensehub/internal/ratelimit"
	"licensehub/internal/scheduler"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the admin API and the job scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, port)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "override the configured listen port")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions, port int) error {
	logger := logging.New("serve")

	a, err := opts.openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	if port != 0 {
		cfg.Port = port
	}

	// The API and the scheduled backup share one lock so a capture never
	// overlaps a restore.
	lock := &backup.Lock{}

	sched := scheduler.New(scheduler.Config{
		Location: cfg.Location(),
		Metrics:  a.metrics,
		Logger:   logging.New("scheduler"),
	})
	jobs := []struct {
		job  scheduler.Job
		spec string
	}{
		{scheduler.NewBackupJob(a.backups, lock), cfg.Backup.Schedule},
		{scheduler.NewLicenseExpiryJob(a.licenses), cfg.License.ExpirySweep},
		{scheduler.NewDatabaseUpkeepJob(a.db), cfg.Database.UpkeepSchedule},
	}
	for _, j := range jobs {
		if err := sched.Register(j.job, j.spec); err != nil {
			return fmt.Errorf("register job %s: %w", j.job.Name(), err)
		}
	}
	if err := sched.Start(); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			logger.Warnf("scheduler stop: %v", err)
		}
	}()

	var failures *ratelimit.SlidingWindow
	if n := cfg.Server.AuthFailuresPerMinute; n > 0 {
		failures = ratelimit.NewSlidingWindow(time.Minute, n, 5*time.Minute)
		defer failures.Stop()
	}

	server, err := api.NewServer(api.Config{
		Backups:        a.backups,
		Licenses:       a.licenses,
		Tokens:         auth.NewTokenStorage(a.db),
		Audit:          a.audit,
		Scheduler:      sched,
		Lock:           lock,
		DB:             a.db,
		Metrics:        a.metrics,
		Logger:         logging.New("api"),
		MaxUploadBytes: int64(cfg.Backup.MaxUploadMB) << 20,
		AuthFailures:   failures,
	})
	if err != nil {
		return err
	}

	logger.Infof("licensehub listening on %s (data dir %s)", cfg.Addr(), cfg.DataDir)
	err = server.Run(ctx, cfg.Addr(), api.RunOptions{
		ReadTimeout:     cfg.Server.ReadTimeout(),
		WriteTimeout:    cfg.Server.WriteTimeout(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout(),
	})
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func migrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := database.CurrentVersion(a.db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database %s at schema version %d (%v)\n",
				a.cfg.Database.Path, v, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
