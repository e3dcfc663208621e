package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"licensehub/internal/audit"
	"licensehub/internal/auth"
	"licensehub/internal/backup"
	"licensehub/internal/config"
	"licensehub/internal/datadir"
	"licensehub/internal/database"
	"licensehub/internal/license"
	"licensehub/internal/logging"
	"licensehub/internal/metrics"
	"licensehub/internal/version"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "licensehub",
		Short: "License management back office",
		Long: `licensehub serves the admin API for issuing and managing software licenses,
and takes and restores full JSON snapshots of its database.`,
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.verbose {
				return logging.SetLogLevel("debug")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path (default {data_dir}/config/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(serveCmd(opts))
	cmd.AddCommand(migrateCmd(opts))
	cmd.AddCommand(backupRootCmd(opts))
	cmd.AddCommand(auth.TokenRootCmd(&auth.CLIConfig{
		OpenDB: func() (*sql.DB, error) {
			cfg, err := opts.load()
			if err != nil {
				return nil, err
			}
			return database.Open(cfg.Database.Path)
		},
	}))
	cmd.AddCommand(versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "licensehub %s\n", version.Info())
			if info.Commit != "unknown" {
				fmt.Fprintf(out, "Git commit: %s\n", info.Commit)
			}
			if info.BuildDate != "unknown" {
				fmt.Fprintf(out, "Build date: %s\n", info.BuildDate)
			}
			fmt.Fprintf(out, "Go version: %s\n", info.GoVersion)
			return nil
		},
	}
}

// load resolves the config path and reads it. A missing file is created
// with defaults. Unless --verbose is set the configured log level applies.
func (o *rootOptions) load() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		dd, err := datadir.New("")
		if err != nil {
			return nil, fmt.Errorf("resolve data directory: %w", err)
		}
		path = dd.ConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !o.verbose {
		if err := logging.SetLogLevel(cfg.LogLevel); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// app is the set of services built from a loaded config.
type app struct {
	cfg      *config.Config
	db       *sql.DB
	metrics  *metrics.Metrics
	audit    *audit.Log
	backups  *backup.Service
	licenses *license.Manager
}

func (o *rootOptions) openApp() (*app, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	m, err := metrics.New()
	if err != nil {
		db.Close()
		return nil, err
	}

	files, err := backup.NewFileStore(cfg.Backup.Dir)
	if err != nil {
		db.Close()
		return nil, err
	}

	auditLog := audit.New(db)
	backups, err := backup.NewService(backup.ServiceConfig{
		Store:   database.NewSnapshotStore(db),
		Files:   files,
		Audit:   auditLog,
		Metrics: m,
		Logger:  logging.New("backup"),
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	licenses := license.NewManager(db, license.Config{
		KeyPrefix: cfg.License.KeyPrefix,
		Audit:     auditLog,
		Metrics:   m,
		Logger:    logging.New("license"),
	})

	return &app{
		cfg:      cfg,
		db:       db,
		metrics:  m,
		audit:    auditLog,
		backups:  backups,
		licenses: licenses,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
