package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"licensehub/internal/backup"
	"licensehub/internal/catalog"
)

func backupRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, restore and manage database snapshots",
		Long: `Snapshots are JSON documents holding every entity of the license store.
They are kept in the configured backup directory.

Run these commands against a stopped server, or use the admin API while it runs.`,
	}
	cmd.AddCommand(backupCreateCmd(opts))
	cmd.AddCommand(backupListCmd(opts))
	cmd.AddCommand(backupRestoreCmd(opts))
	cmd.AddCommand(backupDeleteCmd(opts))
	cmd.AddCommand(backupExportCmd(opts))
	cmd.AddCommand(backupImportCmd(opts))
	return cmd
}

// cliActor is the audit identity of local commands.
func cliActor() backup.Actor {
	name := os.Getenv("USER")
	if name == "" {
		name = "unknown"
	}
	return backup.Actor{ID: "cli:" + name, Address: "local"}
}

func withApp(opts *rootOptions, fn func(*app) error) error {
	a, err := opts.openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func backupCreateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Capture a snapshot of the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				name, err := a.backups.Create(cmd.Context(), cliActor())
				if err != nil {
					return fmt.Errorf("backup failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Backup created: %s\n", filepath.Join(a.cfg.Backup.Dir, name))
				return nil
			})
		},
	}
}

func backupListCmd(opts *rootOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				files, err := a.backups.List()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonOutput {
					return json.NewEncoder(out).Encode(files)
				}
				if len(files) == 0 {
					fmt.Fprintln(out, "No backups found.")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "FILENAME\tSIZE\tCREATED")
				for _, f := range files {
					fmt.Fprintf(w, "%s\t%s\t%s\n", f.Filename, formatSize(f.SizeBytes), f.CreatedAt.Local().Format(time.DateTime))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func backupRestoreCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <filename>",
		Short: "Replace the entire database with a snapshot",
		Long: `Restore wipes every entity and repopulates it from the snapshot in a single
transaction. If anything fails the database is left unchanged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("restore replaces all data; re-run with --force to confirm")
			}
			return withApp(opts, func(a *app) error {
				result, err := a.backups.Restore(cmd.Context(), args[0], cliActor())
				if err != nil {
					return fmt.Errorf("restore failed: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Restored %s in %v\n", args[0], result.Duration.Round(time.Millisecond))
				for _, name := range catalog.Default.RestoreCreateOrder() {
					if n, ok := result.Created[name]; ok {
						fmt.Fprintf(out, "  %-16s %d\n", name, n)
					}
				}
				for _, w := range result.Warnings {
					fmt.Fprintf(out, "WARNING: %s\n", w)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm the destructive restore")
	return cmd
}

func backupDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <filename>",
		Short: "Delete a stored snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				if err := a.backups.Delete(cmd.Context(), args[0], cliActor()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func backupExportCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <filename>",
		Short: "Copy a stored snapshot to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				rc, _, err := a.backups.Download(args[0])
				if err != nil {
					return err
				}
				defer rc.Close()

				if output == "" || output == "-" {
					_, err = io.Copy(cmd.OutOrStdout(), rc)
					return err
				}
				f, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
				if err != nil {
					return err
				}
				if _, err := io.Copy(f, rc); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file (default stdout)")
	return cmd
}

func backupImportCmd(opts *rootOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Copy an external snapshot into the backup directory",
		Long:  `Import stores the file as is. It is only parsed when restored.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			if name == "" {
				name = filepath.Base(args[0])
			}
			return withApp(opts, func(a *app) error {
				stored, err := a.backups.Upload(cmd.Context(), f, name, cliActor())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported as %s\n", stored)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "stored file name (default the source base name)")
	return cmd
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
