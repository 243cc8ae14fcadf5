package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/scratchpad/internal/gitbackup"
)

// NewBackupCommand creates the backup command.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "backup <workbook>",
		Short: "Commit a workbook snapshot to its git branch",
		Long: `Write the workbook schema and every record to the workbook's branch in
the configured backup bucket. Nothing is committed when the snapshot did
not change since the last backup.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				if actor == "" {
					actor = a.cfg.Backup.Actor
				}
				res, err := a.engine.BackupWorkbookToRepo(ctx, args[0], actor)
				if err != nil {
					return err
				}
				if rerr := f.Render(res, func(w io.Writer) {
					fmt.Fprintln(w, res.Message)
				}); rerr != nil {
					return rerr
				}
				if !res.Success {
					return NewExitError(ExitFailure, res.Message)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "name recorded in the commit message (default backup.actor)")
	return cmd
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <ours> <theirs>",
		Short: "Three-way merge two backup branches",
		Long: `Merge branch theirs into branch ours of the backup bucket.

A merge commit is written only when every file merges cleanly. Conflicting
files are listed with conflict markers and ours is left untouched; the
command then exits 1.

Example:
  scratchpad merge workbooks/content workbooks/content-draft`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				report, err := a.engine.Backuper().MergeBranches(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if rerr := f.Render(report, func(w io.Writer) {
					fmt.Fprintf(w, "%s: %s <- %s", report.Status, report.Ours, report.Theirs)
					if report.Commit != "" {
						fmt.Fprintf(w, " (%s)", report.Commit)
					}
					fmt.Fprintln(w)
					for _, c := range report.Conflicts {
						fmt.Fprintf(w, "  ✗ %s (%s)\n", c.Path, c.Kind)
						if f.Verbose && c.Rendered != "" {
							fmt.Fprintln(w, c.Rendered)
						}
					}
				}); rerr != nil {
					return rerr
				}
				if report.Status == gitbackup.MergeConflicted {
					return NewExitError(ExitFailure, fmt.Sprintf("%d file(s) in conflict", len(report.Conflicts)))
				}
				return nil
			})
		},
	}
}

// NewForkCommand creates the fork command.
func NewForkCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fork <from> <to>",
		Short: "Create a backup branch at the tip of another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				tip, err := a.engine.Backuper().Fork(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return f.Render(map[string]string{"branch": args[1], "commit": tip}, func(w io.Writer) {
					fmt.Fprintf(w, "✓ %s at %s\n", args[1], tip)
				})
			})
		},
	}
}

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Schedule  string
	Workbooks []string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled backups and expose metrics",
		Long: `Run workbook backups on a cron schedule until interrupted.

The schedule and workbooks default to backup.schedule and backup.workbooks.
With metrics.enabled, Prometheus metrics are served on metrics.addr at
/metrics.

Example:
  scratchpad serve --schedule "@hourly" --workbook content --workbook authors`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				return runServe(ctx, opts, a, cmd)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Schedule, "schedule", "", "cron expression (default backup.schedule)")
	cmd.Flags().StringSliceVar(&opts.Workbooks, "workbook", nil, "workbooks to back up (default backup.workbooks)")
	return cmd
}

func runServe(parentCtx context.Context, opts *ServeOptions, a *app, cmd *cobra.Command) error {
	schedule, workbooks := opts.Schedule, opts.Workbooks
	if schedule == "" {
		schedule = a.cfg.Backup.Schedule
	}
	if len(workbooks) == 0 {
		workbooks = a.cfg.Backup.Workbooks
	}
	if schedule == "" && !a.cfg.Metrics.Enabled {
		return NewExitError(ExitCommandError, "nothing to serve: set a backup schedule or enable metrics")
	}

	scheduler := gitbackup.NewScheduler(a.engine.Backuper(), a.cfg.Backup.Actor)
	if schedule != "" {
		if len(workbooks) == 0 {
			return NewExitError(ExitCommandError, "a backup schedule needs at least one workbook")
		}
		for _, wb := range workbooks {
			if err := scheduler.Add(schedule, wb); err != nil {
				return WrapExitError(ExitCommandError, "invalid schedule", err)
			}
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	var srv *http.Server
	serveErr := make(chan error, 1)
	if a.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			slog.Info("metrics listening", "addr", a.cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	scheduler.Start()
	slog.Info("serve started", "schedule", schedule, "workbooks", workbooks, "bucket", a.cfg.Backup.Bucket)
	fmt.Fprintln(cmd.OutOrStdout(), "Serving. Press Ctrl-C to stop.")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		slog.Warn("scheduled backups still running at shutdown", "error", err)
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown", "error", err)
		}
	}
	if runErr != nil {
		return WrapExitError(ExitFailure, "metrics server failed", runErr)
	}

	for _, e := range scheduler.Entries() {
		if e.LastError != "" {
			slog.Warn("last scheduled backup failed", "workbook", e.WorkbookID, "error", e.LastError)
		}
	}
	slog.Info("serve stopped gracefully")
	return nil
}
