package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/scratchpad/internal/engine"
	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/reconcile"
	"github.com/roach88/scratchpad/internal/snapshot"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var tables []string

	cmd := &cobra.Command{
		Use:   "sync <workbook>",
		Short: "Pull remote records into the local snapshot",
		Long: `Pull every selected table from its connector and reconcile it against
the local snapshot.

Local edits survive remote changes; a remote change to an edited cell is
recorded as a conflict. Tables are processed independently: the command
reports "N of M tables synced" and exits 1 if any table failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				report, err := a.engine.Sync(ctx, args[0], tables)
				return jobOutcome(f, report, report.Summary(), err, func(w io.Writer) {
					for _, st := range report.Tables {
						printStatus(w, st)
					}
				})
			})
		},
	}

	cmd.Flags().StringSliceVar(&tables, "table", nil, "only sync these tables (repeatable)")
	return cmd
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	var tables []string

	cmd := &cobra.Command{
		Use:   "publish <workbook>",
		Short: "Push pending changes to the remote tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				report, err := a.engine.Publish(ctx, args[0], tables)
				return jobOutcome(f, report, report.Summary(), err, func(w io.Writer) {
					for _, t := range report.Tables {
						switch {
						case t.Error != "":
							fmt.Fprintf(w, "  ✗ %s: %s\n", t.TableID, t.Error)
						default:
							fmt.Fprintf(w, "  ✓ %s: %d of %d ops\n", t.TableID, t.Succeeded, t.Ops)
						}
						for _, fail := range t.Failures {
							fmt.Fprintf(w, "    %s %s: %s\n", fail.Kind, fail.WsID, fail.Reason)
						}
					}
				})
			})
		},
	}

	cmd.Flags().StringSliceVar(&tables, "table", nil, "only publish these tables (repeatable)")
	return cmd
}

// jobOutcome renders a job report. A JobError still prints the report of
// the tables that succeeded before failing the command.
func jobOutcome(f *OutputFormatter, report any, summary string, err error, details func(w io.Writer)) error {
	var jobErr *engine.JobError
	if err != nil && !errors.As(err, &jobErr) {
		return err
	}
	if rerr := f.Render(report, func(w io.Writer) {
		fmt.Fprintln(w, summary)
		details(w)
	}); rerr != nil {
		return rerr
	}
	if jobErr != nil {
		return WrapExitError(ExitFailure, summary, jobErr)
	}
	return nil
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <workbook>",
		Short: "Show the last sync status of each table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				statuses, err := a.engine.TableStatuses(ctx, args[0])
				if err != nil {
					return err
				}
				if statuses == nil {
					statuses = []reconcile.TableStatus{}
				}
				return f.Render(statuses, func(w io.Writer) {
					if len(statuses) == 0 {
						fmt.Fprintln(w, "No sync has run yet.")
					}
					for _, st := range statuses {
						printStatus(w, st)
					}
				})
			})
		},
	}
}

func printStatus(w io.Writer, st reconcile.TableStatus) {
	fmt.Fprintf(w, "  %-12s %-11s +%d ~%d -%d", st.TableID, st.State, st.Counts.Creates, st.Counts.Updates, st.Counts.Deletes)
	if st.Counts.Conflicts > 0 {
		fmt.Fprintf(w, " !%d", st.Counts.Conflicts)
	}
	if st.Error != "" {
		fmt.Fprintf(w, " (%s)", st.Error)
	}
	fmt.Fprintln(w)
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	var tables []string

	cmd := &cobra.Command{
		Use:   "summary <workbook>",
		Short: "Show what publish would push",
		Long: `Show the publish summary: per table, the records that would be created,
updated (with from/to values per field) and deleted.

The summary is computed from the snapshot and never stored. Its fingerprint
changes whenever the pending changes do.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				summary, err := a.engine.GetPublishSummary(ctx, args[0], tables)
				if err != nil {
					return err
				}
				return f.Render(summary, func(w io.Writer) {
					fmt.Fprintf(w, "%d creates, %d updates, %d deletes (%s)\n",
						summary.Totals.Creates, summary.Totals.Updates, summary.Totals.Deletes, summary.Fingerprint)
					for _, t := range summary.Tables {
						if t.IsEmpty() {
							continue
						}
						fmt.Fprintf(w, "%s:\n", t.TableName)
						for _, r := range t.Creates.Records {
							fmt.Fprintf(w, "  + %s %s\n", r.WsID, r.Title)
						}
						for _, r := range t.Updates.Records {
							fmt.Fprintf(w, "  ~ %s %s\n", r.WsID, r.Title)
							for _, c := range r.Changes {
								fmt.Fprintf(w, "      %s: %s -> %s\n", c.Column, ir.DisplayString(c.From), ir.DisplayString(c.To))
							}
						}
						for _, r := range t.Deletes.Records {
							fmt.Fprintf(w, "  - %s %s\n", r.WsID, r.Title)
						}
					}
				})
			})
		},
	}

	cmd.Flags().StringSliceVar(&tables, "table", nil, "only summarize these tables (repeatable)")
	return cmd
}

// NewRecordsCommand creates the records command.
func NewRecordsCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "records <workbook> <table>",
		Short: "List the snapshot rows of a table",
		Long: `List the snapshot rows of a table with their reserved columns.

Tombstoned rows are hidden unless --all is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				spec, err := a.workbookSpec(ctx, args[0])
				if err != nil {
					return err
				}
				table, ok := spec.Table(args[1])
				if !ok {
					return snapshot.NewNotFoundError("", "", fmt.Sprintf("table %s not in workbook %s", args[1], args[0]))
				}
				records, err := a.store.LoadRecords(ctx, spec.ID, table.ID)
				if err != nil {
					return err
				}

				rows := make([]map[string]any, 0, len(records))
				shown := records[:0:0]
				for _, r := range records {
					if r.Deleted && !all {
						continue
					}
					row := r.ToRow()
					row["ws_id"] = r.WsID
					rows = append(rows, row)
					shown = append(shown, r)
				}
				return f.Render(rows, func(w io.Writer) {
					cols := table.ColumnOrder()
					fmt.Fprintf(w, "ws_id\tremote_id\t%s\n", strings.Join(cols, "\t"))
					for _, r := range shown {
						cells := make([]string, len(cols))
						for i, c := range cols {
							cells[i] = ir.DisplayString(r.Fields[c])
							if _, edited := r.EditedFields[c]; edited {
								cells[i] += "*"
							}
						}
						fmt.Fprintf(w, "%s\t%s\t%s\n", r.WsID, r.RemoteID, strings.Join(cells, "\t"))
					}
				})
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include tombstoned rows")
	return cmd
}
