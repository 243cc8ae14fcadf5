package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/scratchpad/internal/engine"
	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/snapshot"
)

// parseCellRef parses "wsId:column".
func parseCellRef(s string) (engine.CellRef, error) {
	wsID, column, ok := strings.Cut(s, ":")
	if !ok || wsID == "" || column == "" {
		return engine.CellRef{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid cell %q: want <wsId>:<column>", s))
	}
	return engine.CellRef{WsID: wsID, ColumnID: column}, nil
}

func parseCellRefs(args []string) ([]engine.CellRef, error) {
	refs := make([]engine.CellRef, 0, len(args))
	for _, arg := range args {
		ref, err := parseCellRef(arg)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// parseValue reads a cell value given on the command line. JSON literals
// (numbers, booleans, null, quoted strings, arrays, objects) are decoded;
// anything else is taken as a plain string.
func parseValue(s string) any {
	if !json.Valid([]byte(s)) {
		return s
	}
	if v, err := ir.DecodeValue([]byte(s)); err == nil {
		return v
	}
	return s
}

// renderRecords prints the records touched by an edit.
func renderRecords(f *OutputFormatter, verb string, records []snapshot.Record) error {
	rows := make([]map[string]any, len(records))
	for i, r := range records {
		rows[i] = r.ToRow()
		rows[i]["ws_id"] = r.WsID
	}
	return f.Render(rows, func(w io.Writer) {
		for _, r := range records {
			fmt.Fprintf(w, "✓ %s %s", verb, r.WsID)
			if cols := r.EditedColumns(); len(cols) > 0 {
				fmt.Fprintf(w, " (edited: %s)", strings.Join(cols, ", "))
			}
			fmt.Fprintln(w)
		}
	})
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <workbook> <wsId>:<column> <value>",
		Short: "Edit a cell directly",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseCellRef(args[1])
			if err != nil {
				return err
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				r, err := a.engine.SetFieldValue(ctx, args[0], ref, parseValue(args[2]))
				if err != nil {
					return err
				}
				return renderRecords(f, "set", []snapshot.Record{r})
			})
		},
	}
}

// NewSuggestCommand creates the suggest command.
func NewSuggestCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "suggest <workbook> <wsId>:<column> <value> [<wsId>:<column> <value>...]",
		Short: "Propose cell values for review",
		Long: `Store suggested values without changing the cells.

Suggestions are reviewed with diff and applied with accept or dropped with
reject. All suggestions of one call apply together or not at all.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 3 || len(args)%2 != 1 {
				return NewExitError(ExitCommandError, "want <workbook> followed by <wsId>:<column> <value> pairs")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			items := make([]engine.Suggestion, 0, len(args)/2)
			for i := 1; i < len(args); i += 2 {
				ref, err := parseCellRef(args[i])
				if err != nil {
					return err
				}
				items = append(items, engine.Suggestion{WsID: ref.WsID, ColumnID: ref.ColumnID, Value: parseValue(args[i+1])})
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				records, err := a.engine.SuggestValues(ctx, args[0], items)
				if err != nil {
					return err
				}
				return renderRecords(f, "suggested", records)
			})
		},
	}
}

// NewAcceptCommand creates the accept command.
func NewAcceptCommand(rootOpts *RootOptions) *cobra.Command {
	return cellBatchCommand(rootOpts, "accept", "Accept pending suggestions",
		`Promote the pending suggestion of each cell to an edit.

Every cell must have a suggestion; otherwise nothing is applied.`,
		func(ctx context.Context, e *engine.Engine, wb string, refs []engine.CellRef) ([]snapshot.Record, error) {
			return e.AcceptCellValues(ctx, wb, refs)
		})
}

// NewRejectCommand creates the reject command.
func NewRejectCommand(rootOpts *RootOptions) *cobra.Command {
	return cellBatchCommand(rootOpts, "reject", "Drop pending suggestions",
		`Drop the pending suggestion of each cell. Edits are kept.

Every cell must have a suggestion; otherwise nothing is applied.`,
		func(ctx context.Context, e *engine.Engine, wb string, refs []engine.CellRef) ([]snapshot.Record, error) {
			return e.RejectCellValues(ctx, wb, refs)
		})
}

func cellBatchCommand(rootOpts *RootOptions, name, short, long string,
	run func(ctx context.Context, e *engine.Engine, wb string, refs []engine.CellRef) ([]snapshot.Record, error),
) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <workbook> <wsId>:<column>...",
		Short: short,
		Long:  long,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			refs, err := parseCellRefs(args[1:])
			if err != nil {
				return err
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				records, err := run(ctx, a.engine, args[0], refs)
				if err != nil {
					return err
				}
				return renderRecords(f, name+"ed", records)
			})
		},
	}
}

// NewInjectCommand creates the inject command.
func NewInjectCommand(rootOpts *RootOptions) *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "inject <workbook> <wsId>:<column> <text>",
		Short: "Insert text at a placeholder in a text cell",
		Long: `Insert text at the first occurrence of the target placeholder in a text
cell. The cell must already contain the placeholder unless
edit.inject_fallback_append is enabled, in which case the text is appended.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseCellRef(args[1])
			if err != nil {
				return err
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				r, err := a.engine.InjectFieldValue(ctx, args[0], ref, args[2], target)
				if err != nil {
					return err
				}
				return renderRecords(f, "injected", []snapshot.Record{r})
			})
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "placeholder to replace (default "+snapshot.DefaultInjectTarget+")")
	return cmd
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "append <workbook> <wsId>:<column> <text>",
		Short: "Append text to a text cell",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseCellRef(args[1])
			if err != nil {
				return err
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				r, err := a.engine.AppendFieldValue(ctx, args[0], ref, args[2])
				if err != nil {
					return err
				}
				return renderRecords(f, "appended", []snapshot.Record{r})
			})
		},
	}
}

// NewResolveConflictCommand creates the resolve-conflict command.
func NewResolveConflictCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve-conflict <workbook> <wsId>:<column>",
		Short: "Acknowledge a sync conflict, keeping the local edit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseCellRef(args[1])
			if err != nil {
				return err
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				r, err := a.engine.ResolveConflict(ctx, args[0], ref)
				if err != nil {
					return err
				}
				return renderRecords(f, "resolved", []snapshot.Record{r})
			})
		},
	}
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <workbook> <wsId>:<column>",
		Short: "Show the word diff of a pending suggestion",
		Long: `Show the word-level diff between a cell's value and its pending
suggestion. Removed words are shown as [-...-], added words as {+...+}.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseCellRef(args[1])
			if err != nil {
				return err
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				d, err := a.engine.DiffCell(ctx, args[0], ref)
				if err != nil {
					return err
				}
				return f.Render(d, func(w io.Writer) {
					var b strings.Builder
					for _, s := range d.Segments {
						switch {
						case s.Removed:
							b.WriteString("[-" + s.Value + "-]")
						case s.Added:
							b.WriteString("{+" + s.Value + "+}")
						default:
							b.WriteString(s.Value)
						}
					}
					fmt.Fprintf(w, "%s (%s)\n%s\n", ref.ColumnID, d.State.Provenance, b.String())
				})
			})
		},
	}
}
