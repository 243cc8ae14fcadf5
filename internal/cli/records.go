package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/reconcile"
	"github.com/roach88/scratchpad/internal/snapshot"
)

// NewBulkCommand creates the bulk command.
func NewBulkCommand(rootOpts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "bulk <workbook> <table> --file <batch.yaml>",
		Short: "Apply a batch of record creates, updates, deletes and undeletes",
		Long: `Apply a batch of record-level changes to one table. The batch file is
YAML or JSON:

  creates:
    - fields: { title: Draft }
  updates:
    - ws_id: ws_0192...
      fields: { title: Renamed }
  deletes: [ws_0193...]
  undeletes: []

Unknown wsIds fail the whole batch and nothing is written.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			update, err := readBulkFile(file)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read batch", err)
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				res, err := a.engine.BulkUpdateRecords(ctx, args[0], args[1], update)
				if err != nil {
					return err
				}
				out := map[string]any{"created": res.Created, "removed": res.Removed, "touched": res.Touched}
				return f.Render(out, func(w io.Writer) {
					fmt.Fprintf(w, "✓ %d created, %d removed, %d rows changed\n", len(res.Created), len(res.Removed), len(res.Touched))
					for _, id := range res.Created {
						fmt.Fprintf(w, "  + %s\n", id)
					}
				})
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "batch file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readBulkFile(path string) (snapshot.BulkUpdate, error) {
	var update snapshot.BulkUpdate
	data, err := os.ReadFile(path)
	if err != nil {
		return update, err
	}
	if err := yaml.Unmarshal(data, &update); err != nil {
		return update, fmt.Errorf("parse %s: %w", path, err)
	}
	for i := range update.Creates {
		if update.Creates[i].Fields, err = normalizeFields(update.Creates[i].Fields); err != nil {
			return update, fmt.Errorf("creates[%d]: %w", i, err)
		}
	}
	for i := range update.Updates {
		if update.Updates[i].Fields, err = normalizeFields(update.Updates[i].Fields); err != nil {
			return update, fmt.Errorf("updates[%d]: %w", i, err)
		}
	}
	return update, nil
}

// normalizeFields converts decoded YAML values into cell values.
func normalizeFields(fields ir.Fields) (ir.Fields, error) {
	if fields == nil {
		return nil, nil
	}
	v, err := ir.NormalizeValue(map[string]any(fields))
	if err != nil {
		return nil, err
	}
	return ir.Fields(v.(map[string]any)), nil
}

// NewResolveDeletesCommand creates the resolve-deletes command.
func NewResolveDeletesCommand(rootOpts *RootOptions) *cobra.Command {
	var action string

	cmd := &cobra.Command{
		Use:   "resolve-deletes <workbook> [wsId...]",
		Short: "Settle records that disappeared from the remote",
		Long: `Settle published records that the last sync no longer found remotely.

  --action create  re-create them remotely on the next publish
  --action delete  tombstone them locally

Without wsIds every current candidate of the workbook is resolved.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			act, err := reconcile.ParseDeleteAction(action)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --action", err)
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				records, err := a.engine.ResolveRemoteDeletes(ctx, args[0], args[1:], act)
				if err != nil {
					return err
				}
				return renderRecords(f, string(act), records)
			})
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "create or delete")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}
