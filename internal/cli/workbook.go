package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/store"
)

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	var workbookID string

	cmd := &cobra.Command{
		Use:   "register <path>",
		Short: "Compile workbooks and store their schemas",
		Long: `Compile the CUE workbooks under path and store them.

Registering a workbook again replaces its schema; records of tables that
still exist are kept.

Example:
  scratchpad register ./workbooks --db ./scratchpad.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := loadWorkbooks(args[0], workbookID)
			if err != nil {
				return err
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				registered := make([]string, 0, len(specs))
				for _, spec := range specs {
					a.bindConnectors(spec)
					if err := a.engine.RegisterWorkbook(ctx, spec); err != nil {
						return err
					}
					registered = append(registered, spec.ID)
				}
				return f.Render(map[string]any{"registered": registered}, func(w io.Writer) {
					for _, spec := range specs {
						fmt.Fprintf(w, "✓ registered %s (%d tables)\n", spec.ID, len(spec.Tables))
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&workbookID, "workbook", "", "only register this workbook")
	return cmd
}

// NewWorkbooksCommand creates the workbooks command.
func NewWorkbooksCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "workbooks",
		Short: "List registered workbooks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app, f *OutputFormatter) error {
				infos, err := a.store.ListWorkbooks(ctx)
				if err != nil {
					return err
				}
				if infos == nil {
					infos = []store.WorkbookInfo{}
				}
				return f.Render(infos, func(w io.Writer) {
					if len(infos) == 0 {
						fmt.Fprintln(w, "No workbooks registered.")
						return
					}
					for _, info := range infos {
						fmt.Fprintf(w, "%s\t%s\t%d tables\t%s\n", info.ID, info.Name, info.Tables, info.SpecHash)
					}
				})
			})
		},
	}
}

// workbookSpec fetches a registered workbook.
func (a *app) workbookSpec(ctx context.Context, id string) (ir.WorkbookSpec, error) {
	return a.store.GetWorkbook(ctx, id)
}
