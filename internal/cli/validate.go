package cli

import (
	"errors"
	"fmt"
	"io"

	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/roach88/scratchpad/internal/compiler"
	"github.com/roach88/scratchpad/internal/ir"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                       `json:"valid"`
	Workbooks []string                   `json:"workbooks,omitempty"`
	Errors    []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate CUE workbook definitions",
		Long: `Validate CUE workbook definitions without touching the store.

Compiles every workbook under path (a directory or a single .cue file) and
reports every schema problem found, not only the first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loadResult, loadErrors := compiler.LoadWorkbooks(path, compiler.LoadModeCollectAll)

	// Handle load errors (path not found, no files, CUE syntax, etc.)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *compiler.LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message)
		}
		return outputValidateError(formatter, compiler.ErrCodeGeneric, loadErrors[0].Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, path)

	var validationErrors []compiler.ValidationError
	for _, err := range loadErrors {
		var loadErr *compiler.LoadError
		if errors.As(err, &loadErr) {
			validationErrors = append(validationErrors, compiler.ValidationError{
				Field:   "load",
				Message: loadErr.Message,
				Code:    loadErr.Code,
				Line:    lineOf(loadErr.Pos),
			})
			continue
		}
		validationErrors = append(validationErrors, compiler.ValidationError{
			Field: "load", Message: err.Error(), Code: compiler.ErrCodeGeneric,
		})
	}

	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, validationErrors)
	}

	ids := make([]string, len(loadResult.Workbooks))
	for i, wb := range loadResult.Workbooks {
		ids[i] = wb.ID
		formatter.VerboseLog("Validated workbook: %s (%d tables)", wb.ID, len(wb.Tables))
	}
	return formatter.Render(ValidationResult{Valid: true, Workbooks: ids}, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %d workbook(s) valid\n", len(ids))
	})
}

// lineOf extracts the line number from a CUE position.
func lineOf(pos token.Pos) int {
	if pos.IsValid() {
		return pos.Line()
	}
	return 0
}

// outputValidateError outputs a single load error.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// Unreadable input is a command-level error (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		if err := formatter.encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error:  &CLIError{Code: errs[0].Code, Message: errs[0].Message},
		}); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		fmt.Fprintln(w, "✗ Validation failed")
		fmt.Fprintln(w)
		for _, err := range errs {
			if err.Line > 0 {
				fmt.Fprintf(w, "line %d\n", err.Line)
			}
			fmt.Fprintf(w, "  %s: %s\n\n", err.Code, err.Message)
		}
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	var workbookID string

	cmd := &cobra.Command{
		Use:   "schema <path>",
		Short: "Print compiled workbook schemas",
		Long: `Compile CUE workbook definitions and print them as canonical JSON.

The output is the schema stored by register and hashed into each backup.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			specs, err := loadWorkbooks(args[0], workbookID)
			if err != nil {
				return err
			}

			hashes := make(map[string]string, len(specs))
			for _, spec := range specs {
				if hashes[spec.ID], err = ir.WorkbookSpecHash(spec); err != nil {
					return WrapExitError(ExitFailure, "failed to hash workbook", err)
				}
			}
			return formatter.Render(map[string]any{"workbooks": specs, "hashes": hashes}, func(w io.Writer) {
				for _, spec := range specs {
					data, err := spec.MarshalCanonical()
					if err != nil {
						fmt.Fprintf(w, "%s: %v\n", spec.ID, err)
						continue
					}
					fmt.Fprintf(w, "# %s %s\n%s\n", spec.ID, hashes[spec.ID], data)
				}
			})
		},
	}

	cmd.Flags().StringVar(&workbookID, "workbook", "", "only print this workbook")
	return cmd
}

// loadWorkbooks compiles the workbooks under path, failing fast. With a
// non-empty id only that workbook is returned.
func loadWorkbooks(path, id string) ([]ir.WorkbookSpec, error) {
	loadResult, loadErrors := compiler.LoadWorkbooks(path, compiler.LoadModeFailFast)
	if len(loadErrors) > 0 {
		code := ExitFailure
		if loadResult == nil {
			code = ExitCommandError
		}
		return nil, WrapExitError(code, "failed to load workbooks", loadErrors[0])
	}
	if id == "" {
		return loadResult.Workbooks, nil
	}
	spec, ok := loadResult.Workbook(id)
	if !ok {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("workbook %q not defined in %s", id, path))
	}
	return []ir.WorkbookSpec{spec}, nil
}
