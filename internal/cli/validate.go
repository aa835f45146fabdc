package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spnflow/spnflow/internal/compiler"
)

// ValidationResult holds validation results for output.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow.yaml>",
		Short: "Validate a workflow definition without running it",
		Long: `Validate a workflow definition against the schema and structural rules.

Checks field types and enum values first, then graph-level rules: edge
references, per-kind edge counts, join arrival counts, fork branch limits.
All structural violations are reported together.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		_ = formatter.Error("E100", err.Error(), nil)
		return WrapExitError(ExitCommandError, "read workflow definition", err)
	}
	formatter.VerboseLog("Validating %s (%d bytes)", path, len(data))

	verrs, err := compiler.Check(data)
	if err != nil {
		// Schema-level failure: the definition does not parse or does not
		// satisfy the embedded schema.
		_ = formatter.Error("E103", err.Error(), nil)
		return WrapExitError(ExitFailure, "schema validation failed", err)
	}

	if len(verrs) > 0 {
		return outputValidationErrors(formatter, verrs)
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true})
	}
	fmt.Fprintln(formatter.Writer, "✓ Workflow definition valid")
	return nil
}

func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		enc := json.NewEncoder(formatter.Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error:  &CLIError{Code: errs[0].Code, Message: errs[0].Message},
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, verr := range errs {
		fmt.Fprintf(formatter.Writer, "  %s\n", verr.Error())
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
