package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/canvas-contracts/canvas/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool               `json:"valid"`
	Problems []compiler.Problem `json:"problems,omitempty"`
}

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Schemas string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <graph.json|yaml>",
		Short: "Validate a graph document without generating code",
		Long: `Validate a graph document: port resolution, type checking, flow
cycle detection, reachability, and entry point rules. Warnings do not
fail validation; errors do.

Example:
  canvas validate contract.json
  canvas validate contract.yaml --schemas ./packs/math --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateCmd(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Schemas, "schemas", "", "CUE schema pack directory")

	return cmd
}

func runValidateCmd(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	doc, err := LoadGraph(path)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return err
	}
	reg, err := registryWithPack(opts.Schemas)
	if err != nil {
		_ = formatter.Error(ErrCodeBadSchema, err.Error(), nil)
		return WrapExitError(ExitCommandError, "loading schema pack", err)
	}

	v := compiler.Validate(doc, reg)
	formatter.VerboseLog("validated %s: %d nodes, %d edges, %d problems",
		doc.Name, len(doc.Nodes), len(doc.Edges), len(v.Problems))

	return outputValidation(formatter, v)
}

func outputValidation(formatter *OutputFormatter, v *compiler.Validated) error {
	result := ValidationResult{Valid: v.OK(), Problems: v.Problems}

	if formatter.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		if v.OK() {
			fmt.Fprintln(formatter.Writer, "✓ document valid")
		} else {
			fmt.Fprintln(formatter.Writer, "✗ validation failed")
		}
		for _, p := range v.Problems {
			fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", p.Severity, p.Code, p.Message)
		}
	}

	if !v.OK() {
		return NewExitError(ExitFailure,
			fmt.Sprintf("validation failed with %d error(s)", len(v.Errors())))
	}
	return nil
}
