package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/canvas-contracts/canvas/internal/graph"
)

// SchemaInfo is one node kind in schema listings.
type SchemaInfo struct {
	Kind        string            `json:"kind"`
	Inputs      []graph.PortSpec  `json:"inputs,omitempty"`
	Outputs     []graph.PortSpec  `json:"outputs,omitempty"`
	GasClass    graph.GasClass    `json:"gas_class"`
	EntryPoint  bool              `json:"entry_point,omitempty"`
	LoopCapable bool              `json:"loop_capable,omitempty"`
}

// SchemaListing is the schema command's output payload.
type SchemaListing struct {
	Kinds []SchemaInfo `json:"kinds"`
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [pack-dir]",
		Short: "List node kinds, optionally extended with a CUE schema pack",
		Long: `List the node kinds available to graph documents.

Without arguments, lists the builtin kinds. With a pack directory, loads
the CUE schema pack, verifies it, and lists builtin plus pack kinds.

Example:
  canvas schema
  canvas schema ./packs/math --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runSchema(rootOpts, dir, cmd)
		},
	}
	return cmd
}

func runSchema(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	reg, err := registryWithPack(dir)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return NewExitError(ExitCommandError, loadErr.Message)
		}
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "loading schema pack", err)
	}

	listing := SchemaListing{}
	for _, kind := range reg.Kinds() {
		s := reg.Lookup(kind)
		listing.Kinds = append(listing.Kinds, SchemaInfo{
			Kind:        s.Kind,
			Inputs:      s.Inputs,
			Outputs:     s.Outputs,
			GasClass:    s.GasClass,
			EntryPoint:  s.EntryPoint,
			LoopCapable: s.LoopCapable,
		})
	}

	if formatter.Format == "json" {
		return formatter.Success(listing)
	}

	for _, info := range listing.Kinds {
		var flags []string
		if info.EntryPoint {
			flags = append(flags, "entry")
		}
		if info.LoopCapable {
			flags = append(flags, "loop")
		}
		suffix := ""
		if len(flags) > 0 {
			suffix = " [" + strings.Join(flags, ",") + "]"
		}
		fmt.Fprintf(formatter.Writer, "%-14s gas=%s in=%s out=%s%s\n",
			info.Kind, info.GasClass, portNames(info.Inputs), portNames(info.Outputs), suffix)
	}
	return nil
}

func portNames(ports []graph.PortSpec) string {
	if len(ports) == 0 {
		return "-"
	}
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.Name + ":" + string(p.Kind)
	}
	return strings.Join(names, ",")
}
