package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/canvas-contracts/canvas/internal/compiler"
	"github.com/canvas-contracts/canvas/internal/ir"
	"github.com/canvas-contracts/canvas/internal/store"
	"github.com/canvas-contracts/canvas/internal/wasm"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Schemas  string
	Database string
	Output   string
}

// CompileResult is the compile command's output payload.
type CompileResult struct {
	Document     string   `json:"document"`
	GraphHash    string   `json:"graph_hash"`
	ArtifactHash string   `json:"artifact_hash"`
	SizeBytes    int      `json:"size_bytes"`
	Cached       bool     `json:"cached"`
	Functions    []string `json:"functions"`
	Events       []string `json:"events,omitempty"`
	Output       string   `json:"output,omitempty"`
}

func (r CompileResult) String() string {
	s := fmt.Sprintf("compiled %s\n  graph    %s\n  artifact %s\n  size     %d bytes",
		r.Document, r.GraphHash, r.ArtifactHash, r.SizeBytes)
	if r.Cached {
		s += "\n  cache    hit"
	}
	if r.Output != "" {
		s += fmt.Sprintf("\n  wrote    %s", r.Output)
	}
	return s
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <graph.json|yaml>",
		Short: "Compile a graph document to a WebAssembly module",
		Long: `Validate a graph document, lower it to IR, and generate a
deterministic WebAssembly module with its embedded interface descriptor
and source map.

With --db, compiled artifacts are cached by document hash: recompiling an
unchanged document is a cache hit and returns the stored bytes.

Example:
  canvas compile contract.json --output contract.wasm
  canvas compile contract.yaml --db ./canvas.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Schemas, "schemas", "", "CUE schema pack directory")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite artifact cache")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write module bytes to file")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	var st *store.Store
	if opts.Database != "" {
		var err error
		st, err = store.Open(opts.Database)
		if err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "opening database", err)
		}
		defer st.Close()
	}

	res, err := compilePipeline(cmd.Context(), formatter, path, opts.Schemas, st)
	if err != nil {
		return err
	}

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, res.art.Code, 0o644); err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "writing module", err)
		}
		res.result.Output = opts.Output
	}

	return formatter.Success(res.result)
}

// compiledGraph bundles the pipeline products for one document.
type compiledGraph struct {
	hash   string
	art    *wasm.Artifact
	result CompileResult
}

// compilePipeline loads and compiles a document, consulting the artifact
// cache when a store is provided. Validation failures are printed and
// returned as ExitFailure.
func compilePipeline(ctx context.Context, formatter *OutputFormatter, path, schemas string, st *store.Store) (*compiledGraph, error) {
	doc, err := LoadGraph(path)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return nil, err
	}
	reg, err := registryWithPack(schemas)
	if err != nil {
		_ = formatter.Error(ErrCodeBadSchema, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "loading schema pack", err)
	}

	graphHash, err := ir.DocumentHash(doc)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "hashing document", err)
	}

	if st != nil {
		art, found, err := st.GetArtifact(ctx, graphHash)
		if err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return nil, WrapExitError(ExitCommandError, "reading cache", err)
		}
		if found {
			formatter.VerboseLog("cache hit for %s", graphHash)
			return &compiledGraph{
				hash:   graphHash,
				art:    art,
				result: describeArtifact(doc.Name, graphHash, art, true),
			}, nil
		}
	}

	v := compiler.Validate(doc, reg)
	if !v.OK() {
		if err := outputValidation(formatter, v); err != nil {
			return nil, err
		}
		return nil, NewExitError(ExitFailure, "validation failed")
	}

	m, err := compiler.Lower(v)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return nil, WrapExitError(ExitFailure, "lowering", err)
	}
	gen, err := wasm.NewGenerator()
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "generator", err)
	}
	art, err := gen.Generate(m)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return nil, WrapExitError(ExitFailure, "generating module", err)
	}
	formatter.VerboseLog("generated %d bytes for %s", len(art.Code), graphHash)

	if st != nil {
		if err := st.PutArtifact(ctx, graphHash, art); err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return nil, WrapExitError(ExitCommandError, "caching artifact", err)
		}
	}

	return &compiledGraph{
		hash:   graphHash,
		art:    art,
		result: describeArtifact(doc.Name, graphHash, art, false),
	}, nil
}

func describeArtifact(name, graphHash string, art *wasm.Artifact, cached bool) CompileResult {
	res := CompileResult{
		Document:     name,
		GraphHash:    graphHash,
		ArtifactHash: art.Hash,
		SizeBytes:    len(art.Code),
		Cached:       cached,
	}
	for _, fn := range art.ABI.Functions {
		res.Functions = append(res.Functions, fn.Name)
	}
	for _, ev := range art.ABI.Events {
		res.Events = append(res.Events, ev.Name)
	}
	return res
}
