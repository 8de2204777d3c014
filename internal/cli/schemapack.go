package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/wasm"
)

// CLI-level error codes, distinct from the validator's E1xx/E2xx problem
// codes.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeBadSchema   = "E007" // Schema pack content invalid
)

// LoadError is an error raised while loading a schema pack.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// schemaDoc mirrors one schema entry in a pack.
type schemaDoc struct {
	Inputs      []portDoc `json:"inputs"`
	Outputs     []portDoc `json:"outputs"`
	GasClass    string    `json:"gas_class"`
	EntryPoint  bool      `json:"entry_point"`
	LoopCapable bool      `json:"loop_capable"`
}

type portDoc struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Required bool   `json:"required"`
}

// LoadSchemaPack loads node kind schemas from the CUE files in a
// directory. Packs declare kinds under a top-level `schema` struct:
//
//	schema: Clamp: {
//	    inputs: [
//	        {name: "value", kind: "number", required: true},
//	        {name: "max", kind: "number", required: true},
//	    ]
//	    outputs: [{name: "result", kind: "number"}]
//	    gas_class: "compare"
//	}
//
// Every gas class must name a bucket in the default gas table, so a pack
// can never introduce an unmetered kind.
func LoadSchemaPack(dir string) ([]*graph.Schema, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schema directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	cueFiles, err := findCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	schemasVal := value.LookupPath(cue.ParsePath("schema"))
	if !schemasVal.Exists() {
		return nil, &LoadError{Code: ErrCodeBadSchema, Message: "pack declares no top-level schema struct"}
	}
	iter, err := schemasVal.Fields()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBadSchema, Message: fmt.Sprintf("iterating schemas: %v", err)}
	}

	gas := wasm.DefaultGasTable()
	var schemas []*graph.Schema
	for iter.Next() {
		kind := iter.Label()
		var doc schemaDoc
		if err := iter.Value().Decode(&doc); err != nil {
			return nil, &LoadError{Code: ErrCodeBadSchema, Message: fmt.Sprintf("schema %s: %v", kind, err)}
		}
		schema, err := schemaFromDoc(kind, doc, gas)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeBadSchema, Message: err.Error()}
		}
		schemas = append(schemas, schema)
	}
	if len(schemas) == 0 {
		return nil, &LoadError{Code: ErrCodeBadSchema, Message: "pack declares an empty schema struct"}
	}
	return schemas, nil
}

func schemaFromDoc(kind string, doc schemaDoc, gas wasm.GasTable) (*graph.Schema, error) {
	class := graph.GasClass(doc.GasClass)
	if _, ok := gas[class]; !ok {
		return nil, fmt.Errorf("schema %s: unknown gas class %q", kind, doc.GasClass)
	}
	inputs, err := portsFromDocs(kind, doc.Inputs)
	if err != nil {
		return nil, err
	}
	outputs, err := portsFromDocs(kind, doc.Outputs)
	if err != nil {
		return nil, err
	}
	return &graph.Schema{
		Kind:        kind,
		Inputs:      inputs,
		Outputs:     outputs,
		EntryPoint:  doc.EntryPoint,
		LoopCapable: doc.LoopCapable,
		GasClass:    class,
	}, nil
}

func portsFromDocs(kind string, docs []portDoc) ([]graph.PortSpec, error) {
	out := make([]graph.PortSpec, 0, len(docs))
	for _, d := range docs {
		if d.Name == "" {
			return nil, fmt.Errorf("schema %s: port missing name", kind)
		}
		pk, err := valueKind(d.Kind)
		if err != nil {
			return nil, fmt.Errorf("schema %s port %s: %w", kind, d.Name, err)
		}
		out = append(out, graph.PortSpec{Name: d.Name, Kind: pk, Required: d.Required})
	}
	return out, nil
}

func valueKind(s string) (graph.ValueKind, error) {
	switch s {
	case "flow":
		return graph.KindFlow, nil
	case "number":
		return graph.KindNumber, nil
	case "boolean":
		return graph.KindBoolean, nil
	case "string":
		return graph.KindString, nil
	case "bytes":
		return graph.KindBytes, nil
	default:
		return "", fmt.Errorf("unknown value kind %q", s)
	}
}

// findCUEFiles walks the directory and returns all .cue file paths.
func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// registryWithPack extends the builtin registry with an optional pack dir.
func registryWithPack(dir string) (*graph.Registry, error) {
	reg := graph.Builtin()
	if dir == "" {
		return reg, nil
	}
	schemas, err := LoadSchemaPack(dir)
	if err != nil {
		return nil, err
	}
	return reg.Extend(schemas...)
}
