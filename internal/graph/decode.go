package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// documentDoc mirrors the editor's on-disk document shape. Canvas-only
// fields (position, size, visual metadata) are accepted and dropped here.
type documentDoc struct {
	ID    string    `json:"id" yaml:"id"`
	Name  string    `json:"name" yaml:"name"`
	Nodes []nodeDoc `json:"nodes" yaml:"nodes"`
	Edges []edgeDoc `json:"edges" yaml:"edges"`
}

type nodeDoc struct {
	ID         string         `json:"id" yaml:"id"`
	Kind       string         `json:"kind" yaml:"kind"`
	Properties map[string]any `json:"properties" yaml:"properties"`

	// Ignored editor metadata.
	Position map[string]any `json:"position" yaml:"position"`
	Size     map[string]any `json:"size" yaml:"size"`
}

type edgeDoc struct {
	SourceNode string `json:"source_node" yaml:"source_node"`
	SourcePort string `json:"source_port" yaml:"source_port"`
	TargetNode string `json:"target_node" yaml:"target_node"`
	TargetPort string `json:"target_port" yaml:"target_port"`
}

// DecodeDocument parses a graph document from JSON or YAML bytes.
// Node ids must be unique and non-empty; edges must name all four endpoints.
// Structural problems beyond that are the validator's job.
func DecodeDocument(data []byte, format string) (*Document, error) {
	var doc documentDoc
	switch format {
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parsing document: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing document: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported document format %q", format)
	}

	out := &Document{ID: doc.ID, Name: doc.Name}
	seen := make(map[string]bool, len(doc.Nodes))
	for i, n := range doc.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("nodes[%d]: missing id", i)
		}
		if seen[n.ID] {
			return nil, fmt.Errorf("nodes[%d]: duplicate id %q", i, n.ID)
		}
		seen[n.ID] = true
		if n.Kind == "" {
			return nil, fmt.Errorf("node %s: missing kind", n.ID)
		}
		out.Nodes = append(out.Nodes, Node{
			ID:         NodeID(n.ID),
			Kind:       n.Kind,
			Properties: normalizeProps(n.Properties),
		})
	}
	for i, e := range doc.Edges {
		if e.SourceNode == "" || e.SourcePort == "" || e.TargetNode == "" || e.TargetPort == "" {
			return nil, fmt.Errorf("edges[%d]: incomplete endpoint", i)
		}
		out.Edges = append(out.Edges, Edge{
			SourceNode: NodeID(e.SourceNode),
			SourcePort: e.SourcePort,
			TargetNode: NodeID(e.TargetNode),
			TargetPort: e.TargetPort,
		})
	}
	return out, nil
}

// LoadDocument reads and decodes a graph document file, inferring the
// format from the extension (.json, .yaml, .yml).
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	return DecodeDocument(data, format)
}

// normalizeProps folds decoder-specific number types to int64 so that
// property access does not depend on the source format. Floats with a
// fractional part are preserved as-is and rejected later by consumers that
// require integers.
func normalizeProps(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		return val.String()
	case int:
		return int64(val)
	case float64:
		if val == float64(int64(val)) {
			return int64(val)
		}
		return val
	case map[string]any:
		return normalizeProps(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}
