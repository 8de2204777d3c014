package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/canvas-contracts/canvas/internal/graph"
)

// Domain prefixes for content-addressed identity. The version suffix allows
// future algorithm migration without colliding with old hashes.
const (
	DomainDocument = "canvas/document/v1"
	DomainModule   = "canvas/module/v1"
	DomainArtifact = "canvas/artifact/v1"
	DomainTrace    = "canvas/trace/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data). The null separator
// prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DocumentHash computes the content-addressed id of a graph document.
// Identical documents (same nodes, edges, and properties, in order) hash
// identically regardless of editor metadata, which is dropped at decode.
func DocumentHash(doc *graph.Document) (string, error) {
	nodes := make([]any, len(doc.Nodes))
	for i, n := range doc.Nodes {
		m := map[string]any{
			"id":   string(n.ID),
			"kind": n.Kind,
		}
		if len(n.Properties) > 0 {
			props := make(map[string]any, len(n.Properties))
			for k, v := range n.Properties {
				props[k] = v
			}
			m["properties"] = props
		}
		nodes[i] = m
	}
	edges := make([]any, len(doc.Edges))
	for i, e := range doc.Edges {
		edges[i] = map[string]any{
			"source_node": string(e.SourceNode),
			"source_port": e.SourcePort,
			"target_node": string(e.TargetNode),
			"target_port": e.TargetPort,
		}
	}
	canonical, err := MarshalCanonical(map[string]any{
		"name":  doc.Name,
		"nodes": nodes,
		"edges": edges,
	})
	if err != nil {
		return "", fmt.Errorf("DocumentHash: %w", err)
	}
	return hashWithDomain(DomainDocument, canonical), nil
}

// ModuleHash computes the content-addressed id of a lowered module.
// The generator's determinism contract is tested against this: the same
// module hash must always yield byte-identical binaries.
func ModuleHash(m *Module) (string, error) {
	canonical, err := MarshalCanonical(m.canonicalMap())
	if err != nil {
		return "", fmt.Errorf("ModuleHash: %w", err)
	}
	return hashWithDomain(DomainModule, canonical), nil
}

// ArtifactHash computes the content-addressed id of generated module bytes.
func ArtifactHash(code []byte) string {
	return hashWithDomain(DomainArtifact, code)
}

// TraceHash computes the content-addressed id of a canonical trace
// serialization. Two runs with the same trace hash took the same path,
// charged the same gas, and observed the same host values.
func TraceHash(canonical []byte) string {
	return hashWithDomain(DomainTrace, canonical)
}

func (m *Module) canonicalMap() map[string]any {
	funcs := make([]any, len(m.Funcs))
	for i := range m.Funcs {
		funcs[i] = m.Funcs[i].canonicalMap()
	}
	out := map[string]any{
		"name":  m.Name,
		"funcs": funcs,
	}
	if len(m.Events) > 0 {
		evs := make([]any, len(m.Events))
		for i, e := range m.Events {
			evs[i] = map[string]any{
				"name":   e.Name,
				"fields": paramsList(e.Fields),
			}
		}
		out["events"] = evs
	}
	if len(m.StorageKeys) > 0 {
		keys := make([]any, len(m.StorageKeys))
		for i, k := range m.StorageKeys {
			keys[i] = k
		}
		out["storage_keys"] = keys
	}
	return out
}

func (f *Func) canonicalMap() map[string]any {
	blocks := make([]any, len(f.Blocks))
	for i, b := range f.Blocks {
		instrs := make([]any, len(b.Instrs))
		for j := range b.Instrs {
			instrs[j] = b.Instrs[j].canonicalMap()
		}
		bm := map[string]any{
			"id":     int64(b.ID),
			"instrs": instrs,
		}
		if len(b.Succs) > 0 {
			bm["succs"] = intsList(b.Succs)
		}
		blocks[i] = bm
	}
	return map[string]any{
		"name":   f.Name,
		"params": paramsList(f.Params),
		"blocks": blocks,
	}
}

func (in *Instruction) canonicalMap() map[string]any {
	m := map[string]any{
		"op":   string(in.Op),
		"node": string(in.Node),
	}
	if in.Bin != "" {
		m["bin"] = string(in.Bin)
	}
	if len(in.Args) > 0 {
		args := make([]any, len(in.Args))
		for i, r := range in.Args {
			args[i] = map[string]any{"block": int64(r.Block), "index": int64(r.Index)}
		}
		m["args"] = args
	}
	if in.Lit != nil {
		m["lit"] = canonicalForm(in.Lit)
		m["lit_kind"] = string(in.Lit.Kind())
	}
	if in.Out != "" {
		m["out"] = string(in.Out)
	}
	if len(in.Succs) > 0 {
		m["succs"] = intsList(in.Succs)
	}
	if in.Op == OpLoopBack || in.Op == OpParam {
		m["target"] = int64(in.Target)
	}
	if in.Fn != "" {
		m["fn"] = in.Fn
	}
	if in.Event != "" {
		m["event"] = in.Event
	}
	if len(in.Fields) > 0 {
		fields := make([]any, len(in.Fields))
		for i, f := range in.Fields {
			fields[i] = f
		}
		m["fields"] = fields
	}
	return m
}

func paramsList(ps []Param) []any {
	out := make([]any, len(ps))
	for i, p := range ps {
		out[i] = map[string]any{"name": p.Name, "kind": string(p.Kind)}
	}
	return out
}

func intsList(xs []int) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = int64(x)
	}
	return out
}
