package compiler

import (
	"fmt"

	"github.com/canvas-contracts/canvas/internal/graph"
)

// nodePorts is a node's resolved port schema: static ports plus dynamic
// ports derived from the node's property bag.
type nodePorts struct {
	inputs   map[string]graph.PortSpec
	outputs  map[string]graph.PortSpec
	inOrder  []graph.PortSpec
	outOrder []graph.PortSpec
}

// Validated is a graph document plus derived facts. A Validated with zero
// error-severity problems is the only input the IR builder accepts.
type Validated struct {
	Doc      *graph.Document
	Registry *graph.Registry
	Problems []Problem

	// Entries lists entry-point nodes in document order.
	Entries []graph.NodeID
	// TopoOrder is the flow-subgraph topological order from the entry
	// nodes, loop back-edges excluded. Empty when validation failed.
	TopoOrder []graph.NodeID
	// Unreachable lists nodes not reachable from any entry point.
	Unreachable []graph.NodeID

	ports map[graph.NodeID]*nodePorts
	conds map[graph.NodeID]Expr
}

// OK reports whether the graph passed with no error-severity problems.
// Warnings are non-blocking.
func (v *Validated) OK() bool {
	for _, p := range v.Problems {
		if p.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Errors returns only the error-severity problems.
func (v *Validated) Errors() []Problem {
	var out []Problem
	for _, p := range v.Problems {
		if p.Severity == SeverityError {
			out = append(out, p)
		}
	}
	return out
}

// ParamKinds returns the union of entry-point parameter kinds by name,
// the variable environment for condition expressions.
func (v *Validated) ParamKinds() map[string]graph.ValueKind {
	vars := make(map[string]graph.ValueKind)
	for _, id := range v.Entries {
		np := v.ports[id]
		if np == nil {
			continue
		}
		for _, p := range np.outOrder {
			if p.Kind.IsData() {
				vars[p.Name] = p.Kind
			}
		}
	}
	return vars
}

// Validate runs all structural and semantic checks over the document.
// It never returns an error for graph content: every finding is a Problem
// on the result. Cheap structural checks run first.
func Validate(doc *graph.Document, reg *graph.Registry) *Validated {
	v := &Validated{
		Doc:      doc,
		Registry: reg,
		ports:    make(map[graph.NodeID]*nodePorts, len(doc.Nodes)),
		conds:    make(map[graph.NodeID]Expr),
	}

	v.resolvePorts()
	v.collectEntries()
	v.checkEdges()
	v.checkInputs()
	v.checkEvents()
	v.checkFlowCycles()
	v.checkReachability()
	v.checkComponents()

	return v
}

// resolvePorts looks up each node's schema and materializes its port lists,
// including dynamic ports from properties.
func (v *Validated) resolvePorts() {
	for i := range v.Doc.Nodes {
		n := &v.Doc.Nodes[i]
		schema := v.Registry.Lookup(n.Kind)
		if schema == nil {
			v.errorf(ErrUnknownKind, n.ID, "", "unknown node kind %q", n.Kind)
			continue
		}
		ins, outs, err := schema.PortsFor(n)
		if err != nil {
			v.errorf(ErrBadProperty, n.ID, "", "%v", err)
			continue
		}
		np := &nodePorts{
			inputs:   make(map[string]graph.PortSpec, len(ins)),
			outputs:  make(map[string]graph.PortSpec, len(outs)),
			inOrder:  ins,
			outOrder: outs,
		}
		for _, p := range ins {
			np.inputs[p.Name] = p
		}
		for _, p := range outs {
			np.outputs[p.Name] = p
		}
		v.ports[n.ID] = np
	}
}

func (v *Validated) collectEntries() {
	names := make(map[string]graph.NodeID)
	for i := range v.Doc.Nodes {
		n := &v.Doc.Nodes[i]
		schema := v.Registry.Lookup(n.Kind)
		if schema == nil || !schema.EntryPoint {
			continue
		}
		v.Entries = append(v.Entries, n.ID)
		name := n.Prop("name")
		if name == "" {
			name = "main"
		}
		if prev, ok := names[name]; ok {
			v.errorf(ErrBadProperty, n.ID, "",
				"entry point name %q already used by node %s", name, prev)
		}
		names[name] = n.ID
	}
	if len(v.Entries) == 0 {
		v.errorf(ErrNoEntryPoint, "", "", "document has no entry-point node")
	}
}

// checkEdges verifies port existence, direction, and kind compatibility per
// edge. Control (flow) and data edges live in distinct namespaces: a flow
// output may only drive a flow input.
func (v *Validated) checkEdges() {
	for _, e := range v.Doc.Edges {
		srcPorts := v.ports[e.SourceNode]
		tgtPorts := v.ports[e.TargetNode]
		if v.Doc.NodeByID(e.SourceNode) == nil {
			v.errorf(ErrInvalidPort, e.SourceNode, e.SourcePort, "edge source node does not exist")
			continue
		}
		if v.Doc.NodeByID(e.TargetNode) == nil {
			v.errorf(ErrInvalidPort, e.TargetNode, e.TargetPort, "edge target node does not exist")
			continue
		}
		if srcPorts == nil || tgtPorts == nil {
			// Schema resolution already failed for an endpoint.
			continue
		}

		src, srcOK := srcPorts.outputs[e.SourcePort]
		if !srcOK {
			if _, isInput := srcPorts.inputs[e.SourcePort]; isInput {
				v.errorf(ErrInvalidPort, e.SourceNode, e.SourcePort,
					"edge source %q is an input port", e.SourcePort)
			} else {
				v.errorf(ErrInvalidPort, e.SourceNode, e.SourcePort,
					"no output port %q on kind %s", e.SourcePort, v.Doc.NodeByID(e.SourceNode).Kind)
			}
			continue
		}
		tgt, tgtOK := tgtPorts.inputs[e.TargetPort]
		if !tgtOK {
			if _, isOutput := tgtPorts.outputs[e.TargetPort]; isOutput {
				v.errorf(ErrInvalidPort, e.TargetNode, e.TargetPort,
					"edge target %q is an output port", e.TargetPort)
			} else {
				v.errorf(ErrInvalidPort, e.TargetNode, e.TargetPort,
					"no input port %q on kind %s", e.TargetPort, v.Doc.NodeByID(e.TargetNode).Kind)
			}
			continue
		}

		if (src.Kind == graph.KindFlow) != (tgt.Kind == graph.KindFlow) {
			p := Problem{
				Code: ErrFlowToData, Severity: SeverityError,
				Node: e.TargetNode, Port: e.TargetPort,
				Message:  "flow and data ports cannot be connected",
				Expected: tgt.Kind, Actual: src.Kind,
			}
			v.Problems = append(v.Problems, p)
			continue
		}
		if !src.Kind.Compatible(tgt.Kind) {
			p := Problem{
				Code: ErrTypeMismatch, Severity: SeverityError,
				Node: e.TargetNode, Port: e.TargetPort,
				Message:  fmt.Sprintf("port expects %s but is driven by %s", tgt.Kind, src.Kind),
				Expected: tgt.Kind, Actual: src.Kind,
			}
			v.Problems = append(v.Problems, p)
		}
	}
}

// checkInputs enforces required-input coverage and single drivers, and
// resolves expression-property fallbacks (If conditions).
func (v *Validated) checkInputs() {
	drivers := make(map[graph.NodeID]map[string]int)
	for _, e := range v.Doc.Edges {
		m := drivers[e.TargetNode]
		if m == nil {
			m = make(map[string]int)
			drivers[e.TargetNode] = m
		}
		m[e.TargetPort]++
	}

	// Flow outputs must not fan out: each drives at most one target.
	flowOuts := make(map[graph.NodeID]map[string]int)
	for _, e := range v.flowEdges() {
		m := flowOuts[e.SourceNode]
		if m == nil {
			m = make(map[string]int)
			flowOuts[e.SourceNode] = m
		}
		m[e.SourcePort]++
		if m[e.SourcePort] == 2 {
			v.errorf(ErrMultipleDrivers, e.SourceNode, e.SourcePort,
				"flow output %q has more than one target, at most one allowed", e.SourcePort)
		}
	}

	paramKinds := v.ParamKinds()

	for i := range v.Doc.Nodes {
		n := &v.Doc.Nodes[i]
		np := v.ports[n.ID]
		if np == nil {
			continue
		}
		schema := v.Registry.Lookup(n.Kind)
		for _, p := range np.inOrder {
			count := drivers[n.ID][p.Name]
			if p.Kind == graph.KindFlow && schema.LoopCapable {
				// The loop entry edge plus the body's back edge.
				if count > 2 {
					v.errorf(ErrMultipleDrivers, n.ID, p.Name,
						"loop input %q has %d drivers, at most two allowed", p.Name, count)
				} else if p.Required && count == 0 {
					v.errorf(ErrMissingInput, n.ID, p.Name,
						"required input %q has no incoming edge", p.Name)
				}
				continue
			}
			if count > 1 {
				v.errorf(ErrMultipleDrivers, n.ID, p.Name,
					"input %q has %d drivers, exactly one allowed", p.Name, count)
				continue
			}

			exprProp := ""
			if schema.ExprInputs != nil {
				exprProp = schema.ExprInputs[p.Name]
			}
			if exprProp != "" {
				v.checkExprInput(n, p, exprProp, count, paramKinds)
				continue
			}

			if p.Required && count == 0 {
				v.errorf(ErrMissingInput, n.ID, p.Name,
					"required input %q has no incoming edge", p.Name)
			}
		}
	}
}

// checkExprInput handles ports that may be driven either by an edge or by
// a condition-expression property, but not both and not neither.
func (v *Validated) checkExprInput(n *graph.Node, p graph.PortSpec, prop string, edges int, vars map[string]graph.ValueKind) {
	src := n.Prop(prop)
	switch {
	case edges == 1 && src != "":
		v.errorf(ErrBadProperty, n.ID, p.Name,
			"input %q is driven by both an edge and the %q property", p.Name, prop)
	case edges == 0 && src == "":
		v.errorf(ErrMissingInput, n.ID, p.Name,
			"input %q needs an incoming edge or a %q property", p.Name, prop)
	case src != "":
		expr, err := ParseExpr(src)
		if err != nil {
			v.errorf(ErrBadProperty, n.ID, p.Name, "invalid %s expression: %v", prop, err)
			return
		}
		kind, err := CheckExpr(expr, vars)
		if err != nil {
			v.errorf(ErrConditionType, n.ID, p.Name, "%v", err)
			return
		}
		if kind != p.Kind {
			v.Problems = append(v.Problems, Problem{
				Code: ErrConditionType, Severity: SeverityError,
				Node: n.ID, Port: p.Name,
				Message:  fmt.Sprintf("%s expression yields %s, port expects %s", prop, kind, p.Kind),
				Expected: p.Kind, Actual: kind,
			})
			return
		}
		v.conds[n.ID] = expr
	}
}

// checkEvents enforces that every EmitEvent node names its event and that
// nodes emitting the same event agree on the field list.
func (v *Validated) checkEvents() {
	type sig struct {
		node   graph.NodeID
		fields string
	}
	seen := make(map[string]sig)
	for i := range v.Doc.Nodes {
		n := &v.Doc.Nodes[i]
		if n.Kind != "EmitEvent" {
			continue
		}
		name := n.Prop("name")
		if name == "" {
			v.errorf(ErrBadProperty, n.ID, "", "EmitEvent needs a non-empty name property")
			continue
		}
		np := v.ports[n.ID]
		if np == nil {
			continue
		}
		var fields string
		for _, p := range np.inOrder {
			if p.Kind.IsData() {
				fields += p.Name + ":" + string(p.Kind) + ";"
			}
		}
		if prev, ok := seen[name]; ok {
			if prev.fields != fields {
				v.errorf(ErrBadProperty, n.ID, "",
					"event %q field list differs from node %s", name, prev.node)
			}
			continue
		}
		seen[name] = sig{node: n.ID, fields: fields}
	}
}

// Condition returns the parsed condition expression for a node, if any.
func (v *Validated) Condition(id graph.NodeID) Expr { return v.conds[id] }

// PortsOf returns the resolved port lists for a node. Only meaningful on a
// Validated that passed schema resolution for that node.
func (v *Validated) PortsOf(id graph.NodeID) (inputs, outputs []graph.PortSpec) {
	np := v.ports[id]
	if np == nil {
		return nil, nil
	}
	return np.inOrder, np.outOrder
}

// flowEdges returns edges whose resolved endpoints are flow ports.
func (v *Validated) flowEdges() []graph.Edge {
	var out []graph.Edge
	for _, e := range v.Doc.Edges {
		np := v.ports[e.SourceNode]
		if np == nil {
			continue
		}
		if p, ok := np.outputs[e.SourcePort]; ok && p.Kind == graph.KindFlow {
			out = append(out, e)
		}
	}
	return out
}

// checkReachability walks flow edges from the entry nodes, then marks data
// producers feeding reached nodes as reachable too. Everything else is dead
// code, reported as a warning.
func (v *Validated) checkReachability() {
	if len(v.Entries) == 0 {
		return
	}
	reached := make(map[graph.NodeID]bool)

	// Flow reachability, and topological order via DFS finish times.
	flowOut := make(map[graph.NodeID][]graph.NodeID)
	for _, e := range v.flowEdges() {
		flowOut[e.SourceNode] = append(flowOut[e.SourceNode], e.TargetNode)
	}
	var order []graph.NodeID
	var visit func(graph.NodeID)
	visit = func(id graph.NodeID) {
		if reached[id] {
			return
		}
		reached[id] = true
		for _, next := range flowOut[id] {
			visit(next)
		}
		order = append(order, id)
	}
	for _, id := range v.Entries {
		visit(id)
	}
	// Reverse finish order = topological order (back-edges ignored).
	v.TopoOrder = make([]graph.NodeID, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		v.TopoOrder = append(v.TopoOrder, order[i])
	}

	// Data producers feeding reached nodes, transitively.
	dataIn := make(map[graph.NodeID][]graph.NodeID)
	for _, e := range v.Doc.Edges {
		np := v.ports[e.SourceNode]
		if np == nil {
			continue
		}
		if p, ok := np.outputs[e.SourcePort]; ok && p.Kind.IsData() {
			dataIn[e.TargetNode] = append(dataIn[e.TargetNode], e.SourceNode)
		}
	}
	changed := true
	for changed {
		changed = false
		for target, sources := range dataIn {
			if !reached[target] {
				continue
			}
			for _, src := range sources {
				if !reached[src] {
					reached[src] = true
					changed = true
				}
			}
		}
	}

	for i := range v.Doc.Nodes {
		id := v.Doc.Nodes[i].ID
		if !reached[id] {
			v.Unreachable = append(v.Unreachable, id)
			v.warnf(WarnUnreachable, id, "node is not reachable from any entry point")
		}
	}
}

// checkComponents reports when entry nodes are split across weakly
// connected components: exactly one entry component per compilation unit.
func (v *Validated) checkComponents() {
	if len(v.Doc.Nodes) == 0 {
		return
	}
	parent := make(map[graph.NodeID]graph.NodeID, len(v.Doc.Nodes))
	var find func(graph.NodeID) graph.NodeID
	find = func(id graph.NodeID) graph.NodeID {
		if parent[id] != id {
			parent[id] = find(parent[id])
		}
		return parent[id]
	}
	for i := range v.Doc.Nodes {
		parent[v.Doc.Nodes[i].ID] = v.Doc.Nodes[i].ID
	}
	for _, e := range v.Doc.Edges {
		if _, ok := parent[e.SourceNode]; !ok {
			continue
		}
		if _, ok := parent[e.TargetNode]; !ok {
			continue
		}
		parent[find(e.SourceNode)] = find(e.TargetNode)
	}

	roots := make(map[graph.NodeID][]graph.NodeID)
	for _, id := range v.Entries {
		root := find(id)
		roots[root] = append(roots[root], id)
	}
	if len(roots) > 1 {
		for _, ids := range roots {
			for _, id := range ids {
				v.errorf(ErrMultipleEntryComponents, id, "",
					"entry node is in a separate component; one entry component allowed per compilation unit")
			}
		}
	}
}
