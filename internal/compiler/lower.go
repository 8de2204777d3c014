package compiler

import (
	"fmt"
	"sort"

	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/ir"
)

// binKinds maps pure data node kinds to their binary operation.
var binKinds = map[string]ir.BinKind{
	"Add":         ir.BinAdd,
	"Subtract":    ir.BinSub,
	"Multiply":    ir.BinMul,
	"Divide":      ir.BinDiv,
	"And":         ir.BinAnd,
	"Or":          ir.BinOr,
	"Equals":      ir.BinEq,
	"LessThan":    ir.BinLt,
	"GreaterThan": ir.BinGt,
}

var hostFns = map[string]struct {
	fn  string
	out graph.ValueKind
}{
	"Sender":      {ir.HostSender, graph.KindBytes},
	"BlockHeight": {ir.HostBlockHeight, graph.KindNumber},
	"BlockTime":   {ir.HostBlockTime, graph.KindNumber},
}

// Lower translates a validated document into the canonical IR module.
// It is total for documents that validated cleanly; any error it returns on
// such input is a builder bug. Calling it on a failed validation is refused.
func Lower(v *Validated) (*ir.Module, error) {
	if !v.OK() {
		return nil, fmt.Errorf("document %q has validation errors", v.Doc.Name)
	}

	m := &ir.Module{Name: v.Doc.Name}
	events := make(map[string][]ir.Param)

	for _, entry := range v.Entries {
		lo := &lowerer{v: v, events: events, keys: make(map[string]bool)}
		fn, err := lo.lowerFunc(entry)
		if err != nil {
			return nil, err
		}
		m.Funcs = append(m.Funcs, *fn)
		for k := range lo.keys {
			if !contains(m.StorageKeys, k) {
				m.StorageKeys = append(m.StorageKeys, k)
			}
		}
	}

	names := make([]string, 0, len(events))
	for name := range events {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m.Events = append(m.Events, ir.EventDecl{Name: name, Fields: events[name]})
	}
	sort.Strings(m.StorageKeys)

	if err := m.Check(); err != nil {
		return nil, fmt.Errorf("lowered module failed self-check: %w", err)
	}
	return m, nil
}

func contains(s []string, x string) bool {
	for _, v := range s {
		if v == x {
			return true
		}
	}
	return false
}

type memoKey struct {
	node graph.NodeID
	port string
}

type activeLoop struct {
	node  graph.NodeID
	block int
}

// lowerer builds one Func. Data nodes are memoized per lexical scope: a
// value lowered inside one branch arm is not visible from the other arm, so
// every use re-derives it where single assignment requires.
type lowerer struct {
	v      *Validated
	fn     *ir.Func
	cur    int
	scopes []map[memoKey]ir.ValueRef
	params map[string]ir.ValueRef
	loops  []activeLoop

	events map[string][]ir.Param
	keys   map[string]bool
}

func (lo *lowerer) lowerFunc(entry graph.NodeID) (*ir.Func, error) {
	n := lo.v.Doc.NodeByID(entry)
	name := n.Prop("name")
	if name == "" {
		name = "main"
	}
	lo.fn = &ir.Func{Name: name}
	lo.params = make(map[string]ir.ValueRef)
	lo.pushScope()
	lo.cur = lo.newBlock()

	// The entry node itself must be visible to the debugger, so it opens
	// the function even though it computes nothing.
	lo.emit(ir.Instruction{Op: ir.OpEntry, Node: entry})

	_, outs := lo.v.PortsOf(entry)
	idx := 0
	for _, p := range outs {
		if !p.Kind.IsData() {
			continue
		}
		lo.fn.Params = append(lo.fn.Params, ir.Param{Name: p.Name, Kind: p.Kind})
		ref := lo.emit(ir.Instruction{Op: ir.OpParam, Node: entry, Target: idx, Out: p.Kind})
		lo.params[p.Name] = ref
		lo.memoize(entry, p.Name, ref)
		idx++
	}

	next, ok := lo.flowTarget(entry, "flow_out")
	if !ok {
		lo.emit(ir.Instruction{Op: ir.OpReturn, Node: entry})
		return lo.fn, nil
	}
	if err := lo.walkChain(next); err != nil {
		return nil, err
	}
	return lo.fn, nil
}

// walkChain lowers a straight flow chain starting at id until the chain
// terminates. A chain with no End node gets an implicit return; a chain
// closing onto an active loop head gets the loop's back edge instead.
func (lo *lowerer) walkChain(id graph.NodeID) error {
	for {
		if block, ok := lo.loopHead(id); ok {
			lo.emit(ir.Instruction{Op: ir.OpLoopBack, Node: id, Target: block})
			return nil
		}
		next, terminated, err := lo.lowerFlowNode(id)
		if err != nil {
			return err
		}
		if terminated {
			return nil
		}
		if next == "" {
			lo.emit(ir.Instruction{Op: ir.OpReturn, Node: id})
			return nil
		}
		id = next
	}
}

func (lo *lowerer) loopHead(id graph.NodeID) (int, bool) {
	for i := len(lo.loops) - 1; i >= 0; i-- {
		if lo.loops[i].node == id {
			return lo.loops[i].block, true
		}
	}
	return 0, false
}

func (lo *lowerer) lowerFlowNode(id graph.NodeID) (next graph.NodeID, terminated bool, err error) {
	n := lo.v.Doc.NodeByID(id)
	switch n.Kind {
	case "End":
		lo.emit(ir.Instruction{Op: ir.OpReturn, Node: id})
		return "", true, nil

	case "If":
		return "", true, lo.lowerIf(n)

	case "Loop":
		return lo.lowerLoop(n)

	case "WriteStorage":
		key, err := lo.lowerInput(n, "key")
		if err != nil {
			return "", false, err
		}
		val, err := lo.lowerInput(n, "value")
		if err != nil {
			return "", false, err
		}
		lo.recordStaticKey(n, "key")
		lo.emit(ir.Instruction{Op: ir.OpStorageWrite, Node: id, Args: []ir.ValueRef{key, val}})
		next, _ = lo.flowTarget(id, "flow_out")
		return next, false, nil

	case "EmitEvent":
		return lo.lowerEmitEvent(n)

	default:
		return "", false, fmt.Errorf("node %s: kind %s cannot sit on a flow chain", id, n.Kind)
	}
}

func (lo *lowerer) lowerIf(n *graph.Node) error {
	var cond ir.ValueRef
	if expr := lo.v.Condition(n.ID); expr != nil {
		ref, err := lo.lowerExpr(n.ID, expr)
		if err != nil {
			return err
		}
		cond = ref
	} else {
		ref, err := lo.lowerInput(n, "condition")
		if err != nil {
			return err
		}
		cond = ref
	}

	branchBlock := lo.cur
	trueBlock := lo.newBlock()
	falseBlock := lo.newBlock()
	lo.emit(ir.Instruction{
		Op: ir.OpBranch, Node: n.ID,
		Args:  []ir.ValueRef{cond},
		Succs: []int{trueBlock, falseBlock},
	})
	lo.fn.Blocks[branchBlock].Succs = []int{trueBlock, falseBlock}

	arms := []struct {
		port  string
		block int
	}{
		{"true_flow", trueBlock},
		{"false_flow", falseBlock},
	}
	for _, arm := range arms {
		lo.cur = arm.block
		lo.pushScope()
		if target, ok := lo.flowTarget(n.ID, arm.port); ok {
			if err := lo.walkChain(target); err != nil {
				lo.popScope()
				return err
			}
		} else {
			lo.emit(ir.Instruction{Op: ir.OpReturn, Node: n.ID})
		}
		lo.popScope()
	}
	return nil
}

func (lo *lowerer) lowerLoop(n *graph.Node) (graph.NodeID, bool, error) {
	count, err := lo.lowerInput(n, "count")
	if err != nil {
		return "", false, err
	}

	loopBlock := lo.cur
	bodyBlock := lo.newBlock()
	doneBlock := lo.newBlock()
	lo.emit(ir.Instruction{
		Op: ir.OpLoop, Node: n.ID,
		Args:  []ir.ValueRef{count},
		Succs: []int{bodyBlock, doneBlock},
	})
	lo.fn.Blocks[loopBlock].Succs = []int{bodyBlock, doneBlock}

	lo.cur = bodyBlock
	lo.pushScope()
	lo.loops = append(lo.loops, activeLoop{node: n.ID, block: loopBlock})
	if target, ok := lo.flowTarget(n.ID, "body"); ok {
		if err := lo.walkChain(target); err != nil {
			return "", false, err
		}
	} else {
		lo.emit(ir.Instruction{Op: ir.OpLoopBack, Node: n.ID, Target: loopBlock})
	}
	lo.loops = lo.loops[:len(lo.loops)-1]
	lo.popScope()

	lo.cur = doneBlock
	next, ok := lo.flowTarget(n.ID, "done")
	if !ok {
		return "", false, nil
	}
	return next, false, nil
}

func (lo *lowerer) lowerEmitEvent(n *graph.Node) (graph.NodeID, bool, error) {
	name := n.Prop("name")
	ins, _ := lo.v.PortsOf(n.ID)

	var fields []ir.Param
	var fieldNames []string
	var args []ir.ValueRef
	for _, p := range ins {
		if !p.Kind.IsData() {
			continue
		}
		ref, err := lo.lowerInput(n, p.Name)
		if err != nil {
			return "", false, err
		}
		fields = append(fields, ir.Param{Name: p.Name, Kind: p.Kind})
		fieldNames = append(fieldNames, p.Name)
		args = append(args, ref)
	}

	if prev, ok := lo.events[name]; ok {
		if !sameParams(prev, fields) {
			return "", false, fmt.Errorf("node %s: event %q redeclared with a different field list", n.ID, name)
		}
	} else {
		lo.events[name] = fields
	}

	lo.emit(ir.Instruction{
		Op: ir.OpEmitEvent, Node: n.ID,
		Event: name, Fields: fieldNames, Args: args,
	})
	next, _ := lo.flowTarget(n.ID, "flow_out")
	return next, false, nil
}

func sameParams(a, b []ir.Param) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// lowerData produces the value for one output port of a data node,
// memoized within the current scope chain.
func (lo *lowerer) lowerData(id graph.NodeID, port string) (ir.ValueRef, error) {
	if ref, ok := lo.lookup(id, port); ok {
		return ref, nil
	}
	n := lo.v.Doc.NodeByID(id)

	var ref ir.ValueRef
	switch {
	case n.Kind == "Start":
		// Entry params are seeded in the entry block; reaching here means
		// the port was not a parameter of this function's entry node.
		return ir.NoValue, fmt.Errorf("node %s: no parameter %q in scope", id, port)

	case n.Kind == "Const":
		_, outs := lo.v.PortsOf(id)
		val, err := ir.FromProperty(n.Properties["value"], outs[0].Kind)
		if err != nil {
			return ir.NoValue, fmt.Errorf("node %s: %w", id, err)
		}
		ref = lo.emit(ir.Instruction{Op: ir.OpConst, Node: id, Lit: val, Out: val.Kind()})

	case n.Kind == "Not":
		arg, err := lo.lowerInput(n, "input")
		if err != nil {
			return ir.NoValue, err
		}
		ref = lo.emit(ir.Instruction{Op: ir.OpNot, Node: id, Args: []ir.ValueRef{arg}, Out: graph.KindBoolean})

	case n.Kind == "ReadStorage":
		return lo.lowerReadStorage(n, port)

	case binKinds[n.Kind] != "":
		a, err := lo.lowerInput(n, "a")
		if err != nil {
			return ir.NoValue, err
		}
		b, err := lo.lowerInput(n, "b")
		if err != nil {
			return ir.NoValue, err
		}
		_, outs := lo.v.PortsOf(id)
		ref = lo.emit(ir.Instruction{
			Op: ir.OpBinary, Node: id, Bin: binKinds[n.Kind],
			Args: []ir.ValueRef{a, b}, Out: outs[0].Kind,
		})

	default:
		if h, ok := hostFns[n.Kind]; ok {
			ref = lo.emit(ir.Instruction{Op: ir.OpHostCall, Node: id, Fn: h.fn, Out: h.out})
			break
		}
		return ir.NoValue, fmt.Errorf("node %s: kind %s does not produce data", id, n.Kind)
	}

	lo.memoize(id, port, ref)
	return ref, nil
}

// lowerReadStorage lowers the read and its found flag together so both
// ports observe the same storage access.
func (lo *lowerer) lowerReadStorage(n *graph.Node, port string) (ir.ValueRef, error) {
	value, ok := lo.lookup(n.ID, "value")
	if !ok {
		key, err := lo.lowerInput(n, "key")
		if err != nil {
			return ir.NoValue, err
		}
		lo.recordStaticKey(n, "key")
		value = lo.emit(ir.Instruction{
			Op: ir.OpStorageRead, Node: n.ID,
			Args: []ir.ValueRef{key}, Out: graph.KindBytes,
		})
		lo.memoize(n.ID, "value", value)
	}
	if port == "value" {
		return value, nil
	}
	if port != "found" {
		return ir.NoValue, fmt.Errorf("node %s: no output port %q", n.ID, port)
	}
	found, ok := lo.lookup(n.ID, "found")
	if !ok {
		found = lo.emit(ir.Instruction{
			Op: ir.OpStorageFound, Node: n.ID,
			Args: []ir.ValueRef{value}, Out: graph.KindBoolean,
		})
		lo.memoize(n.ID, "found", found)
	}
	return found, nil
}

// lowerInput resolves the driver of one input port and lowers it.
func (lo *lowerer) lowerInput(n *graph.Node, port string) (ir.ValueRef, error) {
	for _, e := range lo.v.Doc.Edges {
		if e.TargetNode == n.ID && e.TargetPort == port {
			return lo.lowerData(e.SourceNode, e.SourcePort)
		}
	}
	return ir.NoValue, fmt.Errorf("node %s: input %q has no driver", n.ID, port)
}

// lowerExpr lowers a condition expression to instructions attributed to the
// owning node. Short-circuit evaluation is not preserved: operands are
// boolean and side-effect free, so strict evaluation is equivalent.
func (lo *lowerer) lowerExpr(owner graph.NodeID, e Expr) (ir.ValueRef, error) {
	switch x := e.(type) {
	case *ExprLit:
		return lo.emit(ir.Instruction{Op: ir.OpConst, Node: owner, Lit: x.Val, Out: x.Val.Kind()}), nil
	case *ExprIdent:
		ref, ok := lo.params[x.Name]
		if !ok {
			return ir.NoValue, fmt.Errorf("node %s: unknown variable %q in condition", owner, x.Name)
		}
		return ref, nil
	case *ExprUnary:
		arg, err := lo.lowerExpr(owner, x.X)
		if err != nil {
			return ir.NoValue, err
		}
		return lo.emit(ir.Instruction{Op: ir.OpNot, Node: owner, Args: []ir.ValueRef{arg}, Out: graph.KindBoolean}), nil
	case *ExprBinary:
		l, err := lo.lowerExpr(owner, x.L)
		if err != nil {
			return ir.NoValue, err
		}
		r, err := lo.lowerExpr(owner, x.R)
		if err != nil {
			return ir.NoValue, err
		}
		return lo.emit(ir.Instruction{
			Op: ir.OpBinary, Node: owner, Bin: x.Op,
			Args: []ir.ValueRef{l, r}, Out: graph.KindBoolean,
		}), nil
	default:
		return ir.NoValue, fmt.Errorf("node %s: unknown expression node %T", owner, e)
	}
}

// recordStaticKey notes a storage key when the key port is driven by a
// string constant.
func (lo *lowerer) recordStaticKey(n *graph.Node, port string) {
	for _, e := range lo.v.Doc.Edges {
		if e.TargetNode != n.ID || e.TargetPort != port {
			continue
		}
		src := lo.v.Doc.NodeByID(e.SourceNode)
		if src == nil || src.Kind != "Const" {
			return
		}
		if key, ok := src.Properties["value"].(string); ok {
			lo.keys[key] = true
		}
		return
	}
}

func (lo *lowerer) flowTarget(id graph.NodeID, port string) (graph.NodeID, bool) {
	for _, e := range lo.v.Doc.Edges {
		if e.SourceNode == id && e.SourcePort == port {
			return e.TargetNode, true
		}
	}
	return "", false
}

func (lo *lowerer) emit(in ir.Instruction) ir.ValueRef {
	b := &lo.fn.Blocks[lo.cur]
	b.Instrs = append(b.Instrs, in)
	return ir.ValueRef{Block: lo.cur, Index: len(b.Instrs) - 1}
}

func (lo *lowerer) newBlock() int {
	id := len(lo.fn.Blocks)
	lo.fn.Blocks = append(lo.fn.Blocks, ir.Block{ID: id})
	return id
}

func (lo *lowerer) pushScope() {
	lo.scopes = append(lo.scopes, make(map[memoKey]ir.ValueRef))
}

func (lo *lowerer) popScope() {
	lo.scopes = lo.scopes[:len(lo.scopes)-1]
}

func (lo *lowerer) memoize(id graph.NodeID, port string, ref ir.ValueRef) {
	lo.scopes[len(lo.scopes)-1][memoKey{id, port}] = ref
}

func (lo *lowerer) lookup(id graph.NodeID, port string) (ir.ValueRef, bool) {
	for i := len(lo.scopes) - 1; i >= 0; i-- {
		if ref, ok := lo.scopes[i][memoKey{id, port}]; ok {
			return ref, true
		}
	}
	return ir.NoValue, false
}
