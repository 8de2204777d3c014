package compiler

import "github.com/canvas-contracts/canvas/internal/graph"

type dfsColor uint8

const (
	colorWhite dfsColor = iota
	colorGray
	colorBlack
)

// checkFlowCycles rejects cycles in the flow subgraph. The one sanctioned
// cycle shape is a loop body chain closing back onto a loop-capable node:
// any back edge whose target is loop-capable is the loop's iteration edge
// and is skipped.
func (v *Validated) checkFlowCycles() {
	out := make(map[graph.NodeID][]graph.Edge)
	for _, e := range v.flowEdges() {
		out[e.SourceNode] = append(out[e.SourceNode], e)
	}

	loopCapable := func(id graph.NodeID) bool {
		n := v.Doc.NodeByID(id)
		if n == nil {
			return false
		}
		s := v.Registry.Lookup(n.Kind)
		return s != nil && s.LoopCapable
	}

	color := make(map[graph.NodeID]dfsColor, len(v.Doc.Nodes))

	type frame struct {
		id   graph.NodeID
		next int
	}

	for i := range v.Doc.Nodes {
		root := v.Doc.Nodes[i].ID
		if color[root] != colorWhite {
			continue
		}
		stack := []frame{{id: root}}
		color[root] = colorGray
		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			edges := out[f.id]
			if f.next >= len(edges) {
				color[f.id] = colorBlack
				stack = stack[:len(stack)-1]
				continue
			}
			e := edges[f.next]
			f.next++
			switch color[e.TargetNode] {
			case colorWhite:
				color[e.TargetNode] = colorGray
				stack = append(stack, frame{id: e.TargetNode})
			case colorGray:
				if !loopCapable(e.TargetNode) {
					v.errorf(ErrFlowCycle, e.SourceNode, e.SourcePort,
						"flow cycle back to node %s; cycles are only allowed through Loop nodes", e.TargetNode)
				}
			}
		}
	}
}
