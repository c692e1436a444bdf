package cfg

import (
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/minic/compiler/ir"
)

type (
	// Graph is successor and predecessor edges of one function.
	// Blocks without edges have no map entry.
	Graph struct {
		Succ map[ir.BlockID][]ir.BlockID
		Pred map[ir.BlockID][]ir.BlockID
	}
)

// Build derives edges from block terminators.
// It is recomputed after every pass changing control flow.
func Build(m *ir.Module, f *ir.Func) *Graph {
	g := &Graph{
		Succ: make(map[ir.BlockID][]ir.BlockID, len(f.Blocks)),
		Pred: make(map[ir.BlockID][]ir.BlockID, len(f.Blocks)),
	}

	for _, b := range f.Blocks {
		t, ok := m.Terminator(b)
		if !ok {
			continue
		}

		x := m.Instr(t)

		switch x.Op {
		case ir.OpBr:
			g.edge(b, x.Args[0].Block)
		case ir.OpCondBr:
			g.edge(b, x.Args[1].Block)
			g.edge(b, x.Args[2].Block)
		case ir.OpRet:
		default:
			panic(x.Op)
		}
	}

	return g
}

func (g *Graph) edge(from, to ir.BlockID) {
	g.Succ[from] = add(g.Succ[from], to)
	g.Pred[to] = add(g.Pred[to], from)
}

func add(l []ir.BlockID, b ir.BlockID) []ir.BlockID {
	for _, x := range l {
		if x == b {
			return l
		}
	}

	return append(l, b)
}

// Reachable returns blocks reachable from the entry in breadth first order.
func (g *Graph) Reachable(entry ir.BlockID) []ir.BlockID {
	if entry == ir.NoBlock {
		return nil
	}

	return bfs(g, entry)
}

func (g *Graph) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 2)

	b = e.AppendString(b, "succ")
	b = appendEdges(b, g.Succ)

	b = e.AppendString(b, "pred")
	b = appendEdges(b, g.Pred)

	return b
}

func appendEdges(b []byte, m map[ir.BlockID][]ir.BlockID) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, len(m))

	for k, l := range m {
		b = e.AppendInt(b, int(k))
		b = e.AppendArray(b, len(l))

		for _, x := range l {
			b = e.AppendInt(b, int(x))
		}
	}

	return b
}
