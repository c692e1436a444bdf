package cfg

import (
	"context"

	"github.com/oleiade/lane"
	"tlog.app/go/tlog"

	"github.com/slowlang/minic/compiler/ir"
	"github.com/slowlang/minic/compiler/set"
)

// Simplify runs dead terminator elimination, dead block elimination
// and linear block merging once, then moves the return block last.
func Simplify(ctx context.Context, m *ir.Module, f *ir.Func) (changed bool) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "simplify cfg", "func", f.Name, "blocks", len(f.Blocks))
	defer tr.Finish("changed", &changed, "blocks", &f.Blocks)

	changed = DeadTerminators(m, f)
	changed = DeadBlocks(m, f) || changed
	changed = MergeBlocks(m, f) || changed

	PlaceReturnLast(m, f)

	return changed
}

// DeadTerminators removes everything after the first terminator of each block.
// An empty block gets "ret 0".
func DeadTerminators(m *ir.Module, f *ir.Func) (changed bool) {
	for _, b := range f.Blocks {
		code := m.Code(b)

		if len(code) == 0 {
			m.Ret(b, ir.Const(0))
			changed = true

			continue
		}

		for i, v := range code {
			if !m.Instr(v).Op.IsTerminator() {
				continue
			}

			if i+1 < len(code) {
				tlog.V("dead_terminators").Printw("truncate block", "block", b, "at", i+1, "removed", len(code)-i-1)

				m.TruncateBlock(b, i+1)
				changed = true
			}

			break
		}
	}

	return changed
}

// DeadBlocks removes blocks unreachable from the entry.
func DeadBlocks(m *ir.Module, f *ir.Func) (changed bool) {
	g := Build(m, f)

	var seen set.Bits[ir.BlockID]

	for _, b := range g.Reachable(f.Entry()) {
		seen.Set(b)
	}

	var dead []ir.BlockID

	for _, b := range f.Blocks {
		if !seen.IsSet(b) {
			dead = append(dead, b)
		}
	}

	for _, b := range dead {
		tlog.V("dead_blocks").Printw("remove block", "block", b, "instrs", len(m.Code(b)))

		m.RemoveBlock(f, b)
	}

	return len(dead) != 0
}

// MergeBlocks splices a block into its only predecessor
// if that predecessor unconditionally branches to it.
func MergeBlocks(m *ir.Module, f *ir.Func) (changed bool) {
	g := Build(m, f)
	entry := f.Entry()

	for i := 0; i < len(f.Blocks); {
		a := f.Blocks[i]

		bb, ok := mergeable(m, g, entry, a)
		if !ok {
			i++
			continue
		}

		t, _ := m.Terminator(a)
		m.Remove(t)

		m.Splice(a, bb)

		succ, ok := g.Succ[bb]
		if ok {
			g.Succ[a] = succ
		} else {
			delete(g.Succ, a)
		}

		for _, s := range succ {
			l := g.Pred[s]

			for j, p := range l {
				if p == bb {
					l[j] = a
				}
			}
		}

		delete(g.Succ, bb)
		delete(g.Pred, bb)

		ret := f.Return == bb

		m.RemoveBlock(f, bb)

		if ret {
			f.Return = a
		}

		tlog.V("merge_blocks").Printw("merge blocks", "into", a, "block", bb)

		changed = true

		// a may be mergeable with its new successor
		for i = 0; f.Blocks[i] != a; i++ {
		}
	}

	return changed
}

func mergeable(m *ir.Module, g *Graph, entry, a ir.BlockID) (ir.BlockID, bool) {
	t, ok := m.Terminator(a)
	if !ok || m.Instr(t).Op != ir.OpBr {
		return ir.NoBlock, false
	}

	b := m.Instr(t).Args[0].Block

	if b == a || b == entry {
		return ir.NoBlock, false
	}

	pred := g.Pred[b]
	if len(pred) != 1 || pred[0] != a {
		return ir.NoBlock, false
	}

	return b, true
}

// PlaceReturnLast moves the function return block to the end of the block order.
func PlaceReturnLast(m *ir.Module, f *ir.Func) {
	if f.Return == ir.NoBlock {
		return
	}

	m.MoveToEnd(f, f.Return)
}

func bfs(g *Graph, entry ir.BlockID) (order []ir.BlockID) {
	var seen set.Bits[ir.BlockID]

	q := lane.NewQueue()

	seen.Set(entry)
	q.Enqueue(entry)

	for !q.Empty() {
		b := q.Dequeue().(ir.BlockID)
		order = append(order, b)

		for _, s := range g.Succ[b] {
			if seen.IsSet(s) {
				continue
			}

			seen.Set(s)
			q.Enqueue(s)
		}
	}

	return order
}
