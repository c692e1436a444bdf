package back

import (
	"nikand.dev/go/heap"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/minic/compiler/ir"
)

type (
	Reg int8

	// Interval is a live range in block instruction indexes.
	Interval struct {
		Start int
		End   int
	}

	// Alloc is a register assignment of every value needing storage.
	// Spilled values map to Spill.
	Alloc struct {
		Regs map[ir.Value]Reg
		Live map[ir.BlockID]map[ir.Value]Interval
	}

	allocator struct {
		m *ir.Module

		*Alloc

		live    map[ir.Value]Interval
		holder  [NumRegs]ir.Value
		victims heap.Heap[ir.Value]
	}
)

const (
	Spill Reg = iota - 1
	EBX
	ECX
	EDX
	EAX // scratch, never allocated

	NumRegs = 3
)

var regNames = [...]string{
	EBX: "%ebx",
	ECX: "%ecx",
	EDX: "%edx",
	EAX: "%eax",
}

// Liveness computes live intervals of values defined and used in the block.
// Values never used in the block need no register and have no entry.
// Addresses and comparison flags are not register values.
func Liveness(m *ir.Module, b ir.BlockID) map[ir.Value]Interval {
	idx := map[ir.Value]int{}
	live := map[ir.Value]Interval{}

	for i, v := range m.Code(b) {
		idx[v] = i

		for _, a := range m.Instr(v).Args {
			if !a.IsValue() {
				continue
			}

			st, ok := idx[a.Value]
			if !ok {
				continue
			}

			switch m.Instr(a.Value).Op {
			case ir.OpAlloca, ir.OpCmp:
				continue
			}

			live[a.Value] = Interval{Start: st, End: i}
		}
	}

	return live
}

// Allocate assigns registers block by block with a linear scan.
// It never fails: the worst case is every value spilled.
func Allocate(m *ir.Module, f *ir.Func) *Alloc {
	a := &allocator{
		m: m,
		Alloc: &Alloc{
			Regs: map[ir.Value]Reg{},
			Live: map[ir.BlockID]map[ir.Value]Interval{},
		},
	}

	a.victims.Less = func(d []ir.Value, i, j int) bool {
		li, lj := a.live[d[i]], a.live[d[j]]

		if li.End != lj.End {
			return li.End > lj.End
		}

		return d[i] > d[j]
	}

	for _, b := range f.Blocks {
		a.block(b)
	}

	return a.Alloc
}

func (a *allocator) block(b ir.BlockID) {
	a.live = Liveness(a.m, b)
	a.Live[b] = a.live

	for r := range a.holder {
		a.holder[r] = ir.NoValue
	}

	a.victims.Data = a.victims.Data[:0]

	for i, v := range a.m.Code(b) {
		x := a.m.Instr(v)

		if iv, ok := a.live[v]; ok {
			a.assign(v, x, i, iv)
		}

		for _, arg := range x.Args {
			if !arg.IsValue() {
				continue
			}

			if iv, ok := a.live[arg.Value]; !ok || iv.End != i {
				continue
			}

			r := a.Regs[arg.Value]
			if r != Spill && a.holder[r] == arg.Value {
				a.holder[r] = ir.NoValue
			}
		}
	}
}

func (a *allocator) assign(v ir.Value, x *ir.Instr, i int, iv Interval) {
	switch x.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul:
		op := x.Args[0]
		if !op.IsValue() {
			break
		}

		if l, ok := a.live[op.Value]; !ok || l.End != i {
			break
		}

		r, ok := a.Regs[op.Value]
		if !ok || r == Spill || a.holder[r] != op.Value {
			break
		}

		a.take(r, v)

		tlog.V("regalloc").Printw("reuse register", "v", v, "reg", r, "from", op.Value)

		return
	}

	for r := range a.holder {
		if a.holder[r] == ir.NoValue {
			a.take(Reg(r), v)
			return
		}
	}

	victim := a.victim()

	if iv.End > a.live[victim].End {
		r := a.Regs[victim]

		a.Regs[victim] = Spill
		a.victims.Pop()

		a.take(r, v)

		tlog.V("regalloc").Printw("spill", "victim", victim, "reg", r, "for", v, "from", loc.Caller(1))

		return
	}

	a.Regs[v] = Spill

	tlog.V("regalloc").Printw("spill", "v", v, "victim", victim)
}

func (a *allocator) take(r Reg, v ir.Value) {
	a.holder[r] = v
	a.Regs[v] = r
	a.victims.Push(v)
}

// victim returns the register holder with the latest end.
// Heap entries released since they were pushed are dropped here.
func (a *allocator) victim() ir.Value {
	for {
		v := a.victims.Data[0]

		if r := a.Regs[v]; r != Spill && a.holder[r] == v {
			return v
		}

		a.victims.Pop()
	}
}

func (r Reg) String() string {
	if r == Spill {
		return "spill"
	}

	if r >= 0 && int(r) < len(regNames) {
		return regNames[r]
	}

	return "%?"
}

func (r Reg) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	return e.AppendString(b, r.String())
}

func (iv Interval) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 2)
	b = e.AppendKeyInt(b, "start", iv.Start)
	b = e.AppendKeyInt(b, "end", iv.End)

	return b
}
