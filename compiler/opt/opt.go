package opt

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/minic/compiler/cfg"
	"github.com/slowlang/minic/compiler/ir"
	"github.com/slowlang/minic/compiler/set"
)

type (
	// Optimizer owns the state of all passes over one module.
	// The state is rebuilt, never updated incrementally.
	Optimizer struct {
		Simplify  bool
		MaxRounds int // 0 is unlimited

		m *ir.Module

		used   set.Bits[ir.Value] // values referenced as operands
		loaded set.Bits[ir.Value] // addresses read by a load

		// constant propagation state of the current function
		// indexed by block position
		g      *cfg.Graph
		pos    map[ir.BlockID]int
		stores map[ir.Value][]ir.Value // address -> stores
		gen    []set.Bits[ir.Value]
		kill   []set.Bits[ir.Value]
		in     []set.Bits[ir.Value]
		out    []set.Bits[ir.Value]
	}
)

var ErrNoFixedPoint = errors.New("no fixed point")

func New(m *ir.Module) *Optimizer {
	return &Optimizer{
		Simplify: true,
		m:        m,
	}
}

// Run simplifies control flow once and then runs optimization rounds
// until a round changes nothing.
func (o *Optimizer) Run(ctx context.Context) (rounds int, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "optimize", "module", o.m.Name)
	defer tr.Finish("rounds", &rounds, "err", &err)

	for _, f := range o.m.Funcs {
		if o.Simplify {
			cfg.Simplify(ctx, o.m, f)
		} else {
			cfg.DeadTerminators(o.m, f)
		}
	}

	for {
		if o.MaxRounds != 0 && rounds == o.MaxRounds {
			return rounds, errors.Wrap(ErrNoFixedPoint, "after %d rounds", rounds)
		}

		rounds++

		changed := o.Round(ctx)

		if tr.If("opt_rounds") {
			tr.Printw("round", "n", rounds, "changed", changed)
		}

		if !changed {
			return rounds, nil
		}
	}
}

// Round runs every pass once over the whole module.
func (o *Optimizer) Round(ctx context.Context) (changed bool) {
	o.collectUses()

	changed = o.local(o.DCE) || changed
	changed = o.local(o.CSE) || changed
	changed = o.local(o.Fold) || changed

	for _, f := range o.m.Funcs {
		changed = o.ConstProp(f) || changed
	}

	return changed
}

func (o *Optimizer) local(pass func(b ir.BlockID) bool) (changed bool) {
	for _, f := range o.m.Funcs {
		for _, b := range f.Blocks {
			changed = pass(b) || changed
		}
	}

	return changed
}

func (o *Optimizer) collectUses() {
	o.used.Reset()
	o.loaded.Reset()

	for _, f := range o.m.Funcs {
		for _, b := range f.Blocks {
			for _, v := range o.m.Code(b) {
				x := o.m.Instr(v)

				for _, a := range x.Args {
					if a.IsValue() {
						o.used.Set(a.Value)
					}
				}

				if x.Op == ir.OpLoad {
					o.loaded.Set(x.Args[0].Value)
				}
			}
		}
	}
}

// DCE removes instructions after the first terminator,
// values nobody reads and stores to addresses nobody loads.
// It repeats until nothing more becomes dead.
func (o *Optimizer) DCE(b ir.BlockID) (changed bool) {
	for {
		var dead []ir.Value
		term := false

		for _, v := range o.m.Code(b) {
			if term {
				dead = append(dead, v)
				continue
			}

			x := o.m.Instr(v)

			switch x.Op {
			case ir.OpBr, ir.OpCondBr, ir.OpRet:
				term = true
			case ir.OpAlloca, ir.OpCall:
			case ir.OpStore:
				if !o.loaded.IsSet(x.Args[1].Value) {
					dead = append(dead, v)
				}
			case ir.OpLoad, ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpCmp:
				if !o.used.IsSet(v) {
					dead = append(dead, v)
				}
			default:
				panic(x.Op)
			}
		}

		if len(dead) != 0 {
			tlog.V("dce").Printw("dead code", "block", b, "values", dead)
		}

		if !o.m.RemoveAll(dead) {
			return changed
		}

		changed = true

		o.collectUses()
	}
}

// CSE replaces repeated loads of an address and repeated computations
// with the first occurrence.
// A store invalidates the loads of its exact address only.
func (o *Optimizer) CSE(b ir.BlockID) (changed bool) {
	loads := map[ir.Value]ir.Value{}
	byOp := map[ir.Op][]ir.Value{}

	var dead []ir.Value

	replace := func(v, with ir.Value) {
		tlog.V("cse").Printw("common subexpression", "v", v, "with", with, "op", o.m.Instr(v).Op)

		o.m.ReplaceUses(v, ir.Ref(with))
		dead = append(dead, v)
	}

loop:
	for _, v := range o.m.Code(b) {
		x := o.m.Instr(v)

		switch x.Op {
		case ir.OpAlloca, ir.OpCall, ir.OpBr, ir.OpCondBr, ir.OpRet:
			continue
		case ir.OpStore:
			delete(loads, x.Args[1].Value)
			continue
		case ir.OpLoad:
			addr := x.Args[0].Value

			if prev, ok := loads[addr]; ok {
				replace(v, prev)
			} else {
				loads[addr] = v
			}

			continue
		case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpCmp:
		default:
			panic(x.Op)
		}

		for _, p := range byOp[x.Op] {
			if same(x, o.m.Instr(p)) {
				replace(v, p)
				continue loop
			}
		}

		byOp[x.Op] = append(byOp[x.Op], v)
	}

	return o.m.RemoveAll(dead)
}

func same(x, y *ir.Instr) bool {
	if x.Op != y.Op || x.Cond != y.Cond || len(x.Args) != len(y.Args) {
		return false
	}

	for i := range x.Args {
		if x.Args[i] != y.Args[i] {
			return false
		}
	}

	return true
}

// Fold replaces add, sub and mul of two constants with the result.
func (o *Optimizer) Fold(b ir.BlockID) (changed bool) {
	var dead []ir.Value

	for _, v := range o.m.Code(b) {
		x := o.m.Instr(v)

		if !x.Op.IsArith() || !x.Args[0].IsConst() || !x.Args[1].IsConst() {
			continue
		}

		r, ok := ir.Fold(x.Op, x.Args[0].Const, x.Args[1].Const)
		if !ok {
			continue
		}

		tlog.V("fold").Printw("fold constant", "v", v, "op", x.Op, "l", x.Args[0].Const, "r", x.Args[1].Const, "res", r)

		o.m.ReplaceUses(v, ir.Const(r))
		dead = append(dead, v)
	}

	return o.m.RemoveAll(dead)
}
