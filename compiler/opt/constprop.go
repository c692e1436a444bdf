package opt

import (
	"tlog.app/go/tlog"

	"github.com/slowlang/minic/compiler/cfg"
	"github.com/slowlang/minic/compiler/ir"
	"github.com/slowlang/minic/compiler/set"
)

// ConstProp replaces loads whose reaching stores all store the same constant.
func (o *Optimizer) ConstProp(f *ir.Func) bool {
	o.reachingStores(f)

	var dead []ir.Value

	for i, b := range f.Blocks {
		reach := o.in[i].Copy()

		for _, v := range o.m.Code(b) {
			x := o.m.Instr(v)

			switch x.Op {
			case ir.OpStore:
				addr := x.Args[1].Value

				for _, s := range o.stores[addr] {
					reach.Clear(s)
				}

				reach.Set(v)
			case ir.OpLoad:
				c, ok := o.reachingConst(reach, x.Args[0].Value)
				if !ok {
					continue
				}

				tlog.V("constprop").Printw("propagate constant", "load", v, "block", b, "const", c)

				o.m.ReplaceUses(v, ir.Const(c))
				dead = append(dead, v)
			}
		}
	}

	return o.m.RemoveAll(dead)
}

func (o *Optimizer) reachingConst(reach set.Bits[ir.Value], addr ir.Value) (c int32, ok bool) {
	for _, s := range o.stores[addr] {
		if !reach.IsSet(s) {
			continue
		}

		val := o.m.Instr(s).Args[0]

		if !val.IsConst() || ok && val.Const != c {
			return 0, false
		}

		c, ok = val.Const, true
	}

	return c, ok
}

// reachingStores computes gen, kill, in and out sets of stores for f.
func (o *Optimizer) reachingStores(f *ir.Func) {
	o.g = cfg.Build(o.m, f)

	n := len(f.Blocks)

	o.pos = make(map[ir.BlockID]int, n)
	o.stores = make(map[ir.Value][]ir.Value)
	o.gen = resize(o.gen, n)
	o.kill = resize(o.kill, n)
	o.in = resize(o.in, n)
	o.out = resize(o.out, n)

	for i, b := range f.Blocks {
		o.pos[b] = i

		for _, v := range o.m.Code(b) {
			x := o.m.Instr(v)
			if x.Op != ir.OpStore {
				continue
			}

			addr := x.Args[1].Value
			o.stores[addr] = append(o.stores[addr], v)
		}
	}

	for i, b := range f.Blocks {
		o.genKill(i, b)
	}

	for i := range f.Blocks {
		o.out[i].Merge(o.gen[i])
	}

	for iter := 1; ; iter++ {
		changed := false

		for i, b := range f.Blocks {
			o.in[i].Reset()

			for _, p := range o.g.Pred[b] {
				o.in[i].Merge(o.out[o.pos[p]])
			}

			out := o.in[i].Copy()
			out.Substract(o.kill[i])
			out.Merge(o.gen[i])

			if out.Equal(o.out[i]) {
				continue
			}

			o.out[i] = out
			changed = true
		}

		if !changed {
			tlog.V("constprop").Printw("reaching stores", "func", f.Name, "iters", iter, "stores", len(o.stores))

			return
		}
	}
}

func (o *Optimizer) genKill(i int, b ir.BlockID) {
	gen := &o.gen[i]
	kill := &o.kill[i]

	for _, v := range o.m.Code(b) {
		x := o.m.Instr(v)
		if x.Op != ir.OpStore {
			continue
		}

		addr := x.Args[1].Value

		for _, s := range o.stores[addr] {
			gen.Clear(s)

			if s != v {
				kill.Set(s)
			}
		}

		gen.Set(v)
	}
}

func resize(l []set.Bits[ir.Value], n int) []set.Bits[ir.Value] {
	if cap(l) < n {
		return make([]set.Bits[ir.Value], n)
	}

	l = l[:n]

	for i := range l {
		l[i] = set.Bits[ir.Value]{}
	}

	return l
}
