package format

import (
	"github.com/nikandfor/hacked/hfmt"

	"github.com/slowlang/minic/compiler/ir"
)

type (
	irNames struct {
		vals   map[ir.Value]int
		blocks map[ir.BlockID]int
	}
)

// IR renders the module as text.
// Blocks and values are renumbered in order so the output
// depends only on the program, not on the history of transformations.
func IR(b []byte, m *ir.Module) []byte {
	b = app(b, 0, "module %s\n", m.Name)

	for _, e := range m.Externs {
		res, param := "void", ""

		if e.Result {
			res = "int"
		}

		if e.Param {
			param = "int"
		}

		b = app(b, 0, "extern %s %s(%s)\n", res, e.Name, param)
	}

	for _, f := range m.Funcs {
		b = irFunc(b, m, f)
	}

	return b
}

func irFunc(b []byte, m *ir.Module, f *ir.Func) []byte {
	n := irNames{
		vals:   map[ir.Value]int{},
		blocks: map[ir.BlockID]int{},
	}

	for i, blk := range f.Blocks {
		n.blocks[blk] = i

		for _, v := range m.Code(blk) {
			if defines(m, v) {
				n.vals[v] = len(n.vals)
			}
		}
	}

	b = app(b, 0, "\nfunc %s(%s) {\n", f.Name, f.Param)

	for _, blk := range f.Blocks {
		b = app(b, 0, "bb%d:", n.blocks[blk])

		if blk == f.Return {
			b = append(b, " ; return"...)
		}

		b = append(b, '\n')

		for _, v := range m.Code(blk) {
			b = irInstr(b, m, &n, v)
		}
	}

	b = append(b, "}\n"...)

	return b
}

func irInstr(b []byte, m *ir.Module, n *irNames, v ir.Value) []byte {
	x := m.Instr(v)

	b = append(b, '\t')

	if id, ok := n.vals[v]; ok {
		b = hfmt.Appendf(b, "%%%d = ", id)
	}

	b = append(b, x.Op.String()...)

	switch x.Op {
	case ir.OpAlloca:
		b = app(b, 0, " %s", x.Name)
	case ir.OpCmp:
		b = app(b, 0, " %s", x.Cond.String())
	case ir.OpCall:
		b = app(b, 0, " %s", x.Callee)
	}

	for i, a := range x.Args {
		if i == 0 {
			b = append(b, ' ')
		} else {
			b = append(b, ", "...)
		}

		b = n.operand(b, a)
	}

	b = append(b, '\n')

	return b
}

func (n *irNames) operand(b []byte, a ir.Operand) []byte {
	switch a.Kind {
	case ir.KindValue:
		if id, ok := n.vals[a.Value]; ok {
			return hfmt.Appendf(b, "%%%d", id)
		}

		return hfmt.Appendf(b, "%%?%d", int(a.Value))
	case ir.KindBlock:
		if id, ok := n.blocks[a.Block]; ok {
			return hfmt.Appendf(b, "bb%d", id)
		}

		return hfmt.Appendf(b, "bb?%d", int(a.Block))
	case ir.KindConst:
		return hfmt.Appendf(b, "%d", a.Const)
	case ir.KindParam:
		return append(b, "%param"...)
	default:
		panic(a)
	}
}

// defines reports whether the instruction produces a value other instructions may refer to.
func defines(m *ir.Module, v ir.Value) bool {
	x := m.Instr(v)

	switch x.Op {
	case ir.OpStore, ir.OpBr, ir.OpCondBr, ir.OpRet:
		return false
	case ir.OpCall:
		e, ok := m.LookupExtern(x.Callee)

		return !ok || e.Result
	default:
		return true
	}
}
