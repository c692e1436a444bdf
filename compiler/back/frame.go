package back

import (
	"github.com/slowlang/minic/compiler/ir"
)

type (
	// Frame maps memory-resident values to offsets from %ebp.
	Frame struct {
		Offsets map[ir.Value]int32
		Size    int32

		Param ir.Value // alloca holding the incoming parameter, or NoValue
	}
)

const (
	ParamOffset = 8
	SlotSize    = 4
)

// Layout gives the parameter alloca its caller-pushed slot
// and every other alloca and spilled value its own slot below the frame base,
// allocas first, in code order.
func Layout(m *ir.Module, f *ir.Func, a *Alloc) *Frame {
	fr := &Frame{
		Offsets: map[ir.Value]int32{},
		Param:   paramSlot(m, f),
	}

	if fr.Param != ir.NoValue {
		fr.Offsets[fr.Param] = ParamOffset
	}

	next := func(v ir.Value) {
		fr.Size += SlotSize
		fr.Offsets[v] = -fr.Size
	}

	for _, b := range f.Blocks {
		for _, v := range m.Code(b) {
			if m.Instr(v).Op == ir.OpAlloca && v != fr.Param {
				next(v)
			}
		}
	}

	for _, b := range f.Blocks {
		for _, v := range m.Code(b) {
			if r, ok := a.Regs[v]; ok && r == Spill {
				next(v)
			}
		}
	}

	return fr
}

// paramSlot finds the alloca the incoming parameter is stored to.
func paramSlot(m *ir.Module, f *ir.Func) ir.Value {
	if f.Param == "" {
		return ir.NoValue
	}

	for _, v := range m.Code(f.Entry()) {
		x := m.Instr(v)

		if x.Op == ir.OpStore && x.Args[0].Kind == ir.KindParam {
			return x.Args[1].Value
		}
	}

	return ir.NoValue
}
