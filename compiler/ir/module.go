package ir

import (
	"tlog.app/go/loc"
	"tlog.app/go/tlog"
)

func NewModule(name string) *Module {
	return &Module{Name: name}
}

func (m *Module) AddExtern(name string, param, result bool) {
	m.Externs = append(m.Externs, Extern{Name: name, Param: param, Result: result})
}

func (m *Module) LookupExtern(name string) (Extern, bool) {
	for _, e := range m.Externs {
		if e.Name == name {
			return e, true
		}
	}

	return Extern{}, false
}

func (m *Module) NewFunc(name, param string) *Func {
	f := &Func{
		Name:   name,
		Param:  param,
		Return: NoBlock,
	}

	m.Funcs = append(m.Funcs, f)

	return f
}

// NewBlock allocates a block and appends it to the function block order.
func (m *Module) NewBlock(f *Func) BlockID {
	id := BlockID(len(m.Blocks))
	m.Blocks = append(m.Blocks, Block{Func: f})

	f.Blocks = append(f.Blocks, id)

	return id
}

func (m *Module) Instr(v Value) *Instr {
	return &m.Instrs[v]
}

func (m *Module) Code(b BlockID) []Value {
	return m.Blocks[b].Code
}

// Live reports whether the instruction is still placed in a block.
func (m *Module) Live(v Value) bool {
	return m.Instrs[v].Block != NoBlock
}

func (m *Module) Append(b BlockID, x Instr) Value {
	id := Value(len(m.Instrs))

	x.Block = b
	m.Instrs = append(m.Instrs, x)

	m.Blocks[b].Code = append(m.Blocks[b].Code, id)

	return id
}

func (m *Module) Alloca(b BlockID, name string) Value {
	return m.Append(b, Instr{Op: OpAlloca, Name: name})
}

func (m *Module) Load(b BlockID, addr Value) Value {
	return m.Append(b, Instr{Op: OpLoad, Args: []Operand{Ref(addr)}})
}

func (m *Module) Store(b BlockID, val Operand, addr Value) Value {
	return m.Append(b, Instr{Op: OpStore, Args: []Operand{val, Ref(addr)}})
}

func (m *Module) Binary(b BlockID, op Op, l, r Operand) Value {
	if !op.IsArith() {
		panic(op)
	}

	return m.Append(b, Instr{Op: op, Args: []Operand{l, r}})
}

func (m *Module) Cmp(b BlockID, c Cond, l, r Operand) Value {
	return m.Append(b, Instr{Op: OpCmp, Cond: c, Args: []Operand{l, r}})
}

func (m *Module) Call(b BlockID, callee string, args ...Operand) Value {
	return m.Append(b, Instr{Op: OpCall, Callee: callee, Args: args})
}

func (m *Module) Br(b, to BlockID) Value {
	return m.Append(b, Instr{Op: OpBr, Args: []Operand{BlockRef(to)}})
}

func (m *Module) CondBr(b BlockID, cond Value, yes, no BlockID) Value {
	return m.Append(b, Instr{Op: OpCondBr, Args: []Operand{Ref(cond), BlockRef(yes), BlockRef(no)}})
}

func (m *Module) Ret(b BlockID, x Operand) Value {
	return m.Append(b, Instr{Op: OpRet, Args: []Operand{x}})
}

// Terminator returns the last instruction of the block if it is a terminator.
func (m *Module) Terminator(b BlockID) (Value, bool) {
	code := m.Blocks[b].Code
	if len(code) == 0 {
		return NoValue, false
	}

	last := code[len(code)-1]

	return last, m.Instrs[last].Op.IsTerminator()
}

// Remove detaches the instruction from its block.
// Its handle stays valid and keeps its operands.
func (m *Module) Remove(v Value) {
	x := &m.Instrs[v]
	if x.Block == NoBlock {
		return
	}

	tlog.V("ir_remove").Printw("remove instr", "v", v, "op", x.Op, "block", x.Block, "from", loc.Caller(1))

	bp := &m.Blocks[x.Block]

	for i, id := range bp.Code {
		if id == v {
			bp.Code = append(bp.Code[:i], bp.Code[i+1:]...)
			break
		}
	}

	x.Block = NoBlock
}

// RemoveAll removes the instructions and reports whether there were any.
func (m *Module) RemoveAll(l []Value) bool {
	for _, v := range l {
		m.Remove(v)
	}

	return len(l) != 0
}

// TruncateBlock removes every instruction of b starting at position i.
func (m *Module) TruncateBlock(b BlockID, i int) {
	bp := &m.Blocks[b]

	for _, v := range bp.Code[i:] {
		m.Instrs[v].Block = NoBlock
	}

	bp.Code = bp.Code[:i]
}

// ReplaceUses rewrites every operand referring to old in live instructions.
func (m *Module) ReplaceUses(old Value, with Operand) (n int) {
	for i := range m.Instrs {
		x := &m.Instrs[i]
		if x.Block == NoBlock {
			continue
		}

		for j, a := range x.Args {
			if a.Kind == KindValue && a.Value == old {
				x.Args[j] = with
				n++
			}
		}
	}

	return n
}

// RemoveBlock deletes the block with all its instructions from the function.
func (m *Module) RemoveBlock(f *Func, b BlockID) {
	m.TruncateBlock(b, 0)

	for i, id := range f.Blocks {
		if id == b {
			f.Blocks = append(f.Blocks[:i], f.Blocks[i+1:]...)
			break
		}
	}

	m.Blocks[b].Func = nil

	if f.Return == b {
		f.Return = NoBlock
	}
}

// Splice moves all instructions of src onto the end of dst.
// src is left empty.
func (m *Module) Splice(dst, src BlockID) {
	sp := &m.Blocks[src]

	for _, v := range sp.Code {
		m.Instrs[v].Block = dst
	}

	m.Blocks[dst].Code = append(m.Blocks[dst].Code, sp.Code...)
	sp.Code = nil
}

// MoveToEnd places b last in the function block order.
func (m *Module) MoveToEnd(f *Func, b BlockID) {
	for i, id := range f.Blocks {
		if id != b {
			continue
		}

		copy(f.Blocks[i:], f.Blocks[i+1:])
		f.Blocks[len(f.Blocks)-1] = b

		return
	}
}

func (f *Func) Entry() BlockID {
	if len(f.Blocks) == 0 {
		return NoBlock
	}

	return f.Blocks[0]
}

// Len is the number of live instructions in the function.
func (m *Module) Len(f *Func) (n int) {
	for _, b := range f.Blocks {
		n += len(m.Blocks[b].Code)
	}

	return n
}
