package ir

import "fmt"

type (
	// Value is a handle of an instruction in the Module arena.
	// It stays valid after the instruction is removed from its block.
	Value int

	// BlockID is a handle of a basic block in the Module arena.
	BlockID int

	Op   uint8
	Cond uint8

	OperandKind uint8

	Operand struct {
		Kind  OperandKind
		Value Value
		Block BlockID
		Const int32
	}

	Instr struct {
		Op   Op
		Cond Cond

		Args []Operand

		Callee string // OpCall
		Name   string // OpAlloca

		Block BlockID // NoBlock if removed
	}

	Block struct {
		Code []Value

		Func *Func
	}

	Extern struct {
		Name   string
		Param  bool
		Result bool
	}

	Func struct {
		Name  string
		Param string

		Blocks []BlockID
		Return BlockID
	}

	Module struct {
		Name string

		Externs []Extern
		Funcs   []*Func

		Instrs []Instr `tlog:"-"`
		Blocks []Block `tlog:"-"`
	}
)

const (
	NoBlock BlockID = -1
	NoValue Value   = -1
)

const (
	OpInvalid Op = iota
	OpAlloca
	OpLoad
	OpStore
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpCmp
	OpCall
	OpBr
	OpCondBr
	OpRet
)

const (
	CondLT Cond = iota
	CondGT
	CondLE
	CondGE
	CondEQ
	CondNE
)

const (
	KindInvalid OperandKind = iota
	KindValue
	KindBlock
	KindConst
	KindParam
)

var opNames = [...]string{
	OpInvalid: "invalid",
	OpAlloca:  "alloca",
	OpLoad:    "load",
	OpStore:   "store",
	OpAdd:     "add",
	OpSub:     "sub",
	OpMul:     "mul",
	OpDiv:     "div",
	OpCmp:     "cmp",
	OpCall:    "call",
	OpBr:      "br",
	OpCondBr:  "condbr",
	OpRet:     "ret",
}

var condNames = [...]string{
	CondLT: "lt",
	CondGT: "gt",
	CondLE: "le",
	CondGE: "ge",
	CondEQ: "eq",
	CondNE: "ne",
}

func Ref(v Value) Operand        { return Operand{Kind: KindValue, Value: v} }
func Const(c int32) Operand      { return Operand{Kind: KindConst, Const: c} }
func BlockRef(b BlockID) Operand { return Operand{Kind: KindBlock, Block: b} }
func Param() Operand             { return Operand{Kind: KindParam} }

func (x Operand) IsValue() bool { return x.Kind == KindValue }
func (x Operand) IsConst() bool { return x.Kind == KindConst }

func (x Operand) String() string {
	switch x.Kind {
	case KindValue:
		return fmt.Sprintf("%%%d", x.Value)
	case KindBlock:
		return fmt.Sprintf("bb%d", x.Block)
	case KindConst:
		return fmt.Sprintf("%d", x.Const)
	case KindParam:
		return "%param"
	default:
		return "<invalid>"
	}
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}

	return fmt.Sprintf("op(%d)", int(op))
}

func (op Op) IsTerminator() bool {
	return op == OpBr || op == OpCondBr || op == OpRet
}

// IsArith reports the binary arithmetic ops.
func (op Op) IsArith() bool {
	return op >= OpAdd && op <= OpDiv
}

func (c Cond) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}

	return fmt.Sprintf("cond(%d)", int(c))
}

// Eval applies the comparison to constant operands.
func (c Cond) Eval(l, r int32) bool {
	switch c {
	case CondLT:
		return l < r
	case CondGT:
		return l > r
	case CondLE:
		return l <= r
	case CondGE:
		return l >= r
	case CondEQ:
		return l == r
	case CondNE:
		return l != r
	default:
		panic(c)
	}
}

// Fold computes add/sub/mul over 32-bit wrapping integers.
// Division is never folded.
func Fold(op Op, l, r int32) (int32, bool) {
	switch op {
	case OpAdd:
		return l + r, true
	case OpSub:
		return l - r, true
	case OpMul:
		return l * r, true
	default:
		return 0, false
	}
}
