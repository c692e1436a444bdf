package ir

import (
	"tlog.app/go/errors"
)

type (
	// Machine executes a function directly on the IR.
	// It exists to compare program behaviour before and after transformations.
	Machine struct {
		Input  []int32
		Output []int32

		MaxSteps int

		mem  map[Value]int32
		vals map[Value]int32
	}
)

var (
	ErrStepLimit    = errors.New("step limit exceeded")
	ErrNoInput      = errors.New("input exhausted")
	ErrDivideByZero = errors.New("division by zero")
)

func (x *Machine) Run(m *Module, f *Func, param int32) (ret int32, err error) {
	x.mem = make(map[Value]int32)
	x.vals = make(map[Value]int32)

	limit := x.MaxSteps
	if limit == 0 {
		limit = 1 << 20
	}

	eval := func(a Operand) int32 {
		switch a.Kind {
		case KindConst:
			return a.Const
		case KindParam:
			return param
		case KindValue:
			return x.vals[a.Value]
		default:
			panic(a)
		}
	}

	b := f.Entry()
	if b == NoBlock {
		return 0, errors.New("func %v: no blocks", f.Name)
	}

	for steps := 0; ; {
		code := m.Blocks[b].Code
		next := NoBlock

		for _, v := range code {
			steps++
			if steps > limit {
				return 0, ErrStepLimit
			}

			in := &m.Instrs[v]

			switch in.Op {
			case OpAlloca:
			case OpLoad:
				x.vals[v] = x.mem[in.Args[0].Value]
			case OpStore:
				x.mem[in.Args[1].Value] = eval(in.Args[0])
			case OpAdd, OpSub, OpMul:
				r, _ := Fold(in.Op, eval(in.Args[0]), eval(in.Args[1]))
				x.vals[v] = r
			case OpDiv:
				d := eval(in.Args[1])
				if d == 0 {
					return 0, ErrDivideByZero
				}

				x.vals[v] = eval(in.Args[0]) / d
			case OpCmp:
				if in.Cond.Eval(eval(in.Args[0]), eval(in.Args[1])) {
					x.vals[v] = 1
				} else {
					x.vals[v] = 0
				}
			case OpCall:
				err = x.call(v, in, eval)
				if err != nil {
					return 0, errors.Wrap(err, "call %v", in.Callee)
				}
			case OpBr:
				next = in.Args[0].Block
			case OpCondBr:
				if eval(in.Args[0]) != 0 {
					next = in.Args[1].Block
				} else {
					next = in.Args[2].Block
				}
			case OpRet:
				return eval(in.Args[0]), nil
			default:
				panic(in.Op)
			}

			if next != NoBlock {
				break
			}
		}

		if next == NoBlock {
			return 0, errors.New("block %d: fell off without terminator", b)
		}

		b = next
	}
}

func (x *Machine) call(v Value, in *Instr, eval func(Operand) int32) error {
	switch in.Callee {
	case "print":
		x.Output = append(x.Output, eval(in.Args[0]))
	case "read":
		if len(x.Input) == 0 {
			return ErrNoInput
		}

		x.vals[v] = x.Input[0]
		x.Input = x.Input[1:]
	default:
		return errors.New("unknown function")
	}

	return nil
}
