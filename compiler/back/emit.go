package back

import (
	"context"
	"fmt"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/minic/compiler/ir"
)

type (
	Compiler struct{}

	funContext struct {
		*ir.Module
		f *ir.Func

		*Alloc
		*Frame

		labels map[ir.BlockID]string
		exit   string
	}
)

var condJumps = [...]string{
	ir.CondLT: "jl",
	ir.CondGT: "jg",
	ir.CondLE: "jle",
	ir.CondGE: "jge",
	ir.CondEQ: "je",
	ir.CondNE: "jne",
}

var arithOps = [...]string{
	ir.OpAdd: "addl",
	ir.OpSub: "subl",
	ir.OpMul: "imull",
}

func New() *Compiler {
	return &Compiler{}
}

// CompileModule appends x86-32 AT&T assembly of every function of m to b.
func (c *Compiler) CompileModule(ctx context.Context, b []byte, m *ir.Module) (_ []byte, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "back: compile module", "name", m.Name)
	defer tr.Finish("err", &err)

	b = hfmt.Appendf(b, "# module %s\n\t.text\n", m.Name)

	for _, f := range m.Funcs {
		b, err = c.compileFunc(ctx, b, m, f)
		if err != nil {
			return nil, errors.Wrap(err, "func %v", f.Name)
		}
	}

	if tr.If("omit_out") {
		b = nil
	}

	return b, nil
}

func (c *Compiler) compileFunc(ctx context.Context, b []byte, m *ir.Module, f *ir.Func) (_ []byte, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "compile func", "name", f.Name, "blocks", len(f.Blocks))
	defer tr.Finish("err", &err)

	if len(f.Blocks) == 0 {
		return nil, errors.New("no blocks")
	}

	a := Allocate(m, f)

	fc := &funContext{
		Module: m,
		f:      f,
		Alloc:  a,
		Frame:  Layout(m, f, a),
		labels: map[ir.BlockID]string{},
		exit:   fmt.Sprintf(".L%s_ret", f.Name),
	}

	if tr.If("dump_regs") {
		for _, blk := range f.Blocks {
			for _, v := range m.Code(blk) {
				r, ok := a.Regs[v]
				if !ok {
					continue
				}

				tr.Printw("value", "block", blk, "v", v, "op", m.Instr(v).Op, "live", a.Live[blk][v], "reg", r, "offset", fc.Offsets[v])
			}
		}
	}

	for i, blk := range f.Blocks {
		if i == 0 {
			fc.labels[blk] = f.Name
		} else {
			fc.labels[blk] = fmt.Sprintf(".L%s_%d", f.Name, i)
		}
	}

	b = hfmt.Appendf(b, "\n\t.globl\t%s\n\t.type\t%s, @function\n", f.Name, f.Name)

	for i, blk := range f.Blocks {
		b = hfmt.Appendf(b, "%s:\n", fc.labels[blk])

		if i == 0 {
			b = fc.prologue(b)
		}

		code := m.Code(blk)

		for j, v := range code {
			last := i == len(f.Blocks)-1 && j == len(code)-1

			b = fc.instr(b, code, j, v, last)
		}
	}

	b = fc.epilogue(b)

	b = hfmt.Appendf(b, "\t.size\t%s, .-%s\n", f.Name, f.Name)

	return b, nil
}

func (fc *funContext) prologue(b []byte) []byte {
	b = append(b, "\tpushl\t%ebp\n\tmovl\t%esp, %ebp\n"...)

	if fc.Size != 0 {
		b = hfmt.Appendf(b, "\tsubl\t$%d, %%esp\n", fc.Size)
	}

	b = append(b, "\tpushl\t%ebx\n"...)

	return b
}

func (fc *funContext) epilogue(b []byte) []byte {
	b = hfmt.Appendf(b, "%s:\n", fc.exit)
	b = append(b, "\tpopl\t%ebx\n\tmovl\t%ebp, %esp\n\tpopl\t%ebp\n\tret\n"...)

	return b
}

func (fc *funContext) instr(b []byte, code []ir.Value, j int, v ir.Value, last bool) []byte {
	x := fc.Instr(v)

	switch x.Op {
	case ir.OpAlloca:
	case ir.OpLoad:
		dst, ok := fc.dest(v)
		if !ok {
			break
		}

		src := fc.addr(x.Args[0].Value)

		b = move(b, src, dst)
	case ir.OpStore:
		addr := x.Args[1].Value

		if x.Args[0].Kind == ir.KindParam && addr == fc.Param {
			break
		}

		b = move(b, fc.operand(x.Args[0]), fc.addr(addr))
	case ir.OpAdd, ir.OpSub, ir.OpMul:
		dst, ok := fc.dest(v)
		if !ok {
			break
		}

		r := dst
		if fc.Regs[v] == Spill {
			r = regNames[EAX]
		}

		if l := fc.operand(x.Args[0]); l != r {
			b = mov(b, l, r)
		}

		b = hfmt.Appendf(b, "\t%s\t%s, %s\n", arithOps[x.Op], fc.operand(x.Args[1]), r)

		if r != dst {
			b = mov(b, r, dst)
		}
	case ir.OpDiv:
		dst, ok := fc.dest(v)
		if !ok {
			break
		}

		save := fc.Regs[v] != EDX

		if save {
			b = append(b, "\tpushl\t%edx\n"...)
		}

		b = hfmt.Appendf(b, "\tpushl\t%s\n", fc.operand(x.Args[1]))
		b = mov(b, fc.operand(x.Args[0]), regNames[EAX])
		b = append(b, "\tcltd\n\tidivl\t(%esp)\n\taddl\t$4, %esp\n"...)

		if save {
			b = append(b, "\tpopl\t%edx\n"...)
		}

		b = mov(b, regNames[EAX], dst)
	case ir.OpCmp:
		b = mov(b, fc.operand(x.Args[0]), regNames[EAX])
		b = hfmt.Appendf(b, "\tcmpl\t%s, %%eax\n", fc.operand(x.Args[1]))
	case ir.OpCall:
		b = append(b, "\tpushl\t%ebx\n\tpushl\t%ecx\n\tpushl\t%edx\n"...)

		for k := len(x.Args) - 1; k >= 0; k-- {
			b = hfmt.Appendf(b, "\tpushl\t%s\n", fc.operand(x.Args[k]))
		}

		b = hfmt.Appendf(b, "\tcall\t%s\n", x.Callee)

		if len(x.Args) != 0 {
			b = hfmt.Appendf(b, "\taddl\t$%d, %%esp\n", SlotSize*len(x.Args))
		}

		b = append(b, "\tpopl\t%edx\n\tpopl\t%ecx\n\tpopl\t%ebx\n"...)

		if dst, ok := fc.dest(v); ok {
			b = mov(b, regNames[EAX], dst)
		}
	case ir.OpBr:
		b = hfmt.Appendf(b, "\tjmp\t%s\n", fc.labels[x.Args[0].Block])
	case ir.OpCondBr:
		c := x.Args[0].Value

		if j == 0 || code[j-1] != c {
			panic(x)
		}

		cond := fc.Instr(c).Cond

		b = hfmt.Appendf(b, "\t%s\t%s\n", condJumps[cond], fc.labels[x.Args[1].Block])
		b = hfmt.Appendf(b, "\tjmp\t%s\n", fc.labels[x.Args[2].Block])
	case ir.OpRet:
		if len(x.Args) != 1 {
			panic(x)
		}

		b = mov(b, fc.operand(x.Args[0]), regNames[EAX])

		if !last {
			b = hfmt.Appendf(b, "\tjmp\t%s\n", fc.exit)
		}
	default:
		panic(x.Op)
	}

	return b
}

// dest returns where the value is kept.
// Values with no storage are never read and need no code.
func (fc *funContext) dest(v ir.Value) (string, bool) {
	r, ok := fc.Regs[v]
	if !ok {
		return "", false
	}

	if r != Spill {
		return regNames[r], true
	}

	return fc.slot(v), true
}

func (fc *funContext) operand(a ir.Operand) string {
	switch a.Kind {
	case ir.KindConst:
		return fmt.Sprintf("$%d", a.Const)
	case ir.KindParam:
		return fmt.Sprintf("%d(%%ebp)", ParamOffset)
	case ir.KindValue:
		r, ok := fc.Regs[a.Value]
		if !ok {
			panic(a)
		}

		if r != Spill {
			return regNames[r]
		}

		return fc.slot(a.Value)
	default:
		panic(a)
	}
}

func (fc *funContext) addr(v ir.Value) string {
	if fc.Instr(v).Op != ir.OpAlloca {
		panic(v)
	}

	return fc.slot(v)
}

func (fc *funContext) slot(v ir.Value) string {
	off, ok := fc.Offsets[v]
	if !ok {
		panic(v)
	}

	return fmt.Sprintf("%d(%%ebp)", off)
}

// move copies src to dst going through %eax if both are in memory.
func move(b []byte, src, dst string) []byte {
	if isMem(src) && isMem(dst) {
		b = mov(b, src, regNames[EAX])
		src = regNames[EAX]
	}

	return mov(b, src, dst)
}

func mov(b []byte, src, dst string) []byte {
	if src == dst {
		return b
	}

	return hfmt.Appendf(b, "\tmovl\t%s, %s\n", src, dst)
}

func isMem(s string) bool {
	return s != "" && s[len(s)-1] == ')'
}
