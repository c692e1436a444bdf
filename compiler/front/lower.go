package front

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/minic/compiler/ast"
	"github.com/slowlang/minic/compiler/ir"
)

type (
	pkgContext struct {
		*ir.Module
	}

	funContext struct {
		*pkgContext

		f *ir.Func

		vars map[string]ir.Value

		entry ir.BlockID
		exit  ir.BlockID

		cur ir.BlockID
	}
)

// RetSlot is the variable name of the return value slot.
// It is not a valid miniC identifier so it never collides.
const RetSlot = "return"

// Lower builds the IR module for a checked program.
func Lower(ctx context.Context, name string, p *ast.Program) (m *ir.Module, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "lower", "name", name)
	defer tr.Finish("err", &err)

	pc := &pkgContext{
		Module: ir.NewModule(name),
	}

	for _, e := range p.Externs {
		pc.AddExtern(e.Name, e.Param, e.Result)
	}

	if p.Func == nil {
		return nil, errors.New("no function")
	}

	err = pc.lowerFunc(ctx, p.Func)
	if err != nil {
		return nil, errors.Wrap(err, "func %v", p.Func.Name)
	}

	return pc.Module, nil
}

func (p *pkgContext) lowerFunc(ctx context.Context, d *ast.Func) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "lower function", "name", d.Name)
	defer tr.Finish("err", &err)

	param := ""
	if d.Param != nil {
		param = d.Param.Name
	}

	s := &funContext{
		pkgContext: p,
		f:          p.NewFunc(d.Name, param),
		vars:       make(map[string]ir.Value),
	}

	s.entry = p.NewBlock(s.f)
	s.exit = p.NewBlock(s.f)
	s.f.Return = s.exit

	s.vars[RetSlot] = p.Alloca(s.entry, RetSlot)

	ret := p.Load(s.exit, s.vars[RetSlot])
	p.Ret(s.exit, ir.Ref(ret))

	s.cur = s.entry

	if d.Param != nil {
		s.vars[param] = p.Alloca(s.entry, param)
	}

	s.declarations(d.Body)

	if d.Param != nil {
		p.Store(s.entry, ir.Param(), s.vars[param])
	}

	err = s.stmt(d.Body)
	if err != nil {
		return err
	}

	if _, ok := p.Terminator(s.cur); !ok && len(p.Code(s.cur)) != 0 {
		p.Br(s.cur, s.exit)
	}

	if tr.If("dump_lower") {
		tr.Printw("lowered", "blocks", len(s.f.Blocks), "instrs", p.Len(s.f))
	}

	return nil
}

// declarations allocates every variable declared anywhere in the body.
// The first declaration of a name wins, so a shadowing declaration shares its slot.
func (s *funContext) declarations(st ast.Stmt) {
	switch st := st.(type) {
	case *ast.Block:
		for _, x := range st.Stmts {
			s.declarations(x)
		}
	case *ast.Decl:
		if _, ok := s.vars[st.Name]; ok {
			return
		}

		s.vars[st.Name] = s.Alloca(s.entry, st.Name)
	case *ast.If:
		s.declarations(st.Then)

		if st.Else != nil {
			s.declarations(st.Else)
		}
	case *ast.While:
		s.declarations(st.Body)
	case *ast.Assign, *ast.Return, *ast.CallStmt:
	default:
		panic(st)
	}
}

func (s *funContext) stmt(st ast.Stmt) (err error) {
	switch st := st.(type) {
	case *ast.Block:
		for _, x := range st.Stmts {
			err = s.stmt(x)
			if err != nil {
				return err
			}
		}
	case *ast.Decl:
	case *ast.Assign:
		addr, err := s.lookup(st.Name.Name)
		if err != nil {
			return err
		}

		val, err := s.expr(st.Value)
		if err != nil {
			return errors.Wrap(err, "assign %v", st.Name.Name)
		}

		s.Store(s.cur, val, addr)
	case *ast.CallStmt:
		_, err = s.call(st.Call)
		if err != nil {
			return err
		}
	case *ast.Return:
		b := s.NewBlock(s.f)
		s.Br(s.cur, b)
		s.cur = b

		val, err := s.expr(st.Value)
		if err != nil {
			return errors.Wrap(err, "return")
		}

		s.Store(s.cur, val, s.vars[RetSlot])
		s.Br(s.cur, s.exit)
	case *ast.If:
		then := s.NewBlock(s.f)
		els := ir.NoBlock

		if st.Else != nil {
			els = s.NewBlock(s.f)
		}

		final := s.NewBlock(s.f)

		if els == ir.NoBlock {
			els = final
		}

		c, err := s.cond(st.Cond)
		if err != nil {
			return errors.Wrap(err, "if")
		}

		s.CondBr(s.cur, c, then, els)

		s.cur = then

		err = s.stmt(st.Then)
		if err != nil {
			return errors.Wrap(err, "then")
		}

		s.Br(s.cur, final)

		if st.Else != nil {
			s.cur = els

			err = s.stmt(st.Else)
			if err != nil {
				return errors.Wrap(err, "else")
			}

			s.Br(s.cur, final)
		}

		s.cur = final
	case *ast.While:
		head := s.NewBlock(s.f)
		body := s.NewBlock(s.f)
		final := s.NewBlock(s.f)

		s.Br(s.cur, head)
		s.cur = head

		c, err := s.cond(st.Cond)
		if err != nil {
			return errors.Wrap(err, "while")
		}

		s.CondBr(s.cur, c, body, final)

		s.cur = body

		err = s.stmt(st.Body)
		if err != nil {
			return errors.Wrap(err, "while body")
		}

		s.Br(s.cur, head)

		s.cur = final
	default:
		panic(st)
	}

	return nil
}

func (s *funContext) cond(r *ast.Rel) (ir.Value, error) {
	l, err := s.expr(r.L)
	if err != nil {
		return ir.NoValue, err
	}

	rv, err := s.expr(r.R)
	if err != nil {
		return ir.NoValue, err
	}

	var c ir.Cond

	switch r.Op {
	case "<":
		c = ir.CondLT
	case ">":
		c = ir.CondGT
	case "<=":
		c = ir.CondLE
	case ">=":
		c = ir.CondGE
	case "==":
		c = ir.CondEQ
	case "!=":
		c = ir.CondNE
	default:
		panic(r.Op)
	}

	return s.Cmp(s.cur, c, l, rv), nil
}

func (s *funContext) expr(e ast.Expr) (ir.Operand, error) {
	switch e := e.(type) {
	case *ast.Const:
		return ir.Const(e.Value), nil
	case *ast.Var:
		addr, err := s.lookup(e.Name)
		if err != nil {
			return ir.Operand{}, err
		}

		return ir.Ref(s.Load(s.cur, addr)), nil
	case *ast.Unary:
		x, err := s.expr(e.X)
		if err != nil {
			return ir.Operand{}, err
		}

		if x.IsConst() {
			return ir.Const(-x.Const), nil
		}

		return ir.Ref(s.Binary(s.cur, ir.OpMul, x, ir.Const(-1))), nil
	case *ast.Binary:
		l, err := s.expr(e.L)
		if err != nil {
			return ir.Operand{}, err
		}

		r, err := s.expr(e.R)
		if err != nil {
			return ir.Operand{}, err
		}

		var op ir.Op

		switch e.Op {
		case '+':
			op = ir.OpAdd
		case '-':
			op = ir.OpSub
		case '*':
			op = ir.OpMul
		case '/':
			op = ir.OpDiv
		default:
			panic(e.Op)
		}

		return ir.Ref(s.Binary(s.cur, op, l, r)), nil
	case *ast.Call:
		v, err := s.call(e)
		if err != nil {
			return ir.Operand{}, err
		}

		return ir.Ref(v), nil
	default:
		panic(e)
	}
}

func (s *funContext) call(c *ast.Call) (ir.Value, error) {
	if _, ok := s.LookupExtern(c.Name); !ok {
		return ir.NoValue, errors.New("undeclared function: %v", c.Name)
	}

	args := make([]ir.Operand, len(c.Args))

	for i, a := range c.Args {
		x, err := s.expr(a)
		if err != nil {
			return ir.NoValue, errors.Wrap(err, "arg %d", i)
		}

		args[i] = x
	}

	return s.Call(s.cur, c.Name, args...), nil
}

func (s *funContext) lookup(name string) (ir.Value, error) {
	v, ok := s.vars[name]
	if !ok {
		return ir.NoValue, errors.New("undeclared variable: %v", name)
	}

	return v, nil
}
