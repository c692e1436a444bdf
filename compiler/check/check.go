package check

import (
	"context"
	"fmt"
	"strings"

	"tlog.app/go/tlog"

	"github.com/slowlang/minic/compiler/ast"
)

type (
	Kind int

	// Error is a single semantic error at a source position.
	Error struct {
		Kind Kind
		Name string
		Pos  int

		File string
		Line int
		Col  int
	}

	// Errors is every semantic error found in a program, in source order.
	Errors []Error

	checker struct {
		p *ast.Program

		externs map[string]*ast.Extern
		scopes  []map[string]struct{}

		errs Errors
	}
)

const (
	_ Kind = iota
	Undeclared
	Duplicate
	UndeclaredFunc
	ArgCount
	VoidValue
)

var kindNames = []string{
	Undeclared:     "undeclared variable",
	Duplicate:      "duplicate declaration",
	UndeclaredFunc: "undeclared function",
	ArgCount:       "wrong number of arguments",
	VoidValue:      "void function used as value",
}

// Program checks declarations of the whole program.
// It never stops at the first error.
func Program(ctx context.Context, p *ast.Program) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "check")
	defer tr.Finish("err", &err)

	c := &checker{
		p:       p,
		externs: make(map[string]*ast.Extern, len(p.Externs)),
	}

	for _, e := range p.Externs {
		if _, ok := c.externs[e.Name]; ok {
			c.report(Duplicate, e.Name, e.Pos)
			continue
		}

		c.externs[e.Name] = e
	}

	c.function(p.Func)

	if len(c.errs) == 0 {
		return nil
	}

	if tr.If("check_errors") {
		for _, e := range c.errs {
			tr.Printw("semantic error", "kind", e.Kind, "name", e.Name, "file", e.File, "line", e.Line, "col", e.Col)
		}
	}

	return c.errs
}

func (c *checker) function(f *ast.Func) {
	c.push()
	defer c.pop()

	if f.Param != nil {
		c.declare(f.Param.Name, f.Param.Pos)
	}

	c.block(f.Body)
}

func (c *checker) block(b *ast.Block) {
	c.push()
	defer c.pop()

	for _, s := range b.Stmts {
		c.stmt(s)
	}
}

func (c *checker) stmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.Block:
		c.block(s)
	case *ast.Decl:
		c.declare(s.Name, s.Pos)
	case *ast.Assign:
		c.use(s.Name.Name, s.Name.Pos)
		c.expr(s.Value)
	case *ast.If:
		c.rel(s.Cond)
		c.stmt(s.Then)

		if s.Else != nil {
			c.stmt(s.Else)
		}
	case *ast.While:
		c.rel(s.Cond)
		c.stmt(s.Body)
	case *ast.Return:
		c.expr(s.Value)
	case *ast.CallStmt:
		c.call(s.Call, false)
	default:
		panic(s)
	}
}

func (c *checker) rel(r *ast.Rel) {
	c.expr(r.L)
	c.expr(r.R)
}

func (c *checker) expr(e ast.Expr) {
	switch e := e.(type) {
	case *ast.Const:
	case *ast.Var:
		c.use(e.Name, e.Pos)
	case *ast.Unary:
		c.expr(e.X)
	case *ast.Binary:
		c.expr(e.L)
		c.expr(e.R)
	case *ast.Call:
		c.call(e, true)
	default:
		panic(e)
	}
}

func (c *checker) call(x *ast.Call, value bool) {
	for _, a := range x.Args {
		c.expr(a)
	}

	e, ok := c.externs[x.Name]
	if !ok {
		c.report(UndeclaredFunc, x.Name, x.Pos)
		return
	}

	if want := b2i(e.Param); len(x.Args) != want {
		c.report(ArgCount, x.Name, x.Pos)
	}

	if value && !e.Result {
		c.report(VoidValue, x.Name, x.Pos)
	}
}

func (c *checker) declare(name string, pos int) {
	top := c.scopes[len(c.scopes)-1]

	if _, ok := top[name]; ok {
		c.report(Duplicate, name, pos)
		return
	}

	top[name] = struct{}{}
}

func (c *checker) use(name string, pos int) {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if _, ok := c.scopes[i][name]; ok {
			return
		}
	}

	c.report(Undeclared, name, pos)
}

func (c *checker) push() { c.scopes = append(c.scopes, map[string]struct{}{}) }
func (c *checker) pop()  { c.scopes = c.scopes[:len(c.scopes)-1] }

func (c *checker) report(k Kind, name string, pos int) {
	line, col := c.p.Position(pos)

	c.errs = append(c.errs, Error{Kind: k, Name: name, Pos: pos, File: c.p.File, Line: line, Col: col})
}

func (k Kind) String() string {
	if k > 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

func (e Error) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("%v: %s", e.Kind, e.Name)
	}

	return fmt.Sprintf("%s:%d:%d: %v: %s", e.File, e.Line, e.Col, e.Kind, e.Name)
}

func (es Errors) Error() string {
	var b strings.Builder

	for i, e := range es {
		if i != 0 {
			b.WriteString("; ")
		}

		b.WriteString(e.Error())
	}

	return b.String()
}

func b2i(x bool) int {
	if x {
		return 1
	}

	return 0
}
