package parse

import (
	"context"
	"os"
	"strconv"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/minic/compiler/ast"
)

type (
	// Parser is a recursive descent parser over a single miniC source file.
	Parser struct {
		name string
		b    []byte

		tok token
	}
)

func ParseFile(ctx context.Context, name string) (*ast.Program, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	return Parse(ctx, name, data)
}

func Parse(ctx context.Context, name string, text []byte) (x *ast.Program, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "parse", "name", name, "size", len(text))
	defer tr.Finish("err", &err)

	p := &Parser{
		name: name,
		b:    text,
	}

	x, err = p.parse()
	if err != nil {
		return nil, err
	}

	return x, nil
}

func (p *Parser) parse() (x *ast.Program, err error) {
	defer func() {
		if err == nil {
			return
		}

		line, col := lineCol(p.b, p.tok.Pos)

		err = &SyntaxError{File: p.name, Pos: p.tok.Pos, Line: line, Col: col, Err: err}
	}()

	err = p.next()
	if err != nil {
		return nil, err
	}

	x = &ast.Program{
		File:  p.name,
		Lines: lineStarts(p.b),
	}

	for p.tok.is(tIdent, "extern") {
		e, err := p.extern()
		if err != nil {
			return nil, errors.Wrap(err, "extern")
		}

		x.Externs = append(x.Externs, e)
	}

	x.Func, err = p.function()
	if err != nil {
		return nil, errors.Wrap(err, "func")
	}

	if p.tok.Kind != tEOF {
		return nil, errors.New("unexpected %v after function", p.tok)
	}

	x.Base = ast.Base{Pos: 0, End: len(p.b)}

	return x, nil
}

func (p *Parser) next() (err error) {
	st := p.tok.End

	p.tok, err = scan(p.b, st)

	return err
}

func (p *Parser) expect(text string) (t token, err error) {
	t = p.tok

	if t.Kind != tPunct && t.Kind != tIdent || t.Text != text {
		return t, errors.New("%q expected, got %v", text, t)
	}

	return t, p.next()
}

func (p *Parser) ident() (t token, err error) {
	t = p.tok

	if t.Kind != tIdent || keyword(t.Text) {
		return t, errors.New("identifier expected, got %v", t)
	}

	return t, p.next()
}

func (p *Parser) extern() (x *ast.Extern, err error) {
	st, err := p.expect("extern")
	if err != nil {
		return nil, err
	}

	x = &ast.Extern{}

	switch {
	case p.tok.is(tIdent, "int"):
		x.Result = true
	case p.tok.is(tIdent, "void"):
	default:
		return nil, errors.New("result type expected, got %v", p.tok)
	}

	if err = p.next(); err != nil {
		return nil, err
	}

	name, err := p.ident()
	if err != nil {
		return nil, err
	}

	x.Name = name.Text

	if _, err = p.expect("("); err != nil {
		return nil, err
	}

	switch {
	case p.tok.is(tIdent, "int"):
		x.Param = true

		if err = p.next(); err != nil {
			return nil, err
		}

		if p.tok.Kind == tIdent && !keyword(p.tok.Text) {
			if err = p.next(); err != nil {
				return nil, err
			}
		}
	case p.tok.is(tIdent, "void"):
		if err = p.next(); err != nil {
			return nil, err
		}
	}

	if _, err = p.expect(")"); err != nil {
		return nil, err
	}

	end, err := p.expect(";")
	if err != nil {
		return nil, err
	}

	x.Base = ast.Base{Pos: st.Pos, End: end.End}

	return x, nil
}

func (p *Parser) function() (x *ast.Func, err error) {
	st, err := p.expect("int")
	if err != nil {
		return nil, err
	}

	name, err := p.ident()
	if err != nil {
		return nil, errors.Wrap(err, "name")
	}

	x = &ast.Func{Name: name.Text}

	if _, err = p.expect("("); err != nil {
		return nil, err
	}

	switch {
	case p.tok.is(tIdent, "int"):
		if err = p.next(); err != nil {
			return nil, err
		}

		pn, err := p.ident()
		if err != nil {
			return nil, errors.Wrap(err, "param")
		}

		x.Param = &ast.Var{Base: ast.Base{Pos: pn.Pos, End: pn.End}, Name: pn.Text}
	case p.tok.is(tIdent, "void"):
		if err = p.next(); err != nil {
			return nil, err
		}
	}

	if _, err = p.expect(")"); err != nil {
		return nil, err
	}

	x.Body, err = p.block()
	if err != nil {
		return nil, errors.Wrap(err, "body")
	}

	x.Base = ast.Base{Pos: st.Pos, End: x.Body.End}

	return x, nil
}

func (p *Parser) block() (x *ast.Block, err error) {
	st, err := p.expect("{")
	if err != nil {
		return nil, err
	}

	x = &ast.Block{}

	for !p.tok.is(tPunct, "}") {
		if p.tok.Kind == tEOF {
			return nil, errors.New("unclosed block")
		}

		s, err := p.stmt()
		if err != nil {
			return nil, err
		}

		x.Stmts = append(x.Stmts, s)
	}

	end := p.tok

	if err = p.next(); err != nil {
		return nil, err
	}

	x.Base = ast.Base{Pos: st.Pos, End: end.End}

	return x, nil
}

func (p *Parser) stmt() (s ast.Stmt, err error) {
	t := p.tok

	switch {
	case t.is(tPunct, "{"):
		return p.block()
	case t.is(tIdent, "int"):
		return p.decl()
	case t.is(tIdent, "if"):
		return p.ifStmt()
	case t.is(tIdent, "while"):
		return p.whileStmt()
	case t.is(tIdent, "return"):
		return p.returnStmt()
	case t.Kind == tIdent && !keyword(t.Text):
	default:
		return nil, errors.New("statement expected, got %v", t)
	}

	name, err := p.ident()
	if err != nil {
		return nil, err
	}

	if p.tok.is(tPunct, "(") {
		c, err := p.call(name)
		if err != nil {
			return nil, errors.Wrap(err, "call %v", name.Text)
		}

		end, err := p.expect(";")
		if err != nil {
			return nil, err
		}

		return &ast.CallStmt{Base: ast.Base{Pos: name.Pos, End: end.End}, Call: c}, nil
	}

	if _, err = p.expect("="); err != nil {
		return nil, err
	}

	val, err := p.expr()
	if err != nil {
		return nil, errors.Wrap(err, "assignment to %v", name.Text)
	}

	end, err := p.expect(";")
	if err != nil {
		return nil, err
	}

	return &ast.Assign{
		Base:  ast.Base{Pos: name.Pos, End: end.End},
		Name:  &ast.Var{Base: ast.Base{Pos: name.Pos, End: name.End}, Name: name.Text},
		Value: val,
	}, nil
}

func (p *Parser) decl() (x *ast.Decl, err error) {
	st, err := p.expect("int")
	if err != nil {
		return nil, err
	}

	name, err := p.ident()
	if err != nil {
		return nil, errors.Wrap(err, "declaration")
	}

	end, err := p.expect(";")
	if err != nil {
		return nil, err
	}

	return &ast.Decl{Base: ast.Base{Pos: st.Pos, End: end.End}, Name: name.Text}, nil
}

func (p *Parser) ifStmt() (x *ast.If, err error) {
	st, err := p.expect("if")
	if err != nil {
		return nil, err
	}

	x = &ast.If{}

	x.Cond, err = p.cond()
	if err != nil {
		return nil, errors.Wrap(err, "if cond")
	}

	x.Then, err = p.stmt()
	if err != nil {
		return nil, errors.Wrap(err, "then")
	}

	end := x.Then.Span().End

	if p.tok.is(tIdent, "else") {
		if err = p.next(); err != nil {
			return nil, err
		}

		x.Else, err = p.stmt()
		if err != nil {
			return nil, errors.Wrap(err, "else")
		}

		end = x.Else.Span().End
	}

	x.Base = ast.Base{Pos: st.Pos, End: end}

	return x, nil
}

func (p *Parser) whileStmt() (x *ast.While, err error) {
	st, err := p.expect("while")
	if err != nil {
		return nil, err
	}

	x = &ast.While{}

	x.Cond, err = p.cond()
	if err != nil {
		return nil, errors.Wrap(err, "while cond")
	}

	x.Body, err = p.stmt()
	if err != nil {
		return nil, errors.Wrap(err, "while body")
	}

	x.Base = ast.Base{Pos: st.Pos, End: x.Body.Span().End}

	return x, nil
}

func (p *Parser) returnStmt() (x *ast.Return, err error) {
	st, err := p.expect("return")
	if err != nil {
		return nil, err
	}

	val, err := p.expr()
	if err != nil {
		return nil, errors.Wrap(err, "return value")
	}

	end, err := p.expect(";")
	if err != nil {
		return nil, err
	}

	return &ast.Return{Base: ast.Base{Pos: st.Pos, End: end.End}, Value: val}, nil
}

func (p *Parser) cond() (x *ast.Rel, err error) {
	st, err := p.expect("(")
	if err != nil {
		return nil, err
	}

	l, err := p.expr()
	if err != nil {
		return nil, err
	}

	op := p.tok

	switch op.Text {
	case "<", ">", "<=", ">=", "==", "!=":
		if op.Kind != tPunct {
			return nil, errors.New("comparison expected, got %v", op)
		}
	default:
		return nil, errors.New("comparison expected, got %v", op)
	}

	if err = p.next(); err != nil {
		return nil, err
	}

	r, err := p.expr()
	if err != nil {
		return nil, err
	}

	end, err := p.expect(")")
	if err != nil {
		return nil, err
	}

	return &ast.Rel{Base: ast.Base{Pos: st.Pos, End: end.End}, Op: op.Text, L: l, R: r}, nil
}

func (p *Parser) expr() (x ast.Expr, err error) {
	x, err = p.term()
	if err != nil {
		return nil, err
	}

	for p.tok.is(tPunct, "+") || p.tok.is(tPunct, "-") {
		op := p.tok.Text[0]

		if err = p.next(); err != nil {
			return nil, err
		}

		r, err := p.term()
		if err != nil {
			return nil, errors.Wrap(err, "%c rhs", op)
		}

		x = &ast.Binary{Base: ast.Base{Pos: x.Span().Pos, End: r.Span().End}, Op: op, L: x, R: r}
	}

	return x, nil
}

func (p *Parser) term() (x ast.Expr, err error) {
	x, err = p.unary()
	if err != nil {
		return nil, err
	}

	for p.tok.is(tPunct, "*") || p.tok.is(tPunct, "/") {
		op := p.tok.Text[0]

		if err = p.next(); err != nil {
			return nil, err
		}

		r, err := p.unary()
		if err != nil {
			return nil, errors.Wrap(err, "%c rhs", op)
		}

		x = &ast.Binary{Base: ast.Base{Pos: x.Span().Pos, End: r.Span().End}, Op: op, L: x, R: r}
	}

	return x, nil
}

func (p *Parser) unary() (x ast.Expr, err error) {
	if !p.tok.is(tPunct, "-") {
		return p.primary()
	}

	st := p.tok

	if err = p.next(); err != nil {
		return nil, err
	}

	sub, err := p.unary()
	if err != nil {
		return nil, err
	}

	return &ast.Unary{Base: ast.Base{Pos: st.Pos, End: sub.Span().End}, X: sub}, nil
}

func (p *Parser) primary() (x ast.Expr, err error) {
	t := p.tok

	switch {
	case t.Kind == tNum:
		v, err := strconv.ParseInt(t.Text, 10, 32)
		if err != nil {
			return nil, errors.Wrap(err, "number")
		}

		if err = p.next(); err != nil {
			return nil, err
		}

		return &ast.Const{Base: ast.Base{Pos: t.Pos, End: t.End}, Value: int32(v)}, nil
	case t.is(tPunct, "("):
		if err = p.next(); err != nil {
			return nil, err
		}

		x, err = p.expr()
		if err != nil {
			return nil, err
		}

		if _, err = p.expect(")"); err != nil {
			return nil, err
		}

		return x, nil
	case t.Kind == tIdent && !keyword(t.Text):
	default:
		return nil, errors.New("expression expected, got %v", t)
	}

	if err = p.next(); err != nil {
		return nil, err
	}

	if p.tok.is(tPunct, "(") {
		return p.call(t)
	}

	return &ast.Var{Base: ast.Base{Pos: t.Pos, End: t.End}, Name: t.Text}, nil
}

func (p *Parser) call(name token) (x *ast.Call, err error) {
	if _, err = p.expect("("); err != nil {
		return nil, err
	}

	x = &ast.Call{Name: name.Text}

	for !p.tok.is(tPunct, ")") {
		if len(x.Args) != 0 {
			if _, err = p.expect(","); err != nil {
				return nil, err
			}
		}

		a, err := p.expr()
		if err != nil {
			return nil, errors.Wrap(err, "arg %d", len(x.Args))
		}

		x.Args = append(x.Args, a)
	}

	end := p.tok

	if err = p.next(); err != nil {
		return nil, err
	}

	x.Base = ast.Base{Pos: name.Pos, End: end.End}

	return x, nil
}

func keyword(s string) bool {
	switch s {
	case "extern", "int", "void", "if", "else", "while", "return":
		return true
	}

	return false
}
