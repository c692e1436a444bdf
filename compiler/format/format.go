package format

import (
	"context"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/slowlang/minic/compiler/ast"
)

// Format renders the node as miniC source.
func Format(ctx context.Context, b []byte, x any) ([]byte, error) {
	return format(ctx, b, x, 0)
}

func format(ctx context.Context, b []byte, x any, d int) ([]byte, error) {
	switch x := x.(type) {
	case *ast.Program:
		return formatProgram(ctx, b, x, d)
	case *ast.Func:
		return formatFunc(ctx, b, x, d)
	case ast.Stmt:
		return formatStmt(ctx, b, x, d)
	case ast.Expr:
		return formatExpr(ctx, b, x, 0)
	default:
		return nil, errors.New("unsupported type: %T", x)
	}
}

func formatProgram(ctx context.Context, b []byte, x *ast.Program, d int) (_ []byte, err error) {
	for _, e := range x.Externs {
		res, param := "void", "void"

		if e.Result {
			res = "int"
		}

		if e.Param {
			param = "int"
		}

		b = app(b, d, "extern %s %s(%s);\n", res, e.Name, param)
	}

	if len(x.Externs) != 0 {
		b = append(b, '\n')
	}

	if x.Func == nil {
		return b, nil
	}

	b, err = formatFunc(ctx, b, x.Func, d)
	if err != nil {
		return nil, errors.Wrap(err, "func %v", x.Func.Name)
	}

	return b, nil
}

func formatFunc(ctx context.Context, b []byte, x *ast.Func, d int) (_ []byte, err error) {
	b = app(b, d, "int %s(", x.Name)

	if x.Param != nil {
		b = app(b, 0, "int %s", x.Param.Name)
	}

	b = append(b, ") "...)

	b, err = formatBlock(ctx, b, x.Body, d)
	if err != nil {
		return nil, errors.Wrap(err, "body")
	}

	b = append(b, '\n')

	return b, nil
}

// formatBlock writes braces with no leading indent and no trailing newline.
func formatBlock(ctx context.Context, b []byte, x *ast.Block, d int) (_ []byte, err error) {
	b = append(b, "{\n"...)

	for _, s := range x.Stmts {
		b, err = formatStmt(ctx, b, s, d+1)
		if err != nil {
			return nil, err
		}
	}

	b = app(b, d, "}")

	return b, nil
}

func formatStmt(ctx context.Context, b []byte, s ast.Stmt, d int) (_ []byte, err error) {
	switch s := s.(type) {
	case *ast.Block:
		b = app(b, d, "")

		b, err = formatBlock(ctx, b, s, d)
		if err != nil {
			return nil, err
		}

		b = append(b, '\n')
	case *ast.Decl:
		b = app(b, d, "int %s;\n", s.Name)
	case *ast.Assign:
		b = app(b, d, "%s = ", s.Name.Name)

		b, err = formatExpr(ctx, b, s.Value, 0)
		if err != nil {
			return nil, errors.Wrap(err, "rhs")
		}

		b = append(b, ";\n"...)
	case *ast.Return:
		b = app(b, d, "return ")

		b, err = formatExpr(ctx, b, s.Value, 0)
		if err != nil {
			return nil, errors.Wrap(err, "expr")
		}

		b = append(b, ";\n"...)
	case *ast.CallStmt:
		b = app(b, d, "")

		b, err = formatExpr(ctx, b, s.Call, 0)
		if err != nil {
			return nil, errors.Wrap(err, "call")
		}

		b = append(b, ";\n"...)
	case *ast.If:
		b = app(b, d, "if ")

		b, err = formatRel(ctx, b, s.Cond)
		if err != nil {
			return nil, errors.Wrap(err, "cond")
		}

		b, err = formatBody(ctx, b, s.Then, d)
		if err != nil {
			return nil, errors.Wrap(err, "then")
		}

		if s.Else != nil {
			b = app(b, d, "else")

			b, err = formatBody(ctx, b, s.Else, d)
			if err != nil {
				return nil, errors.Wrap(err, "else")
			}
		}
	case *ast.While:
		b = app(b, d, "while ")

		b, err = formatRel(ctx, b, s.Cond)
		if err != nil {
			return nil, errors.Wrap(err, "cond")
		}

		b, err = formatBody(ctx, b, s.Body, d)
		if err != nil {
			return nil, errors.Wrap(err, "body")
		}
	default:
		return nil, errors.New("unsupported stmt: %T", s)
	}

	return b, nil
}

func formatBody(ctx context.Context, b []byte, s ast.Stmt, d int) (_ []byte, err error) {
	if blk, ok := s.(*ast.Block); ok {
		b = append(b, ' ')

		b, err = formatBlock(ctx, b, blk, d)
		if err != nil {
			return nil, err
		}

		return append(b, '\n'), nil
	}

	b = append(b, '\n')

	return formatStmt(ctx, b, s, d+1)
}

func formatRel(ctx context.Context, b []byte, x *ast.Rel) (_ []byte, err error) {
	b = append(b, '(')

	b, err = formatExpr(ctx, b, x.L, 0)
	if err != nil {
		return nil, errors.Wrap(err, "left")
	}

	b = app(b, 0, " %s ", x.Op)

	b, err = formatExpr(ctx, b, x.R, 0)
	if err != nil {
		return nil, errors.Wrap(err, "right")
	}

	b = append(b, ')')

	return b, nil
}

// formatExpr wraps x in parens if it binds weaker than prec.
func formatExpr(ctx context.Context, b []byte, x ast.Expr, prec int) (_ []byte, err error) {
	switch x := x.(type) {
	case *ast.Var:
		b = append(b, x.Name...)
	case *ast.Const:
		b = hfmt.Appendf(b, "%d", x.Value)
	case *ast.Call:
		b = app(b, 0, "%s(", x.Name)

		for i, a := range x.Args {
			if i != 0 {
				b = append(b, ", "...)
			}

			b, err = formatExpr(ctx, b, a, 0)
			if err != nil {
				return nil, errors.Wrap(err, "arg %d", i)
			}
		}

		b = append(b, ')')
	case *ast.Unary:
		b = append(b, '-')

		b, err = formatExpr(ctx, b, x.X, 3)
		if err != nil {
			return nil, errors.Wrap(err, "unary")
		}
	case *ast.Binary:
		p := binPrec(x.Op)

		if p < prec {
			b = append(b, '(')
		}

		b, err = formatExpr(ctx, b, x.L, p)
		if err != nil {
			return nil, errors.Wrap(err, "left")
		}

		b = app(b, 0, " %s ", string(x.Op))

		b, err = formatExpr(ctx, b, x.R, p+1)
		if err != nil {
			return nil, errors.Wrap(err, "right")
		}

		if p < prec {
			b = append(b, ')')
		}
	default:
		return nil, errors.New("unsupported expr: %T", x)
	}

	return b, nil
}

func binPrec(op byte) int {
	switch op {
	case '+', '-':
		return 1
	case '*', '/':
		return 2
	default:
		panic(op)
	}
}

func app(b []byte, d int, f string, args ...any) []byte {
	const tabs = "\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t"
	b = append(b, tabs[:d]...)
	b = hfmt.Appendf(b, f, args...)
	return b
}
