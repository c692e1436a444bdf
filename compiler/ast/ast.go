package ast

import "sort"

type (
	Node interface {
		Span() Base
	}

	Stmt interface {
		Node
		stmt()
	}

	Expr interface {
		Node
		expr()
	}

	Base struct {
		Pos int
		End int
	}

	Program struct {
		Base `tlog:",embed"`

		File  string
		Lines []int `tlog:"-"` // offsets of line starts

		Externs []*Extern
		Func    *Func
	}

	Extern struct {
		Base `tlog:",embed"`

		Name   string
		Param  bool
		Result bool
	}

	Func struct {
		Base `tlog:",embed"`

		Name  string
		Param *Var // nil if none
		Body  *Block
	}

	Block struct {
		Base `tlog:",embed"`

		Stmts []Stmt
	}

	Decl struct {
		Base `tlog:",embed"`

		Name string
	}

	Assign struct {
		Base `tlog:",embed"`

		Name  *Var
		Value Expr
	}

	If struct {
		Base `tlog:",embed"`

		Cond *Rel
		Then Stmt
		Else Stmt // nil if none
	}

	While struct {
		Base `tlog:",embed"`

		Cond *Rel
		Body Stmt
	}

	Return struct {
		Base `tlog:",embed"`

		Value Expr
	}

	// CallStmt is a call evaluated for its effect.
	CallStmt struct {
		Base `tlog:",embed"`

		Call *Call
	}

	Call struct {
		Base `tlog:",embed"`

		Name string
		Args []Expr
	}

	Var struct {
		Base `tlog:",embed"`

		Name string
	}

	Const struct {
		Base `tlog:",embed"`

		Value int32
	}

	Binary struct {
		Base `tlog:",embed"`

		Op   byte // + - * /
		L, R Expr
	}

	Unary struct {
		Base `tlog:",embed"`

		X Expr
	}

	Rel struct {
		Base `tlog:",embed"`

		Op   string // < > <= >= == !=
		L, R Expr
	}
)

func (b Base) Span() Base { return b }

// Position converts a byte offset into 1-based line and column.
// It returns zeros if line offsets are unknown.
func (p *Program) Position(pos int) (line, col int) {
	if len(p.Lines) == 0 {
		return 0, 0
	}

	i := sort.Search(len(p.Lines), func(i int) bool { return p.Lines[i] > pos }) - 1
	if i < 0 {
		i = 0
	}

	return i + 1, pos - p.Lines[i] + 1
}

func (*Decl) stmt()     {}
func (*Assign) stmt()   {}
func (*If) stmt()       {}
func (*While) stmt()    {}
func (*Return) stmt()   {}
func (*CallStmt) stmt() {}
func (*Block) stmt()    {}

func (*Call) expr()   {}
func (*Var) expr()    {}
func (*Const) expr()  {}
func (*Binary) expr() {}
func (*Unary) expr()  {}
