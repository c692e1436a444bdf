package opt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/minic/compiler/format"
	"github.com/slowlang/minic/compiler/front"
	"github.com/slowlang/minic/compiler/ir"
	"github.com/slowlang/minic/compiler/parse"
)

func ops(m *ir.Module, b ir.BlockID) (r []ir.Op) {
	for _, v := range m.Code(b) {
		r = append(r, m.Instr(v).Op)
	}

	return r
}

func lowerSource(t *testing.T, src string) *ir.Module {
	t.Helper()

	ctx := context.Background()

	p, err := parse.Parse(ctx, "t.c", []byte(src))
	require.NoError(t, err)

	m, err := front.Lower(ctx, "t", p)
	require.NoError(t, err)

	return m
}

func TestCSELoads(t *testing.T) {
	m := ir.NewModule("t")
	f := m.NewFunc("f", "")
	b := m.NewBlock(f)

	x := m.Alloca(b, "x")
	y := m.Alloca(b, "y")
	l1 := m.Load(b, x)
	m.Store(b, ir.Const(1), y) // different address
	l2 := m.Load(b, x)
	s := m.Binary(b, ir.OpAdd, ir.Ref(l1), ir.Ref(l2))
	m.Ret(b, ir.Ref(s))

	o := New(m)

	changed := o.CSE(b)
	assert.True(t, changed)

	assert.False(t, m.Live(l2))
	assert.Equal(t, []ir.Operand{ir.Ref(l1), ir.Ref(l1)}, m.Instr(s).Args)

	assert.False(t, o.CSE(b))
}

func TestCSEStoreInvalidates(t *testing.T) {
	m := ir.NewModule("t")
	f := m.NewFunc("f", "")
	b := m.NewBlock(f)

	x := m.Alloca(b, "x")
	l1 := m.Load(b, x)
	m.Store(b, ir.Const(5), x)
	l2 := m.Load(b, x)
	s := m.Binary(b, ir.OpSub, ir.Ref(l1), ir.Ref(l2))
	m.Ret(b, ir.Ref(s))

	o := New(m)

	assert.False(t, o.CSE(b))
	assert.True(t, m.Live(l2))
	assert.Equal(t, []ir.Operand{ir.Ref(l1), ir.Ref(l2)}, m.Instr(s).Args)
}

func TestCSEExpressions(t *testing.T) {
	m := ir.NewModule("t")
	f := m.NewFunc("test", "")
	b := m.NewBlock(f)

	mv := m.Alloca(b, "m")
	n := m.Alloca(b, "n")

	t1 := m.Load(b, mv)
	a1 := m.Binary(b, ir.OpAdd, ir.Ref(t1), ir.Const(12))
	m.Store(b, ir.Ref(a1), n)

	t2 := m.Load(b, mv)
	a2 := m.Binary(b, ir.OpAdd, ir.Ref(t2), ir.Const(12))
	st := m.Store(b, ir.Ref(a2), mv)

	changed := m.Load(b, mv)
	m.Ret(b, ir.Ref(changed))

	o := New(m)
	require.True(t, o.CSE(b))

	assert.False(t, m.Live(t2))
	assert.False(t, m.Live(a2))
	assert.True(t, m.Live(changed))
	assert.Equal(t, ir.Ref(a1), m.Instr(st).Args[0])

	// a call is never a candidate
	c1 := m.Call(b, "read")
	c2 := m.Call(b, "read")

	o.CSE(b)
	assert.True(t, m.Live(c1))
	assert.True(t, m.Live(c2))
}

func TestCSECmpCond(t *testing.T) {
	m := ir.NewModule("t")
	f := m.NewFunc("f", "")
	b := m.NewBlock(f)

	c1 := m.Cmp(b, ir.CondLT, ir.Param(), ir.Const(1))
	c2 := m.Cmp(b, ir.CondGT, ir.Param(), ir.Const(1))
	c3 := m.Cmp(b, ir.CondLT, ir.Param(), ir.Const(1))

	o := New(m)
	o.CSE(b)

	assert.True(t, m.Live(c1))
	assert.True(t, m.Live(c2))
	assert.False(t, m.Live(c3))
}

func TestFoldConstants(t *testing.T) {
	m := ir.NewModule("t")
	f := m.NewFunc("test", "")
	b := m.NewBlock(f)

	x := m.Alloca(b, "m")
	add := m.Binary(b, ir.OpAdd, ir.Const(12), ir.Const(15))
	mul := m.Binary(b, ir.OpMul, ir.Ref(add), ir.Const(2))
	div := m.Binary(b, ir.OpDiv, ir.Ref(mul), ir.Const(0))
	st := m.Store(b, ir.Ref(div), x)
	l := m.Load(b, x)
	m.Ret(b, ir.Ref(l))

	o := New(m)
	require.True(t, o.Fold(b))

	assert.False(t, m.Live(add))
	assert.False(t, m.Live(mul))
	assert.True(t, m.Live(div))
	assert.Equal(t, []ir.Operand{ir.Const(54), ir.Const(0)}, m.Instr(div).Args)
	assert.Equal(t, ir.Ref(div), m.Instr(st).Args[0])

	assert.False(t, o.Fold(b))
}

func TestFoldStore(t *testing.T) {
	m := ir.NewModule("t")
	f := m.NewFunc("test", "")
	b := m.NewBlock(f)

	x := m.Alloca(b, "m")
	add := m.Binary(b, ir.OpAdd, ir.Const(12), ir.Const(15))
	st := m.Store(b, ir.Ref(add), x)
	l := m.Load(b, x)
	r := m.Ret(b, ir.Ref(l))

	_, err := New(m).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, m.Live(add))
	assert.False(t, m.Live(st))
	assert.Equal(t, ir.Const(27), m.Instr(r).Args[0])
	assert.Equal(t, []ir.Op{ir.OpAlloca, ir.OpRet}, ops(m, b))
}

func TestDCEDeadStoreChain(t *testing.T) {
	// n = m + 12 with n never read
	m := ir.NewModule("t")
	f := m.NewFunc("test", "")
	b := m.NewBlock(f)

	mv := m.Alloca(b, "m")
	n := m.Alloca(b, "n")
	m.Store(b, ir.Const(10), mv)
	tmp := m.Load(b, mv)
	add := m.Binary(b, ir.OpAdd, ir.Ref(tmp), ir.Const(12))
	m.Store(b, ir.Ref(add), n)
	m.Ret(b, ir.Const(0))

	_, err := New(m).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []ir.Op{ir.OpAlloca, ir.OpAlloca, ir.OpRet}, ops(m, b))
	assert.True(t, m.Live(mv))
	assert.True(t, m.Live(n))
}

func TestDCEMonotonicity(t *testing.T) {
	m := lowerSource(t, `extern void print(int);
extern int read(void);
int f(int p) {
	int a;
	int b;
	int c;
	a = p * 2;
	b = a + read();
	c = b / 3 - a;
	if (b > c) {
		print(b - c);
	}
	c = a * a;
	return b;
}`)

	o := New(m)
	o.Simplify = false

	o.collectUses()

	for _, b := range m.Funcs[0].Blocks {
		o.DCE(b)
	}

	used := map[ir.Value]bool{}

	for _, b := range m.Funcs[0].Blocks {
		for _, v := range m.Code(b) {
			for _, a := range m.Instr(v).Args {
				if a.IsValue() {
					used[a.Value] = true
				}
			}
		}
	}

	for _, b := range m.Funcs[0].Blocks {
		for _, v := range m.Code(b) {
			switch x := m.Instr(v); x.Op {
			case ir.OpAlloca, ir.OpStore, ir.OpCall, ir.OpBr, ir.OpCondBr, ir.OpRet:
			default:
				assert.True(t, used[v], "unused %v %v in block %d", v, x.Op, b)
			}
		}
	}
}

func TestConstPropAcrossBlocks(t *testing.T) {
	m := ir.NewModule("t")
	f := m.NewFunc("f", "")
	a := m.NewBlock(f)
	b := m.NewBlock(f)

	n := m.Alloca(a, "n")
	m.Store(a, ir.Const(20), n)
	m.Br(a, b)

	l := m.Load(b, n)
	r := m.Ret(b, ir.Ref(l))

	o := New(m)
	o.Simplify = false

	require.True(t, o.ConstProp(f))

	assert.False(t, m.Live(l))
	assert.Equal(t, ir.Const(20), m.Instr(r).Args[0])
	assert.Equal(t, []ir.Op{ir.OpRet}, ops(m, b))
}

func TestConstPropAcrossBlocksRun(t *testing.T) {
	m := ir.NewModule("t")
	f := m.NewFunc("f", "")
	a := m.NewBlock(f)
	b := m.NewBlock(f)

	n := m.Alloca(a, "n")
	m.Store(a, ir.Const(20), n)
	m.Br(a, b)

	l := m.Load(b, n)
	r := m.Ret(b, ir.Ref(l))

	_, err := New(m).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, m.Live(l))
	assert.Equal(t, ir.Const(20), m.Instr(r).Args[0])

	require.Equal(t, []ir.BlockID{a}, f.Blocks)
	assert.Equal(t, []ir.Op{ir.OpAlloca, ir.OpRet}, ops(m, a))
}

func TestConstPropMerge(t *testing.T) {
	build := func(v1, v2 ir.Operand) (*ir.Module, *ir.Func, ir.Value, ir.Value) {
		m := ir.NewModule("t")
		f := m.NewFunc("f", "p")
		e := m.NewBlock(f)
		l := m.NewBlock(f)
		r := m.NewBlock(f)
		j := m.NewBlock(f)

		x := m.Alloca(e, "x")
		c := m.Cmp(e, ir.CondLT, ir.Param(), ir.Const(0))
		m.CondBr(e, c, l, r)

		m.Store(l, v1, x)
		m.Br(l, j)

		m.Store(r, v2, x)
		m.Br(r, j)

		ld := m.Load(j, x)
		ret := m.Ret(j, ir.Ref(ld))

		return m, f, ld, ret
	}

	m, f, ld, ret := build(ir.Const(7), ir.Const(7))
	assert.True(t, New(m).ConstProp(f))
	assert.False(t, m.Live(ld))
	assert.Equal(t, ir.Const(7), m.Instr(ret).Args[0])

	m, f, ld, _ = build(ir.Const(7), ir.Const(8))
	assert.False(t, New(m).ConstProp(f))
	assert.True(t, m.Live(ld))

	m, f, ld, _ = build(ir.Const(7), ir.Param())
	assert.False(t, New(m).ConstProp(f))
	assert.True(t, m.Live(ld))
}

func TestConstPropLoop(t *testing.T) {
	m := ir.NewModule("t")
	f := m.NewFunc("f", "")
	e := m.NewBlock(f)
	h := m.NewBlock(f)
	body := m.NewBlock(f)
	exit := m.NewBlock(f)

	i := m.Alloca(e, "i")
	k := m.Alloca(e, "k")
	m.Store(e, ir.Const(0), i)
	m.Store(e, ir.Const(3), k)
	m.Br(e, h)

	li := m.Load(h, i)
	lk := m.Load(h, k)
	c := m.Cmp(h, ir.CondLT, ir.Ref(li), ir.Ref(lk))
	m.CondBr(h, c, body, exit)

	lb := m.Load(body, i)
	inc := m.Binary(body, ir.OpAdd, ir.Ref(lb), ir.Const(1))
	m.Store(body, ir.Ref(inc), i)
	m.Br(body, h)

	ret := m.Load(exit, i)
	m.Ret(exit, ir.Ref(ret))

	New(m).ConstProp(f)

	assert.True(t, m.Live(li), "i is stored in the loop")
	assert.False(t, m.Live(lk), "k is constant everywhere")
	assert.True(t, m.Live(ret))
	assert.Equal(t, ir.Const(3), m.Instr(c).Args[1])

	x := ir.Machine{}
	r, err := x.Run(m, f, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(3), r)
}

func TestConstPropUninitialized(t *testing.T) {
	m := ir.NewModule("t")
	f := m.NewFunc("f", "")
	b := m.NewBlock(f)

	x := m.Alloca(b, "x")
	l := m.Load(b, x)
	m.Ret(b, ir.Ref(l))

	assert.False(t, New(m).ConstProp(f))
	assert.True(t, m.Live(l))
}

const program = `extern void print(int);
extern int read(void);

int func(int p) {
	int a;
	int b;
	int i;
	a = 10;
	b = a * 2 + 4;
	i = 0;
	while (i < p) {
		int t;
		t = read();
		if (t > b) {
			print(t - b);
		} else {
			print(b - t);
		}
		i = i + 1;
	}
	if (a == 10)
		return b + p;
	return -1;
	print(0);
}`

func TestOptimizeIdempotent(t *testing.T) {
	ctx := context.Background()
	m := lowerSource(t, program)

	rounds, err := New(m).Run(ctx)
	require.NoError(t, err)
	assert.Greater(t, rounds, 1)

	first := format.IR(nil, m)

	rounds, err = New(m).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rounds)

	second := format.IR(nil, m)

	assert.Equal(t, string(first), string(second))
}

func TestOptimizePreservesSemantics(t *testing.T) {
	ctx := context.Background()

	orig := lowerSource(t, program)
	m := lowerSource(t, program)

	_, err := New(m).Run(ctx)
	require.NoError(t, err)

	assert.Less(t, m.Len(m.Funcs[0]), orig.Len(orig.Funcs[0]))

	for _, p := range []int32{0, 1, 3} {
		input := []int32{30, 5, 24}

		x := ir.Machine{Input: input}
		want, err := x.Run(orig, orig.Funcs[0], p)
		require.NoError(t, err)

		y := ir.Machine{Input: input}
		got, err := y.Run(m, m.Funcs[0], p)
		require.NoError(t, err)

		assert.Equal(t, want, got, "param %d", p)
		assert.Equal(t, x.Output, y.Output, "param %d", p)
	}
}

func TestOptimizeMaxRounds(t *testing.T) {
	m := lowerSource(t, program)

	o := New(m)
	o.MaxRounds = 1

	_, err := o.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoFixedPoint)
}
