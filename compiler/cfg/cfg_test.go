package cfg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/minic/compiler/front"
	"github.com/slowlang/minic/compiler/ir"
	"github.com/slowlang/minic/compiler/parse"
)

func TestBuild(t *testing.T) {
	m := ir.NewModule("t")
	f := m.NewFunc("f", "")
	b0 := m.NewBlock(f)
	b1 := m.NewBlock(f)
	b2 := m.NewBlock(f)
	b3 := m.NewBlock(f)

	c := m.Cmp(b0, ir.CondLT, ir.Const(1), ir.Const(2))
	m.CondBr(b0, c, b1, b2)
	m.Br(b1, b2)
	m.Ret(b2, ir.Const(0))
	m.Alloca(b3, "x")

	g := Build(m, f)

	assert.Equal(t, []ir.BlockID{b1, b2}, g.Succ[b0])
	assert.Equal(t, []ir.BlockID{b2}, g.Succ[b1])

	_, ok := g.Succ[b2]
	assert.False(t, ok)

	_, ok = g.Succ[b3]
	assert.False(t, ok)

	_, ok = g.Pred[b0]
	assert.False(t, ok)

	assert.Equal(t, []ir.BlockID{b0}, g.Pred[b1])
	assert.Equal(t, []ir.BlockID{b0, b1}, g.Pred[b2])

	assert.Equal(t, []ir.BlockID{b0, b1, b2}, g.Reachable(b0))
}

func TestBuildDedup(t *testing.T) {
	m := ir.NewModule("t")
	f := m.NewFunc("f", "")
	b0 := m.NewBlock(f)
	b1 := m.NewBlock(f)

	c := m.Cmp(b0, ir.CondEQ, ir.Const(1), ir.Const(1))
	m.CondBr(b0, c, b1, b1)
	m.Ret(b1, ir.Const(0))

	g := Build(m, f)

	assert.Equal(t, []ir.BlockID{b1}, g.Succ[b0])
	assert.Equal(t, []ir.BlockID{b0}, g.Pred[b1])
}

func TestDeadTerminators(t *testing.T) {
	m := ir.NewModule("t")
	f := m.NewFunc("f", "")
	b0 := m.NewBlock(f)
	b1 := m.NewBlock(f)

	m.Br(b0, b1)
	dead := m.Alloca(b0, "x")
	m.Ret(b0, ir.Const(1))

	changed := DeadTerminators(m, f)
	assert.True(t, changed)

	assert.Len(t, m.Code(b0), 1)
	assert.False(t, m.Live(dead))

	ret, ok := m.Terminator(b1)
	require.True(t, ok)
	assert.Equal(t, ir.OpRet, m.Instr(ret).Op)
	assert.Equal(t, ir.Const(0), m.Instr(ret).Args[0])

	assert.False(t, DeadTerminators(m, f))
}

func TestDeadBlocksReachability(t *testing.T) {
	m := ir.NewModule("t")
	f := m.NewFunc("f", "")
	b0 := m.NewBlock(f)
	b1 := m.NewBlock(f)
	b2 := m.NewBlock(f)
	b3 := m.NewBlock(f)
	b4 := m.NewBlock(f)

	m.Br(b0, b2)
	m.Br(b1, b3) // unreachable, points into reachable code
	m.Br(b2, b4)
	m.Br(b3, b1) // unreachable cycle
	m.Ret(b4, ir.Const(0))

	f.Return = b3

	changed := DeadBlocks(m, f)
	assert.True(t, changed)

	assert.Equal(t, []ir.BlockID{b0, b2, b4}, f.Blocks)
	assert.Equal(t, ir.NoBlock, f.Return)

	g := Build(m, f)
	reach := g.Reachable(f.Entry())

	for _, b := range f.Blocks {
		assert.Contains(t, reach, b)
	}

	assert.False(t, DeadBlocks(m, f))
}

func TestMergeBlocks(t *testing.T) {
	m := ir.NewModule("t")
	f := m.NewFunc("f", "")
	b0 := m.NewBlock(f)
	b1 := m.NewBlock(f)
	b2 := m.NewBlock(f)
	b3 := m.NewBlock(f)
	b4 := m.NewBlock(f)

	x := m.Alloca(b0, "x")
	m.Br(b0, b1)

	m.Store(b1, ir.Const(1), x)
	m.Br(b1, b2)

	l := m.Load(b2, x)
	c := m.Cmp(b2, ir.CondLT, ir.Ref(l), ir.Const(10))
	m.CondBr(b2, c, b3, b4)

	m.Br(b3, b4)

	r := m.Load(b4, x)
	m.Ret(b4, ir.Ref(r))

	f.Return = b4

	changed := MergeBlocks(m, f)
	assert.True(t, changed)

	// b4 has two predecessors, b3 is a target of a conditional branch
	assert.Equal(t, []ir.BlockID{b0, b3, b4}, f.Blocks)
	assert.Equal(t, b4, f.Return)

	ops := func(b ir.BlockID) (r []ir.Op) {
		for _, v := range m.Code(b) {
			r = append(r, m.Instr(v).Op)
		}

		return r
	}

	assert.Equal(t, []ir.Op{ir.OpAlloca, ir.OpStore, ir.OpLoad, ir.OpCmp, ir.OpCondBr}, ops(b0))

	assert.False(t, MergeBlocks(m, f))
}

func TestMergeReturnBlock(t *testing.T) {
	m := ir.NewModule("t")
	f := m.NewFunc("f", "")
	b0 := m.NewBlock(f)
	ret := m.NewBlock(f)
	b2 := m.NewBlock(f)

	m.Br(b0, b2)
	m.Ret(ret, ir.Const(5))
	m.Br(b2, ret)

	f.Return = ret

	MergeBlocks(m, f)

	assert.Equal(t, []ir.BlockID{b0}, f.Blocks)
	assert.Equal(t, b0, f.Return)
}

func TestSimplifyLowered(t *testing.T) {
	ctx := context.Background()

	p, err := parse.Parse(ctx, "t.c", []byte(`extern void print(int);
int f(int p) {
	int a;
	a = p;
	if (a > 3) {
		return 1;
		print(a);
	} else {
		return 2;
	}
	return 3;
}`))
	require.NoError(t, err)

	m, err := front.Lower(ctx, "t", p)
	require.NoError(t, err)

	f := m.Funcs[0]

	before := ir.Machine{}
	r3, err := before.Run(m, f, 7)
	require.NoError(t, err)

	changed := Simplify(ctx, m, f)
	assert.True(t, changed)

	assert.Equal(t, f.Return, f.Blocks[len(f.Blocks)-1])

	g := Build(m, f)
	reach := g.Reachable(f.Entry())

	for _, b := range f.Blocks {
		assert.Contains(t, reach, b)

		code := m.Code(b)
		require.NotEmpty(t, code)

		for i, v := range code {
			assert.Equal(t, i == len(code)-1, m.Instr(v).Op.IsTerminator(), "block %d instr %d", b, i)
		}
	}

	for _, tc := range []struct {
		P   int32
		Ret int32
	}{
		{P: 7, Ret: 1},
		{P: 2, Ret: 2},
	} {
		x := ir.Machine{}

		ret, err := x.Run(m, f, tc.P)
		require.NoError(t, err)
		assert.Equal(t, tc.Ret, ret)
		assert.Empty(t, x.Output)
	}

	assert.Equal(t, int32(1), r3)

	assert.False(t, Simplify(ctx, m, f))
}
