package compiler

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sumSrc = `extern void print(int);
extern int read(void);

int f(int p) {
	int s;
	int i;
	s = 0;
	i = read();
	while (i < p) {
		s = s + i * 2;
		i = i + 1;
	}
	if (s > 100)
		return -s;
	print(s);
	return s / 3;
}
`

func newTest(c Config) (*Compiler, *bytes.Buffer) {
	var buf bytes.Buffer

	x := New(c)
	x.Progress = &buf
	x.DumpTo = nil

	return x, &buf
}

func TestCompileStages(t *testing.T) {
	ctx := context.Background()

	c, progress := newTest(Config{Optimize: true, Simplify: true})

	obj, err := c.Compile(ctx, "sum.c", []byte(sumSrc))
	require.NoError(t, err)

	assert.Equal(t, `SUCCESS: AST Generated
SUCCESS: Semantics Checked
SUCCESS: IR Built
SUCCESS: IR Optimized
SUCCESS: Assembly Generated
`, progress.String())

	s := string(obj)

	assert.Contains(t, s, "\t.globl\tf\n")
	assert.Contains(t, s, "\tcall\tread\n")
	assert.Contains(t, s, "\tcall\tprint\n")
	assert.Contains(t, s, "\tidivl\t(%esp)\n")
	assert.Contains(t, s, ".Lf_ret:\n\tpopl\t%ebx\n")
}

func TestCompileSemanticsFailure(t *testing.T) {
	ctx := context.Background()

	c, progress := newTest(Config{Optimize: true, Simplify: true})

	_, err := c.Compile(ctx, "bad.c", []byte(`int f(int p) { return q; }`))
	assert.ErrorIs(t, err, ErrSemantics)
	assert.Contains(t, err.Error(), "q")

	assert.Equal(t, "SUCCESS: AST Generated\nFAILURE: Semantics Failed\n", progress.String())
}

func TestCompileNoOptimize(t *testing.T) {
	ctx := context.Background()

	for _, cfg := range []Config{
		{},
		{Simplify: true},
		{Optimize: true},
	} {
		c, progress := newTest(cfg)

		obj, err := c.Compile(ctx, "sum.c", []byte(sumSrc))
		require.NoError(t, err, "%+v", cfg)

		assert.Equal(t, cfg.Optimize, bytes.Contains(progress.Bytes(), []byte("IR Optimized")), "%+v", cfg)
		assert.Contains(t, string(obj), "\tcall\tprint\n", "%+v", cfg)
	}
}

func TestCompileConstReturn(t *testing.T) {
	ctx := context.Background()

	c, _ := newTest(Config{Optimize: true, Simplify: true})

	obj, err := c.Compile(ctx, "c.c", []byte(`int f(int p) { int n; n = 20; return n; }`))
	require.NoError(t, err)

	assert.Contains(t, string(obj), "\tmovl\t$20, %eax\n")
	assert.NotContains(t, string(obj), "jmp")
}

func TestCompileFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	src := filepath.Join(dir, "sum.c")
	out := filepath.Join(dir, "sum.s")

	require.NoError(t, os.WriteFile(src, []byte(sumSrc), 0o644))

	c, _ := newTest(Config{Optimize: true, Simplify: true})

	err := c.CompileFile(ctx, src, out)
	require.NoError(t, err)

	obj, err := os.ReadFile(out)
	require.NoError(t, err)

	exp, err := c.Compile(ctx, src, []byte(sumSrc))
	require.NoError(t, err)

	assert.Equal(t, string(exp), string(obj))
}

func TestCompileFileFailureNoOutput(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	src := filepath.Join(dir, "bad.c")
	out := filepath.Join(dir, "bad.s")

	require.NoError(t, os.WriteFile(src, []byte(`int f(int p) { int a; int a; return p; }`), 0o644))

	c, _ := newTest(Config{Optimize: true})

	err := c.CompileFile(ctx, src, out)
	assert.ErrorIs(t, err, ErrSemantics)

	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err))

	err = c.CompileFile(ctx, filepath.Join(dir, "missing.c"), out)
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("MINIC_NO_OPT", "")
	t.Setenv("MINIC_NO_SIMPLIFY", "")
	t.Setenv("MINIC_MAX_ROUNDS", "")
	t.Setenv("MINIC_DUMP_IR", "")

	assert.Equal(t, Config{Optimize: true, Simplify: true}, DefaultConfig())

	t.Setenv("MINIC_NO_OPT", "true")
	t.Setenv("MINIC_MAX_ROUNDS", "5")
	t.Setenv("MINIC_DUMP_IR", "true")

	assert.Equal(t, Config{Simplify: true, MaxRounds: 5, DumpIR: true}, DefaultConfig())

	t.Setenv("MINIC_NO_OPT", "")
	t.Setenv("MINIC_NO_SIMPLIFY", "true")

	assert.Equal(t, Config{Optimize: true, MaxRounds: 5, DumpIR: true}, DefaultConfig())
}

func TestDumpIR(t *testing.T) {
	ctx := context.Background()

	var dump bytes.Buffer

	c, _ := newTest(Config{Optimize: true, Simplify: true, DumpIR: true})
	c.DumpTo = &dump

	_, err := c.BuildIR(ctx, "c.c", []byte(`int f(int p) { return p + 1; }`))
	require.NoError(t, err)

	assert.Contains(t, dump.String(), "; built\nmodule c.c\n")
	assert.Contains(t, dump.String(), "; optimized\nmodule c.c\n")
}

func TestCheckVersion(t *testing.T) {
	assert.NoError(t, CheckVersion(">= 0.1"))
	assert.NoError(t, CheckVersion("^0.3"))
	assert.Error(t, CheckVersion("< 0.1"))
	assert.Error(t, CheckVersion("not a constraint"))
}
