package compiler

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/xyproto/env/v2"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/minic/compiler/ast"
	"github.com/slowlang/minic/compiler/back"
	"github.com/slowlang/minic/compiler/cfg"
	"github.com/slowlang/minic/compiler/check"
	"github.com/slowlang/minic/compiler/format"
	"github.com/slowlang/minic/compiler/front"
	"github.com/slowlang/minic/compiler/ir"
	"github.com/slowlang/minic/compiler/opt"
	"github.com/slowlang/minic/compiler/parse"
)

type (
	Config struct {
		Optimize  bool
		Simplify  bool
		MaxRounds int

		DumpIR bool
	}

	// Compiler runs the pipeline and reports stage progress to Progress.
	Compiler struct {
		Config

		Progress io.Writer
		DumpTo   io.Writer
	}
)

const Version = "0.3.0"

var ErrSemantics = errors.New("semantics failed")

// DefaultConfig reads MINIC_NO_OPT, MINIC_NO_SIMPLIFY, MINIC_MAX_ROUNDS and MINIC_DUMP_IR.
// The environment is reread on every call.
func DefaultConfig() Config {
	env.Load()

	return Config{
		Optimize:  !env.Bool("MINIC_NO_OPT"),
		Simplify:  !env.Bool("MINIC_NO_SIMPLIFY"),
		MaxRounds: env.Int("MINIC_MAX_ROUNDS", 0),
		DumpIR:    env.Bool("MINIC_DUMP_IR"),
	}
}

func New(c Config) *Compiler {
	return &Compiler{
		Config:   c,
		Progress: os.Stdout,
		DumpTo:   os.Stderr,
	}
}

// CompileFile compiles src and writes assembly to out.
// out is created only after every earlier stage succeeded.
func (c *Compiler) CompileFile(ctx context.Context, src, out string) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile file", "src", src, "out", out)
	defer tr.Finish("err", &err)

	text, err := os.ReadFile(src)
	if err != nil {
		return errors.Wrap(err, "read file")
	}

	tr.Printw("read file", "size", len(text), "name", src)

	obj, err := c.Compile(ctx, src, text)
	if err != nil {
		return err
	}

	f, err := os.Create(out)
	if err != nil {
		return errors.Wrap(err, "create output")
	}

	defer func() {
		e := f.Close()
		if err == nil && e != nil {
			err = errors.Wrap(e, "close output")
		}
	}()

	_, err = f.Write(obj)
	if err != nil {
		return errors.Wrap(err, "write output")
	}

	return nil
}

// Compile runs every stage on the source text and returns the assembly.
func (c *Compiler) Compile(ctx context.Context, name string, text []byte) (obj []byte, err error) {
	m, err := c.BuildIR(ctx, name, text)
	if err != nil {
		return nil, err
	}

	obj, err = back.New().CompileModule(ctx, nil, m)
	if err != nil {
		return nil, errors.Wrap(err, "compile")
	}

	c.stage("SUCCESS: Assembly Generated")

	return obj, nil
}

// BuildIR parses, checks, lowers and optimizes the source.
// The result is ready for the backend.
func (c *Compiler) BuildIR(ctx context.Context, name string, text []byte) (m *ir.Module, err error) {
	p, err := parse.Parse(ctx, name, text)
	if err != nil {
		return nil, errors.Wrap(err, "parse")
	}

	c.stage("SUCCESS: AST Generated")

	m, err = c.Lower(ctx, name, p)
	if err != nil {
		return nil, err
	}

	err = c.Optimize(ctx, m)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (c *Compiler) Lower(ctx context.Context, name string, p *ast.Program) (m *ir.Module, err error) {
	err = check.Program(ctx, p)
	if err != nil {
		c.stage("FAILURE: Semantics Failed")

		return nil, errors.Wrap(ErrSemantics, "%v", err)
	}

	c.stage("SUCCESS: Semantics Checked")

	m, err = front.Lower(ctx, name, p)
	if err != nil {
		return nil, errors.Wrap(err, "lower")
	}

	c.stage("SUCCESS: IR Built")

	c.dump(ctx, "built", m)

	return m, nil
}

// Optimize runs the optimizer to a fixed point.
// With optimizations off it still cuts code after terminators
// so every block is well formed for the backend.
func (c *Compiler) Optimize(ctx context.Context, m *ir.Module) (err error) {
	if !c.Config.Optimize {
		for _, f := range m.Funcs {
			cfg.DeadTerminators(m, f)

			if c.Simplify {
				cfg.Simplify(ctx, m, f)
			}
		}

		c.dump(ctx, "unoptimized", m)

		return nil
	}

	o := opt.New(m)
	o.Simplify = c.Simplify
	o.MaxRounds = c.MaxRounds

	_, err = o.Run(ctx)
	if err != nil {
		return errors.Wrap(err, "optimize")
	}

	c.stage("SUCCESS: IR Optimized")

	c.dump(ctx, "optimized", m)

	return nil
}

// CheckVersion reports whether Version satisfies the constraint.
func CheckVersion(constraint string) error {
	con, err := semver.NewConstraint(constraint)
	if err != nil {
		return errors.Wrap(err, "parse constraint")
	}

	v, err := semver.NewVersion(Version)
	if err != nil {
		return errors.Wrap(err, "parse version")
	}

	if !con.Check(v) {
		return errors.New("version %v does not satisfy %v", Version, constraint)
	}

	return nil
}

func (c *Compiler) stage(msg string) {
	if c.Progress == nil {
		return
	}

	fmt.Fprintln(c.Progress, msg)
}

func (c *Compiler) dump(ctx context.Context, when string, m *ir.Module) {
	tr := tlog.SpanFromContext(ctx)

	if !c.DumpIR && !tr.If("dump_ir") {
		return
	}

	b := format.IR(nil, m)

	if c.DumpTo != nil && c.DumpIR {
		fmt.Fprintf(c.DumpTo, "; %s\n%s", when, b)
	}

	tr.Printw("ir", "when", when, "len", len(b))
}
