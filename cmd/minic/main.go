package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/minic/compiler"
	"github.com/slowlang/minic/compiler/format"
	"github.com/slowlang/minic/compiler/parse"
)

func main() {
	flags := []*cli.Flag{
		cli.NewFlag("verbosity,v", "", "tlog topics to print"),
		cli.NewFlag("no-opt", false, "skip optimization passes"),
		cli.NewFlag("no-simplify", false, "skip cfg simplification"),
		cli.NewFlag("max-rounds", 0, "fail if optimization does not settle in this many rounds (0 is unbounded)"),
		cli.NewFlag("dump-ir", false, "print IR after lowering and optimization"),
	}

	compileCmd := &cli.Command{
		Name:        "compile",
		Description: "compile SRC to assembly OUT",
		Action:      compileAct,
		Args:        cli.Args{},
		Flags:       flags,
	}

	parseCmd := &cli.Command{
		Name:        "parse",
		Description: "parse and print the source back",
		Action:      parseAct,
		Args:        cli.Args{},
		Flags:       flags,
	}

	irCmd := &cli.Command{
		Name:        "ir",
		Description: "print optimized IR",
		Action:      irAct,
		Args:        cli.Args{},
		Flags:       flags,
	}

	watchCmd := &cli.Command{
		Name:        "watch",
		Description: "recompile SRC to OUT on every change",
		Action:      watchAct,
		Args:        cli.Args{},
		Flags:       flags,
	}

	versionCmd := &cli.Command{
		Name:   "version",
		Action: versionAct,
		Flags: []*cli.Flag{
			cli.NewFlag("require", "", "fail unless the version satisfies the constraint"),
		},
	}

	app := &cli.Command{
		Name:        "minic",
		Description: "minic compiles miniC source to x86-32 assembly",
		Action:      compileAct,
		Args:        cli.Args{},
		Flags:       flags,
		Commands: []*cli.Command{
			compileCmd,
			parseCmd,
			irCmd,
			watchCmd,
			versionCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func setup(c *cli.Command) (context.Context, *compiler.Compiler) {
	tlog.SetVerbosity(c.String("verbosity"))

	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	cfg := compiler.DefaultConfig()

	if c.Bool("no-opt") {
		cfg.Optimize = false
	}

	if c.Bool("no-simplify") {
		cfg.Simplify = false
	}

	if n := c.Int("max-rounds"); n != 0 {
		cfg.MaxRounds = n
	}

	if c.Bool("dump-ir") {
		cfg.DumpIR = true
	}

	return ctx, compiler.New(cfg)
}

func compileAct(c *cli.Command) (err error) {
	if len(c.Args) != 2 {
		return errors.New("usage: %v SRC OUT", c.Name)
	}

	ctx, comp := setup(c)

	return comp.CompileFile(ctx, c.Args[0], c.Args[1])
}

func parseAct(c *cli.Command) (err error) {
	ctx, _ := setup(c)

	for _, a := range c.Args {
		x, err := parse.ParseFile(ctx, a)
		if err != nil {
			return errors.Wrap(err, "parse %v", a)
		}

		b, err := format.Format(ctx, nil, x)
		if err != nil {
			return errors.Wrap(err, "format %v", a)
		}

		fmt.Printf("%s", b)
	}

	return nil
}

func irAct(c *cli.Command) (err error) {
	ctx, comp := setup(c)
	comp.Progress = nil

	for _, a := range c.Args {
		text, err := os.ReadFile(a)
		if err != nil {
			return errors.Wrap(err, "read file")
		}

		m, err := comp.BuildIR(ctx, a, text)
		if err != nil {
			return errors.Wrap(err, "build %v", a)
		}

		fmt.Printf("%s", format.IR(nil, m))
	}

	return nil
}

func versionAct(c *cli.Command) (err error) {
	if con := c.String("require"); con != "" {
		err = compiler.CheckVersion(con)
		if err != nil {
			return err
		}
	}

	fmt.Printf("minic %s\n", compiler.Version)

	return nil
}

func watchAct(c *cli.Command) (err error) {
	if len(c.Args) != 2 {
		return errors.New("usage: %v SRC OUT", c.Name)
	}

	ctx, comp := setup(c)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	return comp.Watch(ctx, c.Args[0], c.Args[1])
}
