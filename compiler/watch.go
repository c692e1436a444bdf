package compiler

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

// Watch compiles src to out, then again on every change of src, until ctx is done.
// Compilation errors are logged and do not stop watching.
func (c *Compiler) Watch(ctx context.Context, src, out string) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "watch", "src", src, "out", out)
	defer tr.Finish("err", &err)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "new watcher")
	}

	defer func() {
		e := w.Close()
		if err == nil && e != nil {
			err = errors.Wrap(e, "close watcher")
		}
	}()

	// editors often replace the file, so watch the directory
	err = w.Add(filepath.Dir(src))
	if err != nil {
		return errors.Wrap(err, "watch %v", src)
	}

	name := filepath.Clean(src)

	c.rebuild(ctx, src, out)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			tr.V("watch_events").Printw("event", "name", ev.Name, "op", ev.Op.String())

			c.rebuild(ctx, src, out)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}

			return errors.Wrap(err, "watcher")
		}
	}
}

func (c *Compiler) rebuild(ctx context.Context, src, out string) {
	err := c.CompileFile(ctx, src, out)
	if err != nil {
		tlog.SpanFromContext(ctx).Printw("compile failed", "src", src, "err", err)
		return
	}

	tlog.SpanFromContext(ctx).Printw("compiled", "src", src, "out", out)
}
