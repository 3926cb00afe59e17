// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
)

func init() {
	// scripts poll test_cancel() from while loops
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// sleepStep bounds how long a sleep() call goes without checking for
// cancellation
const sleepStep = 50 * time.Millisecond

// token is shared between the engine and one running script. The engine
// sets cancel; the script closes done when it returns.
type token struct {
	cancel atomic.Bool
	done   chan struct{}
}

func (t *token) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

type script struct {
	id      uint32
	name    string
	tok     *token
	started time.Time
	timeout int
}

// RunScript starts src in its own goroutine with the status context and
// the script builtins predeclared
func (e *Engine) RunScript(name, src string, timeout int) {
	id := e.seq
	e.seq++
	tok := &token{done: make(chan struct{})}

	env := Context(e.status, e.stats)
	for k, v := range e.builtins(name, tok) {
		env[k] = v
	}

	e.logger.Info("starting script", "id", id, "name", name, "timeout", timeout)
	go func() {
		defer close(tok.done)
		thread := &starlark.Thread{
			Name:  name,
			Print: func(_ *starlark.Thread, msg string) { e.logger.Info(msg, "script", name) },
		}
		globals, err := starlark.ExecFile(thread, name, src, env)
		if err != nil {
			e.logger.Warn("script failed", "id", id, "name", name, "error", err)
			return
		}
		e.logger.Info("script finished", "id", id, "name", name, "result", resultOf(globals))
	}()

	e.scripts = append(e.scripts, &script{id: id, name: name, tok: tok, started: e.now(), timeout: timeout})
}

// resultOf reports the script's global "result" if it set one
func resultOf(globals starlark.StringDict) string {
	if v, ok := globals["result"]; ok {
		return v.String()
	}
	return "None"
}

func (e *Engine) sweepScripts(force bool) {
	kept := e.scripts[:0]
	for _, s := range e.scripts {
		if s.tok.finished() {
			continue
		}
		timedOut := e.expired(s.started, s.timeout)
		if !s.tok.cancel.Load() && (force || timedOut) {
			s.tok.cancel.Store(true)
			if timedOut {
				e.logger.Warn("timeout signal sent to script", "id", s.id, "name", s.name, "timeout", s.timeout)
			} else {
				e.logger.Info("forced end signal sent to script", "id", s.id, "name", s.name)
			}
		}
		kept = append(kept, s)
	}
	clear(e.scripts[len(kept):])
	e.scripts = kept
}

func (e *Engine) builtins(name string, tok *token) starlark.StringDict {
	logger := e.logger.With("script", name)
	cmd := e.cmd

	return starlark.StringDict{
		"command": starlark.NewBuiltin("command", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var line string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &line); err != nil {
				return nil, err
			}
			if cmd == nil {
				return nil, fmt.Errorf("%s: no command channel", b.Name())
			}
			return starlark.String(cmd.ExecJSON(context.Background(), line)), nil
		}),
		"sleep": starlark.NewBuiltin("sleep", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var ms int
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &ms); err != nil {
				return nil, err
			}
			deadline := time.Now().Add(time.Duration(ms) * time.Millisecond)
			for !tok.cancel.Load() {
				left := time.Until(deadline)
				if left <= 0 {
					break
				}
				time.Sleep(min(left, sleepStep))
			}
			return starlark.None, nil
		}),
		"log": starlark.NewBuiltin("log", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var msg string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &msg); err != nil {
				return nil, err
			}
			logger.Info(msg)
			return starlark.None, nil
		}),
		"test_cancel": starlark.NewBuiltin("test_cancel", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			return starlark.Bool(tok.cancel.Load()), nil
		}),
	}
}
