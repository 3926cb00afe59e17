// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package engine evaluates configured rules against board status and
// supervises the shell processes and scripts they start.
//
// An Engine belongs to the orchestration loop. None of its methods are
// safe for concurrent use; running scripts reach the board only through
// the Commander they are given.
package engine

import (
	"context"
	"log/slog"
	"time"

	"go.starlark.net/starlark"

	"github.com/Thermoquad/vpid/internal/config"
	"github.com/Thermoquad/vpid/pkg/vpi"
)

// ShutdownGrace is how long Shutdown waits for scripts to observe their
// cancellation before abandoning them
const ShutdownGrace = 5 * time.Second

// Commander submits a command line to the daemon and returns the JSON reply
type Commander interface {
	ExecJSON(ctx context.Context, line string) string
}

// Engine runs rules and tracks what they started
type Engine struct {
	rules           []config.Rule
	shell           string
	shutdownCommand string
	rebootCommand   string

	cmd    Commander
	logger *slog.Logger

	seq     uint32
	procs   []*process
	scripts []*script

	status vpi.Status
	stats  vpi.Stats

	now   func() time.Time
	sleep func(time.Duration)
	grace time.Duration
}

// New creates an engine for the rules and commands of cfg
func New(cfg *config.Config, cmd Commander, logger *slog.Logger) *Engine {
	return &Engine{
		rules:           cfg.Rules,
		shell:           cfg.Shell,
		shutdownCommand: cfg.ShutdownCommand,
		rebootCommand:   cfg.RebootCommand,
		cmd:             cmd,
		logger:          logger,
		now:             time.Now,
		sleep:           time.Sleep,
		grace:           ShutdownGrace,
	}
}

// Running returns the number of tracked processes and scripts
func (e *Engine) Running() (procs, scripts int) {
	return len(e.procs), len(e.scripts)
}

// Evaluate records the latest status and stats and fires the first rule
// whose condition holds. Conditions that fail to evaluate are logged and
// treated as false.
func (e *Engine) Evaluate(status vpi.Status, stats vpi.Stats) {
	e.status = status
	e.stats = stats
	if len(e.rules) == 0 {
		return
	}

	env := Context(status, stats)
	thread := &starlark.Thread{Name: "rules"}
	for i := range e.rules {
		r := &e.rules[i]
		v, err := starlark.Eval(thread, r.Name, r.When, env)
		if err != nil {
			e.logger.Warn("can't evaluate rule", "rule", r.Name, "when", r.When, "error", err)
			continue
		}
		if v.Truth() {
			e.logger.Info("rule matched", "rule", r.Name)
			e.fire(r)
			return
		}
	}
}

func (e *Engine) fire(r *config.Rule) {
	switch r.Kind {
	case config.KindShutdown:
		e.RunShell(r.Name, e.shutdownCommand, "", false, 0)
	case config.KindReboot:
		e.RunShell(r.Name, e.rebootCommand, "", false, 0)
	case config.KindShell:
		e.RunShell(r.Name, e.shell, r.Script, r.Async, r.Timeout)
	case config.KindScript:
		e.RunScript(r.Name, r.Script, r.Timeout)
	case config.KindNop:
	}
}

// Reboot runs the configured reboot command and waits for it
func (e *Engine) Reboot() {
	e.RunShell("reboot", e.rebootCommand, "", false, 0)
}

// Sweep reaps finished processes and scripts. Processes past their timeout
// are killed; scripts past theirs are asked to stop. force treats every
// tracked task as timed out.
func (e *Engine) Sweep(force bool) {
	e.sweepProcesses(force)
	e.sweepScripts(force)
}

// Shutdown kills all processes and cancels all scripts. Scripts still
// running after the grace period are abandoned.
func (e *Engine) Shutdown() {
	e.logger.Info("stopping rule and process engine")
	e.Sweep(true)
	if len(e.scripts) > 0 {
		e.sleep(e.grace)
		e.sweepScripts(true)
	}
	for _, s := range e.scripts {
		e.logger.Warn("abandoning script", "id", s.id, "name", s.name)
	}
	e.scripts = nil
}

func (e *Engine) expired(started time.Time, timeout int) bool {
	return timeout > 0 && e.now().Sub(started) > time.Duration(timeout)*time.Second
}
