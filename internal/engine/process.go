// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"errors"
	"os/exec"
	"strings"
	"time"
)

type process struct {
	id      uint32
	name    string
	cmd     *exec.Cmd
	done    chan error
	started time.Time
	timeout int
}

// RunShell runs command split on whitespace with arg appended as the last
// argument when set. Synchronous runs block until exit and log the exit
// code; asynchronous runs are tracked until a sweep reaps them.
func (e *Engine) RunShell(name, command, arg string, async bool, timeout int) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return
	}
	if arg != "" {
		fields = append(fields, arg)
	}

	id := e.seq
	e.seq++
	c := exec.Command(fields[0], fields[1:]...)
	e.logger.Info("starting shell process", "id", id, "name", name, "async", async, "timeout", timeout)
	e.logger.Debug("shell command", "args", fields)

	if !async {
		err := c.Run()
		if code, ok := exitCode(err); ok {
			e.logExit(id, name, code)
		} else {
			e.logger.Error("shell process failed", "id", id, "name", name, "error", err)
		}
		return
	}

	if err := c.Start(); err != nil {
		e.logger.Error("shell process failed", "id", id, "name", name, "error", err)
		return
	}
	p := &process{id: id, name: name, cmd: c, done: make(chan error, 1), started: e.now(), timeout: timeout}
	go func() { p.done <- c.Wait() }()
	e.procs = append(e.procs, p)
}

func (e *Engine) sweepProcesses(force bool) {
	kept := e.procs[:0]
	for _, p := range e.procs {
		select {
		case err := <-p.done:
			code, _ := exitCode(err)
			e.logExit(p.id, p.name, code)
			continue
		default:
		}

		if force || e.expired(p.started, p.timeout) {
			e.logger.Warn("process timed out, killing", "id", p.id, "name", p.name)
			_ = p.cmd.Process.Kill()
			<-p.done
			continue
		}
		kept = append(kept, p)
	}
	clear(e.procs[len(kept):])
	e.procs = kept
}

func (e *Engine) logExit(id uint32, name string, code int) {
	if code == 0 {
		e.logger.Info("shell process finished", "id", id, "name", name, "exit_code", code)
	} else {
		e.logger.Warn("shell process finished with error", "id", id, "name", name, "exit_code", code)
	}
}

// exitCode maps a Run or Wait result to an exit code. ok is false when the
// process never ran. Signalled processes report 255.
func exitCode(err error) (code int, ok bool) {
	if err == nil {
		return 0, true
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if c := ee.ExitCode(); c >= 0 {
			return c, true
		}
		return 255, true
	}
	return 255, false
}
