// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sock serves the line protocol on a unix socket: one request line
// per connection, one JSON reply, then close
package sock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/Thermoquad/vpid/internal/bus"
)

// DefaultPath is the daemon's control socket
const DefaultPath = "/run/vpid.sock"

const (
	ioTimeout  = 5 * time.Second
	maxRequest = 4096
)

// Server accepts control connections and forwards each request line to
// the command bus
type Server struct {
	path   string
	bus    *bus.Bus
	ln     net.Listener
	logger *slog.Logger
}

// Listen binds path, removing a stale socket nobody listens on
func Listen(path string, b *bus.Bus, logger *slog.Logger) (*Server, error) {
	if err := removeStale(path); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o660); err != nil {
		ln.Close()
		return nil, fmt.Errorf("failed to set socket mode: %w", err)
	}
	return &Server{path: path, bus: b, ln: ln, logger: logger}, nil
}

func removeStale(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if c, err := net.DialTimeout("unix", path, time.Second); err == nil {
		c.Close()
		return fmt.Errorf("socket %s is in use by another process", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove stale socket %s: %w", path, err)
	}
	return nil
}

// Path returns the bound socket path
func (s *Server) Path() string { return s.path }

// Serve handles connections one at a time until ctx is done or the
// listener is closed
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ioTimeout))

	line, err := bufio.NewReader(io.LimitReader(conn, maxRequest)).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		s.logger.Warn("socket read failed", "error", err)
		return
	}
	line = strings.TrimSpace(line)
	reply := s.bus.ExecJSON(ctx, line)
	s.logger.Debug("socket request", "request", line, "reply", reply)

	if _, err := io.WriteString(conn, reply); err != nil {
		s.logger.Warn("socket write failed", "error", err)
	}
}

// Close stops accepting and removes the socket file
func (s *Server) Close() error {
	err := s.ln.Close()
	if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) && err == nil {
		err = rmErr
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Request sends one line to the daemon at path and returns its reply
func Request(ctx context.Context, path, line string) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return "", fmt.Errorf("failed to connect to %s: %w", path, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(ioTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	if _, err := io.WriteString(conn, strings.TrimSpace(line)+"\n"); err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	reply, err := io.ReadAll(conn)
	if err != nil {
		return "", fmt.Errorf("failed to read reply: %w", err)
	}
	return string(reply), nil
}
