// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bus carries command messages from every producer (socket, MQTT,
// websocket, scripts, signals) to the single loop that owns the board
package bus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Thermoquad/vpid/pkg/vpi"
)

// Capacity and Timeout are the daemon's queue depth and round-trip bound
const (
	Capacity = 15
	Timeout  = 2 * time.Second
)

// Errors returned to remote callers. Their text is the wire message.
var (
	ErrInvalidCommand = errors.New("Invalid command")
	ErrEmptyCommand   = errors.New("command len 0")
	ErrNotDelivered   = errors.New("Internal error - can't deliver command")
	ErrNoReply        = errors.New("Internal error - command failed or timeout")
)

// Kind identifies what a message asks the loop to do
type Kind int

const (
	KindDevice Kind = iota
	KindReload
	KindExit
	KindSignal
	KindGetKey
	KindSetKey
)

func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindReload:
		return "reload"
	case KindExit:
		return "exit"
	case KindSignal:
		return "signal"
	case KindGetKey:
		return "getkey"
	case KindSetKey:
		return "setkey"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Message is one request to the loop. A message built by Exec carries a
// reply channel and must be answered exactly once.
type Message struct {
	Kind    Kind
	Command vpi.Command
	Reboot  bool
	Signal  os.Signal
	Key     string
	Value   string

	reply chan<- string
}

// Reply answers the message; messages without a reply channel ignore it
func (m Message) Reply(s string) {
	if m.reply == nil {
		return
	}
	select {
	case m.reply <- s:
	default:
	}
}

// OK answers {"result":true}
func (m Message) OK() { m.Reply(vpi.OKJSON()) }

// Fail answers {"result":false}
func (m Message) Fail() { m.Reply(vpi.FailJSON()) }

// HasReply reports whether a caller waits for an answer
func (m Message) HasReply() bool { return m.reply != nil }

// Parse turns a request line into a message. Daemon-level verbs are tried
// before the board vocabulary.
func Parse(line string) (Message, error) {
	v := strings.Fields(line)
	if len(v) == 0 {
		return Message{}, ErrEmptyCommand
	}

	switch strings.ToLower(v[0]) {
	case "reload":
		return Message{Kind: KindReload}, nil
	case "exit":
		return Message{Kind: KindExit, Reboot: len(v) >= 2 && v[1] == "reboot"}, nil
	case "getkey":
		if len(v) >= 2 {
			return Message{Kind: KindGetKey, Key: v[1]}, nil
		}
		return Message{}, fmt.Errorf("%w: getkey expects a key", ErrInvalidCommand)
	case "setkey":
		if len(v) >= 3 {
			return Message{Kind: KindSetKey, Key: v[1], Value: strings.Join(v[2:], " ")}, nil
		}
		return Message{}, fmt.Errorf("%w: setkey expects a key and a value", ErrInvalidCommand)
	}

	cmd, err := vpi.ParseFields(v)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return Message{Kind: KindDevice, Command: cmd}, nil
}

// Bus is a bounded multi-producer queue drained by one consumer
type Bus struct {
	ch      chan Message
	timeout time.Duration
}

// New creates a bus holding up to capacity messages whose round trips are
// bounded by timeout on both send and receive
func New(capacity int, timeout time.Duration) *Bus {
	return &Bus{ch: make(chan Message, capacity), timeout: timeout}
}

// C is the consumer side
func (b *Bus) C() <-chan Message { return b.ch }

// Post queues a message without waiting for an answer
func (b *Bus) Post(ctx context.Context, m Message) error {
	t := time.NewTimer(b.timeout)
	defer t.Stop()
	select {
	case b.ch <- m:
		return nil
	case <-t.C:
		return ErrNotDelivered
	case <-ctx.Done():
		return ErrNotDelivered
	}
}

// Exec parses line, queues it with a fresh reply channel and waits for the
// answer
func (b *Bus) Exec(ctx context.Context, line string) (string, error) {
	m, err := Parse(line)
	if err != nil {
		return "", err
	}
	return b.Request(ctx, m)
}

// Request queues m with a fresh reply channel and waits for the answer
func (b *Bus) Request(ctx context.Context, m Message) (string, error) {
	reply := make(chan string, 1)
	m.reply = reply
	if err := b.Post(ctx, m); err != nil {
		return "", err
	}

	t := time.NewTimer(b.timeout)
	defer t.Stop()
	select {
	case s := <-reply:
		return s, nil
	case <-t.C:
		return "", ErrNoReply
	case <-ctx.Done():
		return "", ErrNoReply
	}
}

// ExecJSON is Exec with failures rendered as a JSON error envelope
func (b *Bus) ExecJSON(ctx context.Context, line string) string {
	out, err := b.Exec(ctx, line)
	if err != nil {
		return vpi.ErrorJSON(WireText(err))
	}
	return out
}

// WireText maps an error to the message shown to remote callers
func WireText(err error) string {
	for _, known := range []error{ErrEmptyCommand, ErrInvalidCommand, ErrNotDelivered, ErrNoReply} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}
