// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/vpid/pkg/vpi"
)

func TestParse_DaemonVerbs(t *testing.T) {
	m, err := Parse("reload")
	require.NoError(t, err)
	assert.Equal(t, KindReload, m.Kind)

	m, err = Parse("EXIT reboot")
	require.NoError(t, err)
	assert.Equal(t, KindExit, m.Kind)
	assert.True(t, m.Reboot)

	m, err = Parse("exit")
	require.NoError(t, err)
	assert.False(t, m.Reboot)

	m, err = Parse("getkey color")
	require.NoError(t, err)
	assert.Equal(t, KindGetKey, m.Kind)
	assert.Equal(t, "color", m.Key)

	m, err = Parse("setkey greeting  hello   big world")
	require.NoError(t, err)
	assert.Equal(t, KindSetKey, m.Kind)
	assert.Equal(t, "hello big world", m.Value)
}

func TestParse_BoardCommand(t *testing.T) {
	m, err := Parse("wake 30")
	require.NoError(t, err)
	assert.Equal(t, KindDevice, m.Kind)
	assert.Equal(t, vpi.WakeCmd{Minutes: 30}, m.Command)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("   ")
	assert.ErrorIs(t, err, ErrEmptyCommand)

	for _, line := range []string{"fly away", "setkey k", "getkey", "wake 99999"} {
		_, err := Parse(line)
		assert.ErrorIs(t, err, ErrInvalidCommand, line)
	}
}

// serve answers every message on b with f until ctx is done
func serve(ctx context.Context, b *Bus, f func(Message)) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-b.C():
				f(m)
			}
		}
	}()
}

func TestExec_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(Capacity, time.Second)
	serve(ctx, b, func(m Message) {
		m.Reply(vpi.DataJSON(m.Command.String()))
	})

	out, err := b.Exec(ctx, "fan 10")
	require.NoError(t, err)
	assert.Equal(t, `{"result":true,"data":"fan 10"}`, out)
}

func TestExec_NoReply(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(1, 50*time.Millisecond)
	serve(ctx, b, func(Message) {})

	_, err := b.Exec(ctx, "status")
	assert.ErrorIs(t, err, ErrNoReply)
}

func TestExec_NotDelivered(t *testing.T) {
	b := New(1, 50*time.Millisecond)
	require.NoError(t, b.Post(context.Background(), Message{Kind: KindReload}))

	_, err := b.Exec(context.Background(), "status")
	assert.ErrorIs(t, err, ErrNotDelivered)
}

func TestExecJSON_WireText(t *testing.T) {
	b := New(1, 50*time.Millisecond)
	assert.Equal(t, `{"result":false,"data":"Invalid command"}`, b.ExecJSON(context.Background(), "dance"))
	assert.Equal(t, `{"result":false,"data":"command len 0"}`, b.ExecJSON(context.Background(), ""))
}

func TestMessage_ReplyOnce(t *testing.T) {
	reply := make(chan string, 1)
	m := Message{reply: reply}
	assert.True(t, m.HasReply())
	m.OK()
	m.Fail()
	assert.Equal(t, `{"result":true}`, <-reply)

	assert.False(t, Message{}.HasReply())
	Message{}.OK()
}

func TestWireText_Unknown(t *testing.T) {
	assert.Equal(t, "boom", WireText(errors.New("boom")))
}
