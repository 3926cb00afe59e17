// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/vpid/internal/config"
	"github.com/Thermoquad/vpid/pkg/vpi"
)

type published struct {
	topic    string
	retained bool
	payload  string
}

// fakeClient implements the parts of paho.Client the bridge uses
type fakeClient struct {
	paho.Client
	handlers     map[string]paho.MessageHandler
	published    []published
	disconnected bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]paho.MessageHandler{}}
}

func (c *fakeClient) Subscribe(topic string, _ byte, h paho.MessageHandler) paho.Token {
	c.handlers[topic] = h
	return &paho.DummyToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) paho.Token {
	for _, t := range topics {
		delete(c.handlers, t)
	}
	return &paho.DummyToken{}
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) paho.Token {
	var s string
	switch p := payload.(type) {
	case string:
		s = p
	case []byte:
		s = string(p)
	}
	c.published = append(c.published, published{topic, retained, s})
	return &paho.DummyToken{}
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

type fakeMessage struct {
	paho.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

type echoCommander struct{ lines []string }

func (e *echoCommander) ExecJSON(_ context.Context, line string) string {
	e.lines = append(e.lines, line)
	return vpi.DataJSON(line)
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{Host: "broker", Port: 1883, CmdTopic: "vpi/cmd", EvtTopic: "vpi/evt"}
}

func TestBridge_CommandRoundTrip(t *testing.T) {
	client := newFakeClient()
	cmd := &echoCommander{}
	b := NewBridge(client, testConfig(), cmd, slog.New(slog.DiscardHandler))
	require.NoError(t, b.Subscribe())

	h, ok := client.handlers["vpi/cmd"]
	require.True(t, ok)
	h(client, fakeMessage{topic: "vpi/cmd", payload: []byte("  led on\n")})

	assert.Equal(t, []string{"led on"}, cmd.lines)
	require.Len(t, client.published, 1)
	assert.Equal(t, "vpi/evt/reply", client.published[0].topic)
	assert.False(t, client.published[0].retained)
	assert.Equal(t, vpi.DataJSON("led on"), client.published[0].payload)

	b.Close()
	assert.True(t, client.disconnected)
	assert.Empty(t, client.handlers)
}

func TestBridge_NoEventTopic(t *testing.T) {
	client := newFakeClient()
	cfg := testConfig()
	cfg.EvtTopic = ""
	b := NewBridge(client, cfg, &echoCommander{}, slog.New(slog.DiscardHandler))
	require.NoError(t, b.Subscribe())

	client.handlers["vpi/cmd"](client, fakeMessage{payload: []byte("nop")})
	b.PublishStatus(vpi.Status{IsRunning: true})
	assert.Empty(t, client.published)
}

func TestBridge_PublishStatus(t *testing.T) {
	client := newFakeClient()
	b := NewBridge(client, testConfig(), &echoCommander{}, slog.New(slog.DiscardHandler))

	b.PublishStatus(vpi.Status{IsRunning: true, RPM: 900})
	require.Len(t, client.published, 1)
	p := client.published[0]
	assert.Equal(t, "vpi/evt/status", p.topic)
	assert.True(t, p.retained)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(p.payload), &got))
	assert.Equal(t, true, got["is_running"])
	assert.Equal(t, float64(900), got["rpm"])
}

func TestClientID(t *testing.T) {
	assert.Equal(t, "board-1", ClientID(config.MQTTConfig{ID: "board-1"}))

	id := ClientID(config.MQTTConfig{})
	assert.True(t, strings.HasPrefix(id, "vpid-"))
	assert.Len(t, id, len("vpid-")+36)
	assert.NotEqual(t, id, ClientID(config.MQTTConfig{}))
}

func TestOptions(t *testing.T) {
	cfg := testConfig()
	cfg.User = "vpi"
	cfg.Password = "secret"
	opts := Options(cfg)

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker:1883", opts.Servers[0].Host)
	assert.Equal(t, "vpi", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.True(t, opts.AutoReconnect)
}
