// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mqtt bridges an MQTT broker to the daemon's command bus
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/Thermoquad/vpid/internal/config"
	"github.com/Thermoquad/vpid/pkg/vpi"
)

// ConnectTimeout bounds the initial broker connection
const ConnectTimeout = 10 * time.Second

// Commander submits a command line to the daemon and returns the JSON reply
type Commander interface {
	ExecJSON(ctx context.Context, line string) string
}

// Bridge executes command lines received on the command topic and
// publishes replies and status changes under the event topic
type Bridge struct {
	client paho.Client
	cfg    config.MQTTConfig
	cmd    Commander
	logger *slog.Logger
}

// ClientID returns the configured id or a generated vpid-<uuid>
func ClientID(cfg config.MQTTConfig) string {
	if cfg.ID != "" {
		return cfg.ID
	}
	return "vpid-" + uuid.NewString()
}

// Options builds the paho client options for cfg
func Options(cfg config.MQTTConfig) *paho.ClientOptions {
	opts := paho.NewClientOptions().AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(ClientID(cfg))
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(ConnectTimeout)
	if cfg.User != "" {
		opts.SetUsername(cfg.User)
		opts.SetPassword(cfg.Password)
	}
	return opts
}

// Dial connects to the broker in cfg and subscribes to the command topic
func Dial(ctx context.Context, cfg config.MQTTConfig, cmd Commander, logger *slog.Logger) (*Bridge, error) {
	client := paho.NewClient(Options(cfg))
	t := client.Connect()
	select {
	case <-t.Done():
		if err := t.Error(); err != nil {
			return nil, fmt.Errorf("mqtt connect to %s:%d: %w", cfg.Host, cfg.Port, err)
		}
	case <-ctx.Done():
		client.Disconnect(250)
		return nil, ctx.Err()
	}

	b := NewBridge(client, cfg, cmd, logger)
	if err := b.Subscribe(); err != nil {
		client.Disconnect(250)
		return nil, err
	}
	return b, nil
}

// NewBridge wraps a connected client
func NewBridge(client paho.Client, cfg config.MQTTConfig, cmd Commander, logger *slog.Logger) *Bridge {
	return &Bridge{client: client, cfg: cfg, cmd: cmd, logger: logger}
}

// Subscribe starts receiving command lines
func (b *Bridge) Subscribe() error {
	t := b.client.Subscribe(b.cfg.CmdTopic, 0, b.handle)
	if t.WaitTimeout(ConnectTimeout) && t.Error() != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", b.cfg.CmdTopic, t.Error())
	}
	b.logger.Info("mqtt bridge subscribed", "topic", b.cfg.CmdTopic)
	return nil
}

func (b *Bridge) handle(_ paho.Client, m paho.Message) {
	line := strings.TrimSpace(string(m.Payload()))
	b.logger.Debug("mqtt command", "topic", m.Topic(), "line", line)
	reply := b.cmd.ExecJSON(context.Background(), line)
	if b.cfg.EvtTopic != "" {
		b.client.Publish(b.cfg.EvtTopic+"/reply", 0, false, reply)
	}
}

// PublishStatus publishes s retained under <evt_topic>/status without
// waiting for the broker
func (b *Bridge) PublishStatus(s vpi.Status) {
	if b.cfg.EvtTopic == "" {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		b.logger.Error("failed to marshal status", "error", err)
		return
	}
	b.client.Publish(b.cfg.EvtTopic+"/status", 0, true, data)
}

// Close unsubscribes and disconnects
func (b *Bridge) Close() {
	b.client.Unsubscribe(b.cfg.CmdTopic).WaitTimeout(time.Second)
	b.client.Disconnect(250)
}
