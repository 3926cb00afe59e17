// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"github.com/Thermoquad/vpid/internal/config"
	"github.com/Thermoquad/vpid/internal/sock"
)

// Client sends command lines to the daemon and returns its JSON replies
type Client interface {
	Send(ctx context.Context, line string) (string, error)
	Close() error
}

// SocketClient opens one unix socket connection per request
type SocketClient struct {
	path string
}

func (s *SocketClient) Send(ctx context.Context, line string) (string, error) {
	return sock.Request(ctx, s.path, line)
}

func (s *SocketClient) Close() error {
	return nil
}

// WebSocketClient keeps one websocket open; requests are serialized
type WebSocketClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *WebSocketClient) Send(ctx context.Context, line string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = w.conn.SetWriteDeadline(deadline)
	_ = w.conn.SetReadDeadline(deadline)

	if err := w.conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		return "", err
	}
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if messageType == websocket.TextMessage {
			return string(data), nil
		}
	}
}

func (w *WebSocketClient) Close() error {
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return w.conn.Close()
}

// OpenWebSocketClient opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketClient(wsURL, username, password string, skipSSLVerify bool) (*WebSocketClient, error) {
	// Parse and validate URL
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	// Configure TLS for wss://
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	// Build HTTP headers with Basic auth
	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}

	return &WebSocketClient{conn: conn}, nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv(config.EnvPassword); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenClient connects to the daemon over the websocket bridge when --url
// is set, otherwise over the unix socket
func OpenClient() (Client, string, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketClient(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	return &SocketClient{path: socketPath}, fmt.Sprintf("Socket: %s", socketPath), nil
}

// Reply is a decoded daemon answer
type Reply struct {
	Result bool            `json:"result"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ParseReply decodes a JSON reply. Replies that are not JSON are kept as
// failed text.
func ParseReply(raw string) Reply {
	var r Reply
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		data, _ := json.Marshal(strings.TrimSpace(raw))
		return Reply{Result: false, Data: data}
	}
	return r
}

// Text renders the data field: strings unquoted, objects indented
func (r Reply) Text() string {
	if len(r.Data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Data, &s); err == nil {
		return s
	}
	var v any
	if err := json.Unmarshal(r.Data, &v); err != nil {
		return string(r.Data)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
