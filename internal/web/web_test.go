// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package web

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/vpid/internal/config"
	"github.com/Thermoquad/vpid/pkg/vpi"
)

type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) ExecJSON(_ context.Context, line string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if line == "" {
		return vpi.ErrorJSON("command len 0")
	}
	return vpi.DataJSON("Nop")
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return websocket.DefaultDialer.Dial(url, header)
}

func TestServer_RoundTrip(t *testing.T) {
	rec := &recorder{}
	s := New(config.WebConfig{Path: "/ws"}, rec, slog.New(slog.DiscardHandler))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := dial(t, srv, nil)
	require.NoError(t, err)
	defer conn.Close()

	for _, line := range []string{"nop\n", ""} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(line)))
	}
	_, first, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, vpi.DataJSON("Nop"), string(first))
	_, second, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, vpi.ErrorJSON("command len 0"), string(second))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"nop", ""}, rec.lines)
}

func TestServer_BasicAuth(t *testing.T) {
	cfg := config.WebConfig{Path: "/ws", Username: "admin", Password: "pw"}
	s := New(cfg, &recorder{}, slog.New(slog.DiscardHandler))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	_, resp, err := dial(t, srv, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.SetBasicAuth("admin", "wrong")
	_, resp, err = dial(t, srv, req.Header)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.SetBasicAuth("admin", "pw")
	conn, _, err := dial(t, srv, req.Header)
	require.NoError(t, err)
	conn.Close()
}

func TestServer_StartClose(t *testing.T) {
	s := New(config.WebConfig{Bind: "127.0.0.1:0", Path: "/ws"}, &recorder{}, slog.New(slog.DiscardHandler))
	require.NoError(t, s.Start())
	require.NotNil(t, s.Addr())

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("nop")))
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, s.Close())
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "open websockets are dropped on close")
}
