// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_JSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := Component(New(&buf, "json", slog.LevelInfo), "driver")

	l.Debug("hidden")
	l.Info("board opened", "addr", "0x33")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "board opened", rec["msg"])
	assert.Equal(t, "driver", rec["component"])
	assert.Equal(t, "0x33", rec["addr"])
}

func TestNew_TextDefault(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "", slog.LevelDebug).Debug("tick")
	assert.Contains(t, buf.String(), "msg=tick")
}
