package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	rawslog "log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testMethod struct {
	fn    func(msg string, args ...any)
	level rawslog.Level
}

var (
	LogText         = "Test Log Value"
	CustomFieldName = "Somekey"
	CustomFieldVal  = "SomeVal"
)

type testLogJSON struct {
	Time     time.Time `json:"time"`
	Level    string    `json:"level"`
	Msg      string    `json:"msg"`
	ClientID string    `json:"client_id"`
	// Json field needs to match with CustomFieldName
	CustomVal any `json:"SomeKey"`
}

func TestLogger(t *testing.T) {
	buffer := bytes.NewBuffer([]byte{})

	// level needs to be set to debug for log all
	handler := rawslog.NewJSONHandler(buffer, &rawslog.HandlerOptions{Level: rawslog.LevelDebug})
	logger := New(handler)

	testMethods := []testMethod{
		{fn: logger.Error, level: rawslog.LevelError},
		{fn: logger.Warn, level: rawslog.LevelWarn},
		{fn: logger.Info, level: rawslog.LevelInfo},
		{fn: logger.Debug, level: rawslog.LevelDebug},
	}

	for _, v := range testMethods {
		t.Run(fmt.Sprintf("testing %s", v.level.String()), func(t *testing.T) {
			buffer.Reset()
			v.fn(LogText, CustomFieldName, CustomFieldVal)

			line := new(testLogJSON)
			require.NoError(t, json.Unmarshal(buffer.Bytes(), line))
			require.Equal(t, v.level.String(), line.Level)
			require.Equal(t, LogText, line.Msg)
			require.Equal(t, CustomFieldVal, line.CustomVal)
		})
	}
}

func TestWith(t *testing.T) {
	buffer := bytes.NewBuffer([]byte{})
	logger := New(rawslog.NewJSONHandler(buffer, nil)).With("client_id", "abc")

	logger.Info(LogText)

	line := new(testLogJSON)
	require.NoError(t, json.Unmarshal(buffer.Bytes(), line))
	require.Equal(t, "abc", line.ClientID)
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	require.NotPanics(t, func() {
		logger.Error(LogText)
		logger.With("k", "v").Debug(LogText)
	})
}
