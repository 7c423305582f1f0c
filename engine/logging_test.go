package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observedEngine(cfg Config) (*Engine, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Engine{logger: zap.New(core), cfg: cfg}, logs
}

func TestFormatArgsDefaultRedaction(t *testing.T) {
	s := strings.Repeat("a", 33)
	out := formatArgs([]any{s, []byte{1, 2, 3}, nil, 42}, nil, 0, 0)
	assert.Equal(t, "[redacted(len=33), bytes(len=3), null, 42]", out)
}

func TestFormatArgsCustomFormatter(t *testing.T) {
	out := formatArgs([]any{1, "x"}, func(any) string { return "X" }, 0, 0)
	assert.Equal(t, "[X, X]", out)
}

func TestFormatArgsLimits(t *testing.T) {
	out := formatArgs([]any{1, 2, 3}, nil, 2, 0)
	assert.Equal(t, "[1, 2, …]", out)

	out = formatArgs([]any{strings.Repeat("x", 10), 2}, func(v any) string { return strings.Repeat("y", 8) }, 0, 5)
	assert.Equal(t, "[yyyyyyyy…]", out)
}

func TestTruncateSQL(t *testing.T) {
	assert.Equal(t, "SELECT 1", truncateSQL("SELECT 1", 0))
	assert.Equal(t, "SELE…", truncateSQL("SELECT 1", 4))
}

func TestLogQueryDisabled(t *testing.T) {
	e, logs := observedEngine(Config{})
	e.logQuery("SELECT 1", nil, time.Millisecond, nil)
	assert.Zero(t, logs.Len())
}

func TestLogQueryLevels(t *testing.T) {
	e, logs := observedEngine(Config{LogSQL: true, LogArgs: true, SlowQuery: time.Second})

	e.logQuery("SELECT ?", []any{"pw"}, time.Millisecond, nil)
	e.logQuery("SELECT 2", nil, 2*time.Second, nil)
	e.logQuery("SELECT 3", nil, time.Millisecond, context.Canceled)

	entries := logs.All()
	require.Len(t, entries, 3)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "[redacted(len=2)]", entries[0].ContextMap()["args"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "slow query", entries[1].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, errQueryCanceled.Error(), entries[2].ContextMap()["error"])
}

func TestLogQueryKeepsCanceled(t *testing.T) {
	e, logs := observedEngine(Config{LogCanceled: true})
	e.logQuery("SELECT 1", nil, 0, context.Canceled)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, context.Canceled.Error(), entries[0].ContextMap()["error"])
}
