package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var errQueryCanceled = errors.New("cormstream: context canceled")

// logQuery logs a streamed query when SQL logging is on, when it was slow, or
// when it failed.
func (e *Engine) logQuery(query string, args []any, dur time.Duration, err error, extra ...zap.Field) {
	slow := e.cfg.SlowQuery > 0 && dur >= e.cfg.SlowQuery
	if !e.cfg.LogSQL && !slow && err == nil {
		return
	}
	if !e.cfg.LogCanceled && err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = errQueryCanceled
		}
	}

	fields := make([]zap.Field, 0, 4+len(extra))
	fields = append(fields, zap.String("sql", truncateSQL(query, e.cfg.MaxLogSQLLen)))
	if e.cfg.LogArgs {
		fields = append(fields, zap.String("args", formatArgs(args, e.cfg.ArgFormatter, e.cfg.MaxLogArgsItems, e.cfg.MaxLogArgsLen)))
	} else {
		fields = append(fields, zap.Int("argc", len(args)))
	}
	fields = append(fields, zap.Duration("dur", dur))
	fields = append(fields, extra...)

	switch {
	case err != nil:
		e.logger.Error("query failed", append(fields, zap.Error(err))...)
	case slow:
		e.logger.Warn("slow query", fields...)
	default:
		e.logger.Info("query", fields...)
	}
}

func truncateSQL(sql string, maxLen int) string {
	const defaultMax = 2048
	if maxLen <= 0 {
		maxLen = defaultMax
	}
	if len(sql) <= maxLen {
		return sql
	}
	return sql[:maxLen] + "…"
}

func formatArgs(args []any, argFormatter func(any) string, maxItems int, maxLen int) string {
	const defaultMaxItems = 20
	const defaultMaxLen = 512
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	if argFormatter == nil {
		argFormatter = defaultArgFormatter
	}
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < len(args) && i < maxItems; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(argFormatter(args[i]))
		if b.Len() > maxLen {
			b.WriteString("…")
			break
		}
	}
	if len(args) > maxItems {
		b.WriteString(", …")
	}
	b.WriteByte(']')
	return b.String()
}

func defaultArgFormatter(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("redacted(len=%d)", len(x))
	case []byte:
		return fmt.Sprintf("bytes(len=%d)", len(x))
	case error, fmt.Stringer:
		return fmt.Sprintf("%T(redacted)", v)
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(v)
	default:
		s := fmt.Sprint(v)
		if len(s) > 64 {
			return s[:64] + "…"
		}
		return s
	}
}
