package streaming

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/nikola-chen/cormstream/internal/metrics"
)

// CursorSQL generates the statements used to stream a query through a
// server-side cursor.
type CursorSQL interface {
	DeclareCursor(name, query string) string
	FetchCursor(name string, n int) string
	CloseCursor(name string) string
}

// Executor runs configured statements on a SQLConn and returns their rows.
type Executor struct {
	dialect string
	cursors CursorSQL
	seq     atomic.Uint64
}

// NewExecutor returns an executor for dialect. cursors may be nil when the
// dialect has no server-side cursors.
func NewExecutor(dialect string, cursors CursorSQL) *Executor {
	return &Executor{dialect: dialect, cursors: cursors}
}

// Query executes stmt on conn. Statements in cursor mode are streamed in
// FetchSize batches inside a transaction; all others are handed to the
// driver as is.
func (e *Executor) Query(ctx context.Context, conn *SQLConn, stmt *Statement) (*Rows, error) {
	if conn == nil || stmt == nil {
		return nil, errors.New("cormstream: nil connection or statement")
	}
	if stmt.Conn() != Conn(conn) {
		return nil, ErrStatementNotBound
	}

	st := stmt.Settings()
	if st.Cursor {
		if e.cursors == nil {
			return nil, &DriverConfigurationError{Dialect: e.dialect, Setting: "cursor", Value: true}
		}
		if st.FetchSize <= 0 {
			return nil, &DriverConfigurationError{Dialect: e.dialect, Setting: "fetch_size", Value: st.FetchSize}
		}
	}
	if err := stmt.MarkExecuted(); err != nil {
		return nil, err
	}

	start := time.Now()
	if st.Cursor {
		rows, err := e.queryCursor(ctx, conn.Conn(), stmt, st.FetchSize)
		metrics.QueryDuration.WithLabelValues(e.dialect, "cursor").Observe(time.Since(start).Seconds())
		return rows, err
	}

	rows, err := conn.Conn().QueryContext(ctx, stmt.Query(), stmt.Args()...)
	metrics.QueryDuration.WithLabelValues(e.dialect, "plain").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, errors.Wrap(err, "cormstream: query")
	}
	metrics.FetchRoundTrips.WithLabelValues(e.dialect).Inc()
	return newRows(e.dialect, &plainSource{rows: rows}), nil
}

func (e *Executor) queryCursor(ctx context.Context, conn *sql.Conn, stmt *Statement, size int) (*Rows, error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "cormstream: begin cursor transaction")
	}

	name := "cormstream_cur_" + strconv.FormatUint(e.seq.Inc(), 10)
	if _, err := tx.ExecContext(ctx, e.cursors.DeclareCursor(name, stmt.Query()), stmt.Args()...); err != nil {
		_ = tx.Rollback()
		return nil, errors.Wrapf(err, "cormstream: declare cursor %s", name)
	}

	src := &cursorSource{
		ctx:     ctx,
		dialect: e.dialect,
		tx:      tx,
		cursors: e.cursors,
		name:    name,
		size:    size,
	}
	if err := src.fetch(); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	cols, err := src.batch.Columns()
	if err != nil {
		_ = src.batch.Close()
		_ = tx.Rollback()
		return nil, errors.Wrap(err, "cormstream: read cursor columns")
	}
	src.cols = cols
	return newRows(e.dialect, src), nil
}
