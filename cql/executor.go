package cql

import (
	"context"
	"time"

	"github.com/gocql/gocql"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/nikola-chen/cormstream/internal/metrics"
	"github.com/nikola-chen/cormstream/streaming"
)

// Executor configures and runs CQL statements.
type Executor struct {
	configurator streaming.Configurator
	logger       *zap.Logger
}

// NewExecutor returns an executor applying configurator to every streamed
// statement. A nil configurator selects Streaming(); a nil logger discards
// logs.
func NewExecutor(configurator streaming.Configurator, logger *zap.Logger) *Executor {
	if configurator == nil {
		configurator = Streaming()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{configurator: configurator, logger: logger.With(zap.String("dialect", Dialect))}
}

// Stream configures stmt for sess and runs it.
func (e *Executor) Stream(ctx context.Context, sess *Session, stmt *streaming.Statement) (*Rows, error) {
	if err := e.configurator.Configure(ctx, sess, stmt); err != nil {
		setting := "unknown"
		var cfgErr *streaming.DriverConfigurationError
		if errors.As(err, &cfgErr) {
			setting = cfgErr.Setting
		}
		metrics.ConfigureErrors.WithLabelValues(Dialect, setting).Inc()
		e.logger.Error("streaming configuration rejected", zap.String("cql", stmt.Query()), zap.Error(err))
		return nil, err
	}
	metrics.StatementsConfigured.WithLabelValues(Dialect, e.configurator.String()).Inc()
	return e.Query(ctx, sess, stmt)
}

// Query runs stmt on sess, paging by the statement's fetch size.
func (e *Executor) Query(ctx context.Context, sess *Session, stmt *streaming.Statement) (*Rows, error) {
	if stmt == nil {
		return nil, errors.New("cormstream: nil statement")
	}
	if stmt.Conn() != streaming.Conn(sess) {
		return nil, streaming.ErrStatementNotBound
	}
	if err := sess.Err(); err != nil {
		return nil, errors.Wrap(err, "cormstream: cql session")
	}
	st := stmt.Settings()
	if st.Cursor {
		return nil, &streaming.DriverConfigurationError{Dialect: Dialect, Setting: "cursor", Value: true}
	}
	if err := stmt.MarkExecuted(); err != nil {
		return nil, err
	}

	start := time.Now()
	q := sess.session.Query(stmt.Query(), stmt.Args()...).WithContext(ctx)
	if st.FetchSize > 0 {
		q = q.PageSize(st.FetchSize)
	}
	iter := q.Iter()
	metrics.QueryDuration.WithLabelValues(Dialect, "paged").Observe(time.Since(start).Seconds())
	metrics.FetchRoundTrips.WithLabelValues(Dialect).Inc()

	e.logger.Debug("query",
		zap.String("cql", stmt.Query()),
		zap.Int("argc", len(stmt.Args())),
		zap.Int("page_size", st.FetchSize),
		zap.Duration("dur", time.Since(start)),
	)
	return &Rows{iter: iter, pages: 1}, nil
}

// Rows iterates a paged CQL result. The next page is requested when the
// current one is consumed.
type Rows struct {
	iter   *gocql.Iter
	row    map[string]any
	count  atomic.Int64
	pages  int
	err    error
	closed bool
}

// Next advances to the next row, closing the iterator at the end.
func (r *Rows) Next() bool {
	if r.closed {
		return false
	}
	if r.iter.WillSwitchPage() {
		r.pages++
		metrics.FetchRoundTrips.WithLabelValues(Dialect).Inc()
	}
	row := make(map[string]any, len(r.iter.Columns()))
	if !r.iter.MapScan(row) {
		r.err = r.Close()
		return false
	}
	r.row = row
	r.count.Inc()
	metrics.RowsStreamed.WithLabelValues(Dialect).Inc()
	return true
}

// Map returns the current row keyed by column name.
func (r *Rows) Map() map[string]any { return r.row }

// Columns returns the result column names.
func (r *Rows) Columns() []string {
	cols := r.iter.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func (r *Rows) Err() error { return r.err }

// Count returns the number of rows read so far.
func (r *Rows) Count() int64 { return r.count.Load() }

// Pages returns the number of pages requested so far.
func (r *Rows) Pages() int { return r.pages }

// Close releases the iterator. It is safe to call more than once.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.iter.Close(); err != nil {
		return errors.Wrap(err, "cormstream: cql iterator")
	}
	return nil
}
