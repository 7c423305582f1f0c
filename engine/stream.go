package engine

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nikola-chen/cormstream/clause"
	"github.com/nikola-chen/cormstream/internal/metrics"
	"github.com/nikola-chen/cormstream/streaming"
)

// Stream runs query on a dedicated connection and returns its rows as a
// stream. The statement passes through the Engine's configurator before it
// runs; configuration errors are returned unchanged. Closing the rows
// returns the connection to the pool.
func (e *Engine) Stream(ctx context.Context, query string, args ...any) (*streaming.Rows, error) {
	c, err := e.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "cormstream: acquire connection")
	}
	conn := streaming.NewSQLConn(c)

	stmt := streaming.Prepare(conn, query, args...)
	if e.cfg.FetchSize > 0 {
		stmt.SetFetchSize(e.cfg.FetchSize)
	}
	if err := e.configurator.Configure(ctx, conn, stmt); err != nil {
		_ = conn.Close()
		e.configureFailed(query, err)
		return nil, err
	}
	metrics.StatementsConfigured.WithLabelValues(e.dialect.Name(), e.configurator.String()).Inc()

	start := time.Now()
	rows, err := e.executor.Query(ctx, conn, stmt)
	settings := stmt.Settings()
	e.logQuery(query, args, time.Since(start), err,
		zap.Int("fetch_size", settings.FetchSize),
		zap.Bool("cursor", settings.Cursor),
	)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	rows.AddCloser(func() error {
		e.logger.Debug("stream closed",
			zap.Int64("rows", rows.Count()),
			zap.Int("batches", rows.Batches()),
			zap.Duration("dur", time.Since(start)),
		)
		return conn.Close()
	})
	return rows, nil
}

// StreamTable streams the given columns of table, filtered by equality on
// filters. Identifiers are quoted for the dialect and filters are applied in
// column name order. An empty column list selects every column.
func (e *Engine) StreamTable(ctx context.Context, table string, columns []string, filters map[string]any) (*streaming.Rows, error) {
	query, args := e.selectSQL(table, columns, e.equalities(filters))
	return e.Stream(ctx, query, args...)
}

// StreamWhere streams the given columns of table restricted by where. The
// '?' placeholders of where are rewritten for the dialect; identifiers inside
// it are used as written.
func (e *Engine) StreamWhere(ctx context.Context, table string, columns []string, where clause.Expr) (*streaming.Rows, error) {
	query, args := e.selectSQL(table, columns, where)
	return e.Stream(ctx, query, args...)
}

func (e *Engine) equalities(filters map[string]any) clause.Expr {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	exprs := make([]clause.Expr, len(keys))
	for i, k := range keys {
		exprs[i] = clause.Eq(e.dialect.QuoteIdent(k), filters[k])
	}
	return clause.And(exprs...)
}

func (e *Engine) selectSQL(table string, columns []string, where clause.Expr) (string, []any) {
	d := e.dialect

	var b strings.Builder
	b.WriteString("SELECT ")
	if len(columns) == 0 {
		b.WriteByte('*')
	}
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.QuoteIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(d.QuoteIdent(table))

	args := make([]any, 0, len(where.Args))
	if !where.Empty() {
		b.WriteString(" WHERE ")
		b.WriteString(clause.Bind(where.SQL, 1, d.Placeholder))
		args = append(args, where.Args...)
	}
	return b.String(), args
}

func (e *Engine) configureFailed(query string, err error) {
	setting := "unknown"
	var cfgErr *streaming.DriverConfigurationError
	if errors.As(err, &cfgErr) {
		setting = cfgErr.Setting
	}
	metrics.ConfigureErrors.WithLabelValues(e.dialect.Name(), setting).Inc()
	e.logger.Error("streaming configuration rejected",
		zap.String("sql", truncateSQL(query, e.cfg.MaxLogSQLLen)),
		zap.Stringer("configurator", e.configurator),
		zap.Error(err),
	)
}
