package streaming

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/nikola-chen/cormstream/internal/metrics"
	"github.com/nikola-chen/cormstream/scan"
)

var errRowsClosed = errors.New("cormstream: rows are closed")

type rowSource interface {
	next() (bool, error)
	scan(dest ...any) error
	columns() ([]string, error)
	batches() int
	close(failed bool) error
}

// Rows iterates a streamed result one row at a time. Like *sql.Rows it
// closes itself once Next returns false. Rows is not safe for concurrent use.
type Rows struct {
	dialect string
	src     rowSource
	count   atomic.Int64
	err     error
	closed  bool
	closers []func() error
}

func newRows(dialect string, src rowSource) *Rows {
	return &Rows{dialect: dialect, src: src}
}

// Next advances to the next row.
func (r *Rows) Next() bool {
	if r.closed || r.err != nil {
		return false
	}
	ok, err := r.src.next()
	if err != nil {
		r.err = err
	}
	if !ok || err != nil {
		if cerr := r.Close(); cerr != nil && r.err == nil {
			r.err = cerr
		}
		return false
	}
	r.count.Inc()
	metrics.RowsStreamed.WithLabelValues(r.dialect).Inc()
	return true
}

// Scan copies the columns of the current row into dest.
func (r *Rows) Scan(dest ...any) error {
	if r.closed {
		return errRowsClosed
	}
	return r.src.scan(dest...)
}

// ScanInto scans the current row into a *struct or a *map[string]T.
func (r *Rows) ScanInto(dest any) error {
	if r.closed {
		return errRowsClosed
	}
	return scan.Row(r, dest)
}

func (r *Rows) Columns() ([]string, error) {
	return r.src.columns()
}

// Err returns the error that stopped iteration, including errors from the
// implicit Close at the end of the result.
func (r *Rows) Err() error { return r.err }

// Count returns the number of rows read so far.
func (r *Rows) Count() int64 { return r.count.Load() }

// Batches returns the number of fetch round-trips issued so far.
func (r *Rows) Batches() int { return r.src.batches() }

// AddCloser registers fn to run when the rows are closed, after the result
// itself has been released.
func (r *Rows) AddCloser(fn func() error) {
	r.closers = append(r.closers, fn)
}

// Close releases the result. It is safe to call more than once.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.src.close(r.err != nil)
	for _, fn := range r.closers {
		err = multierr.Append(err, fn())
	}
	return err
}

type plainSource struct {
	rows *sql.Rows
}

func (p *plainSource) next() (bool, error) {
	if p.rows.Next() {
		return true, nil
	}
	return false, p.rows.Err()
}

func (p *plainSource) scan(dest ...any) error { return p.rows.Scan(dest...) }

func (p *plainSource) columns() ([]string, error) { return p.rows.Columns() }

func (p *plainSource) batches() int { return 1 }

func (p *plainSource) close(bool) error { return p.rows.Close() }

type cursorSource struct {
	ctx     context.Context
	dialect string
	tx      *sql.Tx
	cursors CursorSQL
	name    string
	size    int
	cols    []string

	batch   *sql.Rows
	inBatch int
	fetched int
	done    bool
}

func (c *cursorSource) fetch() error {
	rows, err := c.tx.QueryContext(c.ctx, c.cursors.FetchCursor(c.name, c.size))
	if err != nil {
		return errors.Wrapf(err, "cormstream: fetch from cursor %s", c.name)
	}
	c.batch = rows
	c.inBatch = 0
	c.fetched++
	metrics.FetchRoundTrips.WithLabelValues(c.dialect).Inc()
	return nil
}

func (c *cursorSource) next() (bool, error) {
	for !c.done {
		if c.batch.Next() {
			c.inBatch++
			return true, nil
		}
		if err := c.batch.Err(); err != nil {
			return false, err
		}
		if err := c.batch.Close(); err != nil {
			return false, err
		}
		// A short batch means the cursor is exhausted.
		if c.inBatch < c.size {
			c.done = true
			break
		}
		if err := c.fetch(); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (c *cursorSource) scan(dest ...any) error { return c.batch.Scan(dest...) }

func (c *cursorSource) columns() ([]string, error) { return c.cols, nil }

func (c *cursorSource) batches() int { return c.fetched }

func (c *cursorSource) close(failed bool) error {
	err := c.batch.Close()
	if failed || c.ctx.Err() != nil {
		if rerr := c.tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = multierr.Append(err, rerr)
		}
		return err
	}
	if _, cerr := c.tx.ExecContext(c.ctx, c.cursors.CloseCursor(c.name)); cerr != nil {
		_ = c.tx.Rollback()
		return multierr.Append(err, errors.Wrapf(cerr, "cormstream: close cursor %s", c.name))
	}
	return multierr.Append(err, c.tx.Commit())
}
