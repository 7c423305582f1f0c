package streaming

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Configurator applies driver-specific settings to a statement so that its
// execution streams rows instead of buffering the whole result. It never
// executes the statement and never closes the connection or the statement.
//
// The set of configurators is closed: NoOp and FetchSize.
type Configurator interface {
	fmt.Stringer
	// Configure mutates stmt in place. conn must be open and stmt must be
	// bound to it and not yet executed.
	Configure(ctx context.Context, conn Conn, stmt *Statement) error

	sealed()
}

// NoOp leaves statements untouched. It is used for drivers that already
// stream rows or need no tuning.
type NoOp struct{}

func (NoOp) Configure(context.Context, Conn, *Statement) error { return nil }

func (NoOp) String() string { return "noop" }

func (NoOp) sealed() {}

// FetchSize sets a fetch size on every statement and, for dialects that only
// stream through server-side cursors, switches the statement to cursor mode
// with auto-commit disabled.
type FetchSize struct {
	// Dialect names the dialect in errors.
	Dialect string
	// Size is used when the statement carries no fetch size hint.
	Size int
	// Min is the smallest fetch size applied; smaller values are raised to it.
	Min int
	// Max is the largest fetch size the driver accepts; 0 means unbounded.
	Max int
	// Cursor enables cursor mode.
	Cursor bool
}

func (f FetchSize) Configure(_ context.Context, conn Conn, stmt *Statement) error {
	if stmt == nil {
		return errors.New("cormstream: nil statement")
	}
	if conn == nil {
		return &DriverConfigurationError{Dialect: f.Dialect, Setting: "connection", Err: errors.New("no connection")}
	}
	if err := conn.Err(); err != nil {
		return &DriverConfigurationError{Dialect: f.Dialect, Setting: "connection", Err: err}
	}
	if stmt.Conn() != conn {
		return ErrStatementNotBound
	}
	if stmt.Executed() {
		return ErrStatementExecuted
	}

	size := stmt.FetchSizeHint().OrElse(f.Size)
	if size < f.Min {
		size = f.Min
	}
	if size <= 0 || (f.Max > 0 && size > f.Max) {
		return &DriverConfigurationError{Dialect: f.Dialect, Setting: "fetch_size", Value: size}
	}

	stmt.apply(size, f.Cursor)
	return nil
}

func (f FetchSize) String() string {
	if f.Cursor {
		return "fetch_size_cursor"
	}
	return "fetch_size"
}

func (FetchSize) sealed() {}
