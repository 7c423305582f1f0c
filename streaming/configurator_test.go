package streaming_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/nikola-chen/cormstream/internal/sqltest"
	"github.com/nikola-chen/cormstream/streaming"
)

type fakeConn struct {
	err error
}

func (c *fakeConn) Err() error { return c.err }

func openServer(t *testing.T) (*sqltest.Server, *streaming.SQLConn) {
	t.Helper()
	srv, db := sqltest.New(t)
	c, err := db.Conn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return srv, streaming.NewSQLConn(c)
}

func openConn(t *testing.T) *streaming.SQLConn {
	t.Helper()
	_, conn := openServer(t)
	return conn
}

func TestNoOpLeavesSettingsUnchanged(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConn{}

	stmts := []*streaming.Statement{
		streaming.Prepare(conn, "SELECT 1"),
		streaming.Prepare(conn, "SELECT ?", 1).SetFetchSize(250),
		streaming.Prepare(conn, "SELECT 2").SetFetchSize(-1),
	}
	for _, stmt := range stmts {
		before := stmt.Settings()
		hint := stmt.FetchSizeHint()

		require.NoError(t, streaming.NoOp{}.Configure(ctx, conn, stmt))

		if diff := cmp.Diff(before, stmt.Settings()); diff != "" {
			t.Fatalf("settings changed (-before +after):\n%s", diff)
		}
		assert.Equal(t, hint, stmt.FetchSizeHint())
		assert.False(t, stmt.Executed())
	}
}

func TestNoOpNeverFails(t *testing.T) {
	ctx := context.Background()
	closed := &fakeConn{err: sql.ErrConnDone}
	other := &fakeConn{}
	executed := streaming.Prepare(other, "SELECT 1")
	require.NoError(t, executed.MarkExecuted())

	cases := []struct {
		name string
		conn streaming.Conn
		stmt *streaming.Statement
	}{
		{"open", other, streaming.Prepare(other, "SELECT 1")},
		{"closed connection", closed, streaming.Prepare(closed, "SELECT 1")},
		{"foreign statement", closed, streaming.Prepare(other, "SELECT 1")},
		{"executed statement", other, executed},
		{"nil", nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NoError(t, streaming.NoOp{}.Configure(ctx, tc.conn, tc.stmt))
		})
	}
}

func TestNoOpIdempotent(t *testing.T) {
	ctx := context.Background()
	conn := openConn(t)
	stmt := streaming.Prepare(conn, "SELECT 1").SetFetchSize(10)
	once := stmt.Settings()

	for range 5 {
		require.NoError(t, streaming.NoOp{}.Configure(ctx, conn, stmt))
	}
	assert.Equal(t, once, stmt.Settings())
}

func TestNoOpKeepsExistingFetchSize(t *testing.T) {
	ctx := context.Background()
	conn := openConn(t)
	const f = 64
	stmt := streaming.Prepare(conn, "SELECT 1").SetFetchSize(f)
	require.NoError(t, streaming.FetchSize{Min: 1}.Configure(ctx, conn, stmt))
	require.Equal(t, f, stmt.Settings().FetchSize)

	require.NoError(t, streaming.NoOp{}.Configure(ctx, conn, stmt))
	assert.Equal(t, f, stmt.Settings().FetchSize)
}

func TestNoOpOnClosedSQLConn(t *testing.T) {
	conn := openConn(t)
	stmt := streaming.Prepare(conn, "SELECT 1")
	require.NoError(t, conn.Close())

	require.ErrorIs(t, conn.Err(), sql.ErrConnDone)
	assert.NoError(t, streaming.NoOp{}.Configure(context.Background(), conn, stmt))
}

func TestFetchSizeConfigure(t *testing.T) {
	tests := []struct {
		name string
		cfg  streaming.FetchSize
		hint int
		want streaming.Settings
	}{
		{
			name: "default size",
			cfg:  streaming.FetchSize{Size: 500, Min: 1},
			want: streaming.Settings{FetchSize: 500, AutoCommit: true},
		},
		{
			name: "hint wins over default",
			cfg:  streaming.FetchSize{Size: 500, Min: 1},
			hint: 20,
			want: streaming.Settings{FetchSize: 20, AutoCommit: true},
		},
		{
			name: "raised to minimum",
			cfg:  streaming.FetchSize{Size: 500, Min: 100},
			hint: 5,
			want: streaming.Settings{FetchSize: 100, AutoCommit: true},
		},
		{
			name: "cursor disables auto-commit",
			cfg:  streaming.FetchSize{Size: 1000, Min: 1, Cursor: true},
			want: streaming.Settings{FetchSize: 1000, Cursor: true},
		},
		{
			name: "at maximum",
			cfg:  streaming.FetchSize{Size: 10, Min: 1, Max: 10},
			want: streaming.Settings{FetchSize: 10, AutoCommit: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{}
			stmt := streaming.Prepare(conn, "SELECT 1").SetFetchSize(tt.hint)
			require.NoError(t, tt.cfg.Configure(context.Background(), conn, stmt))
			if diff := cmp.Diff(tt.want, stmt.Settings()); diff != "" {
				t.Fatalf("settings mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFetchSizeRejectsWithoutMutating(t *testing.T) {
	tests := []struct {
		name  string
		cfg   streaming.FetchSize
		hint  int
		value int
	}{
		{"above maximum", streaming.FetchSize{Dialect: "test", Size: 10, Max: 100, Cursor: true}, 101, 101},
		{"non-positive", streaming.FetchSize{Dialect: "test"}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{}
			stmt := streaming.Prepare(conn, "SELECT 1").SetFetchSize(tt.hint)
			before := stmt.Settings()

			err := tt.cfg.Configure(context.Background(), conn, stmt)

			var cfgErr *streaming.DriverConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, "test", cfgErr.Dialect)
			assert.Equal(t, "fetch_size", cfgErr.Setting)
			assert.Equal(t, tt.value, cfgErr.Value)
			assert.Equal(t, before, stmt.Settings())
		})
	}
}

func TestFetchSizeClosedConnection(t *testing.T) {
	conn := openConn(t)
	stmt := streaming.Prepare(conn, "SELECT 1")
	require.NoError(t, conn.Close())

	err := streaming.FetchSize{Dialect: "postgres", Size: 10}.Configure(context.Background(), conn, stmt)

	var cfgErr *streaming.DriverConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "connection", cfgErr.Setting)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.Equal(t, streaming.Settings{AutoCommit: true}, stmt.Settings())
}

func TestFetchSizePreconditions(t *testing.T) {
	ctx := context.Background()
	cfg := streaming.FetchSize{Size: 10}
	a, b := &fakeConn{}, &fakeConn{}

	err := cfg.Configure(ctx, a, streaming.Prepare(b, "SELECT 1"))
	require.ErrorIs(t, err, streaming.ErrStatementNotBound)

	stmt := streaming.Prepare(a, "SELECT 1")
	require.NoError(t, stmt.MarkExecuted())
	err = cfg.Configure(ctx, a, stmt)
	require.ErrorIs(t, err, streaming.ErrStatementExecuted)

	var cfgErr *streaming.DriverConfigurationError
	require.ErrorAs(t, cfg.Configure(ctx, nil, stmt), &cfgErr)
	require.Error(t, cfg.Configure(ctx, a, nil))
}

func TestConfigureDistinctPairsConcurrently(t *testing.T) {
	ctx := context.Background()
	configurators := []streaming.Configurator{
		streaming.NoOp{},
		streaming.FetchSize{Size: 100, Min: 1},
		streaming.FetchSize{Size: 100, Min: 1, Cursor: true},
	}

	const n = 32
	stmts := make([]*streaming.Statement, n)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			conn := &fakeConn{}
			stmts[i] = streaming.Prepare(conn, "SELECT 1").SetFetchSize(i + 1)
			return configurators[i%len(configurators)].Configure(ctx, conn, stmts[i])
		})
	}
	require.NoError(t, g.Wait())

	for i, stmt := range stmts {
		switch i % len(configurators) {
		case 0:
			assert.Equal(t, streaming.Settings{AutoCommit: true}, stmt.Settings())
		case 1:
			assert.Equal(t, streaming.Settings{FetchSize: i + 1, AutoCommit: true}, stmt.Settings())
		case 2:
			assert.Equal(t, streaming.Settings{FetchSize: i + 1, Cursor: true}, stmt.Settings())
		}
	}
}

func TestConfiguratorNames(t *testing.T) {
	assert.Equal(t, "noop", streaming.NoOp{}.String())
	assert.Equal(t, "fetch_size", streaming.FetchSize{}.String())
	assert.Equal(t, "fetch_size_cursor", streaming.FetchSize{Cursor: true}.String())
}

func TestDriverConfigurationErrorMessage(t *testing.T) {
	err := &streaming.DriverConfigurationError{Dialect: "postgres", Setting: "fetch_size", Value: -3}
	assert.Equal(t, "cormstream: postgres rejected fetch_size=-3", err.Error())

	err = &streaming.DriverConfigurationError{Setting: "connection", Err: sql.ErrConnDone}
	assert.Equal(t, "cormstream: driver rejected connection: "+sql.ErrConnDone.Error(), err.Error())
}
