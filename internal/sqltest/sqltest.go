// Package sqltest provides an in-process database/sql driver for tests. It
// serves canned results and understands the DECLARE / FETCH FORWARD / CLOSE
// cursor statements of the postgres dialect.
package sqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// DriverName is the name the fake driver is registered under.
const DriverName = "cormstream_sqltest"

var (
	registerOnce sync.Once
	dsnSeq       atomic.Uint64

	serversMu sync.Mutex
	servers   = map[string]*Server{}
)

// Result is a canned query result.
type Result struct {
	Columns []string
	Rows    [][]driver.Value
	Err     error
}

// Call is one statement received by the server.
type Call struct {
	Query string
	Args  []any
}

// Server holds the canned results and the statement log of one test database.
type Server struct {
	mu      sync.Mutex
	results map[string]Result
	calls   []Call
	cursors map[string]*cursor
	failOn  map[string]error
}

type cursor struct {
	res Result
	pos int
}

// New registers a fresh server and returns it with a *sql.DB connected to it.
// The DB is closed when the test ends.
func New(tb testing.TB) (*Server, *sql.DB) {
	tb.Helper()
	registerOnce.Do(func() {
		sql.Register(DriverName, fakeDriver{})
	})

	srv := &Server{
		results: map[string]Result{},
		cursors: map[string]*cursor{},
		failOn:  map[string]error{},
	}
	dsn := tb.Name() + "#" + strconv.FormatUint(dsnSeq.Inc(), 10)
	serversMu.Lock()
	servers[dsn] = srv
	serversMu.Unlock()

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		tb.Fatalf("sql.Open: %v", err)
	}
	tb.Cleanup(func() {
		_ = db.Close()
		serversMu.Lock()
		delete(servers, dsn)
		serversMu.Unlock()
	})
	return srv, db
}

// On registers the result returned for query.
func (s *Server) On(query string, res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[query] = res
}

// FailOn makes every statement starting with prefix fail with err.
func (s *Server) FailOn(prefix string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn[prefix] = err
}

// Calls returns the statements received so far, transaction control included.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Queries returns the text of every statement received so far.
func (s *Server) Queries() []string {
	calls := s.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Query
	}
	return out
}

// OpenCursors returns the number of declared cursors not closed yet.
func (s *Server) OpenCursors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cursors)
}

func (s *Server) record(query string, args []driver.NamedValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Call{Query: query}
	for _, a := range args {
		c.Args = append(c.Args, a.Value)
	}
	s.calls = append(s.calls, c)
	for prefix, err := range s.failOn {
		if strings.HasPrefix(query, prefix) {
			return err
		}
	}
	return nil
}

type fakeDriver struct{}

func (fakeDriver) Open(dsn string) (driver.Conn, error) {
	serversMu.Lock()
	srv, ok := servers[dsn]
	serversMu.Unlock()
	if !ok {
		return nil, errors.Errorf("sqltest: unknown dsn %q", dsn)
	}
	return &conn{srv: srv}, nil
}

type conn struct {
	srv  *Server
	inTx bool
}

var (
	_ driver.QueryerContext = (*conn)(nil)
	_ driver.ExecerContext  = (*conn)(nil)
	_ driver.ConnBeginTx    = (*conn)(nil)
)

func (c *conn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("sqltest: prepared statements are not supported")
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if err := c.srv.record("BEGIN", nil); err != nil {
		return nil, err
	}
	c.inTx = true
	return &tx{c: c}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if err := c.srv.record(query, args); err != nil {
		return nil, err
	}
	switch {
	case strings.HasPrefix(query, "DECLARE "):
		return driver.RowsAffected(0), c.declare(query)
	case strings.HasPrefix(query, "CLOSE "):
		name := c.cursorKey(strings.TrimPrefix(query, "CLOSE "))
		c.srv.mu.Lock()
		defer c.srv.mu.Unlock()
		if _, ok := c.srv.cursors[name]; !ok {
			return nil, errors.Errorf("sqltest: cursor %s does not exist", name)
		}
		delete(c.srv.cursors, name)
		return driver.RowsAffected(0), nil
	default:
		return driver.RowsAffected(0), nil
	}
}

func (c *conn) declare(query string) error {
	if !c.inTx {
		return errors.New("sqltest: DECLARE CURSOR can only be used in transaction blocks")
	}
	head, inner, ok := strings.Cut(strings.TrimPrefix(query, "DECLARE "), " NO SCROLL CURSOR FOR ")
	if !ok {
		return errors.Errorf("sqltest: malformed DECLARE: %s", query)
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	res, ok := c.srv.results[inner]
	if !ok {
		return errors.Errorf("sqltest: unexpected query %q", inner)
	}
	if res.Err != nil {
		return res.Err
	}
	c.srv.cursors[c.cursorKey(head)] = &cursor{res: res}
	return nil
}

// cursorKey scopes cursor names to the connection that declared them.
func (c *conn) cursorKey(name string) string {
	return fmt.Sprintf("%p/%s", c, name)
}

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if err := c.srv.record(query, args); err != nil {
		return nil, err
	}
	if strings.HasPrefix(query, "FETCH FORWARD ") {
		return c.fetch(query)
	}

	c.srv.mu.Lock()
	res, ok := c.srv.results[query]
	c.srv.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("sqltest: unexpected query %q", query)
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return &rows{cols: res.Columns, data: res.Rows}, nil
}

func (c *conn) fetch(query string) (driver.Rows, error) {
	var n int
	var name string
	if _, err := fmt.Sscanf(query, "FETCH FORWARD %d FROM %s", &n, &name); err != nil {
		return nil, errors.Wrapf(err, "sqltest: malformed FETCH: %s", query)
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	cur, ok := c.srv.cursors[c.cursorKey(name)]
	if !ok {
		return nil, errors.Errorf("sqltest: cursor %s does not exist", name)
	}
	end := min(cur.pos+n, len(cur.res.Rows))
	batch := cur.res.Rows[cur.pos:end]
	cur.pos = end
	return &rows{cols: cur.res.Columns, data: batch}, nil
}

type tx struct {
	c *conn
}

func (t *tx) Commit() error {
	t.c.inTx = false
	return t.c.srv.record("COMMIT", nil)
}

func (t *tx) Rollback() error {
	t.c.inTx = false
	prefix := t.c.cursorKey("")
	t.c.srv.mu.Lock()
	for name := range t.c.srv.cursors {
		if strings.HasPrefix(name, prefix) {
			delete(t.c.srv.cursors, name)
		}
	}
	t.c.srv.mu.Unlock()
	return t.c.srv.record("ROLLBACK", nil)
}

type rows struct {
	cols []string
	data [][]driver.Value
	i    int
}

func (r *rows) Columns() []string { return r.cols }

func (r *rows) Close() error { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.i >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.i])
	r.i++
	return nil
}
