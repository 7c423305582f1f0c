package streaming

import (
	"sync"

	"github.com/samber/mo"
	"go.uber.org/atomic"
)

// Settings are the execution-time settings of a Statement.
type Settings struct {
	// FetchSize is the number of rows fetched per round-trip; 0 means the
	// driver default.
	FetchSize int
	// Cursor streams the result through a server-side cursor.
	Cursor bool
	// AutoCommit is false when execution must happen inside a transaction.
	AutoCommit bool
}

// Statement is a parameterized query bound to a Conn that has not run yet.
// Configurators mutate its settings in place before an executor runs it.
type Statement struct {
	conn  Conn
	query string
	args  []any

	mu         sync.RWMutex
	hint       mo.Option[int]
	fetchSize  int
	cursor     bool
	autoCommit bool

	executed atomic.Bool
}

// Prepare creates a statement for query bound to conn.
func Prepare(conn Conn, query string, args ...any) *Statement {
	return &Statement{
		conn:       conn,
		query:      query,
		args:       args,
		autoCommit: true,
	}
}

func (s *Statement) Conn() Conn { return s.conn }

func (s *Statement) Query() string { return s.query }

func (s *Statement) Args() []any { return s.args }

// SetFetchSize records the caller's fetch size hint. n <= 0 clears it.
// The hint is only applied by configurators that honour fetch sizes.
func (s *Statement) SetFetchSize(n int) *Statement {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		s.hint = mo.None[int]()
	} else {
		s.hint = mo.Some(n)
	}
	return s
}

// FetchSizeHint returns the hint set with SetFetchSize.
func (s *Statement) FetchSizeHint() mo.Option[int] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hint
}

// Settings returns a snapshot of the execution settings.
func (s *Statement) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Settings{
		FetchSize:  s.fetchSize,
		Cursor:     s.cursor,
		AutoCommit: s.autoCommit,
	}
}

// Executed reports whether an executor already ran the statement.
func (s *Statement) Executed() bool { return s.executed.Load() }

// MarkExecuted flags the statement as run. It fails with
// ErrStatementExecuted when called a second time.
func (s *Statement) MarkExecuted() error {
	if !s.executed.CompareAndSwap(false, true) {
		return ErrStatementExecuted
	}
	return nil
}

func (s *Statement) apply(fetchSize int, cursor bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchSize = fetchSize
	if cursor {
		s.cursor = true
		s.autoCommit = false
	}
}
