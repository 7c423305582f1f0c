package streaming

import "database/sql"

// Conn is an open database session that statements are bound to.
// Implementations must be comparable (pointer types), since a statement
// remembers the Conn it was prepared on.
type Conn interface {
	// Err reports why the session can no longer be used, or nil while it is open.
	// It must not perform network I/O.
	Err() error
}

// SQLConn adapts a dedicated *sql.Conn to Conn.
type SQLConn struct {
	conn *sql.Conn
}

// NewSQLConn wraps c. The caller keeps ownership of c.
func NewSQLConn(c *sql.Conn) *SQLConn {
	return &SQLConn{conn: c}
}

// Conn returns the underlying *sql.Conn.
func (c *SQLConn) Conn() *sql.Conn { return c.conn }

func (c *SQLConn) Err() error {
	if c == nil || c.conn == nil {
		return sql.ErrConnDone
	}
	// Raw only grabs the driver connection held by c; it returns
	// sql.ErrConnDone once c has been closed.
	return c.conn.Raw(func(any) error { return nil })
}

// Close returns the connection to the pool.
func (c *SQLConn) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
