// Package cql streams CQL query results from Scylla and Cassandra. The
// streaming configurator's fetch size becomes the protocol page size.
package cql

import (
	"github.com/gocql/gocql"

	"github.com/nikola-chen/cormstream/streaming"
)

const (
	// Dialect names CQL in errors, logs and metrics.
	Dialect = "cql"
	// DefaultPageSize is the page size used when a statement has no hint.
	DefaultPageSize = 5000
	// MaxPageSize is the largest page size accepted.
	MaxPageSize = 1 << 20
)

// Streaming returns the configurator for CQL statements. CQL has no
// server-side cursors; paging alone streams the result.
func Streaming() streaming.Configurator {
	return streaming.FetchSize{
		Dialect: Dialect,
		Size:    DefaultPageSize,
		Min:     1,
		Max:     MaxPageSize,
	}
}

// Session adapts a *gocql.Session to streaming.Conn.
type Session struct {
	session *gocql.Session
}

func NewSession(s *gocql.Session) *Session {
	return &Session{session: s}
}

// Session returns the underlying gocql session.
func (s *Session) Session() *gocql.Session { return s.session }

func (s *Session) Err() error {
	if s == nil || s.session == nil || s.session.Closed() {
		return gocql.ErrSessionClosed
	}
	return nil
}
