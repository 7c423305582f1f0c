package dialect

import "github.com/nikola-chen/cormstream/streaming"

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite3" }

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) QuoteIdent(ident string) string { return doubleQuoteQuoter.quote(ident) }

// Streaming is a no-op: sqlite steps through rows one at a time.
func (sqliteDialect) Streaming() streaming.Configurator { return streaming.NoOp{} }

func init() {
	Register("sqlite3", sqliteDialect{})
	Register("sqlite", sqliteDialect{})
}
