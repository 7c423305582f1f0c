package dialect

import "github.com/nikola-chen/cormstream/streaming"

// go-sql-driver/mysql reads rows off the socket as Next is called, so
// statements need no tuning.
type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }

func (mysqlDialect) Placeholder(int) string { return "?" }

func (mysqlDialect) QuoteIdent(ident string) string { return backtickQuoter.quote(ident) }

func (mysqlDialect) Streaming() streaming.Configurator { return streaming.NoOp{} }

func init() {
	Register("mysql", mysqlDialect{})
}
