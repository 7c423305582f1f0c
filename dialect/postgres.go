package dialect

import (
	"strconv"

	"github.com/nikola-chen/cormstream/streaming"
)

// PostgresFetchSize is the number of rows fetched per cursor round-trip when
// a statement carries no fetch size hint.
const PostgresFetchSize = 1000

var postgresPlaceholders = [...]string{
	"$1", "$2", "$3", "$4", "$5", "$6", "$7", "$8", "$9", "$10",
	"$11", "$12", "$13", "$14", "$15", "$16", "$17", "$18", "$19", "$20",
}

// The postgres wire drivers buffer a whole result unless it is read through
// a cursor, which only lives inside a transaction.
type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Placeholder(n int) string {
	if n > 0 && n <= len(postgresPlaceholders) {
		return postgresPlaceholders[n-1]
	}
	return "$" + strconv.Itoa(n)
}

func (postgresDialect) QuoteIdent(ident string) string { return doubleQuoteQuoter.quote(ident) }

func (postgresDialect) Streaming() streaming.Configurator {
	return streaming.FetchSize{
		Dialect: "postgres",
		Size:    PostgresFetchSize,
		Min:     1,
		Cursor:  true,
	}
}

func (d postgresDialect) DeclareCursor(name, query string) string {
	return "DECLARE " + d.QuoteIdent(name) + " NO SCROLL CURSOR FOR " + query
}

func (d postgresDialect) FetchCursor(name string, n int) string {
	return "FETCH FORWARD " + strconv.Itoa(n) + " FROM " + d.QuoteIdent(name)
}

func (d postgresDialect) CloseCursor(name string) string {
	return "CLOSE " + d.QuoteIdent(name)
}

func init() {
	Register("postgres", postgresDialect{})
	Register("postgresql", postgresDialect{})
	Register("pgx", postgresDialect{})
}
