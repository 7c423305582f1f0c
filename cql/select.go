package cql

import (
	"slices"

	"github.com/scylladb/gocqlx/v3/qb"

	"github.com/nikola-chen/cormstream/streaming"
)

// Select prepares a SELECT of columns from table bound to sess, restricted
// by equality on eq in column name order. Restricted columns must be key
// columns or indexed. An empty column list selects every column.
func Select(sess *Session, table string, columns []string, eq map[string]any) *streaming.Statement {
	b := qb.Select(table).Columns(columns...)

	keys := make([]string, 0, len(eq))
	for k := range eq {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	args := make([]any, 0, len(keys))
	for _, k := range keys {
		b = b.Where(qb.Eq(k))
		args = append(args, eq[k])
	}

	query, _ := b.ToCql()
	return streaming.Prepare(sess, query, args...)
}
