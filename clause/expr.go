// Package clause builds WHERE fragments for streamed table reads. Fragments
// use '?' placeholders; Bind rewrites them for the target dialect.
package clause

import (
	"reflect"
	"strings"
)

// Expr is a SQL boolean expression with its arguments in placeholder order.
type Expr struct {
	SQL  string
	Args []any

	// op is the connective of a joined expression, "raw" for Raw and empty
	// for a single comparison.
	op string
}

// Empty reports whether e has no SQL.
func (e Expr) Empty() bool { return strings.TrimSpace(e.SQL) == "" }

// Raw creates a raw SQL expression. It is parenthesized when joined.
func Raw(sql string, args ...any) Expr {
	return Expr{SQL: sql, Args: args, op: "raw"}
}

// Eq creates "column = ?". column is written as given.
func Eq(column string, value any) Expr {
	return Expr{SQL: column + " = ?", Args: []any{value}}
}

// And joins multiple expressions with AND.
func And(exprs ...Expr) Expr {
	return join("AND", exprs...)
}

// Or joins multiple expressions with OR.
func Or(exprs ...Expr) Expr {
	return join("OR", exprs...)
}

// In creates "column IN (?, ?, ...)", flattening slice arguments other than
// []byte. An empty value list matches nothing.
func In(column string, values ...any) Expr {
	flattened := make([]any, 0, len(values))
	for _, v := range values {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
			for i := range rv.Len() {
				flattened = append(flattened, rv.Index(i).Interface())
			}
		} else {
			flattened = append(flattened, v)
		}
	}
	if len(flattened) == 0 {
		return Expr{SQL: "1=0"}
	}
	return Expr{
		SQL:  column + " IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(flattened)), ", ") + ")",
		Args: flattened,
	}
}

func join(op string, exprs ...Expr) Expr {
	var parts []string
	var args []any
	var last Expr
	for _, e := range exprs {
		if e.Empty() {
			continue
		}
		last = e
		if e.op == "" || e.op == op {
			parts = append(parts, e.SQL)
		} else {
			parts = append(parts, "("+e.SQL+")")
		}
		args = append(args, e.Args...)
	}
	switch len(parts) {
	case 0:
		return Expr{}
	case 1:
		return last
	}
	return Expr{SQL: strings.Join(parts, " "+op+" "), Args: args, op: op}
}

// Bind replaces each '?' outside quoted literals and identifiers with
// placeholder(n), numbering from first.
func Bind(sql string, first int, placeholder func(n int) string) string {
	var b strings.Builder
	b.Grow(len(sql))
	n := first
	var quote byte
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '?':
			b.WriteString(placeholder(n))
			n++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
