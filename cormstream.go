// Package cormstream streams query results row by row from database/sql
// pools. Each dialect picks the streaming configurator that tunes statements
// for its driver, and rows are scanned one at a time into structs or maps.
package cormstream

import (
	"context"
	"database/sql"
	"reflect"

	"github.com/nikola-chen/cormstream/clause"
	"github.com/nikola-chen/cormstream/engine"
	"github.com/nikola-chen/cormstream/schema"
	"github.com/nikola-chen/cormstream/streaming"
)

type DB = engine.Engine
type Config = engine.Config
type Option = engine.Option
type Rows = streaming.Rows

var (
	WithLogger       = engine.WithLogger
	WithConfig       = engine.WithConfig
	WithConfigurator = engine.WithConfigurator
)

func Open(driverName, dsn string, opts ...Option) (*DB, error) {
	return engine.Open(driverName, dsn, opts...)
}

func WithDB(db *sql.DB, driverName string, opts ...Option) (*DB, error) {
	return engine.WithDB(db, driverName, opts...)
}

// Each streams query and calls fn with every row scanned into a T, which
// must be a struct, a struct pointer or a map with string keys. Iteration
// stops at the first error from fn.
func Each[T any](ctx context.Context, db *DB, fn func(T) error, query string, args ...any) error {
	rows, err := db.Stream(ctx, query, args...)
	if err != nil {
		return err
	}
	return each(rows, fn)
}

// EachModel streams the rows of T's table matching every where expression,
// selecting the columns T maps. No expressions streams the whole table.
func EachModel[T any](ctx context.Context, db *DB, fn func(T) error, where ...clause.Expr) error {
	s, err := schema.ParseType(reflect.TypeFor[T]())
	if err != nil {
		return err
	}
	rows, err := db.StreamWhere(ctx, s.Table, s.Columns(), clause.And(where...))
	if err != nil {
		return err
	}
	return each(rows, fn)
}

func each[T any](rows *Rows, fn func(T) error) error {
	defer rows.Close()
	for rows.Next() {
		var v T
		if err := rows.ScanInto(&v); err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return rows.Err()
}
