// Package scan copies the current row of a streamed result into structs and maps.
package scan

import (
	"database/sql"
	"reflect"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/nikola-chen/cormstream/internal"
	"github.com/nikola-chen/cormstream/schema"
)

// Source is the row cursor Row reads from. *sql.Rows and *streaming.Rows
// satisfy it.
type Source interface {
	Columns() ([]string, error)
	Scan(dest ...any) error
}

type planKey struct {
	t    reflect.Type
	cols string
}

var planCache sync.Map

const maxPlanKeyLen = 4096

// plan maps each result column to a field index path, nil for columns the
// struct does not have.
func plan(s *schema.Schema, cols []string) [][]int {
	key := planKey{t: s.Type, cols: strings.Join(cols, "\x1f")}
	if v, ok := planCache.Load(key); ok {
		return v.([][]int)
	}

	p := make([][]int, len(cols))
	for i, c := range cols {
		if f := s.ByColumn[internal.NormalizeColumn(c)]; f != nil {
			p[i] = f.Index
		}
	}
	if len(key.cols) > maxPlanKeyLen {
		return p
	}
	actual, _ := planCache.LoadOrStore(key, p)
	return actual.([][]int)
}

// Row scans the current row of src into dest, which must be a pointer to a
// struct, a pointer to a struct pointer, or a pointer to a map with string
// keys. Columns without a matching struct field are discarded.
func Row(src Source, dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("cormstream: dest must be non-nil pointer")
	}
	cols, err := src.Columns()
	if err != nil {
		return err
	}

	base := rv.Elem()
	if base.Kind() == reflect.Pointer {
		if base.IsNil() {
			base.Set(reflect.New(base.Type().Elem()))
		}
		base = base.Elem()
	}

	switch base.Kind() {
	case reflect.Map:
		return scanMap(src, cols, base)
	case reflect.Struct:
		return scanStruct(src, cols, base)
	default:
		return errors.New("cormstream: dest must be struct/*struct or map/*map")
	}
}

func scanStruct(src Source, cols []string, base reflect.Value) error {
	s, err := schema.ParseType(base.Type())
	if err != nil {
		return err
	}
	p := plan(s, cols)

	var discard any
	holders := make([]any, len(cols))
	for i := range cols {
		if p[i] == nil {
			holders[i] = &discard
			continue
		}
		holders[i] = base.FieldByIndex(p[i]).Addr().Interface()
	}
	return src.Scan(holders...)
}

func scanMap(src Source, cols []string, base reflect.Value) error {
	mt := base.Type()
	if mt.Key().Kind() != reflect.String {
		return errors.New("cormstream: dest map key must be string")
	}
	valT := mt.Elem()

	raw := make([]any, len(cols))
	holders := make([]any, len(cols))
	for i := range raw {
		holders[i] = &raw[i]
	}
	if err := src.Scan(holders...); err != nil {
		return err
	}

	out := base
	if out.IsNil() {
		out = reflect.MakeMapWithSize(mt, len(cols))
		base.Set(out)
	}
	for i, c := range cols {
		out.SetMapIndex(reflect.ValueOf(c).Convert(mt.Key()), convert(raw[i], valT))
	}
	return nil
}

func convert(v any, to reflect.Type) reflect.Value {
	switch b := v.(type) {
	case nil:
		return reflect.Zero(to)
	case sql.RawBytes:
		v = append([]byte(nil), b...)
	case []byte:
		v = append([]byte(nil), b...)
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.Type().AssignableTo(to):
		return rv
	case to.Kind() == reflect.String && rv.Kind() != reflect.String && rv.Kind() != reflect.Slice:
		// int to string conversion yields a rune, not digits.
		return reflect.Zero(to)
	case rv.Type().ConvertibleTo(to):
		return rv.Convert(to)
	default:
		return reflect.Zero(to)
	}
}
