package schema

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// TableNamer is an interface for structs to customize their table name.
type TableNamer interface {
	TableName() string
}

// Field is a struct field mapped to a result column.
type Field struct {
	Name   string
	Column string
	Index  []int
	Type   reflect.Type
}

// Schema is the column mapping of a struct model.
type Schema struct {
	Type     reflect.Type
	Table    string
	Fields   []*Field
	ByColumn map[string]*Field
}

// Columns returns the column names in field order.
func (s *Schema) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Column
	}
	return cols
}

var ErrInvalidModel = errors.New("cormstream: model must be struct or pointer to struct")

var (
	cache sync.Map
	group singleflight.Group
)

// Parse returns the Schema of model, which must be a struct or a pointer to one.
func Parse(model any) (*Schema, error) {
	if model == nil {
		return nil, ErrInvalidModel
	}
	return ParseType(reflect.TypeOf(model))
}

// ParseType returns the Schema of t. Pointer types are dereferenced. Results
// are cached and concurrent parses of the same type share one result.
func ParseType(t reflect.Type) (*Schema, error) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return nil, ErrInvalidModel
	}
	if t.Kind() != reflect.Struct {
		return nil, errors.Wrapf(ErrInvalidModel, "got %s", t.Kind())
	}
	if v, ok := cache.Load(t); ok {
		return v.(*Schema), nil
	}

	v, err, _ := group.Do(fmt.Sprintf("%v@%p", t, t), func() (res any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("cormstream: schema parse panic: %v", r)
			}
		}()
		s := parse(t)
		actual, _ := cache.LoadOrStore(t, s)
		return actual, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Schema), nil
}

func parse(t reflect.Type) *Schema {
	s := &Schema{
		Type:     t,
		Table:    toSnake(t.Name()),
		ByColumn: map[string]*Field{},
	}
	if tn, ok := reflect.New(t).Interface().(TableNamer); ok {
		if name := strings.TrimSpace(tn.TableName()); name != "" {
			s.Table = name
		}
	}
	collectFields(s, t, nil)
	return s
}

func collectFields(s *Schema, t reflect.Type, parent []int) {
	for i := range t.NumField() {
		sf := t.Field(i)
		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && sf.IsExported() {
			collectFields(s, sf.Type, appendIndex(parent, i))
			continue
		}
		if !sf.IsExported() {
			continue
		}

		tag := sf.Tag.Get("db")
		if tag == "-" {
			continue
		}
		col, _, _ := strings.Cut(tag, ",")
		col = strings.TrimSpace(col)
		if col == "" {
			col = toSnake(sf.Name)
		}

		f := &Field{
			Name:   sf.Name,
			Column: col,
			Index:  appendIndex(parent, i),
			Type:   sf.Type,
		}
		// Later fields win when two map to the same column.
		if prev, ok := s.ByColumn[strings.ToLower(col)]; ok {
			s.Fields = removeField(s.Fields, prev)
		}
		s.Fields = append(s.Fields, f)
		s.ByColumn[strings.ToLower(col)] = f
	}
}

func removeField(fields []*Field, f *Field) []*Field {
	for i, cur := range fields {
		if cur == f {
			return append(fields[:i], fields[i+1:]...)
		}
	}
	return fields
}

func appendIndex(parent []int, i int) []int {
	idx := make([]int, 0, len(parent)+1)
	idx = append(idx, parent...)
	return append(idx, i)
}

func toSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 8)

	prevLower := false
	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if i > 0 && (prevLower || nextLower) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			prevLower = unicode.IsLower(r)
			b.WriteRune(r)
		case r == '_':
			b.WriteByte('_')
			prevLower = false
		}
	}
	return b.String()
}
