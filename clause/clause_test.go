package clause_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nikola-chen/cormstream/clause"
)

func TestIn(t *testing.T) {
	tests := []struct {
		name     string
		column   string
		values   []any
		wantSQL  string
		wantArgs []any
	}{
		{name: "single value", column: "id", values: []any{1}, wantSQL: "id IN (?)", wantArgs: []any{1}},
		{name: "multiple values", column: "name", values: []any{"a", "b"}, wantSQL: "name IN (?, ?)", wantArgs: []any{"a", "b"}},
		{name: "slice expansion", column: "status", values: []any{[]int{1, 2, 3}}, wantSQL: "status IN (?, ?, ?)", wantArgs: []any{1, 2, 3}},
		{name: "mixed values and slice", column: "mix", values: []any{1, []int{2, 3}, 4}, wantSQL: "mix IN (?, ?, ?, ?)", wantArgs: []any{1, 2, 3, 4}},
		{name: "bytes stay whole", column: "blob", values: []any{[]byte("ab")}, wantSQL: "blob IN (?)", wantArgs: []any{[]byte("ab")}},
		{name: "empty slice", column: "id", values: []any{[]int{}}, wantSQL: "1=0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clause.In(tt.column, tt.values...)
			assert.Equal(t, tt.wantSQL, got.SQL)
			assert.Equal(t, tt.wantArgs, got.Args)
		})
	}
}

func TestJoin(t *testing.T) {
	e := clause.And(
		clause.Eq("org", 7),
		clause.Expr{},
		clause.Or(clause.Eq("kind", "a"), clause.In("state", 1, 2)),
		clause.Raw("created_at > ? OR pinned", "2024-01-01"),
	)
	assert.Equal(t, "org = ? AND (kind = ? OR state IN (?, ?)) AND (created_at > ? OR pinned)", e.SQL)
	assert.Equal(t, []any{7, "a", 1, 2, "2024-01-01"}, e.Args)

	flat := clause.And(clause.And(clause.Eq("a", 1), clause.Eq("b", 2)), clause.Eq("c", 3))
	assert.Equal(t, "a = ? AND b = ? AND c = ?", flat.SQL)

	assert.True(t, clause.And().Empty())
	assert.Equal(t, "x = ?", clause.Or(clause.Eq("x", 1)).SQL)
}

func TestBind(t *testing.T) {
	dollar := func(n int) string { return "$" + strconv.Itoa(n) }
	question := func(int) string { return "?" }

	assert.Equal(t, `a = $3 AND b IN ($4, $5)`, clause.Bind("a = ? AND b IN (?, ?)", 3, dollar))
	assert.Equal(t, `note = '?' AND "odd?" = $1`, clause.Bind(`note = '?' AND "odd?" = ?`, 1, dollar))
	assert.Equal(t, "a = ?", clause.Bind("a = ?", 1, question))
	assert.Equal(t, "", clause.Bind("", 1, dollar))
}
