package schema_test

import (
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikola-chen/cormstream/schema"
)

type User struct {
	ID   int    `db:"id,pk"`
	Name string `db:"name"`
	Age  int
	skip string
}

func (User) TableName() string { return "users" }

type Audit struct {
	CreatedAt string
}

type OrderLine struct {
	Audit
	OrderID  int64
	SKU      string `db:"sku"`
	Internal string `db:"-"`
}

func TestParseSchema(t *testing.T) {
	s, err := schema.Parse(User{})
	require.NoError(t, err)

	assert.Equal(t, "users", s.Table)
	assert.Equal(t, []string{"id", "name", "age"}, s.Columns())
	require.NotNil(t, s.ByColumn["age"])
	assert.Equal(t, "Age", s.ByColumn["age"].Name)
}

func TestParseSchemaEmbeddedAndSkipped(t *testing.T) {
	s, err := schema.Parse(&OrderLine{})
	require.NoError(t, err)

	assert.Equal(t, "order_line", s.Table)
	assert.Equal(t, []string{"created_at", "order_id", "sku"}, s.Columns())
	assert.Equal(t, []int{0, 0}, s.ByColumn["created_at"].Index)
	assert.Nil(t, s.ByColumn["internal"])
}

func TestParseSchemaLaterFieldWins(t *testing.T) {
	type dup struct {
		A string `db:"v"`
		B string `db:"v"`
	}
	s, err := schema.Parse(dup{})
	require.NoError(t, err)

	require.Len(t, s.Fields, 1)
	assert.Equal(t, "B", s.ByColumn["v"].Name)
}

func TestParseInvalidModel(t *testing.T) {
	_, err := schema.Parse(nil)
	require.ErrorIs(t, err, schema.ErrInvalidModel)

	_, err = schema.ParseType(reflect.TypeOf(42))
	require.ErrorIs(t, err, schema.ErrInvalidModel)
}

func TestParseSchemaConcurrent(t *testing.T) {
	type ConcurrentUser struct {
		ID   int    `db:"id"`
		Name string `db:"name"`
	}

	const n = 64
	out := make([]*schema.Schema, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		go func() {
			defer wg.Done()
			out[i], errs[i] = schema.Parse(ConcurrentUser{})
		}()
	}
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		require.Same(t, out[0], out[i])
	}
}
