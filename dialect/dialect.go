package dialect

import (
	"sync"

	"github.com/nikola-chen/cormstream/streaming"
)

// Dialect defines the interface for database dialects.
type Dialect interface {
	// Name returns the name of the dialect.
	Name() string
	// Placeholder returns the placeholder string for the n-th argument.
	Placeholder(n int) string
	// QuoteIdent quotes an identifier.
	QuoteIdent(ident string) string
	// Streaming returns the configurator applied to every streamed statement.
	Streaming() streaming.Configurator
}

var (
	mu       sync.RWMutex
	dialects = map[string]Dialect{}
)

// Register registers a dialect for a driver.
func Register(driverName string, d Dialect) {
	mu.Lock()
	defer mu.Unlock()
	dialects[driverName] = d
}

// Get returns the dialect for a driver.
func Get(driverName string) (Dialect, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := dialects[driverName]
	return d, ok && d != nil
}

// MustGet returns the dialect for a driver or panics if it is not registered.
func MustGet(driverName string) Dialect {
	d, ok := Get(driverName)
	if !ok {
		panic("cormstream: unsupported dialect: " + driverName)
	}
	return d
}

// Cursors returns the cursor SQL of d, or nil when d streams without
// server-side cursors.
func Cursors(d Dialect) streaming.CursorSQL {
	c, _ := d.(streaming.CursorSQL)
	return c
}
