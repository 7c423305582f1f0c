package dialect

import (
	"strings"
	"sync"
)

// maxCachedIdentLen bounds which identifiers are kept in a quote cache.
const maxCachedIdentLen = 64

// quoter wraps identifiers in a quote character, doubling embedded quotes.
type quoter struct {
	q     byte
	cache sync.Map
}

func (q *quoter) quote(ident string) string {
	if cached, ok := q.cache.Load(ident); ok {
		return cached.(string)
	}

	var b strings.Builder
	b.Grow(len(ident) + 2)
	b.WriteByte(q.q)
	for i := 0; i < len(ident); i++ {
		if ident[i] == q.q {
			b.WriteByte(q.q)
		}
		b.WriteByte(ident[i])
	}
	b.WriteByte(q.q)

	out := b.String()
	if len(ident) <= maxCachedIdentLen {
		q.cache.Store(ident, out)
	}
	return out
}

var (
	backtickQuoter    = &quoter{q: '`'}
	doubleQuoteQuoter = &quoter{q: '"'}
)
