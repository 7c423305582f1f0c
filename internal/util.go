// Package internal holds helpers shared by cormstream packages.
package internal

import "strings"

// NormalizeColumn reduces a result column name to the key used for field
// lookup: surrounding space and quote characters are dropped, only the part
// after the last dot is kept, and the result is lowercased.
func NormalizeColumn(c string) string {
	c = strings.TrimSpace(c)
	if i := strings.LastIndexByte(c, '.'); i >= 0 {
		c = c[i+1:]
	}
	c = strings.Map(func(r rune) rune {
		if r == '`' || r == '"' {
			return -1
		}
		return r
	}, c)
	return strings.ToLower(c)
}
