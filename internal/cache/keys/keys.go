// Package keys builds the Redis key names used for point datasets.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const datasetPrefix = "wms:points"

const maxNameLen = 64

// Dataset returns the list key holding the points of a dataset. The readable
// part is sanitized and truncated; the hash of the raw name keeps distinct
// names apart.
func Dataset(name string) string {
	raw := strings.TrimSpace(name)
	safe := sanitize(raw)
	if len(safe) > maxNameLen {
		safe = safe[:maxNameLen]
	}
	return fmt.Sprintf("%s:%s:%016x", datasetPrefix, safe, xxhash.Sum64String(raw))
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// path separators, colons and non-ASCII all become '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
