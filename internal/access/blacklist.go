// Package access implements the destination blacklist.
package access

import (
	"strings"
)

// Blacklist matches destination hosts against a list of patterns.
//
// A pattern is either an exact hostname ("blocked.example") or a wildcard
// suffix ("*.ads.example") matching any subdomain but not the bare domain.
// Matching is case-insensitive and ignores a trailing dot.
type Blacklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewBlacklist compiles patterns. Blank patterns are ignored.
func NewBlacklist(patterns []string) *Blacklist {
	b := &Blacklist{exact: make(map[string]struct{})}
	for _, p := range patterns {
		p = normalize(p)
		if p == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(p, "*."); ok {
			b.suffixes = append(b.suffixes, "."+rest)
			continue
		}
		b.exact[p] = struct{}{}
	}
	return b
}

// Contains reports whether host is blacklisted.
func (b *Blacklist) Contains(host string) bool {
	if b == nil {
		return false
	}
	host = normalize(host)
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, s := range b.suffixes {
		if strings.HasSuffix(host, s) {
			return true
		}
	}
	return false
}

// Len returns the number of compiled patterns.
func (b *Blacklist) Len() int {
	if b == nil {
		return 0
	}
	return len(b.exact) + len(b.suffixes)
}

func normalize(s string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), ".")
}
