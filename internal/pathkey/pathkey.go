// Package pathkey canonicalizes logical file paths into backing-store keys.
//
// Object stores are flat: "directories" exist only as key prefixes separated
// by "/". This package is the single place where user-facing paths are turned
// into keys, so every component that touches the store agrees on the exact
// byte sequence a logical path maps to.
//
// Normalization is idempotent: feeding an already-normalized key back through
// [Normalize] or [Builder.Key] returns it unchanged.
package pathkey

import "strings"

// Separator is the key separator used by the backing store.
const Separator = "/"

// Normalize trims leading and trailing separators and collapses any run of
// two or more separators into one. The empty path normalizes to "".
func Normalize(p string) string {
	p = strings.Trim(p, Separator)
	if p == "" {
		return ""
	}
	if !strings.Contains(p, Separator+Separator) {
		return p
	}
	parts := strings.Split(p, Separator)
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, Separator)
}

// Split splits a normalized path into its parent directory and final segment.
// A path with no separator has parent "".
func Split(p string) (parent, leaf string) {
	i := strings.LastIndex(p, Separator)
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

// Segments returns the normalized path split on the separator, or nil for the
// empty path.
func Segments(p string) []string {
	p = Normalize(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, Separator)
}

// Builder prepends a fixed root prefix to normalized paths. The zero value
// uses no prefix.
type Builder struct {
	prefix string // "" or ends with exactly one Separator
}

// NewBuilder creates a Builder for the given root prefix. The prefix itself
// is normalized, so "data//", "/data/" and "data" all behave identically.
func NewBuilder(prefix string) *Builder {
	prefix = Normalize(prefix)
	if prefix != "" {
		prefix += Separator
	}
	return &Builder{prefix: prefix}
}

// Prefix returns the normalized root prefix ("" or "…/").
func (b *Builder) Prefix() string {
	return b.prefix
}

// Key maps a logical path to its backing-store key.
func (b *Builder) Key(logical string) string {
	return b.prefix + Normalize(logical)
}

// DirPrefix maps a logical directory path to the listing prefix for its
// immediate children: the key followed by one separator, or the bare root
// prefix for the empty path.
func (b *Builder) DirPrefix(logical string) string {
	p := Normalize(logical)
	if p == "" {
		return b.prefix
	}
	return b.prefix + p + Separator
}

// Logical strips the root prefix from a backing-store key, recovering the
// logical path. Keys outside the prefix are returned unchanged.
func (b *Builder) Logical(key string) string {
	return strings.TrimPrefix(key, b.prefix)
}
