// Package ident turns free-form spreadsheet headers and sheet names into SQL
// identifiers, and decides when an identifier must be quoted in emitted DDL.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode/utf8"
)

var plainIdent = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Identifier limits in bytes. PostgreSQL silently truncates longer names.
const (
	PostgresMaxLength  = 63
	SQLServerMaxLength = 128
)

// hashSuffixLen is "_" plus 8 hex digits.
const hashSuffixLen = 9

// Sanitize replaces every character outside [A-Za-z0-9_] with '_' and prefixes
// '_' when the result would start with a digit.
//
// Edge cases:
//   - Empty input is returned unchanged; callers pick a fallback name first.
//   - A multi-byte rune becomes a single '_'.
func Sanitize(name string) string {
	if name == "" {
		return name
	}
	var b strings.Builder
	b.Grow(len(name) + 1)
	for i, r := range name {
		if i == 0 && r >= '0' && r <= '9' {
			b.WriteByte('_')
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Truncate cuts name to at most limit bytes on a UTF-8 boundary. A limit of
// 0 or less means no limit.
func Truncate(name string, limit int) string {
	if limit <= 0 || len(name) <= limit {
		return name
	}
	cut := limit
	for cut > 0 && !utf8.ValidString(name[:cut]) {
		cut--
	}
	if cut <= 0 {
		return name[:limit]
	}
	return name[:cut]
}

// Shorten is Truncate for generated names that must stay distinct: a name
// over limit keeps its prefix and ends in _<8 hex digits of its SHA-256>.
func Shorten(name string, limit int) string {
	if limit <= 0 || len(name) <= limit {
		return name
	}
	if limit <= hashSuffixLen {
		return Truncate(name, limit)
	}
	sum := sha256.Sum256([]byte(name))
	return Truncate(name, limit-hashSuffixLen) + "_" + hex.EncodeToString(sum[:4])
}

// NeedsQuoting reports whether ident must be quoted to survive as a
// case-sensitive identifier: anything outside ^[a-z_][a-z0-9_]*$ and the
// reserved words that would otherwise parse as keywords.
func NeedsQuoting(ident string) bool {
	if !plainIdent.MatchString(ident) {
		return true
	}
	_, reserved := reservedWords[ident]
	return reserved
}

// Quote wraps ident in open/close when NeedsQuoting says so, doubling any
// embedded close character.
func Quote(ident string, open, close byte) string {
	if !NeedsQuoting(ident) {
		return ident
	}
	c := string(close)
	return string(open) + strings.ReplaceAll(ident, c, c+c) + c
}

// reservedWords is the intersection-ish of PostgreSQL, SQL Server and SQLite
// reserved keywords that plausibly show up as spreadsheet headers.
var reservedWords = map[string]struct{}{
	"all": {}, "alter": {}, "and": {}, "any": {}, "as": {}, "asc": {},
	"between": {}, "by": {}, "case": {}, "check": {}, "column": {},
	"constraint": {}, "create": {}, "cross": {}, "current_date": {},
	"current_time": {}, "current_timestamp": {}, "current_user": {},
	"default": {}, "delete": {}, "desc": {}, "distinct": {}, "drop": {},
	"else": {}, "end": {}, "except": {}, "exists": {}, "false": {},
	"fetch": {}, "for": {}, "foreign": {}, "from": {}, "full": {},
	"grant": {}, "group": {}, "having": {}, "in": {}, "index": {},
	"inner": {}, "insert": {}, "intersect": {}, "into": {}, "is": {},
	"join": {}, "key": {}, "left": {}, "like": {}, "limit": {}, "not": {},
	"null": {}, "offset": {}, "on": {}, "or": {}, "order": {}, "outer": {},
	"primary": {}, "references": {}, "right": {}, "select": {},
	"session_user": {}, "set": {}, "table": {}, "then": {}, "to": {},
	"true": {}, "union": {}, "unique": {}, "update": {}, "user": {},
	"using": {}, "values": {}, "when": {}, "where": {}, "with": {},
}
