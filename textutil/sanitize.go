// Package textutil holds the text transforms shared by the ingestion,
// selection and publication stages: sanitization of untrusted message
// text, normalization ahead of embedding, and small helpers for logging
// and prompt construction.
package textutil

import (
	"strings"
	"unicode"
)

// Code points which must never survive sanitization: zero-width spaces and
// joiners, the word joiner, BOM, and the bidirectional embedding/override
// and isolate controls. All of them have been abused in channel posts to
// defeat keyword filters or to spoof link text.
var bannedRunes = map[rune]struct{}{
	'\u200b': {}, // zero width space
	'\u200c': {}, // zero width non-joiner
	'\u200d': {}, // zero width joiner
	'\u2060': {}, // word joiner
	'\ufeff': {}, // BOM / zero width no-break space
	'\u202a': {}, // left-to-right embedding
	'\u202b': {}, // right-to-left embedding
	'\u202c': {}, // pop directional formatting
	'\u202d': {}, // left-to-right override
	'\u202e': {}, // right-to-left override
	'\u2066': {}, // left-to-right isolate
	'\u2067': {}, // right-to-left isolate
	'\u2068': {}, // first strong isolate
	'\u2069': {}, // pop directional isolate
}

// Sanitize strips control characters, null bytes, zero-width characters
// and bidirectional overrides from s. Newlines and tabs are preserved.
// Sanitize is idempotent: Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r == 0 || unicode.IsControl(r) {
			continue
		}
		if _, banned := bannedRunes[r]; banned {
			continue
		}
		if r == unicode.ReplacementChar {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// TruncateRunes shortens s to at most n runes, the trailing ellipsis
// counting against the budget. n must be positive.
func TruncateRunes(s string, n int) string {
	var runes = []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

// EscapeBraces doubles curly braces so message text survives template
// substitution in prompt construction.
func EscapeBraces(s string) string {
	s = strings.ReplaceAll(s, "{", "{{")
	return strings.ReplaceAll(s, "}", "}}")
}

// MaskPhone hides the middle of a phone number for logs. Inputs of at
// least 8 characters keep their first and last four characters with
// exactly four asterisks between; anything shorter collapses to "***".
func MaskPhone(phone string) string {
	var runes = []rune(phone)
	if len(runes) < 8 {
		return "***"
	}
	return string(runes[:4]) + "****" + string(runes[len(runes)-4:])
}

// MaskSecret keeps the first four characters of a credential and hides
// the rest entirely.
func MaskSecret(s string) string {
	var runes = []rune(s)
	if len(runes) <= 4 {
		return "***"
	}
	return string(runes[:4]) + strings.Repeat("*", 4)
}
