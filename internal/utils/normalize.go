package utils

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Casers keep state and are not safe to share, so each call builds its own.

// UsernameKey is the lookup form of a username: trimmed, NFC and case
// folded, so "Anna", "ANNA" and "anna" are the same account.
func UsernameKey(username string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(username)))
}

// NormalizeArticle canonicalises an article number for uniqueness checks:
// compatibility forms are unified, whitespace dropped and letters upper
// cased.
func NormalizeArticle(article string) string {
	s := norm.NFKC.String(article)
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return cases.Upper(language.Und).String(s)
}

// CleanName trims and NFC-normalises a display name
func CleanName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
