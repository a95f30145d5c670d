package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// NormalizeFact turns a raw remember request into a memory entry:
// "that you have a shield!" becomes "You have a shield.".
func NormalizeFact(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if len(s) >= 5 && strings.EqualFold(s[:5], "that ") {
		s = strings.TrimSpace(s[5:])
	}
	s = strings.TrimRight(s, ".!? \t")
	if s == "" {
		return "", Reject(KindRemember, ErrUserInput, "Please enter something valid to remember.")
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:] + ".", nil
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`_`, `\_`,
	"`", "\\`",
	`~`, `\~`,
	`>`, `\>`,
)

// Escape protects markdown control characters for chat surfaces.
// Already escaped characters are not escaped twice.
func Escape(s string) string {
	return markdownEscaper.Replace(Unescape(s))
}

// Unescape reverses Escape.
func Unescape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && strings.IndexByte("\\*_`~>", s[i+1]) >= 0 {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
