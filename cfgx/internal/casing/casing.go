// Package casing converts dotted Go field paths such as "Redis.URL" into the
// names used for environment variables, flags and secret files.
package casing

import (
	"strings"
	"unicode"
)

// Words splits a dotted field path into lower case words. Acronyms are kept
// together, so "Redis.TLSCert" gives [redis tls cert].
func Words(path string) []string {
	var words []string
	for segment := range strings.SplitSeq(path, ".") {
		words = append(words, splitIdent(segment)...)
	}
	return words
}

func splitIdent(s string) []string {
	r := []rune(s)
	if len(r) == 0 {
		return nil
	}

	var words []string
	start := 0
	for i := 1; i < len(r); i++ {
		if !unicode.IsUpper(r[i]) {
			continue
		}
		// "userID" splits before I; "HTTPPort" splits before the last P.
		startsWord := !unicode.IsUpper(r[i-1])
		endsAcronym := !startsWord && i+1 < len(r) && unicode.IsLower(r[i+1])
		if startsWord || endsAcronym {
			words = append(words, strings.ToLower(string(r[start:i])))
			start = i
		}
	}
	return append(words, strings.ToLower(string(r[start:])))
}

// ToSnake returns the snake_case form used for secret file names.
func ToSnake(path string) string {
	return strings.Join(Words(path), "_")
}

// ToScreamingSnake returns the SCREAMING_SNAKE form used for environment
// variables.
func ToScreamingSnake(path string) string {
	return strings.ToUpper(ToSnake(path))
}

// ToKebab returns the kebab-case form used for flags.
func ToKebab(path string) string {
	return strings.Join(Words(path), "-")
}
