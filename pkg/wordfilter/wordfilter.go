// Package wordfilter detects and substitutes configured sensitive terms in
// generated text.
package wordfilter

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const defaultReplacement = '*'

// Filter holds the configured term list. Matching is case-insensitive;
// substitution preserves the original text outside matched terms. A Filter
// is immutable after construction and safe for concurrent use.
type Filter struct {
	words       []string
	replacement rune
}

// Option configures a Filter.
type Option func(*Filter)

// WithReplacement sets the substitution rune.
func WithReplacement(r rune) Option {
	return func(f *Filter) {
		f.replacement = r
	}
}

// New creates a filter over the given term list. Empty terms are dropped.
func New(words []string, opts ...Option) *Filter {
	f := &Filter{replacement: defaultReplacement}
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			f.words = append(f.words, w)
		}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Words returns the configured term list.
func (f *Filter) Words() []string {
	out := make([]string, len(f.words))
	copy(out, f.words)
	return out
}

// Detect returns the configured terms present in text, in configuration
// order, each at most once.
func (f *Filter) Detect(text string) []string {
	if len(f.words) == 0 || text == "" {
		return nil
	}

	var matched []string
	for _, w := range f.words {
		if containsFold(text, w) {
			matched = append(matched, w)
		}
	}
	return matched
}

// Filter replaces every occurrence of every configured term with a run of
// the replacement rune of equal length.
func (f *Filter) Filter(text string) string {
	if len(f.words) == 0 || text == "" {
		return text
	}

	for _, w := range f.words {
		text = replaceFold(text, w, strings.Repeat(string(f.replacement), len([]rune(w))))
	}
	return text
}

// replaceFold replaces all case-insensitive occurrences of old in s with
// replacement. Matching is rune-aligned: case folding changes the byte
// length of some runes, so offsets into a lowercased copy cannot be used
// to slice the original.
func replaceFold(s, old, replacement string) string {
	if old == "" {
		return s
	}

	var b strings.Builder
	last := 0
	for i := 0; i < len(s); {
		n := matchFold(s[i:], old)
		if n < 0 {
			_, size := utf8.DecodeRuneInString(s[i:])
			i += size
			continue
		}
		b.WriteString(s[last:i])
		b.WriteString(replacement)
		i += n
		last = i
	}
	if last == 0 {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

// containsFold reports whether sub occurs in s under case folding.
func containsFold(s, sub string) bool {
	for i := 0; i < len(s); {
		if matchFold(s[i:], sub) >= 0 {
			return true
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return false
}

// matchFold returns the byte length of the prefix of s that matches sub
// under case folding, or -1 if sub is not a prefix.
func matchFold(s, sub string) int {
	i := 0
	for _, sr := range sub {
		if i >= len(s) {
			return -1
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if !runeEqualFold(r, sr) {
			return -1
		}
		i += size
	}
	return i
}

// runeEqualFold reports whether a and b fold to the same rune. Folding
// starts from the smaller rune; SimpleFold only cycles from there.
func runeEqualFold(a, b rune) bool {
	if a == b {
		return true
	}
	if a > b {
		a, b = b, a
	}
	r := unicode.SimpleFold(a)
	for r != a && r < b {
		r = unicode.SimpleFold(r)
	}
	return r == b
}
