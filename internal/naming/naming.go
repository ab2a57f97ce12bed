// Package naming splits manifest names into words and recombines them in
// the case conventions generated code uses.
package naming

import (
	"fmt"
	"strings"
	"unicode"
)

type Boundary int

const (
	Hyphen Boundary = iota
	Underscore
	Space
	LowerUpper
	UpperLower
	Acronym
	LowerDigit
	UpperDigit
	DigitLower
	DigitUpper
)

var boundaryNames = [...]string{
	Hyphen:     "hyphen",
	Underscore: "underscore",
	Space:      "space",
	LowerUpper: "lower_upper",
	UpperLower: "upper_lower",
	Acronym:    "acronym",
	LowerDigit: "lower_digit",
	UpperDigit: "upper_digit",
	DigitLower: "digit_lower",
	DigitUpper: "digit_upper",
}

func (b Boundary) String() string { return boundaryNames[b] }

// Names lists every recognised boundary name.
func Names() []string {
	return append([]string(nil), boundaryNames[:]...)
}

func normalize(s string) string {
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(s))
}

// ParseBoundary matches case insensitively and ignores separators, so
// "LowerUpper" and "lower_upper" are the same kind.
func ParseBoundary(s string) (Boundary, error) {
	n := normalize(s)
	for i, name := range boundaryNames {
		if normalize(name) == n {
			return Boundary(i), nil
		}
	}
	return 0, fmt.Errorf("unknown word boundary %q", s)
}

// Defaults is used when a manifest does not configure boundaries.
func Defaults() []Boundary {
	return []Boundary{Underscore, Hyphen, Space, LowerUpper, UpperDigit, DigitUpper, DigitLower, LowerDigit, Acronym}
}

// Splitter tokenizes names with a fixed set of boundaries.
type Splitter struct {
	enabled [len(boundaryNames)]bool
}

func NewSplitter(boundaries []Boundary) *Splitter {
	s := &Splitter{}
	for _, b := range boundaries {
		s.enabled[b] = true
	}
	return s
}

func (s *Splitter) delimiter(r rune) bool {
	switch r {
	case '-':
		return s.enabled[Hyphen]
	case '_':
		return s.enabled[Underscore]
	case ' ':
		return s.enabled[Space]
	}
	return false
}

func (s *Splitter) splitBefore(prev, r, next rune) bool {
	switch {
	case unicode.IsLower(prev) && unicode.IsUpper(r):
		return s.enabled[LowerUpper]
	case unicode.IsUpper(prev) && unicode.IsLower(r):
		return s.enabled[UpperLower]
	case unicode.IsUpper(prev) && unicode.IsUpper(r) && unicode.IsLower(next):
		return s.enabled[Acronym]
	case unicode.IsLower(prev) && unicode.IsDigit(r):
		return s.enabled[LowerDigit]
	case unicode.IsUpper(prev) && unicode.IsDigit(r):
		return s.enabled[UpperDigit]
	case unicode.IsDigit(prev) && unicode.IsLower(r):
		return s.enabled[DigitLower]
	case unicode.IsDigit(prev) && unicode.IsUpper(r):
		return s.enabled[DigitUpper]
	}
	return false
}

// Words splits name into its words.
func (s *Splitter) Words(name string) []string {
	runes := []rune(name)
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for i, r := range runes {
		if s.delimiter(r) {
			flush()
			continue
		}
		if len(cur) > 0 {
			var next rune
			if i+1 < len(runes) {
				next = runes[i+1]
			}
			if s.splitBefore(cur[len(cur)-1], r, next) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}

func capitalize(w string) string {
	r := []rune(strings.ToLower(w))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// Pascal is the type case: FooBarBaz.
func (s *Splitter) Pascal(name string) string {
	var b strings.Builder
	for _, w := range s.Words(name) {
		b.WriteString(capitalize(w))
	}
	return b.String()
}

// Camel is Pascal with a lower case first word.
func (s *Splitter) Camel(name string) string {
	words := s.Words(name)
	var b strings.Builder
	for i, w := range words {
		if i == 0 {
			b.WriteString(strings.ToLower(w))
			continue
		}
		b.WriteString(capitalize(w))
	}
	return b.String()
}

// Snake is the function case: foo_bar_baz.
func (s *Splitter) Snake(name string) string {
	words := s.Words(name)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return strings.Join(words, "_")
}

// ScreamingSnake is the constant case: FOO_BAR_BAZ.
func (s *Splitter) ScreamingSnake(name string) string {
	return strings.ToUpper(s.Snake(name))
}
