// Package diag defines the located errors every compiler stage reports.
package diag

import (
	"errors"
	"fmt"
	"strings"

	"github.com/marte-community/register-dev-tools/internal/tree"
)

type Kind int

const (
	Config Kind = iota
	Parse
	Resolution
	Validation
	Syntax
	IO
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "config"
	case Parse:
		return "parse"
	case Resolution:
		return "resolution"
	case Validation:
		return "validation"
	case Syntax:
		return "syntax"
	}
	return "io"
}

// Error is a diagnostic attached to a manifest path.
type Error struct {
	Kind       Kind
	Path       string
	Pos        tree.Position
	Message    string
	Suggestion string
	// Related lists other paths involved, such as the second object of an
	// address collision.
	Related []string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Path != "" {
		b.WriteString(" at ")
		b.WriteString(e.Path)
	}
	if e.Pos.IsValid() {
		fmt.Fprintf(&b, " (%s)", e.Pos)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Suggestion != "" {
		b.WriteString(". ")
		b.WriteString(e.Suggestion)
	}
	return b.String()
}

func New(kind Kind, path string, pos tree.Position, format string, args ...any) *Error {
	return &Error{Kind: kind, Path: path, Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// At builds an error located at node n.
func At(kind Kind, n *tree.Node, format string, args ...any) *Error {
	if n == nil {
		return New(kind, "", tree.Position{}, format, args...)
	}
	return New(kind, n.Path, n.Pos, format, args...)
}

func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

func (e *Error) WithRelated(paths ...string) *Error {
	e.Related = append(e.Related, paths...)
	return e
}

// Is reports whether err is, or wraps, a diagnostic of the given kind. A List
// matches if any of its entries does.
func Is(err error, kind Kind) bool {
	var l *List
	if errors.As(err, &l) {
		for _, e := range l.Errors {
			if e.Kind == kind {
				return true
			}
		}
		return false
	}
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// List accumulates diagnostics.
type List struct {
	Errors []*Error
}

func (l *List) Add(e *Error) {
	l.Errors = append(l.Errors, e)
}

// Append adds err, flattening nested lists and wrapping foreign errors.
func (l *List) Append(err error, kind Kind) {
	if err == nil {
		return
	}
	var nested *List
	if errors.As(err, &nested) {
		l.Errors = append(l.Errors, nested.Errors...)
		return
	}
	var e *Error
	if errors.As(err, &e) {
		l.Add(e)
		return
	}
	l.Add(&Error{Kind: kind, Message: err.Error()})
}

func (l *List) HasErrors() bool { return len(l.Errors) > 0 }

func (l *List) Error() string {
	if len(l.Errors) == 1 {
		return l.Errors[0].Error()
	}
	msgs := make([]string, len(l.Errors))
	for i, e := range l.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d errors:\n  %s", len(l.Errors), strings.Join(msgs, "\n  "))
}

// Err returns nil for an empty list.
func (l *List) Err() error {
	if !l.HasErrors() {
		return nil
	}
	return l
}

// Flatten returns the diagnostics carried by err.
func Flatten(err error) []*Error {
	if err == nil {
		return nil
	}
	var l List
	l.Append(err, IO)
	return l.Errors
}
