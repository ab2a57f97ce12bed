// Package formatter prints .rdl documents in canonical layout, keeping
// comments next to the entries they annotate.
package formatter

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/marte-community/register-dev-tools/internal/parser"
	"github.com/marte-community/register-dev-tools/internal/tree"
)

const (
	indentUnit = "    "
	// maxInline is the longest mapping or sequence kept on one line.
	maxInline = 100
)

type Insertable struct {
	Position tree.Position
	Text     string
	IsDoc    bool
}

type Formatter struct {
	insertables []Insertable
	cursor      int
	writer      io.Writer
}

// Format writes doc to w.
func Format(doc *parser.Document, w io.Writer) {
	ins := make([]Insertable, 0, len(doc.Comments))
	for _, c := range doc.Comments {
		ins = append(ins, Insertable{Position: c.Position, Text: fixComment(c.Text), IsDoc: c.Doc})
	}
	sort.SliceStable(ins, func(i, j int) bool {
		if ins[i].Position.Line != ins[j].Position.Line {
			return ins[i].Position.Line < ins[j].Position.Line
		}
		return ins[i].Position.Column < ins[j].Position.Column
	})

	f := &Formatter{
		insertables: ins,
		writer:      w,
	}
	f.formatEntries(doc.Root, 0, 0)
	f.flushRemainingComments(0)
}

// Source parses an .rdl file and returns it formatted.
func Source(file string, src []byte) ([]byte, error) {
	doc, err := parser.NewParser(file, string(src)).Parse()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	Format(doc, &buf)
	return buf.Bytes(), nil
}

func fixComment(text string) string {
	if strings.HasPrefix(text, "//#") {
		if len(text) > 3 && text[3] != ' ' {
			return "//# " + text[3:]
		}
	} else if strings.HasPrefix(text, "//") {
		if len(text) > 2 && text[2] != ' ' && text[2] != '/' {
			return "// " + text[2:]
		}
	}
	return strings.TrimRightFunc(text, unicode.IsSpace)
}

// formatEntries writes the entries of mapping n, one per line. lastLine is
// the source line the previous output ended on, used to keep blank lines.
func (f *Formatter) formatEntries(n *tree.Node, indent, lastLine int) {
	indentStr := strings.Repeat(indentUnit, indent)
	for i, e := range n.Entries {
		pos := e.KeyPos
		peek := f.peekPosition()
		if peek.Line > 0 && peek.Line < pos.Line && peek.Line > lastLine {
			pos = peek
		}
		if lastLine > 0 && pos.Line > lastLine+1 {
			fmt.Fprintln(f.writer)
		}

		f.flushCommentsBefore(e.KeyPos, indent)
		fmt.Fprintf(f.writer, "%s%s = ", indentStr, formatKey(e.Key))
		lastLine = f.formatValue(e.Value, indent)
		var next tree.Position
		if i+1 < len(n.Entries) {
			next = n.Entries[i+1].KeyPos
		}
		f.writeTrailing(lastLine, next)
		fmt.Fprintln(f.writer)
	}
}

// writeTrailing appends a comment that ends line, unless the next element
// starts on that line and so owns the comment.
func (f *Formatter) writeTrailing(line int, next tree.Position) {
	if next.Line == line || !f.hasTrailingComment(line) {
		return
	}
	fmt.Fprintf(f.writer, " %s", f.popComment())
}

func (f *Formatter) formatValue(n *tree.Node, indent int) int {
	switch n.Kind {
	case tree.Mapping, tree.Sequence:
		if f.inline(n) {
			fmt.Fprint(f.writer, inlineText(n))
			return endLine(n)
		}
		return f.formatBlock(n, indent)
	}
	fmt.Fprint(f.writer, scalarText(n))
	return n.Pos.Line
}

// inline reports whether n can stay on one line: it did in the source, it
// holds no comments and it is short enough.
func (f *Formatter) inline(n *tree.Node) bool {
	if endLine(n) > n.Pos.Line {
		return false
	}
	if peek := f.peekPosition(); peek.Line > 0 && peek.Line == n.Pos.Line && peek.Column < n.End.Column {
		return false
	}
	return len(inlineText(n)) <= maxInline
}

func (f *Formatter) formatBlock(n *tree.Node, indent int) int {
	fmt.Fprint(f.writer, "{")
	var first tree.Position
	switch {
	case n.Kind == tree.Mapping && len(n.Entries) > 0:
		first = n.Entries[0].KeyPos
	case n.Kind == tree.Sequence && len(n.Items) > 0:
		first = n.Items[0].Pos
	}
	f.writeTrailing(n.Pos.Line, first)
	fmt.Fprintln(f.writer)

	if n.Kind == tree.Mapping {
		f.formatEntries(n, indent+1, n.Pos.Line)
	} else {
		indentStr := strings.Repeat(indentUnit, indent+1)
		for i, item := range n.Items {
			f.flushCommentsBefore(item.Pos, indent+1)
			fmt.Fprint(f.writer, indentStr)
			line := f.formatValue(item, indent+1)
			var next tree.Position
			if i+1 < len(n.Items) {
				next = n.Items[i+1].Pos
			}
			f.writeTrailing(line, next)
			fmt.Fprintln(f.writer)
		}
	}
	if n.End.Line > 0 {
		f.flushCommentsBefore(n.End, indent+1)
	}
	fmt.Fprintf(f.writer, "%s}", strings.Repeat(indentUnit, indent))
	return endLine(n)
}

func endLine(n *tree.Node) int {
	if n.End.Line > 0 {
		return n.End.Line
	}
	return n.Pos.Line
}

func inlineText(n *tree.Node) string {
	var b strings.Builder
	writeInline(&b, n)
	return b.String()
}

func writeInline(b *strings.Builder, n *tree.Node) {
	switch n.Kind {
	case tree.Mapping:
		if len(n.Entries) == 0 {
			b.WriteString("{}")
			return
		}
		b.WriteString("{")
		for _, e := range n.Entries {
			b.WriteString(" ")
			b.WriteString(formatKey(e.Key))
			b.WriteString(" = ")
			writeInline(b, e.Value)
		}
		b.WriteString(" }")
	case tree.Sequence:
		if len(n.Items) == 0 {
			// An empty {} reads back as a mapping.
			b.WriteString("{}")
			return
		}
		b.WriteString("{")
		for _, item := range n.Items {
			b.WriteString(" ")
			writeInline(b, item)
		}
		b.WriteString(" }")
	default:
		b.WriteString(scalarText(n))
	}
}

func scalarText(n *tree.Node) string {
	switch n.Type {
	case tree.String:
		if bare(n.Str) {
			return n.Str
		}
		return strconv.Quote(n.Str)
	case tree.Int, tree.Float:
		if n.Raw != "" {
			return n.Raw
		}
	}
	return n.Text()
}

func formatKey(k string) string {
	if bare(k) {
		return k
	}
	return strconv.Quote(k)
}

// bare reports whether s lexes back as the same identifier.
func bare(s string) bool {
	if s == "" || s == "true" || s == "false" || s == "null" {
		return false
	}
	for i, r := range s {
		if i == 0 && !(unicode.IsLetter(r) || r == '_') {
			return false
		}
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("_-/.", r)) {
			return false
		}
	}
	return !strings.Contains(s, "//")
}

func (f *Formatter) flushCommentsBefore(pos tree.Position, indent int) {
	indentStr := strings.Repeat(indentUnit, indent)
	for f.cursor < len(f.insertables) {
		c := f.insertables[f.cursor]
		if c.Position.Line < pos.Line || (c.Position.Line == pos.Line && c.Position.Column < pos.Column) {
			fmt.Fprintf(f.writer, "%s%s\n", indentStr, c.Text)
			f.cursor++
		} else {
			break
		}
	}
}

func (f *Formatter) flushRemainingComments(indent int) {
	indentStr := strings.Repeat(indentUnit, indent)
	for f.cursor < len(f.insertables) {
		c := f.insertables[f.cursor]
		fmt.Fprintf(f.writer, "%s%s\n", indentStr, c.Text)
		f.cursor++
	}
}

func (f *Formatter) hasTrailingComment(line int) bool {
	if f.cursor >= len(f.insertables) {
		return false
	}
	c := f.insertables[f.cursor]
	return c.Position.Line == line
}

func (f *Formatter) popComment() string {
	if f.cursor >= len(f.insertables) {
		return ""
	}
	c := f.insertables[f.cursor]
	f.cursor++
	return c.Text
}

func (f *Formatter) peekPosition() tree.Position {
	if f.cursor < len(f.insertables) {
		return f.insertables[f.cursor].Position
	}
	return tree.Position{}
}
