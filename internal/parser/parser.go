// Package parser loads manifests into value trees. The native .rdl syntax is
// parsed here. YAML, TOML and JSON are adapted from their libraries.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marte-community/register-dev-tools/internal/diag"
	"github.com/marte-community/register-dev-tools/internal/tree"
)

// Comment is a `//` comment in an .rdl file. Doc comments start with `//#`.
type Comment struct {
	Position tree.Position
	Text     string
	Doc      bool
}

// Document is a parsed .rdl file.
type Document struct {
	Root     *tree.Node
	Comments []Comment
}

type Parser struct {
	lexer    *Lexer
	buf      []Token
	comments []Comment
	errors   []error
}

func NewParser(file, input string) *Parser {
	return &Parser{
		lexer: NewLexer(file, input),
	}
}

func (p *Parser) addError(pos tree.Position, format string, args ...any) {
	p.errors = append(p.errors, diag.New(diag.Syntax, "", pos, format, args...))
}

func (p *Parser) next() Token {
	if len(p.buf) > 0 {
		t := p.buf[0]
		p.buf = p.buf[1:]
		return t
	}
	return p.fetchToken()
}

func (p *Parser) peek() Token {
	return p.peekN(0)
}

func (p *Parser) peekN(n int) Token {
	for len(p.buf) <= n {
		p.buf = append(p.buf, p.fetchToken())
	}
	return p.buf[n]
}

func (p *Parser) fetchToken() Token {
	for {
		tok := p.lexer.NextToken()
		switch tok.Type {
		case TokenComment:
			p.comments = append(p.comments, Comment{Position: tok.Position, Text: tok.Value})
		case TokenDocstring:
			p.comments = append(p.comments, Comment{Position: tok.Position, Text: tok.Value, Doc: true})
		default:
			return tok
		}
	}
}

// Parse reads the whole input. The root is a mapping of top-level entries.
// The first syntax error is returned.
func (p *Parser) Parse() (*Document, error) {
	root := tree.NewMapping(tree.Position{File: p.lexer.file, Line: 1, Column: 1})
	for {
		tok := p.peek()
		if tok.Type == TokenEOF {
			break
		}
		if !p.parseEntry(root) {
			// Synchronization: skip token if not consumed to make progress
			if p.peek() == tok {
				p.next()
			}
		}
	}
	doc := &Document{Root: tree.Annotate(root), Comments: p.comments}

	var err error
	if len(p.errors) > 0 {
		err = p.errors[0]
	}
	return doc, err
}

func (p *Parser) parseEntry(m *tree.Node) bool {
	tok := p.next()
	var key string
	switch tok.Type {
	case TokenIdentifier:
		key = tok.Value
	case TokenString:
		s, err := strconv.Unquote(tok.Value)
		if err != nil {
			p.addError(tok.Position, "invalid string %s", tok.Value)
			return false
		}
		key = s
	default:
		p.addError(tok.Position, "expected a key, got %q", tok.Value)
		return false
	}
	if p.peek().Type != TokenEqual {
		p.addError(p.peek().Position, "expected = after %q", key)
		return false
	}
	p.next() // Consume =

	val, ok := p.parseValue()
	if !ok {
		return false
	}
	if err := m.Set(key, tok.Position, val); err != nil {
		p.addError(tok.Position, "duplicate key %q", key)
		return false
	}
	return true
}

func (p *Parser) parseValue() (*tree.Node, bool) {
	tok := p.next()
	switch tok.Type {
	case TokenString:
		s, err := strconv.Unquote(tok.Value)
		if err != nil {
			p.addError(tok.Position, "invalid string %s", tok.Value)
			return nil, false
		}
		return tree.NewString(s, tok.Position), true
	case TokenBool:
		return tree.NewBool(tok.Value == "true", tok.Position), true
	case TokenIdentifier:
		if tok.Value == "null" {
			return tree.NewNull(tok.Position), true
		}
		return tree.NewString(tok.Value, tok.Position), true
	case TokenNumber:
		n, err := ParseNumber(tok.Value, tok.Position)
		if err != nil {
			p.addError(tok.Position, "%v", err)
			return nil, false
		}
		return n, true
	case TokenLBrace:
		return p.parseBlock(tok)
	}
	p.addError(tok.Position, "unexpected %q", tok.Value)
	return nil, false
}

// isMappingLookahead reports whether the block opened by '{' holds key/value
// entries rather than a list of values.
func (p *Parser) isMappingLookahead() bool {
	t := p.peek()
	if t.Type == TokenRBrace {
		return true
	}
	return (t.Type == TokenIdentifier || t.Type == TokenString) && p.peekN(1).Type == TokenEqual
}

func (p *Parser) parseBlock(open Token) (*tree.Node, bool) {
	if p.isMappingLookahead() {
		m := tree.NewMapping(open.Position)
		for {
			t := p.peek()
			switch t.Type {
			case TokenRBrace:
				m.End = p.next().Position
				return m, true
			case TokenEOF:
				p.addError(open.Position, "unclosed {")
				return nil, false
			case TokenComma:
				p.next()
				continue
			}
			if !p.parseEntry(m) {
				return nil, false
			}
		}
	}

	seq := tree.NewSequence(open.Position)
	for {
		t := p.peek()
		switch t.Type {
		case TokenRBrace:
			seq.End = p.next().Position
			return seq, true
		case TokenEOF:
			p.addError(open.Position, "unclosed {")
			return nil, false
		case TokenComma:
			p.next()
			continue
		}
		v, ok := p.parseValue()
		if !ok {
			return nil, false
		}
		seq.Items = append(seq.Items, v)
	}
}

// ParseNumber converts an integer or float literal. Integers accept 0x, 0o
// and 0b prefixes and underscores between digits.
func ParseNumber(raw string, pos tree.Position) (*tree.Node, error) {
	s := raw
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg, s = true, s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	lower := strings.ToLower(s)
	isHex := strings.HasPrefix(lower, "0x")
	if !isHex && (strings.ContainsAny(lower, ".e") || lower == "inf" || lower == "nan") {
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, "_", ""), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", raw)
		}
		if neg {
			f = -f
		}
		n := tree.NewFloat(f, pos)
		n.Raw = raw
		return n, nil
	}
	if len(lower) > 1 && lower[0] == '0' && lower[1] >= '0' && lower[1] <= '9' {
		// Leading zeros are decimal, not octal.
		s = strings.TrimLeft(s, "0")
		if s == "" {
			s = "0"
		}
	}
	u, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q", raw)
	}
	n := tree.NewUint(u, pos)
	n.Negative = neg && u != 0
	n.Raw = raw
	return n, nil
}
