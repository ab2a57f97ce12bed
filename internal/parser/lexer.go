package parser

import (
	"unicode"
	"unicode/utf8"

	"github.com/marte-community/register-dev-tools/internal/tree"
)

type TokenType int

const (
	TokenError TokenType = iota
	TokenEOF
	TokenIdentifier
	TokenEqual
	TokenLBrace
	TokenRBrace
	TokenComma
	TokenString
	TokenNumber
	TokenBool
	TokenComment
	TokenDocstring
)

type Token struct {
	Type     TokenType
	Value    string
	Position tree.Position
}

type Lexer struct {
	file          string
	input         string
	start         int
	pos           int
	width         int
	line          int
	lineStart     int
	prevLineStart int
	startLine     int
	startCol      int
}

func NewLexer(file, input string) *Lexer {
	return &Lexer{
		file:      file,
		input:     input,
		line:      1,
		startLine: 1,
		startCol:  1,
	}
}

func (l *Lexer) next() rune {
	if l.pos >= len(l.input) {
		l.width = 0
		return -1
	}
	r, w := utf8.DecodeRuneInString(l.input[l.pos:])
	l.width = w
	l.pos += l.width
	if r == '\n' {
		l.line++
		l.prevLineStart = l.lineStart
		l.lineStart = l.pos
	}
	return r
}

func (l *Lexer) backup() {
	l.pos -= l.width
	if l.width > 0 {
		r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
		if r == '\n' {
			l.line--
			l.lineStart = l.prevLineStart
		}
	}
	l.width = 0
}

func (l *Lexer) peek() rune {
	r := l.next()
	l.backup()
	return r
}

// ignore drops pending input and marks where the next token starts.
func (l *Lexer) ignore() {
	l.start = l.pos
	l.startLine = l.line
	l.startCol = l.pos - l.lineStart + 1
}

func (l *Lexer) emit(t TokenType) Token {
	tok := Token{
		Type:  t,
		Value: l.input[l.start:l.pos],
		Position: tree.Position{
			File:   l.file,
			Line:   l.startLine,
			Column: l.startCol,
		},
	}
	l.ignore()
	return tok
}

func (l *Lexer) NextToken() Token {
	for {
		r := l.next()
		if r == -1 {
			return l.emit(TokenEOF)
		}

		if unicode.IsSpace(r) {
			l.ignore()
			continue
		}

		switch r {
		case '=':
			return l.emit(TokenEqual)
		case '{':
			return l.emit(TokenLBrace)
		case '}':
			return l.emit(TokenRBrace)
		case ',':
			return l.emit(TokenComma)
		case '"':
			return l.lexString()
		case '/':
			return l.lexComment()
		}

		if unicode.IsLetter(r) || r == '_' {
			return l.lexIdentifier()
		}

		if unicode.IsDigit(r) || r == '-' || r == '+' {
			return l.lexNumber()
		}

		return l.emit(TokenError)
	}
}

func identRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '/' || r == '.'
}

func (l *Lexer) lexIdentifier() Token {
	for {
		r := l.next()
		if identRune(r) {
			continue
		}
		l.backup()
		val := l.input[l.start:l.pos]
		if val == "true" || val == "false" {
			return l.emit(TokenBool)
		}
		return l.emit(TokenIdentifier)
	}
}

func (l *Lexer) lexString() Token {
	for {
		r := l.next()
		switch r {
		case '\\':
			l.next()
		case '"':
			return l.emit(TokenString)
		case -1, '\n':
			return l.emit(TokenError)
		}
	}
}

func (l *Lexer) lexNumber() Token {
	for {
		r := l.next()
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' {
			continue
		}
		l.backup()
		return l.emit(TokenNumber)
	}
}

func (l *Lexer) lexComment() Token {
	r := l.next()
	if r == '/' {
		if l.peek() == '#' {
			return l.lexUntilNewline(TokenDocstring)
		}
		return l.lexUntilNewline(TokenComment)
	}
	l.backup()
	return l.emit(TokenError)
}

func (l *Lexer) lexUntilNewline(t TokenType) Token {
	for {
		r := l.next()
		if r == '\n' {
			l.backup()
			return l.emit(t)
		}
		if r == -1 {
			return l.emit(t)
		}
	}
}
