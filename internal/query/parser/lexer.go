// Package parser provides the SQL front-end: a lexer and recursive-descent
// parser producing execution plans as inert data. The parser never touches
// the catalog or storage, so plans can be built and inspected in isolation.
package parser

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenType identifies a lexical token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError
	TokenIdent
	TokenNumber
	TokenString

	// Keywords
	TokenCreate
	TokenTable
	TokenFrom
	TokenFile
	TokenUsing
	TokenIndex
	TokenKey
	TokenSelect
	TokenWhere
	TokenBetween
	TokenAnd
	TokenIn
	TokenInsert
	TokenInto
	TokenValues
	TokenDelete
	TokenUpdate
	TokenSet
	TokenDrop

	// Type keywords
	TokenInt
	TokenFloat
	TokenVarchar
	TokenDate
	TokenArray

	// Symbols
	TokenStar      // *
	TokenComma     // ,
	TokenLParen    // (
	TokenRParen    // )
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenEq        // =
	TokenSemicolon // ;
)

// Token is one lexical token with its source position.
type Token struct {
	Type    TokenType
	Literal string
	Line    int // 1-based
	Column  int // 1-based
}

// String renders the token for diagnostics.
func (t Token) String() string {
	return fmt.Sprintf("Token{%d, %q, %d:%d}", t.Type, t.Literal, t.Line, t.Column)
}

// keywords maps SQL keywords to their token types.
var keywords = map[string]TokenType{
	"CREATE":  TokenCreate,
	"TABLE":   TokenTable,
	"FROM":    TokenFrom,
	"FILE":    TokenFile,
	"USING":   TokenUsing,
	"INDEX":   TokenIndex,
	"KEY":     TokenKey,
	"SELECT":  TokenSelect,
	"WHERE":   TokenWhere,
	"BETWEEN": TokenBetween,
	"AND":     TokenAnd,
	"IN":      TokenIn,
	"INSERT":  TokenInsert,
	"INTO":    TokenInto,
	"VALUES":  TokenValues,
	"DELETE":  TokenDelete,
	"UPDATE":  TokenUpdate,
	"SET":     TokenSet,
	"DROP":    TokenDrop,
	"INT":     TokenInt,
	"FLOAT":   TokenFloat,
	"VARCHAR": TokenVarchar,
	"DATE":    TokenDate,
	"ARRAY":   TokenArray,
}

// Lexer tokenizes SQL input, tracking line and column for error reporting.
type Lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
	line    int
	col     int
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1, col: 0}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
	l.col++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// skipNoise skips whitespace, line comments (-- to end of line) and block
// comments (/* ... */).
func (l *Lexer) skipNoise() {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r':
			l.readChar()
		case l.ch == '-' && l.peekChar() == '-':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			l.readChar()
			l.readChar()
			for l.ch != 0 && !(l.ch == '*' && l.peekChar() == '/') {
				l.readChar()
			}
			if l.ch != 0 {
				l.readChar()
				l.readChar()
			}
		default:
			return
		}
	}
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	l.skipNoise()

	line, col := l.line, l.col
	var tok Token

	switch l.ch {
	case '*':
		tok = Token{Type: TokenStar, Literal: "*", Line: line, Column: col}
	case ',':
		tok = Token{Type: TokenComma, Literal: ",", Line: line, Column: col}
	case '(':
		tok = Token{Type: TokenLParen, Literal: "(", Line: line, Column: col}
	case ')':
		tok = Token{Type: TokenRParen, Literal: ")", Line: line, Column: col}
	case '[':
		tok = Token{Type: TokenLBracket, Literal: "[", Line: line, Column: col}
	case ']':
		tok = Token{Type: TokenRBracket, Literal: "]", Line: line, Column: col}
	case '=':
		tok = Token{Type: TokenEq, Literal: "=", Line: line, Column: col}
	case ';':
		tok = Token{Type: TokenSemicolon, Literal: ";", Line: line, Column: col}
	case '\'', '"':
		return l.readString(l.ch)
	case '-', '+':
		if isDigit(l.peekChar()) {
			return l.readNumber()
		}
		tok = Token{Type: TokenError, Literal: string(l.ch), Line: line, Column: col}
	case 0:
		tok = Token{Type: TokenEOF, Literal: "", Line: line, Column: col}
	default:
		if isLetter(l.ch) || l.ch == '_' {
			return l.readIdentifier()
		}
		if isDigit(l.ch) {
			return l.readNumber()
		}
		tok = Token{Type: TokenError, Literal: string(l.ch), Line: line, Column: col}
	}

	l.readChar()
	return tok
}

func (l *Lexer) readIdentifier() Token {
	line, col := l.line, l.col
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	literal := l.input[start:l.pos]
	if tokType, ok := keywords[strings.ToUpper(literal)]; ok {
		return Token{Type: tokType, Literal: strings.ToUpper(literal), Line: line, Column: col}
	}
	return Token{Type: TokenIdent, Literal: literal, Line: line, Column: col}
}

// readNumber reads a numeric literal, optionally signed and with one decimal
// point.
func (l *Lexer) readNumber() Token {
	line, col := l.line, l.col
	start := l.pos
	if l.ch == '-' || l.ch == '+' {
		l.readChar()
	}
	hasDecimal := false
	for isDigit(l.ch) || (l.ch == '.' && !hasDecimal) {
		if l.ch == '.' {
			hasDecimal = true
		}
		l.readChar()
	}
	return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Line: line, Column: col}
}

// readString reads a literal delimited by quote (single or double).
func (l *Lexer) readString(quote byte) Token {
	line, col := l.line, l.col
	l.readChar()
	start := l.pos
	for l.ch != quote && l.ch != 0 {
		l.readChar()
	}
	if l.ch == 0 {
		return Token{Type: TokenError, Literal: "unterminated string", Line: line, Column: col}
	}
	literal := l.input[start:l.pos]
	l.readChar()
	return Token{Type: TokenString, Literal: literal, Line: line, Column: col}
}

func isLetter(ch byte) bool {
	return unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
