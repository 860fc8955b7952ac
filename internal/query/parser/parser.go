package parser

import (
	"fmt"
	"strconv"
	"strings"

	qerrors "github.com/quiverdb/quiver/internal/errors"
	"github.com/quiverdb/quiver/pkg/types"
)

// Parser builds execution plans from SQL text.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
}

// NewParser creates a Parser over the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	p.nextToken()
	p.nextToken()
	return p
}

// Parse compiles a single statement.
func Parse(input string) (Statement, error) {
	p := NewParser(input)
	stmt, err := p.ParseStatement()
	if err != nil {
		return nil, err
	}
	if p.curTokenIs(TokenSemicolon) {
		p.nextToken()
	}
	if !p.curTokenIs(TokenEOF) {
		return nil, p.errorAt(p.curToken, "unexpected input after statement")
	}
	return stmt, nil
}

// ParseScript compiles a sequence of semicolon-separated statements.
func ParseScript(input string) ([]Statement, error) {
	p := NewParser(input)
	var stmts []Statement
	for !p.curTokenIs(TokenEOF) {
		if p.curTokenIs(TokenSemicolon) {
			p.nextToken()
			continue
		}
		stmt, err := p.ParseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
		if !p.curTokenIs(TokenSemicolon) && !p.curTokenIs(TokenEOF) {
			return nil, p.errorAt(p.curToken, "expected ';' between statements")
		}
	}
	return stmts, nil
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

func (p *Parser) curTokenIs(t TokenType) bool  { return p.curToken.Type == t }
func (p *Parser) peekTokenIs(t TokenType) bool { return p.peekToken.Type == t }

func (p *Parser) errorAt(tok Token, msg string) error {
	if tok.Type == TokenError {
		msg = fmt.Sprintf("%s (bad token %q)", msg, tok.Literal)
	} else if tok.Literal != "" {
		msg = fmt.Sprintf("%s (got %q)", msg, tok.Literal)
	}
	return qerrors.NewSyntaxError(tok.Line, tok.Column, msg)
}

// expect consumes the current token if it matches, else fails with position.
func (p *Parser) expect(t TokenType, what string) (Token, error) {
	if !p.curTokenIs(t) {
		return Token{}, p.errorAt(p.curToken, "expected "+what)
	}
	tok := p.curToken
	p.nextToken()
	return tok, nil
}

// ParseStatement parses one statement starting at the current token.
func (p *Parser) ParseStatement() (Statement, error) {
	switch p.curToken.Type {
	case TokenCreate:
		return p.parseCreate()
	case TokenSelect:
		return p.parseSelect()
	case TokenInsert:
		return p.parseInsert()
	case TokenUpdate:
		return p.parseUpdate()
	case TokenDelete:
		return p.parseDelete()
	case TokenDrop:
		return p.parseDrop()
	default:
		return nil, p.errorAt(p.curToken, "expected CREATE, SELECT, INSERT, UPDATE, DELETE or DROP")
	}
}

func (p *Parser) parseCreate() (Statement, error) {
	p.nextToken() // CREATE
	if _, err := p.expect(TokenTable, "TABLE"); err != nil {
		return nil, err
	}
	name, err := p.expect(TokenIdent, "table name")
	if err != nil {
		return nil, err
	}
	if p.curTokenIs(TokenFrom) {
		return p.parseCreateFromFile(name.Literal)
	}
	return p.parseCreateWithFields(name.Literal)
}

// parseCreateWithFields parses `( field TYPE [KEY] [INDEX kind], ... )`.
func (p *Parser) parseCreateWithFields(table string) (Statement, error) {
	if _, err := p.expect(TokenLParen, "'('"); err != nil {
		return nil, err
	}
	stmt := &CreateTableStatement{Table: table}
	for {
		field, err := p.parseFieldDef()
		if err != nil {
			return nil, err
		}
		stmt.Fields = append(stmt.Fields, field)
		if p.curTokenIs(TokenComma) {
			p.nextToken()
			continue
		}
		break
	}
	if _, err := p.expect(TokenRParen, "')'"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseFieldDef() (FieldDef, error) {
	name, err := p.expect(TokenIdent, "field name")
	if err != nil {
		return FieldDef{}, err
	}
	f := FieldDef{Name: name.Literal}

	switch p.curToken.Type {
	case TokenInt:
		f.Kind = types.KindInt
		p.nextToken()
	case TokenFloat:
		f.Kind = types.KindFloat
		p.nextToken()
	case TokenDate:
		f.Kind = types.KindDate
		p.nextToken()
	case TokenVarchar:
		f.Kind = types.KindVarchar
		p.nextToken()
		if _, err := p.expect(TokenLBracket, "'[' after VARCHAR"); err != nil {
			return FieldDef{}, err
		}
		sizeTok, err := p.expect(TokenNumber, "VARCHAR size")
		if err != nil {
			return FieldDef{}, err
		}
		size, convErr := strconv.Atoi(sizeTok.Literal)
		if convErr != nil || size <= 0 {
			return FieldDef{}, p.errorAt(sizeTok, "VARCHAR size must be a positive integer")
		}
		f.Size = size
		if _, err := p.expect(TokenRBracket, "']'"); err != nil {
			return FieldDef{}, err
		}
	case TokenArray:
		// ARRAY[FLOAT]: a 2-dimensional coordinate.
		f.Kind = types.KindPoint
		p.nextToken()
		if _, err := p.expect(TokenLBracket, "'[' after ARRAY"); err != nil {
			return FieldDef{}, err
		}
		if _, err := p.expect(TokenFloat, "FLOAT"); err != nil {
			return FieldDef{}, err
		}
		if _, err := p.expect(TokenRBracket, "']'"); err != nil {
			return FieldDef{}, err
		}
	default:
		return FieldDef{}, p.errorAt(p.curToken, "expected a field type")
	}

	for p.curTokenIs(TokenKey) || p.curTokenIs(TokenIndex) {
		if p.curTokenIs(TokenKey) {
			f.Key = true
			p.nextToken()
			continue
		}
		p.nextToken() // INDEX
		kindTok := p.curToken
		if !p.curTokenIs(TokenIdent) {
			return FieldDef{}, p.errorAt(kindTok, "expected an index kind after INDEX")
		}
		kind, ok := types.ParseIndexKind(kindTok.Literal)
		if !ok {
			return FieldDef{}, p.errorAt(kindTok, fmt.Sprintf("unknown index kind %q", kindTok.Literal))
		}
		f.Index = kind
		p.nextToken()
	}
	return f, nil
}

// parseCreateFromFile parses `FROM FILE "path" USING INDEX kind(keyfield)`.
func (p *Parser) parseCreateFromFile(table string) (Statement, error) {
	p.nextToken() // FROM
	if _, err := p.expect(TokenFile, "FILE"); err != nil {
		return nil, err
	}
	path, err := p.expect(TokenString, "a quoted file path")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenUsing, "USING"); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenIndex, "INDEX"); err != nil {
		return nil, err
	}
	kindTok := p.curToken
	if !p.curTokenIs(TokenIdent) {
		return nil, p.errorAt(kindTok, "expected an index kind")
	}
	kind, ok := types.ParseIndexKind(kindTok.Literal)
	if !ok {
		return nil, p.errorAt(kindTok, fmt.Sprintf("unknown index kind %q", kindTok.Literal))
	}
	p.nextToken()
	if _, err := p.expect(TokenLParen, "'('"); err != nil {
		return nil, err
	}
	var keyField string
	switch p.curToken.Type {
	case TokenIdent, TokenString:
		keyField = p.curToken.Literal
		p.nextToken()
	default:
		return nil, p.errorAt(p.curToken, "expected the key field name")
	}
	if _, err := p.expect(TokenRParen, "')'"); err != nil {
		return nil, err
	}
	return &CreateTableFromFileStatement{
		Table:    table,
		Path:     path.Literal,
		Index:    kind,
		KeyField: keyField,
	}, nil
}

func (p *Parser) parseSelect() (Statement, error) {
	p.nextToken() // SELECT
	if _, err := p.expect(TokenStar, "'*'"); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenFrom, "FROM"); err != nil {
		return nil, err
	}
	table, err := p.expect(TokenIdent, "table name")
	if err != nil {
		return nil, err
	}
	stmt := &SelectStatement{Table: table.Literal}
	if p.curTokenIs(TokenWhere) {
		where, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	return stmt, nil
}

// parseWhere parses the three predicate shapes after WHERE.
func (p *Parser) parseWhere() (*Predicate, error) {
	p.nextToken() // WHERE
	field, err := p.expect(TokenIdent, "field name")
	if err != nil {
		return nil, err
	}

	switch p.curToken.Type {
	case TokenEq:
		p.nextToken()
		value, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &Predicate{Kind: PredEquality, Field: field.Literal, Value: value}, nil

	case TokenBetween:
		p.nextToken()
		lo, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenAnd, "AND"); err != nil {
			return nil, err
		}
		hi, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &Predicate{Kind: PredRange, Field: field.Literal, Lo: lo, Hi: hi}, nil

	case TokenIn:
		// field IN ((x, y), radius)
		p.nextToken()
		if _, err := p.expect(TokenLParen, "'('"); err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenLParen, "'(' before the coordinates"); err != nil {
			return nil, err
		}
		x, err := p.parseNumber()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenComma, "','"); err != nil {
			return nil, err
		}
		y, err := p.parseNumber()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen, "')' after the coordinates"); err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenComma, "','"); err != nil {
			return nil, err
		}
		radiusTok := p.curToken
		radius, err := p.parseNumber()
		if err != nil {
			return nil, err
		}
		if radius < 0 {
			return nil, p.errorAt(radiusTok, "radius must not be negative")
		}
		if _, err := p.expect(TokenRParen, "')'"); err != nil {
			return nil, err
		}
		return &Predicate{
			Kind:   PredSpatial,
			Field:  field.Literal,
			Center: types.Point{X: x, Y: y},
			Radius: radius,
		}, nil

	default:
		return nil, p.errorAt(p.curToken, "expected '=', BETWEEN or IN")
	}
}

func (p *Parser) parseInsert() (Statement, error) {
	p.nextToken() // INSERT
	if _, err := p.expect(TokenInto, "INTO"); err != nil {
		return nil, err
	}
	table, err := p.expect(TokenIdent, "table name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenValues, "VALUES"); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLParen, "'('"); err != nil {
		return nil, err
	}
	stmt := &InsertStatement{Table: table.Literal}
	for {
		value, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Values = append(stmt.Values, value)
		if p.curTokenIs(TokenComma) {
			p.nextToken()
			continue
		}
		break
	}
	if _, err := p.expect(TokenRParen, "')'"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseUpdate() (Statement, error) {
	p.nextToken() // UPDATE
	table, err := p.expect(TokenIdent, "table name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenSet, "SET"); err != nil {
		return nil, err
	}
	stmt := &UpdateStatement{Table: table.Literal}
	for {
		field, err := p.expect(TokenIdent, "field name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenEq, "'='"); err != nil {
			return nil, err
		}
		value, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Sets = append(stmt.Sets, Assignment{Field: field.Literal, Value: value})
		if p.curTokenIs(TokenComma) {
			p.nextToken()
			continue
		}
		break
	}
	if !p.curTokenIs(TokenWhere) {
		return nil, p.errorAt(p.curToken, "UPDATE requires a WHERE clause")
	}
	where, err := p.parseWhere()
	if err != nil {
		return nil, err
	}
	stmt.Where = where
	return stmt, nil
}

func (p *Parser) parseDelete() (Statement, error) {
	p.nextToken() // DELETE
	if _, err := p.expect(TokenFrom, "FROM"); err != nil {
		return nil, err
	}
	table, err := p.expect(TokenIdent, "table name")
	if err != nil {
		return nil, err
	}
	if !p.curTokenIs(TokenWhere) {
		return nil, p.errorAt(p.curToken, "DELETE requires a WHERE clause")
	}
	where, err := p.parseWhere()
	if err != nil {
		return nil, err
	}
	return &DeleteStatement{Table: table.Literal, Where: where}, nil
}

func (p *Parser) parseDrop() (Statement, error) {
	p.nextToken() // DROP
	if _, err := p.expect(TokenTable, "TABLE"); err != nil {
		return nil, err
	}
	table, err := p.expect(TokenIdent, "table name")
	if err != nil {
		return nil, err
	}
	return &DropTableStatement{Table: table.Literal}, nil
}

// parseLiteral parses a number, a quoted string, or a parenthesized
// coordinate pair. Strings stay VARCHAR; the executor re-reads them as DATE
// when the target field calls for it.
func (p *Parser) parseLiteral() (types.Value, error) {
	switch p.curToken.Type {
	case TokenNumber:
		tok := p.curToken
		p.nextToken()
		if strings.ContainsRune(tok.Literal, '.') {
			x, err := strconv.ParseFloat(tok.Literal, 64)
			if err != nil {
				return types.Value{}, p.errorAt(tok, "malformed number")
			}
			return types.NewFloat(x), nil
		}
		n, err := strconv.ParseInt(tok.Literal, 10, 32)
		if err != nil {
			return types.Value{}, p.errorAt(tok, "integer out of range")
		}
		return types.NewInt(int32(n)), nil
	case TokenString:
		tok := p.curToken
		p.nextToken()
		return types.NewVarchar(tok.Literal), nil
	case TokenLParen:
		p.nextToken()
		x, err := p.parseNumber()
		if err != nil {
			return types.Value{}, err
		}
		if _, err := p.expect(TokenComma, "','"); err != nil {
			return types.Value{}, err
		}
		y, err := p.parseNumber()
		if err != nil {
			return types.Value{}, err
		}
		if _, err := p.expect(TokenRParen, "')'"); err != nil {
			return types.Value{}, err
		}
		return types.NewPoint(x, y), nil
	default:
		return types.Value{}, p.errorAt(p.curToken, "expected a literal")
	}
}

func (p *Parser) parseNumber() (float64, error) {
	tok, err := p.expect(TokenNumber, "a number")
	if err != nil {
		return 0, err
	}
	x, convErr := strconv.ParseFloat(tok.Literal, 64)
	if convErr != nil {
		return 0, p.errorAt(tok, "malformed number")
	}
	return x, nil
}
