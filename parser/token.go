/*
Copyright 2017 Google Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package parser tokenizes SQL text for the dialects that are not parsed by pg_query:
// it splits scripts into statements and collects the names a statement refers to.
package parser

import (
	"strings"
	"unicode"
)

type ParserMode int

const (
	eofChar = 0x100

	ParserModeMysql = ParserMode(iota)
	ParserModePostgres
	ParserModeSQLite3
	ParserModeMssql
)

type TokenType int

const (
	TokEOF TokenType = iota
	TokIdent
	TokQuotedIdent
	TokString
	TokNumber
	TokComment
	TokVariable
	TokPunct
	TokError
)

func (t TokenType) String() string {
	switch t {
	case TokEOF:
		return "EOF"
	case TokIdent:
		return "identifier"
	case TokQuotedIdent:
		return "quoted identifier"
	case TokString:
		return "string"
	case TokNumber:
		return "number"
	case TokComment:
		return "comment"
	case TokVariable:
		return "variable"
	case TokPunct:
		return "punctuation"
	}
	return "error"
}

// Token is one lexical unit of the input. Text is the decoded value for strings and
// quoted identifiers and the source text otherwise. [Pos, End) is its byte range.
type Token struct {
	Type TokenType
	Text string
	Pos  int
	End  int
}

// Tokenizer is the struct used to generate SQL tokens.
type Tokenizer struct {
	mode     ParserMode
	buf      string
	bufPos   int
	lastChar uint16
	// Position is the byte offset of lastChar.
	Position int

	specialComment *Tokenizer
	specialBase    int
}

// NewStringTokenizer creates a new Tokenizer for the sql string.
func NewStringTokenizer(sql string, mode ParserMode) *Tokenizer {
	tkn := &Tokenizer{buf: sql, mode: mode}
	tkn.next()
	return tkn
}

// Scan returns the next token, TokEOF at the end of the input.
func (tkn *Tokenizer) Scan() Token {
	if tkn.specialComment != nil {
		// for scanning such kind of comment: /*! MySQL-specific code */
		tok := tkn.specialComment.Scan()
		if tok.Type != TokEOF {
			tok.Pos += tkn.specialBase
			tok.End += tkn.specialBase
			return tok
		}
		tkn.specialComment = nil
	}

	tkn.skipBlank()
	start := tkn.Position
	typ, text := tkn.scan()
	if tkn.specialComment != nil {
		return tkn.Scan()
	}
	return Token{Type: typ, Text: text, Pos: start, End: tkn.Position}
}

// All scans the whole input. Scanning stops at the first TokError, which is included.
func (tkn *Tokenizer) All() []Token {
	var tokens []Token
	for {
		tok := tkn.Scan()
		if tok.Type == TokEOF {
			return tokens
		}
		tokens = append(tokens, tok)
		if tok.Type == TokError {
			return tokens
		}
	}
}

func (tkn *Tokenizer) scan() (TokenType, string) {
	ch := tkn.lastChar
	switch {
	case ch == eofChar:
		return TokEOF, ""
	case isLetter(ch):
		if tkn.peek() == '\'' {
			switch {
			case (ch == 'N' || ch == 'n') && tkn.mode == ParserModeMssql:
				tkn.next()
				tkn.next()
				return tkn.scanString('\'', false)
			case (ch == 'E' || ch == 'e') && tkn.mode == ParserModePostgres:
				tkn.next()
				tkn.next()
				return tkn.scanString('\'', true)
			}
		}
		return tkn.scanIdentifier()
	case isDigit(ch):
		return tkn.scanNumber()
	}

	tkn.next()
	switch ch {
	case '\'':
		return tkn.scanString('\'', tkn.mode == ParserModeMysql)
	case '"':
		if tkn.mode == ParserModeMysql {
			return tkn.scanString('"', true)
		}
		return tkn.scanLiteralIdentifier('"')
	case '`':
		if tkn.mode != ParserModePostgres {
			return tkn.scanLiteralIdentifier('`')
		}
	case '[':
		if tkn.mode == ParserModeMssql {
			return tkn.scanLiteralIdentifier(']')
		}
	case '$':
		if tkn.mode == ParserModePostgres {
			return tkn.scanDollar()
		}
	case '@':
		return tkn.scanVariable("@")
	case '.':
		if isDigit(tkn.lastChar) {
			return tkn.scanNumber()
		}
	case '-':
		if tkn.lastChar == '-' {
			tkn.next()
			return tkn.scanCommentType1("--")
		}
	case '#':
		if tkn.mode == ParserModeMysql {
			return tkn.scanCommentType1("#")
		}
	case '/':
		if tkn.lastChar == '*' {
			tkn.next()
			if tkn.lastChar == '!' && tkn.mode == ParserModeMysql {
				return tkn.scanMySQLSpecificComment()
			}
			return tkn.scanCommentType2()
		}
	}
	return tkn.scanOperator()
}

var operators = []string{"->>", "<=>", "::", "<>", "<=", ">=", "!=", "||", "&&", "->", "<<", ">>"}

// scanOperator returns the punctuation that starts one byte before lastChar.
func (tkn *Tokenizer) scanOperator() (TokenType, string) {
	start := tkn.Position - 1
	rest := tkn.buf[start:]
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			for range len(op) - 1 {
				tkn.next()
			}
			return TokPunct, op
		}
	}
	return TokPunct, rest[:1]
}

func (tkn *Tokenizer) skipBlank() {
	ch := tkn.lastChar
	for ch == ' ' || ch == '\n' || ch == '\r' || ch == '\t' || ch == '\f' {
		tkn.next()
		ch = tkn.lastChar
	}
}

func (tkn *Tokenizer) scanIdentifier() (TokenType, string) {
	start := tkn.Position
	for isLetter(tkn.lastChar) || isDigit(tkn.lastChar) || tkn.lastChar == '$' || tkn.lastChar == '#' {
		tkn.next()
	}
	return TokIdent, tkn.buf[start:tkn.Position]
}

func (tkn *Tokenizer) scanVariable(prefix string) (TokenType, string) {
	var buffer strings.Builder
	buffer.WriteString(prefix)
	for isLetter(tkn.lastChar) || isDigit(tkn.lastChar) || tkn.lastChar == '@' || tkn.lastChar == '.' {
		buffer.WriteByte(byte(tkn.lastChar))
		tkn.next()
	}
	return TokVariable, buffer.String()
}

func (tkn *Tokenizer) scanLiteralIdentifier(sepChar uint16) (TokenType, string) {
	var buffer strings.Builder
	sepSeen := false
	for {
		if sepSeen {
			if tkn.lastChar != sepChar {
				break
			}
			sepSeen = false
			buffer.WriteByte(byte(sepChar))
			tkn.next()
			continue
		}
		switch tkn.lastChar {
		case sepChar:
			sepSeen = true
		case eofChar:
			// Premature EOF.
			return TokError, "unterminated quoted identifier"
		default:
			buffer.WriteByte(byte(tkn.lastChar))
		}
		tkn.next()
	}
	if buffer.Len() == 0 {
		return TokError, "empty quoted identifier"
	}
	return TokQuotedIdent, buffer.String()
}

func (tkn *Tokenizer) scanMantissa(base int) {
	for digitVal(tkn.lastChar) < base {
		tkn.next()
	}
}

func (tkn *Tokenizer) scanNumber() (TokenType, string) {
	start := tkn.Position
	if tkn.lastChar != '.' && start > 0 && tkn.buf[start-1] == '.' {
		start--
	}

	// 0x construct.
	if tkn.lastChar == '0' {
		tkn.next()
		if tkn.lastChar == 'x' || tkn.lastChar == 'X' {
			tkn.next()
			tkn.scanMantissa(16)
			return TokNumber, tkn.buf[start:tkn.Position]
		}
	}

	tkn.scanMantissa(10)
	if tkn.lastChar == '.' {
		tkn.next()
		tkn.scanMantissa(10)
	}
	if tkn.lastChar == 'e' || tkn.lastChar == 'E' {
		tkn.next()
		if tkn.lastChar == '+' || tkn.lastChar == '-' {
			tkn.next()
		}
		tkn.scanMantissa(10)
	}

	// A letter cannot immediately follow a number.
	if isLetter(tkn.lastChar) {
		return TokError, "invalid number " + tkn.buf[start:tkn.Position+1]
	}
	return TokNumber, tkn.buf[start:tkn.Position]
}

var escapes = map[uint16]byte{
	'0': 0, 'b': '\b', 'n': '\n', 'r': '\r', 't': '\t', 'Z': 26,
}

// scanString reads a literal whose opening delimiter was consumed. A doubled
// delimiter stands for itself; backslash escapes are honoured when escaped is set.
func (tkn *Tokenizer) scanString(delim uint16, escaped bool) (TokenType, string) {
	var buffer strings.Builder
	for {
		ch := tkn.lastChar
		switch {
		case ch == eofChar:
			return TokError, "unterminated string"
		case ch == '\\' && escaped:
			tkn.next()
			if tkn.lastChar == eofChar {
				return TokError, "unterminated string"
			}
			if decoded, ok := escapes[tkn.lastChar]; ok {
				buffer.WriteByte(decoded)
			} else {
				buffer.WriteByte(byte(tkn.lastChar))
			}
		case ch == delim:
			tkn.next()
			if tkn.lastChar != delim {
				return TokString, buffer.String()
			}
			buffer.WriteByte(byte(delim))
		default:
			buffer.WriteByte(byte(ch))
		}
		tkn.next()
	}
}

// scanDollar reads $1 parameters and $tag$...$tag$ quoted bodies. The leading '$' was consumed.
func (tkn *Tokenizer) scanDollar() (TokenType, string) {
	if isDigit(tkn.lastChar) {
		return tkn.scanVariable("$")
	}
	tagStart := tkn.Position
	for isLetter(tkn.lastChar) || isDigit(tkn.lastChar) {
		tkn.next()
	}
	if tkn.lastChar != '$' {
		return TokError, "invalid dollar quote"
	}
	delim := "$" + tkn.buf[tagStart:tkn.Position] + "$"
	bodyStart := tkn.Position + 1
	idx := strings.Index(tkn.buf[bodyStart:], delim)
	if idx < 0 {
		return TokError, "unterminated dollar-quoted string"
	}
	tkn.seek(bodyStart + idx + len(delim))
	return TokString, tkn.buf[bodyStart : bodyStart+idx]
}

func (tkn *Tokenizer) scanCommentType1(prefix string) (TokenType, string) {
	start := tkn.Position - len(prefix)
	for tkn.lastChar != eofChar && tkn.lastChar != '\n' {
		tkn.next()
	}
	return TokComment, tkn.buf[start:tkn.Position]
}

func (tkn *Tokenizer) scanCommentType2() (TokenType, string) {
	start := tkn.Position - 2
	for {
		if tkn.lastChar == '*' {
			tkn.next()
			if tkn.lastChar == '/' {
				tkn.next()
				return TokComment, tkn.buf[start:tkn.Position]
			}
			continue
		}
		if tkn.lastChar == eofChar {
			return TokError, "unterminated comment"
		}
		tkn.next()
	}
}

func (tkn *Tokenizer) scanMySQLSpecificComment() (TokenType, string) {
	start := tkn.Position - 2
	typ, text := tkn.scanCommentType2()
	if typ == TokError {
		return typ, text
	}
	_, sql := ExtractMysqlComment(text)
	tkn.specialComment = NewStringTokenizer(sql, tkn.mode)
	tkn.specialBase = start + strings.Index(text, sql)
	return TokComment, text
}

// ExtractMysqlComment extracts the version and SQL from a comment-only query
// such as /*!50708 sql here */
func ExtractMysqlComment(sql string) (version string, innerSQL string) {
	sql = sql[3 : len(sql)-2]

	digitCount := 0
	endOfVersionIndex := strings.IndexFunc(sql, func(c rune) bool {
		digitCount++
		return !unicode.IsDigit(c) || digitCount == 6
	})
	if endOfVersionIndex < 0 {
		endOfVersionIndex = len(sql)
	}
	version = sql[0:endOfVersionIndex]
	innerSQL = strings.TrimFunc(sql[endOfVersionIndex:], unicode.IsSpace)

	return version, innerSQL
}

func (tkn *Tokenizer) next() {
	if tkn.bufPos >= len(tkn.buf) {
		tkn.Position = len(tkn.buf)
		tkn.lastChar = eofChar
		return
	}
	tkn.Position = tkn.bufPos
	tkn.lastChar = uint16(tkn.buf[tkn.bufPos])
	tkn.bufPos++
}

func (tkn *Tokenizer) seek(offset int) {
	tkn.bufPos = offset
	tkn.next()
}

func (tkn *Tokenizer) peek() uint16 {
	if tkn.bufPos >= len(tkn.buf) {
		return eofChar
	}
	return uint16(tkn.buf[tkn.bufPos])
}

// isLetter accepts the bytes of multi-byte UTF-8 sequences so non-ASCII identifiers scan as one token.
func isLetter(ch uint16) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_' || (ch >= 0x80 && ch != eofChar)
}

func digitVal(ch uint16) int {
	switch {
	case '0' <= ch && ch <= '9':
		return int(ch) - '0'
	case 'a' <= ch && ch <= 'f':
		return int(ch) - 'a' + 10
	case 'A' <= ch && ch <= 'F':
		return int(ch) - 'A' + 10
	}
	return 16 // larger than any legal digit val
}

func isDigit(ch uint16) bool {
	return '0' <= ch && ch <= '9'
}
