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

package parser

import (
	"fmt"
	"strings"
	"unicode"
)

// Fragment is one statement cut out of a script, without its terminator.
type Fragment struct {
	SQL    string
	Offset int
	Line   int
	Column int
}

// SplitStatements cuts sql into statements. Statements end at ';' outside of
// BEGIN ... END blocks; on MS SQL they end at GO batch separators, and at ';' only
// outside of procedure, function and trigger bodies.
func SplitStatements(sql string, mode ParserMode) ([]Fragment, error) {
	tokens := NewStringTokenizer(sql, mode).All()

	var result []Fragment
	start, end := -1, -1
	first := -1
	depth := 0
	flush := func() {
		if start >= 0 {
			line, column := LineColumn(sql, start)
			result = append(result, Fragment{SQL: sql[start:end], Offset: start, Line: line, Column: column})
		}
		start, end, first, depth = -1, -1, -1, 0
	}

	for i, tok := range tokens {
		switch tok.Type {
		case TokError:
			line, column := LineColumn(sql, tok.Pos)
			return nil, fmt.Errorf("%s at line %d, column %d", tok.Text, line, column)
		case TokComment:
			continue
		}

		if mode == ParserModeMssql && isBatchSeparator(sql, tokens, i) {
			flush()
			continue
		}
		if tok.Type == TokPunct && tok.Text == ";" && depth == 0 {
			if mode != ParserModeMssql || !isModuleHeader(tokens, first) {
				flush()
				continue
			}
		}

		if start < 0 {
			start, first = tok.Pos, i
		}
		end = tok.End

		if tok.Type != TokIdent {
			continue
		}
		switch strings.ToUpper(tok.Text) {
		case "BEGIN":
			if opensBlock(tokens, i) {
				depth++
			}
		case "CASE":
			depth++
		case "END":
			if depth > 0 && !closesStatementBlock(tokens, i) {
				depth--
			}
		}
	}
	flush()
	return result, nil
}

// opensBlock tells BEGIN of a compound statement from BEGIN [TRANSACTION|WORK].
func opensBlock(tokens []Token, i int) bool {
	next := nextToken(tokens, i)
	if next == nil {
		return false
	}
	if next.Type == TokPunct && next.Text == ";" {
		return false
	}
	if next.Type == TokIdent {
		switch strings.ToUpper(next.Text) {
		case "TRANSACTION", "TRAN", "WORK", "DEFERRED", "IMMEDIATE", "EXCLUSIVE":
			return false
		}
	}
	return true
}

// closesStatementBlock reports END IF / END LOOP / END WHILE / END REPEAT, whose
// openers are not counted.
func closesStatementBlock(tokens []Token, i int) bool {
	next := nextToken(tokens, i)
	if next == nil || next.Type != TokIdent {
		return false
	}
	switch strings.ToUpper(next.Text) {
	case "IF", "LOOP", "WHILE", "REPEAT":
		return true
	}
	return false
}

func isModuleHeader(tokens []Token, first int) bool {
	if first < 0 {
		return false
	}
	var words []string
	for i := first; i < len(tokens) && len(words) < 4; i++ {
		if tokens[i].Type == TokComment {
			continue
		}
		if tokens[i].Type != TokIdent {
			break
		}
		words = append(words, strings.ToUpper(tokens[i].Text))
	}
	if len(words) < 2 || (words[0] != "CREATE" && words[0] != "ALTER") {
		return false
	}
	for _, w := range words[1:] {
		switch w {
		case "PROCEDURE", "PROC", "FUNCTION", "TRIGGER":
			return true
		case "OR", "ALTER":
			continue
		}
		return false
	}
	return false
}

// isBatchSeparator reports a GO that stands alone on its line.
func isBatchSeparator(sql string, tokens []Token, i int) bool {
	tok := tokens[i]
	if tok.Type != TokIdent || !strings.EqualFold(tok.Text, "GO") {
		return false
	}
	lineStart := strings.LastIndexByte(sql[:tok.Pos], '\n') + 1
	if strings.TrimSpace(sql[lineStart:tok.Pos]) != "" {
		return false
	}
	lineEnd := strings.IndexByte(sql[tok.End:], '\n')
	if lineEnd < 0 {
		lineEnd = len(sql) - tok.End
	}
	rest := strings.TrimSpace(sql[tok.End : tok.End+lineEnd])
	return rest == "" || strings.HasPrefix(rest, "--")
}

func nextToken(tokens []Token, i int) *Token {
	for j := i + 1; j < len(tokens); j++ {
		if tokens[j].Type != TokComment {
			return &tokens[j]
		}
	}
	return nil
}

// LineColumn converts a byte offset into 1-based line and column numbers.
func LineColumn(sql string, offset int) (line, column int) {
	if offset > len(sql) {
		offset = len(sql)
	}
	before := sql[:offset]
	line = strings.Count(before, "\n") + 1
	column = offset - strings.LastIndexByte(before, '\n')
	return line, column
}

// TrimMarginComments pulls out any leading or trailing comments from a raw sql query.
// This function also trims leading (if there's a comment) and trailing whitespace.
// MySQL version comments (/*!NNNNN ... */) hold executable SQL and are kept.
func TrimMarginComments(sql string) string {
	trailingStart := trailingCommentStart(sql)
	leadingEnd := leadingCommentEnd(sql[:trailingStart])
	return strings.TrimFunc(sql[leadingEnd:trailingStart], unicode.IsSpace)
}

// leadingCommentEnd returns the first index after all leading comments, or
// 0 if there are no leading comments.
func leadingCommentEnd(text string) (end int) {
	hasComment := false
	pos := 0
	for pos < len(text) {
		nextVisibleOffset := strings.IndexFunc(text[pos:], isNonSpace)
		if nextVisibleOffset < 0 {
			break
		}
		pos += nextVisibleOffset
		remainingText := text[pos:]

		var commentLength int
		switch {
		case strings.HasPrefix(remainingText, "--"):
			commentLength = strings.IndexByte(remainingText, '\n')
			if commentLength < 0 {
				commentLength = len(remainingText)
			}
		case len(remainingText) >= 4 && remainingText[:2] == "/*" && remainingText[2] != '!':
			commentLength = 4 + strings.Index(remainingText[2:], "*/")
			if commentLength < 4 {
				// Missing end comment :/
				return 0
			}
		default:
			if hasComment {
				return pos
			}
			return 0
		}

		hasComment = true
		pos += commentLength
	}

	if hasComment {
		return pos
	}
	return 0
}

// trailingCommentStart returns the first index of trailing block comments.
// If there are no trailing comments, returns the length of the input string.
func trailingCommentStart(text string) (start int) {
	hasComment := false
	reducedLen := len(text)
	for reducedLen > 0 {
		nextReducedLen := strings.LastIndexFunc(text[:reducedLen], isNonSpace) + 1
		if nextReducedLen == 0 {
			break
		}
		reducedLen = nextReducedLen
		if reducedLen < 4 || text[reducedLen-2:reducedLen] != "*/" {
			break
		}

		startCommentPos := strings.LastIndex(text[:reducedLen-2], "/*")
		if startCommentPos < 0 {
			// Badly formatted sql :/
			break
		}
		if strings.HasPrefix(text[startCommentPos:], "/*!") {
			break
		}

		hasComment = true
		reducedLen = startCommentPos
	}

	if hasComment {
		return reducedLen
	}
	return len(text)
}

func isNonSpace(r rune) bool {
	return !unicode.IsSpace(r)
}
