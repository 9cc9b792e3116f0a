package parser

import (
	"fmt"
	"strings"
)

// Name is a dotted identifier chain found in a statement, e.g. schema.table.column.
type Name struct {
	Parts []string
	// Call is set when the chain is followed by an argument list.
	Call bool
}

func (n Name) String() string {
	return strings.Join(n.Parts, ".")
}

// keywords are never reported as names when unquoted.
var keywords = map[string]bool{}

func init() {
	for _, k := range strings.Fields(`
		add after all alter and any array as asc atomic authorization before begin between
		both by call cascade case cast check collate column commit constraint create cross
		current_date current_time current_timestamp current_user declare default deferrable
		delete desc distinct do drop each else elsif end escape except exclude execute exists
		false fetch first following for foreign from full function go grant group having if
		ilike immediate in index inner insert instead intersect interval into is join key
		language last lateral leading left like limit local loop materialized natural new
		not nothing notify null nulls of offset old on only or order outer over partition
		perform preceding primary procedure raise range recursive references referencing
		replace restrict return returns revoke right row rows schema select session_user set
		setof similar some statement table then ties to top trailing trigger true unbounded
		union unique unlogged update user using values variadic view when where while window
		with within without`) {
		keywords[k] = true
	}
}

// IsKeyword reports whether word is treated as a keyword rather than a name.
func IsKeyword(word string) bool {
	return keywords[strings.ToLower(word)]
}

// Names returns the identifier chains that sql mentions, in order of first
// appearance. Aliases introduced with AS and the targets of qualified stars are
// included; callers match the chains against known objects. Unquoted names are
// lower-cased on PostgreSQL, where the server folds them.
func Names(sql string, mode ParserMode) ([]Name, error) {
	var tokens []Token
	for _, tok := range NewStringTokenizer(sql, mode).All() {
		switch tok.Type {
		case TokError:
			line, column := LineColumn(sql, tok.Pos)
			return nil, fmt.Errorf("%s at line %d, column %d", tok.Text, line, column)
		case TokComment:
			continue
		}
		tokens = append(tokens, tok)
	}

	var names []Name
	seen := map[string]bool{}
	for i := 0; i < len(tokens); i++ {
		part, ok := namePart(tokens[i], mode)
		if !ok || (i > 0 && isPunct(tokens[i-1], ".")) {
			continue
		}
		parts := []string{part}
		j := i + 1
		for j+1 < len(tokens) && isPunct(tokens[j], ".") {
			next, ok := namePart(tokens[j+1], mode)
			if !ok {
				break
			}
			parts = append(parts, next)
			j += 2
		}
		name := Name{Parts: parts, Call: j < len(tokens) && isPunct(tokens[j], "(")}
		key := name.String()
		if name.Call {
			key += "()"
		}
		if !seen[key] {
			seen[key] = true
			names = append(names, name)
		}
		i = j - 1
	}
	return names, nil
}

func namePart(tok Token, mode ParserMode) (string, bool) {
	switch tok.Type {
	case TokQuotedIdent:
		return tok.Text, true
	case TokIdent:
		if keywords[strings.ToLower(tok.Text)] {
			return "", false
		}
		if mode == ParserModePostgres {
			return strings.ToLower(tok.Text), true
		}
		return tok.Text, true
	}
	return "", false
}

func isPunct(tok Token, text string) bool {
	return tok.Type == TokPunct && tok.Text == text
}
