package ignorelist

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/sqldef/schemadiff/schema"
)

// Parse reads the ignore-list DSL:
//
//	# comment
//	SHOW ALL | SHOW NONE
//	SHOW|HIDE [REGEX] [CONTENT] [QUALIFIED] <pattern> [DB <regex>] [TYPE kind[,kind...]]
//
// SHOW ALL and SHOW NONE set the default visibility and are only accepted before the
// first rule. Patterns containing spaces are written in double quotes. Unknown kinds
// become diagnostics on the returned List.
func Parse(r io.Reader) (*List, error) {
	list := &List{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := stripComment(scanner.Text())
		if strings.TrimSpace(line) == "" {
			continue
		}
		tokens, err := tokenize(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		if len(tokens) == 2 && strings.EqualFold(tokens[0], "SHOW") {
			switch strings.ToUpper(tokens[1]) {
			case "ALL", "NONE":
				if len(list.Rules) > 0 {
					return nil, fmt.Errorf("line %d: SHOW %s must precede all rules", lineNo, strings.ToUpper(tokens[1]))
				}
				if strings.EqualFold(tokens[1], "ALL") {
					list.Default = DefaultShow
				} else {
					list.Default = DefaultHide
				}
				continue
			}
		}

		rule, diagnostics, err := parseRule(tokens)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		for _, d := range diagnostics {
			d.Reason = fmt.Sprintf("line %d: %s", lineNo, d.Reason)
			list.Diagnostics = append(list.Diagnostics, d)
		}
		list.Add(rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// ParseString is Parse for in-memory lists.
func ParseString(s string) (*List, error) {
	return Parse(strings.NewReader(s))
}

func parseRule(tokens []string) (*Rule, []schema.Diagnostic, error) {
	var show bool
	switch strings.ToUpper(tokens[0]) {
	case "SHOW":
		show = true
	case "HIDE":
		show = false
	default:
		return nil, nil, fmt.Errorf("expected SHOW or HIDE but got %q", tokens[0])
	}

	var regex, content, qualified bool
	i := 1
flags:
	for ; i < len(tokens); i++ {
		switch strings.ToUpper(tokens[i]) {
		case "REGEX":
			regex = true
		case "CONTENT":
			content = true
		case "QUALIFIED":
			qualified = true
		default:
			break flags
		}
	}
	if i >= len(tokens) {
		return nil, nil, fmt.Errorf("missing pattern")
	}

	rule, err := NewRule(tokens[i], regex, show)
	if err != nil {
		return nil, nil, err
	}
	rule.IgnoreContent = content
	rule.Qualified = qualified

	var diagnostics []schema.Diagnostic
	for i++; i < len(tokens); i++ {
		keyword := strings.ToUpper(tokens[i])
		if i+1 >= len(tokens) {
			return nil, nil, fmt.Errorf("%s requires an argument", keyword)
		}
		i++
		switch keyword {
		case "DB":
			re, err := regexp.Compile(tokens[i])
			if err != nil {
				return nil, nil, fmt.Errorf("invalid DB pattern %q: %w", tokens[i], err)
			}
			rule.DBPattern = re
		case "TYPE":
			rule.Kinds = schema.KindSet{}
			for _, name := range strings.Split(tokens[i], ",") {
				if name == "" {
					continue
				}
				kind, err := schema.ParseObjectKind(name)
				if err != nil {
					diagnostics = append(diagnostics, schema.Diagnostic{
						Object: rule.Pattern,
						Reason: fmt.Sprintf("unknown object kind %q in ignore rule", name),
					})
					continue
				}
				rule.Kinds[kind] = struct{}{}
			}
			rule.disabled = len(rule.Kinds) == 0
		default:
			return nil, nil, fmt.Errorf("unexpected %q after pattern", tokens[i-1])
		}
	}
	return rule, diagnostics, nil
}

func stripComment(line string) string {
	inQuote := false
	for i, c := range line {
		switch c {
		case '"':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return line[:i]
			}
		}
	}
	return line
}

func tokenize(line string) ([]string, error) {
	var tokens []string
	var current strings.Builder
	inQuote, quoted := false, false
	flush := func() {
		if current.Len() > 0 || quoted {
			tokens = append(tokens, current.String())
		}
		current.Reset()
		quoted = false
	}
	for _, c := range line {
		switch {
		case c == '"':
			inQuote = !inQuote
			quoted = true
		case !inQuote && (c == ' ' || c == '\t'):
			flush()
		default:
			current.WriteRune(c)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	flush()
	return tokens, nil
}
