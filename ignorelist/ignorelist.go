// Package ignorelist decides which schema objects are visible in a comparison.
package ignorelist

import (
	"fmt"
	"regexp"

	"github.com/sqldef/schemadiff/schema"
)

// Rule shows or hides objects whose name matches Pattern.
type Rule struct {
	Pattern string
	Regex   bool
	// DBPattern restricts the rule to objects whose enclosing schema or database matches.
	DBPattern *regexp.Regexp
	// Show makes the rule a whitelist rule.
	Show bool
	// Qualified matches Pattern against the schema-qualified name.
	Qualified bool
	// IgnoreContent extends the rule to the whole subtree of a matching object.
	IgnoreContent bool
	// Kinds limits the rule to these kinds. Empty means any kind.
	Kinds schema.KindSet

	re *regexp.Regexp
	// disabled is set when every kind named by the rule was unknown.
	disabled bool
}

// NewRule compiles pattern when regex is set.
func NewRule(pattern string, regex, show bool) (*Rule, error) {
	r := &Rule{Pattern: pattern, Regex: regex, Show: show}
	if regex {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		r.re = re
	}
	return r, nil
}

// Target is what a rule is matched against.
type Target struct {
	Kind      schema.ObjectKind
	Name      string
	Qualified string
	// DB is the enclosing top-level schema or database name.
	DB string
}

func (r *Rule) Match(t Target) bool {
	if r.disabled || !r.Kinds.Allows(t.Kind) {
		return false
	}
	name := t.Name
	if r.Qualified {
		name = t.Qualified
	}
	if r.re != nil {
		if !r.re.MatchString(name) {
			return false
		}
	} else if r.Pattern != name {
		return false
	}
	return r.DBPattern == nil || r.DBPattern.MatchString(t.DB)
}

// Default is the visibility of objects that no rule matches.
type Default int

const (
	// DefaultDerived hides unmatched objects when the list has a whitelist rule.
	DefaultDerived Default = iota
	DefaultShow
	DefaultHide
)

type List struct {
	Rules   []*Rule
	Default Default
	// Diagnostics collects non-fatal problems found while parsing, such as unknown kinds.
	Diagnostics []schema.Diagnostic
}

func (l *List) Add(r *Rule) {
	l.Rules = append(l.Rules, r)
}

func (l *List) HasWhitelist() bool {
	if l == nil {
		return false
	}
	for _, r := range l.Rules {
		if r.Show {
			return true
		}
	}
	return false
}

// DefaultVisible reports whether an object no rule matches is shown.
func (l *List) DefaultVisible() bool {
	if l == nil {
		return true
	}
	switch l.Default {
	case DefaultShow:
		return true
	case DefaultHide:
		return false
	}
	return !l.HasWhitelist()
}

// Verdict is the outcome of matching one object against the list.
type Verdict struct {
	// Shown is set when a whitelist rule matches.
	Shown bool
	// ShowContent is set when a matching whitelist rule covers the subtree.
	ShowContent bool
	// Hidden is set when a blacklist rule matches and no whitelist rule does.
	Hidden bool
	// HideContent is set when a matching blacklist rule covers the subtree.
	HideContent bool
}

// Evaluate matches t against every rule. Whitelist matches take precedence.
func (l *List) Evaluate(t Target) Verdict {
	var v Verdict
	if l == nil {
		return v
	}
	for _, r := range l.Rules {
		if !r.Match(t) {
			continue
		}
		if r.Show {
			v.Shown = true
			v.ShowContent = v.ShowContent || r.IgnoreContent
		} else {
			v.Hidden = true
			v.HideContent = v.HideContent || r.IgnoreContent
		}
	}
	if v.Shown {
		v.Hidden = false
		v.HideContent = false
	}
	return v
}
