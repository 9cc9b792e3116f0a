// Package script renders ordered actions into a migration script. Rendering a single
// action is delegated to a Printer; this package only arranges the output.
package script

import (
	"fmt"
	"strings"

	"github.com/sqldef/schemadiff/depgraph"
	"github.com/sqldef/schemadiff/diff"
	"github.com/sqldef/schemadiff/schema"
)

// Phase is a section of the script. Phases are emitted in declaration order.
type Phase int

const (
	PhasePre Phase = iota
	PhaseBegin
	PhaseMid
	PhaseEnd
	PhasePost
)

func (p Phase) String() string {
	switch p {
	case PhasePre:
		return "PRE"
	case PhaseBegin:
		return "BEGIN"
	case PhaseMid:
		return "MID"
	case PhaseEnd:
		return "END"
	case PhasePost:
		return "POST"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Statement is one SQL statement without its separator.
type Statement struct {
	Phase Phase
	SQL   string
	// Comment marks COMMENT statements, which move to PhasePost with CommentsToEnd.
	Comment bool
}

// PrintContext is what a Printer can consult besides the action itself.
type PrintContext struct {
	Settings schema.Settings
	Old      *schema.Database
	New      *schema.Database
	// Refresh is set for objects recreated only because a dependency changed.
	Refresh bool
	// Selected is set for objects the user picked.
	Selected bool
}

type Printer interface {
	Print(action depgraph.ActionContainer, ctx PrintContext) ([]Statement, error)
}

// PrinterError is returned when an action cannot be rendered. No script is produced.
type PrinterError struct {
	Object schema.StatementID
	Action depgraph.Action
	Err    error
}

func (e *PrinterError) Error() string {
	return fmt.Sprintf("failed to print %s %s: %s", e.Action, e.Object, e.Err)
}

func (e *PrinterError) Unwrap() error {
	return e.Err
}

type TransactionQueries struct {
	Begin  string
	Commit string
}

func TransactionQueriesFor(dialect schema.Dialect) TransactionQueries {
	if dialect == schema.DialectMssql {
		return TransactionQueries{Begin: "BEGIN TRANSACTION", Commit: "COMMIT TRANSACTION"}
	}
	return TransactionQueries{Begin: "BEGIN", Commit: "COMMIT"}
}

// Preamble returns the statements every script of the dialect starts with.
func Preamble(dialect schema.Dialect) []string {
	switch dialect {
	case schema.DialectPostgres:
		return []string{"SET search_path = pg_catalog"}
	case schema.DialectMssql:
		return []string{"SET QUOTED_IDENTIFIER ON", "SET ANSI_NULLS ON"}
	}
	return nil
}

// Terminate appends the dialect's statement separator.
func Terminate(dialect schema.Dialect, sql string) string {
	if dialect == schema.DialectMssql {
		return sql + "\nGO"
	}
	return sql + ";"
}

type Builder struct {
	printer  Printer
	settings schema.Settings
}

func NewBuilder(printer Printer, settings schema.Settings) *Builder {
	return &Builder{printer: printer, settings: settings}
}

// Build renders actions in order. Identical consecutive statements of a phase are
// written once. An empty action list yields an empty script.
func (b *Builder) Build(actions []depgraph.ActionContainer, toRefresh map[schema.StatementID]struct{}, selected []*diff.Node, old, new *schema.Database) (string, error) {
	if len(actions) == 0 {
		return "", nil
	}

	selectedIDs := map[schema.StatementID]bool{}
	for _, n := range selected {
		selectedIDs[n.ID] = true
	}

	var phases [PhasePost + 1][]string
	appendSQL := func(phase Phase, sql string) {
		sql = strings.TrimSpace(sql)
		sql = strings.TrimSuffix(sql, ";")
		if sql == "" {
			return
		}
		if n := len(phases[phase]); n > 0 && phases[phase][n-1] == sql {
			return
		}
		phases[phase] = append(phases[phase], sql)
	}

	for _, sql := range Preamble(b.settings.Dialect) {
		appendSQL(PhasePre, sql)
	}
	tx := TransactionQueriesFor(b.settings.Dialect)
	if b.settings.InTransaction {
		appendSQL(PhaseBegin, tx.Begin)
	}

	for _, action := range actions {
		_, refresh := toRefresh[action.ID()]
		ctx := PrintContext{
			Settings: b.settings,
			Old:      old,
			New:      new,
			Refresh:  refresh,
			Selected: selectedIDs[action.ID()],
		}
		stmts, err := b.printer.Print(action, ctx)
		if err != nil {
			return "", &PrinterError{Object: action.ID(), Action: action.Action, Err: err}
		}
		for _, stmt := range stmts {
			phase := stmt.Phase
			if stmt.Comment && b.settings.CommentsToEnd {
				phase = PhasePost
			}
			if phase < PhasePre || phase > PhasePost {
				return "", &PrinterError{Object: action.ID(), Action: action.Action, Err: fmt.Errorf("unknown phase %s", phase)}
			}
			appendSQL(phase, stmt.SQL)
		}
	}

	if b.settings.InTransaction {
		appendSQL(PhasePost, tx.Commit)
	}

	var out []string
	for _, stmts := range phases {
		for _, sql := range stmts {
			out = append(out, Terminate(b.settings.Dialect, sql))
		}
	}
	return strings.Join(out, "\n\n") + "\n", nil
}
