// Package schemadiff compares two object models and produces the DDL script that
// migrates the first into the second.
package schemadiff

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/k0kubun/pp/v3"
	"golang.org/x/sync/errgroup"

	"github.com/sqldef/schemadiff/database"
	"github.com/sqldef/schemadiff/depgraph"
	"github.com/sqldef/schemadiff/diff"
	"github.com/sqldef/schemadiff/ignorelist"
	"github.com/sqldef/schemadiff/printer"
	"github.com/sqldef/schemadiff/schema"
	"github.com/sqldef/schemadiff/script"
)

type Options struct {
	Settings   schema.Settings
	IgnoreList *ignorelist.List
	// Selection picks the nodes to script. Nil scripts every edit.
	Selection func(*diff.Node) bool
	ExtraOld  []depgraph.Edge
	ExtraNew  []depgraph.Edge
	// Printer renders single actions. Nil uses the default printer.
	Printer script.Printer
	// ExpandColumns lists changed columns of changed tables as separate edits.
	ExpandColumns bool
}

// Plan is the resolved migration before rendering.
type Plan struct {
	Root        *diff.Node
	Nodes       []*diff.Node
	Result      *depgraph.Result
	Diagnostics []schema.Diagnostic
}

// Resolve builds the comparison tree, flattens the selected edits and orders the
// actions they need.
func Resolve(old, new *schema.Database, opts Options) (*Plan, error) {
	root := diff.Build(old, new, opts.Settings)
	if opts.Selection != nil {
		root.Walk(func(n *diff.Node) bool {
			n.SetSelected(opts.Selection(n), false)
			return true
		})
	}

	nodes, diagnostics := diff.Flatten(root, diff.FlattenOptions{
		OnlySelected:  opts.Selection != nil,
		IgnoreList:    opts.IgnoreList,
		AllowedKinds:  opts.Settings.AllowedKinds,
		ExpandColumns: opts.ExpandColumns,
	})
	result, err := depgraph.Resolve(old, new, opts.ExtraOld, opts.ExtraNew, diff.DbObjects(nodes, opts.Selection != nil), opts.Settings)
	if err != nil {
		return nil, err
	}
	diagnostics = append(diagnostics, result.Diagnostics...)
	return &Plan{Root: root, Nodes: nodes, Result: result, Diagnostics: diagnostics}, nil
}

// GenerateScript runs the whole pipeline. No script is returned when any stage fails.
func GenerateScript(old, new *schema.Database, opts Options) (string, []schema.Diagnostic, error) {
	plan, err := Resolve(old, new, opts)
	if err != nil {
		return "", nil, err
	}
	sql, err := render(plan, old, new, opts)
	if err != nil {
		return "", plan.Diagnostics, err
	}
	return sql, plan.Diagnostics, nil
}

func render(plan *Plan, old, new *schema.Database, opts Options) (string, error) {
	p := opts.Printer
	if p == nil {
		p = printer.New()
	}
	return script.NewBuilder(p, opts.Settings).Build(plan.Result.Actions, plan.Result.ToRefresh, plan.Nodes, old, new)
}

// RunOptions are the options shared by all commands.
type RunOptions struct {
	Options
	// Overrides patch ownership and privileges of the desired model after loading.
	Overrides []schema.Override
	// PrintActions dumps the resolved actions to stderr.
	PrintActions bool
	// Color highlights the script.
	Color  bool
	Output io.Writer
}

// Main function shared by all commands
func Run(ctx context.Context, current, desired database.Reader, options RunOptions) error {
	var oldDB, newDB *schema.Database
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		oldDB, err = current.Read(egCtx)
		if err != nil {
			return fmt.Errorf("failed to read the current schema: %w", err)
		}
		return nil
	})
	eg.Go(func() (err error) {
		newDB, err = desired.Read(egCtx)
		if err != nil {
			return fmt.Errorf("failed to read the desired schema: %w", err)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	var diagnostics []schema.Diagnostic
	if len(options.Overrides) > 0 {
		d, err := newDB.ApplyOverrides(options.Overrides, options.Settings.IgnoreConcurrentModification)
		diagnostics = append(diagnostics, d...)
		if err != nil {
			report(diagnostics)
			return err
		}
	}

	plan, err := Resolve(oldDB, newDB, options.Options)
	if err != nil {
		report(diagnostics)
		return err
	}
	diagnostics = append(diagnostics, plan.Diagnostics...)
	report(diagnostics)

	if options.PrintActions {
		pp.Fprintln(os.Stderr, plan.Result.Actions)
	}

	out := options.Output
	if out == nil {
		out = os.Stdout
	}
	if len(plan.Result.Actions) == 0 {
		_, err := fmt.Fprintln(out, "-- Nothing is modified --")
		return err
	}

	sql, err := render(plan, oldDB, newDB, options.Options)
	if err != nil {
		return err
	}
	if options.Color {
		return Highlight(out, sql, options.Settings.Dialect)
	}
	_, err = io.WriteString(out, sql)
	return err
}

func report(diagnostics []schema.Diagnostic) {
	for _, d := range diagnostics {
		slog.Warn(d.Reason, "object", d.Object)
	}
}

var lexerNames = map[schema.Dialect]string{
	schema.DialectPostgres: "postgresql",
	schema.DialectMysql:    "mysql",
	schema.DialectMssql:    "tsql",
}

// Highlight writes sql with terminal colors.
func Highlight(w io.Writer, sql string, dialect schema.Dialect) error {
	lexer := lexers.Get(lexerNames[dialect])
	if lexer == nil {
		lexer = lexers.Get("sql")
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get("monokai")
	formatter := formatters.Get("terminal256")
	iterator, err := lexer.Tokenise(nil, sql)
	if err != nil {
		return err
	}
	return formatter.Format(w, style, iterator)
}
