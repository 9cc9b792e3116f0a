// Package testutil runs YAML migration scenarios and simulates scripts on object models.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqldef/schemadiff"
	"github.com/sqldef/schemadiff/database"
	"github.com/sqldef/schemadiff/depgraph"
	"github.com/sqldef/schemadiff/diff"
	"github.com/sqldef/schemadiff/ignorelist"
	"github.com/sqldef/schemadiff/schema"
	"github.com/sqldef/schemadiff/util"
)

type TestCase struct {
	Current    string   // default: empty schema
	Desired    string   // default: empty schema
	Up         *string  // expected script for current → desired
	Down       *string  // expected script for desired → current
	Error      *string  // default: nil
	Refresh    []string // objects expected to be refreshed by the forward migration, e.g. "VIEW public.v"
	Select     []string // qualified names to script; default: everything
	IgnoreList string   `yaml:"ignore_list"`
	Config     struct {
		IgnoreColumnOrder bool   `yaml:"ignore_column_order"`
		DataMovementMode  bool   `yaml:"data_movement_mode"`
		IgnorePrivileges  bool   `yaml:"ignore_privileges"`
		CommentsToEnd     bool   `yaml:"comments_to_end"`
		InTransaction     bool   `yaml:"in_transaction"`
		AllowedKinds      string `yaml:"allowed_kinds"`
	} `yaml:"config"`
}

func init() {
	util.InitSlog()

	// Scenario output is compared verbatim, so only warnings and errors are logged
	// unless LOG_LEVEL asks for more.
	if os.Getenv("LOG_LEVEL") == "" {
		opts := &slog.HandlerOptions{
			Level: slog.LevelWarn,
		}
		handler := slog.NewTextHandler(os.Stderr, opts)
		slog.SetDefault(slog.New(handler))
	}
}

func ReadTests(pattern string) (map[string]TestCase, error) {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}

	ret := map[string]TestCase{}
	// Track which file each test case came from for better error messages
	testFileMap := map[string]string{}

	for _, file := range files {
		var tests map[string]*TestCase

		buf, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}

		dec := yaml.NewDecoder(bytes.NewReader(buf), yaml.DisallowUnknownField())
		err = dec.Decode(&tests)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}

		for name, test := range tests {
			// Validate up/down dependency: both must be present or both must be absent
			if (test.Up != nil && test.Down == nil) || (test.Up == nil && test.Down != nil) {
				return nil, fmt.Errorf(`%s: test case '%s': if 'up' is specified, 'down' must also be specified (and vice versa).
For round-trip-only tests, omit both 'up' and 'down'.`, file, name)
			}
			if existingFile, ok := testFileMap[name]; ok {
				return nil, fmt.Errorf("duplicate test case name '%s': defined in both '%s' and '%s'", name, existingFile, file)
			}
			testFileMap[name] = file
			ret[name] = *test
		}
	}

	return ret, nil
}

// Options turns the scenario configuration into pipeline options.
func Options(test TestCase, dialect schema.Dialect) (schemadiff.Options, error) {
	settings := schema.Settings{
		Dialect:           dialect,
		IgnoreColumnOrder: test.Config.IgnoreColumnOrder,
		DataMovementMode:  test.Config.DataMovementMode,
		IgnorePrivileges:  test.Config.IgnorePrivileges,
		CommentsToEnd:     test.Config.CommentsToEnd,
		InTransaction:     test.Config.InTransaction,
	}
	if test.Config.AllowedKinds != "" {
		kinds, err := database.ParseKinds(test.Config.AllowedKinds)
		if err != nil {
			return schemadiff.Options{}, err
		}
		settings.AllowedKinds = kinds
	}
	opts := schemadiff.Options{Settings: settings}

	if test.IgnoreList != "" {
		list, err := ignorelist.ParseString(test.IgnoreList)
		if err != nil {
			return schemadiff.Options{}, err
		}
		opts.IgnoreList = list
	}
	if len(test.Select) > 0 {
		opts.Selection = func(n *diff.Node) bool {
			for ; n != nil; n = n.Parent {
				if slices.Contains(test.Select, n.QualifiedName()) {
					return true
				}
			}
			return false
		}
	}
	return opts, nil
}

func load(name string, sql string, dialect schema.Dialect, parser database.Parser) (*schema.Database, error) {
	files := []database.File{{Name: name + ".sql", SQL: sql}}
	return database.LoadFiles(context.Background(), name, dialect, parser, files, 0)
}

// RunTest checks a scenario in four phases: the forward script, a round trip through
// the model simulator, idempotency of the desired schema and the reverse script.
func RunTest(t *testing.T, test TestCase, dialect schema.Dialect, parser database.Parser) {
	t.Helper()

	opts, err := Options(test, dialect)
	require.NoError(t, err)

	current, err := load("current", test.Current, dialect, parser)
	if err == nil {
		var desired *schema.Database
		desired, err = load("desired", test.Desired, dialect, parser)
		if err == nil {
			err = runPhases(t, test, opts, current, desired)
		}
	}

	if test.Error != nil {
		if err == nil {
			t.Errorf("expected error: %s, but got no error", *test.Error)
		} else if err.Error() != *test.Error {
			t.Errorf("expected error: %s, but got: %s", *test.Error, err.Error())
		}
		return
	}
	if err != nil {
		t.Fatal(err)
	}
}

func runPhases(t *testing.T, test TestCase, opts schemadiff.Options, current, desired *schema.Database) error {
	t.Helper()

	// PHASE 1: Test forward migration (current → desired) should produce Up
	plan, err := schemadiff.Resolve(current, desired, opts)
	if err != nil {
		return err
	}
	up, _, err := schemadiff.GenerateScript(current, desired, opts)
	if err != nil {
		return err
	}
	if test.Up != nil {
		assert.Equal(t, strings.TrimSpace(*test.Up), strings.TrimSpace(up), "[Phase 1: Forward Migration] current → desired should produce 'up' script")
	}
	if test.Refresh != nil {
		var refreshed []string
		for id := range plan.Result.ToRefresh {
			refreshed = append(refreshed, id.String())
		}
		assert.ElementsMatch(t, test.Refresh, refreshed, "[Phase 1: Forward Migration] refreshed objects")
	}

	// PHASE 2: Applying the actions to current must reach desired
	if len(test.Select) == 0 && opts.IgnoreList == nil && len(opts.Settings.AllowedKinds) == 0 {
		simulated, err := Simulate(current, desired, plan.Result.Actions, plan.Result.ToRefresh)
		require.NoError(t, err, "[Phase 2: Round Trip] failed to simulate the script")
		if remaining := Edits(simulated, desired, opts.Settings); len(remaining) > 0 {
			t.Errorf("[Phase 2: Round Trip] simulated script leaves differences:\n%s", strings.Join(remaining, "\n"))
		}
	}

	// PHASE 3: Test idempotency of desired schema
	again, _, err := schemadiff.GenerateScript(desired, desired.Clone(), opts)
	if err != nil {
		return err
	}
	if again != "" {
		t.Errorf("[Phase 3: Idempotency Check] desired → desired should produce no script, but got:\n```\n%s```", again)
	}

	// PHASE 4: Test reverse migration (desired → current) should produce Down
	down, _, err := schemadiff.GenerateScript(desired, current, opts)
	if err != nil {
		return err
	}
	if test.Down != nil {
		assert.Equal(t, strings.TrimSpace(*test.Down), strings.TrimSpace(down), "[Phase 4: Reverse Migration] desired → current should produce 'down' script")
	}
	return nil
}

// Edits lists the objects that still differ between two models.
func Edits(old, new *schema.Database, settings schema.Settings) []string {
	nodes, _ := diff.Flatten(diff.Build(old, new, settings), diff.FlattenOptions{})
	edits := make([]string, 0, len(nodes))
	for _, n := range nodes {
		edits = append(edits, n.Side.String()+" "+n.ID.String())
	}
	return edits
}

// Simulate applies actions to a copy of old. Creates and alters take the version
// found in new, so a complete script turns old into new. Like a server, it rejects a
// create whose dependencies do not exist yet and a drop that leaves dependents behind.
// Objects in toRefresh are exempt: breaking a cycle recreates them around a dependency
// that is briefly missing.
func Simulate(old, new *schema.Database, actions []depgraph.ActionContainer, toRefresh map[schema.StatementID]struct{}) (*schema.Database, error) {
	sim := old.Clone()
	s := simulator{sim: sim, old: old, new: new, toRefresh: toRefresh}
	for i, action := range actions {
		id := action.ID()
		switch action.Action {
		case depgraph.ActionDrop:
			removed := s.subtree(id)
			if !sim.Remove(id) && !coveredByDrop(old, sim, action.Object.Old) {
				return nil, fmt.Errorf("%s: %s does not exist", action, id)
			}
			if err := s.orphans(removed); err != nil {
				return nil, fmt.Errorf("%s: %w", action, err)
			}
		case depgraph.ActionCreate:
			created, err := create(sim, new, action.Statement())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", action, err)
			}
			if err := s.missing(created, actions[i+1:]); err != nil {
				return nil, fmt.Errorf("%s: %w", action, err)
			}
		case depgraph.ActionAlter:
			stmt, ok := sim.Lookup(id)
			if !ok {
				return nil, fmt.Errorf("%s: %s does not exist", action, id)
			}
			next := action.Statement().Detached()
			stmt.Definition = next.Definition
			stmt.Attrs = next.Attrs
			stmt.Owner = next.Owner
			stmt.Comment = next.Comment
			stmt.Privileges = slices.Clone(next.Privileges)
			stmt.Deps = next.Deps
		}
	}
	return sim, nil
}

type simulator struct {
	sim, old, new *schema.Database
	toRefresh     map[schema.StatementID]struct{}
}

// known reports whether id names an object of either model. References to anything
// else point outside the compared databases and are not checked.
func (s simulator) known(id schema.StatementID) bool {
	return s.old.Contains(id) || s.new.Contains(id)
}

func (s simulator) refreshed(id schema.StatementID) bool {
	_, ok := s.toRefresh[id]
	return ok
}

// subtree lists id and everything below it in the simulated model.
func (s simulator) subtree(id schema.StatementID) map[schema.StatementID]bool {
	stmt, ok := s.sim.Lookup(id)
	if !ok {
		return nil
	}
	ids := map[schema.StatementID]bool{id: true}
	for d := range s.sim.Descendants(stmt) {
		ids[d.ID] = true
	}
	return ids
}

// orphans fails when a remaining object still depends on a removed one.
func (s simulator) orphans(removed map[schema.StatementID]bool) error {
	if len(removed) == 0 {
		return nil
	}
	for stmt := range s.sim.All() {
		if s.refreshed(stmt.ID) {
			continue
		}
		for _, dep := range stmt.Deps {
			if removed[dep.ID()] {
				return fmt.Errorf("%s still depends on %s", stmt.ID, dep.ID())
			}
		}
	}
	return nil
}

// missing fails when a created object depends on something that does not exist yet.
// A refreshed object may wait for a dependency that a later action creates.
func (s simulator) missing(created []*schema.Statement, rest []depgraph.ActionContainer) error {
	for _, stmt := range created {
		for _, dep := range stmt.Deps {
			id := dep.ID()
			if !s.known(id) || s.sim.Contains(id) {
				continue
			}
			if s.refreshed(stmt.ID) && createdLater(id, rest) {
				continue
			}
			return fmt.Errorf("%s depends on %s, which does not exist yet", stmt.ID, id)
		}
	}
	return nil
}

func createdLater(id schema.StatementID, actions []depgraph.ActionContainer) bool {
	for _, action := range actions {
		if action.Action == depgraph.ActionCreate && action.ID() == id {
			return true
		}
	}
	return false
}

// coveredByDrop reports whether stmt went away with a container dropped earlier.
func coveredByDrop(old, sim *schema.Database, stmt *schema.Statement) bool {
	if stmt == nil {
		return false
	}
	for ancestor := range old.Ancestors(stmt) {
		if !sim.Contains(ancestor.ID) {
			return true
		}
	}
	return false
}

// create adds stmt and the children created along with it, and returns what it added.
func create(sim, source *schema.Database, stmt *schema.Statement) ([]*schema.Statement, error) {
	twin, ok := source.Twin(stmt)
	if !ok {
		return nil, fmt.Errorf("%s is not part of %s", stmt.ID, source.Name)
	}
	stmt = twin
	parent := schema.NoHandle
	if p := source.Parent(stmt); p != nil {
		container, ok := sim.Lookup(p.ID)
		if !ok {
			return nil, fmt.Errorf("container %s does not exist", p.ID)
		}
		parent = container.Handle()
	}
	h, err := sim.Add(parent, stmt.Detached())
	if err != nil {
		return nil, err
	}
	created := []*schema.Statement{sim.Get(h)}
	for _, child := range source.Children(stmt) {
		if !child.Kind().InlineInParent() {
			continue
		}
		ch, err := sim.Add(h, child.Detached())
		if err != nil {
			return nil, err
		}
		created = append(created, sim.Get(ch))
	}
	return created, nil
}
