package depgraph

import (
	"cmp"
	"log/slog"
	"slices"

	"github.com/sqldef/schemadiff/schema"
)

// orderStride separates the action kinds in vertex order so that, among ready actions,
// drops go before alters and alters before creates.
const orderStride = 1 << 20

type actionKey struct {
	action Action
	id     schema.StatementID
}

func (k actionKey) String() string {
	return k.action.String() + " " + k.id.String()
}

type plannedAction struct {
	ActionContainer
	key   actionKey
	seq   int
	class schema.ChangeClass
	// explicit drops stay in the script even when an ancestor is dropped too.
	explicit bool
}

type resolver struct {
	old, new *schema.Database
	settings schema.Settings
	oldDeps  *dependencies
	newDeps  *dependencies

	planned   map[actionKey]*plannedAction
	seq       int
	worklist  []actionKey
	toRefresh map[schema.StatementID]struct{}
	cascaded  map[schema.StatementID]struct{}
	// stateful records the cause of each refreshed object that holds data.
	stateful map[schema.StatementID]actionKey
	// causes records, per dependent, the actions that made it drop or refresh.
	causes map[schema.StatementID][]actionKey
	broken map[[2]actionKey]bool
}

// Resolve plans the actions that migrate the selected objects from old to new, together
// with every dependent object they force to be dropped or refreshed, and orders them so
// that nothing is dropped while something still depends on it and nothing is created
// before its dependencies. The input databases are not modified.
func Resolve(old, new *schema.Database, extraOld, extraNew []Edge, selected []DbObject, settings schema.Settings) (*Result, error) {
	r := &resolver{
		old:       old,
		new:       new,
		settings:  settings,
		oldDeps:   newDependencies(old, new, extraOld),
		newDeps:   newDependencies(new, old, extraNew),
		planned:   map[actionKey]*plannedAction{},
		toRefresh: map[schema.StatementID]struct{}{},
		cascaded:  map[schema.StatementID]struct{}{},
		stateful:  map[schema.StatementID]actionKey{},
		causes:    map[schema.StatementID][]actionKey{},
		broken:    map[[2]actionKey]bool{},
	}

	for _, obj := range selected {
		r.seed(obj)
	}
	r.closure()
	r.prune()
	if err := r.validate(); err != nil {
		return nil, err
	}
	order, err := r.order()
	if err != nil {
		return nil, err
	}

	result := &Result{ToRefresh: r.toRefresh, Cascaded: r.cascaded}
	for _, k := range order {
		result.Actions = append(result.Actions, r.planned[k].ActionContainer)
		if cause, ok := r.stateful[k.id]; ok && k.action == ActionDrop && result.Refreshed(k.id) {
			result.Diagnostics = append(result.Diagnostics, schema.Diagnostic{
				Object: k.id.String(),
				Reason: "dropped and recreated because of " + cause.String() + "; its data is lost",
			})
		}
	}
	slog.Debug("Resolved actions", "selected", len(selected), "actions", len(result.Actions), "refreshed", len(r.toRefresh))
	return result, nil
}

func (r *resolver) seed(obj DbObject) {
	switch {
	case obj.Old == nil && obj.New == nil:
		return
	case obj.Old == nil:
		r.create(obj.New, r.new, obj, false)
	case obj.New == nil:
		r.drop(obj.Old, false)
	default:
		class := schema.Classify(r.old, r.new, obj.Old, obj.New, r.settings)
		switch class {
		case schema.AlterInPlace, schema.AlterWithRefresh:
			p := r.add(ActionAlter, obj, false)
			p.class = class
			if class == schema.AlterWithRefresh {
				r.worklist = append(r.worklist, p.key)
			}
		case schema.Recreate:
			r.drop(obj.Old, false)
			r.create(obj.New, r.new, obj, false)
		}
	}
}

func (r *resolver) add(action Action, obj DbObject, refresh bool) *plannedAction {
	k := actionKey{action: action, id: obj.ID()}
	if p, ok := r.planned[k]; ok {
		return p
	}
	p := &plannedAction{
		ActionContainer: ActionContainer{Action: action, Object: obj, NeedsRefresh: refresh},
		key:             k,
		seq:             r.seq,
	}
	r.seq++
	r.planned[k] = p
	return p
}

func (r *resolver) get(action Action, id schema.StatementID) *plannedAction {
	return r.planned[actionKey{action: action, id: id}]
}

func (r *resolver) drop(stmt *schema.Statement, refresh bool) *plannedAction {
	if p := r.get(ActionDrop, stmt.ID); p != nil {
		return p
	}
	p := r.add(ActionDrop, DbObject{Old: stmt}, refresh)
	r.worklist = append(r.worklist, p.key)
	return p
}

// create plans stmt and its non-inline descendants in db. Inline descendants are part
// of the statement itself.
func (r *resolver) create(stmt *schema.Statement, db *schema.Database, obj DbObject, refresh bool) {
	r.add(ActionCreate, obj, refresh)
	for d := range db.Descendants(stmt) {
		if d.Kind().InlineInParent() {
			continue
		}
		child := DbObject{New: d}
		if db == r.old {
			child.Old = d
		}
		r.add(ActionCreate, child, refresh)
	}
}

// closure walks the old dependents of every dropped object and every alter that
// needs its dependents refreshed.
func (r *resolver) closure() {
	for len(r.worklist) > 0 {
		k := r.worklist[0]
		r.worklist = r.worklist[1:]
		cause, ok := r.planned[k]
		if !ok {
			continue
		}

		stmt := cause.Object.Old
		sources := []*schema.Statement{stmt}
		if k.action == ActionDrop {
			for d := range r.old.Descendants(stmt) {
				sources = append(sources, d)
			}
		} else if stmt.Kind() == schema.KindColumn {
			// objects using the whole table see the new column type as well
			if table := r.old.Parent(stmt); table != nil {
				sources = append(sources, table)
			}
		}

		for _, src := range sources {
			for _, dependent := range r.oldDeps.dependents[src.ID] {
				r.affect(dependent, src.ID, cause)
			}
		}
	}
}

func (r *resolver) affect(id, dependency schema.StatementID, cause *plannedAction) {
	stmt, ok := r.old.Lookup(id)
	if !ok {
		return
	}
	causeStmt := cause.Object.Old
	if id == causeStmt.ID || r.old.IsDescendant(stmt, causeStmt) || r.droppedAncestor(stmt) != nil {
		return
	}
	if !slices.Contains(r.causes[id], cause.key) {
		r.causes[id] = append(r.causes[id], cause.key)
	}
	if r.get(ActionDrop, id) != nil {
		return
	}

	if alter := r.get(ActionAlter, id); alter != nil {
		if !r.newDeps.dependsOn(id, dependency) {
			slog.Debug("Dependent releases changed object", "object", id.String(), "dependency", dependency.String())
			return
		}
		delete(r.planned, alter.key)
		r.refresh(stmt, alter.Object.New, r.new, cause, false)
		return
	}

	if _, ok := r.new.Twin(stmt); ok {
		r.refresh(stmt, stmt, r.old, cause, true)
		return
	}

	r.drop(stmt, false)
	r.cascaded[id] = struct{}{}
	slog.Debug("Dropping dependent that is gone from the new schema", "object", id.String(), "cause", cause.key.String())
}

// refresh drops old and creates create in its place. Unselected objects are recreated
// from their old definition and reported in ToRefresh.
func (r *resolver) refresh(old, create *schema.Statement, db *schema.Database, cause *plannedAction, unselected bool) {
	r.drop(old, unselected)
	r.create(create, db, DbObject{Old: old, New: create}, unselected)
	if !unselected {
		return
	}
	r.toRefresh[old.ID] = struct{}{}
	if old.Kind().Stateful() {
		r.stateful[old.ID] = cause.key
		slog.Warn("Refreshing an object that holds state", "object", old.ID.String(), "cause", cause.key.String())
	}
	slog.Debug("Refreshing dependent", "object", old.ID.String(), "cause", cause.key.String())
}

// droppedAncestor returns the drop of the nearest dropped container of stmt in old.
func (r *resolver) droppedAncestor(stmt *schema.Statement) *plannedAction {
	for a := range r.old.Ancestors(stmt) {
		if p := r.get(ActionDrop, a.ID); p != nil {
			return p
		}
	}
	return nil
}

func (r *resolver) implicit(p *plannedAction) bool {
	return p.key.action == ActionDrop && !p.explicit && r.droppedAncestor(p.Object.Old) != nil
}

func (r *resolver) sorted() []*plannedAction {
	actions := make([]*plannedAction, 0, len(r.planned))
	for _, p := range r.planned {
		actions = append(actions, p)
	}
	slices.SortFunc(actions, func(a, b *plannedAction) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return actions
}

// active returns the actions that appear in the script, in planning order.
func (r *resolver) active() []*plannedAction {
	var actions []*plannedAction
	for _, p := range r.sorted() {
		if !r.implicit(p) {
			actions = append(actions, p)
		}
	}
	return actions
}

// dbOf tells which database stmt belongs to.
func (r *resolver) dbOf(stmt *schema.Statement) *schema.Database {
	if s, ok := r.new.Lookup(stmt.ID); ok && s == stmt {
		return r.new
	}
	return r.old
}

func (r *resolver) depsOf(stmt *schema.Statement) []schema.StatementID {
	if r.dbOf(stmt) == r.new {
		return r.newDeps.deps[stmt.ID]
	}
	return r.oldDeps.deps[stmt.ID]
}

// prune removes actions covered by the action of a container: alters and drops inside a
// dropped subtree, creates of inline objects whose container is created.
func (r *resolver) prune() {
	for _, p := range r.sorted() {
		if _, ok := r.planned[p.key]; !ok {
			continue
		}
		switch p.key.action {
		case ActionDrop:
			ancestor := r.droppedAncestor(p.Object.Old)
			if ancestor == nil || !p.NeedsRefresh || r.get(ActionCreate, ancestor.key.id) != nil {
				continue
			}
			// the container is gone for good, so there is nothing to refresh
			delete(r.planned, actionKey{action: ActionCreate, id: p.key.id})
			for d := range r.old.Descendants(p.Object.Old) {
				delete(r.planned, actionKey{action: ActionCreate, id: d.ID})
			}
			delete(r.toRefresh, p.key.id)
		case ActionAlter:
			if r.droppedAncestor(p.Object.Old) != nil {
				delete(r.planned, p.key)
			}
		case ActionCreate:
			stmt := p.Statement()
			if !stmt.Kind().InlineInParent() {
				continue
			}
			if parent := r.dbOf(stmt).Parent(stmt); parent != nil && r.get(ActionCreate, parent.ID) != nil {
				delete(r.planned, p.key)
			}
		}
	}
}

// validate checks that everything a created or altered object depends on exists once
// the script has run.
func (r *resolver) validate() error {
	for _, p := range r.sorted() {
		if p.key.action == ActionDrop {
			continue
		}
		stmt := p.Statement()
		for _, dep := range r.depsOf(stmt) {
			if !r.existsAfter(dep) {
				return &UnresolvedDependencyError{Object: stmt.ID, Missing: dep, Location: stmt.Location}
			}
		}
	}
	return nil
}

func (r *resolver) existsAfter(id schema.StatementID) bool {
	if r.createOwner(id) != nil {
		return true
	}
	stmt, ok := r.old.Lookup(id)
	if !ok {
		return false
	}
	return r.get(ActionDrop, id) == nil && r.droppedAncestor(stmt) == nil
}

// dropOwner returns the script action that drops id: its own drop or the drop of the
// nearest container that takes it along.
func (r *resolver) dropOwner(id schema.StatementID) *plannedAction {
	stmt, ok := r.old.Lookup(id)
	if !ok {
		return nil
	}
	for s := stmt; s != nil; s = r.old.Parent(s) {
		if p := r.get(ActionDrop, s.ID); p != nil && !r.implicit(p) {
			return p
		}
	}
	return nil
}

// createOwner returns the create of id or of the nearest created container of id.
func (r *resolver) createOwner(id schema.StatementID) *plannedAction {
	if stmt, ok := r.new.Lookup(id); ok {
		for s := stmt; s != nil; s = r.new.Parent(s) {
			if p := r.get(ActionCreate, s.ID); p != nil {
				return p
			}
		}
		return nil
	}
	stmt, ok := r.old.Lookup(id)
	if !ok {
		return r.get(ActionCreate, id)
	}
	// an object gone from the new schema only comes back with a refresh of its container
	for s := stmt; s != nil; s = r.old.Parent(s) {
		if p := r.get(ActionCreate, s.ID); p != nil && r.dbOf(p.Statement()) == r.old {
			return p
		}
	}
	return nil
}

func (r *resolver) refreshingAlter(id schema.StatementID) *plannedAction {
	if p := r.get(ActionAlter, id); p != nil && p.class == schema.AlterWithRefresh {
		return p
	}
	return nil
}

// refreshingAlters returns the alters of id, or of the columns of id, that refresh
// their dependents.
func (r *resolver) refreshingAlters(id schema.StatementID) []*plannedAction {
	var alters []*plannedAction
	if p := r.refreshingAlter(id); p != nil {
		alters = append(alters, p)
	}
	if stmt, ok := r.old.Lookup(id); ok {
		for _, c := range r.old.Children(stmt) {
			if c.Kind() != schema.KindColumn {
				continue
			}
			if p := r.refreshingAlter(c.ID); p != nil {
				alters = append(alters, p)
			}
		}
	}
	return alters
}
