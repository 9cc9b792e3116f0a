package depgraph

import (
	"log/slog"
	"slices"

	"github.com/sqldef/schemadiff/schema"
)

// edgeMeta explains why one action has to run before another.
type edgeMeta struct {
	dependent  schema.StatementID
	dependency schema.StatementID
	// origin is the statement whose reference produced the edge.
	origin *schema.Statement
	// dependentKey is the action of the dependent side.
	dependentKey actionKey
	// hard edges come from identity or containment and are never broken.
	hard bool
}

type actionGraph struct {
	*Graph[actionKey]
	meta map[[2]actionKey][]edgeMeta
}

// edge orders before ahead of after.
func (g *actionGraph) edge(r *resolver, before, after actionKey, m edgeMeta) {
	pair := [2]actionKey{before, after}
	if before == after || r.broken[pair] {
		return
	}
	if _, ok := g.Vertices[before]; !ok {
		return
	}
	if _, ok := g.Vertices[after]; !ok {
		return
	}
	_ = g.AddDependencies(after, before)
	g.meta[pair] = append(g.meta[pair], m)
}

// pairs returns the edges inside component in a deterministic order.
func (g *actionGraph) pairs(component []actionKey) [][2]actionKey {
	var pairs [][2]actionKey
	for _, after := range component {
		for _, before := range component {
			if _, ok := g.Vertices[after].DependsOn[before]; ok {
				pairs = append(pairs, [2]actionKey{before, after})
			}
		}
	}
	return pairs
}

// order sorts the active actions, breaking dependency cycles first.
func (r *resolver) order() ([]actionKey, error) {
	for {
		g := r.actionGraph()
		components := g.StronglyConnectedComponents()
		if len(components) == 0 {
			return g.TopologicalSort()
		}
		if r.materializeChildDrops(g, components) {
			continue
		}
		if err := r.breakCycle(g, components[0]); err != nil {
			return nil, err
		}
	}
}

func (r *resolver) actionGraph() *actionGraph {
	g := &actionGraph{Graph: NewGraph[actionKey](), meta: map[[2]actionKey][]edgeMeta{}}
	active := r.active()
	for _, p := range active {
		_ = g.AddVertex(p.key, int(p.key.action)*orderStride+p.seq)
	}
	for _, p := range active {
		switch p.key.action {
		case ActionDrop:
			r.dropEdges(g, p)
		case ActionAlter:
			r.releaseEdges(g, p)
			r.readyEdges(g, p)
		case ActionCreate:
			r.readyEdges(g, p)
			r.recreateEdges(g, p)
		}
	}
	return g
}

// dropEdges orders the drop of p before the drops of what p's subtree depends on, and
// before the alters that refresh p.
func (r *resolver) dropEdges(g *actionGraph, p *plannedAction) {
	stmt := p.Object.Old
	members := []*schema.Statement{stmt}
	var collect func(s *schema.Statement)
	collect = func(s *schema.Statement) {
		for _, c := range r.old.Children(s) {
			if d := r.get(ActionDrop, c.ID); d != nil && !r.implicit(d) {
				continue
			}
			members = append(members, c)
			collect(c)
		}
	}
	collect(stmt)

	for _, m := range members {
		for _, dep := range r.oldDeps.deps[m.ID] {
			meta := edgeMeta{dependent: m.ID, dependency: dep, origin: m, dependentKey: p.key}
			if target := r.dropOwner(dep); target != nil {
				g.edge(r, p.key, target.key, meta)
			}
			if alter := r.refreshingAlter(dep); alter != nil {
				g.edge(r, p.key, alter.key, meta)
			}
		}
	}
	if parent := r.old.Parent(stmt); parent != nil {
		if target := r.dropOwner(parent.ID); target != nil {
			g.edge(r, p.key, target.key, edgeMeta{dependent: stmt.ID, dependency: parent.ID, origin: stmt, dependentKey: p.key, hard: true})
		}
	}
	for _, cause := range r.causes[stmt.ID] {
		if cause.action != ActionAlter {
			continue
		}
		g.edge(r, p.key, cause, edgeMeta{dependent: stmt.ID, dependency: cause.id, origin: stmt, dependentKey: p.key})
	}
}

// releaseEdges orders an alter that stops using an object before that object is
// dropped or refreshed.
func (r *resolver) releaseEdges(g *actionGraph, p *plannedAction) {
	id := p.key.id
	for _, dep := range r.oldDeps.deps[id] {
		if r.newDeps.dependsOn(id, dep) {
			continue
		}
		meta := edgeMeta{dependent: id, dependency: dep, origin: p.Object.New, dependentKey: p.key}
		if target := r.dropOwner(dep); target != nil {
			g.edge(r, p.key, target.key, meta)
		}
		for _, alter := range r.refreshingAlters(dep) {
			g.edge(r, p.key, alter.key, meta)
		}
	}
}

// readyEdges orders the creates and alters that p's statement depends on before p.
func (r *resolver) readyEdges(g *actionGraph, p *plannedAction) {
	stmt := p.Statement()
	for _, dep := range r.depsOf(stmt) {
		meta := edgeMeta{dependent: stmt.ID, dependency: dep, origin: stmt, dependentKey: p.key}
		if c := r.createOwner(dep); c != nil {
			g.edge(r, c.key, p.key, meta)
		}
		for _, alter := range r.refreshingAlters(dep) {
			g.edge(r, alter.key, p.key, meta)
		}
		if p.key.action == ActionCreate {
			if alter := r.get(ActionAlter, dep); alter != nil {
				g.edge(r, alter.key, p.key, meta)
			}
		}
	}
	if parent := r.dbOf(stmt).Parent(stmt); parent != nil {
		if c := r.createOwner(parent.ID); c != nil {
			g.edge(r, c.key, p.key, edgeMeta{dependent: stmt.ID, dependency: parent.ID, origin: stmt, dependentKey: p.key, hard: true})
		}
	}
}

// recreateEdges orders a create after the drop of the object it replaces, including an
// object of another kind holding the same relation name.
func (r *resolver) recreateEdges(g *actionGraph, p *plannedAction) {
	id := p.key.id
	hard := edgeMeta{dependent: id, dependency: id, origin: p.Statement(), dependentKey: p.key, hard: true}
	if r.get(ActionDrop, id) != nil {
		if owner := r.dropOwner(id); owner != nil {
			g.edge(r, owner.key, p.key, hard)
		}
	}
	if !id.Kind.SharesRelationNamespace() || id.Sub != "" {
		return
	}
	for _, kind := range []schema.ObjectKind{schema.KindTable, schema.KindView, schema.KindSequence, schema.KindDictionary} {
		if kind == id.Kind {
			continue
		}
		other := schema.StatementID{Schema: id.Schema, Name: id.Name, Kind: kind}
		if r.get(ActionDrop, other) == nil {
			continue
		}
		if owner := r.dropOwner(other); owner != nil {
			g.edge(r, owner.key, p.key, hard)
		}
	}
}

// materializeChildDrops turns the implicit drop of a non-inline child into an explicit
// one when a reference of that child closes a cycle between container drops, such as two
// tables referencing each other through foreign keys.
func (r *resolver) materializeChildDrops(g *actionGraph, components [][]actionKey) bool {
	var children []*schema.Statement
	for _, component := range components {
		for _, pair := range g.pairs(component) {
			for _, m := range g.meta[pair] {
				before := pair[0]
				if before.action != ActionDrop || m.origin == nil || m.origin.ID == before.id {
					continue
				}
				if m.origin.Kind().InlineInParent() || slices.Contains(children, m.origin) {
					continue
				}
				if s, ok := r.old.Lookup(m.origin.ID); !ok || s != m.origin {
					continue
				}
				children = append(children, m.origin)
			}
		}
	}
	slices.SortFunc(children, func(a, b *schema.Statement) int {
		if a.ID.Less(b.ID) {
			return -1
		}
		if b.ID.Less(a.ID) {
			return 1
		}
		return 0
	})

	for _, c := range children {
		p := r.get(ActionDrop, c.ID)
		if p == nil {
			p = r.add(ActionDrop, DbObject{Old: c}, false)
		}
		p.explicit = true
		slog.Debug("Dropping child explicitly to break a cycle", "object", c.ID.String())
	}
	return len(children) > 0
}

// breakCycle removes the edge of component whose dependent is least likely to hold
// state, preferring the lowest identities on ties, and marks the dependent for refresh.
func (r *resolver) breakCycle(g *actionGraph, component []actionKey) error {
	var (
		best     [2]actionKey
		bestMeta *edgeMeta
	)
	better := func(m *edgeMeta) bool {
		if bestMeta == nil {
			return true
		}
		rank, bestRank := m.dependent.Kind.StateRank(), bestMeta.dependent.Kind.StateRank()
		if rank != bestRank {
			return rank < bestRank
		}
		if m.dependent != bestMeta.dependent {
			return m.dependent.Less(bestMeta.dependent)
		}
		return m.dependency.Less(bestMeta.dependency)
	}

	for _, pair := range g.pairs(component) {
		metas := g.meta[pair]
		breakable := len(metas) > 0
		var candidate *edgeMeta
		for i := range metas {
			m := &metas[i]
			if m.hard || m.dependent.Kind.Stateful() {
				breakable = false
				break
			}
			if candidate == nil || m.dependent.Less(candidate.dependent) {
				candidate = m
			}
		}
		if breakable && better(candidate) {
			best, bestMeta = pair, candidate
		}
	}

	if bestMeta == nil {
		err := &UnbreakableCycleError{}
		for _, k := range component {
			err.Members = append(err.Members, r.planned[k].ActionContainer)
		}
		return err
	}

	r.broken[best] = true
	if p := r.planned[bestMeta.dependentKey]; p != nil {
		p.NeedsRefresh = true
	}
	r.toRefresh[bestMeta.dependent] = struct{}{}
	slog.Debug("Breaking dependency cycle",
		"dependent", bestMeta.dependent.String(),
		"dependency", bestMeta.dependency.String(),
		"before", best[0].String(),
		"after", best[1].String(),
	)
	return nil
}
