package diff

import (
	"github.com/sqldef/schemadiff/schema"
)

// Build compares old and new by identity, level by level. Objects on one side only become
// LEFT or RIGHT leaves covering their whole subtree. Children follow the declaration order
// of new, then the old-only children in old order.
func Build(old, new *schema.Database, settings schema.Settings) *Node {
	root := &Node{
		Kind: schema.KindDatabase,
		Name: new.Name,
		ID:   schema.StatementID{Name: new.Name, Kind: schema.KindDatabase},
		Side: SideBoth,
	}
	b := builder{old: old, new: new, settings: settings}
	b.children(root, old.TopLevel(), new.TopLevel())
	return root
}

type builder struct {
	old, new *schema.Database
	settings schema.Settings
}

func (b *builder) children(parent *Node, oldStmts, newStmts []*schema.Statement) {
	oldByID := make(map[schema.StatementID]*schema.Statement, len(oldStmts))
	for _, s := range oldStmts {
		oldByID[s.ID] = s
	}
	inNew := make(map[schema.StatementID]bool, len(newStmts))

	for _, n := range newStmts {
		inNew[n.ID] = true
		o, ok := oldByID[n.ID]
		if !ok {
			parent.Children = append(parent.Children, leaf(parent, SideRight, nil, n))
			continue
		}
		node := &Node{
			Kind:   n.Kind(),
			Name:   displayName(n.ID),
			ID:     n.ID,
			Side:   SideBoth,
			Parent: parent,
			Old:    o,
			New:    n,
		}
		node.Class = schema.Classify(b.old, b.new, o, n, b.settings)
		node.Changed = node.Class != schema.Unchanged
		parent.Children = append(parent.Children, node)
		b.children(node, b.old.Children(o), b.new.Children(n))
	}

	for _, o := range oldStmts {
		if !inNew[o.ID] {
			parent.Children = append(parent.Children, leaf(parent, SideLeft, o, nil))
		}
	}
}

func leaf(parent *Node, side Side, old, new *schema.Statement) *Node {
	stmt := new
	if stmt == nil {
		stmt = old
	}
	return &Node{
		Kind:   stmt.Kind(),
		Name:   displayName(stmt.ID),
		ID:     stmt.ID,
		Side:   side,
		Parent: parent,
		Old:    old,
		New:    new,
	}
}
