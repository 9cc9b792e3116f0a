package diff

import (
	"slices"

	"github.com/sqldef/schemadiff/depgraph"
	"github.com/sqldef/schemadiff/ignorelist"
	"github.com/sqldef/schemadiff/schema"
)

type FlattenOptions struct {
	OnlySelected bool
	IgnoreList   *ignorelist.List
	AllowedKinds schema.KindSet
	// ExpandColumns emits changed columns of changed tables as Pseudo nodes right after
	// their table. Kept for output compatibility with older consumers.
	ExpandColumns bool
}

// Flatten lists the edits of the tree depth-first. Children of LEFT and RIGHT nodes are
// covered by their parent and never listed.
func Flatten(root *Node, opts FlattenOptions) ([]*Node, []schema.Diagnostic) {
	f := &flattener{
		opts:           opts,
		defaultVisible: opts.IgnoreList.DefaultVisible(),
	}
	if opts.IgnoreList != nil {
		f.diagnostics = slices.Clone(opts.IgnoreList.Diagnostics)
	}
	for _, c := range root.Children {
		f.visit(c, false, false)
	}
	return f.out, f.diagnostics
}

type flattener struct {
	opts           FlattenOptions
	defaultVisible bool
	out            []*Node
	diagnostics    []schema.Diagnostic
}

// visibility is the ignore-list verdict for one node, with what it forces on its children.
type visibility struct {
	visible     bool
	whitelisted bool
	childShow   bool
	childHide   bool
}

func (f *flattener) evaluate(n *Node, forceShow, forceHide bool) visibility {
	v := f.opts.IgnoreList.Evaluate(target(n))

	visible := f.defaultVisible
	switch {
	case v.Shown:
		visible = true
	case v.Hidden:
		visible = false
	case forceShow:
		visible = true
	case forceHide:
		visible = false
	}
	return visibility{
		visible:     visible,
		whitelisted: v.Shown,
		childShow:   v.ShowContent || (forceShow && !v.HideContent),
		childHide:   v.HideContent || (forceHide && !v.ShowContent),
	}
}

// visit appends the visible edits of the subtree and reports whether a whitelist rule
// matched n or one of its descendants.
func (f *flattener) visit(n *Node, forceShow, forceHide bool) bool {
	vis := f.evaluate(n, forceShow, forceHide)
	pos := len(f.out)
	whitelisted := vis.whitelisted

	// expanded columns are judged like regular children but listed as copies right
	// after their table
	expand := f.opts.ExpandColumns && n.Kind == schema.KindTable && n.Side == SideBoth && n.Differs()
	var pseudo []*Node
	if n.Side == SideBoth {
		for _, c := range n.Children {
			if expand && c.Kind == schema.KindColumn {
				cv := f.evaluate(c, vis.childShow, vis.childHide)
				if cv.whitelisted {
					whitelisted = true
				}
				if (cv.visible || cv.whitelisted) && f.emitsPseudo(n, c) {
					pseudo = append(pseudo, pseudoColumn(n, c))
				}
				continue
			}
			if f.visit(c, vis.childShow, vis.childHide) {
				whitelisted = true
			}
		}
	}

	var emit []*Node
	if (vis.visible || whitelisted) && f.emits(n) {
		emit = append(emit, n)
	}
	emit = append(emit, pseudo...)
	f.out = slices.Insert(f.out, pos, emit...)
	return whitelisted
}

func (f *flattener) emits(n *Node) bool {
	if !n.IsEdit() || !f.opts.AllowedKinds.Allows(n.Kind) {
		return false
	}
	return !f.opts.OnlySelected || n.Selected || n.HasSelectedDescendant()
}

func (f *flattener) emitsPseudo(table, column *Node) bool {
	if !column.IsEdit() || !f.opts.AllowedKinds.Allows(schema.KindColumn) {
		return false
	}
	return !f.opts.OnlySelected || column.Selected || table.Selected
}

func target(n *Node) ignorelist.Target {
	return ignorelist.Target{
		Kind:      n.Kind,
		Name:      n.Name,
		Qualified: n.QualifiedName(),
		DB:        n.TopLevelName(),
	}
}

// pseudoColumn copies a differing column of table. The copy is selected when the
// column or its table is.
func pseudoColumn(table, c *Node) *Node {
	return &Node{
		Kind:     c.Kind,
		Name:     c.Name,
		ID:       c.ID,
		Side:     c.Side,
		Changed:  c.Changed,
		Class:    c.Class,
		Selected: c.Selected || table.Selected,
		Parent:   table,
		Old:      c.Old,
		New:      c.New,
		Pseudo:   true,
	}
}

// DbObjects converts flattened nodes into the resolver's selection. With onlySelected,
// a changed container listed only because something below it is selected stays out:
// its own changes were not picked.
func DbObjects(nodes []*Node, onlySelected bool) []depgraph.DbObject {
	objects := make([]depgraph.DbObject, 0, len(nodes))
	for _, n := range nodes {
		if onlySelected && !n.Selected && n.Side == SideBoth {
			continue
		}
		objects = append(objects, depgraph.DbObject{Old: n.Old, New: n.New})
	}
	return objects
}
