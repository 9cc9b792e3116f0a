// Package diff compares two schema trees and flattens the comparison into a list of edits.
package diff

import (
	"github.com/sqldef/schemadiff/schema"
)

// Side tells which of the compared databases contain an object.
type Side int

const (
	SideNone Side = iota
	// SideLeft objects exist only in the old database.
	SideLeft
	// SideRight objects exist only in the new database.
	SideRight
	SideBoth
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "LEFT"
	case SideRight:
		return "RIGHT"
	case SideBoth:
		return "BOTH"
	}
	return "NONE"
}

// Node is one identity of the comparison tree.
type Node struct {
	Kind schema.ObjectKind
	Name string
	ID   schema.StatementID
	Side Side
	// Changed is set on BOTH nodes whose own attributes differ.
	Changed bool
	Class   schema.ChangeClass
	// Selected marks the node for scripting when flattening with OnlySelected.
	Selected bool
	Parent   *Node
	Children []*Node
	Old      *schema.Statement
	New      *schema.Statement
	// Pseudo marks column nodes synthesized by the column expansion. They are never
	// part of the tree.
	Pseudo bool
}

// IsEdit reports whether the node itself needs an action.
func (n *Node) IsEdit() bool {
	switch n.Side {
	case SideLeft, SideRight:
		return true
	case SideBoth:
		return n.Changed
	}
	return false
}

// Differs reports whether the node or any descendant needs an action.
func (n *Node) Differs() bool {
	if n.IsEdit() {
		return true
	}
	for _, c := range n.Children {
		if c.Differs() {
			return true
		}
	}
	return false
}

// SetSelected changes the selection of n and, if recursive, of its subtree.
func (n *Node) SetSelected(selected, recursive bool) {
	n.Selected = selected
	if !recursive {
		return
	}
	for _, c := range n.Children {
		c.SetSelected(selected, true)
	}
}

// HasSelectedDescendant reports whether any node below n is selected.
func (n *Node) HasSelectedDescendant() bool {
	for _, c := range n.Children {
		if c.Selected || c.HasSelectedDescendant() {
			return true
		}
	}
	return false
}

// Walk visits the subtree in pre-order. Returning false from f skips the children of a node.
func (n *Node) Walk(f func(*Node) bool) {
	if !f(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(f)
	}
}

func (n *Node) Find(id schema.StatementID) *Node {
	var found *Node
	n.Walk(func(node *Node) bool {
		if found != nil {
			return false
		}
		if node.ID == id && node.Kind != schema.KindDatabase {
			found = node
			return false
		}
		return true
	})
	return found
}

func (n *Node) QualifiedName() string {
	return n.ID.Qualified()
}

// Statement returns the new version of the object if present, else the old one.
func (n *Node) Statement() *schema.Statement {
	if n.New != nil {
		return n.New
	}
	return n.Old
}

// TopLevelName returns the name of the schema that encloses n, or the database name for
// objects outside any schema.
func (n *Node) TopLevelName() string {
	if n.Parent == nil {
		return n.Name
	}
	top := n
	for top.Parent.Parent != nil {
		top = top.Parent
	}
	if top.Kind == schema.KindSchema {
		return top.Name
	}
	return top.Parent.Name
}

func (n *Node) String() string {
	s := n.Side.String() + " " + n.ID.String()
	if n.Changed {
		s += " (" + n.Class.String() + ")"
	}
	return s
}

func displayName(id schema.StatementID) string {
	if id.Sub != "" {
		return id.Sub
	}
	return id.Name
}
