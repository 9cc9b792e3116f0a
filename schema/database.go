package schema

import (
	"fmt"
	"iter"
)

// Database owns one statement tree. Statements are stored in an arena and addressed
// by Handle; containment is parent→children handles, never pointers between
// statements. A Database is read-only once its loader has returned it.
type Database struct {
	Name    string
	Dialect Dialect

	stmts    []*Statement
	byID     map[StatementID]Handle
	topLevel []Handle
}

func NewDatabase(name string, dialect Dialect) *Database {
	return &Database{
		Name:    name,
		Dialect: dialect,
		byID:    map[StatementID]Handle{},
	}
}

// Add inserts stmt under parent (NoHandle for top-level statements) and returns its handle.
func (d *Database) Add(parent Handle, stmt *Statement) (Handle, error) {
	if stmt == nil {
		return NoHandle, fmt.Errorf("cannot add nil statement to %s", d.Name)
	}
	if _, ok := d.byID[stmt.ID]; ok {
		return NoHandle, fmt.Errorf("duplicate object %s in %s", stmt.ID, d.Name)
	}

	parentKind := KindDatabase
	if parent != NoHandle {
		p := d.Get(parent)
		if p == nil {
			return NoHandle, fmt.Errorf("unknown parent handle %d for %s", parent, stmt.ID)
		}
		parentKind = p.Kind()
	}
	if !parentKind.CanContain(stmt.Kind()) {
		return NoHandle, fmt.Errorf("%s cannot be a child of %s", stmt.ID, parentKind)
	}

	h := Handle(len(d.stmts))
	stmt.handle = h
	stmt.parent = parent
	stmt.children = nil
	d.stmts = append(d.stmts, stmt)
	d.byID[stmt.ID] = h
	if parent == NoHandle {
		d.topLevel = append(d.topLevel, h)
	} else {
		p := d.stmts[parent]
		p.children = append(p.children, h)
	}
	return h, nil
}

// MustAdd is Add for fixtures and tests.
func (d *Database) MustAdd(parent Handle, stmt *Statement) Handle {
	h, err := d.Add(parent, stmt)
	if err != nil {
		panic(err)
	}
	return h
}

func (d *Database) Get(h Handle) *Statement {
	if h < 0 || int(h) >= len(d.stmts) {
		return nil
	}
	return d.stmts[h]
}

func (d *Database) Lookup(id StatementID) (*Statement, bool) {
	h, ok := d.byID[id]
	if !ok {
		return nil, false
	}
	return d.stmts[h], true
}

func (d *Database) Contains(id StatementID) bool {
	_, ok := d.byID[id]
	return ok
}

// Twin returns the statement with the same identity as stmt in this database.
func (d *Database) Twin(stmt *Statement) (*Statement, bool) {
	if stmt == nil {
		return nil, false
	}
	return d.Lookup(stmt.ID)
}

// Parent returns the containing statement, or nil for top-level statements.
func (d *Database) Parent(stmt *Statement) *Statement {
	if stmt.parent == NoHandle {
		return nil
	}
	return d.Get(stmt.parent)
}

// Children returns the owned statements in declaration order.
func (d *Database) Children(stmt *Statement) []*Statement {
	var handles []Handle
	if stmt == nil {
		handles = d.topLevel
	} else {
		handles = stmt.children
	}
	children := make([]*Statement, 0, len(handles))
	for _, h := range handles {
		children = append(children, d.stmts[h])
	}
	return children
}

// TopLevel returns the statements owned directly by the database root.
func (d *Database) TopLevel() []*Statement {
	return d.Children(nil)
}

// Descendants yields every statement below stmt, depth-first in declaration order.
func (d *Database) Descendants(stmt *Statement) iter.Seq[*Statement] {
	return func(yield func(*Statement) bool) {
		var walk func(s *Statement) bool
		walk = func(s *Statement) bool {
			for _, h := range s.children {
				child := d.stmts[h]
				if !yield(child) || !walk(child) {
					return false
				}
			}
			return true
		}
		walk(stmt)
	}
}

// Ancestors yields the containers of stmt from the nearest outwards.
func (d *Database) Ancestors(stmt *Statement) iter.Seq[*Statement] {
	return func(yield func(*Statement) bool) {
		for p := d.Parent(stmt); p != nil; p = d.Parent(p) {
			if !yield(p) {
				return
			}
		}
	}
}

// IsDescendant reports whether stmt lies in the subtree of ancestor.
func (d *Database) IsDescendant(stmt, ancestor *Statement) bool {
	for p := range d.Ancestors(stmt) {
		if p.handle == ancestor.handle {
			return true
		}
	}
	return false
}

// TopLevelName returns the name of the top-level container of stmt (usually its schema).
func (d *Database) TopLevelName(stmt *Statement) string {
	top := stmt
	for p := range d.Ancestors(stmt) {
		top = p
	}
	if top.ID.Schema != "" && top.Kind() != KindSchema {
		return top.ID.Schema
	}
	return top.ID.Name
}

// All yields every statement in arena order, which is load order.
func (d *Database) All() iter.Seq[*Statement] {
	return func(yield func(*Statement) bool) {
		for _, s := range d.stmts {
			if h, ok := d.byID[s.ID]; !ok || h != s.handle {
				continue // removed
			}
			if !yield(s) {
				return
			}
		}
	}
}

func (d *Database) Len() int {
	return len(d.byID)
}

// Clone returns a deep copy whose statements can be changed without affecting d.
func (d *Database) Clone() *Database {
	c := NewDatabase(d.Name, d.Dialect)
	var copyTree func(parent Handle, stmts []*Statement)
	copyTree = func(parent Handle, stmts []*Statement) {
		for _, s := range stmts {
			h := c.MustAdd(parent, s.clone())
			copyTree(h, d.Children(s))
		}
	}
	copyTree(NoHandle, d.TopLevel())
	return c
}

// Remove detaches the statement and its subtree. Handles of other statements stay valid.
// Only meant for working copies such as the ones produced by Clone.
func (d *Database) Remove(id StatementID) bool {
	h, ok := d.byID[id]
	if !ok {
		return false
	}
	stmt := d.stmts[h]
	for s := range d.Descendants(stmt) {
		delete(d.byID, s.ID)
	}
	delete(d.byID, id)

	if stmt.parent == NoHandle {
		d.topLevel = removeHandle(d.topLevel, h)
	} else {
		p := d.stmts[stmt.parent]
		p.children = removeHandle(p.children, h)
	}
	return true
}

func removeHandle(handles []Handle, h Handle) []Handle {
	out := handles[:0:0]
	for _, x := range handles {
		if x != h {
			out = append(out, x)
		}
	}
	return out
}
