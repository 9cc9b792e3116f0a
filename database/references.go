package database

import (
	"log/slog"
	"strings"

	"github.com/sqldef/schemadiff/parser"
	"github.com/sqldef/schemadiff/schema"
)

// Relation is the kind parsers use for a name in the relation namespace when they
// cannot tell a table from a view or sequence. ResolveReferences finds the real kind.
const Relation = schema.KindTable

// nameIndex finds objects by identity, falling back to a case-insensitive match.
type nameIndex struct {
	db     *schema.Database
	folded map[schema.StatementID]schema.StatementID
}

func newNameIndex(db *schema.Database) *nameIndex {
	idx := &nameIndex{db: db, folded: map[schema.StatementID]schema.StatementID{}}
	for stmt := range db.All() {
		key := fold(stmt.ID)
		if _, ok := idx.folded[key]; !ok {
			idx.folded[key] = stmt.ID
		}
	}
	return idx
}

func fold(id schema.StatementID) schema.StatementID {
	id.Schema = strings.ToLower(id.Schema)
	id.Name = strings.ToLower(id.Name)
	id.Sub = strings.ToLower(id.Sub)
	return id
}

func (x *nameIndex) find(id schema.StatementID) (schema.StatementID, bool) {
	if x.db.Contains(id) {
		return id, true
	}
	found, ok := x.folded[fold(id)]
	return found, ok
}

// candidateKinds lists the kinds a reference of kind k may turn out to be.
func candidateKinds(k schema.ObjectKind) []schema.ObjectKind {
	switch k {
	case schema.KindTable, schema.KindView, schema.KindSequence, schema.KindDictionary:
		return []schema.ObjectKind{schema.KindTable, schema.KindView, schema.KindSequence, schema.KindDictionary}
	case schema.KindFunction, schema.KindProcedure, schema.KindAggregate:
		return []schema.ObjectKind{schema.KindFunction, schema.KindProcedure, schema.KindAggregate}
	case schema.KindType, schema.KindDomain:
		return []schema.ObjectKind{schema.KindType, schema.KindDomain, schema.KindTable, schema.KindView}
	}
	return []schema.ObjectKind{k}
}

// resolve maps one reference to an object of the model. Column references to
// relations without such a column fall back to the relation unless it is a table,
// where the miss means the name belonged to some other relation.
func (x *nameIndex) resolve(ref schema.ObjectReference, defaultSchema string) (schema.ObjectReference, bool) {
	schemaName := ref.Schema
	if schemaName == "" {
		schemaName = defaultSchema
	}

	if ref.Column != "" {
		for _, kind := range candidateKinds(schema.KindTable) {
			rel, ok := x.find(schema.StatementID{Schema: schemaName, Name: ref.Name, Kind: kind})
			if !ok {
				continue
			}
			if col, ok := x.find(schema.StatementID{Schema: rel.Schema, Name: rel.Name, Sub: ref.Column, Kind: schema.KindColumn}); ok {
				return schema.ObjectReference{Schema: col.Schema, Name: col.Name, Column: col.Sub, Kind: schema.KindColumn}, true
			}
			if kind != schema.KindTable {
				return schema.ObjectReference{Schema: rel.Schema, Name: rel.Name, Kind: rel.Kind}, true
			}
			return schema.ObjectReference{}, false
		}
		return schema.ObjectReference{}, false
	}

	for _, kind := range candidateKinds(ref.Kind) {
		id := schema.StatementID{Schema: schemaName, Name: ref.Name, Kind: kind}
		if !schema.KindSchema.CanContain(kind) {
			id.Schema = ""
		}
		if found, ok := x.find(id); ok {
			return schema.ObjectReference{Schema: found.Schema, Name: found.Name, Kind: found.Kind}, true
		}
		if ref.Schema == "" && id.Schema != "" && schema.KindDatabase.CanContain(kind) {
			id.Schema = ""
			if found, ok := x.find(id); ok {
				return schema.ObjectReference{Name: found.Name, Kind: found.Kind}, true
			}
		}
	}
	return schema.ObjectReference{}, false
}

// ResolveReferences rewrites the dependencies of every statement in db so that each
// one names an object of db. References to objects outside the model (built-ins,
// other databases, aliases) are dropped, as are references to the statement itself
// or to its containers.
func ResolveReferences(db *schema.Database, defaultSchema string) {
	idx := newNameIndex(db)
	for stmt := range db.All() {
		if len(stmt.Deps) == 0 {
			continue
		}
		var deps []schema.ObjectReference
		seen := map[schema.StatementID]bool{}
		for _, ref := range stmt.Deps {
			resolved, ok := idx.resolve(ref, defaultSchema)
			if !ok {
				slog.Debug("Dropping reference outside of the model", "object", stmt.ID.String(), "reference", ref.String())
				continue
			}
			id := resolved.ID()
			if seen[id] || id == stmt.ID {
				continue
			}
			if target, ok := db.Lookup(id); ok && db.IsDescendant(stmt, target) {
				continue
			}
			seen[id] = true
			deps = append(deps, resolved)
		}
		stmt.Deps = deps
	}
}

// NameReferences turns identifier chains found by the tokenizer into candidate
// references for ResolveReferences. Unqualified and alias-qualified column names
// become candidates on every relation the body mentions.
func NameReferences(names []parser.Name) []schema.ObjectReference {
	var refs []schema.ObjectReference
	var relations []schema.ObjectReference
	var columns []string

	for _, n := range names {
		parts := n.Parts
		if n.Call {
			if len(parts) <= 2 {
				refs = append(refs, qualified(parts, schema.KindFunction))
			}
			continue
		}
		switch len(parts) {
		case 1:
			relations = append(relations, qualified(parts, Relation))
			columns = append(columns, parts[0])
		case 2:
			relations = append(relations, qualified(parts, Relation))
			refs = append(refs, schema.ObjectReference{Name: parts[0], Column: parts[1], Kind: schema.KindColumn})
			columns = append(columns, parts[1])
		case 3:
			relations = append(relations, qualified(parts[:2], Relation))
			refs = append(refs, schema.ObjectReference{Schema: parts[0], Name: parts[1], Column: parts[2], Kind: schema.KindColumn})
		}
	}

	refs = append(refs, relations...)
	for _, rel := range relations {
		for _, col := range columns {
			refs = append(refs, schema.ObjectReference{Schema: rel.Schema, Name: rel.Name, Column: col, Kind: schema.KindColumn})
		}
	}
	return refs
}

func qualified(parts []string, kind schema.ObjectKind) schema.ObjectReference {
	if len(parts) == 1 {
		return schema.ObjectReference{Name: parts[0], Kind: kind}
	}
	return schema.ObjectReference{Schema: parts[0], Name: parts[1], Kind: kind}
}

// BodyReferences collects candidate references from a SQL body such as a view query.
func BodyReferences(body string, mode parser.ParserMode) ([]schema.ObjectReference, error) {
	names, err := parser.Names(body, mode)
	if err != nil {
		return nil, err
	}
	return NameReferences(names), nil
}
