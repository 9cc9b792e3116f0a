package schema

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Dialect is the SQL dialect a database was loaded for.
type Dialect string

const (
	DialectPostgres   Dialect = "postgres"
	DialectMssql      Dialect = "mssql"
	DialectMysql      Dialect = "mysql"
	DialectClickHouse Dialect = "clickhouse"
	DialectSQLite3    Dialect = "sqlite3"
)

func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mssql", "sqlserver", "tsql":
		return DialectMssql, nil
	case "mysql", "mariadb":
		return DialectMysql, nil
	case "clickhouse", "ch":
		return DialectClickHouse, nil
	case "sqlite3", "sqlite":
		return DialectSQLite3, nil
	}
	return "", fmt.Errorf("unknown dialect: %q", s)
}

// StatementID is the identity of a schema object, stable across the old and new trees.
// Sub names a sub-element (column, constraint, index, ...) of the container Schema.Name.
type StatementID struct {
	Schema string
	Name   string
	Sub    string
	Kind   ObjectKind
}

// Qualified returns schema.name[.sub], omitting empty parts.
func (id StatementID) Qualified() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{id.Schema, id.Name, id.Sub} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

func (id StatementID) String() string {
	return id.Kind.String() + " " + id.Qualified()
}

// Less is the lexical order used for deterministic tie-breaks.
func (id StatementID) Less(other StatementID) bool {
	if id.Schema != other.Schema {
		return id.Schema < other.Schema
	}
	if id.Name != other.Name {
		return id.Name < other.Name
	}
	if id.Sub != other.Sub {
		return id.Sub < other.Sub
	}
	return id.Kind < other.Kind
}

// ObjectReference is a dependency edge discovered while analysing a statement's SQL.
type ObjectReference struct {
	Schema string
	Name   string
	Column string
	Kind   ObjectKind
}

// ID maps the reference to the identity it points at. Column references point at the
// COLUMN sub-element of the referenced relation.
func (r ObjectReference) ID() StatementID {
	if r.Column != "" {
		return StatementID{Schema: r.Schema, Name: r.Name, Sub: r.Column, Kind: KindColumn}
	}
	return StatementID{Schema: r.Schema, Name: r.Name, Kind: r.Kind}
}

func (r ObjectReference) String() string {
	return r.ID().String()
}

type Privilege struct {
	Role      string
	Privilege string
	Grantable bool
}

func (p Privilege) String() string {
	s := p.Privilege + " TO " + p.Role
	if p.Grantable {
		s += " WITH GRANT OPTION"
	}
	return s
}

// Location points at the SQL source a statement was loaded from.
type Location struct {
	File   string
	Line   int
	Column int
}

func (l Location) String() string {
	if l.File == "" {
		return ""
	}
	if l.Line == 0 {
		return l.File
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Handle addresses a statement inside its owning Database.
type Handle int

// NoHandle is the parent handle of top-level statements.
const NoHandle Handle = -1

// Statement is one schema object. Containment is expressed through handles into the
// owning Database; dependencies are ObjectReferences resolved at diff time.
type Statement struct {
	ID StatementID
	// Definition is the defining SQL body. A change forces re-creation for most kinds.
	Definition string
	// Attrs holds attributes that can be altered in place (column type, default, ...).
	Attrs      map[string]string
	Owner      string
	Comment    string
	Privileges []Privilege
	Deps       []ObjectReference
	Location   Location
	// Library names the external library the statement was loaded from, if any.
	Library string

	handle   Handle
	parent   Handle
	children []Handle
}

func (s *Statement) Handle() Handle {
	return s.handle
}

func (s *Statement) Kind() ObjectKind {
	return s.ID.Kind
}

// Attr returns the attribute value or "" when unset.
func (s *Statement) Attr(key string) string {
	if s.Attrs == nil {
		return ""
	}
	return s.Attrs[key]
}

// References reports whether the statement has a dependency edge to id.
func (s *Statement) References(id StatementID) bool {
	for _, dep := range s.Deps {
		if dep.ID() == id {
			return true
		}
	}
	return false
}

// clone copies the statement without its arena links.
func (s *Statement) clone() *Statement {
	c := *s
	c.Attrs = maps.Clone(s.Attrs)
	c.Privileges = slices.Clone(s.Privileges)
	c.Deps = slices.Clone(s.Deps)
	c.children = nil
	c.handle = NoHandle
	c.parent = NoHandle
	return &c
}

// Detached returns a copy of the statement that can be added to another Database.
func (s *Statement) Detached() *Statement {
	return s.clone()
}

func (s *Statement) String() string {
	return s.ID.String()
}
