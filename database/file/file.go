// Package file reads object models and overrides from YAML documents, for dialects
// without a SQL parser and for hand-written fixtures.
package file

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/sqldef/schemadiff/database"
	"github.com/sqldef/schemadiff/schema"
)

// Document is an object model. Sub-elements are nested under their table or view,
// and objects may be nested under their schema.
type Document struct {
	Name    string   `yaml:"name"`
	Dialect string   `yaml:"dialect"`
	Objects []Object `yaml:"objects"`
}

type Object struct {
	Kind       string            `yaml:"kind"`
	Schema     string            `yaml:"schema"`
	Name       string            `yaml:"name"`
	Definition string            `yaml:"definition"`
	Attrs      map[string]string `yaml:"attrs"`
	Owner      string            `yaml:"owner"`
	Comment    string            `yaml:"comment"`
	Library    string            `yaml:"library"`
	Privileges []Privilege       `yaml:"privileges"`
	Deps       []Reference       `yaml:"deps"`
	Children   []Object          `yaml:"children"`
}

type Privilege struct {
	Role      string `yaml:"role"`
	Privilege string `yaml:"privilege"`
	Grantable bool   `yaml:"grantable"`
}

// Reference is a dependency. An empty schema resolves to the dialect's default schema.
type Reference struct {
	Kind   string `yaml:"kind"`
	Schema string `yaml:"schema"`
	Name   string `yaml:"name"`
	Column string `yaml:"column"`
}

// OverrideDocument patches owners and privileges after loading.
type OverrideDocument struct {
	Overrides []Override `yaml:"overrides"`
}

type Override struct {
	Kind   string  `yaml:"kind"`
	Schema string  `yaml:"schema"`
	Name   string  `yaml:"name"`
	Sub    string  `yaml:"sub"`
	Owner  *string `yaml:"owner"`
	// Privileges replaces the privilege list when present, so [] revokes everything.
	Privileges []Privilege `yaml:"privileges"`
}

func decode(buf []byte, v any) error {
	return yaml.NewDecoder(bytes.NewReader(buf), yaml.DisallowUnknownField()).Decode(v)
}

// Parse builds the object model in buf. The document's dialect wins over dialect,
// and its name defaults to the base name of file.
func Parse(file string, buf []byte, dialect schema.Dialect) (*schema.Database, error) {
	var doc Document
	if err := decode(buf, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	if doc.Dialect != "" {
		d, err := schema.ParseDialect(doc.Dialect)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		dialect = d
	}
	if doc.Name == "" {
		doc.Name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}

	l := loader{file: file, defaultSchema: database.DefaultSchema(dialect, doc.Name)}
	var parsed []database.Parsed
	for i, object := range doc.Objects {
		var err error
		parsed, err = l.appendObject(parsed, fmt.Sprintf("objects[%d]", i), nil, object)
		if err != nil {
			return nil, err
		}
	}
	// statements carry the file as location, so assembly errors already name it
	return database.NewModel(doc.Name, dialect, parsed)
}

type loader struct {
	file          string
	defaultSchema string
}

func (l loader) appendObject(parsed []database.Parsed, path string, parent *schema.StatementID, object Object) ([]database.Parsed, error) {
	file := l.file
	fail := func(format string, args ...any) ([]database.Parsed, error) {
		return nil, fmt.Errorf("%s: %s: %s", file, path, fmt.Sprintf(format, args...))
	}

	kind, err := schema.ParseObjectKind(object.Kind)
	if err != nil {
		return fail("%s", err)
	}
	if object.Name == "" {
		return fail("%s without a name", kind)
	}

	id := schema.StatementID{Schema: object.Schema, Name: object.Name, Kind: kind}
	switch {
	case parent == nil && kind.SubElement():
		return fail("%s must be nested under its table", kind)
	case parent == nil:
		if id.Schema == "" && !schema.KindDatabase.CanContain(kind) {
			id.Schema = l.defaultSchema
		}
	case !parent.Kind.CanContain(kind):
		return fail("%s cannot contain %s", parent.Kind, kind)
	case kind.SubElement():
		id = schema.StatementID{Schema: parent.Schema, Name: parent.Name, Sub: object.Name, Kind: kind}
	case parent.Kind == schema.KindSchema:
		if object.Schema != "" && object.Schema != parent.Name {
			return fail("%s %s is nested under schema %s", kind, object.Name, parent.Name)
		}
		id.Schema = parent.Name
	}

	stmt := &schema.Statement{
		ID:         id,
		Definition: object.Definition,
		Attrs:      object.Attrs,
		Owner:      object.Owner,
		Comment:    object.Comment,
		Library:    object.Library,
		Privileges: privileges(object.Privileges),
		Location:   schema.Location{File: file},
	}
	for j, dep := range object.Deps {
		ref, err := dep.reference()
		if err != nil {
			return fail("deps[%d]: %s", j, err)
		}
		stmt.Deps = append(stmt.Deps, ref)
	}
	parsed = append(parsed, database.Parsed{Parent: parent, Statement: stmt})

	for j, child := range object.Children {
		parsed, err = l.appendObject(parsed, fmt.Sprintf("%s.children[%d]", path, j), &id, child)
		if err != nil {
			return nil, err
		}
	}
	return parsed, nil
}

func (r Reference) reference() (schema.ObjectReference, error) {
	ref := schema.ObjectReference{Schema: r.Schema, Name: r.Name, Column: r.Column}
	if r.Column != "" && r.Kind == "" {
		ref.Kind = schema.KindColumn
		return ref, nil
	}
	kind, err := schema.ParseObjectKind(r.Kind)
	if err != nil {
		return ref, err
	}
	ref.Kind = kind
	return ref, nil
}

func privileges(list []Privilege) []schema.Privilege {
	if list == nil {
		return nil
	}
	privs := make([]schema.Privilege, 0, len(list))
	for _, p := range list {
		privs = append(privs, schema.Privilege{Role: p.Role, Privilege: strings.ToUpper(p.Privilege), Grantable: p.Grantable})
	}
	return privs
}

// ParseOverrides reads an override document. Each override is named after its
// position in source.
func ParseOverrides(source string, buf []byte) ([]schema.Override, error) {
	var doc OverrideDocument
	if err := decode(buf, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	overrides := make([]schema.Override, 0, len(doc.Overrides))
	for i, o := range doc.Overrides {
		kind, err := schema.ParseObjectKind(o.Kind)
		if err != nil {
			return nil, fmt.Errorf("%s: overrides[%d]: %w", source, i, err)
		}
		if o.Owner == nil && o.Privileges == nil {
			return nil, fmt.Errorf("%s: overrides[%d]: neither owner nor privileges is set", source, i)
		}
		overrides = append(overrides, schema.Override{
			Target:     schema.StatementID{Schema: o.Schema, Name: o.Name, Sub: o.Sub, Kind: kind},
			Owner:      o.Owner,
			Privileges: privileges(o.Privileges),
			Source:     fmt.Sprintf("%s#%d", source, i+1),
		})
	}
	return overrides, nil
}
