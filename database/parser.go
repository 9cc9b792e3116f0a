package database

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/sqldef/schemadiff/parser"
	"github.com/sqldef/schemadiff/schema"
)

// Parsed is one result of parsing a SQL statement: a new object, or a Patch of an
// object defined elsewhere.
type Parsed struct {
	// Parent is the container of Statement. When nil, the loader derives it from the
	// statement's identity (its schema, or its table for sub-elements).
	Parent    *schema.StatementID
	Statement *schema.Statement
	Patch     *Patch
}

// Patch carries ownership, comment and privilege statements (ALTER ... OWNER TO,
// COMMENT ON, GRANT, REVOKE) that change an object after it is defined.
type Patch struct {
	Target   schema.StatementID
	Owner    *string
	Comment  *string
	Grant    []schema.Privilege
	Revoke   []schema.Privilege
	Location schema.Location
}

// Parser turns the SQL text of one file into objects. Errors name the file, and the
// line and column of the offending statement when known.
type Parser interface {
	Parse(file, sql string) ([]Parsed, error)
}

// File is SQL text together with the name used in locations and errors.
type File struct {
	Name string
	SQL  string
}

// ReadFile reads a SQL file; "-" reads the piped standard input.
func ReadFile(path string) (File, error) {
	var buf []byte
	var err error
	if path == "-" {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) != 0 {
			return File{}, fmt.Errorf("stdin is not piped")
		}
		buf, err = io.ReadAll(os.Stdin)
	} else {
		buf, err = os.ReadFile(path)
	}
	if err != nil {
		return File{}, err
	}
	return File{Name: path, SQL: string(buf)}, nil
}

// FileLoader is a Reader over SQL files.
type FileLoader struct {
	Name        string
	Dialect     schema.Dialect
	Parser      Parser
	Files       []File
	Concurrency int
}

func (l FileLoader) Read(ctx context.Context) (*schema.Database, error) {
	return LoadFiles(ctx, l.Name, l.Dialect, l.Parser, l.Files, l.Concurrency)
}

// LoadFiles parses files concurrently and assembles one Database from the results in
// input order. Schemas that objects live in are created when no file defines them.
func LoadFiles(ctx context.Context, name string, dialect schema.Dialect, p Parser, files []File, concurrency int) (*schema.Database, error) {
	results, err := ConcurrentMapFuncWithError(ctx, files, concurrency, func(_ context.Context, f File) ([]Parsed, error) {
		return p.Parse(f.Name, f.SQL)
	})
	if err != nil {
		return nil, err
	}

	return NewModel(name, dialect, slices.Concat(results...))
}

// Assemble adds parsed objects to db and then applies the patches. Objects whose
// container appears later in the input are added once it exists.
func Assemble(db *schema.Database, parsed []Parsed) error {
	var patches []*Patch
	var pending []Parsed
	for _, p := range parsed {
		switch {
		case p.Patch != nil:
			patches = append(patches, p.Patch)
		case p.Statement != nil:
			pending = append(pending, p)
		}
	}

	for len(pending) > 0 {
		var deferred []Parsed
		for _, p := range pending {
			parent, ok, err := parentHandle(db, p)
			if err != nil {
				return err
			}
			if !ok {
				deferred = append(deferred, p)
				continue
			}
			if _, err := db.Add(parent, p.Statement); err != nil {
				return located(p.Statement.Location, err)
			}
		}
		if len(deferred) == len(pending) {
			p := deferred[0]
			return located(p.Statement.Location, fmt.Errorf("container of %s is not defined", p.Statement.ID))
		}
		pending = deferred
	}

	for _, patch := range patches {
		if err := applyPatch(db, patch); err != nil {
			return located(patch.Location, err)
		}
	}
	return nil
}

// parentHandle finds the container of p. Missing schemas are created on the fly.
func parentHandle(db *schema.Database, p Parsed) (schema.Handle, bool, error) {
	id := p.Statement.ID
	if p.Parent != nil {
		if p.Parent.Kind == schema.KindSchema && !db.Contains(*p.Parent) {
			if err := addSchema(db, p.Parent.Name); err != nil {
				return schema.NoHandle, false, err
			}
		}
		parent, ok := db.Lookup(*p.Parent)
		if !ok {
			return schema.NoHandle, false, nil
		}
		return parent.Handle(), true, nil
	}

	switch {
	case id.Kind.SubElement():
		for _, kind := range []schema.ObjectKind{schema.KindTable, schema.KindView, schema.KindDomain} {
			if parent, ok := db.Lookup(schema.StatementID{Schema: id.Schema, Name: id.Name, Kind: kind}); ok && kind.CanContain(id.Kind) {
				return parent.Handle(), true, nil
			}
		}
		return schema.NoHandle, false, nil
	case schema.KindSchema.CanContain(id.Kind) && id.Schema != "":
		schemaID := schema.StatementID{Name: id.Schema, Kind: schema.KindSchema}
		if !db.Contains(schemaID) {
			if err := addSchema(db, id.Schema); err != nil {
				return schema.NoHandle, false, err
			}
		}
		parent, _ := db.Lookup(schemaID)
		return parent.Handle(), true, nil
	}
	return schema.NoHandle, true, nil
}

func addSchema(db *schema.Database, name string) error {
	slog.Debug("Creating implicit schema", "schema", name)
	_, err := db.Add(schema.NoHandle, &schema.Statement{
		ID:         schema.StatementID{Name: name, Kind: schema.KindSchema},
		Definition: "CREATE SCHEMA " + name,
	})
	return err
}

func applyPatch(db *schema.Database, patch *Patch) error {
	stmt, ok := db.Lookup(patch.Target)
	if !ok && patch.Target.Kind == schema.KindTable {
		// ALTER TABLE, GRANT ON TABLE and COMMENT ON TABLE also address views and sequences.
		for _, kind := range []schema.ObjectKind{schema.KindView, schema.KindSequence} {
			target := patch.Target
			target.Kind = kind
			if stmt, ok = db.Lookup(target); ok {
				break
			}
		}
	}
	if !ok {
		return fmt.Errorf("%s is not defined", patch.Target)
	}

	if patch.Owner != nil {
		stmt.Owner = *patch.Owner
	}
	if patch.Comment != nil {
		stmt.Comment = *patch.Comment
	}
	for _, p := range patch.Revoke {
		stmt.Privileges = slices.DeleteFunc(stmt.Privileges, func(q schema.Privilege) bool {
			return q.Role == p.Role && q.Privilege == p.Privilege
		})
	}
	for _, p := range patch.Grant {
		if !slices.Contains(stmt.Privileges, p) {
			stmt.Privileges = append(stmt.Privileges, p)
		}
	}
	return nil
}

func located(loc schema.Location, err error) error {
	if loc.File == "" {
		return err
	}
	return fmt.Errorf("%s: %w", loc, err)
}

// SplitStatements cuts a script into statements and records where each one starts.
func SplitStatements(file, sql string, mode parser.ParserMode) ([]string, []schema.Location, error) {
	fragments, err := parser.SplitStatements(sql, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", file, err)
	}
	ddls := make([]string, 0, len(fragments))
	locations := make([]schema.Location, 0, len(fragments))
	for _, f := range fragments {
		ddl := parser.TrimMarginComments(f.SQL)
		if ddl == "" {
			continue
		}
		ddls = append(ddls, ddl)
		locations = append(locations, schema.Location{File: file, Line: f.Line, Column: f.Column})
	}
	return ddls, locations, nil
}
