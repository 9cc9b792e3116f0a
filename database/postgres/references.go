package postgres

import (
	"strconv"
	"strings"

	pgquery "github.com/pganalyze/pg_query_go/v2"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/sqldef/schemadiff/database"
	"github.com/sqldef/schemadiff/schema"
)

// relationRef is a relation named in a FROM clause, or the table a sub-element belongs to.
type relationRef struct {
	schema string
	name   string
	alias  string
}

// collector gathers candidate references from parse trees. Column names are matched
// against relations once the whole tree is visited, since FROM comes after the select list.
type collector struct {
	relations []relationRef
	columns   [][]string
	refs      []schema.ObjectReference
}

func (c *collector) walk(node *pgquery.Node) {
	if node == nil {
		return
	}
	c.visit(node.ProtoReflect())
}

func (c *collector) walkAll(nodes []*pgquery.Node) {
	for _, node := range nodes {
		c.walk(node)
	}
}

func (c *collector) visit(m protoreflect.Message) {
	switch n := m.Interface().(type) {
	case *pgquery.RangeVar:
		rel := relationRef{schema: n.Schemaname, name: n.Relname}
		if n.Alias != nil {
			rel.alias = n.Alias.Aliasname
		}
		c.relations = append(c.relations, rel)
	case *pgquery.ColumnRef:
		if parts := stringValues(n.Fields); len(parts) == len(n.Fields) {
			c.columns = append(c.columns, parts)
		}
	case *pgquery.FuncCall:
		c.function(n)
	case *pgquery.TypeName:
		c.typeName(n)
		return
	}

	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		switch {
		case fd.Message() == nil || fd.IsMap():
		case fd.IsList():
			list := v.List()
			for i := 0; i < list.Len(); i++ {
				c.visit(list.Get(i).Message())
			}
		default:
			c.visit(v.Message())
		}
		return true
	})
}

func (c *collector) function(call *pgquery.FuncCall) {
	names := stringValues(call.Funcname)
	if len(names) == 0 || names[0] == "pg_catalog" {
		return
	}
	schemaName, name := "", names[len(names)-1]
	if len(names) > 1 {
		schemaName = names[len(names)-2]
	}
	c.refs = append(c.refs, schema.ObjectReference{Schema: schemaName, Name: name, Kind: schema.KindFunction})

	switch name {
	case "nextval", "currval", "setval":
		if len(call.Args) == 0 {
			return
		}
		arg := unwrapConstCast(call.Args[0])
		if s := arg.GetAConst().GetVal().GetString_(); s != nil {
			parts := strings.Split(s.Str, ".")
			ref := schema.ObjectReference{Name: strings.Trim(parts[len(parts)-1], `"`), Kind: schema.KindSequence}
			if len(parts) > 1 {
				ref.Schema = strings.Trim(parts[len(parts)-2], `"`)
			}
			c.refs = append(c.refs, ref)
		}
	}
}

var builtinTypes = map[string]string{
	"int2":        "smallint",
	"int4":        "integer",
	"int8":        "bigint",
	"float4":      "real",
	"float8":      "double precision",
	"bool":        "boolean",
	"varchar":     "character varying",
	"bpchar":      "character",
	"varbit":      "bit varying",
	"timestamp":   "timestamp without time zone",
	"timestamptz": "timestamp with time zone",
	"time":        "time without time zone",
	"timetz":      "time with time zone",
}

// typeName renders a type in the spelling of format_type() and records a reference
// to it unless it is built in.
func (c *collector) typeName(tn *pgquery.TypeName) string {
	if tn == nil {
		return ""
	}
	names := stringValues(tn.Names)
	if len(names) == 0 {
		return ""
	}

	var name string
	builtin := names[0] == "pg_catalog"
	if mapped, ok := builtinTypes[names[len(names)-1]]; ok && (builtin || len(names) == 1) {
		name = mapped
	} else {
		if builtin {
			names = names[1:]
		} else {
			c.refs = append(c.refs, qualified(names, schema.KindType))
		}
		parts := make([]string, len(names))
		for i, n := range names {
			parts[i] = quote(n)
		}
		name = strings.Join(parts, ".")
	}
	if tn.PctType {
		return name + "%TYPE"
	}

	if mods := typeModifiers(tn.Typmods); mods != "" && name != "interval" {
		if i := strings.Index(name, " with"); i >= 0 {
			name = name[:i] + mods + name[i:]
		} else {
			name += mods
		}
	}
	for range tn.ArrayBounds {
		name += "[]"
	}
	if tn.Setof {
		name = "SETOF " + name
	}
	return name
}

func typeModifiers(mods []*pgquery.Node) string {
	var values []string
	for _, mod := range mods {
		if i := mod.GetAConst().GetVal().GetInteger(); i != nil {
			values = append(values, strconv.Itoa(int(i.Ival)))
		}
	}
	if len(values) == 0 {
		return ""
	}
	return "(" + strings.Join(values, ",") + ")"
}

func qualified(names []string, kind schema.ObjectKind) schema.ObjectReference {
	ref := schema.ObjectReference{Name: names[len(names)-1], Kind: kind}
	if len(names) > 1 {
		ref.Schema = names[len(names)-2]
	}
	return ref
}

// references returns what the collected names may refer to. Unqualified columns are
// candidates on every relation in scope, including self when the tree belongs to a
// table (defaults, checks, index expressions).
func (c *collector) references(self *relationRef) []schema.ObjectReference {
	refs := c.refs
	relations := c.relations
	if self != nil {
		relations = append([]relationRef{*self}, relations...)
	}
	for _, rel := range relations {
		refs = append(refs, schema.ObjectReference{Schema: rel.schema, Name: rel.name, Kind: database.Relation})
	}

	column := func(rel relationRef, name string) {
		refs = append(refs, schema.ObjectReference{Schema: rel.schema, Name: rel.name, Column: name, Kind: schema.KindColumn})
	}
	for _, parts := range c.columns {
		switch len(parts) {
		case 1:
			for _, rel := range relations {
				column(rel, parts[0])
			}
		case 2:
			matched := false
			for _, rel := range relations {
				if rel.alias == parts[0] || (rel.alias == "" && rel.name == parts[0]) {
					column(rel, parts[1])
					matched = true
				}
			}
			if !matched {
				column(relationRef{name: parts[0]}, parts[1])
			}
		default:
			n := len(parts)
			column(relationRef{schema: parts[n-3], name: parts[n-2]}, parts[n-1])
		}
	}
	return refs
}
