package depgraph

import (
	"slices"

	"github.com/sqldef/schemadiff/schema"
)

// dependencies is the reference graph of one database. Containment is not part of it;
// it is taken from the database when needed.
type dependencies struct {
	db *schema.Database
	// deps lists every dependency of a statement, including the ones that do not
	// exist in db.
	deps map[schema.StatementID][]schema.StatementID
	// dependents is the reverse of deps for the dependencies that exist in db.
	dependents map[schema.StatementID][]schema.StatementID
}

// newDependencies builds the graph of db. Extra edges whose target exists in neither db
// nor other are authorised crossings into another database and are left out.
func newDependencies(db, other *schema.Database, extra []Edge) *dependencies {
	d := &dependencies{
		db:         db,
		deps:       map[schema.StatementID][]schema.StatementID{},
		dependents: map[schema.StatementID][]schema.StatementID{},
	}
	for stmt := range db.All() {
		for _, ref := range stmt.Deps {
			d.add(stmt.ID, ref.ID())
		}
	}
	for _, e := range extra {
		if !db.Contains(e.From) {
			continue
		}
		if !db.Contains(e.To) && (other == nil || !other.Contains(e.To)) {
			continue
		}
		d.add(e.From, e.To)
	}
	return d
}

func (d *dependencies) add(from, to schema.StatementID) {
	if from == to || slices.Contains(d.deps[from], to) {
		return
	}
	d.deps[from] = append(d.deps[from], to)
	if d.db.Contains(to) {
		d.dependents[to] = append(d.dependents[to], from)
	}
}

func (d *dependencies) dependsOn(from, to schema.StatementID) bool {
	return slices.Contains(d.deps[from], to)
}
