package schema

import (
	"fmt"
	"log/slog"
	"slices"
)

// Diagnostic is a non-fatal condition reported to the caller, e.g. an ignore rule
// naming an unknown kind or a recovered concurrent modification.
type Diagnostic struct {
	Object string
	Reason string
}

func (d Diagnostic) String() string {
	if d.Object == "" {
		return d.Reason
	}
	return d.Object + ": " + d.Reason
}

// Override patches ownership or privileges of one object after loading.
type Override struct {
	Target StatementID
	// Owner replaces the owner when non-nil.
	Owner *string
	// Privileges replaces the privilege list when non-nil.
	Privileges []Privilege
	// Source names where the override came from, for diagnostics.
	Source string
}

// ConcurrentModificationError is returned when two overrides in one pass patch the same object.
type ConcurrentModificationError struct {
	Object   StatementID
	First    string
	Conflict string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("%s is modified by override %q after override %q in the same pass", e.Object, e.Conflict, e.First)
}

// ApplyOverrides patches the database in place. It belongs to the loading stage and
// must not be called on a database that is being diffed. With ignoreConcurrent, a
// second override of the same object is skipped and reported as a Diagnostic instead
// of failing the whole pass.
func (d *Database) ApplyOverrides(overrides []Override, ignoreConcurrent bool) ([]Diagnostic, error) {
	var diagnostics []Diagnostic
	applied := map[StatementID]string{}

	for _, o := range overrides {
		stmt, ok := d.Lookup(o.Target)
		if !ok {
			diagnostics = append(diagnostics, Diagnostic{
				Object: o.Target.String(),
				Reason: fmt.Sprintf("override %q targets an object that does not exist in %s", o.Source, d.Name),
			})
			continue
		}

		if first, ok := applied[o.Target]; ok {
			err := &ConcurrentModificationError{Object: o.Target, First: first, Conflict: o.Source}
			if !ignoreConcurrent {
				return diagnostics, err
			}
			slog.Warn("Ignoring concurrent override", "object", o.Target.String(), "override", o.Source)
			diagnostics = append(diagnostics, Diagnostic{Object: o.Target.String(), Reason: err.Error()})
			continue
		}
		applied[o.Target] = o.Source

		if o.Owner != nil {
			stmt.Owner = *o.Owner
		}
		if o.Privileges != nil {
			stmt.Privileges = slices.Clone(o.Privileges)
		}
	}
	return diagnostics, nil
}
