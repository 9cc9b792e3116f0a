package schema

import (
	"maps"
	"slices"
	"sort"
)

// Settings are the comparison and scripting flags. They are passed around as an
// immutable value and never read from process state.
type Settings struct {
	Dialect                      Dialect
	IgnoreColumnOrder            bool
	DataMovementMode             bool
	IgnorePrivileges             bool
	AllowedKinds                 KindSet
	CommentsToEnd                bool
	InTransaction                bool
	IgnoreConcurrentModification bool
}

// ChangeClass says how a statement present in both trees has to be migrated.
type ChangeClass int

const (
	Unchanged ChangeClass = iota
	// AlterInPlace can be applied with ALTER and leaves dependents alone.
	AlterInPlace
	// AlterWithRefresh is an in-place ALTER that the server refuses while dependents exist,
	// so the dependents are dropped before and recreated after it.
	AlterWithRefresh
	// Recreate needs DROP and CREATE of the statement itself.
	Recreate
)

func (c ChangeClass) String() string {
	switch c {
	case Unchanged:
		return "unchanged"
	case AlterInPlace:
		return "alter"
	case AlterWithRefresh:
		return "alter-with-refresh"
	case Recreate:
		return "recreate"
	}
	return "unknown"
}

// Attribute keys with special meaning for change classification.
const (
	AttrType    = "type"
	AttrDefault = "default"
	AttrNotNull = "not_null"
	AttrReturns = "returns"

	// AttrIdentity is "always" or "by default" for identity columns.
	AttrIdentity  = "identity"
	// AttrGenerated holds the expression of a stored generated column.
	AttrGenerated = "generated"
)

// Classify compares two versions of the same object. The databases are needed to
// look at column order, which is a property of the table's children.
func Classify(oldDB, newDB *Database, old, new *Statement, settings Settings) ChangeClass {
	class := Unchanged
	raise := func(c ChangeClass) {
		if c > class {
			class = c
		}
	}

	if old.Definition != new.Definition {
		switch old.Kind() {
		case KindFunction, KindProcedure, KindAggregate, KindOperator:
			if old.Attr(AttrReturns) != new.Attr(AttrReturns) {
				raise(Recreate)
			} else {
				raise(AlterInPlace)
			}
		case KindSequence, KindSchema, KindRole, KindUser, KindServer, KindUserMapping, KindColumn:
			raise(AlterInPlace)
		default:
			raise(Recreate)
		}
	}

	for _, key := range ChangedAttrs(old, new) {
		switch {
		case old.Kind() == KindColumn && key == AttrType:
			raise(AlterWithRefresh)
		case key == AttrGenerated && old.Attr(AttrGenerated) == "":
			// a plain column cannot be given an expression in place
			raise(Recreate)
		case key == AttrReturns:
			raise(Recreate)
		default:
			raise(AlterInPlace)
		}
	}

	if old.Owner != new.Owner || old.Comment != new.Comment {
		raise(AlterInPlace)
	}
	if !settings.IgnorePrivileges && !SamePrivileges(old.Privileges, new.Privileges) {
		raise(AlterInPlace)
	}

	if old.Kind() == KindTable && !settings.IgnoreColumnOrder && oldDB != nil && newDB != nil {
		if !sameColumnOrder(oldDB, newDB, old, new) {
			raise(Recreate)
		}
	}
	return class
}

// ChangedAttrs returns the sorted attribute keys whose values differ.
func ChangedAttrs(old, new *Statement) []string {
	keys := map[string]struct{}{}
	for k, v := range old.Attrs {
		if new.Attr(k) != v {
			keys[k] = struct{}{}
		}
	}
	for k, v := range new.Attrs {
		if old.Attr(k) != v {
			keys[k] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(keys))
}

// SamePrivileges compares privilege lists ignoring order.
func SamePrivileges(a, b []Privilege) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := sortedPrivileges(a), sortedPrivileges(b)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

func sortedPrivileges(privs []Privilege) []Privilege {
	sorted := slices.Clone(privs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Role != sorted[j].Role {
			return sorted[i].Role < sorted[j].Role
		}
		if sorted[i].Privilege != sorted[j].Privilege {
			return sorted[i].Privilege < sorted[j].Privilege
		}
		return !sorted[i].Grantable && sorted[j].Grantable
	})
	return sorted
}

// PrivilegeDelta returns privileges to revoke (only in old) and to grant (only in new).
func PrivilegeDelta(old, new []Privilege) (revoke, grant []Privilege) {
	contains := func(list []Privilege, p Privilege) bool {
		return slices.Contains(list, p)
	}
	for _, p := range sortedPrivileges(old) {
		if !contains(new, p) {
			revoke = append(revoke, p)
		}
	}
	for _, p := range sortedPrivileges(new) {
		if !contains(old, p) {
			grant = append(grant, p)
		}
	}
	return revoke, grant
}

// sameColumnOrder checks that the columns present in both tables keep their relative order.
func sameColumnOrder(oldDB, newDB *Database, old, new *Statement) bool {
	columnNames := func(db *Database, table *Statement) []string {
		var names []string
		for _, child := range db.Children(table) {
			if child.Kind() == KindColumn {
				names = append(names, child.ID.Sub)
			}
		}
		return names
	}
	oldCols := columnNames(oldDB, old)
	newCols := columnNames(newDB, new)

	inNew := map[string]bool{}
	for _, c := range newCols {
		inNew[c] = true
	}
	inOld := map[string]bool{}
	for _, c := range oldCols {
		inOld[c] = true
	}

	var commonOld, commonNew []string
	for _, c := range oldCols {
		if inNew[c] {
			commonOld = append(commonOld, c)
		}
	}
	for _, c := range newCols {
		if inOld[c] {
			commonNew = append(commonNew, c)
		}
	}
	return slices.Equal(commonOld, commonNew)
}
