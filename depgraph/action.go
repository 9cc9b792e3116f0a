package depgraph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/sqldef/schemadiff/schema"
)

type Action int

// The declaration order is the order preferred between independent actions.
const (
	ActionDrop Action = iota
	ActionAlter
	ActionCreate
)

func (a Action) String() string {
	switch a {
	case ActionDrop:
		return "DROP"
	case ActionAlter:
		return "ALTER"
	case ActionCreate:
		return "CREATE"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// DbObject is one selected edit. Old is nil for added objects, New is nil for removed ones.
type DbObject struct {
	Old *schema.Statement
	New *schema.Statement
}

func (o DbObject) ID() schema.StatementID {
	if o.New != nil {
		return o.New.ID
	}
	return o.Old.ID
}

// ActionContainer is one planned DDL action.
type ActionContainer struct {
	Action Action
	Object DbObject
	// NeedsRefresh marks actions issued only because a dependency changed.
	NeedsRefresh bool
}

func (a ActionContainer) ID() schema.StatementID {
	return a.Object.ID()
}

// Statement returns the version the action is rendered from: the old one for drops,
// the new one otherwise.
func (a ActionContainer) Statement() *schema.Statement {
	if a.Action == ActionDrop {
		return a.Object.Old
	}
	if a.Object.New != nil {
		return a.Object.New
	}
	return a.Object.Old
}

func (a ActionContainer) String() string {
	s := a.Action.String() + " " + a.Statement().ID.String()
	if a.NeedsRefresh {
		s += " (refresh)"
	}
	return s
}

// Edge is an additional dependency supplied by the caller: From depends on To.
type Edge struct {
	From schema.StatementID
	To   schema.StatementID
}

type Result struct {
	Actions []ActionContainer
	// ToRefresh holds the objects that are dropped and recreated only because of a
	// dependency on the selection.
	ToRefresh map[schema.StatementID]struct{}
	// Cascaded holds unselected objects that are dropped because they depend on a
	// dropped object and do not exist in the new database.
	Cascaded map[schema.StatementID]struct{}
	// Diagnostics warns about refreshed objects whose data does not survive the script.
	Diagnostics []schema.Diagnostic
}

func (r *Result) Refreshed(id schema.StatementID) bool {
	_, ok := r.ToRefresh[id]
	return ok
}

// UnresolvedDependencyError is returned when an object that is created or altered
// needs an object that does not exist after the script.
type UnresolvedDependencyError struct {
	Object   schema.StatementID
	Missing  schema.StatementID
	Location schema.Location
}

func (e *UnresolvedDependencyError) Error() string {
	msg := fmt.Sprintf("%s depends on %s, which does not exist after the script", e.Object, e.Missing)
	if loc := e.Location.String(); loc != "" {
		msg += " (" + loc + ")"
	}
	return msg
}

// UnbreakableCycleError is returned when dependent actions form a cycle that no
// refresh can break because every member holds state.
type UnbreakableCycleError struct {
	Members []ActionContainer
}

func (e *UnbreakableCycleError) Error() string {
	members := make([]string, len(e.Members))
	for i, m := range e.Members {
		members[i] = m.Action.String() + " " + m.Statement().ID.String()
	}
	return "unbreakable dependency cycle: " + strings.Join(members, ", ")
}

// IDs returns the identities of the cycle members.
func (e *UnbreakableCycleError) IDs() []schema.StatementID {
	var ids []schema.StatementID
	for _, m := range e.Members {
		if !slices.Contains(ids, m.ID()) {
			ids = append(ids, m.ID())
		}
	}
	return ids
}
