package schema

import (
	"fmt"
	"sort"
	"strings"
)

// ObjectKind is the kind of a schema object. Every dialect shares this enumeration,
// and a dialect does not have to populate all of them.
type ObjectKind int

const (
	KindDatabase ObjectKind = iota
	KindSchema
	KindExtension
	KindRole
	KindUser
	KindCast
	KindEventTrigger
	KindForeignDataWrapper
	KindServer
	KindUserMapping
	KindType
	KindDomain
	KindSequence
	KindFunction
	KindProcedure
	KindAggregate
	KindOperator
	KindTable
	KindColumn
	KindConstraint
	KindIndex
	KindTrigger
	KindRule
	KindPolicy
	KindStatistics
	KindView
	KindDictionary
)

var kindNames = map[ObjectKind]string{
	KindDatabase:           "DATABASE",
	KindSchema:             "SCHEMA",
	KindExtension:          "EXTENSION",
	KindRole:               "ROLE",
	KindUser:               "USER",
	KindCast:               "CAST",
	KindEventTrigger:       "EVENT TRIGGER",
	KindForeignDataWrapper: "FOREIGN DATA WRAPPER",
	KindServer:             "SERVER",
	KindUserMapping:        "USER MAPPING",
	KindType:               "TYPE",
	KindDomain:             "DOMAIN",
	KindSequence:           "SEQUENCE",
	KindFunction:           "FUNCTION",
	KindProcedure:          "PROCEDURE",
	KindAggregate:          "AGGREGATE",
	KindOperator:           "OPERATOR",
	KindTable:              "TABLE",
	KindColumn:             "COLUMN",
	KindConstraint:         "CONSTRAINT",
	KindIndex:              "INDEX",
	KindTrigger:            "TRIGGER",
	KindRule:               "RULE",
	KindPolicy:             "POLICY",
	KindStatistics:         "STATISTICS",
	KindView:               "VIEW",
	KindDictionary:         "DICTIONARY",
}

func (k ObjectKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("KIND(%d)", int(k))
}

// ParseObjectKind accepts both the SQL spelling ("EVENT TRIGGER") and the
// identifier spelling ("EVENT_TRIGGER"), case-insensitively.
func ParseObjectKind(s string) (ObjectKind, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "_", " ")
	for kind, name := range kindNames {
		if name == normalized {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown object kind: %q", s)
}

func (k ObjectKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ObjectKind) UnmarshalText(text []byte) error {
	kind, err := ParseObjectKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// AllKinds returns every kind except the database root, in declaration order.
func AllKinds() []ObjectKind {
	kinds := make([]ObjectKind, 0, len(kindNames)-1)
	for k := KindSchema; k <= KindDictionary; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// KindSet is a set of object kinds. An empty set means "any kind" wherever it is used as a filter.
type KindSet map[ObjectKind]struct{}

func NewKindSet(kinds ...ObjectKind) KindSet {
	set := make(KindSet, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return set
}

func (s KindSet) Contains(k ObjectKind) bool {
	_, ok := s[k]
	return ok
}

// Allows reports whether k passes the set used as a filter.
func (s KindSet) Allows(k ObjectKind) bool {
	return len(s) == 0 || s.Contains(k)
}

func (s KindSet) Sorted() []ObjectKind {
	kinds := make([]ObjectKind, 0, len(s))
	for k := range s {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

type kindTraits struct {
	parents  []ObjectKind
	inline   bool
	stateful bool
	// rank orders kinds by how likely they are to hold state; lower ranks are
	// preferred when a dependency cycle has to be broken.
	rank int
}

var traits = map[ObjectKind]kindTraits{
	KindDatabase:           {rank: 100, stateful: true},
	KindSchema:             {parents: []ObjectKind{KindDatabase}, rank: 90, stateful: true},
	KindExtension:          {parents: []ObjectKind{KindDatabase, KindSchema}, rank: 80, stateful: true},
	KindRole:               {parents: []ObjectKind{KindDatabase}, rank: 90, stateful: true},
	KindUser:               {parents: []ObjectKind{KindDatabase}, rank: 90, stateful: true},
	KindCast:               {parents: []ObjectKind{KindDatabase}, rank: 20},
	KindEventTrigger:       {parents: []ObjectKind{KindDatabase}, rank: 10},
	KindForeignDataWrapper: {parents: []ObjectKind{KindDatabase}, rank: 30},
	KindServer:             {parents: []ObjectKind{KindDatabase}, rank: 80, stateful: true},
	KindUserMapping:        {parents: []ObjectKind{KindDatabase}, rank: 30},
	KindType:               {parents: []ObjectKind{KindSchema}, rank: 70, stateful: true},
	KindDomain:             {parents: []ObjectKind{KindSchema}, rank: 70, stateful: true},
	KindSequence:           {parents: []ObjectKind{KindSchema}, rank: 85, stateful: true},
	KindFunction:           {parents: []ObjectKind{KindSchema}, rank: 1},
	KindProcedure:          {parents: []ObjectKind{KindSchema}, rank: 1},
	KindAggregate:          {parents: []ObjectKind{KindSchema}, rank: 1},
	KindOperator:           {parents: []ObjectKind{KindSchema}, rank: 1},
	KindTable:              {parents: []ObjectKind{KindSchema}, rank: 99, stateful: true},
	KindColumn:             {parents: []ObjectKind{KindTable}, inline: true, rank: 95, stateful: true},
	KindConstraint:         {parents: []ObjectKind{KindTable, KindDomain}, rank: 15},
	KindIndex:              {parents: []ObjectKind{KindTable, KindView}, rank: 12},
	KindTrigger:            {parents: []ObjectKind{KindTable, KindView}, rank: 5},
	KindRule:               {parents: []ObjectKind{KindTable, KindView}, rank: 5},
	KindPolicy:             {parents: []ObjectKind{KindTable}, rank: 5},
	KindStatistics:         {parents: []ObjectKind{KindSchema}, rank: 8},
	KindView:               {parents: []ObjectKind{KindSchema}, rank: 0},
	KindDictionary:         {parents: []ObjectKind{KindSchema}, rank: 85, stateful: true},
}

// CanContain reports whether a statement of kind parent may own a child of kind k.
func (k ObjectKind) CanContain(child ObjectKind) bool {
	for _, p := range traits[child].parents {
		if p == k {
			return true
		}
	}
	return false
}

// InlineInParent reports whether the object is created and dropped as part of its
// parent's DDL (columns are part of CREATE TABLE).
func (k ObjectKind) InlineInParent() bool {
	return traits[k].inline
}

// Stateful reports whether dropping the object loses data or identity.
func (k ObjectKind) Stateful() bool {
	return traits[k].stateful
}

// StateRank orders kinds from least to most likely to hold state.
func (k ObjectKind) StateRank() int {
	return traits[k].rank
}

// SubElement reports whether the kind is addressed through StatementID.Sub.
func (k ObjectKind) SubElement() bool {
	switch k {
	case KindColumn, KindConstraint, KindIndex, KindTrigger, KindRule, KindPolicy:
		return true
	}
	return false
}

// SharesRelationNamespace reports whether objects of this kind live in the relation
// namespace of their schema, where a view and a table cannot share a name.
func (k ObjectKind) SharesRelationNamespace() bool {
	switch k {
	case KindTable, KindView, KindSequence, KindDictionary:
		return true
	}
	return false
}
