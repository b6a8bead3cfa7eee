// Package graph builds the immutable model relationship graph from a
// schema catalog and answers the structural questions the repository
// engine asks at runtime: relationship classification, path-finding,
// cycle detection, dependency closures, and nested-payload splitting.
//
// A Graph is written once (Initialize or Register+BuildEdges during
// process bootstrap) and read-only afterwards, so any number of
// concurrent readers need no locking.
package graph

import (
	"errors"
	"fmt"

	"github.com/ammar0144/rel4go/pkg/schema"
)

// Kind is the canonical relationship classification. The zero value is
// not a valid kind; edges always carry one of the four constants below.
type Kind uint8

const (
	OneToOne Kind = iota + 1
	OneToMany
	ManyToOne
	ManyToMany
)

// ErrUnknownDirection is returned when a relationship declares a
// direction hint outside the recognized set. It surfaces at graph-build
// time and is fatal: a graph with unclassifiable edges must not serve.
var ErrUnknownDirection = errors.New("unknown relationship direction hint")

// String returns the snake_case name used in logs and diagnostics
func (k Kind) String() string {
	switch k {
	case OneToOne:
		return "one_to_one"
	case OneToMany:
		return "one_to_many"
	case ManyToOne:
		return "many_to_one"
	case ManyToMany:
		return "many_to_many"
	default:
		return "unknown"
	}
}

// IsCollection reports whether the kind holds many related records on
// the owner side
func (k Kind) IsCollection() bool {
	return k == OneToMany || k == ManyToMany
}

// Classify derives the canonical kind from a relationship's raw hints.
//
// A junction table forces MANY_TO_MANY regardless of the other hints.
// Otherwise a toward-one relationship is ONE_TO_ONE when the owner side
// is single-valued and MANY_TO_ONE when it is not, and a toward-many
// relationship is ONE_TO_MANY. Classification is deterministic: equal
// inputs always yield the same kind.
func Classify(direction schema.Direction, ownerSingle, hasJunction bool) (Kind, error) {
	if hasJunction {
		return ManyToMany, nil
	}
	switch direction {
	case schema.TowardOne:
		if ownerSingle {
			return OneToOne, nil
		}
		return ManyToOne, nil
	case schema.TowardMany:
		return OneToMany, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDirection, direction)
	}
}

// HandlerName maps a kind to the name of the nested-write handler that
// serves it. The engine dispatches on the kind itself; these names exist
// for logs and diagnostics, one per kind.
func HandlerName(k Kind) string {
	switch k {
	case OneToOne:
		return "one_to_one_handler"
	case OneToMany:
		return "one_to_many_handler"
	case ManyToOne:
		return "many_to_one_handler"
	case ManyToMany:
		return "many_to_many_handler"
	default:
		return "unknown_handler"
	}
}

// ManagerName maps a kind to the relation-management strategy that
// serves it: single-valued kinds share the single-relation manager,
// collection kinds share the collection manager.
func ManagerName(k Kind) string {
	switch k {
	case OneToOne, ManyToOne:
		return "single_relation_manager"
	case OneToMany, ManyToMany:
		return "collection_relation_manager"
	default:
		return "unknown_manager"
	}
}
