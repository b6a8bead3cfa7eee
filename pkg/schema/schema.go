// Package schema defines the declarative entity catalog consumed by the
// model graph and the repository engine. Entity types, fields, and
// relationships are declared as data (in code or loaded from YAML) rather
// than discovered by reflection, so the graph can be validated at startup
// before any request is served.
package schema

import (
	"fmt"
	"strings"
)

// FieldType enumerates the primitive types a scalar field may hold
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "bool"
	TypeTime   FieldType = "time"
	TypeBytes  FieldType = "bytes"
)

// PrimaryKeyKind controls how a store assigns new primary keys
type PrimaryKeyKind string

const (
	// PrimaryKeyAutoIncrement uses store-generated 64-bit integer keys
	PrimaryKeyAutoIncrement PrimaryKeyKind = "auto_increment"

	// PrimaryKeyUUID uses generated UUIDv4 string keys
	PrimaryKeyUUID PrimaryKeyKind = "uuid"
)

// Direction is the raw hint describing which way a relationship points
// from the owning entity's perspective. It is one of the two inputs to
// relationship classification; an unrecognized direction is a fatal
// configuration error at graph-build time.
type Direction string

const (
	TowardOne  Direction = "toward_one"
	TowardMany Direction = "toward_many"
)

// DefaultPrimaryKey is the primary key field name used when an entity
// declaration leaves it unset
const DefaultPrimaryKey = "id"

// Field describes one scalar column of an entity
type Field struct {
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type" yaml:"type"`
	Nullable bool      `json:"nullable" yaml:"nullable"`
}

// RelationshipDescriptor declares a relationship owned by one entity.
//
// ForeignKey, Junction, JunctionLeft and JunctionRight are optional
// overrides; when empty, the model graph derives conventional names from
// the entity names at edge-build time (e.g. "user_id" for a relationship
// owned by or targeting User). Which table carries the foreign key is
// determined by the classified kind, never by the declaration.
type RelationshipDescriptor struct {
	Name      string    `json:"name" yaml:"name"`
	Target    string    `json:"target" yaml:"target"`
	Direction Direction `json:"direction" yaml:"direction"`

	// OwnerSingle is the owner-side cardinality: true when the owning
	// entity holds at most one related record under this name
	OwnerSingle bool `json:"owner_single" yaml:"owner_single"`

	// Inverse names the paired relationship on the target entity for
	// bidirectional declarations (informational)
	Inverse string `json:"inverse" yaml:"inverse"`

	ForeignKey    string `json:"foreign_key" yaml:"foreign_key"`
	Junction      string `json:"junction" yaml:"junction"`
	JunctionLeft  string `json:"junction_left" yaml:"junction_left"`
	JunctionRight string `json:"junction_right" yaml:"junction_right"`

	// CascadeDelete propagates hard deletes across this relationship
	CascadeDelete bool `json:"cascade_delete" yaml:"cascade_delete"`

	// CascadeSoftDelete propagates soft deletes; unset defaults to true
	CascadeSoftDelete *bool `json:"cascade_soft_delete" yaml:"cascade_soft_delete"`
}

// SoftDeleteCascades reports whether soft deletes propagate across this
// relationship. Defaults to true when the declaration leaves it unset.
func (r *RelationshipDescriptor) SoftDeleteCascades() bool {
	if r.CascadeSoftDelete == nil {
		return true
	}
	return *r.CascadeSoftDelete
}

// HasJunction reports whether the relationship declares a junction table
func (r *RelationshipDescriptor) HasJunction() bool {
	return r.Junction != ""
}

// EntityType is one named record schema: scalar fields, a primary key,
// and the relationships it owns. Instances are built once through
// NewCatalog (or the YAML loader) and must be treated as read-only
// afterwards.
type EntityType struct {
	Name string `json:"name" yaml:"name"`

	// Table is the backing table name; defaults to lower(Name) + "s"
	Table string `json:"table" yaml:"table"`

	// PrimaryKey is the key field name; defaults to "id"
	PrimaryKey string `json:"primary_key" yaml:"primary_key"`

	// PrimaryKeyKind defaults to auto_increment
	PrimaryKeyKind PrimaryKeyKind `json:"primary_key_kind" yaml:"primary_key_kind"`

	Fields        []Field                  `json:"fields" yaml:"fields"`
	Relationships []RelationshipDescriptor `json:"relationships" yaml:"relationships"`
}

// Field returns the declared scalar field with the given name
func (e *EntityType) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HasField reports whether the entity declares the scalar field
func (e *EntityType) HasField(name string) bool {
	_, ok := e.Field(name)
	return ok
}

// Relationship returns the declared relationship with the given name
func (e *EntityType) Relationship(name string) (*RelationshipDescriptor, bool) {
	for i := range e.Relationships {
		if e.Relationships[i].Name == name {
			return &e.Relationships[i], true
		}
	}
	return nil, false
}

// RelationshipNames returns relationship names in declaration order
func (e *EntityType) RelationshipNames() []string {
	names := make([]string, 0, len(e.Relationships))
	for i := range e.Relationships {
		names = append(names, e.Relationships[i].Name)
	}
	return names
}

// TableName returns the effective backing table name
func (e *EntityType) TableName() string {
	return e.Table
}

// applyDefaults fills the derivable parts of a declaration
func (e *EntityType) applyDefaults() {
	if e.Table == "" {
		e.Table = strings.ToLower(e.Name) + "s"
	}
	if e.PrimaryKey == "" {
		e.PrimaryKey = DefaultPrimaryKey
	}
	if e.PrimaryKeyKind == "" {
		e.PrimaryKeyKind = PrimaryKeyAutoIncrement
	}
}

// Validate checks one entity declaration for structural problems
func (e *EntityType) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("entity name is required")
	}

	seen := make(map[string]bool, len(e.Fields))
	for _, f := range e.Fields {
		if f.Name == "" {
			return fmt.Errorf("entity %s: field name is required", e.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("entity %s: duplicate field %s", e.Name, f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case TypeString, TypeInt, TypeFloat, TypeBool, TypeTime, TypeBytes:
		case "":
			return fmt.Errorf("entity %s: field %s is missing a type", e.Name, f.Name)
		default:
			return fmt.Errorf("entity %s: field %s has unknown type %q", e.Name, f.Name, f.Type)
		}
	}

	switch e.PrimaryKeyKind {
	case PrimaryKeyAutoIncrement, PrimaryKeyUUID, "":
	default:
		return fmt.Errorf("entity %s: unknown primary key kind %q", e.Name, e.PrimaryKeyKind)
	}

	relSeen := make(map[string]bool, len(e.Relationships))
	for i := range e.Relationships {
		r := &e.Relationships[i]
		if r.Name == "" {
			return fmt.Errorf("entity %s: relationship name is required", e.Name)
		}
		if relSeen[r.Name] {
			return fmt.Errorf("entity %s: duplicate relationship %s", e.Name, r.Name)
		}
		relSeen[r.Name] = true
		if seen[r.Name] {
			return fmt.Errorf("entity %s: relationship %s collides with a field of the same name", e.Name, r.Name)
		}
		if r.Target == "" {
			return fmt.Errorf("entity %s: relationship %s is missing a target", e.Name, r.Name)
		}
	}

	return nil
}

// Catalog is the complete set of entity declarations for one process.
// Entities keep their registration order, which the graph relies on for
// deterministic traversal.
type Catalog struct {
	entities []*EntityType
	byName   map[string]*EntityType
	byTable  map[string]*EntityType
}

// NewCatalog validates the declarations, applies naming defaults, and
// returns the immutable catalog
func NewCatalog(entities ...*EntityType) (*Catalog, error) {
	c := &Catalog{
		entities: make([]*EntityType, 0, len(entities)),
		byName:   make(map[string]*EntityType, len(entities)),
		byTable:  make(map[string]*EntityType, len(entities)),
	}

	for _, e := range entities {
		if e == nil {
			return nil, fmt.Errorf("catalog entity cannot be nil")
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("invalid entity declaration: %w", err)
		}
		if _, dup := c.byName[e.Name]; dup {
			return nil, fmt.Errorf("duplicate entity declaration %s", e.Name)
		}
		e.applyDefaults()
		if prev, dup := c.byTable[e.Table]; dup {
			return nil, fmt.Errorf("entities %s and %s share table %s", prev.Name, e.Name, e.Table)
		}
		c.entities = append(c.entities, e)
		c.byName[e.Name] = e
		c.byTable[e.Table] = e
	}

	return c, nil
}

// Entity returns the declaration for the named entity type
func (c *Catalog) Entity(name string) (*EntityType, bool) {
	e, ok := c.byName[name]
	return e, ok
}

// EntityByTable returns the declaration backed by the given table.
// Junction tables belong to no entity and resolve to false.
func (c *Catalog) EntityByTable(table string) (*EntityType, bool) {
	e, ok := c.byTable[table]
	return e, ok
}

// Entities returns all declarations in registration order
func (c *Catalog) Entities() []*EntityType {
	out := make([]*EntityType, len(c.entities))
	copy(out, c.entities)
	return out
}

// Len returns the number of declared entity types
func (c *Catalog) Len() int {
	return len(c.entities)
}
