package query

// Storage-agnostic read-query model.
// This package describes WHAT to read (conditions, ordering, paging) without
// committing to a storage engine. Sessions interpret the resulting Query
// value: the in-memory store evaluates conditions directly, the GORM session
// compiles them to parameterized SQL.
//
// SECURITY NOTE:
// Field names are carried verbatim into storage backends and are NOT escaped.
// They must come from trusted schema declarations, never from user input.
// User input belongs exclusively in Condition.Value, which SQL-backed
// sessions bind as parameters.

// Operator represents a comparison operator in a condition
type Operator string

const (
	Equal              Operator = "="
	NotEqual           Operator = "!="
	GreaterThan        Operator = ">"
	GreaterThanOrEqual Operator = ">="
	LessThan           Operator = "<"
	LessThanOrEqual    Operator = "<="
	Like               Operator = "LIKE"
	In                 Operator = "IN"
	NotIn              Operator = "NOT IN"
	IsNull             Operator = "IS NULL"
	IsNotNull          Operator = "IS NOT NULL"
	Between            Operator = "BETWEEN"
)

// Condition represents one filter predicate; all conditions of a Query are
// combined with AND
type Condition struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// Sort represents one ordering term
type Sort struct {
	Field string
	Desc  bool
}

// Query is an immutable description of one read (or condition-scoped write).
// Limit == 0 means no limit.
type Query struct {
	Table      string
	Conditions []Condition
	Sorts      []Sort
	Limit      int
	Offset     int
}

// Builder assembles a Query through chained calls
type Builder struct {
	table      string
	conditions []Condition
	sorts      []Sort
	limit      int
	offset     int
}

// NewBuilder creates a query builder for the given table.
// SECURITY: the table parameter must be a validated, trusted identifier.
func NewBuilder(table string) *Builder {
	return &Builder{table: table}
}

// Where adds a condition.
// SECURITY: field is not escaped and must be a trusted identifier; user
// input belongs in value.
func (b *Builder) Where(field string, operator Operator, value interface{}) *Builder {
	b.conditions = append(b.conditions, Condition{
		Field:    field,
		Operator: operator,
		Value:    value,
	})
	return b
}

// WhereIn adds an IN condition over the given values
func (b *Builder) WhereIn(field string, values []interface{}) *Builder {
	return b.Where(field, In, values)
}

// OrderBy appends an ordering term
func (b *Builder) OrderBy(field string, desc bool) *Builder {
	b.sorts = append(b.sorts, Sort{Field: field, Desc: desc})
	return b
}

// Limit sets the maximum row count
// Negative values are normalized to 0 (no limit)
func (b *Builder) Limit(limit int) *Builder {
	if limit < 0 {
		limit = 0
	}
	b.limit = limit
	return b
}

// Offset sets the number of rows to skip
// Negative values are normalized to 0
func (b *Builder) Offset(offset int) *Builder {
	if offset < 0 {
		offset = 0
	}
	b.offset = offset
	return b
}

// Build returns the immutable query value
func (b *Builder) Build() Query {
	q := Query{
		Table:  b.table,
		Limit:  b.limit,
		Offset: b.offset,
	}
	if len(b.conditions) > 0 {
		q.Conditions = make([]Condition, len(b.conditions))
		copy(q.Conditions, b.conditions)
	}
	if len(b.sorts) > 0 {
		q.Sorts = make([]Sort, len(b.sorts))
		copy(q.Sorts, b.sorts)
	}
	return q
}
