package db

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/ammar0144/rel4go/pkg/query"
)

// SQL fragment compilation for the neutral query model.
//
// SECURITY:
// Values are always bound as parameters. Identifiers (table and column
// names) cannot be parameterized in SQL, so they are validated against a
// strict pattern and backtick-quoted before entering a statement. Catalog
// and graph declarations are the only sources of identifiers in normal
// operation; the validation is the backstop for misdeclared schemas.

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validIdent rejects anything that is not a plain SQL identifier
func validIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid SQL identifier %q", name)
	}
	return nil
}

func quoteIdent(name string) string {
	return "`" + name + "`"
}

// buildWhere compiles conditions into one parameterized fragment; conditions
// combine with AND, matching the query model's semantics
func buildWhere(conditions []query.Condition) (string, []interface{}, error) {
	if len(conditions) == 0 {
		return "", nil, nil
	}

	parts := make([]string, 0, len(conditions))
	var args []interface{}
	for _, cond := range conditions {
		sql, condArgs, err := buildCondition(cond)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		args = append(args, condArgs...)
	}
	return strings.Join(parts, " AND "), args, nil
}

func buildCondition(cond query.Condition) (string, []interface{}, error) {
	if err := validIdent(cond.Field); err != nil {
		return "", nil, err
	}
	field := quoteIdent(cond.Field)

	switch cond.Operator {
	case query.IsNull:
		return field + " IS NULL", nil, nil
	case query.IsNotNull:
		return field + " IS NOT NULL", nil, nil
	case query.In, query.NotIn:
		return buildInCondition(field, cond.Operator, cond.Value)
	case query.Between:
		return buildBetweenCondition(field, cond.Value)
	case query.Equal, query.NotEqual,
		query.GreaterThan, query.GreaterThanOrEqual,
		query.LessThan, query.LessThanOrEqual,
		query.Like:
		return fmt.Sprintf("%s %s ?", field, cond.Operator), []interface{}{cond.Value}, nil
	default:
		return "", nil, fmt.Errorf("unknown operator %q", cond.Operator)
	}
}

// buildInCondition expands IN/NOT IN placeholders. An empty or nil value set
// compiles to a constant predicate: IN over nothing matches no row, NOT IN
// over nothing matches every row.
func buildInCondition(field string, op query.Operator, value interface{}) (string, []interface{}, error) {
	values := valueSlice(value)
	if len(values) == 0 {
		if op == query.In {
			return "1 = 0", nil, nil
		}
		return "1 = 1", nil, nil
	}

	placeholders := make([]string, len(values))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	return fmt.Sprintf("%s %s (%s)", field, op, strings.Join(placeholders, ", ")), values, nil
}

// buildBetweenCondition expects exactly two bounds; anything else compiles
// to a never-matching predicate
func buildBetweenCondition(field string, value interface{}) (string, []interface{}, error) {
	bounds := valueSlice(value)
	if len(bounds) != 2 {
		return "1 = 0", nil, nil
	}
	return field + " BETWEEN ? AND ?", bounds, nil
}

// valueSlice coerces a condition value into its element list
func valueSlice(value interface{}) []interface{} {
	if value == nil {
		return nil
	}
	if vs, ok := value.([]interface{}); ok {
		return vs
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []interface{}{value}
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// orderExpr compiles one sort term
func orderExpr(s query.Sort) (string, error) {
	if err := validIdent(s.Field); err != nil {
		return "", err
	}
	if s.Desc {
		return quoteIdent(s.Field) + " DESC", nil
	}
	return quoteIdent(s.Field) + " ASC", nil
}
