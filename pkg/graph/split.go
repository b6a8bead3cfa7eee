package graph

import (
	"reflect"
)

// SplitNested divides a caller payload into main scalar fields and
// nested relationship sub-payloads for the given entity.
//
// A key counts as nested when it names a relationship of the entity AND
// holds a composite value (object or list). A relationship-named key
// holding a scalar or nil is dropped from both buckets: writing a bare
// value through a relationship attribute is never meaningful and must
// not reach the store. Every other key is main data.
//
// The function is pure and total. An unknown entity type returns the
// whole payload as main data and logs a configuration anomaly; it never
// fails, so the write path that follows decides what to do.
func (g *Graph) SplitNested(entity string, payload map[string]interface{}) (map[string]interface{}, map[string]interface{}) {
	main := make(map[string]interface{}, len(payload))
	nested := make(map[string]interface{})

	node, ok := g.nodes[entity]
	if !ok {
		g.logger.Warnw("splitting payload for unknown entity type, treating all fields as main data",
			"entity", entity)
		for k, v := range payload {
			main[k] = v
		}
		return main, nested
	}

	relNames := make(map[string]bool, len(node.out))
	for _, e := range node.out {
		relNames[e.Name] = true
	}

	for k, v := range payload {
		if !relNames[k] {
			main[k] = v
			continue
		}
		if isComposite(v) {
			nested[k] = v
			continue
		}
		// Relationship-named scalar or nil: dropped entirely
		g.logger.Debugw("dropping non-composite value under relationship name",
			"entity", entity,
			"relationship", k)
	}

	return main, nested
}

// isComposite reports whether a value is an object or a list. Reflection
// keeps this tolerant of named map/slice types callers may hand in.
func isComposite(v interface{}) bool {
	if v == nil {
		return false
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return true
	default:
		return false
	}
}
