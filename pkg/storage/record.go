// Package storage defines the record representation and the transactional
// session contract the repository engine operates against. Implementations
// live in pkg/memstore (in-memory, for tests and embedding) and pkg/db
// (GORM/MySQL).
package storage

import (
	"time"
)

// Reserved column names present on every entity table. Junction tables
// carry only their two link columns.
const (
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
	ColumnDeletedAt = "deleted_at"
)

// Record is one persisted row as a field-name to value mapping. Values are
// the store's native Go representations: numbers, strings, bools,
// time.Time for timestamps, nil for SQL NULL, and nested Record /
// []Record under relationship names after eager loading.
type Record map[string]interface{}

// Clone returns a shallow copy of the record
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Time reads a timestamp field, tolerating the representations different
// stores hand back: time.Time, *time.Time, or an RFC 3339 string.
func (r Record) Time(field string) (time.Time, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

// IsDeleted reports whether the record carries a soft-delete marker
func (r Record) IsDeleted() bool {
	t, ok := r.Time(ColumnDeletedAt)
	return ok && !t.IsZero()
}
