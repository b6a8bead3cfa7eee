package repository

import (
	"fmt"
	"sort"
	"time"
)

// LockTolerance is the window within which two updated_at readings are
// treated as the same version. Timestamps cross serialization boundaries
// (JSON bodies, DATETIME columns) that drop sub-second precision, so exact
// equality would reject honest round-trips. The window is a documented
// approximation, not a precision bug.
const LockTolerance = time.Second

// timestampLayouts are tried in order. Layouts without a zone parse as UTC,
// which is the contract for offset-less client timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp converts a client-supplied lock value into a time.Time.
// Strings are accepted in ISO-8601 form with or without a UTC offset; a
// missing offset means UTC. Unparseable input returns
// InvalidTimestampFormatError.
func ParseTimestamp(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case *time.Time:
		if v == nil {
			return time.Time{}, &InvalidTimestampFormatError{Value: "<nil>"}
		}
		return *v, nil
	case string:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, &InvalidTimestampFormatError{Value: v}
	default:
		return time.Time{}, &InvalidTimestampFormatError{Value: fmt.Sprintf("%v", value)}
	}
}

// ValidateLock compares the caller's last-known updated_at against the
// record's current value. Differences within LockTolerance pass; anything
// beyond returns OptimisticLockConflictError carrying both readings.
func ValidateLock(expected, actual time.Time, id interface{}, entity string) error {
	diff := expected.Sub(actual)
	if diff < 0 {
		diff = -diff
	}
	if diff > LockTolerance {
		return &OptimisticLockConflictError{
			Entity:   entity,
			ID:       id,
			Expected: expected,
			Actual:   actual,
		}
	}
	return nil
}

// LockTimestamp pairs a payload location with the lock value found there
type LockTimestamp struct {
	Path  string
	Value time.Time
}

// CollectLockTimestamps walks a nested payload and gathers every updated_at
// it carries, at the root and inside nested relationship objects, so a
// service layer can pre-validate a whole tree before mutating anything.
// The first unparseable value fails the collection.
func CollectLockTimestamps(payload map[string]interface{}) ([]LockTimestamp, error) {
	var out []LockTimestamp
	if err := collectLockTimestamps(payload, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func collectLockTimestamps(payload map[string]interface{}, prefix string, out *[]LockTimestamp) error {
	if raw, ok := payload["updated_at"]; ok && raw != nil {
		parsed, err := ParseTimestamp(raw)
		if err != nil {
			return err
		}
		*out = append(*out, LockTimestamp{Path: joinPath(prefix, "updated_at"), Value: parsed})
	}
	keys := make([]string, 0, len(payload))
	for key := range payload {
		if key != "updated_at" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := payload[key]
		switch nested := value.(type) {
		case map[string]interface{}:
			if err := collectLockTimestamps(nested, joinPath(prefix, key), out); err != nil {
				return err
			}
		case []interface{}:
			for i, item := range nested {
				child, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				elem := fmt.Sprintf("%s[%d]", joinPath(prefix, key), i)
				if err := collectLockTimestamps(child, elem, out); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
