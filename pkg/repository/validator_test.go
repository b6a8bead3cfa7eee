package repository

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	utc := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input interface{}
		want  time.Time
	}{
		{"rfc3339 with zulu", "2024-05-01T10:30:00Z", utc},
		{"rfc3339 with offset", "2024-05-01T12:30:00+02:00", utc},
		{"fractional seconds", "2024-05-01T10:30:00.250Z", utc.Add(250 * time.Millisecond)},
		{"no offset means utc", "2024-05-01T10:30:00", utc},
		{"no offset fractional", "2024-05-01T10:30:00.5", utc.Add(500 * time.Millisecond)},
		{"space separator", "2024-05-01 10:30:00", utc},
		{"time value passthrough", utc, utc},
		{"time pointer", &utc, utc},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			if err != nil {
				t.Fatalf("ParseTimestamp(%v) error: %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp(%v) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseTimestampInvalid(t *testing.T) {
	inputs := []interface{}{
		"yesterday",
		"2024-13-40T99:99:99Z",
		"",
		42,
		(*time.Time)(nil),
	}
	for _, input := range inputs {
		_, err := ParseTimestamp(input)
		if err == nil {
			t.Errorf("ParseTimestamp(%v) accepted invalid input", input)
			continue
		}
		if !IsInvalidTimestamp(err) {
			t.Errorf("ParseTimestamp(%v) error type = %T, want InvalidTimestampFormatError", input, err)
		}
	}
}

func TestValidateLock(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		expected time.Time
		actual   time.Time
		conflict bool
	}{
		{"exact match", base, base, false},
		{"within tolerance behind", base, base.Add(800 * time.Millisecond), false},
		{"within tolerance ahead", base.Add(time.Second), base, false},
		{"at tolerance boundary", base, base.Add(time.Second), false},
		{"beyond tolerance", base, base.Add(1500 * time.Millisecond), true},
		{"minutes stale", base, base.Add(3 * time.Minute), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLock(tt.expected, tt.actual, 7, "User")
			if tt.conflict {
				if !IsConflict(err) {
					t.Fatalf("ValidateLock = %v, want conflict", err)
				}
				var conflict *OptimisticLockConflictError
				errors.As(err, &conflict)
				if conflict.Entity != "User" || conflict.ID != 7 {
					t.Errorf("conflict context = %+v", conflict)
				}
				if !conflict.Expected.Equal(tt.expected) || !conflict.Actual.Equal(tt.actual) {
					t.Errorf("conflict timestamps = %s / %s", conflict.Expected, conflict.Actual)
				}
			} else if err != nil {
				t.Errorf("ValidateLock = %v, want match", err)
			}
		})
	}
}

func TestCollectLockTimestamps(t *testing.T) {
	payload := map[string]interface{}{
		"username":   "alice",
		"updated_at": "2024-05-01T10:30:00Z",
		"profile": map[string]interface{}{
			"bio":        "hi",
			"updated_at": "2024-05-01T10:31:00Z",
		},
		"posts": []interface{}{
			map[string]interface{}{"title": "first"},
			map[string]interface{}{
				"title":      "second",
				"updated_at": "2024-05-01T10:32:00Z",
			},
		},
	}

	stamps, err := CollectLockTimestamps(payload)
	if err != nil {
		t.Fatalf("CollectLockTimestamps error: %v", err)
	}

	wantPaths := map[string]bool{
		"updated_at":          true,
		"profile.updated_at":  true,
		"posts[1].updated_at": true,
	}
	if len(stamps) != len(wantPaths) {
		t.Fatalf("collected %d stamps, want %d: %+v", len(stamps), len(wantPaths), stamps)
	}
	for _, s := range stamps {
		if !wantPaths[s.Path] {
			t.Errorf("unexpected path %q", s.Path)
		}
		if s.Value.IsZero() {
			t.Errorf("stamp %q has zero value", s.Path)
		}
	}
}

func TestCollectLockTimestampsInvalid(t *testing.T) {
	_, err := CollectLockTimestamps(map[string]interface{}{
		"profile": map[string]interface{}{"updated_at": "not a timestamp"},
	})
	if !IsInvalidTimestamp(err) {
		t.Errorf("error = %v, want InvalidTimestampFormatError", err)
	}
}
