package cache

import (
	"testing"
	"time"

	"github.com/ammar0144/rel4go/pkg/storage"
)

func TestRecordRoundTrip(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := storage.Record{
		"id":         int64(42),
		"username":   "alice",
		"score":      3.5,
		"active":     true,
		"bio":        nil,
		"created_at": created,
	}

	data, err := EncodeRecord(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeRecord(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got["username"] != "alice" {
		t.Errorf("username = %v", got["username"])
	}
	if got["score"] != 3.5 {
		t.Errorf("score = %v (%T)", got["score"], got["score"])
	}
	if got["active"] != true {
		t.Errorf("active = %v", got["active"])
	}
	if v, ok := got["bio"]; !ok || v != nil {
		t.Errorf("bio = %v, present=%v", v, ok)
	}
	ts, ok := got["created_at"].(time.Time)
	if !ok {
		t.Fatalf("created_at decoded as %T", got["created_at"])
	}
	if !ts.Equal(created) {
		t.Errorf("created_at = %v, want %v", ts, created)
	}
}

// Small integers must come back as int64 regardless of how narrowly msgpack
// packed them, so cached rows compare equal to rows read from the store.
func TestDecodeWidensIntegers(t *testing.T) {
	data, err := EncodeRecord(storage.Record{"tiny": 7, "big": int64(1) << 40})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeRecord(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if v, ok := got["tiny"].(int64); !ok || v != 7 {
		t.Errorf("tiny = %v (%T), want int64(7)", got["tiny"], got["tiny"])
	}
	if v, ok := got["big"].(int64); !ok || v != int64(1)<<40 {
		t.Errorf("big = %v (%T)", got["big"], got["big"])
	}
}

func TestRecordsRoundTrip(t *testing.T) {
	rows := []storage.Record{
		{"id": int64(1), "title": "first"},
		{"id": int64(2), "title": "second"},
	}

	data, err := EncodeRecords(rows)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeRecords(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0]["title"] != "first" || got[1]["title"] != "second" {
		t.Errorf("titles = %v, %v", got[0]["title"], got[1]["title"])
	}
	if v, ok := got[1]["id"].(int64); !ok || v != 2 {
		t.Errorf("id = %v (%T), want int64(2)", got[1]["id"], got[1]["id"])
	}
}

func TestRecordsRoundTripEmpty(t *testing.T) {
	data, err := EncodeRecords(nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeRecords(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestDecodeRecordRejectsGarbage(t *testing.T) {
	if _, err := DecodeRecord([]byte{0xc1, 0xff, 0x00}); err == nil {
		t.Error("expected error for invalid payload")
	}
}
