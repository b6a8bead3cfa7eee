package cache

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ammar0144/rel4go/pkg/storage"
)

// Records travel through Redis as msgpack. Loose interface decoding keeps
// numeric widths uniform (int64/float64) so cached rows compare equal to
// rows read from the store, and time values survive as time.Time through
// the msgpack timestamp extension.

// EncodeRecord serializes one record
func EncodeRecord(rec storage.Record) ([]byte, error) {
	data, err := msgpack.Marshal(map[string]interface{}(rec))
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return data, nil
}

// DecodeRecord deserializes one record
func DecodeRecord(data []byte) (storage.Record, error) {
	var out map[string]interface{}
	if err := decodeLoose(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return storage.Record(out), nil
}

// EncodeRecords serializes a result page
func EncodeRecords(recs []storage.Record) ([]byte, error) {
	rows := make([]map[string]interface{}, len(recs))
	for i, rec := range recs {
		rows[i] = rec
	}
	data, err := msgpack.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to encode records: %w", err)
	}
	return data, nil
}

// DecodeRecords deserializes a result page
func DecodeRecords(data []byte) ([]storage.Record, error) {
	var rows []map[string]interface{}
	if err := decodeLoose(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	out := make([]storage.Record, len(rows))
	for i, row := range rows {
		out[i] = storage.Record(row)
	}
	return out, nil
}

func decodeLoose(data []byte, target interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(target)
}
