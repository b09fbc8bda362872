// Package codec encodes unified index snapshots for persistent storage.
//
// A snapshot is a JSON array of records compressed with zstd. The JSON is
// canonicalised (RFC 8785) before compression so identical indexes always
// produce identical bytes.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gowebpki/jcs"
	"github.com/klauspost/compress/zstd"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

// ContentType is the media type written alongside encoded snapshots.
const ContentType = "application/zstd"

// Encode serialises records into a compressed snapshot.
func Encode(records []domain.Record) ([]byte, error) {
	if records == nil {
		records = []domain.Record{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshalling snapshot: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalising snapshot: %w", err)
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := enc.Write(canonical); err != nil {
		enc.Close()
		return nil, fmt.Errorf("compressing snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("compressing snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode.
func Decode(r io.Reader) ([]domain.Record, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer dec.Close()

	var records []domain.Record
	if err := json.NewDecoder(dec).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return records, nil
}

// DecodeBytes is Decode over an in-memory snapshot.
func DecodeBytes(data []byte) ([]domain.Record, error) {
	return Decode(bytes.NewReader(data))
}
