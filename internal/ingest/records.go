package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Page is one page of the vendor transaction listing.
type Page struct {
	Count int      `json:"count"`
	Next  string   `json:"next"`
	Data  []Record `json:"data"`
}

// DecodeRecords reads vendor records from r. Accepts a bare JSON array, a
// single object, or a listing page with a "data" array.
func DecodeRecords(r io.Reader) ([]Record, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	switch raw[0] {
	case '[':
		var recs []Record
		if err := json.Unmarshal(raw, &recs); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		return recs, nil
	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		if _, ok := probe["data"]; ok {
			var page Page
			if err := json.Unmarshal(raw, &page); err != nil {
				return nil, fmt.Errorf("decode page: %w", err)
			}
			return page.Data, nil
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		return []Record{rec}, nil
	default:
		return nil, fmt.Errorf("decode records: expected a JSON array or object")
	}
}
