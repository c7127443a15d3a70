package pgstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quotefriends/backend/internal/docstore"
)

// encodeFields canonicalizes fields and marshals them for the JSONB column.
func encodeFields(fields map[string]any, now time.Time) ([]byte, error) {
	canonical := docstore.CanonicalFields(fields, now)
	data, err := json.Marshal(canonical)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// decodeFields reads a JSONB document back into canonical value forms:
// whole numbers become int64 and string arrays become []string.
func decodeFields(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if raw == nil {
		return map[string]any{}, nil
	}
	for k, v := range raw {
		raw[k] = decodeValue(v)
	}
	return raw, nil
}

func decodeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		strs := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				out := make([]any, len(t))
				for i := range t {
					out[i] = decodeValue(t[i])
				}
				return out
			}
			strs = append(strs, s)
		}
		return strs
	case map[string]any:
		for k, inner := range t {
			t[k] = decodeValue(inner)
		}
		return t
	default:
		return v
	}
}
