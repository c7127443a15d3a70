package docstore

import (
	"fmt"
	"math"
	"time"
)

// MutationKind selects how a field is changed.
type MutationKind int

const (
	// MutationSet overwrites the field.
	MutationSet MutationKind = iota
	// MutationArrayUnion adds values to an array field, skipping ones already present.
	MutationArrayUnion
	// MutationArrayRemove removes every occurrence of the values; absent values are ignored.
	MutationArrayRemove
	// MutationIncrement adds Delta to a numeric field, treating a missing field as zero.
	MutationIncrement
)

// Mutation is one field change applied by Update.
type Mutation struct {
	Field  string
	Kind   MutationKind
	Value  any
	Values []string
	Delta  int64
}

// SetField overwrites field with value.
func SetField(field string, value any) Mutation {
	return Mutation{Field: field, Kind: MutationSet, Value: value}
}

// ArrayUnion adds values to a set-valued field.
func ArrayUnion(field string, values ...string) Mutation {
	return Mutation{Field: field, Kind: MutationArrayUnion, Values: values}
}

// ArrayRemove removes values from a set-valued field.
func ArrayRemove(field string, values ...string) Mutation {
	return Mutation{Field: field, Kind: MutationArrayRemove, Values: values}
}

// Increment adds delta to a counter field.
func Increment(field string, delta int64) Mutation {
	return Mutation{Field: field, Kind: MutationIncrement, Delta: delta}
}

type serverTimestamp struct{}

// ServerTimestamp is replaced with the store's clock when written.
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// ApplyMutations applies mutations to fields in place. Stores that lack
// native set and counter operators share this implementation.
func ApplyMutations(fields map[string]any, mutations []Mutation, now time.Time) error {
	for _, m := range mutations {
		if m.Field == "" || m.Field == FieldID {
			return fmt.Errorf("mutation field %q is not writable", m.Field)
		}
		switch m.Kind {
		case MutationSet:
			fields[m.Field] = Canonical(m.Value, now)
		case MutationArrayUnion:
			current := StringSet(fields[m.Field])
			for _, v := range m.Values {
				if !containsString(current, v) {
					current = append(current, v)
				}
			}
			fields[m.Field] = current
		case MutationArrayRemove:
			current := StringSet(fields[m.Field])
			kept := current[:0]
			for _, v := range current {
				if !containsString(m.Values, v) {
					kept = append(kept, v)
				}
			}
			fields[m.Field] = kept
		case MutationIncrement:
			fields[m.Field] = Int(fields[m.Field]) + m.Delta
		default:
			return fmt.Errorf("unknown mutation kind %d", m.Kind)
		}
	}
	return nil
}

// CanonicalFields converts a written field map to the canonical value forms.
func CanonicalFields(fields map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == FieldID {
			continue
		}
		out[k] = Canonical(v, now)
	}
	return out
}

// Canonical normalizes a field value: integers become int64, string arrays
// become []string, timestamps become UTC time.Time and ServerTimestamp
// becomes now.
func Canonical(v any, now time.Time) any {
	switch t := v.(type) {
	case serverTimestamp:
		return now.UTC()
	case time.Time:
		return t.UTC()
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case []string:
		return append([]string{}, t...)
	case []any:
		if set, ok := stringsOnly(t); ok {
			return set
		}
		out := make([]any, len(t))
		for i := range t {
			out[i] = Canonical(t[i], now)
		}
		return out
	default:
		return v
	}
}

// StringSet reads an array field as strings, ignoring non-string members.
func StringSet(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string{}, t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}

// Int reads a numeric field. Missing and non-numeric values read as zero.
func Int(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(math.Round(t))
	case float32:
		return int64(math.Round(float64(t)))
	default:
		return 0
	}
}

// String reads a string field.
func String(v any) string {
	s, _ := v.(string)
	return s
}

// Time reads a timestamp field stored either natively or as RFC 3339 text.
func Time(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}
		}
		return parsed.UTC()
	case interface{ Time() time.Time }:
		return t.Time().UTC()
	default:
		return time.Time{}
	}
}

func stringsOnly(in []any) ([]string, bool) {
	out := make([]string, 0, len(in))
	for _, v := range in {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
