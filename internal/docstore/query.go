package docstore

import (
	"fmt"
	"strings"
)

// FieldID addresses the document id in predicates.
const FieldID = "__id"

// MaxInValues is the cardinality cap of the In predicate.
const MaxInValues = 10

// Operator is a predicate comparison.
type Operator string

const (
	// OpEq matches when the field equals the value.
	OpEq Operator = "=="
	// OpIn matches when the field equals one of the values.
	OpIn Operator = "in"
	// OpContains matches when the array field contains the value.
	OpContains Operator = "array-contains"
)

// Predicate is a single filter clause.
type Predicate struct {
	Field  string
	Op     Operator
	Value  string
	Values []string
}

// Eq builds an equality predicate.
func Eq(field, value string) Predicate {
	return Predicate{Field: field, Op: OpEq, Value: value}
}

// In builds a membership predicate. At most MaxInValues values are allowed.
func In(field string, values ...string) Predicate {
	return Predicate{Field: field, Op: OpIn, Values: append([]string(nil), values...)}
}

// Contains builds an "array field contains value" predicate.
func Contains(field, value string) Predicate {
	return Predicate{Field: field, Op: OpContains, Value: value}
}

// Query selects documents of one collection matching every predicate.
type Query struct {
	Collection string
	Where      []Predicate
}

// Where is shorthand for building a Query.
func Where(collection string, preds ...Predicate) Query {
	return Query{Collection: collection, Where: preds}
}

func (q Query) String() string {
	parts := make([]string, 0, len(q.Where))
	for _, p := range q.Where {
		if p.Op == OpIn {
			parts = append(parts, fmt.Sprintf("%s in [%s]", p.Field, strings.Join(p.Values, ",")))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s %q", p.Field, p.Op, p.Value))
	}
	return fmt.Sprintf("%s where %s", q.Collection, strings.Join(parts, " and "))
}

// Validate rejects queries no backend can serve.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Collection) == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidQuery)
	}
	for _, p := range q.Where {
		if p.Field == "" {
			return fmt.Errorf("%w: predicate field is required", ErrInvalidQuery)
		}
		switch p.Op {
		case OpEq, OpContains:
		case OpIn:
			if len(p.Values) == 0 {
				return fmt.Errorf("%w: in predicate on %s has no values", ErrInvalidQuery, p.Field)
			}
			if len(p.Values) > MaxInValues {
				return fmt.Errorf("%w: in predicate on %s has %d values, max %d", ErrInvalidQuery, p.Field, len(p.Values), MaxInValues)
			}
		default:
			return fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, p.Op)
		}
	}
	return nil
}

// Matches evaluates the query against a document in memory.
func (q Query) Matches(doc Document) bool {
	for _, p := range q.Where {
		if !p.matches(doc) {
			return false
		}
	}
	return true
}

func (p Predicate) matches(doc Document) bool {
	raw := doc.Get(p.Field)
	switch p.Op {
	case OpEq:
		s, ok := raw.(string)
		return ok && s == p.Value
	case OpIn:
		s, ok := raw.(string)
		if !ok {
			return false
		}
		for _, v := range p.Values {
			if v == s {
				return true
			}
		}
		return false
	case OpContains:
		for _, v := range StringSet(raw) {
			if v == p.Value {
				return true
			}
		}
		return false
	default:
		return false
	}
}
