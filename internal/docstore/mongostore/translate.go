package mongostore

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/quotefriends/backend/internal/docstore"
)

func fieldName(field string) string {
	if field == docstore.FieldID {
		return "_id"
	}
	return field
}

// buildFilter translates a query's predicates. An array field compared by
// equality matches when any element equals the value, which is exactly the
// Contains semantics.
func buildFilter(q docstore.Query) (bson.D, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	clauses := make(bson.A, 0, len(q.Where))
	for _, p := range q.Where {
		name := fieldName(p.Field)
		switch p.Op {
		case docstore.OpEq:
			clauses = append(clauses, bson.D{{Key: name, Value: p.Value}})
		case docstore.OpIn:
			clauses = append(clauses, bson.D{{Key: name, Value: bson.D{{Key: "$in", Value: p.Values}}}})
		case docstore.OpContains:
			if name == "_id" {
				return nil, fmt.Errorf("%w: %s is not supported on the document id", docstore.ErrInvalidQuery, p.Op)
			}
			clauses = append(clauses, bson.D{{Key: name, Value: p.Value}})
		}
	}

	switch len(clauses) {
	case 0:
		return bson.D{}, nil
	case 1:
		return clauses[0].(bson.D), nil
	default:
		return bson.D{{Key: "$and", Value: clauses}}, nil
	}
}

// buildUpdate translates mutations into update operators. ServerTimestamp
// uses $currentDate so the database clock stamps the write.
func buildUpdate(mutations []docstore.Mutation, now time.Time) (bson.D, error) {
	var (
		set         = bson.D{}
		addToSet    = bson.D{}
		pull        = bson.D{}
		inc         = bson.D{}
		currentDate = bson.D{}
		seen        = make(map[string]struct{}, len(mutations))
	)

	for _, m := range mutations {
		if m.Field == "" || m.Field == docstore.FieldID {
			return nil, fmt.Errorf("mutation field %q is not writable", m.Field)
		}
		if _, dup := seen[m.Field]; dup {
			return nil, fmt.Errorf("field %q is mutated more than once in one update", m.Field)
		}
		seen[m.Field] = struct{}{}

		switch m.Kind {
		case docstore.MutationSet:
			if docstore.IsServerTimestamp(m.Value) {
				currentDate = append(currentDate, bson.E{Key: m.Field, Value: bson.D{{Key: "$type", Value: "date"}}})
				continue
			}
			set = append(set, bson.E{Key: m.Field, Value: docstore.Canonical(m.Value, now)})
		case docstore.MutationArrayUnion:
			addToSet = append(addToSet, bson.E{Key: m.Field, Value: bson.D{{Key: "$each", Value: nonNil(m.Values)}}})
		case docstore.MutationArrayRemove:
			pull = append(pull, bson.E{Key: m.Field, Value: bson.D{{Key: "$in", Value: nonNil(m.Values)}}})
		case docstore.MutationIncrement:
			inc = append(inc, bson.E{Key: m.Field, Value: m.Delta})
		default:
			return nil, fmt.Errorf("unknown mutation kind %d", m.Kind)
		}
	}

	update := bson.D{}
	for _, op := range []struct {
		name string
		doc  bson.D
	}{
		{"$set", set},
		{"$addToSet", addToSet},
		{"$pull", pull},
		{"$inc", inc},
		{"$currentDate", currentDate},
	} {
		if len(op.doc) > 0 {
			update = append(update, bson.E{Key: op.name, Value: op.doc})
		}
	}
	return update, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// toBSON builds the stored representation of a document.
func toBSON(id string, fields map[string]any, now time.Time) bson.M {
	out := bson.M{"_id": id}
	for k, v := range docstore.CanonicalFields(fields, now) {
		out[k] = v
	}
	return out
}

// fromBSON converts a decoded document into canonical field values.
func fromBSON(raw bson.M) docstore.Document {
	id, _ := raw["_id"].(string)
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "_id" {
			continue
		}
		fields[k] = fromBSONValue(v)
	}
	return docstore.Document{ID: id, Fields: fields}
}

func fromBSONValue(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case int32:
		return int64(t)
	case bson.A:
		return docstore.Canonical([]any(t), time.Time{})
	case []any:
		return docstore.Canonical(t, time.Time{})
	case bson.M:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = fromBSONValue(inner)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = fromBSONValue(e.Value)
		}
		return out
	default:
		return v
	}
}
