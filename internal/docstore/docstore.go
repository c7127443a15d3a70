// Package docstore defines the document store contract consumed by the feed
// and relationship engine: keyed documents grouped in collections, field
// mutations with set and counter semantics, membership queries and live
// query subscriptions.
package docstore

import (
	"context"
	"sort"
)

// Collection names used by the engine.
const (
	CollectionUsers     = "users"
	CollectionQuotes    = "quotes"
	CollectionUsernames = "usernames"
)

// Document is a single record addressed by collection and id.
type Document struct {
	ID     string
	Fields map[string]any
}

// Get returns the raw value stored under field.
func (d Document) Get(field string) any {
	if field == FieldID {
		return d.ID
	}
	if d.Fields == nil {
		return nil
	}
	return d.Fields[field]
}

// Clone returns a deep copy so callers can hand documents across goroutines.
func (d Document) Clone() Document {
	return Document{ID: d.ID, Fields: cloneFields(d.Fields)}
}

// SetOptions controls Set behaviour.
type SetOptions struct {
	// Merge keeps fields that are not present in the written map.
	Merge bool
}

// Snapshot is one delivery of a live query: the complete current result set
// plus the ids that left it since the previous delivery.
type Snapshot struct {
	Docs    []Document
	Removed []string
}

// Handler receives subscription deliveries. Deliveries for one subscription
// are serialized; err is non-nil for a faulted delivery.
type Handler func(snap Snapshot, err error)

// Subscription is a standing query.
type Subscription interface {
	// Cancel stops deliveries. Once it returns the handler is not invoked again.
	Cancel()
}

// Store is the remote document store.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Create(ctx context.Context, collection string, fields map[string]any) (string, error)
	Set(ctx context.Context, collection, id string, fields map[string]any, opts SetOptions) error
	Update(ctx context.Context, collection, id string, mutations ...Mutation) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, q Query) ([]Document, error)
	Subscribe(ctx context.Context, q Query, handler Handler) (Subscription, error)
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the view of the store inside an all-or-nothing transaction.
type Tx interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Set(ctx context.Context, collection, id string, fields map[string]any, opts SetOptions) error
	Update(ctx context.Context, collection, id string, mutations ...Mutation) error
	Delete(ctx context.Context, collection, id string) error
}

// SortByID orders documents by id so query results are deterministic.
func SortByID(docs []Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
}

func cloneFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case map[string]any:
		return cloneFields(t)
	default:
		return v
	}
}
