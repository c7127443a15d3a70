package memory

import (
	"context"
	"fmt"

	"github.com/quotefriends/backend/internal/docstore"
)

type txKey struct {
	collection string
	id         string
}

type stagedDoc struct {
	fields  map[string]any
	deleted bool
}

type transaction struct {
	store  *Store
	staged map[txKey]*stagedDoc
}

func (t *transaction) current(collection, id string) (map[string]any, bool) {
	if doc, ok := t.staged[txKey{collection, id}]; ok {
		if doc.deleted {
			return nil, false
		}
		return docstore.Document{Fields: doc.fields}.Clone().Fields, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	fields, ok := t.store.data[collection][id]
	if !ok {
		return nil, false
	}
	return docstore.Document{Fields: fields}.Clone().Fields, true
}

func (t *transaction) Get(_ context.Context, collection, id string) (docstore.Document, error) {
	if err := t.store.checkFault(OpGet, collection, id); err != nil {
		return docstore.Document{}, err
	}
	fields, ok := t.current(collection, id)
	if !ok {
		return docstore.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return docstore.Document{ID: id, Fields: fields}, nil
}

func (t *transaction) Set(_ context.Context, collection, id string, fields map[string]any, opts docstore.SetOptions) error {
	if err := t.store.checkFault(OpTxSet, collection, id); err != nil {
		return err
	}
	written := docstore.CanonicalFields(fields, t.store.now())
	if existing, ok := t.current(collection, id); ok && opts.Merge {
		for k, v := range written {
			existing[k] = v
		}
		written = existing
	}
	t.staged[txKey{collection, id}] = &stagedDoc{fields: written}
	return nil
}

func (t *transaction) Update(_ context.Context, collection, id string, mutations ...docstore.Mutation) error {
	if err := t.store.checkFault(OpTxUpdate, collection, id); err != nil {
		return err
	}
	fields, ok := t.current(collection, id)
	if !ok {
		return fmt.Errorf("update %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	if err := docstore.ApplyMutations(fields, mutations, t.store.now()); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	t.staged[txKey{collection, id}] = &stagedDoc{fields: fields}
	return nil
}

func (t *transaction) Delete(_ context.Context, collection, id string) error {
	t.staged[txKey{collection, id}] = &stagedDoc{deleted: true}
	return nil
}
