// Package memory implements docstore.Store in process. It backs tests and
// local development and supports live subscriptions, transactions and fault
// injection.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quotefriends/backend/internal/docstore"
)

// Op names a store operation for fault injection.
type Op string

const (
	OpGet         Op = "get"
	OpCreate      Op = "create"
	OpSet         Op = "set"
	OpUpdate      Op = "update"
	OpDelete      Op = "delete"
	OpQuery       Op = "query"
	OpSubscribe   Op = "subscribe"
	OpTransaction Op = "transaction"
	OpTxUpdate    Op = "tx.update"
	OpTxSet       Op = "tx.set"
)

// FaultFunc returns a non-nil error to make the operation fail.
type FaultFunc func(op Op, collection, id string) error

// Store is an in-memory docstore.Store.
type Store struct {
	mu     sync.RWMutex
	data   map[string]map[string]map[string]any
	now    func() time.Time
	fault  FaultFunc
	paused bool

	// txMu serializes writers so transactions see a stable view.
	txMu sync.Mutex

	subsMu sync.Mutex
	subs   map[*subscription]struct{}
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		data: make(map[string]map[string]map[string]any),
		now:  time.Now,
		subs: make(map[*subscription]struct{}),
	}
}

// WithNowFunc overrides the server clock used for ServerTimestamp.
func (s *Store) WithNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// InjectFault installs fn, replacing any previous fault. Pass nil to clear.
func (s *Store) InjectFault(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// PauseDeliveries holds back subscription deliveries until ResumeDeliveries.
// Writes still apply.
func (s *Store) PauseDeliveries() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// ResumeDeliveries releases deliveries held by PauseDeliveries.
func (s *Store) ResumeDeliveries() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.notifyAll()
}

// FailSubscriptions delivers err to every active subscription whose query
// satisfies match.
func (s *Store) FailSubscriptions(match func(docstore.Query) bool, err error) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for sub := range s.subs {
		if match == nil || match(sub.query) {
			select {
			case sub.errs <- err:
			default:
			}
		}
	}
}

// ActiveSubscriptions reports how many subscriptions are open.
func (s *Store) ActiveSubscriptions() int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return len(s.subs)
}

// Get returns a copy of the document.
func (s *Store) Get(_ context.Context, collection, id string) (docstore.Document, error) {
	if err := s.checkFault(OpGet, collection, id); err != nil {
		return docstore.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(collection, id)
}

// Create stores fields under a new random id.
func (s *Store) Create(_ context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.checkFault(OpCreate, collection, id); err != nil {
		return "", err
	}
	s.txMu.Lock()
	s.mu.Lock()
	s.setLocked(collection, id, fields, docstore.SetOptions{})
	s.mu.Unlock()
	s.txMu.Unlock()
	s.notifyAll()
	return id, nil
}

// Set writes the document, merging when requested.
func (s *Store) Set(_ context.Context, collection, id string, fields map[string]any, opts docstore.SetOptions) error {
	if err := s.checkFault(OpSet, collection, id); err != nil {
		return err
	}
	s.txMu.Lock()
	s.mu.Lock()
	s.setLocked(collection, id, fields, opts)
	s.mu.Unlock()
	s.txMu.Unlock()
	s.notifyAll()
	return nil
}

// Update applies mutations to an existing document.
func (s *Store) Update(_ context.Context, collection, id string, mutations ...docstore.Mutation) error {
	if err := s.checkFault(OpUpdate, collection, id); err != nil {
		return err
	}
	s.txMu.Lock()
	s.mu.Lock()
	err := s.updateLocked(collection, id, mutations)
	s.mu.Unlock()
	s.txMu.Unlock()
	if err != nil {
		return err
	}
	s.notifyAll()
	return nil
}

// Delete removes the document. Deleting a missing document is a no-op.
func (s *Store) Delete(_ context.Context, collection, id string) error {
	if err := s.checkFault(OpDelete, collection, id); err != nil {
		return err
	}
	s.txMu.Lock()
	s.mu.Lock()
	if coll, ok := s.data[collection]; ok {
		delete(coll, id)
	}
	s.mu.Unlock()
	s.txMu.Unlock()
	s.notifyAll()
	return nil
}

// Query returns every matching document ordered by id.
func (s *Store) Query(_ context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkFault(OpQuery, q.Collection, ""); err != nil {
		return nil, err
	}
	return s.evaluate(q), nil
}

// RunTransaction executes fn against a staged view of the store and commits
// every staged write at once when fn succeeds. Transactions are serialized.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	if err := s.checkFault(OpTransaction, "", ""); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &transaction{store: s, staged: make(map[txKey]*stagedDoc)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	for key, doc := range tx.staged {
		if doc.deleted {
			if coll, ok := s.data[key.collection]; ok {
				delete(coll, key.id)
			}
			continue
		}
		coll := s.collectionLocked(key.collection)
		coll[key.id] = doc.fields
	}
	s.mu.Unlock()

	if len(tx.staged) > 0 {
		s.notifyAll()
	}
	return nil
}

func (s *Store) checkFault(op Op, collection, id string) error {
	s.mu.RLock()
	fault := s.fault
	s.mu.RUnlock()
	if fault == nil {
		return nil
	}
	return fault(op, collection, id)
}

func (s *Store) collectionLocked(collection string) map[string]map[string]any {
	coll, ok := s.data[collection]
	if !ok {
		coll = make(map[string]map[string]any)
		s.data[collection] = coll
	}
	return coll
}

func (s *Store) getLocked(collection, id string) (docstore.Document, error) {
	fields, ok := s.data[collection][id]
	if !ok {
		return docstore.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return docstore.Document{ID: id, Fields: fields}.Clone(), nil
}

func (s *Store) setLocked(collection, id string, fields map[string]any, opts docstore.SetOptions) {
	coll := s.collectionLocked(collection)
	written := docstore.CanonicalFields(fields, s.now())
	if existing, ok := coll[id]; ok && opts.Merge {
		merged := docstore.Document{Fields: existing}.Clone().Fields
		for k, v := range written {
			merged[k] = v
		}
		written = merged
	}
	coll[id] = written
}

func (s *Store) updateLocked(collection, id string, mutations []docstore.Mutation) error {
	existing, ok := s.data[collection][id]
	if !ok {
		return fmt.Errorf("update %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	fields := docstore.Document{Fields: existing}.Clone().Fields
	if err := docstore.ApplyMutations(fields, mutations, s.now()); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	s.data[collection][id] = fields
	return nil
}

func (s *Store) evaluate(q docstore.Query) []docstore.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []docstore.Document
	for id, fields := range s.data[q.Collection] {
		doc := docstore.Document{ID: id, Fields: fields}
		if q.Matches(doc) {
			out = append(out, doc.Clone())
		}
	}
	docstore.SortByID(out)
	return out
}

func (s *Store) isPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

var _ docstore.Store = (*Store)(nil)
