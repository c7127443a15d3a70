// Package pgstore implements docstore.Store on PostgreSQL or CockroachDB.
// Documents live as JSONB rows keyed by (collection, id). Field mutations are
// applied inside serializable transactions retried by crdbpgxv5, and live
// queries are served by polling.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	crdbpgxv5 "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quotefriends/backend/internal/db"
	"github.com/quotefriends/backend/internal/docstore"
)

// DefaultPollInterval is how often a subscription re-runs its query.
const DefaultPollInterval = 500 * time.Millisecond

// Options configure the store.
type Options struct {
	PollInterval time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Store is a SQL-backed docstore.Store.
type Store struct {
	pool         db.Pool
	pollInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// New constructs a store on an open pool. Run Migrate before first use.
func New(pool db.Pool, opts Options) *Store {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		pool:         pool,
		pollInterval: opts.PollInterval,
		logger:       opts.Logger,
		now:          opts.Now,
	}
}

var txOptions = pgx.TxOptions{IsoLevel: pgx.Serializable}

// Get returns a single document.
func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	return getDocument(ctx, s.pool, selectOneSQL, collection, id)
}

// Create inserts fields under a new random id.
func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	data, err := encodeFields(fields, s.now())
	if err != nil {
		return "", err
	}
	if _, err := s.pool.Exec(ctx, insertSQL, collection, id, data, s.now().UTC()); err != nil {
		return "", classify("insert "+collection, err)
	}
	return id, nil
}

// Set writes a document, merging with the stored fields when requested.
func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any, opts docstore.SetOptions) error {
	if !opts.Merge {
		data, err := encodeFields(fields, s.now())
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, upsertSQL, collection, id, data, s.now().UTC()); err != nil {
			return classify("upsert "+collection, err)
		}
		return nil
	}
	return s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return tx.Set(ctx, collection, id, fields, opts)
	})
}

// Update applies mutations to an existing document in one transaction.
func (s *Store) Update(ctx context.Context, collection, id string, mutations ...docstore.Mutation) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return tx.Update(ctx, collection, id, mutations...)
	})
}

// Delete removes a document. Deleting a missing document is a no-op.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.pool.Exec(ctx, deleteSQL, collection, id); err != nil {
		return classify("delete "+collection, err)
	}
	return nil
}

// Query returns every matching document ordered by id.
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	sql, args, err := buildSelect(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify("query "+q.Collection, err)
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, classify("scan "+q.Collection, err)
		}
		fields, err := decodeFields(data)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", q.Collection, id, err)
		}
		docs = append(docs, docstore.Document{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate "+q.Collection, err)
	}
	return docs, nil
}

// RunTransaction runs fn in a serializable transaction. Serialization
// conflicts restart fn from the beginning.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	err := crdbpgxv5.ExecuteTx(ctx, s.pool, txOptions, func(pgxTx pgx.Tx) error {
		return fn(ctx, &transaction{tx: pgxTx, now: s.now})
	})
	if err != nil {
		return classify("transaction", err)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getDocument(ctx context.Context, q querier, sql, collection, id string) (docstore.Document, error) {
	var data []byte
	if err := q.QueryRow(ctx, sql, collection, id).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return docstore.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, docstore.ErrNotFound)
		}
		return docstore.Document{}, classify("get "+collection, err)
	}
	fields, err := decodeFields(data)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return docstore.Document{ID: id, Fields: fields}, nil
}

type transaction struct {
	tx  pgx.Tx
	now func() time.Time
}

func (t *transaction) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	return getDocument(ctx, t.tx, selectForUpdateSQL, collection, id)
}

func (t *transaction) Set(ctx context.Context, collection, id string, fields map[string]any, opts docstore.SetOptions) error {
	written := fields
	if opts.Merge {
		existing, err := t.Get(ctx, collection, id)
		switch {
		case err == nil:
			merged := existing.Fields
			for k, v := range fields {
				merged[k] = v
			}
			written = merged
		case !errors.Is(err, docstore.ErrNotFound):
			return err
		}
	}

	data, err := encodeFields(written, t.now())
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, upsertSQL, collection, id, data, t.now().UTC()); err != nil {
		return classify("upsert "+collection, err)
	}
	return nil
}

func (t *transaction) Update(ctx context.Context, collection, id string, mutations ...docstore.Mutation) error {
	doc, err := t.Get(ctx, collection, id)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if err := docstore.ApplyMutations(doc.Fields, mutations, t.now()); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	data, err := encodeFields(doc.Fields, t.now())
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, updateSQL, collection, id, data, t.now().UTC()); err != nil {
		return classify("update "+collection, err)
	}
	return nil
}

func (t *transaction) Delete(ctx context.Context, collection, id string) error {
	if _, err := t.tx.Exec(ctx, deleteSQL, collection, id); err != nil {
		return classify("delete "+collection, err)
	}
	return nil
}

var _ docstore.Store = (*Store)(nil)
