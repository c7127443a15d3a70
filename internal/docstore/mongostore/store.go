// Package mongostore implements docstore.Store on MongoDB. Set and counter
// mutations map onto $addToSet, $pull and $inc, transactions use sessions,
// and live queries are driven by change streams. Transactions and change
// streams need a replica set deployment.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/quotefriends/backend/internal/docstore"
)

// Connect opens a client and verifies connectivity against the primary.
func Connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// Store is a MongoDB-backed docstore.Store.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a store over the named database.
func New(client *mongo.Client, database string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		db:     client.Database(database),
		logger: logger,
		now:    time.Now,
	}
}

// Ping checks connectivity against the primary.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// Get returns a single document.
func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	return s.get(ctx, collection, id)
}

func (s *Store) get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var raw bson.M
	err := s.collection(collection).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return docstore.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, docstore.ErrNotFound)
		}
		return docstore.Document{}, classify("get "+collection, err)
	}
	return fromBSON(raw), nil
}

// Create inserts fields under a new random id.
func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if _, err := s.collection(collection).InsertOne(ctx, toBSON(id, fields, s.now())); err != nil {
		return "", classify("insert "+collection, err)
	}
	return id, nil
}

// Set replaces the document, or merges top-level fields when requested.
func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any, opts docstore.SetOptions) error {
	return s.set(ctx, collection, id, fields, opts)
}

func (s *Store) set(ctx context.Context, collection, id string, fields map[string]any, opts docstore.SetOptions) error {
	coll := s.collection(collection)
	filter := bson.D{{Key: "_id", Value: id}}
	if opts.Merge {
		doc := toBSON(id, fields, s.now())
		delete(doc, "_id")
		if len(doc) == 0 {
			return nil
		}
		_, err := coll.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: doc}}, options.Update().SetUpsert(true))
		return classify("merge "+collection, err)
	}
	_, err := coll.ReplaceOne(ctx, filter, toBSON(id, fields, s.now()), options.Replace().SetUpsert(true))
	return classify("replace "+collection, err)
}

// Update applies mutations to an existing document atomically.
func (s *Store) Update(ctx context.Context, collection, id string, mutations ...docstore.Mutation) error {
	return s.update(ctx, collection, id, mutations)
}

func (s *Store) update(ctx context.Context, collection, id string, mutations []docstore.Mutation) error {
	update, err := buildUpdate(mutations, s.now())
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	filter := bson.D{{Key: "_id", Value: id}}
	if len(update) == 0 {
		if _, err := s.get(ctx, collection, id); err != nil {
			return fmt.Errorf("update: %w", err)
		}
		return nil
	}

	res, err := s.collection(collection).UpdateOne(ctx, filter, update)
	if err != nil {
		return classify("update "+collection, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return nil
}

// Delete removes the document. Deleting a missing document is a no-op.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.collection(collection).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	return classify("delete "+collection, err)
}

// Query returns every matching document ordered by id.
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	filter, err := buildFilter(q)
	if err != nil {
		return nil, err
	}

	cursor, err := s.collection(q.Collection).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, classify("find "+q.Collection, err)
	}
	defer cursor.Close(ctx)

	var docs []docstore.Document
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode %s: %w", q.Collection, err)
		}
		docs = append(docs, fromBSON(raw))
	}
	if err := cursor.Err(); err != nil {
		return nil, classify("iterate "+q.Collection, err)
	}
	return docs, nil
}

// RunTransaction runs fn inside a session transaction. The driver retries
// fn on transient transaction errors.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return classify("start session", err)
	}
	defer session.EndSession(context.Background())

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, &transaction{store: s, sc: sc})
	})
	if err != nil {
		return classify("transaction", err)
	}
	return nil
}

// transaction routes every call through the session context so the
// operations join the transaction even when fn derives a new context.
type transaction struct {
	store *Store
	sc    mongo.SessionContext
}

func (t *transaction) Get(_ context.Context, collection, id string) (docstore.Document, error) {
	return t.store.get(t.sc, collection, id)
}

func (t *transaction) Set(_ context.Context, collection, id string, fields map[string]any, opts docstore.SetOptions) error {
	return t.store.set(t.sc, collection, id, fields, opts)
}

func (t *transaction) Update(_ context.Context, collection, id string, mutations ...docstore.Mutation) error {
	return t.store.update(t.sc, collection, id, mutations)
}

func (t *transaction) Delete(_ context.Context, collection, id string) error {
	_, err := t.store.collection(collection).DeleteOne(t.sc, bson.D{{Key: "_id", Value: id}})
	return classify("delete "+collection, err)
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, docstore.ErrNotFound) || errors.Is(err, docstore.ErrTransient) {
		return err
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", op, docstore.ErrAlreadyExists)
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) || errors.Is(err, context.DeadlineExceeded) {
		return docstore.Transient(op, err)
	}
	var labeled mongo.LabeledError
	if errors.As(err, &labeled) && (labeled.HasErrorLabel("TransientTransactionError") || labeled.HasErrorLabel("RetryableWriteError")) {
		return docstore.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ docstore.Store = (*Store)(nil)
