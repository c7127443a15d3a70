// Package quotes creates, deletes and lists quotes.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quotefriends/backend/internal/docstore"
	"github.com/quotefriends/backend/internal/logging"
	"github.com/quotefriends/backend/internal/metrics"
	"github.com/quotefriends/backend/internal/models"
	"github.com/quotefriends/backend/internal/validation"
)

// ErrForbidden indicates an attempt to change someone else's quote.
var ErrForbidden = errors.New("quote belongs to another user")

// CreateInput is the payload accepted by Create.
type CreateInput struct {
	Text       string `json:"text" validate:"quotetext"`
	Visibility string `json:"visibility" validate:"omitempty,oneof=public private group"`
}

// Service writes quotes to the document store.
type Service struct {
	store     docstore.Store
	validator *validation.Validator
	metrics   *metrics.Collector
	now       func() time.Time
}

// NewService constructs a Service. metrics may be nil.
func NewService(store docstore.Store, collector *metrics.Collector) *Service {
	return &Service{
		store:     store,
		validator: validation.Default(),
		metrics:   collector,
		now:       time.Now,
	}
}

// Create stores a new quote by author. The returned quote carries a local
// creation time until the store's timestamp is delivered.
func (s *Service) Create(ctx context.Context, author string, in CreateInput) (models.Quote, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return models.Quote{}, &validation.Error{Field: "viewerId", Reason: "is required"}
	}
	if err := s.validator.Struct(in); err != nil {
		return models.Quote{}, err
	}
	text, _ := models.NormalizeQuoteText(in.Text)
	visibility := models.Visibility(in.Visibility)
	if visibility == "" {
		visibility = models.VisibilityPublic
	}

	ctx, span := logging.StartSpan(ctx, "quotes.create", slog.String("viewerId", author))

	id, err := s.store.Create(ctx, docstore.CollectionQuotes, map[string]any{
		models.FieldAuthorID:   author,
		models.FieldText:       text,
		models.FieldCreatedAt:  docstore.ServerTimestamp,
		models.FieldVisibility: string(visibility),
		models.FieldLikes:      0,
		models.FieldLikesBy:    []string{},
	})
	if err != nil {
		return models.Quote{}, span.EndErr(fmt.Errorf("create quote: %w", err))
	}
	span.End()
	s.metrics.QuoteCreated()

	return models.Quote{
		ID:         id,
		AuthorID:   author,
		Text:       text,
		CreatedAt:  s.now().UTC(),
		Visibility: visibility,
		LikesBy:    []string{},
	}, nil
}

// Delete removes quoteID if viewer wrote it.
func (s *Service) Delete(ctx context.Context, viewer, quoteID string) error {
	viewer = strings.TrimSpace(viewer)
	quoteID = strings.TrimSpace(quoteID)
	if viewer == "" {
		return &validation.Error{Field: "viewerId", Reason: "is required"}
	}

	ctx, span := logging.StartSpan(ctx, "quotes.delete",
		slog.String("viewerId", viewer), slog.String("quoteId", quoteID))

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(ctx, docstore.CollectionQuotes, quoteID)
		if err != nil {
			return fmt.Errorf("load quote %s: %w", quoteID, err)
		}
		if models.QuoteFromDocument(doc).AuthorID != viewer {
			return ErrForbidden
		}
		return tx.Delete(ctx, docstore.CollectionQuotes, quoteID)
	})
	if err != nil {
		err = fmt.Errorf("delete quote: %w", err)
	}
	return span.EndErr(err)
}

// ListByAuthor returns author's quotes newest first. Viewers other than the
// author only see public quotes.
func (s *Service) ListByAuthor(ctx context.Context, viewer, author string) ([]models.Quote, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return nil, &validation.Error{Field: "userId", Reason: "is required"}
	}

	docs, err := s.store.Query(ctx, docstore.Where(docstore.CollectionQuotes, docstore.Eq(models.FieldAuthorID, author)))
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}

	out := make([]models.Quote, 0, len(docs))
	for _, doc := range docs {
		q := models.QuoteFromDocument(doc)
		if viewer != author && q.Visibility != models.VisibilityPublic {
			continue
		}
		out = append(out, q)
	}
	models.SortQuotes(out)
	return out, nil
}
