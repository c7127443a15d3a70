package handlers

import (
	"context"

	"github.com/quotefriends/backend/internal/likes"
	"github.com/quotefriends/backend/internal/models"
	"github.com/quotefriends/backend/internal/profiles"
	"github.com/quotefriends/backend/internal/quotes"
	"github.com/quotefriends/backend/internal/relationships"
)

// QuoteService captures the quote operations exposed over HTTP.
type QuoteService interface {
	Create(ctx context.Context, author string, in quotes.CreateInput) (models.Quote, error)
	Delete(ctx context.Context, viewer, quoteID string) error
	ListByAuthor(ctx context.Context, viewer, author string) ([]models.Quote, error)
}

// RelationshipService captures the friend graph operations.
type RelationshipService interface {
	State(ctx context.Context, viewer, subject string) (models.RelationshipState, error)
	Apply(ctx context.Context, self, target string, action relationships.Action) (models.RelationshipState, error)
	IncomingRequests(ctx context.Context, self string) ([]models.User, error)
}

// ProfileService captures profile reads and writes.
type ProfileService interface {
	CreateProfile(ctx context.Context, userID string, in profiles.CreateInput) (models.User, error)
	UpdateProfile(ctx context.Context, userID string, in profiles.UpdateInput) (models.User, error)
	Search(ctx context.Context, viewer, term string, limit int) ([]models.User, error)
}

// LikeRegistry hands out the per-viewer like coordinators.
type LikeRegistry interface {
	ForViewer(viewerID string) *likes.Coordinator
	Forget(viewerID string)
}

// AuthorDirectory resolves author display data and drops stale entries.
type AuthorDirectory interface {
	Authors(ctx context.Context, ids []string) (map[string]models.Author, error)
	Invalidate(id string)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error
