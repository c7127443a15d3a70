package handlers

import (
	"net/http"
	"time"

	"github.com/quotefriends/backend/internal/docstore"
	"github.com/quotefriends/backend/internal/feed"
	"github.com/quotefriends/backend/internal/metrics"
)

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Checks: deps.HealthChecks}
	feeds := FeedHandler{
		Store:     deps.Store,
		Authors:   deps.Authors,
		Likes:     deps.Likes,
		Hub:       deps.Hub,
		Metrics:   deps.Metrics,
		KeepAlive: deps.KeepAlive,
		Done:      deps.Done,
	}
	quotes := QuoteHandler{Quotes: deps.Quotes, Likes: deps.Likes, Hub: deps.Hub}
	users := UserHandler{Profiles: deps.Profiles, Relationships: deps.Relationships, Authors: deps.Authors}

	mux.HandleFunc("GET /healthz", health.Handle)
	mux.Handle("GET /metrics", deps.Metrics.Handler())

	mux.HandleFunc("GET /api/v1/feed/stream", feeds.Stream)

	mux.HandleFunc("POST /api/v1/quotes", quotes.Create)
	mux.HandleFunc("DELETE /api/v1/quotes/{id}", quotes.Delete)
	mux.HandleFunc("POST /api/v1/quotes/{id}/like", quotes.Like)
	mux.HandleFunc("GET /api/v1/quotes/{id}/likers", quotes.Likers)

	mux.HandleFunc("GET /api/v1/users/search", users.Search)
	mux.HandleFunc("GET /api/v1/users/{id}/relationship", users.Relationship)
	mux.HandleFunc("POST /api/v1/users/{id}/relationship", users.ApplyRelationship)
	mux.HandleFunc("GET /api/v1/users/{id}/quotes", quotes.ListByAuthor)
	mux.HandleFunc("GET /api/v1/friends/requests", users.Requests)
	mux.HandleFunc("POST /api/v1/profile", users.CreateProfile)
	mux.HandleFunc("PATCH /api/v1/profile", users.UpdateProfile)
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Store         docstore.Store
	Quotes        QuoteService
	Relationships RelationshipService
	Profiles      ProfileService
	Likes         LikeRegistry
	Authors       AuthorDirectory
	Hub           *feed.Hub
	Metrics       *metrics.Collector
	HealthChecks  map[string]HealthCheck
	KeepAlive     time.Duration
	Done          <-chan struct{}
}
