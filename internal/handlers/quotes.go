package handlers

import (
	"net/http"

	"github.com/quotefriends/backend/internal/feed"
	"github.com/quotefriends/backend/internal/identity"
	"github.com/quotefriends/backend/internal/logging"
	"github.com/quotefriends/backend/internal/models"
	"github.com/quotefriends/backend/internal/quotes"
)

// QuoteHandler implements the quote and like endpoints.
type QuoteHandler struct {
	Quotes QuoteService
	Likes  LikeRegistry
	Hub    *feed.Hub
}

type likeRequest struct {
	// Liked is the state the client rendered before toggling.
	Liked bool `json:"liked"`
}

type likeResponse struct {
	QuoteID string `json:"quoteId"`
	Liked   bool   `json:"liked"`
}

type usersResponse struct {
	Users []models.User `json:"users"`
}

type quotesResponse struct {
	Quotes []models.Quote `json:"quotes"`
}

// Create handles POST /api/v1/quotes. The new quote is shown on the author's
// open feed streams before the store confirms it.
func (h QuoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	viewer, ok := requireViewer(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req quotes.CreateInput
	if !decodeBody(w, r, &req) {
		return
	}

	quote, err := h.Quotes.Create(ctx, viewer, req)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	if h.Hub != nil {
		if n := h.Hub.RecordLocalInsert(viewer, quote); n > 0 {
			logging.FromContext(ctx).Debug("optimistic insert forwarded", "quoteId", quote.ID, "streams", n)
		}
	}

	respondJSON(ctx, w, http.StatusCreated, quote)
}

// Delete handles DELETE /api/v1/quotes/{id}.
func (h QuoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	viewer, ok := requireViewer(w, r)
	if !ok {
		return
	}
	quoteID := r.PathValue("id")
	if err := h.Quotes.Delete(r.Context(), viewer, quoteID); err != nil {
		respondError(r.Context(), w, err)
		return
	}
	if h.Hub != nil {
		h.Hub.RecordLocalDelete(viewer, quoteID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Like handles POST /api/v1/quotes/{id}/like.
func (h QuoteHandler) Like(w http.ResponseWriter, r *http.Request) {
	viewer, ok := requireViewer(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req likeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	quoteID := r.PathValue("id")
	liked, err := h.Likes.ForViewer(viewer).ToggleLike(ctx, quoteID, req.Liked)
	h.Likes.Forget(viewer)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, likeResponse{QuoteID: quoteID, Liked: liked})
}

// Likers handles GET /api/v1/quotes/{id}/likers.
func (h QuoteHandler) Likers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer, _ := identity.FromContext(ctx).ViewerID()

	users, err := h.Likes.ForViewer(viewer).Likers(ctx, r.PathValue("id"))
	h.Likes.Forget(viewer)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, usersResponse{Users: users})
}

// ListByAuthor handles GET /api/v1/users/{id}/quotes.
func (h QuoteHandler) ListByAuthor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer, _ := identity.FromContext(ctx).ViewerID()

	list, err := h.Quotes.ListByAuthor(ctx, viewer, r.PathValue("id"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, quotesResponse{Quotes: list})
}
