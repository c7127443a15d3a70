package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/quotefriends/backend/internal/identity"
	"github.com/quotefriends/backend/internal/models"
	"github.com/quotefriends/backend/internal/profiles"
	"github.com/quotefriends/backend/internal/relationships"
)

const maxSearchLimit = 50

// UserHandler implements search, relationship and profile endpoints.
type UserHandler struct {
	Profiles      ProfileService
	Relationships RelationshipService
	// Authors is optional; profile edits evict the author from it.
	Authors AuthorDirectory
}

type relationshipRequest struct {
	Action relationships.Action `json:"action"`
}

type relationshipResponse struct {
	UserID string                   `json:"userId"`
	State  models.RelationshipState `json:"state"`
}

// Search handles GET /api/v1/users/search?q=&limit=.
func (h UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer, _ := identity.FromContext(ctx).ViewerID()

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer", Field: "limit"})
			return
		}
		limit = min(n, maxSearchLimit)
	}

	users, err := h.Profiles.Search(ctx, viewer, r.URL.Query().Get("q"), limit)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, usersResponse{Users: users})
}

// Relationship handles GET /api/v1/users/{id}/relationship.
func (h UserHandler) Relationship(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer, _ := identity.FromContext(ctx).ViewerID()
	subject := r.PathValue("id")

	state, err := h.Relationships.State(ctx, viewer, subject)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, relationshipResponse{UserID: subject, State: state})
}

// ApplyRelationship handles POST /api/v1/users/{id}/relationship. An empty
// action runs the primary action for the current state.
func (h UserHandler) ApplyRelationship(w http.ResponseWriter, r *http.Request) {
	viewer, ok := requireViewer(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req relationshipRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Action == "" {
		req.Action = relationships.ActionToggle
	}

	subject := r.PathValue("id")
	state, err := h.Relationships.Apply(ctx, viewer, subject, req.Action)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, relationshipResponse{UserID: subject, State: state})
}

// Requests handles GET /api/v1/friends/requests.
func (h UserHandler) Requests(w http.ResponseWriter, r *http.Request) {
	viewer, ok := requireViewer(w, r)
	if !ok {
		return
	}
	users, err := h.Relationships.IncomingRequests(r.Context(), viewer)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, usersResponse{Users: users})
}

// CreateProfile handles POST /api/v1/profile.
func (h UserHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	viewer, ok := requireViewer(w, r)
	if !ok {
		return
	}
	var req profiles.CreateInput
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := h.Profiles.CreateProfile(r.Context(), viewer, req)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	h.invalidate(viewer)
	respondJSON(r.Context(), w, http.StatusCreated, user)
}

// UpdateProfile handles PATCH /api/v1/profile.
func (h UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	viewer, ok := requireViewer(w, r)
	if !ok {
		return
	}
	var req profiles.UpdateInput
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := h.Profiles.UpdateProfile(r.Context(), viewer, req)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	h.invalidate(viewer)
	respondJSON(r.Context(), w, http.StatusOK, user)
}

func (h UserHandler) invalidate(id string) {
	if h.Authors != nil {
		h.Authors.Invalidate(id)
	}
}
