package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/quotefriends/backend/internal/docstore"
	"github.com/quotefriends/backend/internal/identity"
	"github.com/quotefriends/backend/internal/likes"
	"github.com/quotefriends/backend/internal/logging"
	"github.com/quotefriends/backend/internal/profiles"
	"github.com/quotefriends/backend/internal/quotes"
	"github.com/quotefriends/backend/internal/relationships"
	"github.com/quotefriends/backend/internal/validation"
)

const maxBodyBytes = 1 << 16

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

// respondError maps domain failures onto HTTP statuses.
func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		respondJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: verr.Reason, Field: verr.Field})
	case errors.Is(err, relationships.ErrUnknownAction), errors.Is(err, docstore.ErrInvalidQuery):
		respondJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, quotes.ErrForbidden):
		respondJSON(ctx, w, http.StatusForbidden, errorResponse{Error: "quote belongs to another user"})
	case errors.Is(err, docstore.ErrNotFound):
		respondJSON(ctx, w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, profiles.ErrUsernameTaken):
		respondJSON(ctx, w, http.StatusConflict, errorResponse{Error: "username already taken", Field: "username"})
	case errors.Is(err, profiles.ErrProfileExists), errors.Is(err, docstore.ErrAlreadyExists):
		respondJSON(ctx, w, http.StatusConflict, errorResponse{Error: "profile already exists"})
	case errors.Is(err, relationships.ErrNoPendingRequest):
		respondJSON(ctx, w, http.StatusConflict, errorResponse{Error: "no pending friend request"})
	case errors.Is(err, likes.ErrToggleInFlight):
		respondJSON(ctx, w, http.StatusConflict, errorResponse{Error: "like toggle already in flight"})
	case docstore.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		respondJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Error: "store temporarily unavailable"})
	default:
		logging.FromContext(ctx).Error("unhandled error", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// requireViewer returns the signed-in viewer or answers 401.
func requireViewer(w http.ResponseWriter, r *http.Request) (string, bool) {
	viewer, ok := identity.FromContext(r.Context()).ViewerID()
	if !ok {
		respondJSON(r.Context(), w, http.StatusUnauthorized, errorResponse{Error: "viewer required"})
		return "", false
	}
	return viewer, true
}

// decodeBody reads a JSON payload, answering 400 on failure. An empty body
// leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		logging.FromContext(r.Context()).Warn("invalid request payload", "error", err)
		respondJSON(r.Context(), w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}
