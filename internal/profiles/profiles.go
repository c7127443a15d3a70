// Package profiles manages user profiles: creation with a unique username,
// edits, prefix search and batched lookups for display.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/quotefriends/backend/internal/docstore"
	"github.com/quotefriends/backend/internal/identity"
	"github.com/quotefriends/backend/internal/logging"
	"github.com/quotefriends/backend/internal/models"
	"github.com/quotefriends/backend/internal/validation"
)

var (
	// ErrUsernameTaken indicates another user already claimed the username.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrProfileExists indicates the user already has a profile.
	ErrProfileExists = errors.New("profile already exists")
)

// DefaultSearchLimit caps search results when the caller passes no limit.
const DefaultSearchLimit = 20

// CreateInput is the payload accepted by CreateProfile.
type CreateInput struct {
	Username   string `json:"username" validate:"required,username"`
	Email      string `json:"email" validate:"omitempty,email"`
	Bio        string `json:"bio" validate:"max=160"`
	ProfilePic string `json:"profilePic" validate:"max=512"`
}

// UpdateInput carries the fields to change; nil fields stay as they are.
type UpdateInput struct {
	Username   *string `json:"username" validate:"omitempty,username"`
	Bio        *string `json:"bio" validate:"omitempty,max=160"`
	ProfilePic *string `json:"profilePic" validate:"omitempty,max=512"`
}

// Verifier sends the email verification message for a new profile.
type Verifier interface {
	SendVerification(ctx context.Context, userID, email string) error
}

// LogVerifier records verification requests in the log instead of sending
// mail.
type LogVerifier struct {
	Logger *slog.Logger
}

// SendVerification implements Verifier.
func (v LogVerifier) SendVerification(ctx context.Context, userID, email string) error {
	logger := v.Logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	}
	logger.Info("verification requested", "userId", userID, "email", email)
	return nil
}

// Service reads and writes user profiles.
type Service struct {
	store     docstore.Store
	validator *validation.Validator
	verifier  Verifier
}

// NewService constructs a Service. verifier may be nil.
func NewService(store docstore.Store, verifier Verifier) *Service {
	return &Service{store: store, validator: validation.Default(), verifier: verifier}
}

// UsernameKey is the claim key for username: trimmed and lowercase.
func UsernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// CreateProfile stores the profile for userID and claims its username. A
// verification message is sent afterwards unless the identity is already
// verified; failing to send it does not fail the call.
func (s *Service) CreateProfile(ctx context.Context, userID string, in CreateInput) (models.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return models.User{}, &validation.Error{Field: "viewerId", Reason: "is required"}
	}
	if err := s.validator.Struct(in); err != nil {
		return models.User{}, err
	}
	username := strings.TrimSpace(in.Username)
	key := UsernameKey(username)

	ctx, span := logging.StartSpan(ctx, "profiles.create", slog.String("viewerId", userID))

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(ctx, docstore.CollectionUsers, userID); err == nil {
			return ErrProfileExists
		} else if !errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("load user %s: %w", userID, err)
		}
		if err := claimUsername(ctx, tx, key, userID); err != nil {
			return err
		}
		return tx.Set(ctx, docstore.CollectionUsers, userID, map[string]any{
			models.FieldUsername:         username,
			models.FieldEmail:            strings.TrimSpace(in.Email),
			models.FieldBio:              strings.TrimSpace(in.Bio),
			models.FieldProfilePic:       strings.TrimSpace(in.ProfilePic),
			models.FieldFriends:          []string{},
			models.FieldIncomingRequests: []string{},
			models.FieldOutgoingRequests: []string{},
			models.FieldSearchKeywords:   models.SearchKeywords(username),
			models.FieldCreatedAt:        docstore.ServerTimestamp,
			models.FieldUpdatedAt:        docstore.ServerTimestamp,
		}, docstore.SetOptions{})
	})
	if err != nil {
		return models.User{}, span.EndErr(fmt.Errorf("create profile: %w", err))
	}
	span.End()

	s.sendVerification(ctx, userID, strings.TrimSpace(in.Email))
	return s.Get(ctx, userID)
}

// UpdateProfile applies the non-nil fields of in. Changing the username moves
// its claim and refreshes the search keywords.
func (s *Service) UpdateProfile(ctx context.Context, userID string, in UpdateInput) (models.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return models.User{}, &validation.Error{Field: "viewerId", Reason: "is required"}
	}
	if err := s.validator.Struct(in); err != nil {
		return models.User{}, err
	}
	if in.Username != nil && strings.TrimSpace(*in.Username) == "" {
		return models.User{}, &validation.Error{Field: "username", Reason: "is required"}
	}

	ctx, span := logging.StartSpan(ctx, "profiles.update", slog.String("viewerId", userID))

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(ctx, docstore.CollectionUsers, userID)
		if err != nil {
			return fmt.Errorf("load user %s: %w", userID, err)
		}
		current := models.UserFromDocument(doc)

		mutations := []docstore.Mutation{docstore.SetField(models.FieldUpdatedAt, docstore.ServerTimestamp)}
		if in.Username != nil {
			username := strings.TrimSpace(*in.Username)
			oldKey, newKey := UsernameKey(current.Username), UsernameKey(username)
			if newKey != oldKey {
				if err := claimUsername(ctx, tx, newKey, userID); err != nil {
					return err
				}
				if oldKey != "" {
					if err := tx.Delete(ctx, docstore.CollectionUsernames, oldKey); err != nil {
						return fmt.Errorf("release username: %w", err)
					}
				}
			}
			mutations = append(mutations,
				docstore.SetField(models.FieldUsername, username),
				docstore.SetField(models.FieldSearchKeywords, models.SearchKeywords(username)),
			)
		}
		if in.Bio != nil {
			mutations = append(mutations, docstore.SetField(models.FieldBio, strings.TrimSpace(*in.Bio)))
		}
		if in.ProfilePic != nil {
			mutations = append(mutations, docstore.SetField(models.FieldProfilePic, strings.TrimSpace(*in.ProfilePic)))
		}
		return tx.Update(ctx, docstore.CollectionUsers, userID, mutations...)
	})
	if err != nil {
		return models.User{}, span.EndErr(fmt.Errorf("update profile: %w", err))
	}
	span.End()
	return s.Get(ctx, userID)
}

// Get loads one profile.
func (s *Service) Get(ctx context.Context, userID string) (models.User, error) {
	doc, err := s.store.Get(ctx, docstore.CollectionUsers, strings.TrimSpace(userID))
	if err != nil {
		return models.User{}, fmt.Errorf("load user %s: %w", userID, err)
	}
	return models.UserFromDocument(doc), nil
}

// Search returns users whose username has a token starting with term,
// ordered by username. The viewer is left out of the results.
func (s *Service) Search(ctx context.Context, viewer, term string, limit int) ([]models.User, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return []models.User{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	docs, err := s.store.Query(ctx, docstore.Where(docstore.CollectionUsers, docstore.Contains(models.FieldSearchKeywords, term)))
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}

	out := make([]models.User, 0, len(docs))
	for _, doc := range docs {
		if doc.ID == viewer {
			continue
		}
		out = append(out, models.UserFromDocument(doc))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return UsernameKey(out[i].Username) < UsernameKey(out[j].Username)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func claimUsername(ctx context.Context, tx docstore.Tx, key, userID string) error {
	claim, err := tx.Get(ctx, docstore.CollectionUsernames, key)
	switch {
	case err == nil:
		if docstore.String(claim.Get(models.FieldClaimUserID)) != userID {
			return ErrUsernameTaken
		}
		return nil
	case !errors.Is(err, docstore.ErrNotFound):
		return fmt.Errorf("load username claim: %w", err)
	}
	if err := tx.Set(ctx, docstore.CollectionUsernames, key, map[string]any{
		models.FieldClaimUserID: userID,
		models.FieldCreatedAt:   docstore.ServerTimestamp,
	}, docstore.SetOptions{}); err != nil {
		return fmt.Errorf("claim username: %w", err)
	}
	return nil
}

func (s *Service) sendVerification(ctx context.Context, userID, email string) {
	if s.verifier == nil || email == "" {
		return
	}
	logger := logging.FromContext(ctx)

	verified, err := identity.FromContext(ctx).IsVerified(ctx)
	if err != nil {
		logger.Warn("verification state unavailable", "userId", userID, "error", err)
	}
	if verified {
		return
	}
	if err := s.verifier.SendVerification(ctx, userID, email); err != nil {
		logger.Warn("verification send failed", "userId", userID, "error", err)
	}
}
