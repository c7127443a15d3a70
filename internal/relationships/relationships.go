// Package relationships moves pairs of users between none, pending and
// friends. Every transition rewrites both user records in one transaction, so
// the mirrored sets on the two records never disagree.
package relationships

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quotefriends/backend/internal/docstore"
	"github.com/quotefriends/backend/internal/logging"
	"github.com/quotefriends/backend/internal/metrics"
	"github.com/quotefriends/backend/internal/models"
	"github.com/quotefriends/backend/internal/validation"
)

var (
	// ErrNoPendingRequest indicates an accept without a request to accept.
	ErrNoPendingRequest = errors.New("no pending friend request")
	// ErrUnknownAction indicates an unsupported relationship action.
	ErrUnknownAction = errors.New("unknown relationship action")
)

// Action names a relationship transition requested by a client.
type Action string

const (
	ActionSend    Action = "send"
	ActionCancel  Action = "cancel"
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
	ActionRemove  Action = "remove"
	ActionToggle  Action = "toggle"
)

// UserLookup resolves user ids to profiles, skipping ids that no longer exist.
type UserLookup interface {
	Lookup(ctx context.Context, ids []string) ([]models.User, error)
}

// Service applies relationship transitions against the document store.
type Service struct {
	store   docstore.Store
	users   UserLookup
	metrics *metrics.Collector
}

// NewService constructs a Service. users resolves requester profiles for
// IncomingRequests; metrics may be nil.
func NewService(store docstore.Store, users UserLookup, collector *metrics.Collector) *Service {
	return &Service{store: store, users: users, metrics: collector}
}

// plan holds the mutations for the acting user and the counterpart.
type plan struct {
	self  []docstore.Mutation
	other []docstore.Mutation
}

func (p plan) empty() bool {
	return len(p.self) == 0 && len(p.other) == 0
}

// SendRequest records a pending request from self to target. It is a no-op
// when self is target or the two are already related in any direction.
func (s *Service) SendRequest(ctx context.Context, self, target string) error {
	return s.transition(ctx, ActionSend, self, target, func(me, them models.User) (plan, error) {
		if me.HasFriend(them.ID) || me.HasOutgoing(them.ID) || me.HasIncoming(them.ID) ||
			them.HasFriend(me.ID) || them.HasIncoming(me.ID) || them.HasOutgoing(me.ID) {
			return plan{}, nil
		}
		return plan{
			self:  []docstore.Mutation{docstore.ArrayUnion(models.FieldOutgoingRequests, them.ID)},
			other: []docstore.Mutation{docstore.ArrayUnion(models.FieldIncomingRequests, me.ID)},
		}, nil
	})
}

// CancelRequest withdraws self's pending request to target.
func (s *Service) CancelRequest(ctx context.Context, self, target string) error {
	return s.transition(ctx, ActionCancel, self, target, func(me, them models.User) (plan, error) {
		if !me.HasOutgoing(them.ID) && !them.HasIncoming(me.ID) {
			return plan{}, nil
		}
		return plan{
			self:  []docstore.Mutation{docstore.ArrayRemove(models.FieldOutgoingRequests, them.ID)},
			other: []docstore.Mutation{docstore.ArrayRemove(models.FieldIncomingRequests, me.ID)},
		}, nil
	})
}

// AcceptRequest turns the pending request from "from" into a friendship.
// Accepting an existing friendship is a no-op.
func (s *Service) AcceptRequest(ctx context.Context, self, from string) error {
	return s.transition(ctx, ActionAccept, self, from, func(me, them models.User) (plan, error) {
		if me.HasFriend(them.ID) && them.HasFriend(me.ID) {
			return plan{}, nil
		}
		if !me.HasIncoming(them.ID) && !them.HasOutgoing(me.ID) && !me.HasFriend(them.ID) && !them.HasFriend(me.ID) {
			return plan{}, ErrNoPendingRequest
		}
		return plan{
			self: []docstore.Mutation{
				docstore.ArrayRemove(models.FieldIncomingRequests, them.ID),
				docstore.ArrayRemove(models.FieldOutgoingRequests, them.ID),
				docstore.ArrayUnion(models.FieldFriends, them.ID),
			},
			other: []docstore.Mutation{
				docstore.ArrayRemove(models.FieldOutgoingRequests, me.ID),
				docstore.ArrayRemove(models.FieldIncomingRequests, me.ID),
				docstore.ArrayUnion(models.FieldFriends, me.ID),
			},
		}, nil
	})
}

// DeclineRequest drops the pending request from "from".
func (s *Service) DeclineRequest(ctx context.Context, self, from string) error {
	return s.transition(ctx, ActionDecline, self, from, func(me, them models.User) (plan, error) {
		if !me.HasIncoming(them.ID) && !them.HasOutgoing(me.ID) {
			return plan{}, nil
		}
		return plan{
			self:  []docstore.Mutation{docstore.ArrayRemove(models.FieldIncomingRequests, them.ID)},
			other: []docstore.Mutation{docstore.ArrayRemove(models.FieldOutgoingRequests, me.ID)},
		}, nil
	})
}

// RemoveFriend ends the friendship between self and friend.
func (s *Service) RemoveFriend(ctx context.Context, self, friend string) error {
	return s.transition(ctx, ActionRemove, self, friend, func(me, them models.User) (plan, error) {
		if !me.HasFriend(them.ID) && !them.HasFriend(me.ID) {
			return plan{}, nil
		}
		return plan{
			self:  []docstore.Mutation{docstore.ArrayRemove(models.FieldFriends, them.ID)},
			other: []docstore.Mutation{docstore.ArrayRemove(models.FieldFriends, me.ID)},
		}, nil
	})
}

// State returns viewer's relationship to subject as recorded on subject.
func (s *Service) State(ctx context.Context, viewer, subject string) (models.RelationshipState, error) {
	viewer = strings.TrimSpace(viewer)
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return models.RelationshipNone, &validation.Error{Field: "userId", Reason: "is required"}
	}
	if viewer == "" || viewer == subject {
		return models.RelationshipNone, nil
	}

	doc, err := s.store.Get(ctx, docstore.CollectionUsers, subject)
	if err != nil {
		return models.RelationshipNone, fmt.Errorf("load user %s: %w", subject, err)
	}
	return models.DeriveRelationship(viewer, models.UserFromDocument(doc)), nil
}

// Toggle runs the primary action for the current state: send from none,
// cancel an outgoing request, accept an incoming one, remove a friend. It
// returns the state after the action.
func (s *Service) Toggle(ctx context.Context, self, target string) (models.RelationshipState, error) {
	state, err := s.State(ctx, self, target)
	if err != nil {
		return state, err
	}

	switch state {
	case models.RelationshipNone:
		err = s.SendRequest(ctx, self, target)
	case models.RelationshipOutgoingPending:
		err = s.CancelRequest(ctx, self, target)
	case models.RelationshipIncomingPending:
		err = s.AcceptRequest(ctx, self, target)
	case models.RelationshipFriends:
		err = s.RemoveFriend(ctx, self, target)
	}
	if err != nil {
		return state, err
	}
	return s.State(ctx, self, target)
}

// Apply runs the named action and returns the resulting state.
func (s *Service) Apply(ctx context.Context, self, target string, action Action) (models.RelationshipState, error) {
	var err error
	switch action {
	case ActionSend:
		err = s.SendRequest(ctx, self, target)
	case ActionCancel:
		err = s.CancelRequest(ctx, self, target)
	case ActionAccept:
		err = s.AcceptRequest(ctx, self, target)
	case ActionDecline:
		err = s.DeclineRequest(ctx, self, target)
	case ActionRemove:
		err = s.RemoveFriend(ctx, self, target)
	case ActionToggle:
		return s.Toggle(ctx, self, target)
	default:
		return models.RelationshipNone, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if err != nil {
		return models.RelationshipNone, err
	}
	return s.State(ctx, self, target)
}

// IncomingRequests lists the profiles of users with a pending request to
// self, in request order. Requesters whose record is gone are skipped.
func (s *Service) IncomingRequests(ctx context.Context, self string) ([]models.User, error) {
	self = strings.TrimSpace(self)
	if self == "" {
		return nil, &validation.Error{Field: "userId", Reason: "is required"}
	}

	doc, err := s.store.Get(ctx, docstore.CollectionUsers, self)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", self, err)
	}
	incoming := models.UserFromDocument(doc).IncomingRequests
	if len(incoming) == 0 {
		return []models.User{}, nil
	}

	users, err := s.users.Lookup(ctx, incoming)
	if err != nil {
		return nil, fmt.Errorf("lookup requesters: %w", err)
	}
	return users, nil
}

func (s *Service) transition(ctx context.Context, action Action, selfID, otherID string, decide func(me, them models.User) (plan, error)) error {
	selfID = strings.TrimSpace(selfID)
	otherID = strings.TrimSpace(otherID)
	if selfID == "" {
		return &validation.Error{Field: "viewerId", Reason: "is required"}
	}
	if otherID == "" {
		return &validation.Error{Field: "userId", Reason: "is required"}
	}
	if selfID == otherID {
		if action == ActionAccept {
			return ErrNoPendingRequest
		}
		return nil
	}

	ctx, span := logging.StartSpan(ctx, "relationships."+string(action),
		slog.String("viewerId", selfID), slog.String("subjectId", otherID))

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		selfDoc, err := tx.Get(ctx, docstore.CollectionUsers, selfID)
		if err != nil {
			return fmt.Errorf("load user %s: %w", selfID, err)
		}
		otherDoc, err := tx.Get(ctx, docstore.CollectionUsers, otherID)
		if err != nil {
			return fmt.Errorf("load user %s: %w", otherID, err)
		}

		p, err := decide(models.UserFromDocument(selfDoc), models.UserFromDocument(otherDoc))
		if err != nil || p.empty() {
			return err
		}

		stamp := docstore.SetField(models.FieldUpdatedAt, docstore.ServerTimestamp)
		if err := tx.Update(ctx, docstore.CollectionUsers, selfID, append(p.self, stamp)...); err != nil {
			return fmt.Errorf("update user %s: %w", selfID, err)
		}
		if err := tx.Update(ctx, docstore.CollectionUsers, otherID, append(p.other, stamp)...); err != nil {
			return fmt.Errorf("update user %s: %w", otherID, err)
		}
		return nil
	})
	if err != nil {
		err = fmt.Errorf("%s relationship: %w", action, err)
	}

	s.metrics.Relationship(string(action), err)
	return span.EndErr(err)
}
