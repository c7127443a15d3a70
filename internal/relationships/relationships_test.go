package relationships

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/quotefriends/backend/internal/docstore"
	"github.com/quotefriends/backend/internal/docstore/memory"
	"github.com/quotefriends/backend/internal/models"
	"github.com/quotefriends/backend/internal/validation"
)

type storeLookup struct {
	store docstore.Store
}

func (l storeLookup) Lookup(ctx context.Context, ids []string) ([]models.User, error) {
	out := make([]models.User, 0, len(ids))
	for _, id := range ids {
		doc, err := l.store.Get(ctx, docstore.CollectionUsers, id)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, models.UserFromDocument(doc))
	}
	return out, nil
}

func newFixture(t *testing.T, ids ...string) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	for _, id := range ids {
		err := store.Set(context.Background(), docstore.CollectionUsers, id, map[string]any{
			models.FieldUsername:         id,
			models.FieldFriends:          []string{},
			models.FieldIncomingRequests: []string{},
			models.FieldOutgoingRequests: []string{},
		}, docstore.SetOptions{})
		if err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	return NewService(store, storeLookup{store: store}, nil), store
}

func loadUser(t *testing.T, store *memory.Store, id string) models.User {
	t.Helper()
	doc, err := store.Get(context.Background(), docstore.CollectionUsers, id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return models.UserFromDocument(doc)
}

func expectState(t *testing.T, svc *Service, viewer, subject string, want models.RelationshipState) {
	t.Helper()
	got, err := svc.State(context.Background(), viewer, subject)
	if err != nil {
		t.Fatalf("state %s->%s: %v", viewer, subject, err)
	}
	if got != want {
		t.Fatalf("expected %s->%s to be %s got %s", viewer, subject, want, got)
	}
}

func expectEmptySets(t *testing.T, u models.User) {
	t.Helper()
	if len(u.Friends) != 0 || len(u.IncomingRequests) != 0 || len(u.OutgoingRequests) != 0 {
		t.Fatalf("expected %s to have no relationships got %+v", u.ID, u)
	}
}

func TestSendThenCancelRoundTrip(t *testing.T) {
	svc, store := newFixture(t, "a", "b")
	ctx := context.Background()

	if err := svc.SendRequest(ctx, "a", "b"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if a := loadUser(t, store, "a"); !slices.Equal(a.OutgoingRequests, []string{"b"}) {
		t.Fatalf("expected a.outgoing [b] got %v", a.OutgoingRequests)
	}
	if b := loadUser(t, store, "b"); !slices.Equal(b.IncomingRequests, []string{"a"}) {
		t.Fatalf("expected b.incoming [a] got %v", b.IncomingRequests)
	}
	expectState(t, svc, "a", "b", models.RelationshipOutgoingPending)
	expectState(t, svc, "b", "a", models.RelationshipIncomingPending)

	if err := svc.CancelRequest(ctx, "a", "b"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	expectEmptySets(t, loadUser(t, store, "a"))
	expectEmptySets(t, loadUser(t, store, "b"))
	expectState(t, svc, "a", "b", models.RelationshipNone)

	if err := svc.CancelRequest(ctx, "a", "b"); err != nil {
		t.Fatalf("expected repeated cancel to be a no-op got %v", err)
	}
}

func TestSendThenAccept(t *testing.T) {
	svc, store := newFixture(t, "a", "b")
	ctx := context.Background()

	if err := svc.SendRequest(ctx, "a", "b"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := svc.AcceptRequest(ctx, "b", "a"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	a, b := loadUser(t, store, "a"), loadUser(t, store, "b")
	if !slices.Equal(a.Friends, []string{"b"}) || !slices.Equal(b.Friends, []string{"a"}) {
		t.Fatalf("expected mutual friendship got a=%v b=%v", a.Friends, b.Friends)
	}
	if len(a.OutgoingRequests) != 0 || len(b.IncomingRequests) != 0 {
		t.Fatalf("expected pending sets cleared got a=%v b=%v", a.OutgoingRequests, b.IncomingRequests)
	}
	expectState(t, svc, "a", "b", models.RelationshipFriends)
	expectState(t, svc, "b", "a", models.RelationshipFriends)

	if err := svc.AcceptRequest(ctx, "b", "a"); err != nil {
		t.Fatalf("expected accepting an existing friendship to be a no-op got %v", err)
	}
}

func TestSendRequestNoOps(t *testing.T) {
	cases := []struct {
		name  string
		setup func(t *testing.T, svc *Service)
		self  string
		to    string
	}{
		{name: "self", self: "a", to: "a"},
		{
			name: "already pending",
			setup: func(t *testing.T, svc *Service) {
				if err := svc.SendRequest(context.Background(), "a", "b"); err != nil {
					t.Fatalf("send: %v", err)
				}
			},
			self: "a", to: "b",
		},
		{
			name: "reverse pending",
			setup: func(t *testing.T, svc *Service) {
				if err := svc.SendRequest(context.Background(), "b", "a"); err != nil {
					t.Fatalf("send: %v", err)
				}
			},
			self: "a", to: "b",
		},
		{
			name: "already friends",
			setup: func(t *testing.T, svc *Service) {
				ctx := context.Background()
				if err := svc.SendRequest(ctx, "a", "b"); err != nil {
					t.Fatalf("send: %v", err)
				}
				if err := svc.AcceptRequest(ctx, "b", "a"); err != nil {
					t.Fatalf("accept: %v", err)
				}
			},
			self: "a", to: "b",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store := newFixture(t, "a", "b")
			if tc.setup != nil {
				tc.setup(t, svc)
			}
			beforeA, beforeB := loadUser(t, store, "a"), loadUser(t, store, "b")

			if err := svc.SendRequest(context.Background(), tc.self, tc.to); err != nil {
				t.Fatalf("send: %v", err)
			}

			afterA, afterB := loadUser(t, store, "a"), loadUser(t, store, "b")
			if !slices.Equal(beforeA.OutgoingRequests, afterA.OutgoingRequests) ||
				!slices.Equal(beforeB.IncomingRequests, afterB.IncomingRequests) ||
				!slices.Equal(beforeA.IncomingRequests, afterA.IncomingRequests) ||
				!slices.Equal(beforeA.Friends, afterA.Friends) {
				t.Fatalf("expected no change got a=%+v b=%+v", afterA, afterB)
			}
		})
	}
}

func TestAcceptWithoutRequest(t *testing.T) {
	svc, _ := newFixture(t, "a", "b")
	if err := svc.AcceptRequest(context.Background(), "b", "a"); !errors.Is(err, ErrNoPendingRequest) {
		t.Fatalf("expected ErrNoPendingRequest got %v", err)
	}
}

func TestDeclineAndRemove(t *testing.T) {
	svc, store := newFixture(t, "a", "b")
	ctx := context.Background()

	if err := svc.SendRequest(ctx, "a", "b"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := svc.DeclineRequest(ctx, "b", "a"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	expectEmptySets(t, loadUser(t, store, "a"))
	expectEmptySets(t, loadUser(t, store, "b"))

	if err := svc.SendRequest(ctx, "b", "a"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := svc.AcceptRequest(ctx, "a", "b"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := svc.RemoveFriend(ctx, "a", "b"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	expectEmptySets(t, loadUser(t, store, "a"))
	expectEmptySets(t, loadUser(t, store, "b"))

	if err := svc.RemoveFriend(ctx, "a", "b"); err != nil {
		t.Fatalf("expected repeated remove to be a no-op got %v", err)
	}
}

func TestTransitionOnMissingUser(t *testing.T) {
	svc, _ := newFixture(t, "a")
	ctx := context.Background()

	if err := svc.SendRequest(ctx, "a", "ghost"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
	if _, err := svc.State(ctx, "a", "ghost"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
	if err := svc.SendRequest(ctx, "", "a"); !validation.IsValidation(err) {
		t.Fatalf("expected validation error got %v", err)
	}
}

func TestTransitionIsAllOrNothing(t *testing.T) {
	svc, store := newFixture(t, "a", "b")
	store.InjectFault(func(op memory.Op, _, id string) error {
		if op == memory.OpTxUpdate && id == "b" {
			return docstore.Transient("update", errors.New("connection reset"))
		}
		return nil
	})

	err := svc.SendRequest(context.Background(), "a", "b")
	if !docstore.IsTransient(err) {
		t.Fatalf("expected transient failure got %v", err)
	}
	store.InjectFault(nil)

	expectEmptySets(t, loadUser(t, store, "a"))
	expectEmptySets(t, loadUser(t, store, "b"))
}

func TestToggleCyclesThroughStates(t *testing.T) {
	svc, _ := newFixture(t, "a", "b")
	ctx := context.Background()

	steps := []struct {
		actor string
		other string
		want  models.RelationshipState
	}{
		{actor: "a", other: "b", want: models.RelationshipOutgoingPending},
		{actor: "a", other: "b", want: models.RelationshipNone},
		{actor: "a", other: "b", want: models.RelationshipOutgoingPending},
		{actor: "b", other: "a", want: models.RelationshipFriends},
		{actor: "b", other: "a", want: models.RelationshipNone},
	}
	for i, step := range steps {
		got, err := svc.Toggle(ctx, step.actor, step.other)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != step.want {
			t.Fatalf("step %d: expected %s got %s", i, step.want, got)
		}
	}
}

func TestApply(t *testing.T) {
	svc, _ := newFixture(t, "a", "b")
	ctx := context.Background()

	state, err := svc.Apply(ctx, "a", "b", ActionSend)
	if err != nil || state != models.RelationshipOutgoingPending {
		t.Fatalf("expected outgoing_pending got %s (%v)", state, err)
	}
	state, err = svc.Apply(ctx, "b", "a", ActionDecline)
	if err != nil || state != models.RelationshipNone {
		t.Fatalf("expected none got %s (%v)", state, err)
	}
	if _, err := svc.Apply(ctx, "a", "b", Action("poke")); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction got %v", err)
	}
}

func TestIncomingRequests(t *testing.T) {
	svc, store := newFixture(t, "me", "ann", "bob", "cy")
	ctx := context.Background()

	for _, from := range []string{"bob", "ann", "cy"} {
		if err := svc.SendRequest(ctx, from, "me"); err != nil {
			t.Fatalf("send from %s: %v", from, err)
		}
	}
	if err := store.Delete(ctx, docstore.CollectionUsers, "cy"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	users, err := svc.IncomingRequests(ctx, "me")
	if err != nil {
		t.Fatalf("incoming: %v", err)
	}
	got := make([]string, len(users))
	for i, u := range users {
		got[i] = u.ID
	}
	if !slices.Equal(got, []string{"bob", "ann"}) {
		t.Fatalf("expected [bob ann] got %v", got)
	}
}
