package profiles

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/quotefriends/backend/internal/docstore"
	"github.com/quotefriends/backend/internal/docstore/memory"
	"github.com/quotefriends/backend/internal/identity"
	"github.com/quotefriends/backend/internal/models"
	"github.com/quotefriends/backend/internal/validation"
)

type recordingVerifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (v *recordingVerifier) SendVerification(_ context.Context, userID, _ string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, userID)
	return v.err
}

func TestCreateProfile(t *testing.T) {
	store := memory.New()
	verifier := &recordingVerifier{}
	svc := NewService(store, verifier)
	ctx := context.Background()

	user, err := svc.CreateProfile(ctx, "u1", CreateInput{Username: "Ada Lovelace", Email: "ada@example.com", Bio: "math"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if user.Username != "Ada Lovelace" || user.Bio != "math" {
		t.Fatalf("unexpected profile %+v", user)
	}
	if !slices.Contains(user.SearchKeywords, "lov") || !slices.Contains(user.SearchKeywords, "ada lovelace") {
		t.Fatalf("expected search keywords got %v", user.SearchKeywords)
	}
	if user.Friends == nil || len(user.Friends) != 0 {
		t.Fatalf("expected empty friend set got %v", user.Friends)
	}

	claim, err := store.Get(ctx, docstore.CollectionUsernames, "ada lovelace")
	if err != nil {
		t.Fatalf("expected username claim: %v", err)
	}
	if docstore.String(claim.Get(models.FieldClaimUserID)) != "u1" {
		t.Fatalf("expected claim for u1 got %+v", claim.Fields)
	}
	if len(verifier.calls) != 1 {
		t.Fatalf("expected one verification send got %d", len(verifier.calls))
	}

	if _, err := svc.CreateProfile(ctx, "u2", CreateInput{Username: "ADA LOVELACE"}); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken got %v", err)
	}
	if _, err := svc.CreateProfile(ctx, "u1", CreateInput{Username: "other"}); !errors.Is(err, ErrProfileExists) {
		t.Fatalf("expected ErrProfileExists got %v", err)
	}
	if _, err := store.Get(ctx, docstore.CollectionUsernames, "other"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected failed create to leave no claim got %v", err)
	}
}

func TestCreateProfileVerificationIsBestEffort(t *testing.T) {
	verifier := &recordingVerifier{err: errors.New("smtp down")}
	svc := NewService(memory.New(), verifier)

	if _, err := svc.CreateProfile(context.Background(), "u1", CreateInput{Username: "ann", Email: "ann@example.com"}); err != nil {
		t.Fatalf("expected verification failure to be ignored got %v", err)
	}

	ctx := identity.WithProvider(context.Background(), identity.Static{ID: "u2", Verified: true})
	if _, err := svc.CreateProfile(ctx, "u2", CreateInput{Username: "bob", Email: "bob@example.com"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(verifier.calls) != 1 {
		t.Fatalf("expected verified identity to skip the send got %v", verifier.calls)
	}
}

func TestCreateProfileValidation(t *testing.T) {
	svc := NewService(memory.New(), nil)
	cases := []struct {
		name  string
		user  string
		input CreateInput
	}{
		{name: "no viewer", user: "", input: CreateInput{Username: "ann"}},
		{name: "no username", user: "u1", input: CreateInput{}},
		{name: "bad email", user: "u1", input: CreateInput{Username: "ann", Email: "nope"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateProfile(context.Background(), tc.user, tc.input); !validation.IsValidation(err) {
				t.Fatalf("expected validation error got %v", err)
			}
		})
	}
}

func TestUpdateProfileMovesUsernameClaim(t *testing.T) {
	store := memory.New()
	svc := NewService(store, nil)
	ctx := context.Background()

	if _, err := svc.CreateProfile(ctx, "u1", CreateInput{Username: "ann"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateProfile(ctx, "u2", CreateInput{Username: "bob"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	taken := "Bob"
	if _, err := svc.UpdateProfile(ctx, "u1", UpdateInput{Username: &taken}); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken got %v", err)
	}

	name, bio := "annie", "hello"
	user, err := svc.UpdateProfile(ctx, "u1", UpdateInput{Username: &name, Bio: &bio})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if user.Username != "annie" || user.Bio != "hello" || !slices.Contains(user.SearchKeywords, "annie") {
		t.Fatalf("unexpected profile %+v", user)
	}
	if _, err := store.Get(ctx, docstore.CollectionUsernames, "ann"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected old claim released got %v", err)
	}
	if _, err := svc.CreateProfile(ctx, "u3", CreateInput{Username: "ann"}); err != nil {
		t.Fatalf("expected released username to be claimable got %v", err)
	}

	blank := "  "
	if _, err := svc.UpdateProfile(ctx, "u1", UpdateInput{Username: &blank}); !validation.IsValidation(err) {
		t.Fatalf("expected validation error got %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, "ghost", UpdateInput{Bio: &bio}); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
}

func TestSearch(t *testing.T) {
	svc := NewService(memory.New(), nil)
	ctx := context.Background()
	for id, name := range map[string]string{"u1": "Ada Lovelace", "u2": "adam", "u3": "Grace Hopper", "me": "Adele"} {
		if _, err := svc.CreateProfile(ctx, id, CreateInput{Username: name}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	cases := []struct {
		term string
		want []string
	}{
		{term: "ad", want: []string{"u1", "u2"}},
		{term: "  HOP ", want: []string{"u3"}},
		{term: "lovelace", want: []string{"u1"}},
		{term: "zed", want: []string{}},
		{term: "", want: []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.term, func(t *testing.T) {
			users, err := svc.Search(ctx, "me", tc.term, 0)
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			got := make([]string, len(users))
			for i, u := range users {
				got[i] = u.ID
			}
			if !slices.Equal(got, tc.want) {
				t.Fatalf("expected %v got %v", tc.want, got)
			}
		})
	}
}

func TestLookupChunksAndKeepsOrder(t *testing.T) {
	store := memory.New()
	svc := NewService(store, nil)
	ctx := context.Background()

	ids := make([]string, 25)
	for i := range ids {
		ids[i] = fmt.Sprintf("u%02d", 24-i)
		if i%5 == 0 {
			continue
		}
		if err := store.Set(ctx, docstore.CollectionUsers, ids[i], map[string]any{models.FieldUsername: ids[i]}, docstore.SetOptions{}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	users, err := svc.Lookup(ctx, append(ids, ids[1]))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(users) != 20 {
		t.Fatalf("expected 20 existing users got %d", len(users))
	}
	if users[0].ID != ids[1] || users[len(users)-1].ID != ids[24] {
		t.Fatalf("expected input order got first=%s last=%s", users[0].ID, users[len(users)-1].ID)
	}
}

func TestLookupPropagatesStoreErrors(t *testing.T) {
	store := memory.New()
	store.InjectFault(func(op memory.Op, _, _ string) error {
		if op == memory.OpQuery {
			return docstore.Transient("query", errors.New("unavailable"))
		}
		return nil
	})
	svc := NewService(store, nil)
	if _, err := svc.Lookup(context.Background(), []string{"a", "b"}); !docstore.IsTransient(err) {
		t.Fatalf("expected transient error got %v", err)
	}
}
