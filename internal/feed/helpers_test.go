package feed

import (
	"context"
	"testing"
	"time"

	"github.com/quotefriends/backend/internal/docstore"
	"github.com/quotefriends/backend/internal/docstore/memory"
	"github.com/quotefriends/backend/internal/models"
)

var baseTime = time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)

func putUser(t *testing.T, store *memory.Store, id string, friends ...string) {
	t.Helper()
	if friends == nil {
		friends = []string{}
	}
	err := store.Set(context.Background(), docstore.CollectionUsers, id, map[string]any{
		models.FieldUsername:         id,
		models.FieldFriends:          friends,
		models.FieldIncomingRequests: []string{},
		models.FieldOutgoingRequests: []string{},
	}, docstore.SetOptions{})
	if err != nil {
		t.Fatalf("set user %s: %v", id, err)
	}
}

func putQuote(t *testing.T, store *memory.Store, id, author string, minute int, visibility models.Visibility) {
	t.Helper()
	err := store.Set(context.Background(), docstore.CollectionQuotes, id, map[string]any{
		models.FieldAuthorID:   author,
		models.FieldText:       "quote " + id,
		models.FieldCreatedAt:  baseTime.Add(time.Duration(minute) * time.Minute),
		models.FieldVisibility: string(visibility),
		models.FieldLikesBy:    []string{},
		models.FieldLikes:      0,
	}, docstore.SetOptions{})
	if err != nil {
		t.Fatalf("set quote %s: %v", id, err)
	}
}

func quoteIDs(quotes []models.Quote) []string {
	out := make([]string, len(quotes))
	for i, q := range quotes {
		out[i] = q.ID
	}
	return out
}

func itemIDs(items []models.FeedItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func waitForCondition(t *testing.T, predicate func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if predicate() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
