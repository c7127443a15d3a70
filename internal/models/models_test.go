package models

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/quotefriends/backend/internal/docstore"
)

func TestQuoteFromDocumentNormalizes(t *testing.T) {
	created := time.Date(2024, time.February, 3, 4, 5, 6, 0, time.UTC)
	q := QuoteFromDocument(docstore.Document{ID: "q1", Fields: map[string]any{
		"userId":    "alice",
		"text":      "legacy",
		"timestamp": created,
		"likes":     int64(7),
		"likesBy":   []any{"bob", "bob", "carol"},
	}})

	if q.AuthorID != "alice" {
		t.Fatalf("expected legacy author alias got %q", q.AuthorID)
	}
	if !q.CreatedAt.Equal(created) {
		t.Fatalf("expected legacy timestamp alias got %v", q.CreatedAt)
	}
	if q.Visibility != VisibilityPublic {
		t.Fatalf("expected default visibility public got %q", q.Visibility)
	}
	if q.Likes != 2 || !reflect.DeepEqual(q.LikesBy, []string{"bob", "carol"}) {
		t.Fatalf("expected likes derived from deduped likers got %d %v", q.Likes, q.LikesBy)
	}
}

func TestUserFromDocumentDefaults(t *testing.T) {
	u := UserFromDocument(docstore.Document{ID: "u1", Fields: map[string]any{"username": "ann"}})
	if u.Friends == nil || u.IncomingRequests == nil || u.OutgoingRequests == nil {
		t.Fatalf("expected empty sets, got %+v", u)
	}
	if u.Username != "ann" {
		t.Fatalf("expected username ann got %q", u.Username)
	}
}

func TestDeriveRelationship(t *testing.T) {
	cases := []struct {
		name    string
		viewer  string
		subject User
		want    RelationshipState
	}{
		{name: "self", viewer: "a", subject: User{ID: "a"}, want: RelationshipNone},
		{name: "no viewer", viewer: "", subject: User{ID: "b"}, want: RelationshipNone},
		{name: "strangers", viewer: "a", subject: User{ID: "b"}, want: RelationshipNone},
		{name: "friends", viewer: "a", subject: User{ID: "b", Friends: []string{"a"}}, want: RelationshipFriends},
		{name: "viewer sent request", viewer: "a", subject: User{ID: "b", IncomingRequests: []string{"a"}}, want: RelationshipOutgoingPending},
		{name: "subject sent request", viewer: "a", subject: User{ID: "b", OutgoingRequests: []string{"a"}}, want: RelationshipIncomingPending},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveRelationship(tc.viewer, tc.subject); got != tc.want {
				t.Fatalf("expected %s got %s", tc.want, got)
			}
		})
	}
}

func TestSearchKeywords(t *testing.T) {
	got := SearchKeywords("Ann Lee")
	want := []string{"a", "an", "ann", "ann lee", "l", "le", "lee"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v got %v", want, got)
	}
	if len(SearchKeywords("   ")) != 0 {
		t.Fatalf("expected no keywords for blank username")
	}
}

func TestNormalizeQuoteText(t *testing.T) {
	if text, ok := NormalizeQuoteText("  hello  "); !ok || text != "hello" {
		t.Fatalf("expected trimmed text got %q %v", text, ok)
	}
	if _, ok := NormalizeQuoteText("   "); ok {
		t.Fatalf("expected blank text to be rejected")
	}
	if _, ok := NormalizeQuoteText(strings.Repeat("é", MaxQuoteLength)); !ok {
		t.Fatalf("expected %d multibyte characters to be accepted", MaxQuoteLength)
	}
	if _, ok := NormalizeQuoteText(strings.Repeat("x", MaxQuoteLength+1)); ok {
		t.Fatalf("expected overlong text to be rejected")
	}
}

func TestSortFeed(t *testing.T) {
	base := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	items := []FeedItem{
		{Quote: Quote{ID: "b", CreatedAt: base}},
		{Quote: Quote{ID: "c", CreatedAt: base.Add(time.Minute)}},
		{Quote: Quote{ID: "a", CreatedAt: base}},
	}
	SortFeed(items)
	got := []string{items[0].ID, items[1].ID, items[2].ID}
	if !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Fatalf("unexpected order %v", got)
	}
}
