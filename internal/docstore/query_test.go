package docstore

import (
	"errors"
	"testing"
	"time"
)

func TestQueryValidate(t *testing.T) {
	cases := []struct {
		name    string
		query   Query
		wantErr bool
	}{
		{name: "eq", query: Where("users", Eq(FieldID, "u1"))},
		{name: "contains", query: Where("users", Contains("searchKeywords", "an"))},
		{name: "in at cap", query: Where("quotes", In("authorId", "1", "2", "3", "4", "5", "6", "7", "8", "9", "10"))},
		{name: "in over cap", query: Where("quotes", In("authorId", "1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11")), wantErr: true},
		{name: "in empty", query: Where("quotes", In("authorId")), wantErr: true},
		{name: "no collection", query: Where("", Eq("a", "b")), wantErr: true},
		{name: "no field", query: Where("users", Eq("", "b")), wantErr: true},
		{name: "unknown operator", query: Where("users", Predicate{Field: "a", Op: "<"}), wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.query.Validate()
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidQuery) {
					t.Fatalf("expected ErrInvalidQuery got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error got %v", err)
			}
		})
	}
}

func TestQueryMatches(t *testing.T) {
	doc := Document{ID: "q1", Fields: map[string]any{
		"authorId":   "alice",
		"visibility": "public",
		"likesBy":    []any{"bob", 7, "carol"},
	}}

	if !Where("quotes", In("authorId", "bob", "alice"), Eq("visibility", "public")).Matches(doc) {
		t.Fatalf("expected in+eq to match")
	}
	if Where("quotes", Eq("visibility", "private")).Matches(doc) {
		t.Fatalf("expected eq mismatch")
	}
	if !Where("quotes", Contains("likesBy", "carol")).Matches(doc) {
		t.Fatalf("expected contains to match mixed array")
	}
	if !Where("quotes", Eq(FieldID, "q1")).Matches(doc) {
		t.Fatalf("expected id predicate to match")
	}
	if Where("quotes", Eq("missing", "")).Matches(doc) {
		t.Fatalf("expected missing field not to equal empty string")
	}
}

func TestApplyMutations(t *testing.T) {
	now := time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC)
	fields := map[string]any{
		"likesBy": []any{"a", "b"},
		"likes":   float64(2),
	}

	err := ApplyMutations(fields, []Mutation{
		ArrayUnion("likesBy", "b", "c"),
		ArrayRemove("likesBy", "a", "zzz"),
		Increment("likes", 1),
		Increment("views", 3),
		SetField("updatedAt", ServerTimestamp),
	}, now)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	got := StringSet(fields["likesBy"])
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("unexpected likesBy %v", got)
	}
	if Int(fields["likes"]) != 3 {
		t.Fatalf("expected likes 3 got %v", fields["likes"])
	}
	if Int(fields["views"]) != 3 {
		t.Fatalf("expected missing counter to start at zero got %v", fields["views"])
	}
	if !Time(fields["updatedAt"]).Equal(now) {
		t.Fatalf("expected server timestamp got %v", fields["updatedAt"])
	}

	if err := ApplyMutations(fields, []Mutation{SetField(FieldID, "x")}, now); err == nil {
		t.Fatalf("expected id field to be rejected")
	}
}

func TestCanonicalFields(t *testing.T) {
	now := time.Now()
	out := CanonicalFields(map[string]any{
		FieldID:   "ignored",
		"count":   5,
		"friends": []any{"a", "b"},
		"mixed":   []any{"a", 1},
	}, now)

	if _, ok := out[FieldID]; ok {
		t.Fatalf("expected id field to be dropped")
	}
	if _, ok := out["count"].(int64); !ok {
		t.Fatalf("expected int64 got %T", out["count"])
	}
	if _, ok := out["friends"].([]string); !ok {
		t.Fatalf("expected []string got %T", out["friends"])
	}
	if _, ok := out["mixed"].([]any); !ok {
		t.Fatalf("expected mixed array to stay []any got %T", out["mixed"])
	}
}

func TestTrackerNext(t *testing.T) {
	var tracker Tracker

	snap, changed := tracker.Next(nil)
	if !changed || len(snap.Docs) != 0 {
		t.Fatalf("expected first empty delivery got %+v changed=%v", snap, changed)
	}

	docs := []Document{
		{ID: "b", Fields: map[string]any{"text": "two"}},
		{ID: "a", Fields: map[string]any{"text": "one"}},
	}
	snap, changed = tracker.Next(docs)
	if !changed || len(snap.Docs) != 2 || snap.Docs[0].ID != "a" {
		t.Fatalf("expected sorted delivery got %+v", snap)
	}

	if _, changed = tracker.Next(docs); changed {
		t.Fatalf("expected identical result not to redeliver")
	}

	docs[0] = Document{ID: "b", Fields: map[string]any{"text": "edited"}}
	if _, changed = tracker.Next(docs); !changed {
		t.Fatalf("expected edited document to redeliver")
	}

	snap, changed = tracker.Next(docs[1:])
	if !changed || len(snap.Removed) != 1 || snap.Removed[0] != "b" {
		t.Fatalf("expected b removed got %+v", snap)
	}
}

func TestIsTransient(t *testing.T) {
	base := errors.New("connection reset")
	err := Transient("get users", base)
	if !IsTransient(err) {
		t.Fatalf("expected transient")
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped cause to be preserved")
	}
	if IsTransient(ErrNotFound) {
		t.Fatalf("expected not found to be permanent")
	}
	if Transient("noop", nil) != nil {
		t.Fatalf("expected nil passthrough")
	}
}
