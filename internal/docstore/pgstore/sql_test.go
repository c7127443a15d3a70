package pgstore

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/quotefriends/backend/internal/docstore"
)

func TestBuildSelect(t *testing.T) {
	sql, args, err := buildSelect(docstore.Where("quotes",
		docstore.In("authorId", "a", "b"),
		docstore.Eq("visibility", "public"),
	))
	if err != nil {
		t.Fatalf("build select: %v", err)
	}

	want := "SELECT id, data FROM documents WHERE collection = $1 AND data->>$2::TEXT = ANY($3::TEXT[]) AND data->>$4::TEXT = $5::TEXT ORDER BY id"
	if sql != want {
		t.Fatalf("unexpected sql\nexpected %s\ngot      %s", want, sql)
	}
	if len(args) != 5 || args[0] != "quotes" || args[1] != "authorId" || args[3] != "visibility" || args[4] != "public" {
		t.Fatalf("unexpected args %v", args)
	}
	if values, ok := args[2].([]string); !ok || len(values) != 2 {
		t.Fatalf("expected in values bound as []string got %#v", args[2])
	}
}

func TestBuildSelectIDAndContains(t *testing.T) {
	sql, _, err := buildSelect(docstore.Where("users", docstore.In(docstore.FieldID, "u1", "u2")))
	if err != nil {
		t.Fatalf("build select: %v", err)
	}
	if !strings.Contains(sql, "id = ANY($2::TEXT[])") {
		t.Fatalf("expected id membership clause got %s", sql)
	}

	sql, _, err = buildSelect(docstore.Where("users", docstore.Contains("searchKeywords", "an")))
	if err != nil {
		t.Fatalf("build select: %v", err)
	}
	if !strings.Contains(sql, "data->$2::TEXT @> jsonb_build_array($3::TEXT)") {
		t.Fatalf("expected containment clause got %s", sql)
	}

	if _, _, err := buildSelect(docstore.Where("users", docstore.Contains(docstore.FieldID, "x"))); !errors.Is(err, docstore.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery got %v", err)
	}
}

func TestCodecRoundTripCanonicalForms(t *testing.T) {
	now := time.Date(2024, time.May, 5, 10, 0, 0, 0, time.UTC)
	data, err := encodeFields(map[string]any{
		"likes":     3,
		"likesBy":   []string{"a", "b"},
		"createdAt": docstore.ServerTimestamp,
		"ratio":     0.5,
	}, now)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	fields, err := decodeFields(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v, ok := fields["likes"].(int64); !ok || v != 3 {
		t.Fatalf("expected int64 3 got %#v", fields["likes"])
	}
	if v, ok := fields["likesBy"].([]string); !ok || len(v) != 2 {
		t.Fatalf("expected []string got %#v", fields["likesBy"])
	}
	if !docstore.Time(fields["createdAt"]).Equal(now) {
		t.Fatalf("expected timestamp %v got %#v", now, fields["createdAt"])
	}
	if v, ok := fields["ratio"].(float64); !ok || v != 0.5 {
		t.Fatalf("expected float 0.5 got %#v", fields["ratio"])
	}
}
