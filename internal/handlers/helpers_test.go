package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quotefriends/backend/internal/docstore/memory"
	"github.com/quotefriends/backend/internal/feed"
	"github.com/quotefriends/backend/internal/identity"
	"github.com/quotefriends/backend/internal/likes"
	"github.com/quotefriends/backend/internal/metrics"
	"github.com/quotefriends/backend/internal/middleware"
	"github.com/quotefriends/backend/internal/profiles"
	"github.com/quotefriends/backend/internal/quotes"
	"github.com/quotefriends/backend/internal/relationships"
)

type testEnv struct {
	store   *memory.Store
	hub     *feed.Hub
	metrics *metrics.Collector
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	collector := metrics.New("test")
	users := profiles.NewService(store, nil)
	hub := feed.NewHub()

	deps := Dependencies{
		Store:         store,
		Quotes:        quotes.NewService(store, collector),
		Relationships: relationships.NewService(store, users, collector),
		Profiles:      users,
		Likes:         likes.NewRegistry(store, likes.Options{Users: users, Metrics: collector}),
		Authors:       profiles.NewDirectory(users, profiles.DirectoryOptions{Metrics: collector}),
		Hub:           hub,
		Metrics:       collector,
		KeepAlive:     50 * time.Millisecond,
	}
	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)

	return &testEnv{
		store:   store,
		hub:     hub,
		metrics: collector,
		handler: middleware.Chain(mux, middleware.Viewer),
	}
}

func (e *testEnv) do(t *testing.T, method, path, viewer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	if viewer != "" {
		req.Header.Set(identity.HeaderViewerID, viewer)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createProfile(t *testing.T, viewer, username string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/profile", viewer, map[string]string{"username": username})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected profile for %s to be created got %d: %s", viewer, rec.Code, rec.Body.String())
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
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
