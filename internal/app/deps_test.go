package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quotefriends/backend/internal/config"
	"github.com/quotefriends/backend/internal/docstore/memory"
	"github.com/quotefriends/backend/internal/models"
	"github.com/quotefriends/backend/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
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

func newServices(t *testing.T) services {
	t.Helper()
	svc, err := buildDependencies(context.Background(), memory.New(), config.Defaults(), discardLogger())
	if err != nil {
		t.Fatalf("build dependencies: %v", err)
	}
	return svc
}

func TestBuildDependencies(t *testing.T) {
	cfg := config.Defaults()
	cfg.AvatarBucket = "avatars"
	cfg.AvatarEndpoint = "http://localhost:9000"

	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	svc, err := buildDependencies(context.Background(), memory.New(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.store == nil || svc.profiles == nil || svc.relationships == nil || svc.quotes == nil {
		t.Fatal("expected engine services to be configured")
	}
	if svc.likes == nil || svc.directory == nil || svc.hub == nil || svc.metrics == nil {
		t.Fatal("expected feed collaborators to be configured")
	}
	if _, ok := svc.avatars.(*storage.S3Avatars); !ok {
		t.Fatalf("expected s3 avatars when a bucket is configured got %T", svc.avatars)
	}

	deps := handlerDependencies(svc, nil, 0, nil)
	if deps.Quotes == nil || deps.Authors == nil || deps.Likes == nil {
		t.Fatal("expected handler dependencies to be populated")
	}
}

func TestBuildDependenciesWithoutBucketPassesAvatarsThrough(t *testing.T) {
	svc := newServices(t)
	if _, ok := svc.avatars.(storage.Passthrough); !ok {
		t.Fatalf("expected passthrough avatars got %T", svc.avatars)
	}
}

func TestOpenStore(t *testing.T) {
	cfg := config.Defaults()
	be, err := openStore(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	if _, ok := be.store.(*memory.Store); !ok {
		t.Fatalf("expected memory store got %T", be.store)
	}
	if err := be.close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	cfg.Store = "redis"
	if _, err := openStore(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("expected unknown store to be rejected")
	}
}

func TestSeedDataIsRepeatable(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	var out bytes.Buffer
	if err := seedData(ctx, svc, &out); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := seedData(ctx, svc, &out); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	state, err := svc.relationships.State(ctx, "seed-ada", "seed-grace")
	if err != nil || state != models.RelationshipFriends {
		t.Fatalf("expected ada and grace to be friends got %s err=%v", state, err)
	}
	state, err = svc.relationships.State(ctx, "seed-ada", "seed-edsger")
	if err != nil || state != models.RelationshipIncomingPending {
		t.Fatalf("expected a pending request from edsger got %s err=%v", state, err)
	}

	list, err := svc.quotes.ListByAuthor(ctx, "seed-grace", "seed-grace")
	if err != nil {
		t.Fatalf("list quotes: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected seeding twice to keep 2 quotes got %d", len(list))
	}
}

func TestWatchFeedPrintsRenders(t *testing.T) {
	svc := newServices(t)
	if err := seedData(context.Background(), svc, io.Discard); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- watchFeed(ctx, svc, "seed-ada", out, discardLogger())
	}()

	waitForCondition(t, func() bool {
		s := out.String()
		return strings.Contains(s, "--- 4 quotes ---") && strings.Contains(s, "@Grace Hopper")
	}, 2*time.Second)
	if strings.Contains(out.String(), "Dijkstra") {
		t.Fatalf("expected quotes from a pending requester to stay out of the feed:\n%s", out.String())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected watch to stop after cancel")
	}
}

func TestRunCommands(t *testing.T) {
	if err := Run(context.Background(), nil); err == nil {
		t.Fatal("expected missing command to fail")
	}
	if err := Run(context.Background(), []string{"launch"}); err == nil {
		t.Fatal("expected unknown command to fail")
	}
	if err := Run(context.Background(), []string{"watch"}); err == nil {
		t.Fatal("expected watch without a viewer to fail")
	}
	if err := Run(context.Background(), []string{"seed", "prod"}); err == nil {
		t.Fatal("expected unknown seed to fail")
	}
}

func TestMigrateSkipsStoresWithoutSchema(t *testing.T) {
	t.Setenv("QUOTEFRIENDS_CONFIG_FILE", "")
	t.Setenv("QUOTEFRIENDS_STORE", "memory")

	var out bytes.Buffer
	previous := stdout
	stdout = &out
	defer func() { stdout = previous }()

	if err := Run(context.Background(), []string{"migrate", "status"}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out.String(), "no schema to migrate") {
		t.Fatalf("expected skip message got %q", out.String())
	}
	if err := Run(context.Background(), []string{"migrate", "down"}); err == nil {
		t.Fatal("expected unsupported migrate command to fail")
	}
}
