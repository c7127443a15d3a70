package feed

import (
	"fmt"
	"testing"
	"time"

	"github.com/quotefriends/backend/internal/models"
)

func TestInsertBufferLocalThenDelivered(t *testing.T) {
	b := NewInsertBuffer()
	now := time.Now()
	local := models.Quote{ID: "q9", AuthorID: "me", Text: "mine", CreatedAt: now, Visibility: models.VisibilityPublic}

	if !b.RecordLocalInsert(local) {
		t.Fatalf("expected first local insert to be added")
	}
	if b.RecordLocalInsert(local) {
		t.Fatalf("expected repeated local insert to be a no-op")
	}

	items, pending := b.Merge(nil)
	if len(items) != 1 || !pending["q9"] {
		t.Fatalf("expected pending q9 visible got %+v", items)
	}

	authoritative := local
	authoritative.CreatedAt = now.Add(-time.Second)
	authoritative.Text = "mine (server)"
	b.Observe([]models.Quote{authoritative})

	items, pending = b.Merge([]models.Quote{authoritative})
	if len(items) != 1 || items[0].Text != "mine (server)" || pending["q9"] {
		t.Fatalf("expected the delivered copy to supersede the local one got %+v", items)
	}
	if b.Pending() != 0 {
		t.Fatalf("expected no pending inserts got %d", b.Pending())
	}
}

func TestInsertBufferDeliveredThenLocal(t *testing.T) {
	b := NewInsertBuffer()
	delivered := models.Quote{ID: "q9", AuthorID: "me"}
	b.Observe([]models.Quote{delivered})

	if b.RecordLocalInsert(delivered) {
		t.Fatalf("expected local insert of a delivered id to be a no-op")
	}
	items, _ := b.Merge([]models.Quote{delivered})
	if len(items) != 1 {
		t.Fatalf("expected one entry got %d", len(items))
	}
}

func TestInsertBufferMergeDeduplicatesBeforeObserve(t *testing.T) {
	b := NewInsertBuffer()
	q := models.Quote{ID: "q1", AuthorID: "me"}
	b.RecordLocalInsert(q)

	items, pending := b.Merge([]models.Quote{q})
	if len(items) != 1 || pending["q1"] {
		t.Fatalf("expected a single non-pending entry got %+v %v", items, pending)
	}
}

func TestInsertBufferPrune(t *testing.T) {
	b := NewInsertBuffer()
	b.RecordLocalInsert(models.Quote{ID: "a", AuthorID: "me"})
	b.RecordLocalInsert(models.Quote{ID: "b", AuthorID: "gone"})

	b.Prune(map[string]struct{}{"me": {}})
	items, _ := b.Merge(nil)
	if len(items) != 1 || items[0].ID != "a" {
		t.Fatalf("expected only in-scope pending item got %+v", items)
	}
}

func TestInsertBufferIgnoresEmptyID(t *testing.T) {
	b := NewInsertBuffer()
	if b.RecordLocalInsert(models.Quote{}) {
		t.Fatalf("expected quote without id to be rejected")
	}
}

func TestInsertBufferRetract(t *testing.T) {
	b := NewInsertBuffer()
	b.RecordLocalInsert(models.Quote{ID: "q9", AuthorID: "me"})

	if !b.Retract("q9") {
		t.Fatalf("expected pending q9 to be retracted")
	}
	if b.Retract("q9") {
		t.Fatalf("expected a second retract to be a no-op")
	}
	if items, _ := b.Merge(nil); len(items) != 0 {
		t.Fatalf("expected no visible items got %+v", items)
	}
	if b.RecordLocalInsert(models.Quote{ID: "q9", AuthorID: "me"}) {
		t.Fatalf("expected a retracted id to stay seen until the next delivery")
	}
}

func TestInsertBufferExpire(t *testing.T) {
	recorded := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	b := NewInsertBuffer()
	b.now = func() time.Time { return recorded }
	b.RecordLocalInsert(models.Quote{ID: "mine", AuthorID: "me"})
	b.RecordLocalInsert(models.Quote{ID: "theirs", AuthorID: "ann"})

	cases := []struct {
		name         string
		lastDelivery map[string]time.Time
		wantPending  int
	}{
		{name: "no delivery yet", lastDelivery: map[string]time.Time{}, wantPending: 2},
		{name: "delivery within grace", lastDelivery: map[string]time.Time{"me": recorded.Add(time.Second)}, wantPending: 2},
		{name: "delivery after grace", lastDelivery: map[string]time.Time{"me": recorded.Add(3 * time.Second)}, wantPending: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b.Expire(tc.lastDelivery, 2*time.Second)
			if b.Pending() != tc.wantPending {
				t.Fatalf("expected %d pending got %d", tc.wantPending, b.Pending())
			}
		})
	}

	items, _ := b.Merge(nil)
	if len(items) != 1 || items[0].ID != "theirs" {
		t.Fatalf("expected only the undelivered author's insert got %+v", items)
	}
}

func TestInsertBufferForgetsIDsNoLongerDelivered(t *testing.T) {
	b := NewInsertBuffer()
	b.RecordLocalInsert(models.Quote{ID: "local", AuthorID: "me"})
	for i := 0; i < 100; i++ {
		b.Observe([]models.Quote{{ID: fmt.Sprintf("q%d", i), AuthorID: "ann"}})
	}

	if b.Remembered() != 2 {
		t.Fatalf("expected the last delivery and the pending insert to be remembered got %d", b.Remembered())
	}
	if b.RecordLocalInsert(models.Quote{ID: "q99", AuthorID: "ann"}) {
		t.Fatalf("expected a currently delivered id to be ignored")
	}
	if b.RecordLocalInsert(models.Quote{ID: "local", AuthorID: "me"}) {
		t.Fatalf("expected a pending id to be ignored")
	}
}
