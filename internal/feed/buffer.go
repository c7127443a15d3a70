package feed

import (
	"time"

	"github.com/quotefriends/backend/internal/models"
)

// InsertBuffer holds quotes the viewer just created until the store delivers
// them. It is not safe for concurrent use; the aggregator guards it.
type InsertBuffer struct {
	seen    map[string]struct{}
	pending map[string]pendingQuote
	now     func() time.Time
}

type pendingQuote struct {
	quote    models.Quote
	recorded time.Time
}

// NewInsertBuffer returns an empty buffer.
func NewInsertBuffer() *InsertBuffer {
	return &InsertBuffer{
		seen:    make(map[string]struct{}),
		pending: make(map[string]pendingQuote),
		now:     time.Now,
	}
}

// RecordLocalInsert shows q immediately unless its id was already seen,
// either from an earlier local insert or from a delivery. It reports whether
// q was added.
func (b *InsertBuffer) RecordLocalInsert(q models.Quote) bool {
	if q.ID == "" {
		return false
	}
	if _, ok := b.seen[q.ID]; ok {
		return false
	}
	b.seen[q.ID] = struct{}{}
	b.pending[q.ID] = pendingQuote{quote: q, recorded: b.now()}
	return true
}

// Retract drops a pending quote that was deleted before any delivery
// carried it. It reports whether a pending copy was removed.
func (b *InsertBuffer) Retract(id string) bool {
	if _, ok := b.pending[id]; !ok {
		return false
	}
	delete(b.pending, id)
	return true
}

// Observe drops the pending copies that delivered quotes supersede. Only ids
// still delivered or pending are remembered.
func (b *InsertBuffer) Observe(delivered []models.Quote) {
	seen := make(map[string]struct{}, len(delivered)+len(b.pending))
	for _, q := range delivered {
		seen[q.ID] = struct{}{}
		delete(b.pending, q.ID)
	}
	for id := range b.pending {
		seen[id] = struct{}{}
	}
	b.seen = seen
}

// Expire drops pending quotes that a delivery for their author, received
// more than grace after the insert, still did not carry. lastDelivery maps
// an author to the latest delivery of the chunk that covers them.
func (b *InsertBuffer) Expire(lastDelivery map[string]time.Time, grace time.Duration) int {
	expired := 0
	for id, p := range b.pending {
		at, ok := lastDelivery[p.quote.AuthorID]
		if !ok || at.Sub(p.recorded) <= grace {
			continue
		}
		delete(b.pending, id)
		delete(b.seen, id)
		expired++
	}
	return expired
}

// Prune drops pending quotes whose author is outside scope.
func (b *InsertBuffer) Prune(scope map[string]struct{}) {
	for id, p := range b.pending {
		if _, ok := scope[p.quote.AuthorID]; !ok {
			delete(b.pending, id)
		}
	}
}

// Merge returns delivered plus any still-pending quotes, one entry per id,
// newest first. Delivered copies win over pending ones.
func (b *InsertBuffer) Merge(delivered []models.Quote) ([]models.Quote, map[string]bool) {
	out := make([]models.Quote, 0, len(delivered)+len(b.pending))
	ids := make(map[string]struct{}, len(delivered))
	for _, q := range delivered {
		ids[q.ID] = struct{}{}
		out = append(out, q)
	}

	pending := make(map[string]bool, len(b.pending))
	for id, p := range b.pending {
		if _, ok := ids[id]; ok {
			continue
		}
		out = append(out, p.quote)
		pending[id] = true
	}
	models.SortQuotes(out)
	return out, pending
}

// Pending reports how many local inserts await delivery.
func (b *InsertBuffer) Pending() int {
	return len(b.pending)
}

// Remembered reports how many ids the buffer tracks as already shown.
func (b *InsertBuffer) Remembered() int {
	return len(b.seen)
}
