package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quotefriends/backend/internal/docstore"
	"github.com/quotefriends/backend/internal/metrics"
	"github.com/quotefriends/backend/internal/models"
)

// MultiplexerOptions configure a Multiplexer.
type MultiplexerOptions struct {
	// OnChange runs after any delivery or rebuild changed the merged view.
	// It runs without the multiplexer's lock held.
	OnChange func()
	// OnError receives faulted deliveries and failed subscribes. Other
	// chunks keep running.
	OnError func(chunk []string, err error)
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Multiplexer keeps one live quote subscription per author chunk and merges
// the deliveries into a single deduplicated view.
type Multiplexer struct {
	store docstore.Store
	opts  MultiplexerOptions

	// rebuildMu serializes Rebuild and Close.
	rebuildMu sync.Mutex

	mu         sync.Mutex
	generation uint64
	closed     bool
	chunks     []chunkState
	subs       []docstore.Subscription
}

type chunkState struct {
	authors     map[string]struct{}
	items       map[string]models.Quote
	deliveredAt time.Time
}

// NewMultiplexer constructs a multiplexer with no subscriptions.
func NewMultiplexer(store docstore.Store, opts MultiplexerOptions) *Multiplexer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Multiplexer{store: store, opts: opts}
}

// Rebuild replaces every subscription with one per chunk. Items already held
// for authors still in scope stay visible until their new chunk delivers;
// items of authors that left scope disappear immediately. Deliveries from
// the previous subscriptions are discarded.
func (m *Multiplexer) Rebuild(ctx context.Context, chunks [][]string) error {
	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.generation++
	gen := m.generation
	old := m.subs
	m.subs = nil
	m.chunks = rebucket(m.chunks, chunks)
	m.mu.Unlock()

	m.cancelAll(old)
	m.opts.Metrics.AddFeedSubscriptions(-len(old))
	m.notify()

	var (
		subs []docstore.Subscription
		errs []error
	)
	for i, chunk := range chunks {
		q := docstore.Where(docstore.CollectionQuotes, docstore.In(models.FieldAuthorID, chunk...))
		sub, err := m.store.Subscribe(ctx, q, m.deliver(gen, i))
		if err != nil {
			err = fmt.Errorf("subscribe chunk %d: %w", i, err)
			m.reportError(chunk, err)
			errs = append(errs, err)
			continue
		}
		subs = append(subs, sub)
	}

	m.mu.Lock()
	if m.closed || m.generation != gen {
		m.mu.Unlock()
		m.cancelAll(subs)
		return errors.Join(errs...)
	}
	m.subs = subs
	m.mu.Unlock()
	m.opts.Metrics.AddFeedSubscriptions(len(subs))

	return errors.Join(errs...)
}

func (m *Multiplexer) deliver(gen uint64, index int) docstore.Handler {
	return func(snap docstore.Snapshot, err error) {
		m.mu.Lock()
		if m.closed || m.generation != gen || index >= len(m.chunks) {
			m.mu.Unlock()
			return
		}
		state := m.chunks[index]
		if err != nil {
			authors := keys(state.authors)
			m.mu.Unlock()
			m.opts.Metrics.FeedSubscriptionFailed()
			m.reportError(authors, err)
			return
		}

		items := make(map[string]models.Quote, len(snap.Docs))
		for _, doc := range snap.Docs {
			q := models.QuoteFromDocument(doc)
			if _, ok := state.authors[q.AuthorID]; !ok {
				continue
			}
			items[q.ID] = q
		}
		m.chunks[index].items = items
		m.chunks[index].deliveredAt = time.Now()
		m.mu.Unlock()

		m.notify()
	}
}

// Items returns the merged view: public quotes from every chunk, one entry
// per id, newest first with ties broken by id.
func (m *Multiplexer) Items() []models.Quote {
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := make(map[string]models.Quote)
	for _, c := range m.chunks {
		for id, q := range c.items {
			if q.Visibility != models.VisibilityPublic {
				continue
			}
			merged[id] = q
		}
	}

	out := make([]models.Quote, 0, len(merged))
	for _, q := range merged {
		out = append(out, q)
	}
	models.SortQuotes(out)
	return out
}

// LastDeliveries maps every author in scope to the time its chunk last
// delivered. Authors whose chunk has not delivered since the last rebuild
// are absent.
func (m *Multiplexer) LastDeliveries() map[string]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]time.Time)
	for _, c := range m.chunks {
		if c.deliveredAt.IsZero() {
			continue
		}
		for author := range c.authors {
			out[author] = c.deliveredAt
		}
	}
	return out
}

// ActiveSubscriptions reports how many chunk subscriptions are open.
func (m *Multiplexer) ActiveSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Close cancels every subscription. No callback runs once Close returns.
func (m *Multiplexer) Close() {
	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.generation++
	old := m.subs
	m.subs = nil
	m.chunks = nil
	m.mu.Unlock()

	m.cancelAll(old)
	m.opts.Metrics.AddFeedSubscriptions(-len(old))
}

func (m *Multiplexer) cancelAll(subs []docstore.Subscription) {
	for _, sub := range subs {
		sub.Cancel()
	}
}

func (m *Multiplexer) notify() {
	if m.opts.OnChange != nil {
		m.opts.OnChange()
	}
}

func (m *Multiplexer) reportError(chunk []string, err error) {
	m.opts.Logger.Warn("feed subscription failed", "authors", len(chunk), "error", err)
	if m.opts.OnError != nil {
		m.opts.OnError(chunk, err)
	}
}

// rebucket lays out state for the new chunks, carrying over held items whose
// author is still in scope.
func rebucket(prev []chunkState, chunks [][]string) []chunkState {
	owner := make(map[string]int)
	next := make([]chunkState, len(chunks))
	for i, chunk := range chunks {
		next[i] = chunkState{
			authors: make(map[string]struct{}, len(chunk)),
			items:   make(map[string]models.Quote),
		}
		for _, id := range chunk {
			next[i].authors[id] = struct{}{}
			owner[id] = i
		}
	}
	for _, c := range prev {
		for id, q := range c.items {
			if i, ok := owner[q.AuthorID]; ok {
				next[i].items[id] = q
			}
		}
	}
	return next
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
