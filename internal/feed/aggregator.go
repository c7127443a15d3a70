package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/quotefriends/backend/internal/docstore"
	"github.com/quotefriends/backend/internal/identity"
	"github.com/quotefriends/backend/internal/logging"
	"github.com/quotefriends/backend/internal/metrics"
	"github.com/quotefriends/backend/internal/models"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("feed aggregator already started")

// DefaultPendingGrace covers the latency between a write and the first
// delivery that can observe it.
const DefaultPendingGrace = 2 * time.Second

// AuthorSource resolves display data for quote authors.
type AuthorSource interface {
	Authors(ctx context.Context, ids []string) (map[string]models.Author, error)
}

// LikeView reports the viewer's like state for a quote, including optimistic
// toggles not yet confirmed by the store.
type LikeView interface {
	View(q models.Quote) (liked bool, likes int64)
	// Listen registers fn to run whenever an optimistic state changes.
	Listen(fn func()) (cancel func())
}

// Options configure an Aggregator.
type Options struct {
	Store    docstore.Store
	Identity identity.Provider
	// Authors is optional; without it items carry only the author id.
	Authors AuthorSource
	// Likes is optional; without it like state comes from the store alone.
	Likes LikeView
	// ChunkSize defaults to ChunkSize.
	ChunkSize int
	// PendingGrace bounds how long a local insert survives deliveries of its
	// author's chunk that do not carry it. Defaults to DefaultPendingGrace.
	PendingGrace time.Duration
	// OnChange receives every render pass on the aggregator's notifier
	// goroutine. It must not call Close.
	OnChange func(items []models.FeedItem)
	// OnError receives transient subscription faults.
	OnError func(err error)
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Aggregator owns the viewer's feed scope: the viewer plus their friends. It
// follows the viewer's record, rebuilds the chunk subscriptions whenever the
// scope changes, and renders the merged, author-joined feed.
type Aggregator struct {
	opts     Options
	viewerID string
	mux      *Multiplexer
	logger   *slog.Logger

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
	closed    bool
	buffer    *InsertBuffer
	scope     []string
	scopeSet  map[string]struct{}
	items     []models.FeedItem
	viewerSub docstore.Subscription
	unlisten  func()

	renderCh chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

// New constructs an aggregator. Call Start to begin and Close to stop.
func New(opts Options) *Aggregator {
	if opts.Identity == nil {
		opts.Identity = identity.Anonymous
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = ChunkSize
	}
	if opts.PendingGrace <= 0 {
		opts.PendingGrace = DefaultPendingGrace
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	viewerID, _ := opts.Identity.ViewerID()
	a := &Aggregator{
		opts:     opts,
		viewerID: viewerID,
		logger:   opts.Logger.With("viewerId", viewerID),
		buffer:   NewInsertBuffer(),
		renderCh: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	a.mux = NewMultiplexer(opts.Store, MultiplexerOptions{
		OnChange: a.requestRender,
		OnError: func(chunk []string, err error) {
			a.reportError(fmt.Errorf("feed chunk of %d authors: %w", len(chunk), err))
		},
		Logger:  a.logger,
		Metrics: opts.Metrics,
	})
	return a
}

// Start subscribes to the viewer's record. Without a viewer the feed stays
// empty and nothing is subscribed. Close is safe after a failed Start.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.ctx, a.cancel = context.WithCancel(logging.WithViewer(ctx, a.viewerID))
	runCtx := a.ctx
	a.mu.Unlock()

	a.wg.Add(1)
	go a.notifier()
	a.requestRender()

	if a.viewerID == "" {
		return nil
	}

	if a.opts.Likes != nil {
		unlisten := a.opts.Likes.Listen(a.requestRender)
		a.mu.Lock()
		a.unlisten = unlisten
		a.mu.Unlock()
	}

	sub, err := a.opts.Store.Subscribe(runCtx,
		docstore.Where(docstore.CollectionUsers, docstore.Eq(docstore.FieldID, a.viewerID)),
		a.onViewer)
	if err != nil {
		return fmt.Errorf("subscribe viewer record: %w", err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		sub.Cancel()
		return nil
	}
	a.viewerSub = sub
	a.mu.Unlock()
	return nil
}

func (a *Aggregator) onViewer(snap docstore.Snapshot, err error) {
	if err != nil {
		a.reportError(fmt.Errorf("viewer record: %w", err))
		return
	}

	var scope []string
	for _, doc := range snap.Docs {
		if doc.ID != a.viewerID {
			continue
		}
		user := models.UserFromDocument(doc)
		scope = append([]string{a.viewerID}, user.Friends...)
	}
	chunks := Chunk(scope, a.opts.ChunkSize)

	a.mu.Lock()
	if a.closed || slices.Equal(a.scope, scope) {
		a.mu.Unlock()
		return
	}
	a.scope = scope
	a.scopeSet = make(map[string]struct{}, len(scope))
	for _, id := range scope {
		a.scopeSet[id] = struct{}{}
	}
	a.buffer.Prune(a.scopeSet)
	ctx := a.ctx
	a.mu.Unlock()

	a.logger.Debug("feed scope changed", "authors", len(scope), "chunks", len(chunks))
	if err := a.mux.Rebuild(ctx, chunks); err != nil {
		a.logger.Debug("feed rebuild incomplete", "error", err)
	}
	a.requestRender()
}

// RecordLocalInsert shows a quote the viewer just created before the store
// delivers it. Quotes that are not public or not by an in-scope author are
// ignored. It reports whether the quote was added.
func (a *Aggregator) RecordLocalInsert(q models.Quote) bool {
	if q.Visibility == "" {
		q.Visibility = models.VisibilityPublic
	}
	if q.Visibility != models.VisibilityPublic {
		return false
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}
	if _, ok := a.scopeSet[q.AuthorID]; !ok && q.AuthorID != a.viewerID {
		a.mu.Unlock()
		return false
	}
	added := a.buffer.RecordLocalInsert(q)
	a.mu.Unlock()

	if added {
		a.requestRender()
	}
	return added
}

// RecordLocalDelete retracts a quote the viewer deleted. A pending local
// copy disappears at once; a delivered one goes with the next delivery. It
// reports whether a pending copy was removed.
func (a *Aggregator) RecordLocalDelete(quoteID string) bool {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}
	retracted := a.buffer.Retract(quoteID)
	a.mu.Unlock()

	if retracted {
		a.requestRender()
	}
	return retracted
}

// Pending reports how many local inserts await delivery.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buffer.Pending()
}

// Refresh requests a render pass, for example after author profiles changed.
func (a *Aggregator) Refresh() {
	a.requestRender()
}

// Snapshot returns the most recently rendered feed.
func (a *Aggregator) Snapshot() []models.FeedItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.items)
}

// Scope returns the current author scope, viewer first.
func (a *Aggregator) Scope() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.scope)
}

// ActiveSubscriptions reports open chunk subscriptions, excluding the
// viewer-record subscription.
func (a *Aggregator) ActiveSubscriptions() int {
	return a.mux.ActiveSubscriptions()
}

// Close cancels every subscription and stops rendering. Once Close returns
// no callback mutates state and OnChange is not called again.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	sub := a.viewerSub
	a.viewerSub = nil
	unlisten := a.unlisten
	a.unlisten = nil
	cancel := a.cancel
	a.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	a.mux.Close()
	if unlisten != nil {
		unlisten()
	}
	if cancel != nil {
		cancel()
	}
	close(a.done)
	a.wg.Wait()
}

func (a *Aggregator) requestRender() {
	select {
	case a.renderCh <- struct{}{}:
	default:
	}
}

func (a *Aggregator) notifier() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case <-a.renderCh:
			select {
			case <-a.done:
				return
			default:
			}
			a.render()
		}
	}
}

func (a *Aggregator) render() {
	delivered := a.mux.Items()
	lastDelivery := a.mux.LastDeliveries()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	inScope := delivered[:0:0]
	for _, q := range delivered {
		if _, ok := a.scopeSet[q.AuthorID]; ok {
			inScope = append(inScope, q)
		}
	}
	a.buffer.Observe(inScope)
	if n := a.buffer.Expire(lastDelivery, a.opts.PendingGrace); n > 0 {
		a.logger.Debug("expired undelivered local inserts", "count", n)
	}
	quotes, pending := a.buffer.Merge(inScope)
	ctx := a.ctx
	a.mu.Unlock()

	authors := a.lookupAuthors(ctx, quotes)

	items := make([]models.FeedItem, 0, len(quotes))
	for _, q := range quotes {
		item := models.FeedItem{
			Quote:   q,
			Author:  authors[q.AuthorID],
			Pending: pending[q.ID],
		}
		if item.Author.ID == "" {
			item.Author.ID = q.AuthorID
		}
		if a.opts.Likes != nil {
			item.Liked, item.Likes = a.opts.Likes.View(q)
		} else {
			item.Liked = q.LikedBy(a.viewerID)
		}
		items = append(items, item)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.items = items
	a.mu.Unlock()

	a.opts.Metrics.FeedRendered()
	if a.opts.OnChange != nil {
		a.opts.OnChange(slices.Clone(items))
	}
}

func (a *Aggregator) lookupAuthors(ctx context.Context, quotes []models.Quote) map[string]models.Author {
	if a.opts.Authors == nil || len(quotes) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, q := range quotes {
		if _, ok := seen[q.AuthorID]; ok {
			continue
		}
		seen[q.AuthorID] = struct{}{}
		ids = append(ids, q.AuthorID)
	}

	authors, err := a.opts.Authors.Authors(ctx, ids)
	if err != nil {
		if ctx.Err() == nil {
			a.reportError(fmt.Errorf("resolve feed authors: %w", err))
		}
		return authors
	}
	return authors
}

func (a *Aggregator) reportError(err error) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return
	}
	a.logger.Warn("feed fault", "error", err)
	if a.opts.OnError != nil {
		a.opts.OnError(err)
	}
}
