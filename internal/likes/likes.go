// Package likes toggles the viewer's like on a quote and keeps an optimistic
// view of the result until the store's own deliveries agree with it.
package likes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quotefriends/backend/internal/docstore"
	"github.com/quotefriends/backend/internal/logging"
	"github.com/quotefriends/backend/internal/metrics"
	"github.com/quotefriends/backend/internal/models"
	"github.com/quotefriends/backend/internal/validation"
)

// ErrToggleInFlight is returned when a toggle on the same quote has not
// finished yet.
var ErrToggleInFlight = errors.New("like toggle already in flight")

// DefaultOverlayTTL bounds how long an optimistic state waits for a
// confirming delivery.
const DefaultOverlayTTL = 30 * time.Second

// UserLookup resolves user ids to profiles, skipping ids that no longer exist.
type UserLookup interface {
	Lookup(ctx context.Context, ids []string) ([]models.User, error)
}

// Options configure a Coordinator.
type Options struct {
	Users      UserLookup
	Metrics    *metrics.Collector
	OverlayTTL time.Duration
	Now        func() time.Time
}

type overlay struct {
	liked   bool
	expires time.Time
}

// Coordinator serves one viewer. It is safe for concurrent use.
type Coordinator struct {
	store    docstore.Store
	viewerID string
	opts     Options

	mu        sync.Mutex
	inFlight  map[string]struct{}
	overlays  map[string]overlay
	listeners map[uint64]func()
	nextID    uint64
}

// NewCoordinator constructs a coordinator for viewerID.
func NewCoordinator(store docstore.Store, viewerID string, opts Options) *Coordinator {
	if opts.OverlayTTL <= 0 {
		opts.OverlayTTL = DefaultOverlayTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		store:     store,
		viewerID:  strings.TrimSpace(viewerID),
		opts:      opts,
		inFlight:  make(map[string]struct{}),
		overlays:  make(map[string]overlay),
		listeners: make(map[uint64]func()),
	}
}

// ToggleLike flips the viewer's like on quoteID. currentlyLiked is the state
// the caller rendered; the write re-reads membership so a stale value never
// counts twice. It returns the new liked state.
func (c *Coordinator) ToggleLike(ctx context.Context, quoteID string, currentlyLiked bool) (bool, error) {
	quoteID = strings.TrimSpace(quoteID)
	if c.viewerID == "" {
		return currentlyLiked, &validation.Error{Field: "viewerId", Reason: "is required"}
	}
	if quoteID == "" {
		return currentlyLiked, &validation.Error{Field: "quoteId", Reason: "is required"}
	}
	want := !currentlyLiked

	c.mu.Lock()
	if _, busy := c.inFlight[quoteID]; busy {
		c.mu.Unlock()
		return currentlyLiked, ErrToggleInFlight
	}
	c.inFlight[quoteID] = struct{}{}
	c.overlays[quoteID] = overlay{liked: want, expires: c.opts.Now().Add(c.opts.OverlayTTL)}
	c.mu.Unlock()
	c.notify()

	ctx, span := logging.StartSpan(ctx, "likes.toggle",
		slog.String("viewerId", c.viewerID), slog.String("quoteId", quoteID), slog.Bool("liked", want))

	err := c.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(ctx, docstore.CollectionQuotes, quoteID)
		if err != nil {
			return fmt.Errorf("load quote %s: %w", quoteID, err)
		}
		q := models.QuoteFromDocument(doc)
		if q.LikedBy(c.viewerID) == want {
			return nil
		}

		membership := docstore.ArrayUnion(models.FieldLikesBy, c.viewerID)
		delta := int64(1)
		if !want {
			membership = docstore.ArrayRemove(models.FieldLikesBy, c.viewerID)
			delta = -1
		}
		if err := tx.Update(ctx, docstore.CollectionQuotes, quoteID, membership, docstore.Increment(models.FieldLikes, delta)); err != nil {
			return fmt.Errorf("update quote %s: %w", quoteID, err)
		}
		return nil
	})

	c.mu.Lock()
	delete(c.inFlight, quoteID)
	if err != nil {
		delete(c.overlays, quoteID)
	}
	c.mu.Unlock()
	if err != nil {
		c.notify()
		err = fmt.Errorf("toggle like: %w", err)
	}

	c.opts.Metrics.LikeToggled(err)
	if err := span.EndErr(err); err != nil {
		return currentlyLiked, err
	}
	return want, nil
}

// View returns the liked state and count to render for q. An optimistic
// state wins until a delivery agrees with it or it expires.
func (c *Coordinator) View(q models.Quote) (bool, int64) {
	liked := q.LikedBy(c.viewerID)
	count := q.Likes

	c.mu.Lock()
	defer c.mu.Unlock()

	ov, ok := c.overlays[q.ID]
	if !ok {
		return liked, count
	}
	_, busy := c.inFlight[q.ID]
	if !busy && (ov.liked == liked || c.opts.Now().After(ov.expires)) {
		delete(c.overlays, q.ID)
		return liked, count
	}
	if ov.liked == liked {
		return liked, count
	}

	if ov.liked {
		count++
	} else if count > 0 {
		count--
	}
	return ov.liked, count
}

// Pending reports how many optimistic states are awaiting confirmation.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.overlays)
}

// Listen registers fn to run whenever an optimistic state appears or is
// reverted. fn must not block.
func (c *Coordinator) Listen(fn func()) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Likers lists the profiles of users who like quoteID, in like order.
func (c *Coordinator) Likers(ctx context.Context, quoteID string) ([]models.User, error) {
	doc, err := c.store.Get(ctx, docstore.CollectionQuotes, strings.TrimSpace(quoteID))
	if err != nil {
		return nil, fmt.Errorf("load quote %s: %w", quoteID, err)
	}
	likers := models.QuoteFromDocument(doc).LikesBy
	if len(likers) == 0 || c.opts.Users == nil {
		return []models.User{}, nil
	}

	users, err := c.opts.Users.Lookup(ctx, likers)
	if err != nil {
		return nil, fmt.Errorf("lookup likers: %w", err)
	}
	return users, nil
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Registry shares one Coordinator per viewer so a toggle made through one
// connection shows up on every stream of the same viewer. Every ForViewer
// holds a lease on the coordinator until the matching Forget.
type Registry struct {
	store docstore.Store
	opts  Options

	mu     sync.Mutex
	byUser map[string]*lease
}

type lease struct {
	coordinator *Coordinator
	refs        int
}

// NewRegistry constructs an empty registry.
func NewRegistry(store docstore.Store, opts Options) *Registry {
	return &Registry{store: store, opts: opts, byUser: make(map[string]*lease)}
}

// ForViewer returns the viewer's coordinator, creating it on first use. The
// caller must call Forget once it no longer uses the coordinator.
func (r *Registry) ForViewer(viewerID string) *Coordinator {
	viewerID = strings.TrimSpace(viewerID)

	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.byUser[viewerID]
	if !ok {
		l = &lease{coordinator: NewCoordinator(r.store, viewerID, r.opts)}
		r.byUser[viewerID] = l
	}
	l.refs++
	return l.coordinator
}

// Forget releases one lease taken by ForViewer. The coordinator is dropped
// once no lease is held and it carries no optimistic state.
func (r *Registry) Forget(viewerID string) {
	viewerID = strings.TrimSpace(viewerID)

	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.byUser[viewerID]
	if !ok {
		return
	}
	if l.refs > 0 {
		l.refs--
	}
	if l.refs > 0 {
		return
	}
	c := l.coordinator
	c.mu.Lock()
	idle := len(c.listeners) == 0 && len(c.overlays) == 0 && len(c.inFlight) == 0
	c.mu.Unlock()
	if idle {
		delete(r.byUser, viewerID)
	}
}
