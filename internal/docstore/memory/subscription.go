package memory

import (
	"context"
	"sync"

	"github.com/quotefriends/backend/internal/docstore"
)

type subscription struct {
	store   *Store
	query   docstore.Query
	handler docstore.Handler

	signal chan struct{}
	errs   chan error
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	tracker docstore.Tracker
}

// Subscribe opens a live query. The first delivery carries the current
// result set; later deliveries are coalesced so a burst of writes produces
// at most one snapshot per handler invocation.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, handler docstore.Handler) (docstore.Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkFault(OpSubscribe, q.Collection, ""); err != nil {
		return nil, err
	}

	sub := &subscription{
		store:   s,
		query:   q,
		handler: handler,
		signal:  make(chan struct{}, 1),
		errs:    make(chan error, 8),
		done:    make(chan struct{}),
	}

	s.subsMu.Lock()
	s.subs[sub] = struct{}{}
	s.subsMu.Unlock()

	sub.signal <- struct{}{}
	sub.wg.Add(1)
	go sub.run(ctx)

	return sub, nil
}

func (sub *subscription) run(ctx context.Context) {
	defer sub.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case <-ctx.Done():
			sub.detach()
			return
		case err := <-sub.errs:
			if sub.stopped() {
				return
			}
			sub.handler(docstore.Snapshot{}, err)
		case <-sub.signal:
			if sub.stopped() {
				return
			}
			if sub.store.isPaused() {
				continue
			}
			snap, changed := sub.tracker.Next(sub.store.evaluate(sub.query))
			if changed {
				sub.handler(snap, nil)
			}
		}
	}
}

func (sub *subscription) stopped() bool {
	select {
	case <-sub.done:
		return true
	default:
		return false
	}
}

func (sub *subscription) detach() {
	sub.once.Do(func() {
		close(sub.done)
		sub.store.subsMu.Lock()
		delete(sub.store.subs, sub)
		sub.store.subsMu.Unlock()
	})
}

// Cancel stops the subscription and waits for an in-flight delivery to finish.
func (sub *subscription) Cancel() {
	sub.detach()
	sub.wg.Wait()
}

func (s *Store) notifyAll() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for sub := range s.subs {
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
}
