package pgstore

import (
	"context"
	"sync"
	"time"

	"github.com/quotefriends/backend/internal/docstore"
)

type subscription struct {
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Subscribe polls the query every poll interval and delivers a snapshot
// whenever the result set changes. Query failures are delivered as transient
// errors and polling continues.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, handler docstore.Handler) (docstore.Subscription, error) {
	if _, _, err := buildSelect(q); err != nil {
		return nil, err
	}

	sub := &subscription{done: make(chan struct{})}
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		s.poll(ctx, sub, q, handler)
	}()
	return sub, nil
}

func (s *Store) poll(ctx context.Context, sub *subscription, q docstore.Query, handler docstore.Handler) {
	var tracker docstore.Tracker
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		queryCtx, cancel := context.WithTimeout(ctx, s.pollInterval*4)
		docs, err := s.Query(queryCtx, q)
		cancel()

		select {
		case <-sub.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err != nil {
			s.logger.Warn("subscription poll failed", "query", q.String(), "error", err)
			handler(docstore.Snapshot{}, docstore.Transient("listen "+q.Collection, err))
		} else if snap, changed := tracker.Next(docs); changed {
			handler(snap, nil)
		}

		select {
		case <-sub.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Cancel stops polling and waits for an in-flight delivery to finish.
func (sub *subscription) Cancel() {
	sub.once.Do(func() { close(sub.done) })
	sub.wg.Wait()
}
