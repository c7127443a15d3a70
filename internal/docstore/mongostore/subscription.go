package mongostore

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/quotefriends/backend/internal/docstore"
)

const reopenBackoff = time.Second

type subscription struct {
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

// Subscribe delivers the current result set, then watches the collection's
// change stream and re-evaluates the query after each batch of changes. A
// broken stream is reported as a transient error and reopened.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, handler docstore.Handler) (docstore.Subscription, error) {
	if _, err := buildFilter(q); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel}
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		s.watch(ctx, q, handler)
	}()
	return sub, nil
}

func (s *Store) watch(ctx context.Context, q docstore.Query, handler docstore.Handler) {
	var tracker docstore.Tracker

	deliver := func() {
		docs, err := s.Query(ctx, q)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			handler(docstore.Snapshot{}, docstore.Transient("listen "+q.Collection, err))
			return
		}
		if snap, changed := tracker.Next(docs); changed {
			handler(snap, nil)
		}
	}

	for ctx.Err() == nil {
		stream, err := s.collection(q.Collection).Watch(ctx, mongo.Pipeline{}, options.ChangeStream())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("open change stream failed", "query", q.String(), "error", err)
			handler(docstore.Snapshot{}, docstore.Transient("listen "+q.Collection, err))
			if !sleepCtx(ctx, reopenBackoff) {
				return
			}
			continue
		}

		// Deliver after the stream is open so no change slips between the
		// initial read and the first event.
		deliver()

		for stream.Next(ctx) {
			for stream.RemainingBatchLength() > 0 && stream.TryNext(ctx) {
			}
			deliver()
		}
		streamErr := stream.Err()
		_ = stream.Close(context.Background())

		if ctx.Err() != nil {
			return
		}
		if streamErr != nil {
			s.logger.Warn("change stream interrupted", "query", q.String(), "error", streamErr)
			handler(docstore.Snapshot{}, docstore.Transient("listen "+q.Collection, streamErr))
		}
		if !sleepCtx(ctx, reopenBackoff) {
			return
		}
	}
}

// Cancel closes the change stream and waits for the watcher to exit.
func (sub *subscription) Cancel() {
	sub.once.Do(sub.cancel)
	sub.wg.Wait()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
