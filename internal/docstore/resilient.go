package docstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// ResilienceConfig controls the timeout, retry and circuit breaker policy
// applied by ResilientStore.
type ResilienceConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Retries is the number of extra attempts after a transient failure.
	Retries      int
	RetryBackoff time.Duration

	BreakerName         string
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration
}

// DefaultResilienceConfig returns the policy used by the service: 5s
// per-attempt write timeout and a single retry.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		Retries:             1,
		RetryBackoff:        100 * time.Millisecond,
		BreakerName:         "docstore",
		BreakerMinRequests:  10,
		BreakerFailureRatio: 0.6,
		BreakerOpenTimeout:  30 * time.Second,
	}
}

// ResilientStore decorates a Store with per-attempt timeouts, retry of
// transient failures and a circuit breaker. Subscriptions pass through.
type ResilientStore struct {
	base    Store
	cfg     ResilienceConfig
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewResilientStore wraps base.
func NewResilientStore(base Store, cfg ResilienceConfig, logger *slog.Logger) *ResilientStore {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.BreakerName == "" {
		cfg.BreakerName = "docstore"
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &ResilientStore{base: base, cfg: cfg, logger: logger}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    cfg.BreakerName,
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.BreakerMinRequests == 0 || cfg.BreakerFailureRatio <= 0 {
				return false
			}
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.BreakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("store circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return !IsTransient(err)
		},
	})
	return s
}

// Get reads a document.
func (s *ResilientStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var doc Document
	err := s.do(ctx, "get "+collection, s.cfg.ReadTimeout, true, func(ctx context.Context) error {
		var err error
		doc, err = s.base.Get(ctx, collection, id)
		return err
	})
	return doc, err
}

// Create assigns the id up front so a retried attempt overwrites its own
// earlier write instead of creating a second document.
func (s *ResilientStore) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	err := s.do(ctx, "create "+collection, s.cfg.WriteTimeout, true, func(ctx context.Context) error {
		return s.base.Set(ctx, collection, id, fields, SetOptions{})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Set writes a document.
func (s *ResilientStore) Set(ctx context.Context, collection, id string, fields map[string]any, opts SetOptions) error {
	return s.do(ctx, "set "+collection, s.cfg.WriteTimeout, true, func(ctx context.Context) error {
		return s.base.Set(ctx, collection, id, fields, opts)
	})
}

// Update applies mutations. Updates containing an increment are not retried
// because a timed-out attempt may already have been applied.
func (s *ResilientStore) Update(ctx context.Context, collection, id string, mutations ...Mutation) error {
	retry := true
	for _, m := range mutations {
		if m.Kind == MutationIncrement {
			retry = false
			break
		}
	}
	return s.do(ctx, "update "+collection, s.cfg.WriteTimeout, retry, func(ctx context.Context) error {
		return s.base.Update(ctx, collection, id, mutations...)
	})
}

// Delete removes a document.
func (s *ResilientStore) Delete(ctx context.Context, collection, id string) error {
	return s.do(ctx, "delete "+collection, s.cfg.WriteTimeout, true, func(ctx context.Context) error {
		return s.base.Delete(ctx, collection, id)
	})
}

// Query runs a one-shot query.
func (s *ResilientStore) Query(ctx context.Context, q Query) ([]Document, error) {
	var docs []Document
	err := s.do(ctx, "query "+q.Collection, s.cfg.ReadTimeout, true, func(ctx context.Context) error {
		var err error
		docs, err = s.base.Query(ctx, q)
		return err
	})
	return docs, err
}

// Subscribe delegates to the wrapped store.
func (s *ResilientStore) Subscribe(ctx context.Context, q Query, handler Handler) (Subscription, error) {
	return s.base.Subscribe(ctx, q, handler)
}

// RunTransaction retries the whole transaction; fn re-reads its inputs on
// every attempt so a retry never double-applies.
func (s *ResilientStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.do(ctx, "transaction", s.cfg.WriteTimeout, true, func(ctx context.Context) error {
		return s.base.RunTransaction(ctx, fn)
	})
}

func (s *ResilientStore) do(ctx context.Context, op string, timeout time.Duration, retry bool, fn func(ctx context.Context) error) error {
	attempts := 1
	if retry {
		attempts += s.cfg.Retries
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(s.cfg.RetryBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			s.logger.Warn("retrying store operation", "op", op, "attempt", attempt+1, "error", err)
		}

		_, err = s.breaker.Execute(func() (any, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return nil, fn(attemptCtx)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Transient(op, err)
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return err
		}
	}

	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTransient) {
		return Transient(op, err)
	}
	return err
}

var _ Store = (*ResilientStore)(nil)
