package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/quotefriends/backend/internal/docstore"
	"github.com/quotefriends/backend/internal/feed"
	"github.com/quotefriends/backend/internal/identity"
	"github.com/quotefriends/backend/internal/logging"
	"github.com/quotefriends/backend/internal/metrics"
	"github.com/quotefriends/backend/internal/models"
)

// DefaultKeepAlive is the interval between SSE comment frames on idle streams.
const DefaultKeepAlive = 15 * time.Second

// FeedHandler streams the viewer's feed as server-sent events. Each
// connection owns one aggregator.
type FeedHandler struct {
	Store   docstore.Store
	Authors AuthorDirectory
	Likes   LikeRegistry
	Hub     *feed.Hub
	Metrics *metrics.Collector
	// KeepAlive defaults to DefaultKeepAlive.
	KeepAlive time.Duration
	// Done ends every open stream when closed, typically on server shutdown.
	Done <-chan struct{}
}

type feedEvent struct {
	Items []models.FeedItem `json:"items"`
}

type streamError struct {
	Error string `json:"error"`
}

// Stream handles GET /api/v1/feed/stream.
func (h FeedHandler) Stream(w http.ResponseWriter, r *http.Request) {
	viewer, ok := requireViewer(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.Error("feed stream cannot flush", "error", err)
		return
	}

	// Render passes arrive on the aggregator's notifier goroutine. Only the
	// latest pass matters, so a pending one is replaced.
	updates := make(chan []models.FeedItem, 1)
	faults := make(chan error, 1)

	opts := feed.Options{
		Store:    h.Store,
		Identity: identity.FromContext(ctx),
		OnChange: func(items []models.FeedItem) {
			select {
			case <-updates:
			default:
			}
			updates <- items
		},
		OnError: func(err error) {
			select {
			case faults <- err:
			default:
			}
		},
		Logger:  logger,
		Metrics: h.Metrics,
	}
	if h.Authors != nil {
		opts.Authors = h.Authors
	}
	if h.Likes != nil {
		opts.Likes = h.Likes.ForViewer(viewer)
		defer h.Likes.Forget(viewer)
	}

	agg := feed.New(opts)
	defer agg.Close()
	if err := agg.Start(ctx); err != nil {
		logger.Error("start feed stream", "error", err)
		_ = writeEvent(w, "error", streamError{Error: "feed unavailable"})
		_ = rc.Flush()
		return
	}
	if h.Hub != nil {
		unregister := h.Hub.Register(viewer, agg)
		defer unregister()
	}

	h.Metrics.AddFeedStreams(1)
	defer h.Metrics.AddFeedStreams(-1)
	logger.Info("feed stream opened")

	keepAlive := h.KeepAlive
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			logger.Info("feed stream closed")
			return
		case <-h.Done:
			logger.Info("feed stream ended by shutdown")
			return
		case items := <-updates:
			err = writeEvent(w, "feed", feedEvent{Items: items})
		case fault := <-faults:
			logger.Warn("feed stream fault", "error", fault)
			err = writeEvent(w, "error", streamError{Error: "feed partially unavailable"})
		case <-ticker.C:
			_, err = fmt.Fprint(w, ": keepalive\n\n")
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			logger.Info("feed stream write failed", "error", err)
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
