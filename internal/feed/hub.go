package feed

import (
	"sync"

	"github.com/quotefriends/backend/internal/models"
)

// Hub tracks the running aggregators of each viewer so a quote created
// through one request shows up at once on every open feed of its author.
type Hub struct {
	mu       sync.Mutex
	byViewer map[string]map[*Aggregator]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{byViewer: make(map[string]map[*Aggregator]struct{})}
}

// Register adds agg under viewerID and returns the function that removes it.
func (h *Hub) Register(viewerID string, agg *Aggregator) func() {
	h.mu.Lock()
	set, ok := h.byViewer[viewerID]
	if !ok {
		set = make(map[*Aggregator]struct{})
		h.byViewer[viewerID] = set
	}
	set[agg] = struct{}{}
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		current := h.byViewer[viewerID]
		delete(current, agg)
		if len(current) == 0 {
			delete(h.byViewer, viewerID)
		}
	}
}

// RecordLocalInsert forwards q to every aggregator of viewerID and reports
// how many accepted it.
func (h *Hub) RecordLocalInsert(viewerID string, q models.Quote) int {
	accepted := 0
	for _, agg := range h.targets(viewerID) {
		if agg.RecordLocalInsert(q) {
			accepted++
		}
	}
	return accepted
}

// RecordLocalDelete retracts quoteID from every aggregator of viewerID and
// reports how many held a pending copy.
func (h *Hub) RecordLocalDelete(viewerID, quoteID string) int {
	retracted := 0
	for _, agg := range h.targets(viewerID) {
		if agg.RecordLocalDelete(quoteID) {
			retracted++
		}
	}
	return retracted
}

func (h *Hub) targets(viewerID string) []*Aggregator {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Aggregator, 0, len(h.byViewer[viewerID]))
	for agg := range h.byViewer[viewerID] {
		out = append(out, agg)
	}
	return out
}

// Streams reports how many aggregators are registered for viewerID.
func (h *Hub) Streams(viewerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byViewer[viewerID])
}
