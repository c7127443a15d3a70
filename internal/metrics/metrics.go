// Package metrics holds the Prometheus collectors for the service. A nil
// *Collector is valid and records nothing, so engine packages can take one
// unconditionally.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry and every service metric.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	FeedSubscriptions      prometheus.Gauge
	FeedRenders            prometheus.Counter
	FeedSubscriptionErrors prometheus.Counter
	FeedStreams            prometheus.Gauge

	RelationshipTransitions *prometheus.CounterVec
	LikeToggles             *prometheus.CounterVec
	QuotesCreated           prometheus.Counter

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// New creates a collector whose metric names are prefixed with namespace.
func New(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		FeedSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_subscriptions",
			Help:      "Open per-chunk feed subscriptions",
		}),
		FeedRenders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_renders_total",
			Help:      "Feed render passes emitted",
		}),
		FeedSubscriptionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_subscription_errors_total",
			Help:      "Faulted feed subscription deliveries",
		}),
		FeedStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_streams",
			Help:      "Connected feed stream clients",
		}),
		RelationshipTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relationship_transitions_total",
			Help:      "Relationship actions by outcome",
		}, []string{"action", "outcome"}),
		LikeToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "like_toggles_total",
			Help:      "Like toggles by outcome",
		}, []string{"outcome"}),
		QuotesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_created_total",
			Help:      "Quotes created",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_cache_hits_total",
			Help:      "Author directory cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_cache_misses_total",
			Help:      "Author directory cache misses",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.HTTPRequests,
		c.HTTPDuration,
		c.FeedSubscriptions,
		c.FeedRenders,
		c.FeedSubscriptionErrors,
		c.FeedStreams,
		c.RelationshipTransitions,
		c.LikeToggles,
		c.QuotesCreated,
		c.CacheHits,
		c.CacheMisses,
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// AddFeedSubscriptions adjusts the open subscription gauge by delta.
func (c *Collector) AddFeedSubscriptions(delta int) {
	if c == nil {
		return
	}
	c.FeedSubscriptions.Add(float64(delta))
}

// FeedRendered counts a render pass.
func (c *Collector) FeedRendered() {
	if c == nil {
		return
	}
	c.FeedRenders.Inc()
}

// FeedSubscriptionFailed counts a faulted delivery.
func (c *Collector) FeedSubscriptionFailed() {
	if c == nil {
		return
	}
	c.FeedSubscriptionErrors.Inc()
}

// AddFeedStreams adjusts the connected stream gauge by delta.
func (c *Collector) AddFeedStreams(delta int) {
	if c == nil {
		return
	}
	c.FeedStreams.Add(float64(delta))
}

// Relationship counts a relationship action.
func (c *Collector) Relationship(action string, err error) {
	if c == nil {
		return
	}
	c.RelationshipTransitions.WithLabelValues(action, outcome(err)).Inc()
}

// LikeToggled counts a like toggle.
func (c *Collector) LikeToggled(err error) {
	if c == nil {
		return
	}
	c.LikeToggles.WithLabelValues(outcome(err)).Inc()
}

// QuoteCreated counts a created quote.
func (c *Collector) QuoteCreated() {
	if c == nil {
		return
	}
	c.QuotesCreated.Inc()
}

// CacheLookup counts an author directory lookup.
func (c *Collector) CacheLookup(hit bool) {
	if c == nil {
		return
	}
	if hit {
		c.CacheHits.Inc()
		return
	}
	c.CacheMisses.Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
