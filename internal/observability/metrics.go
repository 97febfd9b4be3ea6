// Package observability owns the API's Prometheus registry.
package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/companydir/companydir/internal/platform/db"
)

// Metrics is the API registry plus the directory's own collectors. Every
// method is a no-op on a nil receiver.
type Metrics struct {
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	tagGroupsCreated prometheus.Counter
	tagLinks         *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	txRetries        *prometheus.CounterVec
}

// NewMetrics builds a private registry with runtime collectors attached.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "companydir_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "companydir_http_request_duration_seconds",
			Help:    "HTTP request duration per route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		tagGroupsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "companydir_tag_groups_created_total",
			Help: "Tag groups created from previously unseen labels.",
		}),
		tagLinks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "companydir_tag_links_changed_total",
			Help: "Company tag links added or removed, by operation.",
		}, []string{"op"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "companydir_cache_lookups_total",
			Help: "Directory cache lookups by operation and result.",
		}, []string{"op", "result"}),
		txRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "companydir_tx_retries_total",
			Help: "Transactions replayed after a conflict, by reason.",
		}, []string{"reason"}),
	}
}

// Handler serves the registry. Nil metrics answer 503.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware counts and times requests by chi route pattern, so
// /companies/{companyName} is one series however many companies exist.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// TagGroupCreated counts a tag group minted for an unseen label.
func (m *Metrics) TagGroupCreated() {
	if m != nil {
		m.tagGroupsCreated.Inc()
	}
}

// TagLinksChanged adds n changed company tag links under op.
func (m *Metrics) TagLinksChanged(op string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tagLinks.WithLabelValues(op).Add(float64(n))
}

// CacheLookup records a cache hit or miss for op.
func (m *Metrics) CacheLookup(op string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(op, result).Inc()
}

// TxRetry has the shape of db.RetryPolicy.OnRetry.
func (m *Metrics) TxRetry(_ int, err error) {
	if m != nil {
		m.txRetries.WithLabelValues(retryReason(err)).Inc()
	}
}

func retryReason(err error) string {
	if errors.Is(err, db.ErrRetry) {
		return "unique_violation"
	}
	if code := db.ErrorCode(err); code != "" {
		return code
	}
	return "other"
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unknown"
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return "unknown"
}
