package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "openlot"

// Registry holds the platform's Prometheus metrics. One instance is built at
// startup and handed to the services that record into it; it satisfies the
// MetricsCollector interfaces of the admission and finalization services.
type Registry struct {
	registry *prometheus.Registry

	// Bid admission
	bidsAccepted *prometheus.CounterVec
	bidsRejected *prometheus.CounterVec

	// Finalization
	finalizations *prometheus.CounterVec

	// Post-accept side effects that failed and were deferred to recovery.
	asyncFailures *prometheus.CounterVec

	// HTTP surface
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewRegistry builds the registry with all counters registered, plus the
// standard process and Go runtime collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,

		bidsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bids",
			Name:      "accepted_total",
			Help:      "Accepted bids, partitioned by whether they extended the deadline.",
		}, []string{"extended"}),

		bidsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bids",
			Name:      "rejected_total",
			Help:      "Rejected bids by rejection code.",
		}, []string{"code"}),

		finalizations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auctions",
			Name:      "finalizations_total",
			Help:      "Terminal decisions of the finalization procedure by outcome.",
		}, []string{"outcome"}),

		asyncFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "async",
			Name:      "failures_total",
			Help:      "Side effects that failed after the owning decision was already made.",
		}, []string{"stage"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "status"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// RecordBidAccepted counts an admitted bid.
func (r *Registry) RecordBidAccepted(extended bool) {
	r.bidsAccepted.WithLabelValues(strconv.FormatBool(extended)).Inc()
}

// RecordBidRejected counts a rejection by its machine code.
func (r *Registry) RecordBidRejected(code string) {
	r.bidsRejected.WithLabelValues(code).Inc()
}

// RecordFinalization counts one terminal finalization decision.
func (r *Registry) RecordFinalization(outcome string) {
	r.finalizations.WithLabelValues(outcome).Inc()
}

// RecordAsyncFailure counts a failed post-decision side effect.
func (r *Registry) RecordAsyncFailure(stage string) {
	r.asyncFailures.WithLabelValues(stage).Inc()
}

// RecordHTTPRequest counts one served request.
func (r *Registry) RecordHTTPRequest(method string, status int, duration time.Duration) {
	r.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RegisterGatewayGauges exports live websocket connection and room counts.
// The callbacks are read at scrape time.
func (r *Registry) RegisterGatewayGauges(connections, rooms func() float64) {
	r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "connections",
		Help:      "Open websocket connections on this instance.",
	}, connections))
	r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "rooms",
		Help:      "Auction rooms with at least one watcher on this instance.",
	}, rooms))
}

// RegisterQueueDepth exports the ready-depth of one job queue, read at
// scrape time.
func (r *Registry) RegisterQueueDepth(queue string, depth func() float64) {
	r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "jobs",
		Name:        "queue_ready_depth",
		Help:        "Jobs waiting to be worked, per queue.",
		ConstLabels: prometheus.Labels{"queue": queue},
	}, depth))
}

// Handler serves the scrape endpoint for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
