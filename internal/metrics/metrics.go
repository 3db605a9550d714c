// Package metrics holds the Prometheus collectors for the router.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// intentsTotal counts classified messages.
	// Labels: intent
	intentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatdesk",
		Subsystem: "router",
		Name:      "intents_total",
		Help:      "Classified inbound messages by intent",
	}, []string{"intent"})

	// resolutionsTotal counts entity resolutions.
	// Labels: outcome (found, confirm, multiple, not_found), source (recent, remote, none)
	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatdesk",
		Subsystem: "router",
		Name:      "resolutions_total",
		Help:      "Entity resolutions by outcome and source",
	}, []string{"outcome", "source"})

	// staleActionsTotal counts button presses rejected by the token guard.
	staleActionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatdesk",
		Subsystem: "router",
		Name:      "stale_actions_total",
		Help:      "Button presses rejected because their token was outdated",
	})

	// duplicateMutationsTotal counts mutations skipped by the in-flight guard.
	duplicateMutationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatdesk",
		Subsystem: "router",
		Name:      "duplicate_mutations_total",
		Help:      "Mutating actions acknowledged without running because one was already in flight",
	})

	// mutationsTotal counts document-store mutations.
	// Labels: op, status (ok, error)
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatdesk",
		Subsystem: "router",
		Name:      "mutations_total",
		Help:      "Document store mutations by operation and status",
	}, []string{"op", "status"})

	// remoteRetriesTotal counts retried document-store requests.
	// Labels: op
	remoteRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatdesk",
		Subsystem: "docstore",
		Name:      "retries_total",
		Help:      "Document store requests retried after a retryable failure",
	}, []string{"op"})

	// rateLimitedTotal counts inbound events dropped by the per-user limiter.
	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatdesk",
		Subsystem: "bot",
		Name:      "rate_limited_total",
		Help:      "Inbound events rejected by the per-user rate limiter",
	})

	// httpRequestsTotal counts HTTP requests.
	// Labels: method, route, status
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatdesk",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route pattern and status code",
	}, []string{"method", "route", "status"})

	// httpRequestSeconds measures HTTP handler latency.
	// Labels: method, route
	httpRequestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chatdesk",
		Subsystem: "http",
		Name:      "request_seconds",
		Help:      "HTTP handler latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// RecordIntent records one classified message.
func RecordIntent(intent string) {
	intentsTotal.WithLabelValues(intent).Inc()
}

// RecordResolution records one entity resolution.
func RecordResolution(outcome, source string) {
	if source == "" {
		source = "none"
	}
	resolutionsTotal.WithLabelValues(outcome, source).Inc()
}

// RecordStaleAction records a rejected stale press.
func RecordStaleAction() {
	staleActionsTotal.Inc()
}

// RecordDuplicateMutation records a mutation skipped by the in-flight guard.
func RecordDuplicateMutation() {
	duplicateMutationsTotal.Inc()
}

// RecordMutation records a completed mutation.
func RecordMutation(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	mutationsTotal.WithLabelValues(op, status).Inc()
}

// RecordRemoteRetry records one retried document-store request.
func RecordRemoteRetry(op string) {
	remoteRetriesTotal.WithLabelValues(op).Inc()
}

// RecordRateLimited records one rate-limited inbound event.
func RecordRateLimited() {
	rateLimitedTotal.Inc()
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestSeconds.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
