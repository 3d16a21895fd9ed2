// Package metrics holds the Prometheus collectors for the connector.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated registry served on /metrics.
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts inbound requests by route and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "jilt_http_requests_total", Help: "Inbound HTTP requests."},
		[]string{"method", "route", "status"},
	)
	// RemoteCalls counts calls to the remote service by operation and outcome.
	RemoteCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "jilt_remote_calls_total", Help: "Remote API calls by operation and status code."},
		[]string{"operation", "status"},
	)
	// RemoteLatency records remote call latency in seconds.
	RemoteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "jilt_remote_call_duration_seconds", Help: "Remote API call latency.", Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5}},
		[]string{"operation"},
	)
	// SyncSkips counts cart/order sync calls suppressed locally.
	SyncSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "jilt_sync_skipped_total", Help: "Sync events that made no remote call."},
		[]string{"reason"},
	)
	// Recoveries counts recovery-link visits by outcome.
	Recoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "jilt_recoveries_total", Help: "Recovery link visits by branch."},
		[]string{"outcome"},
	)
)

var regOnce sync.Once

// RegisterDefault registers all collectors on Registry. Safe to call more than once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(RemoteCalls)
		Registry.MustRegister(RemoteLatency)
		Registry.MustRegister(SyncSkips)
		Registry.MustRegister(Recoveries)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveRemote records one remote call. status is the HTTP status, or 0
// when the call never got a response.
func ObserveRemote(operation string, status int, elapsed time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	RemoteCalls.WithLabelValues(operation, label).Inc()
	RemoteLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}
