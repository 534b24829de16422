// Package metrics exposes Prometheus instrumentation for the relay
// service and a small standalone metrics server.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "outbound_relay"

var registry = prometheus.NewRegistry()

var (
	// RelayRequests counts relayed requests by status class (2xx..5xx,
	// "normalized" for transport-level failures folded into results,
	// "error" for calls that failed before or on the wire).
	RelayRequests = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_requests_total",
		Help:      "Relayed requests by outcome status class.",
	}, []string{"status_class"})

	// RelayDuration observes end-to-end relay call latency.
	RelayDuration = promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "relay_request_duration_seconds",
		Help:      "End-to-end relay request duration.",
		Buckets:   prometheus.DefBuckets,
	})

	// SignatureRequests counts signing operations by key type.
	SignatureRequests = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signatures_total",
		Help:      "Signing operations by key type.",
	}, []string{"key_type"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// StatusClass buckets an HTTP status for the RelayRequests label.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}

// MetricsServer serves the registry on a dedicated address.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr.
func New(addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving metrics until shutdown.
func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
