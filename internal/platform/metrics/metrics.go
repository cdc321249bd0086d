package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Token request outcomes recorded in hls_token_requests_total.
const (
	TokenResultSuccess = "success"
	TokenResultFailure = "failure"
)

// Upstream stages recorded in hls_upstream_errors_total.
const (
	StageDirectory = "directory"
	StagePlaylist  = "playlist"
	StageSegment   = "segment"
)

// Metrics holds Prometheus counters and gauges for the HLS proxy.
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	errorsTotal          prometheus.Counter
	playlistsServedTotal prometheus.Counter
	tokenRequestsTotal   *prometheus.CounterVec
	tokenRetriesTotal    prometheus.Counter
	segmentsRelayedTotal prometheus.Counter
	segmentBytesTotal    prometheus.Counter
	activeRelays         prometheus.Gauge
	upstreamErrorsTotal  *prometheus.CounterVec
}

// New creates and registers Prometheus metrics for the proxy.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	playlistsServedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_playlists_served_total",
		Help: "Total number of rewritten playlists returned to clients",
	})
	tokenRequestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_token_requests_total",
		Help: "Calls made to the token service, by result",
	}, []string{"result"})
	tokenRetriesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_token_retries_total",
		Help: "Forced-refresh retries issued after a failed token request",
	})
	segmentsRelayedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_segments_relayed_total",
		Help: "Total number of segments relayed to clients",
	})
	segmentBytesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_segment_bytes_total",
		Help: "Total number of segment bytes relayed to clients",
	})
	activeRelays := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hls_active_relays",
		Help: "Number of segment relays currently streaming",
	})
	upstreamErrorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_upstream_errors_total",
		Help: "Failed upstream fetches, by stage",
	}, []string{"stage"})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		playlistsServedTotal,
		tokenRequestsTotal,
		tokenRetriesTotal,
		segmentsRelayedTotal,
		segmentBytesTotal,
		activeRelays,
		upstreamErrorsTotal,
	)

	return &Metrics{
		registry:             registry,
		requestsTotal:        requestsTotal,
		errorsTotal:          errorsTotal,
		playlistsServedTotal: playlistsServedTotal,
		tokenRequestsTotal:   tokenRequestsTotal,
		tokenRetriesTotal:    tokenRetriesTotal,
		segmentsRelayedTotal: segmentsRelayedTotal,
		segmentBytesTotal:    segmentBytesTotal,
		activeRelays:         activeRelays,
		upstreamErrorsTotal:  upstreamErrorsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// IncPlaylistsServed increments the served playlists counter.
func (m *Metrics) IncPlaylistsServed() {
	if m == nil {
		return
	}
	m.playlistsServedTotal.Inc()
}

// ObserveTokenRequest records one call to the token service.
func (m *Metrics) ObserveTokenRequest(ok bool) {
	if m == nil {
		return
	}
	result := TokenResultSuccess
	if !ok {
		result = TokenResultFailure
	}
	m.tokenRequestsTotal.WithLabelValues(result).Inc()
}

// IncTokenRetries increments the forced-refresh retry counter.
func (m *Metrics) IncTokenRetries() {
	if m == nil {
		return
	}
	m.tokenRetriesTotal.Inc()
}

// RelayStarted marks a segment relay as in flight. The returned func must be
// called exactly once with the number of bytes written to the client.
func (m *Metrics) RelayStarted() func(bytes int64) {
	if m == nil {
		return func(int64) {}
	}
	m.activeRelays.Inc()
	return func(bytes int64) {
		m.activeRelays.Dec()
		m.segmentsRelayedTotal.Inc()
		if bytes > 0 {
			m.segmentBytesTotal.Add(float64(bytes))
		}
	}
}

// IncUpstreamErrors increments the upstream error counter for stage.
func (m *Metrics) IncUpstreamErrors(stage string) {
	if m == nil {
		return
	}
	m.upstreamErrorsTotal.WithLabelValues(stage).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
