package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_nil_is_noop(t *testing.T) {
	var m *Metrics
	m.IncRequests()
	m.IncErrors()
	m.IncPlaylistsServed()
	m.ObserveTokenRequest(true)
	m.IncTokenRetries()
	m.IncUpstreamErrors(StageSegment)
	m.RelayStarted()(10)
}

func TestMetrics_counters(t *testing.T) {
	m := New()
	m.ObserveTokenRequest(false)
	m.ObserveTokenRequest(true)
	m.ObserveTokenRequest(true)
	m.IncTokenRetries()
	m.IncUpstreamErrors(StagePlaylist)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tokenRequestsTotal.WithLabelValues(TokenResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenRequestsTotal.WithLabelValues(TokenResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenRetriesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamErrorsTotal.WithLabelValues(StagePlaylist)))
}

func TestMetrics_RelayStarted(t *testing.T) {
	m := New()
	done := m.RelayStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeRelays))

	done(188 * 4)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeRelays))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.segmentsRelayedTotal))
	assert.Equal(t, float64(188*4), testutil.ToFloat64(m.segmentBytesTotal))
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bad", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal))
}

func TestHandler_exposition(t *testing.T) {
	m := New()
	m.IncPlaylistsServed()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "hls_playlists_served_total 1")
}
