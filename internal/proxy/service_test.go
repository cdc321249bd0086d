package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hls-token-proxy/internal/platform/logger"
	"hls-token-proxy/internal/platform/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticIssuer hands back a fixed token URL.
type staticIssuer string

func (s staticIssuer) Issue(context.Context, string, string, bool) (string, error) {
	return string(s), nil
}

func newTestService(dir Directory, tokenURL string, cfg ServiceConfig, m *metrics.Metrics) *Service {
	log := logger.Discard()
	return NewService(dir, NewMediator(staticIssuer(tokenURL), log, m), cfg, log, m)
}

func TestService_StreamPlaylist(t *testing.T) {
	var gotHeaders http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Write([]byte("#EXTM3U\n#EXTINF:2,\nchunk_1.ts"))
	}))
	defer upstream.Close()

	dir := NewStaticDirectory(StreamEntry{ID: "s1", URL: "https://origin.invalid/s1.m3u8"})
	svc := newTestService(dir, upstream.URL+"/hls/s1/index.m3u8?t=1", ServiceConfig{}, nil)

	out, err := svc.StreamPlaylist(context.Background(), "s1", "http://proxy")
	require.NoError(t, err)
	assert.Equal(t, "#EXTM3U\n#EXTINF:2,\n"+ProxiedReference("http://proxy", upstream.URL+"/hls/s1/chunk_1.ts", "s1"), out)

	assert.Equal(t, "*/*", gotHeaders.Get("Accept"))
	assert.Equal(t, upstream.URL, gotHeaders.Get("Referer"))
	assert.Contains(t, gotHeaders.Get("User-Agent"), "Mozilla/5.0")
}

func TestService_StreamPlaylist_errors(t *testing.T) {
	ctx := context.Background()
	dir := NewStaticDirectory(StreamEntry{ID: "s1", URL: "https://origin.invalid/s1.m3u8"})

	t.Run("missing_id", func(t *testing.T) {
		_, err := newTestService(dir, "", ServiceConfig{}, nil).StreamPlaylist(ctx, "", "http://p")
		assert.ErrorIs(t, err, ErrBadRequest)
	})

	t.Run("unknown_id", func(t *testing.T) {
		_, err := newTestService(dir, "", ServiceConfig{}, nil).StreamPlaylist(ctx, "nope", "http://p")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("directory_unavailable", func(t *testing.T) {
		m := metrics.New()
		broken := NewHTTPDirectory("/nonexistent/dir/list.json", nil)
		_, err := newTestService(broken, "", ServiceConfig{}, m).StreamPlaylist(ctx, "s1", "http://p")
		assert.ErrorIs(t, err, ErrConfigUnavailable)
		n, err := testutil.GatherAndCount(m.Registry(), "hls_upstream_errors_total")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("upstream_status", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer upstream.Close()

		_, err := newTestService(dir, upstream.URL+"/p.m3u8", ServiceConfig{}, nil).StreamPlaylist(ctx, "s1", "http://p")
		assert.ErrorIs(t, err, ErrUpstreamFetch)
		var use *UpstreamStatusError
		require.True(t, errors.As(err, &use))
		assert.Equal(t, http.StatusUnauthorized, use.StatusCode)
	})

	t.Run("unreachable", func(t *testing.T) {
		upstream := httptest.NewServer(http.NotFoundHandler())
		base := upstream.URL
		upstream.Close()

		_, err := newTestService(dir, base+"/p.m3u8", ServiceConfig{}, nil).StreamPlaylist(ctx, "s1", "http://p")
		assert.ErrorIs(t, err, ErrUpstreamUnreachable)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer upstream.Close()
		defer close(release)

		cfg := ServiceConfig{PlaylistTimeout: 50 * time.Millisecond}
		_, err := newTestService(dir, upstream.URL+"/p.m3u8", cfg, nil).StreamPlaylist(ctx, "s1", "http://p")
		assert.ErrorIs(t, err, ErrUpstreamUnreachable)
	})

	t.Run("too_large", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(strings.Repeat("#EXTINF:1,\n", 100)))
		}))
		defer upstream.Close()

		cfg := ServiceConfig{MaxPlaylistBytes: 64}
		_, err := newTestService(dir, upstream.URL+"/p.m3u8", cfg, nil).StreamPlaylist(ctx, "s1", "http://p")
		assert.ErrorIs(t, err, ErrUpstreamFetch)
	})
}

func TestService_RelaySegment_range(t *testing.T) {
	var gotRange string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.Header().Set("Content-Type", "video/mp2t")
		w.Header().Set("Content-Range", "bytes 0-3/376")
		w.Header().Set("Content-Length", "4")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte{0x47, 1, 2, 3})
	}))
	defer upstream.Close()

	svc := newTestService(NewStaticDirectory(), "", ServiceConfig{}, nil)
	seg, err := svc.RelaySegment(context.Background(), upstream.URL+"/seg.ts", "bytes=0-3")
	require.NoError(t, err)
	defer seg.Body.Close()

	body, err := io.ReadAll(seg.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x47, 1, 2, 3}, body)
	assert.Equal(t, "bytes=0-3", gotRange)
	assert.Equal(t, http.StatusPartialContent, seg.StatusCode)
	assert.Equal(t, "bytes 0-3/376", seg.ContentRange)
	assert.Equal(t, "4", seg.ContentLength)
}

func TestService_RelaySegment_cancel_stops_upstream(t *testing.T) {
	upstreamDone := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(upstreamDone)
		w.Write(tsPayload)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer upstream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	svc := newTestService(NewStaticDirectory(), "", ServiceConfig{}, nil)
	seg, err := svc.RelaySegment(ctx, upstream.URL+"/live.ts", "")
	require.NoError(t, err)
	defer seg.Body.Close()

	buf := make([]byte, len(tsPayload))
	_, err = io.ReadFull(seg.Body, buf)
	require.NoError(t, err)

	cancel()
	select {
	case <-upstreamDone:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request was not cancelled")
	}
}

func TestService_RelaySegment_metrics(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	m := metrics.New()
	svc := newTestService(NewStaticDirectory(), "", ServiceConfig{}, m)
	_, err := svc.RelaySegment(context.Background(), upstream.URL+"/missing.ts", "")
	assert.ErrorIs(t, err, ErrSegmentFetch)
	assert.NotErrorIs(t, err, ErrUpstreamFetch)
	n, err := testutil.GatherAndCount(m.Registry(), "hls_upstream_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
