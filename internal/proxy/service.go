package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"hls-token-proxy/internal/platform/httpclient"
	"hls-token-proxy/internal/platform/logger"
	"hls-token-proxy/internal/platform/metrics"
)

const (
	// DefaultPlaylistTimeout bounds a single upstream playlist fetch.
	DefaultPlaylistTimeout = 30 * time.Second

	// DefaultMaxPlaylistBytes caps the playlist body read into memory.
	DefaultMaxPlaylistBytes = 4 << 20

	// DefaultSegmentContentType is used when the upstream omits Content-Type.
	DefaultSegmentContentType = "video/mp2t"
)

// ServiceConfig tunes the upstream side of the Service.
type ServiceConfig struct {
	PlaylistTimeout  time.Duration
	MaxPlaylistBytes int64
	// Client performs playlist and segment fetches. Nil uses httpclient.Default.
	Client *http.Client
}

// Service runs the resolve → token → rewrite pipeline for playlists and
// relays segments. It holds no per-request state and is safe for concurrent use.
type Service struct {
	dir      Directory
	tokens   *Mediator
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewService returns a Service. Zero fields of cfg are replaced with defaults;
// m may be nil.
func NewService(dir Directory, tokens *Mediator, cfg ServiceConfig, log *slog.Logger, m *metrics.Metrics) *Service {
	if cfg.PlaylistTimeout <= 0 {
		cfg.PlaylistTimeout = DefaultPlaylistTimeout
	}
	if cfg.MaxPlaylistBytes <= 0 {
		cfg.MaxPlaylistBytes = DefaultMaxPlaylistBytes
	}
	if cfg.Client == nil {
		cfg.Client = httpclient.Default()
	}
	return &Service{
		dir:      dir,
		tokens:   tokens,
		client:   cfg.Client,
		timeout:  cfg.PlaylistTimeout,
		maxBytes: cfg.MaxPlaylistBytes,
		log:      log,
		metrics:  m,
	}
}

// StreamPlaylist resolves id, obtains a tokenized playlist URL, fetches the
// playlist and returns it with every reference routed through proxyBase.
func (s *Service) StreamPlaylist(ctx context.Context, id, proxyBase string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: missing id parameter", ErrBadRequest)
	}
	log := logger.FromContext(ctx, s.log).With(slog.String("stream_id", id))

	entry, err := s.dir.Resolve(ctx, id)
	if err != nil {
		if errors.Is(err, ErrConfigUnavailable) {
			s.metrics.IncUpstreamErrors(metrics.StageDirectory)
		}
		return "", err
	}

	tokenURL, err := s.tokens.ObtainTokenURL(ctx, entry.URL, id)
	if err != nil {
		return "", err
	}

	body, err := s.fetchPlaylist(ctx, tokenURL)
	if err != nil {
		s.metrics.IncUpstreamErrors(metrics.StagePlaylist)
		return "", err
	}

	if uris := DirectiveURIs(body); len(uris) > 0 {
		log.Warn("playlist has directive URIs that are not proxied",
			slog.Int("count", len(uris)))
	}

	out, n := rewritePlaylist(body, tokenURL, id, proxyBase)
	log.Debug("playlist rewritten",
		slog.Int("references", n),
		slog.Int("bytes", len(out)))
	return out, nil
}

// fetchPlaylist GETs tokenURL with the upstream header convention and returns
// the body as text.
func (s *Service) fetchPlaylist(ctx context.Context, tokenURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := httpclient.NewUpstreamRequest(ctx, tokenURL)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrUpstreamFetch, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: playlist: %v", ErrUpstreamUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &UpstreamStatusError{Kind: ErrUpstreamFetch, StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: read playlist: %v", ErrUpstreamUnreachable, err)
	}
	if int64(len(raw)) > s.maxBytes {
		return "", fmt.Errorf("%w: playlist exceeds %d bytes", ErrUpstreamFetch, s.maxBytes)
	}
	return string(raw), nil
}

// RelaySegment opens the upstream segment at rawURL. rangeHeader, when set,
// is forwarded so clients can issue range requests. The returned Segment's
// Body must be closed by the caller; cancelling ctx aborts the transfer.
func (s *Service) RelaySegment(ctx context.Context, rawURL, rangeHeader string) (*Segment, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: missing url parameter", ErrBadRequest)
	}
	if !httpclient.IsHTTPOrHTTPS(rawURL) {
		return nil, fmt.Errorf("%w: url must be absolute http or https", ErrBadRequest)
	}

	req, err := httpclient.NewUpstreamRequest(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.metrics.IncUpstreamErrors(metrics.StageSegment)
		return nil, fmt.Errorf("%w: segment: %v", ErrUpstreamUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		httpclient.Drain(resp.Body)
		s.metrics.IncUpstreamErrors(metrics.StageSegment)
		return nil, &UpstreamStatusError{Kind: ErrSegmentFetch, StatusCode: resp.StatusCode}
	}

	ct := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if ct == "" {
		ct = DefaultSegmentContentType
	}
	return &Segment{
		Body:          resp.Body,
		StatusCode:    resp.StatusCode,
		ContentType:   ct,
		ContentLength: resp.Header.Get("Content-Length"),
		ContentRange:  resp.Header.Get("Content-Range"),
	}, nil
}
