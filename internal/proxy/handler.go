package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"hls-token-proxy/internal/platform/logger"
	"hls-token-proxy/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentCacheControl = "public, max-age=31536000, immutable"
)

// Handler exposes the proxy HTTP endpoints using go-chi.
type Handler struct {
	svc           *Service
	log           *slog.Logger
	metrics       *metrics.Metrics
	publicBaseURL string
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests). publicBaseURL,
// when non-empty, is used as the proxy base in rewritten playlists instead of
// the base derived from each request.
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics, publicBaseURL string) *Handler {
	return &Handler{
		svc:           svc,
		log:           log,
		metrics:       m,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// Mount registers the proxy routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/stream", h.GetStream)
	r.Get("/segment", h.GetSegment)
}

// GetStream handles GET /stream?id=<streamId>.
func (h *Handler) GetStream(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")

	playlist, err := h.svc.StreamPlaylist(r.Context(), id, h.proxyBase(r))
	if err != nil {
		h.fail(w, r, err, "Failed to proxy stream", slog.String("stream_id", id))
		return
	}

	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, playlist)
	h.metrics.IncPlaylistsServed()
}

// GetSegment handles GET /segment?url=<escaped absolute url>&id=<streamId>.
// The body is streamed; a client disconnect cancels the upstream fetch.
func (h *Handler) GetSegment(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	streamID := q.Get("id")

	seg, err := h.svc.RelaySegment(r.Context(), q.Get("url"), r.Header.Get("Range"))
	if err != nil {
		h.fail(w, r, err, "Segment fetch failed", slog.String("stream_id", streamID))
		return
	}
	defer seg.Body.Close()

	hdr := w.Header()
	hdr.Set("Content-Type", seg.ContentType)
	hdr.Set("Cache-Control", segmentCacheControl)
	hdr.Set("Accept-Ranges", "bytes")
	if seg.ContentLength != "" {
		hdr.Set("Content-Length", seg.ContentLength)
	}
	if seg.ContentRange != "" {
		hdr.Set("Content-Range", seg.ContentRange)
	}
	w.WriteHeader(seg.StatusCode)

	done := h.metrics.RelayStarted()
	n, err := io.Copy(w, seg.Body)
	done(n)
	if err != nil && r.Context().Err() == nil {
		logger.FromContext(r.Context(), h.log).Warn("segment relay interrupted",
			slog.String("stream_id", streamID),
			slog.Int64("bytes", n),
			slog.String("error", err.Error()))
	}
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// proxyBase returns the scheme://host that rewritten references point at.
func (h *Handler) proxyBase(r *http.Request) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = strings.TrimSpace(strings.Split(p, ",")[0])
	}
	host := r.Host
	if fh := r.Header.Get("X-Forwarded-Host"); fh != "" {
		host = strings.TrimSpace(strings.Split(fh, ",")[0])
	}
	return scheme + "://" + host
}

// fail logs the internal error and writes the public error body. Internal
// detail never reaches the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, title string, attrs ...any) {
	status, resp := publicError(err, title)

	log := logger.FromContext(r.Context(), h.log)
	args := append([]any{slog.Int("status", status), slog.String("error", err.Error())}, attrs...)
	if status >= 500 {
		log.Error("request failed", args...)
	} else {
		log.Info("request rejected", args...)
	}

	writeJSON(w, status, resp)
}

// publicError maps err to a status code and a client-safe body. title is
// the error label used for generic upstream failures.
func publicError(err error, title string) (int, ErrorResponse) {
	var use *UpstreamStatusError
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, ErrorResponse{
			Error:   "Bad request",
			Message: badRequestMessage(err),
		}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, ErrorResponse{
			Error:   "Stream not found",
			Message: "No stream is registered under this id",
		}
	case errors.Is(err, ErrStreamUnavailable), errors.Is(err, ErrTokenService):
		return http.StatusServiceUnavailable, ErrorResponse{
			Error:   "Stream temporarily unavailable",
			Message: "Token service error",
		}
	case errors.As(err, &use):
		return http.StatusInternalServerError, ErrorResponse{
			Error:   title,
			Message: fmt.Sprintf("Upstream returned HTTP %d", use.StatusCode),
		}
	case errors.Is(err, ErrUpstreamUnreachable):
		return http.StatusInternalServerError, ErrorResponse{
			Error:   title,
			Message: "Upstream unreachable",
		}
	case errors.Is(err, ErrConfigUnavailable):
		return http.StatusInternalServerError, ErrorResponse{
			Error:   title,
			Message: "Stream configuration unavailable",
		}
	case errors.Is(err, ErrUpstreamFetch), errors.Is(err, ErrSegmentFetch):
		return http.StatusInternalServerError, ErrorResponse{
			Error:   title,
			Message: "Upstream fetch failed",
		}
	default:
		return http.StatusInternalServerError, ErrorResponse{
			Error:   title,
			Message: "Internal error",
		}
	}
}

// badRequestMessage returns the parameter problem described by a wrapped
// ErrBadRequest, e.g. "missing id parameter".
func badRequestMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), ErrBadRequest.Error()+": ")
	if msg == "" || msg == ErrBadRequest.Error() {
		return "Invalid request"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
