package proxy

import (
	"errors"
	"fmt"
)

var (
	// ErrBadRequest is returned when a required parameter is missing or invalid.
	ErrBadRequest = errors.New("bad request")

	// ErrNotFound is returned when the directory has no entry for a stream id.
	ErrNotFound = errors.New("stream not found")

	// ErrConfigUnavailable is returned when the directory itself cannot be
	// fetched or parsed.
	ErrConfigUnavailable = errors.New("stream directory unavailable")

	// ErrTokenService is returned for a single failed token service call.
	ErrTokenService = errors.New("token service error")

	// ErrStreamUnavailable is returned when token issuance failed on both the
	// normal and the forced-refresh attempt.
	ErrStreamUnavailable = errors.New("stream temporarily unavailable")

	// ErrUpstreamFetch is returned when the upstream answered a playlist fetch
	// with a non-success status.
	ErrUpstreamFetch = errors.New("upstream fetch failed")

	// ErrSegmentFetch is returned when the upstream answered a segment fetch
	// with a non-success status.
	ErrSegmentFetch = errors.New("segment fetch failed")

	// ErrUpstreamUnreachable is returned when the upstream could not be reached.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
)

// TokenServiceError carries the detail of a failed token service call.
type TokenServiceError struct {
	Detail string
}

func (e *TokenServiceError) Error() string {
	return "token service: " + e.Detail
}

func (e *TokenServiceError) Unwrap() error {
	return ErrTokenService
}

// UpstreamStatusError records a non-success upstream status. Kind is
// ErrUpstreamFetch for playlists and ErrSegmentFetch for segments.
type UpstreamStatusError struct {
	Kind       error
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("%v: HTTP %d", e.Kind, e.StatusCode)
}

func (e *UpstreamStatusError) Unwrap() error {
	return e.Kind
}
