package proxy

import "io"

// StreamEntry maps an opaque stream id to its upstream source URL.
type StreamEntry struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// directoryDocument is the JSON document served by the stream directory.
type directoryDocument struct {
	Streams []StreamEntry `json:"streams"`
}

// TokenRequest is the body POSTed to the token service.
type TokenRequest struct {
	URL          string `json:"url"`
	StreamID     string `json:"streamId"`
	ForceRefresh bool   `json:"forceRefresh"`
}

// TokenResponse is the token service reply. TokenURL is only meaningful when
// Success is true.
type TokenResponse struct {
	Success  bool   `json:"success"`
	TokenURL string `json:"tokenUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Segment is an upstream media segment ready to be streamed to a client.
// The caller owns Body and must close it.
type Segment struct {
	Body          io.ReadCloser
	StatusCode    int
	ContentType   string
	ContentLength string
	ContentRange  string
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
