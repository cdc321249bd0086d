package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultIdleConnTimeout       = 90 * time.Second
	DefaultResponseHeaderTimeout = 30 * time.Second
	MaxIdleConnsPerHost          = 16

	// BrowserUserAgent is sent on every upstream media fetch. Media origins
	// commonly reject requests that do not look like a browser.
	BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	AcceptLanguage   = "en-US,en;q=0.9"
)

var defaultClient = &http.Client{
	// No client-wide timeout: segment bodies are streamed and bounded by the
	// request context instead.
	Transport: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   MaxIdleConnsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
	},
}

// Default returns the shared tuned HTTP client for playlist and segment fetches.
func Default() *http.Client {
	return defaultClient
}

// WithTimeout returns a client with the given timeout and a copy of the
// Default transport.
func WithTimeout(timeout time.Duration) *http.Client {
	t, ok := defaultClient.Transport.(*http.Transport)
	if !ok {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: t.Clone(),
	}
}

// IsHTTPOrHTTPS returns true if u is a valid absolute URL with scheme http or
// https and a host. Used to reject file://, ftp:// and other schemes that could
// lead to SSRF or local file access.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	s := strings.ToLower(parsed.Scheme)
	return (s == "http" || s == "https") && parsed.Host != ""
}

// Origin returns "scheme://host" of rawURL, or "" if it cannot be parsed.
func Origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// SetUpstreamHeaders applies the browser-like header convention used for
// every playlist and segment fetch, including a Referer set to the target's
// origin.
func SetUpstreamHeaders(req *http.Request) {
	req.Header.Set("User-Agent", BrowserUserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", AcceptLanguage)
	if ref := Origin(req.URL.String()); ref != "" {
		req.Header.Set("Referer", ref)
	}
}

// NewUpstreamRequest builds a GET for target carrying the upstream header
// convention.
func NewUpstreamRequest(ctx context.Context, target string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	SetUpstreamHeaders(req)
	return req, nil
}

// Drain discards what is left of body and closes it so the connection can
// be reused.
func Drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	body.Close()
}
