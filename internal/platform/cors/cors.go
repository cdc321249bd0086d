package cors

import (
	"net/http"
	"strings"
)

// Options configures the CORS middleware. Zero values are replaced with the
// open defaults used by the proxy.
type Options struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string
}

// DefaultOptions allows any origin to GET playlists and segments.
var DefaultOptions = Options{
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	AllowedHeaders: []string{"Content-Type", "Range"},
	ExposedHeaders: []string{"Content-Length", "Content-Range"},
}

// Middleware returns chi-compatible middleware that applies CORS headers to
// every response and answers preflight OPTIONS requests with 200 and no body.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = DefaultOptions.AllowedOrigins
	}
	if len(opts.AllowedMethods) == 0 {
		opts.AllowedMethods = DefaultOptions.AllowedMethods
	}
	if len(opts.AllowedHeaders) == 0 {
		opts.AllowedHeaders = DefaultOptions.AllowedHeaders
	}
	methods := strings.Join(opts.AllowedMethods, ", ")
	headers := strings.Join(opts.AllowedHeaders, ", ")
	exposed := strings.Join(opts.ExposedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := allowOrigin(opts.AllowedOrigins, r.Header.Get("Origin")); origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
			if exposed != "" {
				w.Header().Set("Access-Control-Expose-Headers", exposed)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// allowOrigin returns the value for Access-Control-Allow-Origin, or "" when
// the request origin is not allowed.
func allowOrigin(allowed []string, origin string) string {
	for _, a := range allowed {
		if a == "*" {
			return "*"
		}
		if origin != "" && a == origin {
			return origin
		}
	}
	return ""
}
