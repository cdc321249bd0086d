package proxy

import (
	"context"
	"net/http"
	"time"
)

// DebugConfig describes the environment reported by the debug endpoint.
type DebugConfig struct {
	TokenServiceURL string
	// TokenServiceFromEnv is true when the URL was set explicitly rather than
	// falling back to the built-in default.
	TokenServiceFromEnv bool
	DirectoryURL        string
	Timeout             time.Duration
}

// HealthChecker reports the health of the token service.
type HealthChecker interface {
	Health(ctx context.Context) (status int, data any, err error)
}

// Debugger serves a JSON diagnostic snapshot of configuration and
// collaborator reachability. It is not part of the playback contract.
type Debugger struct {
	cfg    DebugConfig
	tokens HealthChecker
	dir    Directory
	now    func() time.Time
}

// NewDebugger returns a Debugger. A zero cfg.Timeout uses 5s per probe.
func NewDebugger(cfg DebugConfig, tokens HealthChecker, dir Directory) *Debugger {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Debugger{cfg: cfg, tokens: tokens, dir: dir, now: time.Now}
}

type debugReport struct {
	Timestamp    string         `json:"timestamp"`
	Environment  debugEnv       `json:"environment"`
	Request      debugRequest   `json:"request"`
	TokenService reachability   `json:"tokenService"`
	Directory    directoryProbe `json:"directory"`
}

type debugEnv struct {
	TokenServiceURL string `json:"tokenServiceUrl"`
	HasEnvVar       bool   `json:"hasEnvVar"`
	DirectoryURL    string `json:"directoryUrl"`
}

type debugRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
}

type reachability struct {
	Reachable bool   `json:"reachable"`
	Status    int    `json:"status,omitempty"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

type directoryProbe struct {
	URL       string `json:"url"`
	Reachable bool   `json:"reachable"`
	Streams   int    `json:"streams"`
	Error     string `json:"error,omitempty"`
}

// ServeHTTP handles GET /debug. It always answers 200; probe failures are
// reported inside the body.
func (d *Debugger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := debugReport{
		Timestamp: d.now().UTC().Format(time.RFC3339),
		Environment: debugEnv{
			TokenServiceURL: d.cfg.TokenServiceURL,
			HasEnvVar:       d.cfg.TokenServiceFromEnv,
			DirectoryURL:    d.cfg.DirectoryURL,
		},
		Request: debugRequest{
			URL:     r.URL.String(),
			Method:  r.Method,
			Headers: flattenHeaders(r.Header),
		},
		TokenService: d.probeTokens(r.Context()),
		Directory:    d.probeDirectory(r.Context()),
	}
	writeJSON(w, http.StatusOK, report)
}

func (d *Debugger) probeTokens(ctx context.Context) reachability {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	status, data, err := d.tokens.Health(ctx)
	if err != nil {
		return reachability{Error: err.Error()}
	}
	return reachability{Reachable: status == http.StatusOK, Status: status, Data: data}
}

func (d *Debugger) probeDirectory(ctx context.Context) directoryProbe {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	p := directoryProbe{URL: d.cfg.DirectoryURL}
	entries, err := d.dir.Entries(ctx)
	if err != nil {
		p.Error = err.Error()
		return p
	}
	p.Reachable = true
	p.Streams = len(entries)
	return p
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
