package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"hls-token-proxy/internal/platform/httpclient"
)

// maxDirectoryBytes caps the size of the directory document.
const maxDirectoryBytes = 8 << 20

// Directory resolves stream ids to upstream sources.
// Implementations can be in-memory, file-based, or remote.
type Directory interface {
	// Resolve returns the entry for id. It fails with ErrNotFound when no
	// entry matches and ErrConfigUnavailable when the directory itself
	// cannot be read.
	Resolve(ctx context.Context, id string) (StreamEntry, error)

	// Entries returns every entry in directory order.
	Entries(ctx context.Context) ([]StreamEntry, error)
}

// StaticDirectory is an in-memory implementation of Directory.
// It is immutable after construction and safe for concurrent use.
type StaticDirectory struct {
	entries []StreamEntry
	byID    map[string]StreamEntry
}

// NewStaticDirectory returns a directory holding entries. When an id appears
// more than once the first entry wins.
func NewStaticDirectory(entries ...StreamEntry) *StaticDirectory {
	d := &StaticDirectory{
		entries: append([]StreamEntry(nil), entries...),
		byID:    make(map[string]StreamEntry, len(entries)),
	}
	for _, e := range entries {
		if _, dup := d.byID[e.ID]; !dup {
			d.byID[e.ID] = e
		}
	}
	return d
}

// Resolve implements Directory.Resolve.
func (d *StaticDirectory) Resolve(_ context.Context, id string) (StreamEntry, error) {
	e, ok := d.byID[id]
	if !ok {
		return StreamEntry{}, ErrNotFound
	}
	if e.URL == "" {
		return StreamEntry{}, fmt.Errorf("%w: entry %q has no url", ErrConfigUnavailable, id)
	}
	return e, nil
}

// Entries implements Directory.Entries.
func (d *StaticDirectory) Entries(_ context.Context) ([]StreamEntry, error) {
	return append([]StreamEntry(nil), d.entries...), nil
}

// HTTPDirectory reads the directory document on every call from an http(s)
// URL or a local file. Nothing is cached between calls.
type HTTPDirectory struct {
	location string
	client   *http.Client
}

// NewHTTPDirectory returns a directory backed by location: an http(s) URL,
// a file:// URL, or a plain file path. A nil client uses a 15s-timeout copy
// of the shared client.
func NewHTTPDirectory(location string, client *http.Client) *HTTPDirectory {
	if client == nil {
		client = httpclient.WithTimeout(15 * time.Second)
	}
	return &HTTPDirectory{location: location, client: client}
}

// Location returns the configured directory location.
func (d *HTTPDirectory) Location() string {
	return d.location
}

// Resolve implements Directory.Resolve.
func (d *HTTPDirectory) Resolve(ctx context.Context, id string) (StreamEntry, error) {
	entries, err := d.Entries(ctx)
	if err != nil {
		return StreamEntry{}, err
	}
	return NewStaticDirectory(entries...).Resolve(ctx, id)
}

// Entries implements Directory.Entries.
func (d *HTTPDirectory) Entries(ctx context.Context) ([]StreamEntry, error) {
	raw, err := d.read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigUnavailable, err)
	}
	var doc directoryDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrConfigUnavailable, d.location, err)
	}
	return doc.Streams, nil
}

func (d *HTTPDirectory) read(ctx context.Context) ([]byte, error) {
	if !httpclient.IsHTTPOrHTTPS(d.location) {
		path := strings.TrimPrefix(d.location, "file://")
		return os.ReadFile(path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.location, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: HTTP %d", d.location, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDirectoryBytes))
}
