package proxy

import (
	"net/url"
	"strings"

	"hls-token-proxy/internal/platform/httpclient"
)

// SegmentPath is the proxy route that rewritten references point at.
const SegmentPath = "/api/segment"

// RewritePlaylist rewrites every reference line of playlist into a proxied
// segment URL and copies directive, comment and blank lines unchanged.
// Line count and order are preserved. URIs inside directive attribute lists
// (for example #EXT-X-KEY:URI="...") are not rewritten.
func RewritePlaylist(playlist, tokenURL, streamID, proxyBase string) string {
	out, _ := rewritePlaylist(playlist, tokenURL, streamID, proxyBase)
	return out
}

// rewritePlaylist is RewritePlaylist that also reports how many reference
// lines were rewritten.
func rewritePlaylist(playlist, tokenURL, streamID, proxyBase string) (string, int) {
	lines := strings.Split(playlist, "\n")
	n := 0
	for i, line := range lines {
		if isDirective(line) {
			continue
		}
		abs := ResolveReference(tokenURL, strings.TrimSpace(line))
		lines[i] = ProxiedReference(proxyBase, abs, streamID)
		n++
	}
	return strings.Join(lines, "\n"), n
}

// isDirective reports whether line is copied through untouched: blank,
// whitespace only, or starting with '#'.
func isDirective(line string) bool {
	return strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#")
}

// ResolveReference turns a playlist reference into an absolute upstream URL.
// Absolute http(s) references are returned verbatim. A root-relative reference
// is joined to the origin of tokenURL, and anything else to the directory of
// tokenURL (its path up to and including the last '/', query dropped).
func ResolveReference(tokenURL, ref string) string {
	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return ref
	}

	base := tokenURL
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}

	if strings.HasPrefix(ref, "//") {
		if i := strings.Index(base, "://"); i >= 0 {
			return base[:i+1] + ref
		}
	}
	if strings.HasPrefix(ref, "/") {
		if origin := httpclient.Origin(base); origin != "" {
			return origin + ref
		}
	}

	if i := strings.Index(base, "://"); i >= 0 {
		host := i + len("://")
		if strings.LastIndex(base[host:], "/") < 0 {
			return base + "/" + ref
		}
	}
	if i := strings.LastIndex(base, "/"); i >= 0 {
		return base[:i+1] + ref
	}
	return ref
}

// ProxiedReference builds <proxyBase>/api/segment?url=<escaped abs>&id=<escaped id>.
func ProxiedReference(proxyBase, absoluteURL, streamID string) string {
	return strings.TrimRight(proxyBase, "/") + SegmentPath +
		"?url=" + url.QueryEscape(absoluteURL) +
		"&id=" + url.QueryEscape(streamID)
}

// DirectiveURIs returns the URI attribute values found on directive lines.
// These stay pointed at the upstream after rewriting.
func DirectiveURIs(playlist string) []string {
	var uris []string
	for _, line := range strings.Split(playlist, "\n") {
		if !strings.HasPrefix(line, "#") {
			continue
		}
		rest := line
		for {
			i := strings.Index(rest, `URI="`)
			if i < 0 {
				break
			}
			rest = rest[i+len(`URI="`):]
			end := strings.IndexByte(rest, '"')
			if end < 0 {
				break
			}
			uris = append(uris, rest[:end])
			rest = rest[end+1:]
		}
	}
	return uris
}
