// Package urlparse isolates the rtmp:// URL parse and BadUrl classification
// so rtmp.Open stays a thin orchestrator, the way cmd/deskcast keeps its
// flag parsing separate from main.
package urlparse

import (
	"fmt"
	"net/url"
	"strings"
)

const defaultPort = "1935"

// Target is the parsed shape of an rtmp:// destination: app is the whole
// path with its leading slash stripped, tcUrl is the full original URL
// string as given, and addr is host:port ready for net.Dial.
type Target struct {
	Addr  string
	App   string
	TcURL string
}

// Parse splits rawURL into a dial address and the app name, classifying any
// failure (non-rtmp scheme, missing host, malformed URL) as a BadUrl
// condition for the caller to wrap into errors.KindBadUrl.
func Parse(rawURL string) (*Target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("urlparse: %w", err)
	}
	if u.Scheme != "rtmp" {
		return nil, fmt.Errorf("urlparse: unsupported scheme %q, want rtmp", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("urlparse: missing host")
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	app := strings.TrimPrefix(u.Path, "/")
	if app == "" {
		return nil, fmt.Errorf("urlparse: missing app path segment")
	}
	return &Target{
		Addr:  fmt.Sprintf("%s:%s", host, port),
		App:   app,
		TcURL: rawURL,
	}, nil
}
