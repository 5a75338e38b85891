package rtmpclient

import (
	"net"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

const defaultPort = "1935"

// Target is a parsed rtmp:// URL.
type Target struct {
	Addr   string
	App    string
	Stream string
	TcURL  string
}

// ParseURL parses rtmp://host[:port]/app/stream. Everything after the app
// segment, including a query string, is the stream name.
func ParseURL(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, errors.Wrap(err, "parse url")
	}
	if u.Scheme != "rtmp" {
		return Target{}, errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return Target{}, errors.New("missing host")
	}

	path := strings.TrimPrefix(u.Path, "/")
	app, stream, ok := strings.Cut(path, "/")
	if !ok || app == "" || stream == "" {
		return Target{}, errors.Errorf("url %q needs /app/stream", raw)
	}
	if u.RawQuery != "" {
		stream += "?" + u.RawQuery
	}

	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	return Target{
		Addr:   net.JoinHostPort(u.Hostname(), port),
		App:    app,
		Stream: stream,
		TcURL:  "rtmp://" + u.Host + "/" + app,
	}, nil
}
