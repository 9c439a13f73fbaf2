package httpclient

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/YuanQin2000/datax/internal/http1"
	"github.com/YuanQin2000/datax/internal/status"
)

// redirectRequest synthesizes the request that follows a 3xx response
// with Location loc. It is chained to r but not started.
func (r *Request) redirectRequest(code int, loc string) (*Request, error) {
	if r.hops >= r.stack.opts.MaxRedirects {
		return nil, errTooManyRedirects
	}
	nextURL, err := r.url.Parse(loc)
	if err != nil {
		return nil, fmt.Errorf("invalid Location %q: %v: %w", loc, err, status.ProtocolError)
	}

	method := r.method
	body, stream := r.body, r.stream
	dropBody := false
	switch code {
	case 303:
		// See Other always becomes GET (or HEAD) without a body.
		if method != http1.MethodHead {
			method = http1.MethodGet
		}
		dropBody = true
	case 301, 302:
		// Historical behavior: non-GET methods become GET.
		if method != http1.MethodGet && method != http1.MethodHead {
			method = http1.MethodGet
			dropBody = true
		}
	case 307, 308:
		if stream != nil {
			return nil, fmt.Errorf("cannot follow %d with a streamed body: %w", code, status.IllegalParameter)
		}
	}
	if dropBody {
		body, stream = nil, nil
	}

	next, err := r.stack.newRequest(method, nextURL, r.handler)
	if err != nil {
		return nil, err
	}
	next.root = r.root
	next.hops = r.hops + 1
	next.body, next.stream = body, stream

	for _, f := range r.fields {
		switch strings.ToLower(f[0]) {
		case "proxy-authorization", "cookie", "referer":
			continue
		case "authorization":
			if !sameOrigin(r.url, nextURL) {
				continue
			}
		case "content-type", "content-encoding", "content-language":
			if dropBody {
				continue
			}
		}
		next.fields = append(next.fields, f)
	}

	// No Referer when moving from https to http.
	if !(r.secure && !next.secure) {
		referer := *r.url
		referer.User = nil
		referer.Fragment = ""
		next.fields = append(next.fields, [2]string{"Referer", referer.String()})
	}
	return next, nil
}

// sameOrigin reports whether a and b share scheme, host and port.
func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}
