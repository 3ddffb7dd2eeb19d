// Package fetch defines the request/response boundary of the worker.
//
// A Request is the worker's view of an outgoing navigation or subresource
// request; a Response is what the worker hands back, whether it came from the
// network or from cache. The Fetcher interface abstracts the network so
// strategies can be tested against scripted transports.
package fetch

import (
	"errors"
	"net/http"
	"net/url"
)

// ErrNetwork is the sentinel wrapped by all transport failures. Strategies
// match it with errors.Is to decide between fallbacks.
var ErrNetwork = errors.New("network failure")

// Request destinations, mirroring the Sec-Fetch-Dest request header values
// the worker cares about. Only DestinationImage changes strategy behavior.
const (
	DestinationDocument = "document"
	DestinationImage    = "image"
	DestinationScript   = "script"
	DestinationStyle    = "style"
)

// Request describes a single intercepted request.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header

	// Destination classifies what the requester will do with the response
	// ("document", "image", ...). Empty when unknown.
	Destination string
}

// NewRequest creates a GET request for the given absolute URL.
func NewRequest(rawURL string) (*Request, error) {
	return NewRequestWithMethod(http.MethodGet, rawURL)
}

// NewRequestWithMethod creates a request with an explicit method.
func NewRequestWithMethod(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		Method: method,
		URL:    u,
		Header: make(http.Header),
	}, nil
}

// FromHTTP converts an incoming *http.Request into a Request, resolving the
// scheme and host so the URL is absolute. The destination is taken from the
// Sec-Fetch-Dest header when present.
func FromHTTP(r *http.Request) *Request {
	u := *r.URL
	if u.Host == "" {
		u.Host = r.Host
	}
	if u.Scheme == "" {
		if r.TLS != nil {
			u.Scheme = "https"
		} else {
			u.Scheme = "http"
		}
	}

	return &Request{
		Method:      r.Method,
		URL:         &u,
		Header:      r.Header.Clone(),
		Destination: r.Header.Get("Sec-Fetch-Dest"),
	}
}

// CacheKey returns the canonical cache identity of the request:
// method + absolute URL, query string included.
func (r *Request) CacheKey() string {
	return r.Method + " " + r.URL.String()
}

// Response is a materialized response: status, headers and the full body.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// ContentType returns the Content-Type header value.
func (r *Response) ContentType() string {
	return r.Header.Get("Content-Type")
}

// Clone returns a deep copy. Callers that hand a response to multiple
// consumers must clone so header or body mutation does not leak.
func (r *Response) Clone() *Response {
	body := make([]byte, len(r.Body))
	copy(body, r.Body)

	return &Response{
		Status: r.Status,
		Header: r.Header.Clone(),
		Body:   body,
	}
}
