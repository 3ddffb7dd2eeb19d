package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// Fetcher abstracts the network transport. Implementations must be safe for
// concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// HTTPFetcher is the default Fetcher over net/http. The response body is read
// in full; strategies operate on materialized responses.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a Fetcher backed by the given client.
// If client is nil, http.DefaultClient is used.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client}
}

// Fetch performs the request. Transport failures wrap ErrNetwork; an HTTP
// error status is not an error here — classification is the strategy's job.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", req.URL, err)
	}
	for k, vv := range req.Header {
		for _, v := range vv {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, req.Method, req.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body of %s: %w", ErrNetwork, req.URL, err)
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

// FetchFunc adapts a function to the Fetcher interface.
type FetchFunc func(ctx context.Context, req *Request) (*Response, error)

// Fetch calls the function.
func (f FetchFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Handler adapts a fetch function (typically Worker.HandleFetch) to
// http.Handler so the worker can sit in middleware position in front of an
// origin.
type Handler struct {
	fetch FetchFunc
}

// NewHandler creates the adapter.
func NewHandler(fetch FetchFunc) *Handler {
	return &Handler{fetch: fetch}
}

// ServeHTTP converts the request, runs it through the worker and writes the
// materialized response back.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := h.fetch(r.Context(), FromHTTP(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = io.Copy(w, bytes.NewReader(resp.Body))
}
