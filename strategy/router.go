package strategy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/edgecache/cachestore"
	"github.com/hupe1980/edgecache/fetch"
	"github.com/hupe1980/edgecache/lifecycle"
)

// Lifecycle is the slice of generation management the router needs: the
// active generation for lookups and the fill gate for writes.
type Lifecycle interface {
	Current() (lifecycle.Generation, bool)
	GuardFill(fn func(gen lifecycle.Generation) error) error
}

// Option configures the router.
type Option func(*Router)

// WithClassifier replaces the routing classifier.
func WithClassifier(classify Classifier) Option {
	return func(r *Router) {
		r.classify = classify
	}
}

// WithLogger sets the logger used by the router.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// Router serves requests with the strategy their classification selects.
// It is safe for concurrent use.
type Router struct {
	store    *cachestore.Store
	lc       Lifecycle
	fetcher  fetch.Fetcher
	classify Classifier
	logger   *slog.Logger

	// group deduplicates concurrent cache-first fills per cache key.
	group singleflight.Group
}

// NewRouter creates a router. Without WithClassifier every request is
// NetworkOnly.
func NewRouter(store *cachestore.Store, lc Lifecycle, fetcher fetch.Fetcher, optFns ...Option) *Router {
	r := &Router{
		store:    store,
		lc:       lc,
		fetcher:  fetcher,
		classify: NewClassifier(nil, nil),
	}

	for _, fn := range optFns {
		fn(r)
	}

	return r
}

// Route returns the decision for a request without serving it.
func (r *Router) Route(req *fetch.Request) Decision {
	return r.classify(req)
}

// Handle serves one request.
func (r *Router) Handle(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	decision := r.classify(req)

	if r.logger != nil {
		r.logger.Debug("routing request", slog.String("url", req.URL.String()), slog.String("strategy", decision.String()))
	}

	switch decision {
	case DecisionCacheFirst:
		return r.CacheFirst(ctx, req)
	case DecisionNetworkFirst:
		return r.NetworkFirst(ctx, req)
	default:
		return r.NetworkOnly(ctx, req)
	}
}

// NetworkOnly fetches from the network. A network failure resolves to the
// offline page; the error never reaches the caller.
func (r *Router) NetworkOnly(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		if errors.Is(err, fetch.ErrNetwork) {
			if r.logger != nil {
				r.logger.Debug("serving offline page", slog.String("url", req.URL.String()))
			}

			return OfflinePage(), nil
		}

		return nil, err
	}

	return resp, nil
}

// CacheFirst serves from the active generation's static partition. Entries
// are valid until generation cutover, so a hit involves no network and no
// freshness check. On miss the fetch is deduplicated per key; a 200 response
// is stored before it is returned. A failed fetch for an image destination
// resolves to the placeholder image, any other failure propagates.
func (r *Router) CacheFirst(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	key := cachestore.Key(req.CacheKey())

	if entry, ok := r.lookup(ctx, key); ok {
		return entryResponse(entry), nil
	}

	v, err, shared := r.group.Do(string(key), func() (any, error) {
		resp, err := r.fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}

		if resp.Status == http.StatusOK {
			r.storeCopy(ctx, key, resp)
		}

		return resp, nil
	})
	if err != nil {
		if req.Destination == fetch.DestinationImage && errors.Is(err, fetch.ErrNetwork) {
			if r.logger != nil {
				r.logger.Debug("serving placeholder image", slog.String("url", req.URL.String()))
			}

			return PlaceholderImage(), nil
		}

		return nil, err
	}

	resp := v.(*fetch.Response)
	if shared {
		// Followers must not alias the leader's response.
		resp = resp.Clone()
	}

	return resp, nil
}

// NetworkFirst fetches from the network and falls back to the cached entry,
// then to the offline page. A 200 response refreshes the cached copy before
// it is returned.
func (r *Router) NetworkFirst(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	key := cachestore.Key(req.CacheKey())

	resp, err := r.fetcher.Fetch(ctx, req)
	if err == nil {
		if resp.Status == http.StatusOK {
			r.storeCopy(ctx, key, resp)
		}

		return resp, nil
	}

	if entry, ok := r.lookup(ctx, key); ok {
		return entryResponse(entry), nil
	}

	if errors.Is(err, fetch.ErrNetwork) {
		return OfflinePage(), nil
	}

	return nil, err
}

// lookup reads the key from the active generation's static partition.
func (r *Router) lookup(ctx context.Context, key cachestore.Key) (*cachestore.Entry, bool) {
	gen, ok := r.lc.Current()
	if !ok {
		return nil, false
	}

	p, err := r.store.Open(ctx, gen.StaticPartition())
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("opening static partition failed", slog.String("partition", gen.StaticPartition()), slog.String("error", err.Error()))
		}

		return nil, false
	}

	entry, err := r.store.Get(ctx, p, key)
	if err != nil {
		if !errors.Is(err, cachestore.ErrEntryNotFound) && r.logger != nil {
			r.logger.Warn("cache read failed", slog.String("key", string(key)), slog.String("error", err.Error()))
		}

		return nil, false
	}

	return entry, true
}

// storeCopy writes a copy of the response into the active generation's
// static partition under the fill gate. Storage failures are logged and
// swallowed; serving the response takes precedence over caching it.
func (r *Router) storeCopy(ctx context.Context, key cachestore.Key, resp *fetch.Response) {
	err := r.lc.GuardFill(func(gen lifecycle.Generation) error {
		p, err := r.store.Open(ctx, gen.StaticPartition())
		if err != nil {
			return err
		}

		return r.store.Put(ctx, p, key, &cachestore.Entry{
			Status: resp.Status,
			Header: resp.Header,
			Body:   resp.Body,
		})
	})
	if err != nil && !errors.Is(err, lifecycle.ErrNoActiveGeneration) {
		if r.logger != nil {
			r.logger.Warn("cache fill failed", slog.String("key", string(key)), slog.String("error", err.Error()))
		}
	}
}

// entryResponse converts a cached entry back into a response.
func entryResponse(e *cachestore.Entry) *fetch.Response {
	return &fetch.Response{
		Status: e.Status,
		Header: e.Header.Clone(),
		Body:   e.Body,
	}
}
