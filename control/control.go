// Package control implements the worker's message channel: typed control
// messages from the host, their acknowledgement protocol, and the cache
// mutations they trigger.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/edgecache/cachestore"
	"github.com/hupe1980/edgecache/codec"
	"github.com/hupe1980/edgecache/fetch"
	"github.com/hupe1980/edgecache/internal/pool"
	"github.com/hupe1980/edgecache/lifecycle"
)

// Message types the worker understands, plus the acknowledgement type it
// replies with.
const (
	TypeSkipWaiting = "SKIP_WAITING"
	TypeCacheURLs   = "CACHE_URLS"
	TypeClearCache  = "CLEAR_CACHE"
	TypeAck         = "ACK"
)

// AckPayload is the receipt text carried by every acknowledgement.
const AckPayload = "Message received"

const defaultFillConcurrency = 4

// Message is one control message. The payload is codec-encoded; CACHE_URLS
// carries a JSON array of URL strings.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseMessage decodes a raw control message.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := codec.Default.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decoding control message: %w", err)
	}

	return msg, nil
}

// ReplyPort receives the acknowledgement for one message.
type ReplyPort interface {
	Reply(ctx context.Context, msg Message) error
}

// ReplyFunc adapts a function to the ReplyPort interface.
type ReplyFunc func(ctx context.Context, msg Message) error

// Reply implements the ReplyPort interface.
func (f ReplyFunc) Reply(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// UnsupportedMessageError reports a message type the worker does not
// understand. The message has already been acknowledged when this error is
// returned; it is informational, never fatal.
type UnsupportedMessageError struct {
	Type string
}

// Error implements the error interface.
func (e *UnsupportedMessageError) Error() string {
	return fmt.Sprintf("unsupported message type %q", e.Type)
}

// Lifecycle is the slice of generation management the dispatcher needs.
type Lifecycle interface {
	SkipWaiting()
	Activate(ctx context.Context) error
	GuardFill(fn func(gen lifecycle.Generation) error) error
	GuardSweep(fn func() error) error
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithBaseURL sets the base relative CACHE_URLS entries resolve against.
func WithBaseURL(base *url.URL) Option {
	return func(d *Dispatcher) {
		d.baseURL = base
	}
}

// WithFillConcurrency bounds the number of concurrent CACHE_URLS fetches.
func WithFillConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.fillConcurrency = n
		}
	}
}

// WithLogger sets the logger used by the dispatcher.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// Dispatcher routes control messages to their cache mutations. Mutations
// run on the shared pool; Dispatch acknowledges receipt, not completion.
type Dispatcher struct {
	store   *cachestore.Store
	lc      Lifecycle
	fetcher fetch.Fetcher
	pool    *pool.Pool

	baseURL         *url.URL
	fillConcurrency int
	logger          *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(store *cachestore.Store, lc Lifecycle, fetcher fetch.Fetcher, p *pool.Pool, optFns ...Option) *Dispatcher {
	d := &Dispatcher{
		store:           store,
		lc:              lc,
		fetcher:         fetcher,
		pool:            p,
		fillConcurrency: defaultFillConcurrency,
	}

	for _, fn := range optFns {
		fn(d)
	}

	return d
}

// Dispatch handles one message. A recognized message is enqueued on the
// pool and then acknowledged with exactly one {ACK, "Message received"}
// reply — a receipt, not a completion; the returned handle carries the
// mutation outcome. An unrecognized type is acknowledged, logged, and
// reported as UnsupportedMessageError without any mutation.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message, reply ReplyPort) (*pool.Task, error) {
	var fn func(context.Context) error

	switch msg.Type {
	case TypeSkipWaiting:
		fn = d.skipWaiting
	case TypeCacheURLs:
		payload := msg.Payload
		fn = func(ctx context.Context) error {
			return d.cacheURLs(ctx, payload)
		}
	case TypeClearCache:
		fn = d.clearCache
	default:
		d.ack(ctx, reply)

		if d.logger != nil {
			d.logger.Warn("unsupported message type", slog.String("type", msg.Type))
		}

		return nil, &UnsupportedMessageError{Type: msg.Type}
	}

	task, err := d.pool.Submit(ctx, func() error {
		return fn(ctx)
	})
	if err != nil {
		return nil, err
	}

	d.ack(ctx, reply)

	if d.logger != nil {
		d.logger.Debug("control message enqueued", slog.String("type", msg.Type))
	}

	return task, nil
}

// ack delivers the receipt. Reply failures are logged; the mutation is
// already enqueued and proceeds regardless.
func (d *Dispatcher) ack(ctx context.Context, reply ReplyPort) {
	if reply == nil {
		return
	}

	err := reply.Reply(ctx, Message{
		Type:    TypeAck,
		Payload: codec.MustMarshal(codec.Default, AckPayload),
	})
	if err != nil && d.logger != nil {
		d.logger.Warn("ack delivery failed", slog.String("error", err.Error()))
	}
}

// skipWaiting forces the waiting generation active, bypassing client drain.
// Without a waiting generation the override is a no-op.
func (d *Dispatcher) skipWaiting(ctx context.Context) error {
	d.lc.SkipWaiting()

	if err := d.lc.Activate(ctx); err != nil {
		if errors.Is(err, lifecycle.ErrNotWaiting) {
			if d.logger != nil {
				d.logger.Debug("skip waiting with nothing installed")
			}

			return nil
		}

		return err
	}

	return nil
}

// cacheURLs fetches every URL of the payload and stores it in the active
// generation's static partition. The batch is best effort: a failing URL is
// logged and the rest still complete; the first failure becomes the task
// outcome.
func (d *Dispatcher) cacheURLs(ctx context.Context, payload []byte) error {
	var urls []string
	if err := codec.Default.Unmarshal(payload, &urls); err != nil {
		return fmt.Errorf("decoding CACHE_URLS payload: %w", err)
	}

	// No WithContext: one failing URL must not cancel the rest.
	var g errgroup.Group
	g.SetLimit(d.fillConcurrency)

	for _, raw := range urls {
		g.Go(func() error {
			if err := d.cacheOne(ctx, raw); err != nil {
				if d.logger != nil {
					d.logger.Warn("caching url failed", slog.String("url", raw), slog.String("error", err.Error()))
				}

				return fmt.Errorf("caching %q: %w", raw, err)
			}

			return nil
		})
	}

	err := g.Wait()

	if d.logger != nil {
		d.logger.Info("cache urls processed", slog.Int("urls", len(urls)))
	}

	return err
}

// cacheOne resolves, fetches and stores a single URL.
func (d *Dispatcher) cacheOne(ctx context.Context, rawURL string) error {
	resolved, err := d.resolveURL(rawURL)
	if err != nil {
		return err
	}

	req, err := fetch.NewRequest(resolved)
	if err != nil {
		return err
	}

	resp, err := d.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}

	if resp.Status != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.Status)
	}

	return d.lc.GuardFill(func(gen lifecycle.Generation) error {
		p, err := d.store.Open(ctx, gen.StaticPartition())
		if err != nil {
			return err
		}

		return d.store.Put(ctx, p, cachestore.Key(req.CacheKey()), &cachestore.Entry{
			Status: resp.Status,
			Header: resp.Header,
			Body:   resp.Body,
		})
	})
}

// resolveURL makes relative payload entries absolute against the base.
func (d *Dispatcher) resolveURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	if u.IsAbs() {
		return raw, nil
	}

	if d.baseURL == nil {
		return "", fmt.Errorf("relative url %q without configured base", raw)
	}

	return d.baseURL.ResolveReference(u).String(), nil
}

// clearCache deletes every partition across every generation, data
// partitions included. It holds the sweep side of the fill gate so no
// in-flight put races the deletions. Clearing an already empty store is a
// no-op.
func (d *Dispatcher) clearCache(ctx context.Context) error {
	return d.lc.GuardSweep(func() error {
		names, err := d.store.Partitions(ctx)
		if err != nil {
			return err
		}

		var firstErr error

		for _, name := range names {
			if err := d.store.DeletePartition(ctx, name); err != nil {
				if d.logger != nil {
					d.logger.Warn("deleting partition failed", slog.String("partition", name), slog.String("error", err.Error()))
				}

				if firstErr == nil {
					firstErr = err
				}
			}
		}

		if d.logger != nil {
			d.logger.Info("cache cleared", slog.Int("partitions", len(names)))
		}

		return firstErr
	})
}
