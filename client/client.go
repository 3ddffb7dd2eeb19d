// Package client models the host surfaces connected to the worker (open
// windows, pages) and the registry used to broadcast messages to them.
package client

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/edgecache/lifecycle"
)

// Message is a payload posted to a client.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Client is one connected host surface.
type Client interface {
	// ID uniquely identifies the client within the registry.
	ID() string
	// Post delivers a message to the client.
	Post(ctx context.Context, msg Message) error
	// Focus brings the client's window to the foreground.
	Focus(ctx context.Context) error
	// Navigate points the client at a new URL.
	Navigate(ctx context.Context, url string) error
}

// OpenFunc opens a new client window at the given URL. Hosts without a
// display surface leave it unset.
type OpenFunc func(ctx context.Context, url string) error

// Option configures the registry.
type Option func(*Registry)

// WithOpener sets the function used when OpenOrFocus finds no connected
// client.
func WithOpener(open OpenFunc) Option {
	return func(r *Registry) {
		r.opener = open
	}
}

// WithLogger sets the logger used by the registry.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// Registry tracks connected clients. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	clients    map[string]Client
	controller lifecycle.Generation

	opener OpenFunc
	logger *slog.Logger
}

var _ lifecycle.Claimer = (*Registry)(nil)

// NewRegistry creates an empty client registry.
func NewRegistry(optFns ...Option) *Registry {
	r := &Registry{
		clients: make(map[string]Client),
	}

	for _, fn := range optFns {
		fn(r)
	}

	return r
}

// Register adds a client, replacing any client with the same ID.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[c.ID()] = c
}

// Unregister removes the client with the given ID.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.clients, id)
}

// Get returns the client with the given ID.
func (r *Registry) Get(id string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[id]

	return c, ok
}

// List returns all connected clients ordered by ID.
func (r *Registry) List() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}

	sort.Slice(clients, func(i, j int) bool {
		return clients[i].ID() < clients[j].ID()
	})

	return clients
}

// Len returns the number of connected clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}

// Broadcast posts msg to every connected client, best effort: a failing
// client is logged and skipped, the rest still receive the message. The
// first failure is returned.
func (r *Registry) Broadcast(ctx context.Context, msg Message) error {
	clients := r.List()

	// No WithContext: one failing client must not cancel the others.
	var g errgroup.Group

	for _, c := range clients {
		g.Go(func() error {
			if err := c.Post(ctx, msg); err != nil {
				if r.logger != nil {
					r.logger.Warn("posting to client failed", slog.String("client", c.ID()), slog.String("error", err.Error()))
				}

				return err
			}

			return nil
		})
	}

	return g.Wait()
}

// ClaimAll marks gen as the controller of every connected client, so pages
// already open are served by the new generation without a reload.
func (r *Registry) ClaimAll(_ context.Context, gen lifecycle.Generation) error {
	r.mu.Lock()
	r.controller = gen
	count := len(r.clients)
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Info("clients claimed", slog.String("generation", string(gen)), slog.Int("clients", count))
	}

	return nil
}

// Controller returns the generation currently controlling the clients.
func (r *Registry) Controller() (lifecycle.Generation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.controller, r.controller != ""
}

// OpenOrFocus focuses the first connected client, or opens url through the
// configured opener when none is connected. Without clients or an opener it
// is a no-op.
func (r *Registry) OpenOrFocus(ctx context.Context, url string) error {
	clients := r.List()

	if len(clients) > 0 {
		return clients[0].Focus(ctx)
	}

	if r.opener != nil {
		return r.opener(ctx, url)
	}

	if r.logger != nil {
		r.logger.Debug("no client to focus and no opener configured", slog.String("url", url))
	}

	return nil
}
