// Package lifecycle manages versioned cache generations: seeding a new
// generation from an asset manifest, promoting it to active, sweeping stale
// generations, and recovering the active generation after a restart.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/edgecache/blobstore"
	"github.com/hupe1980/edgecache/cachestore"
	"github.com/hupe1980/edgecache/codec"
	"github.com/hupe1980/edgecache/fetch"
)

// currentBlobName is the root-level blob holding the active generation
// pointer. It contains no path separator, so partition listings never
// include it.
const currentBlobName = "CURRENT"

const defaultSeedConcurrency = 4

// currentDoc is the persisted shape of the active generation pointer.
type currentDoc struct {
	Active      string    `json:"active"`
	ActivatedAt time.Time `json:"activated_at"`
}

// Claimer is notified when a generation takes control, so already connected
// clients switch to the new generation without a reload.
type Claimer interface {
	ClaimAll(ctx context.Context, gen Generation) error
}

// Option configures the manager.
type Option func(*Manager)

// WithManifest sets the asset URLs seeded into the static partition on
// install.
func WithManifest(urls []string) Option {
	return func(m *Manager) {
		m.manifest = urls
	}
}

// WithSeedConcurrency bounds the number of concurrent manifest fetches
// during install.
func WithSeedConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.seedConcurrency = n
		}
	}
}

// WithMaxEntries bounds the static partition after activation. Zero means
// unbounded.
func WithMaxEntries(n int) Option {
	return func(m *Manager) {
		m.maxEntries = n
	}
}

// WithClaimer sets the client claimer invoked after activation.
func WithClaimer(c Claimer) Option {
	return func(m *Manager) {
		m.claimer = c
	}
}

// WithLogger sets the logger used by the manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Manager drives the install/activate state machine for cache generations.
// All methods are safe for concurrent use.
type Manager struct {
	store   *cachestore.Store
	backend blobstore.Backend
	fetcher fetch.Fetcher

	manifest        []string
	seedConcurrency int
	maxEntries      int
	claimer         Claimer
	logger          *slog.Logger

	// gate serializes cache fills against the activation sweep: fills hold
	// the read side, the sweep holds the write side.
	gate sync.RWMutex

	mu            sync.Mutex
	state         State
	current       Generation
	incoming      Generation
	sweeping      bool
	skipRequested bool
}

// New creates a lifecycle manager. The backend is used for the generation
// pointer only; entries go through the store.
func New(store *cachestore.Store, backend blobstore.Backend, fetcher fetch.Fetcher, optFns ...Option) *Manager {
	m := &Manager{
		store:           store,
		backend:         backend,
		fetcher:         fetcher,
		seedConcurrency: defaultSeedConcurrency,
		state:           StateIdle,
	}

	for _, fn := range optFns {
		fn(m)
	}

	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Current returns the active generation, if any.
func (m *Manager) Current() (Generation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.current, m.current != ""
}

// Waiting returns the seeded generation awaiting activation, if any.
func (m *Manager) Waiting() (Generation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateWaitingActivate {
		return "", false
	}

	return m.incoming, true
}

// SkipWaiting marks the waiting generation as eligible for immediate
// activation, bypassing the usual client drain.
func (m *Manager) SkipWaiting() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.skipRequested = true
}

// SkipRequested reports whether SkipWaiting has been called since the last
// activation.
func (m *Manager) SkipRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.skipRequested
}

// GuardFill runs fn with the active generation while holding the fill side
// of the activation gate. Any number of fills may run concurrently; none
// overlaps the activation sweep, so a fill never writes into a partition
// that is being deleted. Without an active generation fn is not called and
// ErrNoActiveGeneration is returned.
func (m *Manager) GuardFill(fn func(gen Generation) error) error {
	m.gate.RLock()
	defer m.gate.RUnlock()

	gen, ok := m.Current()
	if !ok {
		return ErrNoActiveGeneration
	}

	return fn(gen)
}

// GuardSweep runs fn while holding the write side of the activation gate,
// excluding every fill. Bulk deletions outside Activate (cache clearing) go
// through it so they never race an in-flight put.
func (m *Manager) GuardSweep(fn func() error) error {
	m.gate.Lock()
	defer m.gate.Unlock()

	return fn()
}

// Install seeds a new generation: it creates the generation's static and
// data partitions and caches every manifest asset into the static one. The
// seed is all or nothing; if any asset fails, both partitions are discarded
// and a SeedError is returned. On success the generation waits for
// activation. Installing over an already waiting generation replaces it;
// the replaced generation's partitions are removed by the next activation
// sweep.
func (m *Manager) Install(ctx context.Context, gen Generation) error {
	if gen == "" || strings.ContainsRune(string(gen), '/') {
		return fmt.Errorf("%w: %q", ErrInvalidGeneration, gen)
	}

	m.mu.Lock()
	if m.state == StateInstalling {
		m.mu.Unlock()
		return ErrInstallInProgress
	}
	if m.sweeping {
		m.mu.Unlock()
		return ErrActivateInProgress
	}

	prevState := m.state
	prevIncoming := m.incoming
	m.state = StateInstalling
	m.incoming = gen
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("installing generation", slog.String("generation", string(gen)), slog.Int("assets", len(m.manifest)))
	}

	err := m.seed(ctx, gen)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.discard(ctx, gen)

		switch {
		case prevState == StateWaitingActivate && prevIncoming != gen:
			// The previously waiting generation keeps its seeded
			// partitions until the next sweep, so it stays activatable.
			m.state = StateWaitingActivate
			m.incoming = prevIncoming
		case m.current != "":
			m.state = StateActive
			m.incoming = ""
		default:
			m.state = StateIdle
			m.incoming = ""
		}

		if m.logger != nil {
			m.logger.Warn("install failed", slog.String("generation", string(gen)), slog.String("error", err.Error()))
		}

		return err
	}

	m.state = StateWaitingActivate

	if m.logger != nil {
		m.logger.Info("generation installed", slog.String("generation", string(gen)))
	}

	return nil
}

// seed creates the generation's partitions and fills the static one from
// the manifest.
func (m *Manager) seed(ctx context.Context, gen Generation) error {
	static, err := m.store.Open(ctx, gen.StaticPartition())
	if err != nil {
		return err
	}

	if _, err := m.store.Open(ctx, gen.DataPartition()); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.seedConcurrency)

	for _, asset := range m.manifest {
		g.Go(func() error {
			req, err := fetch.NewRequest(asset)
			if err != nil {
				return &SeedError{Asset: asset, cause: err}
			}

			resp, err := m.fetcher.Fetch(gctx, req)
			if err != nil {
				return &SeedError{Asset: asset, cause: err}
			}

			if resp.Status != 200 {
				return &SeedError{Asset: asset, cause: fmt.Errorf("unexpected status %d", resp.Status)}
			}

			entry := &cachestore.Entry{
				Status: resp.Status,
				Header: resp.Header,
				Body:   resp.Body,
			}

			if err := m.store.Put(gctx, static, cachestore.Key(req.CacheKey()), entry); err != nil {
				return &SeedError{Asset: asset, cause: err}
			}

			return nil
		})
	}

	return g.Wait()
}

// discard removes a generation's partitions after a failed seed. Removal
// failures are logged and otherwise ignored; a later activation sweep
// retries them.
func (m *Manager) discard(ctx context.Context, gen Generation) {
	for _, name := range []string{gen.StaticPartition(), gen.DataPartition()} {
		if err := m.store.DeletePartition(ctx, name); err != nil {
			if m.logger != nil {
				m.logger.Warn("discarding partial generation failed", slog.String("partition", name), slog.String("error", err.Error()))
			}
		}
	}
}

// Activate promotes the waiting generation to active and deletes every
// partition that does not belong to it. Deletion failures are logged and
// swallowed; stale partitions are retried on the next activation. The
// active generation pointer is persisted so a restarted worker resumes
// serving the same generation.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateWaitingActivate {
		m.mu.Unlock()
		return ErrNotWaiting
	}

	gen := m.incoming
	skipped := m.skipRequested

	// Promote before the sweep so fills admitted afterwards already target
	// the new generation.
	m.current = gen
	m.incoming = ""
	m.skipRequested = false
	m.state = StateActive
	m.sweeping = true
	m.mu.Unlock()

	m.sweep(ctx, gen)

	m.mu.Lock()
	m.sweeping = false
	m.mu.Unlock()

	if err := m.persistCurrent(ctx, gen); err != nil {
		if m.logger != nil {
			m.logger.Error("persisting generation pointer failed", slog.String("generation", string(gen)), slog.String("error", err.Error()))
		}
	}

	if m.claimer != nil {
		if err := m.claimer.ClaimAll(ctx, gen); err != nil {
			if m.logger != nil {
				m.logger.Warn("claiming clients failed", slog.String("error", err.Error()))
			}
		}
	}

	if m.maxEntries > 0 {
		if static, err := m.store.Open(ctx, gen.StaticPartition()); err == nil {
			if evicted, err := m.store.EnforceBound(ctx, static, m.maxEntries); err == nil && evicted > 0 && m.logger != nil {
				m.logger.Debug("static partition bounded", slog.Int("evicted", evicted))
			}
		}
	}

	if m.logger != nil {
		m.logger.Info("generation activated", slog.String("generation", string(gen)), slog.Bool("skip_waiting", skipped))
	}

	return nil
}

// sweep deletes all partitions outside the activated generation while
// holding the write side of the fill gate.
func (m *Manager) sweep(ctx context.Context, gen Generation) {
	m.gate.Lock()
	defer m.gate.Unlock()

	keep := map[string]struct{}{
		gen.StaticPartition(): {},
		gen.DataPartition():   {},
	}

	names, err := m.store.Partitions(ctx)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("listing partitions for sweep failed", slog.String("error", err.Error()))
		}

		return
	}

	for _, name := range names {
		if _, ok := keep[name]; ok {
			continue
		}

		if err := m.store.DeletePartition(ctx, name); err != nil {
			if m.logger != nil {
				m.logger.Warn("stale partition deletion failed", slog.String("partition", name), slog.String("error", err.Error()))
			}

			continue
		}

		if m.logger != nil {
			m.logger.Debug("stale partition deleted", slog.String("partition", name))
		}
	}
}

// persistCurrent writes the active generation pointer blob.
func (m *Manager) persistCurrent(ctx context.Context, gen Generation) error {
	data, err := codec.Default.Marshal(currentDoc{
		Active:      string(gen),
		ActivatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	return m.backend.Put(ctx, currentBlobName, data)
}

// Recover loads the persisted generation pointer and resumes serving that
// generation. It returns the empty generation without error when no pointer
// exists, i.e. on first start. Recover is only valid before any install or
// activation.
func (m *Manager) Recover(ctx context.Context) (Generation, error) {
	m.mu.Lock()
	if m.state != StateIdle {
		state := m.state
		m.mu.Unlock()
		return "", fmt.Errorf("recover requires idle state, currently %s", state)
	}
	m.mu.Unlock()

	data, err := m.backend.Get(ctx, currentBlobName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return "", nil
		}

		return "", fmt.Errorf("reading generation pointer: %w", err)
	}

	var doc currentDoc
	if err := codec.Default.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("decoding generation pointer: %w", err)
	}

	if doc.Active == "" {
		return "", fmt.Errorf("decoding generation pointer: empty generation")
	}

	gen := Generation(doc.Active)

	m.mu.Lock()
	m.current = gen
	m.state = StateActive
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("generation recovered", slog.String("generation", string(gen)), slog.Time("activated_at", doc.ActivatedAt))
	}

	return gen, nil
}
