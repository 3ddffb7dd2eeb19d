package edgecache

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hupe1980/edgecache/background"
	"github.com/hupe1980/edgecache/blobstore"
	"github.com/hupe1980/edgecache/cachestore"
	"github.com/hupe1980/edgecache/client"
	"github.com/hupe1980/edgecache/codec"
	"github.com/hupe1980/edgecache/fetch"
)

type options struct {
	backend          blobstore.Backend
	cacheDir         string
	version          string
	manifest         []string
	dataPrefixes     []string
	stableHosts      []string
	maxEntries       int
	seedConcurrency  int
	fillConcurrency  int
	poolWorkers      int
	compression      cachestore.CompressionType
	codec            codec.Codec
	fetcher          fetch.Fetcher
	notifier         background.Notifier
	opener           client.OpenFunc
	baseURL          string
	pageURL          string
	dataURL          string
	iconURL          string
	updateInterval   time.Duration
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures Worker constructor behavior.
//
// Today options primarily exist to avoid exploding the API surface
// (e.g. backend-specific constructor variants).
type Option func(*options)

// WithBackend configures the blob backend the cache persists to.
// Takes precedence over WithCacheDir. Defaults to an in-memory backend.
func WithBackend(b blobstore.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithCacheDir configures a local file backend rooted at dir.
// Ignored when WithBackend is set.
func WithCacheDir(dir string) Option {
	return func(o *options) {
		o.cacheDir = dir
	}
}

// WithVersion configures the generation tag installed by HandleInstall
// (e.g. "v42"). Defaults to "v1".
func WithVersion(tag string) Option {
	return func(o *options) {
		o.version = tag
	}
}

// WithManifest configures the asset manifest seeded into each new
// generation's static partition at install time. Every asset must fetch
// successfully or the install is aborted (all-or-nothing).
func WithManifest(urls []string) Option {
	return func(o *options) {
		o.manifest = urls
	}
}

// WithDataPrefixes configures URL path prefixes routed network-only
// (live data namespaces, never cached).
func WithDataPrefixes(prefixes []string) Option {
	return func(o *options) {
		o.dataPrefixes = prefixes
	}
}

// WithStableHosts configures host substrings routed cache-first
// (stable asset origins).
func WithStableHosts(hosts []string) Option {
	return func(o *options) {
		o.stableHosts = hosts
	}
}

// WithMaxEntries bounds the static partition entry count. When the bound
// is exceeded, the oldest-inserted entries are evicted first.
// Zero disables the bound.
func WithMaxEntries(n int) Option {
	return func(o *options) {
		o.maxEntries = n
	}
}

// WithSeedConcurrency configures how many manifest assets are fetched in
// parallel during install.
func WithSeedConcurrency(n int) Option {
	return func(o *options) {
		o.seedConcurrency = n
	}
}

// WithFillConcurrency configures how many URLs a CACHE_URLS message
// fetches in parallel.
func WithFillConcurrency(n int) Option {
	return func(o *options) {
		o.fillConcurrency = n
	}
}

// WithPoolWorkers configures the size of the shared task pool running
// background tasks and control mutations. Defaults to GOMAXPROCS.
func WithPoolWorkers(n int) Option {
	return func(o *options) {
		o.poolWorkers = n
	}
}

// WithCompression sets the compression for cached entry bodies.
// Defaults to zstd; incompressible bodies are stored raw either way.
func WithCompression(t cachestore.CompressionType) Option {
	return func(o *options) {
		o.compression = t
	}
}

// WithCodec configures the codec used for entry metadata and control
// payloads.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithFetcher configures the transport used for all network fetches.
// Defaults to an HTTP fetcher over http.DefaultClient.
func WithFetcher(f fetch.Fetcher) Option {
	return func(o *options) {
		o.fetcher = f
	}
}

// WithHTTPClient configures an HTTP fetcher over the given client.
// Convenience wrapper for WithFetcher(fetch.NewHTTPFetcher(c)).
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.fetcher = fetch.NewHTTPFetcher(c)
	}
}

// WithNotifier configures the surface user-visible notifications are
// raised on. Defaults to a logging no-op notifier.
func WithNotifier(n background.Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// WithOpener configures how a page is opened when a notification is
// clicked and no client window exists to focus.
func WithOpener(open client.OpenFunc) Option {
	return func(o *options) {
		o.opener = open
	}
}

// WithBaseURL configures the base used to resolve relative CACHE_URLS
// entries.
func WithBaseURL(rawURL string) Option {
	return func(o *options) {
		o.baseURL = rawURL
	}
}

// WithPageURL configures the page opened or focused when a notification's
// open action is clicked.
func WithPageURL(rawURL string) Option {
	return func(o *options) {
		o.pageURL = rawURL
	}
}

// WithDataURL configures the dataset URL fetched by the sync-data and
// update-data tasks.
func WithDataURL(rawURL string) Option {
	return func(o *options) {
		o.dataURL = rawURL
	}
}

// WithIcon configures the default notification icon URL.
func WithIcon(rawURL string) Option {
	return func(o *options) {
		o.iconURL = rawURL
	}
}

// WithUpdateInterval configures the minimum interval between update-data
// origin checks. Firings inside the interval are skipped, so an aggressive
// host scheduler cannot hammer the origin. Defaults to one minute.
func WithUpdateInterval(d time.Duration) Option {
	return func(o *options) {
		o.updateInterval = d
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &edgecache.BasicMetricsCollector{}
//	w, _ := edgecache.New(edgecache.WithMetricsCollector(metrics))
//	// ... use w ...
//	stats := metrics.GetStats()
//	fmt.Printf("Fetches: %d, Avg latency: %dns\n", stats.FetchCount, stats.FetchAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := edgecache.NewJSONLogger(slog.LevelInfo)
//	w, _ := edgecache.New(edgecache.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		version:          "v1",
		compression:      cachestore.CompressionZSTD,
		codec:            codec.Default,
		updateInterval:   time.Minute,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
