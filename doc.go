// Package edgecache provides an embedded offline-first cache worker for Go.
//
// Edgecache sits between an application and the network, the way a service
// worker sits between a page and its origin: requests are classified into
// caching strategies, static assets are versioned into cache generations
// with an install/activate lifecycle, and the host application steers the
// worker through control messages and background tasks.
//
// # Quick Start
//
//	ctx := context.Background()
//	w, _ := edgecache.New(
//	    edgecache.WithCacheDir("./cache"),
//	    edgecache.WithVersion("v42"),
//	    edgecache.WithManifest([]string{
//	        "https://app.example.com/",
//	        "https://app.example.com/app.css",
//	    }),
//	    edgecache.WithStableHosts([]string{"cdn.example.com"}),
//	    edgecache.WithDataPrefixes([]string{"/api/"}),
//	)
//	defer w.Close()
//
//	_ = w.HandleInstall(ctx)  // seed v42 (all-or-nothing)
//	_ = w.HandleActivate(ctx) // promote v42, sweep stale generations
//
//	req, _ := fetch.NewRequest("https://cdn.example.com/logo.svg")
//	resp, _ := w.HandleFetch(ctx, req) // cache-first: fills on first miss
//
// # Strategies
//
// Classification is a pure function of the request URL (first match wins):
//
//   - data namespace (configured path prefixes, *.json): network-only,
//     offline page on failure
//   - stable hosts (configured substrings): cache-first, lazily filled
//   - everything else: network-only
//
// Network-first is available as a reusable primitive for custom rules.
//
// # Lifecycle
//
// Each install seeds a fresh generation ("v42-static", "v42-data") from the
// asset manifest; one failed asset aborts the whole install. Activation
// promotes the waiting generation, deletes every other partition and claims
// connected clients. A SKIP_WAITING control message bypasses the client
// drain. The current generation survives restarts via a persisted pointer
// (see Recover).
//
// # Control Messages
//
//	SKIP_WAITING  force immediate activation
//	CACHE_URLS    bulk-fill URLs into the static partition (best effort)
//	CLEAR_CACHE   delete every partition
//
// Every well-formed message is answered with exactly one ACK once the
// mutation is enqueued.
//
// # Background Tasks
//
// The built-in "sync-data" task fetches the configured dataset once and
// broadcasts it to connected clients; "update-data" runs a rate-limited
// conditional check against the origin and raises a fixed-tag notification
// when content changed. Push events and notification clicks run on the same
// observable task pool.
//
// # Key Features
//
//   - Versioned cache generations with all-or-nothing manifest seeding
//   - Pluggable blob backends (local files, memory, S3, MinIO)
//   - Compressed entry bodies (zstd/LZ4, raw fallback)
//   - Deduplicated concurrent cache fills (singleflight)
//   - Observable task handles for every asynchronous mutation
//   - Structured logging (log/slog) and pluggable metrics
package edgecache
