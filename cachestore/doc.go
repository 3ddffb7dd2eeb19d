// Package cachestore implements the partitioned response cache.
//
// A Store keeps versioned partitions (e.g. "v3-static") of cached responses
// over a pluggable blobstore.Backend. Each entry is one self-describing blob
// (codec name and compression type in the header); each partition carries an
// index blob with the insertion-ordered key list that backs bounded,
// oldest-first eviction. A roaring bitmap of key hashes short-circuits
// definite misses without touching storage.
//
// Operations are individually atomic. There are no cross-entry transactions;
// generation-level consistency is the lifecycle manager's job.
package cachestore
