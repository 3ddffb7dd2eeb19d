// Package blobstore provides storage abstraction for edgecache's partitions.
//
// Backend is the interface for reading and writing cache blobs (entries,
// partition indexes, generation pointers). Implementations must be safe for
// concurrent use.
//
// # Built-in Implementations
//
//   - LocalBackend: local filesystem with atomic temp-file + rename writes
//   - MemoryBackend: in-memory map, for tests and ephemeral workers
//   - s3.Backend: Amazon S3 with managed uploads and paginated listing
//   - minio.Backend: MinIO and other S3-compatible object stores
//
// # Custom Implementations
//
// Implement the Backend interface to support custom storage:
//
//	type Backend interface {
//	    Get(ctx, name) ([]byte, error)    // full content
//	    Put(ctx, name, data) error        // atomic replace
//	    Delete(ctx, name) error           // missing blob is not an error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Backends that can remove a whole partition at once should also implement
// PrefixDeleter; generation cleanup uses it when available.
package blobstore
