package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
var ErrNotFound = errors.New("blob not found")

// Backend is an abstraction for storing cache blobs (entries, partition
// indexes, the current-generation pointer).
//
// Blob names are slash-separated paths; the first path element is the owning
// partition. Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the full content of a blob.
	Get(ctx context.Context, name string) ([]byte, error)
	// Put atomically replaces the content of a blob. A failed Put must not
	// leave a partially written blob visible to readers.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the names of all blobs under the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// PrefixDeleter is an optional interface for Backends that can drop an entire
// prefix in one operation (e.g. removing a partition directory). Callers fall
// back to List+Delete when it is not implemented.
type PrefixDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

// DeleteAll removes every blob under prefix, using DeletePrefix when the
// backend supports it.
func DeleteAll(ctx context.Context, b Backend, prefix string) error {
	if pd, ok := b.(PrefixDeleter); ok {
		return pd.DeletePrefix(ctx, prefix)
	}
	names, err := b.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := b.Delete(ctx, name); err != nil {
			return err
		}
	}
	return nil
}
