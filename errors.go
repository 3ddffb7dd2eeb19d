package edgecache

import (
	"errors"
	"fmt"

	"github.com/hupe1980/edgecache/cachestore"
	"github.com/hupe1980/edgecache/control"
	"github.com/hupe1980/edgecache/fetch"
	"github.com/hupe1980/edgecache/lifecycle"
)

var (
	// ErrNetwork indicates the network fetch itself failed (no connectivity,
	// refused, timed out). It is the sentinel wrapped by all transport failures.
	ErrNetwork = fetch.ErrNetwork

	// ErrStorage indicates the cache backend rejected a read or write.
	ErrStorage = cachestore.ErrStorage

	// ErrClosed is returned when an operation is attempted on a closed worker.
	ErrClosed = errors.New("worker closed")
)

// ManifestSeedError indicates one asset of the install manifest could not be
// fetched or stored. The install is aborted and the partially seeded
// generation is discarded.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ManifestSeedError struct {
	Asset string
	cause error
}

func (e *ManifestSeedError) Error() string {
	return fmt.Sprintf("manifest seed failed for %q", e.Asset)
}

func (e *ManifestSeedError) Unwrap() error { return e.cause }

// UnsupportedMessageError indicates an unrecognized control-message type.
// The message was acknowledged and otherwise ignored; the error is
// informational, never fatal.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type UnsupportedMessageError struct {
	Type  string
	cause error
}

func (e *UnsupportedMessageError) Error() string {
	return fmt.Sprintf("unsupported message type %q", e.Type)
}

func (e *UnsupportedMessageError) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var se *lifecycle.SeedError
	if errors.As(err, &se) {
		return &ManifestSeedError{Asset: se.Asset, cause: err}
	}

	var ue *control.UnsupportedMessageError
	if errors.As(err, &ue) {
		return &UnsupportedMessageError{Type: ue.Type, cause: err}
	}

	return err
}
