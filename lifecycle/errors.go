package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrInstallInProgress is returned when Install is called while another
	// install is still seeding.
	ErrInstallInProgress = errors.New("install already in progress")

	// ErrNotWaiting is returned when Activate is called without a seeded
	// generation waiting for promotion.
	ErrNotWaiting = errors.New("no installed generation waiting to activate")

	// ErrActivateInProgress is returned when Install is called while an
	// activation sweep is still running.
	ErrActivateInProgress = errors.New("activation in progress")

	// ErrNoActiveGeneration is returned by GuardFill when nothing has been
	// activated yet.
	ErrNoActiveGeneration = errors.New("no active generation")

	// ErrInvalidGeneration is returned for an empty or malformed generation
	// tag.
	ErrInvalidGeneration = errors.New("invalid generation")
)

// SeedError reports the first manifest asset that could not be cached during
// an install. The partially seeded generation has already been discarded when
// this error is returned.
type SeedError struct {
	// Asset is the manifest URL that failed.
	Asset string

	cause error
}

// Error implements the error interface.
func (e *SeedError) Error() string {
	return fmt.Sprintf("manifest seed failed for %q: %v", e.Asset, e.cause)
}

// Unwrap returns the underlying cause of the seed failure.
func (e *SeedError) Unwrap() error {
	return e.cause
}
