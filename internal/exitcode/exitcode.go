// Package exitcode maps error classes onto the stable process exit
// codes of the rvm and resolc binaries.
package exitcode

import (
	"errors"

	"github.com/paritytech/rvm/internal/fetch"
	"github.com/paritytech/rvm/internal/manager"
	"github.com/paritytech/rvm/internal/manifest"
	"github.com/paritytech/rvm/internal/platform"
	"github.com/paritytech/rvm/internal/store"
)

const (
	// OK is a successful invocation.
	OK = 0
	// Failure is an internal or unclassified error.
	Failure = 1
	// Resolution covers version/manifest/default-pointer resolution failures.
	Resolution = 2
	// Integrity is a digest mismatch on a downloaded artifact.
	Integrity = 3
	// Locked is store lock contention or timeout.
	Locked = 4
)

// FromError returns the exit code for an error. Exit codes forwarded
// from an underlying resolc invocation are handled by the dispatcher,
// not here.
func FromError(err error) int {
	if err == nil {
		return OK
	}

	var integrityErr *fetch.IntegrityError
	var solcErr *manifest.SolcCompatError

	switch {
	case errors.Is(err, manifest.ErrVersionNotFound),
		errors.Is(err, manifest.ErrUnavailable),
		errors.Is(err, manifest.ErrEmpty),
		errors.Is(err, store.ErrNotInstalled),
		errors.Is(err, store.ErrNoDefault),
		errors.Is(err, platform.ErrUnsupported),
		errors.Is(err, manager.ErrOfflineInstall),
		errors.As(err, &solcErr):
		return Resolution
	case errors.As(err, &integrityErr):
		return Integrity
	case errors.Is(err, store.ErrLocked):
		return Locked
	default:
		return Failure
	}
}
