// Package dispatch selects the resolc version for an invocation and
// hands execution to the installed binary.
//
// Dispatching is a two-state machine: SelectVersion picks the version
// from a leading +<version> override or the store's default pointer,
// then Exec runs the resolved binary with the remaining arguments
// unchanged. The Executor is injectable so exit-code propagation is
// testable without spawning real processes.
package dispatch

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/paritytech/rvm/internal/logging"
	"github.com/paritytech/rvm/internal/store"
)

// Executor runs the selected binary with the forwarded arguments and
// returns its exit code. Implementations may replace the current
// process, in which case they never return on success.
type Executor interface {
	Exec(binPath string, args []string) (int, error)
}

// Dispatcher forwards invocations to the selected resolc binary.
type Dispatcher struct {
	store    *store.Store
	executor Executor
}

// New creates a dispatcher backed by the given store. A nil executor
// selects the platform default (process replacement on unix).
func New(st *store.Store, executor Executor) *Dispatcher {
	if executor == nil {
		executor = defaultExecutor()
	}
	return &Dispatcher{store: st, executor: executor}
}

// ParseOverride consumes a leading +<version> pseudo-argument. The
// returned args slice has the override removed; all other arguments are
// left untouched.
func ParseOverride(args []string) (*semver.Version, []string, error) {
	if len(args) == 0 || !strings.HasPrefix(args[0], "+") {
		return nil, args, nil
	}

	spec := strings.TrimPrefix(args[0], "+")
	version, err := semver.NewVersion(spec)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid version override %q: %w", args[0], err)
	}
	return version, args[1:], nil
}

// Run selects the version for this invocation and executes it,
// returning the child's exit code. Selection failures surface as errors
// and never fall back to an arbitrary installed version.
func (d *Dispatcher) Run(args []string) (int, error) {
	log := logging.Logger("dispatch")

	// SelectVersion
	override, rest, err := ParseOverride(args)
	if err != nil {
		return 0, err
	}

	binPath, err := d.store.ResolveBinary(override)
	if err != nil {
		return 0, err
	}

	if override != nil {
		log.Debug().Str("version", override.String()).Str("binary", binPath).Msg("using version override")
	} else {
		log.Debug().Str("binary", binPath).Msg("using default version")
	}

	// Exec
	code, err := d.executor.Exec(binPath, rest)
	if err != nil {
		return 0, fmt.Errorf("execute %s: %w", binPath, err)
	}
	return code, nil
}
