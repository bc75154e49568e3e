// resolc is the wrapper executable that forwards invocations to the
// selected installed resolc binary.
//
// A leading +<version> argument overrides the store's default version
// for this invocation; all remaining arguments are forwarded unchanged
// and the child's exit code is propagated verbatim.
package main

import (
	"fmt"
	"os"

	"github.com/paritytech/rvm/internal/dispatch"
	"github.com/paritytech/rvm/internal/exitcode"
	"github.com/paritytech/rvm/internal/logging"
	"github.com/paritytech/rvm/internal/paths"
	"github.com/paritytech/rvm/internal/store"
)

func main() {
	logging.Setup(0)

	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolc: rvm: %v\n", err)
		os.Exit(exitcode.FromError(err))
	}
	os.Exit(code)
}

func run(args []string) (int, error) {
	dataDir, err := paths.DataDir()
	if err != nil {
		return 0, err
	}

	st, err := store.New(store.Config{Root: dataDir})
	if err != nil {
		return 0, err
	}

	return dispatch.New(st, nil).Run(args)
}
