// rvm is the resolc version manager CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/paritytech/rvm/internal/exitcode"
	"github.com/paritytech/rvm/internal/logging"
	"github.com/paritytech/rvm/internal/manager"
	"github.com/paritytech/rvm/internal/paths"
	"github.com/paritytech/rvm/internal/platform"
)

// Version is set at build time via -ldflags.
var Version = "dev"

type rootOptions struct {
	offline   bool
	verbosity int
}

func main() {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "rvm",
		Short:         "resolc version manager",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(opts.verbosity)
		},
	}

	root.PersistentFlags().BoolVar(&opts.offline, "offline", false, "run in offline mode (use the cached release manifest)")
	root.PersistentFlags().CountVarP(&opts.verbosity, "verbose", "v", "increase log verbosity (repeatable)")

	root.AddCommand(
		newInstallCmd(opts),
		newRemoveCmd(opts),
		newUseCmd(opts),
		newWhichCmd(opts),
		newListCmd(opts),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rvm: error: %v\n", err)
		os.Exit(exitcode.FromError(err))
	}
}

// newManager builds the manager shared by all subcommands.
func newManager(ctx context.Context, opts *rootOptions) (*manager.Manager, error) {
	dataDir, err := paths.DataDir()
	if err != nil {
		return nil, err
	}

	info, err := platform.NewDetector().Detect(ctx)
	if err != nil {
		return nil, err
	}

	return manager.New(manager.Config{
		DataDir:  dataDir,
		Platform: info,
		Offline:  opts.offline,
	})
}

// parseVersionArg parses an exact version CLI argument.
func parseVersionArg(arg string) (*semver.Version, error) {
	v, err := semver.NewVersion(arg)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", arg, err)
	}
	return v, nil
}

// parseSolcFlag parses the optional --solc filter.
func parseSolcFlag(value string) (*semver.Version, error) {
	if value == "" {
		return nil, nil
	}
	v, err := semver.NewVersion(value)
	if err != nil {
		return nil, fmt.Errorf("invalid solc version %q: %w", value, err)
	}
	return v, nil
}
