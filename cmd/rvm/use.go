package main

import (
	"errors"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/paritytech/rvm/internal/manifest"
	"github.com/paritytech/rvm/internal/store"
)

func newUseCmd(opts *rootOptions) *cobra.Command {
	var install bool

	cmd := &cobra.Command{
		Use:   "use <version>",
		Short: "Set the default resolc version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			version, err := parseVersionArg(args[0])
			if err != nil {
				return err
			}

			mgr, err := newManager(ctx, opts)
			if err != nil {
				return err
			}

			err = mgr.SetDefault(ctx, version)
			if install && errors.Is(err, store.ErrNotInstalled) {
				spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Downloading and installing resolc v%s", version))
				if _, err := mgr.Install(ctx, manifest.Request{Version: version}); err != nil {
					if spinner != nil {
						spinner.Fail(fmt.Sprintf("Failed to install resolc v%s", version))
					}
					return err
				}
				if spinner != nil {
					spinner.Success(fmt.Sprintf("resolc v%s installed", version))
				}
				err = mgr.SetDefault(ctx, version)
			}
			if err != nil {
				return err
			}

			fmt.Printf("resolc v%s is now the default\n", version)
			return nil
		},
	}

	cmd.Flags().BoolVar(&install, "install", false, "install the version first if it is missing")

	return cmd
}
