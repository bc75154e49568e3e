package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/paritytech/rvm/internal/manifest"
)

func newInstallCmd(opts *rootOptions) *cobra.Command {
	var setDefault bool
	var solcFlag string

	cmd := &cobra.Command{
		Use:   "install <version|latest>",
		Short: "Install a resolc version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			req, err := manifest.ParseRequest(args[0])
			if err != nil {
				return err
			}
			req.Solc, err = parseSolcFlag(solcFlag)
			if err != nil {
				return err
			}

			mgr, err := newManager(ctx, opts)
			if err != nil {
				return err
			}

			spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Downloading and installing resolc %s", args[0]))
			installed, err := mgr.Install(ctx, req)
			if err != nil {
				if spinner != nil {
					spinner.Fail(fmt.Sprintf("Failed to install resolc %s", args[0]))
				}
				return err
			}
			if spinner != nil {
				spinner.Success(fmt.Sprintf("resolc v%s installed", installed.Version))
			}

			if setDefault {
				if err := mgr.SetDefault(ctx, installed.Version); err != nil {
					return err
				}
				fmt.Printf("resolc v%s is now the default\n", installed.Version)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&setDefault, "set-default", false, "use the installed version as the default")
	cmd.Flags().StringVar(&solcFlag, "solc", "", "require compatibility with this solc version")

	return cmd
}
