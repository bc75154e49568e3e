package main

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"
)

func newWhichCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "which [version]",
		Short: "Print the path of an installed resolc binary",
		Long: "Print the path of the installed binary for the given version,\n" +
			"or for the default version when no version is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var version *semver.Version
			if len(args) == 1 {
				v, err := parseVersionArg(args[0])
				if err != nil {
					return err
				}
				version = v
			}

			mgr, err := newManager(cmd.Context(), opts)
			if err != nil {
				return err
			}

			path, err := mgr.Which(version)
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
}
