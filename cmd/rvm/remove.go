package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <version>",
		Short: "Uninstall a resolc version",
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

			if err := mgr.Remove(ctx, version); err != nil {
				return err
			}
			fmt.Printf("resolc v%s removed\n", version)
			return nil
		},
	}
}
