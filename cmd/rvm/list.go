package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd(opts *rootOptions) *cobra.Command {
	var solcFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed and available resolc versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			solc, err := parseSolcFlag(solcFlag)
			if err != nil {
				return err
			}

			mgr, err := newManager(ctx, opts)
			if err != nil {
				return err
			}

			entries, err := mgr.List(ctx, solc)
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Println("no resolc versions installed or available")
				return nil
			}

			for _, e := range entries {
				marker := " "
				state := "available"
				if e.Installed {
					state = "installed"
				}
				if e.Default {
					marker = "*"
				}
				line := fmt.Sprintf("%s %-18s %s", marker, "v"+e.Version.String(), state)
				if e.SolcRange != "" {
					line += fmt.Sprintf("  (solc %s)", e.SolcRange)
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&solcFlag, "solc", "", "only show versions compatible with this solc version")

	return cmd
}
