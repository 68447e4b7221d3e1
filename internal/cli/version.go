package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snaptrail/snaptrail/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "version: %s\n", version.Version)
			fmt.Fprintf(cmd.OutOrStdout(), "built  : %s\n", version.Date)
		},
	}
}
