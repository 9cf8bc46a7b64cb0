package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const serialarbVersion = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show serialarb version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "serialarb version %s\n", serialarbVersion)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
