package main

import (
	"fmt"

	"github.com/aretw0/tapestry"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of tapestry",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tapestry version %s\n", tapestry.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
