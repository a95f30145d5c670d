package main

import (
	"fmt"
	"log/slog"

	"github.com/aretw0/tapestry/internal/export"
	"github.com/aretw0/tapestry/pkg/ports"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every save as a readable story",
	Long: `Renders each save in the configured store as <slug-of-context>.txt: the
premise followed by every action and result.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		return withStore(cmd, func(store ports.SessionStore, logger *slog.Logger) error {
			written, err := export.New(store, out, export.WithLogger(logger)).Run(cmd.Context())
			for _, path := range written {
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", path)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stories formatted! (%d)\n", len(written))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().String("out", ".tapestry/formatted", "Directory for the transcripts")
}
