package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/aretw0/tapestry/pkg/ports"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage saved sessions",
	Long:  `List, inspect and remove saves in the configured store.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all saves",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store ports.SessionStore, _ *slog.Logger) error {
			keys, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				fmt.Fprintln(out, "No saves found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tPHASE\tTURNS\tFACTS\tCONTEXT")
			for _, key := range keys {
				s, err := store.Load(cmd.Context(), key)
				if err != nil {
					fmt.Fprintf(w, "%s\t%s\t-\t-\t%v\n", key, "unreadable", err)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", key, s.Phase(), len(s.Actions), len(s.Memory), preview(s.Context, 48))
			}
			return w.Flush()
		})
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <key>",
	Short: "Print a save as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store ports.SessionStore, _ *slog.Logger) error {
			s, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to load %q: %w", args[0], err)
			}
			data, err := json.MarshalIndent(s, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		})
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <key>...",
	Short: "Remove one or more saves",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store ports.SessionStore, _ *slog.Logger) error {
			var errs []error
			for _, key := range args {
				if err := store.Delete(cmd.Context(), key); err != nil {
					errs = append(errs, fmt.Errorf("failed to remove %q: %w", key, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed save '%s'\n", key)
			}
			return errors.Join(errs...)
		})
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionRmCmd)
}

// withStore opens the configured store for fn and closes it afterwards.
func withStore(cmd *cobra.Command, fn func(ports.SessionStore, *slog.Logger) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	res := &resources{}
	defer res.Close()

	store, err := openStore(cmd.Context(), cfg.Store, res)
	if err != nil {
		return err
	}
	return fn(store, newLogger(cfg))
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

