package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kalambet/opconsole/internal/config"
	"github.com/kalambet/opconsole/internal/storage"
)

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the local journal of operator actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		actions, err := store.RecentActions(limit)
		if err != nil {
			return err
		}
		if wantJSON() {
			return writeJSON(cmd.Context(), cmd.OutOrStdout(), actions)
		}

		w := cmd.OutOrStdout()
		if len(actions) == 0 {
			fmt.Fprintln(w, "No actions recorded.")
			return nil
		}
		for _, a := range actions {
			outcome := colorize(colorGreen, "ok")
			if !a.OK {
				outcome = colorize(colorRed, "failed")
			}
			fmt.Fprintf(w, "%s  %-8s %-24s %s", formatTime(a.CreatedAt), a.Kind, a.Target, outcome)
			if a.Detail != "" {
				fmt.Fprintf(w, "  %s", truncate(a.Detail, 80))
			}
			fmt.Fprintln(w)
		}
		return nil
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop all but the newest journaled requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetInt("keep")
		if keep < 0 {
			return fmt.Errorf("--keep must not be negative")
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.PruneTurns(keep)
		if err != nil {
			return err
		}
		printSuccess("Pruned %d requests", n)
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of actions")
	historyPruneCmd.Flags().Int("keep", 200, "number of requests to keep")
	historyCmd.AddCommand(historyPruneCmd)
}

// openStore opens the journal without contacting the backend.
func openStore() (*storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}
