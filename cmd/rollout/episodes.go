package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/cmadac/internal/storage"
)

var (
	listDSN   string
	listLimit int
)

var episodesCmd = &cobra.Command{
	Use:   "episodes",
	Short: "List persisted episodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := storage.NewSQLiteStore(listDSN)
		if err := store.Init(cmd.Context()); err != nil {
			return fmt.Errorf("open episode store: %w", err)
		}
		defer store.Close()

		list, err := store.ListEpisodes(cmd.Context(), listLimit)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tINSTANCE\tSTEPS\tBEST\tCREATED")
		for _, ep := range list {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%.6g\t%s\n", ep.ID, ep.Instance, ep.Steps, ep.BestObjective, ep.CreatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

func init() {
	episodesCmd.Flags().StringVar(&listDSN, "db", "file:data/cmadac.db", "SQLite DSN")
	episodesCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of episodes")
	rootCmd.AddCommand(episodesCmd)
}
