package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/loqalabs/loqa-bouyomi/internal/config"
	"github.com/loqalabs/loqa-bouyomi/internal/eventstore"
	"github.com/spf13/cobra"
)

const historyTextWidth = 40

func newHistoryCmd(a *app) *cobra.Command {
	var (
		dbPath string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List commands recorded by loqa-bouyomid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := dbPath
			if path == "" {
				path = a.cfg.EventStore.Path
			}
			// Retention is left to the daemon; reading never prunes.
			store, err := eventstore.Open(cmd.Context(), config.EventStoreConfig{Path: path, RetentionMode: "persistent"}, a.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			commands, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tCOMMAND\tOUTCOME\tTEXT\tERROR")
			for _, c := range commands {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					humanize.Time(c.CreatedAt), c.Name, c.Outcome, truncate(c.Text, historyTextWidth), c.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "command history database (default from config)")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of commands to show")
	return cmd
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
