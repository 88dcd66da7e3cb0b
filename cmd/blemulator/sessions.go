package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-blemulator/internal/bridges/blesim"
	"github.com/nerrad567/gray-logic-blemulator/internal/infrastructure/config"
)

// sessionsOptions are the flags of the sessions command.
type sessionsOptions struct {
	*globalOptions
	limit  int
	asJSON bool
}

func newSessionsCommand(global *globalOptions) *cobra.Command {
	opts := &sessionsOptions{globalOptions: global}

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded traffic sessions",
		Example: `blemulator sessions
blemulator sessions --limit 5 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			db, err := openDatabase(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			sessions, err := blesim.ListSessions(cmd.Context(), db.DB, opts.limit)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeSessionsJSON(cmd.OutOrStdout(), sessions)
			}
			return writeSessionsTable(cmd.OutOrStdout(), sessions)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "maximum number of sessions to list")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print sessions as JSON")

	cmd.AddCommand(newPruneCommand(global))

	return cmd
}

func newPruneCommand(global *globalOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:     "prune",
		Short:   "Delete sessions idle for longer than a given age",
		Example: `blemulator sessions prune --older-than 168h`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			cfg, err := config.Load(global.configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			db, err := openDatabase(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			pruned, err := blesim.PruneSessions(cmd.Context(), db.DB, time.Now().Add(-olderThan), "")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d sessions\n", pruned)
			return err
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 14*24*time.Hour, "minimum idle age of pruned sessions")

	return cmd
}

func writeSessionsJSON(w io.Writer, sessions []blesim.SessionSummary) error {
	if sessions == nil {
		sessions = []blesim.SessionSummary{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sessions)
}

func writeSessionsTable(w io.Writer, sessions []blesim.SessionSummary) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "no recorded sessions")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tADAPTER\tSTARTED\tDURATION\tMESSAGES")
	for _, s := range sessions {
		duration := "running"
		if s.EndedAt != nil {
			duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			s.ID, s.AdapterID, s.StartedAt.Format(time.RFC3339), duration, s.MessageCount)
	}
	return tw.Flush()
}
