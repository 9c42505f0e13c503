package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sxngo/sxngo/internal/sessionstore"
)

var dbPath string

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage the session catalog",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the sessions database (default: <home>/.sxn/sessions.db)")

	cmd.AddCommand(sessionsCreateCmd())
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsShowCmd())
	cmd.AddCommand(sessionsSearchCmd())
	cmd.AddCommand(sessionsStatsCmd())

	return cmd
}

func openStore() (*sessionstore.Store, error) {
	store, err := sessionstore.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return store, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sessionsCreateCmd() *cobra.Command {
	var (
		description string
		linearTask  string
		tags        []string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			sess, err := store.Create(args[0], sessionstore.Session{
				Description: description,
				LinearTask:  linearTask,
				Tags:        tags,
			})
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			return printJSON(cmd, sess)
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "human-readable session description")
	cmd.Flags().StringVar(&linearTask, "linear-task", "", "linked issue-tracker task id")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag to attach to the session (repeatable)")
	return cmd
}

func sessionsListCmd() *cobra.Command {
	var (
		status string
		tag    string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.List(sessionstore.ListOpts{
				Filters: sessionstore.ListFilters{Status: sessionstore.Status(status), Tag: tag},
				Limit:   limit,
				Offset:  offset,
			})
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			return printJSON(cmd, sessions)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (active|inactive|archived)")
	cmd.Flags().StringVar(&tag, "tag", "", "filter by tag")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	cmd.Flags().IntVar(&offset, "offset", 0, "result offset")
	return cmd
}

func sessionsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a session by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			sess, err := store.GetByName(args[0])
			if err != nil {
				return fmt.Errorf("get session: %w", err)
			}
			return printJSON(cmd, sess)
		},
	}
	return cmd
}

func sessionsSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank sessions by name/description/tag match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			results, err := store.Search(args[0], sessionstore.ListFilters{}, limit)
			if err != nil {
				return fmt.Errorf("search sessions: %w", err)
			}
			return printJSON(cmd, results)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	return cmd
}

func sessionsStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show catalog-wide statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Statistics()
			if err != nil {
				return fmt.Errorf("compute statistics: %w", err)
			}
			return printJSON(cmd, stats)
		},
	}
	return cmd
}
