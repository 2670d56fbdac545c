package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/bridgeq/internal/inspect"
	"github.com/mattjoyce/bridgeq/internal/lock"
	"github.com/mattjoyce/bridgeq/internal/state"
	"github.com/mattjoyce/bridgeq/internal/storage"
	"github.com/mattjoyce/bridgeq/internal/tui/watch"
)

// openStore opens the state database named by --db or the configuration.
func openStore(cmd *cobra.Command, dbPath string) (*state.Store, func(), error) {
	if dbPath == "" {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return nil, nil, err
		}
		dbPath = cfg.State.Path
	}
	db, err := storage.OpenSQLite(cmd.Context(), dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}
	return state.NewStore(db), func() { _ = db.Close() }, nil
}

func newTokenCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored remote request token",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "Override state.path")

	set := &cobra.Command{
		Use:   "set <token|->",
		Short: "Replace the stored request token (- reads stdin)",
		Long: `The token rotates on every remote call, so this refuses to run while a
bridgeq server holds the database lock.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := args[0]
			if token == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				token = string(data)
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return fmt.Errorf("token is empty")
			}

			if dbPath == "" {
				cfg, _, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				dbPath = cfg.State.Path
			}
			l, err := lock.Acquire(lock.PathFor(dbPath))
			if err != nil {
				return fmt.Errorf("stop the server first: %w", err)
			}
			defer l.Release()

			store, closeDB, err := openStore(cmd, dbPath)
			if err != nil {
				return err
			}
			defer closeDB()
			if err := store.SetToken(cmd.Context(), token); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "request token stored")
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print a masked form of the stored request token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeDB, err := openStore(cmd, dbPath)
			if err != nil {
				return err
			}
			defer closeDB()
			token, err := store.Token(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), maskToken(token))
			return nil
		},
	}

	cmd.AddCommand(set, show)
	return cmd
}

func maskToken(token string) string {
	switch {
	case token == "":
		return "<none>"
	case len(token) <= 8:
		return strings.Repeat("*", len(token))
	default:
		return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
	}
}

func newHistoryCmd() *cobra.Command {
	var dbPath, bridge, taskID string
	var limit int
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Read the local submission history",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "Override state.path")
	cmd.PersistentFlags().StringVar(&bridge, "bridge", "", "Only this bridge")
	cmd.PersistentFlags().StringVar(&taskID, "task", "", "Only this remote task id")
	cmd.PersistentFlags().IntVar(&limit, "limit", state.DefaultHistoryLimit, "Maximum rows")
	cmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	list := &cobra.Command{
		Use:   "list",
		Short: "List recent submit attempts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeDB, err := openStore(cmd, dbPath)
			if err != nil {
				return err
			}
			defer closeDB()
			subs, err := store.Submissions(cmd.Context(), state.HistoryFilter{Bridge: bridge, TaskID: taskID, Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				data, err := json.MarshalIndent(subs, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			for _, s := range subs {
				status := s.Outcome
				if s.FinalStatus != "" {
					status += "/" + s.FinalStatus
				}
				fmt.Fprintf(out, "%s  %-16s %-12s %-24s p%d  %-20s %s\n",
					s.CreatedAt.Local().Format(time.DateTime), status, s.Bridge, s.Function, s.Priority, s.TaskID, s.Error)
			}
			return nil
		},
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize attempts for one bridge or task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeDB, err := openStore(cmd, dbPath)
			if err != nil {
				return err
			}
			defer closeDB()
			q := inspect.Query{Bridge: bridge, TaskID: taskID, Limit: limit}
			var report string
			if jsonOut {
				report, err = inspect.BuildJSONReport(cmd.Context(), store, q)
				report += "\n"
			} else {
				report, err = inspect.BuildReport(cmd.Context(), store, q)
			}
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), report)
			return err
		},
	}

	cmd.AddCommand(list, inspectCmd)
	return cmd
}

func newQueueCmd() *cobra.Command {
	var apiURL, apiKey string
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the queue of a running server",
	}
	cmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "bridgeq API URL")
	cmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API bearer token (default: $BRIDGEQ_API_KEY)")

	resolveKey := func() (string, error) {
		if apiKey == "" {
			apiKey = os.Getenv("BRIDGEQ_API_KEY")
		}
		if apiKey == "" {
			return "", fmt.Errorf("API key required; use --api-key or BRIDGEQ_API_KEY")
		}
		return apiKey, nil
	}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Live queue and event view",
		Long: `Keys: r retries the selected failed item, x removes it, c clears
finished items, q quits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := resolveKey()
			if err != nil {
				return err
			}
			p := tea.NewProgram(watch.New(apiURL, key), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("TUI error: %w", err)
			}
			return nil
		},
	}

	var jsonOut bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print the queue once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := resolveKey()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			q, err := watch.NewClient(apiURL, key).Queue(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				data, err := json.MarshalIndent(q, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			s := q.Stats
			fmt.Fprintf(out, "total=%d pending=%d submitting=%d submitted=%d failed=%d cancelled=%d\n",
				s.Total, s.Pending, s.Submitting, s.Submitted, s.Failed, s.Cancelled)
			for _, it := range q.Items {
				fmt.Fprintf(out, "%s  %-10s p%d  %-12s %-12s %s\n",
					it.ID, it.Status, it.Data.Priority, it.Data.Bridge, it.Data.Machine, it.Data.Function)
			}
			return nil
		},
	}
	listCmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	cmd.AddCommand(watchCmd, listCmd)
	return cmd
}
