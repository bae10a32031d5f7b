package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/cadence/internal/config"
	"github.com/hyperengineering/cadence/internal/types"
	"github.com/hyperengineering/cadence/pkg/streak"
)

var (
	habitJSONOutput bool
	habitCadence    string
	habitNotes      string
	habitDay        string
	habitArchived   bool
)

var habitCmd = &cobra.Command{
	Use:   "habit",
	Short: "Manage habits",
	Long:  "Create, list, complete, and delete habits against the local database. Changes queue for sync; run the daemon or `cadence sync` to push them.",
}

func init() {
	habitCmd.PersistentFlags().BoolVar(&habitJSONOutput, "json", false,
		"Output in JSON format")

	habitAddCmd.Flags().StringVar(&habitCadence, "cadence", "daily",
		"Habit cadence (daily, weekly, ...)")
	habitAddCmd.Flags().StringVar(&habitNotes, "notes", "", "Free-form notes")
	habitDoneCmd.Flags().StringVar(&habitDay, "day", "",
		"Completion day (YYYY-MM-DD, default today)")
	habitListCmd.Flags().BoolVar(&habitArchived, "archived", false,
		"Include archived habits")

	habitCmd.AddCommand(habitAddCmd)
	habitCmd.AddCommand(habitListCmd)
	habitCmd.AddCommand(habitDoneCmd)
	habitCmd.AddCommand(habitRmCmd)
	habitCmd.AddCommand(habitRetryCmd)
}

// openClient opens the local database in offline mode: CLI subcommands never
// talk to the remote, they only enqueue. `cadence sync` does the pushing.
func openClient() (*streak.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return streak.New(streak.Config{
		LocalPath:   cfg.Database.Path,
		OfflineMode: true,
	})
}

var habitAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a habit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Shutdown()

		habit, err := client.CreateHabit(context.Background(), args[0], habitCadence, habitNotes)
		if err != nil {
			return err
		}

		if habitJSONOutput {
			return printJSON(os.Stdout, habit)
		}
		fmt.Printf("created habit %s (%s)\n", habit.Name, habit.ID)
		return nil
	},
}

var habitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List habits",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Shutdown()

		habits, err := client.Habits(context.Background(), habitArchived)
		if err != nil {
			return err
		}

		if habitJSONOutput {
			return printJSON(os.Stdout, habits)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCADENCE\tSYNC\tCREATED")
		for _, h := range habits {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				h.ID, h.Name, h.Cadence, h.SyncStatus,
				h.CreatedAt.Local().Format(time.DateOnly))
		}
		return w.Flush()
	},
}

var habitDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a habit done for a day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Shutdown()

		completion, err := client.CompleteHabit(context.Background(), args[0], habitDay)
		if err != nil {
			return err
		}

		if habitJSONOutput {
			return printJSON(os.Stdout, completion)
		}
		fmt.Printf("completed %s for %s\n", completion.HabitID, completion.Day)
		return nil
	},
}

var habitRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a habit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Shutdown()

		if err := client.DeleteHabit(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted habit %s (remote delete queued)\n", args[0])
		return nil
	},
}

var habitRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Re-enqueue a habit whose sync permanently failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Shutdown()

		if err := client.Retry(context.Background(), types.ResourceHabit, args[0]); err != nil {
			return err
		}
		fmt.Printf("requeued habit %s\n", args[0])
		return nil
	},
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
