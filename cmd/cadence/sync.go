package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/cadence/internal/config"
	"github.com/hyperengineering/cadence/pkg/streak"
)

var syncTimeout time.Duration

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the sync queue once",
	Long:  "Connects to the remote, replays queued mutations in order, and exits when the queue is empty or the timeout expires.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Sync.Offline {
			return fmt.Errorf("sync.offline is set; nothing to push")
		}

		client, err := streak.New(streak.Config{
			LocalPath:     cfg.Database.Path,
			RemoteURL:     cfg.Remote.BaseURL,
			APIKey:        cfg.Remote.APIKey,
			RetryBase:     time.Duration(cfg.Sync.RetryBase),
			MaxRetries:    cfg.Sync.MaxRetries,
			RetryJitter:   time.Duration(cfg.Sync.RetryJitter),
			ProbeInterval: time.Second,
			RemoteTimeout: time.Duration(cfg.Remote.Timeout),
		})
		if err != nil {
			return err
		}
		defer client.Shutdown()

		if err := client.Initialize(); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()

		client.TriggerSync()
		if err := client.WaitForDrain(ctx); err != nil {
			status, statusErr := client.Status(context.Background())
			if statusErr == nil {
				return fmt.Errorf("sync incomplete: %d operations still queued (state %s): %w",
					status.QueueDepth, status.State, err)
			}
			return err
		}

		fmt.Println("sync complete")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.Shutdown()

		status, err := client.Status(context.Background())
		if err != nil {
			return err
		}

		return printJSON(os.Stdout, status)
	},
}

func init() {
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 2*time.Minute,
		"Give up after this long")
}
