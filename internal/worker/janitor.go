package worker

import (
	"context"
	"log/slog"
	"time"
)

// JanitorQueue is the queue surface the janitor needs.
type JanitorQueue interface {
	PruneOrphans(ctx context.Context) (int64, error)
	Depth(ctx context.Context) (int, error)
}

// Janitor periodically prunes queued operations whose entity row no longer
// exists and logs queue depth for operability.
type Janitor struct {
	queue    JanitorQueue
	interval time.Duration
}

// NewJanitor creates a janitor worker.
func NewJanitor(queue JanitorQueue, interval time.Duration) *Janitor {
	return &Janitor{queue: queue, interval: interval}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Sweep immediately on start, then on each tick
	j.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	pruned, err := j.queue.PruneOrphans(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("failed to prune orphaned operations",
			"error", err,
			"component", "worker",
		)
		return
	}

	depth, err := j.queue.Depth(ctx)
	if err != nil {
		return
	}

	if pruned > 0 {
		slog.Info("pruned orphaned operations",
			"action", "janitor_sweep",
			"pruned", pruned,
			"queue_depth", depth,
			"component", "worker",
		)
	}
}
