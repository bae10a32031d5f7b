package streak

import (
	"context"
	"errors"
	stdsync "sync"
	"time"

	"github.com/hyperengineering/cadence/internal/netmon"
	"github.com/hyperengineering/cadence/internal/store"
	enginesync "github.com/hyperengineering/cadence/internal/sync"
	"github.com/hyperengineering/cadence/internal/types"
)

// ErrClosed is returned from calls made after Shutdown.
var ErrClosed = errors.New("client is closed")

// Client bundles the local store, connectivity monitor and sync engine into
// one lifecycle. Mutations apply locally at once and queue for the engine;
// reads never touch the network.
type Client struct {
	config  Config
	store   *store.SQLiteStore
	engine  *enginesync.Engine
	monitor netmon.Monitor
	probe   *netmon.ProbeMonitor

	mu     stdsync.RWMutex
	closed bool
	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// New creates a new Client. The database is opened immediately; background
// goroutines start on Initialize.
func New(config Config) (*Client, error) {
	if config.LocalPath == "" {
		return nil, errors.New("LocalPath is required")
	}

	if config.RetryBase == 0 {
		config.RetryBase = time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.ProbeInterval == 0 {
		config.ProbeInterval = 15 * time.Second
	}
	if config.RemoteURL == "" {
		config.OfflineMode = true
	}

	st, err := store.NewSQLiteStore(config.LocalPath)
	if err != nil {
		return nil, err
	}

	c := &Client{config: config, store: st}

	if config.OfflineMode {
		c.monitor = netmon.NewStaticMonitor(false)
	} else {
		c.probe = netmon.NewProbeMonitor(
			config.RemoteURL+"/api/v1/health",
			config.ProbeInterval,
			0,
		)
		c.monitor = c.probe
	}

	dispatcher := enginesync.NewHTTPDispatcher(
		config.RemoteURL,
		config.APIKey,
		st.DeviceID(),
		config.RemoteTimeout,
	)
	policy := enginesync.RetryPolicy{
		Base:       config.RetryBase,
		MaxRetries: config.MaxRetries,
		Jitter:     config.RetryJitter,
	}
	c.engine = enginesync.New(st, st, dispatcher, policy, c.monitor, enginesync.NewClock())

	return c, nil
}

// Initialize starts the connectivity probe and the sync engine.
func (c *Client) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	if c.probe != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.probe.Run(ctx)
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.engine.Run(ctx)
	}()

	return nil
}

// Shutdown stops background goroutines and closes the database. Queued
// operations stay on disk and resume on the next Initialize.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}

	return c.store.Close()
}

// CreateHabit creates a habit locally and queues its remote create.
func (c *Client) CreateHabit(ctx context.Context, name, cadence, notes string) (*types.Habit, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	h, err := c.store.CreateHabit(ctx, name, cadence, notes)
	if err != nil {
		return nil, err
	}
	c.engine.TriggerSync()
	return h, nil
}

// UpdateHabit patches a habit locally and queues its remote update.
func (c *Client) UpdateHabit(ctx context.Context, id string, patch types.HabitPatch) (*types.Habit, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	h, err := c.store.UpdateHabit(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	c.engine.TriggerSync()
	return h, nil
}

// DeleteHabit removes a habit locally and queues its remote delete.
func (c *Client) DeleteHabit(ctx context.Context, id string) error {
	if err := c.check(); err != nil {
		return err
	}
	if err := c.store.DeleteHabit(ctx, id); err != nil {
		return err
	}
	c.engine.TriggerSync()
	return nil
}

// CompleteHabit records a completion for the given day (empty = today).
func (c *Client) CompleteHabit(ctx context.Context, habitID, day string) (*types.Completion, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if day == "" {
		day = time.Now().Format(types.DayFormat)
	}
	comp, err := c.store.CompleteHabit(ctx, habitID, day)
	if err != nil {
		return nil, err
	}
	c.engine.TriggerSync()
	return comp, nil
}

// Habits lists local habit shadows.
func (c *Client) Habits(ctx context.Context, includeArchived bool) ([]types.Habit, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.store.ListHabits(ctx, includeArchived)
}

// GetHabit returns one habit shadow.
func (c *Client) GetHabit(ctx context.Context, id string) (*types.Habit, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.store.GetHabit(ctx, id)
}

// Completions lists recent completions for a habit.
func (c *Client) Completions(ctx context.Context, habitID string, limit int) ([]types.Completion, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.store.ListCompletions(ctx, habitID, limit)
}

// Retry re-enqueues an entity whose sync permanently failed.
func (c *Client) Retry(ctx context.Context, resource types.ResourceType, id string) error {
	if err := c.check(); err != nil {
		return err
	}
	if err := c.store.ReEnqueue(ctx, resource, id); err != nil {
		return err
	}
	c.engine.TriggerSync()
	return nil
}

// TriggerSync asks the engine to drain. Idempotent.
func (c *Client) TriggerSync() {
	if c.check() == nil {
		c.engine.TriggerSync()
	}
}

// OnStatusChange registers a callback for engine status events.
func (c *Client) OnStatusChange(fn func(StatusEvent)) {
	c.engine.OnStatusChange(fn)
}

// Status returns a snapshot of the engine and queue.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	depth, err := c.engine.QueueDepth(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		State:      c.engine.State(),
		QueueDepth: depth,
		Online:     c.monitor.Online(),
		DeviceID:   c.store.DeviceID(),
	}, nil
}

// WaitForDrain blocks until the queue is empty and the engine is idle, or
// ctx expires. Useful for one-shot `cadence sync` style invocations.
func (c *Client) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		status, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if status.QueueDepth == 0 && status.State == enginesync.StateIdle {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Store exposes the underlying store for in-process embedding (the daemon
// wires the control API straight to it).
func (c *Client) Store() *store.SQLiteStore {
	return c.store
}

// Engine exposes the sync engine for in-process embedding.
func (c *Client) Engine() *enginesync.Engine {
	return c.engine
}

func (c *Client) check() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}
