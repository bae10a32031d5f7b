package sync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/cadence/internal/store"
	"github.com/hyperengineering/cadence/internal/types"
)

// Connectivity is the boolean connectivity signal the engine consumes.
// Subscriptions are edge-triggered: a value arrives only on transitions.
type Connectivity interface {
	Online() bool
	Subscribe() <-chan bool
	Unsubscribe(<-chan bool)
}

// Engine owns the drain loop. It pulls operations from the queue one at a
// time, dispatches them, applies the retry policy on failure, and reconciles
// local shadows on terminal outcomes. It is the only writer of sync_status
// once an operation is queued.
type Engine struct {
	queue      store.Queue
	recon      store.Reconciler
	dispatcher Dispatcher
	policy     RetryPolicy
	net        Connectivity
	clock      Clock

	mu        sync.Mutex
	state     State
	callbacks []func(StatusEvent)

	trigger chan struct{}
}

// New creates an engine. All collaborators are injected; pass NewClock() for
// production use.
func New(queue store.Queue, recon store.Reconciler, dispatcher Dispatcher, policy RetryPolicy, net Connectivity, clock Clock) *Engine {
	return &Engine{
		queue:      queue,
		recon:      recon,
		dispatcher: dispatcher,
		policy:     policy,
		net:        net,
		clock:      clock,
		state:      StateIdle,
		trigger:    make(chan struct{}, 1),
	}
}

// TriggerSync asks the engine to drain. Idempotent: a no-op when a drain is
// already pending or running.
func (e *Engine) TriggerSync() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// QueueDepth returns the number of queued operations.
func (e *Engine) QueueDepth(ctx context.Context) (int, error) {
	return e.queue.Depth(ctx)
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// OnStatusChange registers a callback invoked on state transitions and
// terminal per-entity failures. Callbacks run on the drain goroutine and
// must not block.
func (e *Engine) OnStatusChange(fn func(StatusEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, fn)
}

// Run starts the drain loop. Blocks until ctx is cancelled. A single Run per
// engine is assumed; no two operations are ever dispatched concurrently.
func (e *Engine) Run(ctx context.Context) {
	online := e.net.Subscribe()
	defer e.net.Unsubscribe(online)

	if e.net.Online() {
		e.TriggerSync()
	} else {
		e.setState(ctx, StateOffline)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case on := <-online:
			if on {
				e.drain(ctx, online)
			} else {
				e.setState(ctx, StateOffline)
			}
		case <-e.trigger:
			if e.net.Online() {
				e.drain(ctx, online)
			} else {
				e.setState(ctx, StateOffline)
			}
		}
	}
}

// drain processes the queue head-first until it is empty, connectivity drops,
// or ctx is cancelled.
func (e *Engine) drain(ctx context.Context, online <-chan bool) {
	e.setState(ctx, StateDraining)

	for {
		if ctx.Err() != nil {
			return
		}
		if !e.net.Online() {
			e.setState(ctx, StateOffline)
			return
		}

		op, err := e.queue.PeekNext(ctx)
		if err != nil {
			slog.Error("failed to peek sync queue",
				"error", err,
				"component", "sync",
			)
			e.setState(ctx, StateIdle)
			return
		}
		if op == nil {
			e.setState(ctx, StateIdle)
			return
		}

		if !e.process(ctx, online, op) {
			return
		}
		e.setState(ctx, StateDraining)
	}
}

// process dispatches one operation and handles its outcome. Returns false
// when draining must stop (offline or cancelled).
func (e *Engine) process(ctx context.Context, online <-chan bool, op *types.Operation) bool {
	remoteID, err := e.recon.RemoteID(ctx, op.ResourceType, op.ResourceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Entity row is gone (e.g. habit hard-deleted after a confirmed
			// remote delete); the operation has nothing left to apply.
			e.removeOp(ctx, op.ID)
			return true
		}
		// Retrying immediately would spin against the same store error;
		// stop draining and wait for the next trigger.
		slog.Error("failed to resolve remote id",
			"operation_id", op.ID,
			"error", err,
			"component", "sync",
		)
		e.setState(ctx, StateIdle)
		return false
	}

	if err := e.queue.MarkInFlight(ctx, op.ID); err != nil {
		slog.Error("failed to mark operation in flight",
			"operation_id", op.ID,
			"error", err,
			"component", "sync",
		)
		e.setState(ctx, StateIdle)
		return false
	}

	outcome := e.dispatcher.Dispatch(ctx, op, remoteID)

	// The outcome is always processed, even if connectivity dropped while
	// the call was outstanding; dropping it would corrupt retry bookkeeping.
	if err := e.queue.ClearInFlight(ctx, op.ID); err != nil {
		slog.Error("failed to clear in-flight flag",
			"operation_id", op.ID,
			"error", err,
			"component", "sync",
		)
	}

	switch outcome.Kind {
	case OutcomeSuccess:
		e.reconcileSuccess(ctx, op, outcome)
		return true

	case OutcomePermanent:
		e.failPermanently(ctx, op, outcome.Reason)
		return true

	case OutcomeTransient:
		return e.handleTransient(ctx, online, op, outcome.Reason)

	default:
		e.failPermanently(ctx, op, "unrecognized dispatch outcome")
		return true
	}
}

func (e *Engine) reconcileSuccess(ctx context.Context, op *types.Operation, outcome Outcome) {
	var remoteID string
	var serverUpdatedAt *time.Time
	if outcome.Server != nil {
		remoteID = outcome.Server.ID
		serverUpdatedAt = outcome.Server.UpdatedAt
	}

	if err := e.recon.MarkSynced(ctx, op.Kind, op.ResourceType, op.ResourceID, remoteID, serverUpdatedAt); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("failed to reconcile entity after success",
			"operation_id", op.ID,
			"resource_id", op.ResourceID,
			"error", err,
			"component", "sync",
		)
	}
	e.removeOp(ctx, op.ID)

	slog.Info("operation synced",
		"operation_id", op.ID,
		"kind", op.Kind,
		"resource_id", op.ResourceID,
		"component", "sync",
	)
}

// failPermanently marks the entity errored and removes the operation from
// future redelivery. One bad operation must not block the rest of the queue.
func (e *Engine) failPermanently(ctx context.Context, op *types.Operation, reason string) {
	if err := e.recon.MarkSyncError(ctx, op.ResourceType, op.ResourceID, reason); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("failed to mark entity errored",
			"operation_id", op.ID,
			"resource_id", op.ResourceID,
			"error", err,
			"component", "sync",
		)
	}
	e.removeOp(ctx, op.ID)

	slog.Warn("operation permanently failed",
		"operation_id", op.ID,
		"kind", op.Kind,
		"resource_id", op.ResourceID,
		"reason", reason,
		"component", "sync",
	)

	e.emit(ctx, StatusEvent{
		State:       StateDraining,
		OperationID: op.ID,
		Resource:    op.ResourceType,
		ResourceID:  op.ResourceID,
		Err:         reason,
	})
}

// handleTransient applies the retry policy: either the operation is
// exhausted and fails terminally, or the engine waits out the backoff and
// redispatches. Returns false when draining must stop.
func (e *Engine) handleTransient(ctx context.Context, online <-chan bool, op *types.Operation, reason string) bool {
	if e.policy.IsExhausted(op.RetryCount) {
		e.failPermanently(ctx, op, "retries exhausted: "+reason)
		return true
	}

	delay := e.policy.Delay(op.RetryCount)
	if err := e.queue.IncrementRetry(ctx, op.ID, e.clock.Now(), reason); err != nil {
		slog.Error("failed to record retry",
			"operation_id", op.ID,
			"error", err,
			"component", "sync",
		)
		return true
	}

	slog.Warn("transient dispatch failure, backing off",
		"operation_id", op.ID,
		"kind", op.Kind,
		"retry_count", op.RetryCount+1,
		"delay", delay,
		"reason", reason,
		"component", "sync",
	)

	e.setState(ctx, StateWaitingForRetry)
	timer := e.clock.After(delay)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer:
			// Redispatch the same operation: it is still the queue head.
			return true
		case on := <-online:
			if !on {
				// Going offline discards the timer, not the operation.
				e.setState(ctx, StateOffline)
				return false
			}
		}
	}
}

func (e *Engine) removeOp(ctx context.Context, id string) {
	if err := e.queue.Remove(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("failed to remove operation",
			"operation_id", id,
			"error", err,
			"component", "sync",
		)
	}
}

func (e *Engine) setState(ctx context.Context, s State) {
	e.mu.Lock()
	changed := e.state != s
	e.state = s
	e.mu.Unlock()

	if changed {
		e.emit(ctx, StatusEvent{State: s})
	}
}

func (e *Engine) emit(ctx context.Context, ev StatusEvent) {
	if depth, err := e.queue.Depth(ctx); err == nil {
		ev.QueueDepth = depth
	}

	e.mu.Lock()
	callbacks := make([]func(StatusEvent), len(e.callbacks))
	copy(callbacks, e.callbacks)
	e.mu.Unlock()

	for _, fn := range callbacks {
		fn(ev)
	}
}
