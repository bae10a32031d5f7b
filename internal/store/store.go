package store

import (
	"context"
	"time"

	"github.com/hyperengineering/cadence/internal/types"
)

// Store is the full surface consumed by the API layer and the client SDK.
// Every mutation writes the entity and its queued operation in a single
// transaction, so a mutation reported as saved is always queued.
type Store interface {
	Mutator
	Reader
	Queue
	Reconciler

	DeviceID() string
	Path() string
	Checkpoint(ctx context.Context) error
	Close() error
}

// Mutator covers the application-driven optimistic mutations.
type Mutator interface {
	CreateHabit(ctx context.Context, name, cadence, notes string) (*types.Habit, error)
	UpdateHabit(ctx context.Context, id string, patch types.HabitPatch) (*types.Habit, error)
	DeleteHabit(ctx context.Context, id string) error
	CompleteHabit(ctx context.Context, habitID, day string) (*types.Completion, error)

	// ReEnqueue requeues a fresh operation for an entity whose last sync
	// attempt permanently failed. Returns ErrNotInError otherwise.
	ReEnqueue(ctx context.Context, resource types.ResourceType, id string) error
}

// Reader covers read access to local shadows.
type Reader interface {
	GetHabit(ctx context.Context, id string) (*types.Habit, error)
	ListHabits(ctx context.Context, includeArchived bool) ([]types.Habit, error)
	ListCompletions(ctx context.Context, habitID string, limit int) ([]types.Completion, error)
}

// Queue is the durable operation queue consumed by the sync engine.
type Queue interface {
	// PeekNext returns the oldest operation not currently in flight, or
	// (nil, nil) when the queue is drained.
	PeekNext(ctx context.Context) (*types.Operation, error)
	MarkInFlight(ctx context.Context, id string) error
	ClearInFlight(ctx context.Context, id string) error
	// Remove permanently deletes an operation. Used only after a terminal
	// success or terminal failure.
	Remove(ctx context.Context, id string) error
	IncrementRetry(ctx context.Context, id string, attemptAt time.Time, cause string) error
	Depth(ctx context.Context) (int, error)
	// ResetInFlight clears all in-flight flags. Called on store open so an
	// operation stranded by a crash is redispatched.
	ResetInFlight(ctx context.Context) (int64, error)
	// PruneOrphans removes queued operations whose entity row no longer
	// exists. Returns the number removed.
	PruneOrphans(ctx context.Context) (int64, error)
}

// Reconciler is the engine-only surface for aligning local shadows with
// server-confirmed state. Only the sync engine transitions sync_status once
// an operation is queued.
type Reconciler interface {
	// MarkSynced reconciles an entity after the given operation kind was
	// confirmed remotely. A confirmed habit delete hard-removes the local
	// row; every other confirmation merges server state in.
	MarkSynced(ctx context.Context, kind types.OperationKind, resource types.ResourceType, id, remoteID string, serverUpdatedAt *time.Time) error
	MarkSyncError(ctx context.Context, resource types.ResourceType, id, cause string) error
	RemoteID(ctx context.Context, resource types.ResourceType, id string) (string, error)
}

var _ Store = (*SQLiteStore)(nil)
