// Package sync implements the offline-first sync engine: the drain loop over
// the durable operation queue, the retry policy, and the HTTP dispatcher
// that replays local mutations against the remote habit API.
package sync

import (
	"context"
	"time"

	"github.com/hyperengineering/cadence/internal/types"
)

// State is the engine's externally visible state.
type State string

const (
	// StateIdle means the queue is drained and the engine waits for work.
	StateIdle State = "idle"
	// StateDraining means the engine is dispatching queued operations.
	StateDraining State = "draining"
	// StateWaitingForRetry means a transient failure is waiting out its
	// backoff delay before the same operation is redispatched.
	StateWaitingForRetry State = "waiting_for_retry"
	// StateOffline means connectivity is down; the queue accumulates.
	StateOffline State = "offline"
)

// OutcomeKind classifies a dispatch result.
type OutcomeKind int

const (
	// OutcomeSuccess means the remote accepted the mutation.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeTransient means network/timeout/5xx; safe to retry.
	OutcomeTransient
	// OutcomePermanent means validation/4xx; retrying is pointless.
	OutcomePermanent
)

// ServerState is the canonical post-mutation representation returned by the
// remote, used for reconciliation (e.g. server-assigned ids on create).
type ServerState struct {
	ID        string     `json:"id"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Outcome is the interpreted result of one dispatch attempt.
type Outcome struct {
	Kind   OutcomeKind
	Server *ServerState
	Reason string
}

// Dispatcher translates one queued operation into exactly one remote call.
// remoteID is the server-assigned id of the target (empty until the create
// for that resource has synced).
type Dispatcher interface {
	Dispatch(ctx context.Context, op *types.Operation, remoteID string) Outcome
}

// StatusEvent is delivered to OnStatusChange callbacks on state transitions
// and terminal per-entity failures. Transient failures stay contained in the
// engine and never surface here.
type StatusEvent struct {
	State       State
	QueueDepth  int
	OperationID string
	Resource    types.ResourceType
	ResourceID  string
	Err         string
}
