// Package streak is the embeddable client for the Cadence habit core. App
// shells (mobile FFI bindings, the CLI) use it to mutate habits optimistically
// and let the background sync engine reconcile with the remote.
package streak

import (
	"time"

	"github.com/hyperengineering/cadence/internal/sync"
)

// Config configures a Client.
type Config struct {
	// LocalPath is the local database file path. Required.
	LocalPath string
	// RemoteURL is the remote habit API base URL. Empty implies OfflineMode.
	RemoteURL string
	// APIKey authenticates remote calls.
	APIKey string
	// OfflineMode disables all remote traffic; mutations queue locally.
	OfflineMode bool

	// RetryBase, MaxRetries and RetryJitter tune the backoff policy.
	// Zero values take the documented defaults (1s base, 3 retries).
	RetryBase   time.Duration
	MaxRetries  int
	RetryJitter time.Duration

	// ProbeInterval controls how often connectivity is probed.
	ProbeInterval time.Duration
	// RemoteTimeout bounds each dispatch call.
	RemoteTimeout time.Duration
}

// Status is a point-in-time snapshot of the sync engine.
type Status struct {
	State      sync.State `json:"state"`
	QueueDepth int        `json:"queue_depth"`
	Online     bool       `json:"online"`
	DeviceID   string     `json:"device_id"`
}

// StatusEvent re-exports the engine's status event for subscribers.
type StatusEvent = sync.StatusEvent
