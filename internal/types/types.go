package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncStatus tags a local entity with the state of its remote replica.
type SyncStatus string

const (
	// SyncPending means at least one queued operation references the entity.
	SyncPending SyncStatus = "pending"
	// SyncSynced means the last known remote state matches local state.
	SyncSynced SyncStatus = "synced"
	// SyncError means the last sync attempt permanently failed; the entity
	// keeps its local value and needs user-visible resolution.
	SyncError SyncStatus = "error"
)

// OperationKind identifies the mutation a queued operation carries.
// The set is closed; dispatch code matches it exhaustively and rejects
// anything else rather than silently ignoring it.
type OperationKind string

const (
	OpCreate   OperationKind = "create"
	OpUpdate   OperationKind = "update"
	OpDelete   OperationKind = "delete"
	OpComplete OperationKind = "complete"
)

// Valid reports whether k is a member of the closed kind set.
func (k OperationKind) Valid() bool {
	switch k {
	case OpCreate, OpUpdate, OpDelete, OpComplete:
		return true
	}
	return false
}

// ResourceType identifies the aggregate an operation targets.
type ResourceType string

const (
	ResourceHabit      ResourceType = "habit"
	ResourceCompletion ResourceType = "completion"
)

// Valid reports whether r is a known resource type.
func (r ResourceType) Valid() bool {
	return r == ResourceHabit || r == ResourceCompletion
}

// Operation is a durable description of one pending local mutation awaiting
// remote confirmation. The ID is a ULID, so creation order is recoverable
// from the ID alone.
type Operation struct {
	ID            string          `json:"id"`
	Kind          OperationKind   `json:"kind"`
	ResourceType  ResourceType    `json:"resource_type"`
	ResourceID    string          `json:"resource_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	RetryCount    int             `json:"retry_count"`
	InFlight      bool            `json:"in_flight"`
	CreatedAt     time.Time       `json:"created_at"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}

// Habit is the local shadow of a remote habit record.
type Habit struct {
	ID         string     `json:"id"`
	RemoteID   string     `json:"remote_id,omitempty"`
	Name       string     `json:"name"`
	Cadence    string     `json:"cadence,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	Archived   bool       `json:"archived"`
	SyncStatus SyncStatus `json:"sync_status"`
	SyncError  string     `json:"sync_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Completion records that a habit was done on a given day. The store
// enforces at most one completion per habit per day.
type Completion struct {
	ID         string     `json:"id"`
	RemoteID   string     `json:"remote_id,omitempty"`
	HabitID    string     `json:"habit_id"`
	Day        string     `json:"day"` // YYYY-MM-DD, local to the device
	SyncStatus SyncStatus `json:"sync_status"`
	SyncError  string     `json:"sync_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// HabitPatch carries the mutable habit fields for an update. Nil fields are
// left untouched.
type HabitPatch struct {
	Name     *string `json:"name,omitempty"`
	Cadence  *string `json:"cadence,omitempty"`
	Notes    *string `json:"notes,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p HabitPatch) Empty() bool {
	return p.Name == nil && p.Cadence == nil && p.Notes == nil && p.Archived == nil
}

// DayFormat is the wire and storage format for completion days.
const DayFormat = "2006-01-02"

// ParseDay validates a completion day string.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DayFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: %w", s, err)
	}
	return t, nil
}
