package types

import "time"

// Operation payloads. These are what gets serialized into the sync queue and
// validated by the dispatcher before transmission.

// CreateHabitPayload carries the full habit body for a create operation.
type CreateHabitPayload struct {
	Name    string `json:"name"`
	Cadence string `json:"cadence,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// UpdateHabitPayload carries a patch plus the local edit timestamp used for
// last-writer-wins resolution on the server.
type UpdateHabitPayload struct {
	Patch     HabitPatch `json:"patch"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CompleteHabitPayload marks a habit done for one day.
type CompleteHabitPayload struct {
	HabitID string `json:"habit_id"`
	Day     string `json:"day"`
}
