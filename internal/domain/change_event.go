package domain

import (
	"time"

	"github.com/google/uuid"
)

// Change types detected by reconciliation.
const (
	ChangeTypeAdded   = "added"
	ChangeTypeUpdated = "updated"
	ChangeTypeRemoved = "removed"
)

// ChangeEvent is a durable record of one detected add/update/remove
// transition. Append-only; corrections are new events, never mutations.
type ChangeEvent struct {
	ID         uuid.UUID  `json:"id"`
	UniqueID   string     `json:"unique_id"`
	ChangeType string     `json:"change_type"`
	ChangeDate time.Time  `json:"change_date"`
	Delta      FieldDelta `json:"delta,omitempty"`
	Summary    string     `json:"summary"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NewChangeEvent creates an event for the given transition. Delta may be
// nil for added/removed events.
func NewChangeEvent(uniqueID, changeType string, changeDate time.Time, delta FieldDelta, summary string) ChangeEvent {
	if delta == nil {
		delta = FieldDelta{}
	}
	return ChangeEvent{
		ID:         uuid.New(),
		UniqueID:   uniqueID,
		ChangeType: changeType,
		ChangeDate: changeDate,
		Delta:      delta,
		Summary:    summary,
		CreatedAt:  time.Now(),
	}
}

// ChangeFilter selects change events for listing.
type ChangeFilter struct {
	UniqueID   string
	ChangeType string
	Since      *time.Time
	Until      *time.Time
}
