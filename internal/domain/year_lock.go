package domain

import (
	"time"

	"github.com/google/uuid"
)

// YearLock marks a municipality's assessment year as closed for edits.
type YearLock struct {
	MunicipalityID uuid.UUID `json:"municipality_id"`
	Year           int       `json:"year"`
	LockedBy       string    `json:"locked_by"`
	Reason         string    `json:"reason,omitempty"`
	LockedAt       time.Time `json:"locked_at"`
}
