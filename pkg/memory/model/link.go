package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLinkType is the edge kind used for plain associations.
	DefaultLinkType = "association"
	// InitialLinkStrength is assigned on first co-occurrence. First
	// co-occurrence is already evidence of association, hence 0.5
	// rather than a single increment.
	InitialLinkStrength = 0.5
	// DefaultLinkIncrement is added on every subsequent strengthening.
	DefaultLinkIncrement = 0.1
)

// Link is one directed half of a symmetric associative edge. Every logical
// association is stored as two rows whose strengths move in lockstep.
type Link struct {
	SourceID  uuid.UUID `json:"source_id"`
	TargetID  uuid.UUID `json:"target_id"`
	Strength  float64   `json:"strength"`
	LinkType  string    `json:"link_type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
