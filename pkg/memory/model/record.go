package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MemoryType categorizes what kind of knowledge a memory holds.
type MemoryType string

const (
	// Episodic memories record particular events.
	Episodic MemoryType = "episodic"
	// Semantic memories hold distilled facts.
	Semantic MemoryType = "semantic"
	// Procedural memories capture how-to knowledge.
	Procedural MemoryType = "procedural"
)

// Valid reports whether t is one of the recognized memory types.
func (t MemoryType) Valid() bool {
	switch t {
	case Episodic, Semantic, Procedural:
		return true
	}
	return false
}

// MaxAgentIDLen bounds the opaque agent identifier.
const MaxAgentIDLen = 50

// Memory is the fundamental unit of the store. Content and embedding are
// immutable after write; LastAccessed, AccessCount and Stability move only
// through reinforcement, IsSummary and IsDeleted only through consolidation.
type Memory struct {
	ID            uuid.UUID   `json:"id"`
	AgentID       string      `json:"agent_id"`
	Content       string      `json:"content"`
	Embedding     []float32   `json:"-"`
	Type          MemoryType  `json:"memory_type"`
	Topics        []string    `json:"topics"`
	Importance    float64     `json:"importance"`
	Stability     float64     `json:"stability"`
	CreatedAt     time.Time   `json:"created_at"`
	EventDate     *time.Time  `json:"event_date,omitempty"`
	ExpiresAt     *time.Time  `json:"expires_at,omitempty"`
	LastAccessed  time.Time   `json:"last_accessed"`
	AccessCount   int         `json:"access_count"`
	SourceChannel string      `json:"source_channel,omitempty"`
	SourceSession string      `json:"source_session,omitempty"`
	IsSummary     bool        `json:"is_summary,omitempty"`
	Summarizes    []uuid.UUID `json:"summarizes,omitempty"`
	IsDeleted     bool        `json:"-"`

	// Query-scoped scores. Filled by retrieval, never persisted.
	Similarity   float64 `json:"similarity,omitempty"`
	Retention    float64 `json:"retention,omitempty"`
	LinkStrength float64 `json:"link_strength,omitempty"`
}

// Validate checks the record-level invariants that do not need store access.
func (m Memory) Validate() error {
	if m.AgentID == "" {
		return fmt.Errorf("%w: agent_id is required", ErrInvariant)
	}
	if len(m.AgentID) > MaxAgentIDLen {
		return fmt.Errorf("%w: agent_id exceeds %d chars", ErrInvariant, MaxAgentIDLen)
	}
	if m.Content == "" {
		return fmt.Errorf("%w: content is required", ErrInvariant)
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: unknown memory type %q", ErrInvariant, m.Type)
	}
	if m.Importance < 0 || m.Importance > 1 {
		return fmt.Errorf("%w: importance %v outside [0,1]", ErrInvariant, m.Importance)
	}
	if m.Stability < 0 || m.Stability > 1 {
		return fmt.Errorf("%w: stability %v outside [0,1]", ErrInvariant, m.Stability)
	}
	return nil
}
