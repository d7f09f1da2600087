package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/Protocol-Lattice/engram/pkg/memory/model"
)

// Actions reported by the write path.
const (
	ActionCreated    = "created"
	ActionReinforced = "reinforced"
)

// StoreRequest carries one memory write.
type StoreRequest struct {
	AgentID string
	Content string
	// Type defaults to episodic.
	Type model.MemoryType
	// Importance overrides scoring when set; nil means default 0.5 or,
	// with AutoScoreImportance, an LLM-assigned score.
	Importance    *float64
	Topics        []string
	EventDate     *time.Time
	ExpiresAt     *time.Time
	SourceChannel string
	SourceSession string
	// Summarizes marks this write as a consolidation gist absorbing the
	// listed memories.
	Summarizes []uuid.UUID

	SkipDedup           bool
	AutoScoreImportance bool
	AutoExtractTopics   bool
}

// StoreResult reports what the write path did.
type StoreResult struct {
	Action          string    `json:"action"`
	ID              uuid.UUID `json:"id"`
	CreatedAt       time.Time `json:"created_at,omitzero"`
	ExistingContent string    `json:"existing_content,omitempty"`
	Similarity      float64   `json:"similarity,omitempty"`
}

// RetrieveRequest carries one query.
type RetrieveRequest struct {
	AgentID string
	Query   string
	// Limit defaults to the engine's DefaultLimit.
	Limit int
	// MinRetention defaults to the engine's MinRetention; pass a
	// negative value to disable the retention floor.
	MinRetention        float64
	IncludeAssociations bool
	Types               []model.MemoryType
}

// RetrieveResult bundles ranked memories with associatively linked
// neighbors.
type RetrieveResult struct {
	Memories         []model.Memory `json:"memories"`
	Associations     []model.Memory `json:"associations"`
	Query            string         `json:"query"`
	RetrievedCount   int            `json:"retrieved_count"`
	AssociationCount int            `json:"association_count"`
}

// ConsolidateOptions tunes a single consolidation pass.
type ConsolidateOptions struct {
	// CompressionThreshold overrides the engine default when positive.
	CompressionThreshold int
}

// DecayedMemory is one fading memory recorded by the consolidator.
type DecayedMemory struct {
	ID        uuid.UUID `json:"id"`
	Content   string    `json:"content"`
	Retention float64   `json:"retention"`
}

// CompressedGroup records one topic cluster absorbed into a gist.
type CompressedGroup struct {
	Topic       string      `json:"topic"`
	Count       int         `json:"count"`
	SummaryID   uuid.UUID   `json:"summary_id"`
	OriginalIDs []uuid.UUID `json:"original_ids"`
}

// PromotionCandidate is a stable, frequently-accessed memory surfaced for
// external long-term storage. The consolidator never mutates these.
type PromotionCandidate struct {
	ID          uuid.UUID `json:"id"`
	Content     string    `json:"content"`
	Stability   float64   `json:"stability"`
	AccessCount int       `json:"access_count"`
}

// ConsolidateReport is the outcome of one consolidation pass.
type ConsolidateReport struct {
	Decayed             []DecayedMemory      `json:"decayed"`
	Compressed          []CompressedGroup    `json:"compressed"`
	PromotionCandidates []PromotionCandidate `json:"promotion_candidates"`
	SoftDeleted         int64                `json:"soft_deleted"`
}
