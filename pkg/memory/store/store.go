package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Protocol-Lattice/engram/pkg/memory/model"
)

// ErrNotFound is returned when an operation targets a memory id that does
// not exist or has been soft-deleted.
var ErrNotFound = errors.New("memory not found")

// ErrStore wraps every backend failure so callers can classify persistence
// errors without knowing the driver.
var ErrStore = errors.New("persistence")

// DedupResult reports the outcome of a dedup-or-insert write.
type DedupResult struct {
	// Reinforced is true when a near-duplicate absorbed the write.
	Reinforced bool
	// Memory is the winning row: the reinforced existing memory or the
	// freshly inserted one.
	Memory model.Memory
	// Similarity to the absorbing row; meaningful only when Reinforced.
	Similarity float64
}

// Store is the persistence port. All shared mutable state lives behind it;
// every method is its own transactional boundary.
type Store interface {
	// Insert persists a new memory and returns it with ID, CreatedAt and
	// LastAccessed assigned.
	Insert(ctx context.Context, mem model.Memory) (model.Memory, error)

	// InsertDedup looks for the nearest active neighbor of mem.Embedding
	// within the agent partition and, when its similarity exceeds
	// threshold, reinforces it instead of inserting. Lookup and
	// reinforce-or-insert happen in a single transaction.
	InsertDedup(ctx context.Context, mem model.Memory, threshold float64) (DedupResult, error)

	// Search returns up to limit active memories ordered by
	// similarity*retention descending (ties: created_at desc, id asc),
	// with Similarity and Retention populated. Rows below minRetention
	// are excluded when minRetention > 0.
	Search(ctx context.Context, agentID string, query []float32, limit int, minRetention float64, types []model.MemoryType) ([]model.Memory, error)

	// Get fetches active memories of the agent by id. Missing or deleted
	// ids are silently omitted.
	Get(ctx context.Context, agentID string, ids []uuid.UUID) ([]model.Memory, error)

	// CountActive reports how many of ids exist and are not deleted.
	CountActive(ctx context.Context, ids []uuid.UUID) (int, error)

	// Reinforce applies the spaced-repetition update to one memory:
	// bump access count, move last_accessed to now, raise stability by
	// the spacing bonus. Atomic per memory.
	Reinforce(ctx context.Context, id uuid.UUID) error

	// StrengthenLink upserts both directions of the association edge in
	// one transaction: absent edges start at the initial strength,
	// existing ones gain increment capped at 1.
	StrengthenLink(ctx context.Context, source, target uuid.UUID, increment float64) error

	// FetchAssociations returns at most limit distinct active memories
	// linked from sourceIDs with strength above strengthMin, excluding
	// the sources themselves. Each memory carries the strongest edge
	// that reached it; ordering is strength desc, then retention desc.
	FetchAssociations(ctx context.Context, sourceIDs []uuid.UUID, strengthMin float64, limit int) ([]model.Memory, error)

	// ScanBelowRetention lists active non-summary memories whose current
	// retention is below threshold, with Retention populated.
	ScanBelowRetention(ctx context.Context, agentID string, threshold float64) ([]model.Memory, error)

	// ScanPromotion lists active semantic memories whose stability and
	// access count exceed the given minima.
	ScanPromotion(ctx context.Context, agentID string, stabilityMin float64, accessMin int) ([]model.Memory, error)

	// SoftDeleteDormant tombstones active non-summary memories whose
	// retention fell below retentionCutoff and that have not been
	// accessed for dormantFor. Returns the number of rows swept.
	SoftDeleteDormant(ctx context.Context, agentID string, retentionCutoff float64, dormantFor time.Duration) (int64, error)

	// MarkSummarized flags the given memories as absorbed by a gist.
	MarkSummarized(ctx context.Context, ids []uuid.UUID) error

	// Close releases backend resources.
	Close() error
}

// SchemaInitializer is implemented by stores that can bootstrap their own
// schema (tables, indexes, server-side routines).
type SchemaInitializer interface {
	CreateSchema(ctx context.Context) error
}
