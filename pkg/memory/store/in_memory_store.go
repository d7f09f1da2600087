package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Protocol-Lattice/engram/pkg/memory/model"
)

// InMemoryStore implements Store for tests and lightweight deployments. The
// retention and reinforcement math is shared with the Postgres routines
// through the model package, so both backends decay identically.
type InMemoryStore struct {
	mu      sync.RWMutex
	dim     int
	clock   func() time.Time
	records map[uuid.UUID]model.Memory
	links   map[[2]uuid.UUID]model.Link
}

func NewInMemoryStore(dim int) *InMemoryStore {
	return &InMemoryStore{
		dim:     dim,
		clock:   time.Now,
		records: make(map[uuid.UUID]model.Memory),
		links:   make(map[[2]uuid.UUID]model.Link),
	}
}

// WithClock overrides the time source. Tests use this to age memories.
func (s *InMemoryStore) WithClock(clock func() time.Time) *InMemoryStore {
	if clock != nil {
		s.clock = clock
	}
	return s
}

func (s *InMemoryStore) Insert(_ context.Context, mem model.Memory) (model.Memory, error) {
	if err := s.checkDim(mem.Embedding); err != nil {
		return model.Memory{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(mem), nil
}

func (s *InMemoryStore) insertLocked(mem model.Memory) model.Memory {
	now := s.clock().UTC()
	mem.ID = uuid.New()
	mem.CreatedAt = now
	mem.LastAccessed = now
	if mem.Stability == 0 {
		mem.Stability = model.InitialStability
	}
	if mem.Topics == nil {
		mem.Topics = []string{}
	}
	mem.Embedding = append([]float32(nil), mem.Embedding...)
	s.records[mem.ID] = mem
	return mem
}

func (s *InMemoryStore) InsertDedup(_ context.Context, mem model.Memory, threshold float64) (DedupResult, error) {
	if err := s.checkDim(mem.Embedding); err != nil {
		return DedupResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		bestID  uuid.UUID
		bestSim float64
		found   bool
	)
	for id, rec := range s.records {
		if rec.AgentID != mem.AgentID || rec.IsDeleted {
			continue
		}
		sim := model.CosineSimilarity(mem.Embedding, rec.Embedding)
		if sim > threshold && (!found || sim > bestSim) {
			bestID, bestSim, found = id, sim, true
		}
	}
	if found {
		s.reinforceLocked(bestID)
		winner := s.records[bestID]
		winner.Retention = s.retentionOf(winner)
		return DedupResult{Reinforced: true, Memory: winner, Similarity: bestSim}, nil
	}
	return DedupResult{Memory: s.insertLocked(mem)}, nil
}

func (s *InMemoryStore) Search(_ context.Context, agentID string, query []float32, limit int, minRetention float64, types []model.MemoryType) ([]model.Memory, error) {
	if err := s.checkDim(query); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		return nil, nil
	}

	var matches []model.Memory
	for _, rec := range s.records {
		if rec.AgentID != agentID || rec.IsDeleted || !typeAllowed(rec.Type, types) {
			continue
		}
		rec.Retention = s.retentionOf(rec)
		if minRetention > 0 && rec.Retention < minRetention {
			continue
		}
		rec.Similarity = model.CosineSimilarity(query, rec.Embedding)
		matches = append(matches, rec)
	}
	sort.Slice(matches, func(i, j int) bool {
		ki := matches[i].Similarity * matches[i].Retention
		kj := matches[j].Similarity * matches[j].Retention
		if ki != kj {
			return ki > kj
		}
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID.String() < matches[j].ID.String()
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *InMemoryStore) Get(_ context.Context, agentID string, ids []uuid.UUID) ([]model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Memory
	for _, id := range ids {
		rec, ok := s.records[id]
		if !ok || rec.IsDeleted || rec.AgentID != agentID {
			continue
		}
		rec.Retention = s.retentionOf(rec)
		out = append(out, rec)
	}
	return out, nil
}

func (s *InMemoryStore) CountActive(_ context.Context, ids []uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, id := range ids {
		if rec, ok := s.records[id]; ok && !rec.IsDeleted {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) Reinforce(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.IsDeleted {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.reinforceLocked(id)
	return nil
}

func (s *InMemoryStore) reinforceLocked(id uuid.UUID) {
	rec := s.records[id]
	now := s.clock().UTC()
	rec.Stability = model.ReinforcedStability(rec.Stability, rec.LastAccessed, now)
	rec.LastAccessed = now
	rec.AccessCount++
	s.records[id] = rec
}

func (s *InMemoryStore) StrengthenLink(_ context.Context, source, target uuid.UUID, increment float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()
	for _, pair := range [][2]uuid.UUID{{source, target}, {target, source}} {
		link, ok := s.links[pair]
		if !ok {
			link = model.Link{
				SourceID:  pair[0],
				TargetID:  pair[1],
				Strength:  model.InitialLinkStrength,
				LinkType:  model.DefaultLinkType,
				CreatedAt: now,
			}
		} else {
			link.Strength = model.Clamp(link.Strength+increment, 0, 1)
		}
		link.UpdatedAt = now
		s.links[pair] = link
	}
	return nil
}

func (s *InMemoryStore) FetchAssociations(_ context.Context, sourceIDs []uuid.UUID, strengthMin float64, limit int) ([]model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sources := make(map[uuid.UUID]bool, len(sourceIDs))
	for _, id := range sourceIDs {
		sources[id] = true
	}
	// Strongest edge wins when several sources reach the same memory.
	best := make(map[uuid.UUID]float64)
	for pair, link := range s.links {
		if !sources[pair[0]] || sources[pair[1]] || link.Strength <= strengthMin {
			continue
		}
		target, ok := s.records[pair[1]]
		if !ok || target.IsDeleted {
			continue
		}
		if link.Strength > best[pair[1]] {
			best[pair[1]] = link.Strength
		}
	}

	var out []model.Memory
	for id, strength := range best {
		rec := s.records[id]
		rec.LinkStrength = strength
		rec.Retention = s.retentionOf(rec)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LinkStrength != out[j].LinkStrength {
			return out[i].LinkStrength > out[j].LinkStrength
		}
		return out[i].Retention > out[j].Retention
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) ScanBelowRetention(_ context.Context, agentID string, threshold float64) ([]model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Memory
	for _, rec := range s.records {
		if rec.AgentID != agentID || rec.IsDeleted || rec.IsSummary {
			continue
		}
		rec.Retention = s.retentionOf(rec)
		if rec.Retention < threshold {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) ScanPromotion(_ context.Context, agentID string, stabilityMin float64, accessMin int) ([]model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Memory
	for _, rec := range s.records {
		if rec.AgentID != agentID || rec.IsDeleted || rec.Type != model.Semantic {
			continue
		}
		if rec.Stability > stabilityMin && rec.AccessCount > accessMin {
			rec.Retention = s.retentionOf(rec)
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) SoftDeleteDormant(_ context.Context, agentID string, retentionCutoff float64, dormantFor time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()
	var swept int64
	for id, rec := range s.records {
		if rec.AgentID != agentID || rec.IsDeleted || rec.IsSummary {
			continue
		}
		if s.retentionOf(rec) < retentionCutoff && rec.LastAccessed.Before(now.Add(-dormantFor)) {
			rec.IsDeleted = true
			s.records[id] = rec
			swept++
		}
	}
	return swept, nil
}

func (s *InMemoryStore) MarkSummarized(_ context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		rec.IsSummary = true
		s.records[id] = rec
	}
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

// Snapshot returns a copy of one record regardless of deletion state.
// Test helper; not part of the Store contract.
func (s *InMemoryStore) Snapshot(id uuid.UUID) (model.Memory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// LinkBetween returns the directed edge from source to target, if present.
// Test helper; not part of the Store contract.
func (s *InMemoryStore) LinkBetween(source, target uuid.UUID) (model.Link, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[[2]uuid.UUID{source, target}]
	return link, ok
}

func (s *InMemoryStore) retentionOf(rec model.Memory) float64 {
	return model.Retention(rec.Stability, rec.Importance, rec.LastAccessed, s.clock().UTC())
}

func (s *InMemoryStore) checkDim(vec []float32) error {
	if s.dim > 0 && len(vec) != s.dim {
		return fmt.Errorf("%w: embedding dimension %d, store expects %d", model.ErrInvariant, len(vec), s.dim)
	}
	return nil
}

func typeAllowed(t model.MemoryType, types []model.MemoryType) bool {
	if len(types) == 0 {
		return true
	}
	for _, allowed := range types {
		if t == allowed {
			return true
		}
	}
	return false
}
