package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Protocol-Lattice/engram/pkg/memory/model"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
}

func newTestStore(clock *fakeClock) *InMemoryStore {
	return NewInMemoryStore(3).WithClock(clock.Now)
}

func mem(agent, content string, embedding []float32) model.Memory {
	return model.Memory{
		AgentID:    agent,
		Content:    content,
		Embedding:  embedding,
		Type:       model.Episodic,
		Importance: 0.5,
	}
}

func TestInsertAssignsDefaults(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock)

	stored, err := s.Insert(context.Background(), mem("a", "first", []float32{1, 0, 0}))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if stored.ID == uuid.Nil {
		t.Fatal("expected an id to be assigned")
	}
	if stored.Stability != model.InitialStability {
		t.Fatalf("stability = %v, want %v", stored.Stability, model.InitialStability)
	}
	if !stored.CreatedAt.Equal(clock.Now()) || !stored.LastAccessed.Equal(clock.Now()) {
		t.Fatal("expected timestamps from the injected clock")
	}
}

func TestInsertRejectsWrongDimension(t *testing.T) {
	s := newTestStore(newFakeClock())
	_, err := s.Insert(context.Background(), mem("a", "first", []float32{1, 0}))
	if err == nil {
		t.Fatal("expected dimension mismatch to fail")
	}
}

func TestInsertDedupReinforcesNearDuplicate(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(clock)

	original, err := s.Insert(ctx, mem("a", "user prefers dark mode", []float32{1, 0, 0}))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := s.InsertDedup(ctx, mem("a", "user prefers dark mode.", []float32{0.999, 0.04, 0}), 0.92)
	if err != nil {
		t.Fatalf("dedup insert: %v", err)
	}
	if !res.Reinforced {
		t.Fatal("expected the near-duplicate to be absorbed")
	}
	if res.Memory.ID != original.ID {
		t.Fatal("expected the existing row to win")
	}
	if res.Memory.AccessCount != 1 {
		t.Fatalf("access_count = %d, want 1", res.Memory.AccessCount)
	}
	// Same-instant reinforcement earns no spacing bonus.
	if res.Memory.Stability != model.InitialStability {
		t.Fatalf("stability = %v, want %v", res.Memory.Stability, model.InitialStability)
	}
}

func TestInsertDedupIgnoresOtherAgents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(newFakeClock())

	if _, err := s.Insert(ctx, mem("a", "shared fact", []float32{1, 0, 0})); err != nil {
		t.Fatalf("insert: %v", err)
	}
	res, err := s.InsertDedup(ctx, mem("b", "shared fact", []float32{1, 0, 0}), 0.92)
	if err != nil {
		t.Fatalf("dedup insert: %v", err)
	}
	if res.Reinforced {
		t.Fatal("dedup must not cross the agent partition")
	}
}

func TestSearchOrdersBySimilarityTimesRetention(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(clock)

	// Aged memory: high similarity but low retention.
	aged, err := s.Insert(ctx, mem("a", "old but exact", []float32{1, 0, 0}))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	clock.Advance(20 * 24 * time.Hour)
	fresh, err := s.Insert(ctx, mem("a", "recent and close", []float32{0.9, 0.435889894354, 0}))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.Search(ctx, "a", []float32{1, 0, 0}, 5, 0, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].ID != fresh.ID || got[1].ID != aged.ID {
		t.Fatal("expected the fresh memory to outrank the decayed exact match")
	}
	if got[0].Similarity*got[0].Retention < got[1].Similarity*got[1].Retention {
		t.Fatal("ranking key not descending")
	}
}

func TestSearchFiltersByTypeAndRetention(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(clock)

	fact := mem("a", "a distilled fact", []float32{1, 0, 0})
	fact.Type = model.Semantic
	if _, err := s.Insert(ctx, fact); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.Insert(ctx, mem("a", "an event", []float32{1, 0, 0})); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.Search(ctx, "a", []float32{1, 0, 0}, 5, 0.2, []model.MemoryType{model.Semantic})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Type != model.Semantic {
		t.Fatalf("expected only the semantic memory, got %d rows", len(got))
	}

	clock.Advance(365 * 24 * time.Hour)
	got, err = s.Search(ctx, "a", []float32{1, 0, 0}, 5, 0.2, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected fully decayed memories to be excluded, got %d", len(got))
	}
}

func TestStrengthenLinkIsSymmetric(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(newFakeClock())

	a, _ := s.Insert(ctx, mem("a", "first", []float32{1, 0, 0}))
	b, _ := s.Insert(ctx, mem("a", "second", []float32{0, 1, 0}))

	if err := s.StrengthenLink(ctx, a.ID, b.ID, 0.1); err != nil {
		t.Fatalf("strengthen: %v", err)
	}
	if err := s.StrengthenLink(ctx, a.ID, b.ID, 0.1); err != nil {
		t.Fatalf("strengthen: %v", err)
	}

	forward, ok := s.LinkBetween(a.ID, b.ID)
	if !ok {
		t.Fatal("missing forward edge")
	}
	backward, ok := s.LinkBetween(b.ID, a.ID)
	if !ok {
		t.Fatal("missing backward edge")
	}
	if forward.Strength != 0.6 || backward.Strength != 0.6 {
		t.Fatalf("strengths = %v / %v, want 0.6 in lockstep", forward.Strength, backward.Strength)
	}
}

func TestFetchAssociationsFiltersWeakEdges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(newFakeClock())

	m1, _ := s.Insert(ctx, mem("a", "anchor", []float32{1, 0, 0}))
	m2, _ := s.Insert(ctx, mem("a", "strongly linked", []float32{0, 1, 0}))
	m3, _ := s.Insert(ctx, mem("a", "weakly linked", []float32{0, 0, 1}))

	s.StrengthenLink(ctx, m1.ID, m2.ID, 0.1) // 0.5 initial
	s.StrengthenLink(ctx, m1.ID, m2.ID, 0.1) // 0.6
	// Force the weak edge below the cutoff.
	s.links[[2]uuid.UUID{m1.ID, m3.ID}] = model.Link{SourceID: m1.ID, TargetID: m3.ID, Strength: 0.2}

	got, err := s.FetchAssociations(ctx, []uuid.UUID{m1.ID}, 0.3, 5)
	if err != nil {
		t.Fatalf("fetch associations: %v", err)
	}
	if len(got) != 1 || got[0].ID != m2.ID {
		t.Fatalf("expected only the strong association, got %d rows", len(got))
	}
	if got[0].LinkStrength != 0.6 {
		t.Fatalf("link strength = %v, want 0.6", got[0].LinkStrength)
	}
}

func TestSoftDeleteDormantSparesSummaries(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(clock)

	dormant := mem("a", "long forgotten", []float32{1, 0, 0})
	dormant.Importance = 0.1
	stored, _ := s.Insert(ctx, dormant)

	summary := mem("a", "a gist", []float32{0, 1, 0})
	summary.Importance = 0.1
	summary.IsSummary = true
	gist, _ := s.Insert(ctx, summary)

	clock.Advance(45 * 24 * time.Hour)

	swept, err := s.SoftDeleteDormant(ctx, "a", 0.05, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}
	if rec, _ := s.Snapshot(stored.ID); !rec.IsDeleted {
		t.Fatal("dormant memory should be tombstoned")
	}
	if rec, _ := s.Snapshot(gist.ID); rec.IsDeleted {
		t.Fatal("summaries must survive the dormant sweep")
	}

	// Tombstoned rows never come back from retrieval.
	got, err := s.Search(ctx, "a", []float32{1, 0, 0}, 5, 0, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, rec := range got {
		if rec.ID == stored.ID {
			t.Fatal("soft-deleted memory appeared in search results")
		}
	}
}

func TestScanBelowRetentionExcludesSummaries(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(clock)

	faded := mem("a", "fading", []float32{1, 0, 0})
	faded.Importance = 0.1
	s.Insert(ctx, faded)

	gist := mem("a", "gist", []float32{0, 1, 0})
	gist.Importance = 0.1
	gist.IsSummary = true
	s.Insert(ctx, gist)

	clock.Advance(40 * 24 * time.Hour)

	got, err := s.ScanBelowRetention(ctx, "a", 0.2)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 1 || got[0].Content != "fading" {
		t.Fatalf("expected only the non-summary fading memory, got %d rows", len(got))
	}
	if got[0].Retention >= 0.2 {
		t.Fatalf("reported retention %v not below threshold", got[0].Retention)
	}
}
