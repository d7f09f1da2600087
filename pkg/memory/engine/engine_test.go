package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Protocol-Lattice/engram/pkg/memory/model"
	"github.com/Protocol-Lattice/engram/pkg/memory/store"
)

// stubEmbedder returns canned vectors so tests control similarity exactly.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if vec, ok := s.vectors[text]; ok {
		return vec, nil
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type failingScorer struct{}

func (failingScorer) ExtractTopics(context.Context, string, int) ([]string, error) {
	return nil, errors.New("provider down")
}

func (failingScorer) ScoreImportance(context.Context, string, string) (float64, error) {
	return 0, errors.New("provider down")
}

func (failingScorer) Summarize(context.Context, []model.Memory) (string, error) {
	return "", errors.New("provider down")
}

func newTestEngine(clock func() time.Time, vectors map[string][]float32) (*Engine, *store.InMemoryStore) {
	st := store.NewInMemoryStore(3).WithClock(clock)
	opts := DefaultOptions()
	opts.Clock = clock
	eng := NewEngine(st, opts).WithEmbedder(stubEmbedder{vectors: vectors})
	return eng, st
}

func TestStoreDeduplicatesRepeatedContent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, st := newTestEngine(func() time.Time { return now }, map[string][]float32{
		"user prefers dark mode": {1, 0, 0},
	})
	ctx := context.Background()

	first, err := eng.Store(ctx, StoreRequest{AgentID: "assistant", Content: "user prefers dark mode"})
	require.NoError(t, err)
	require.Equal(t, ActionCreated, first.Action)

	second, err := eng.Store(ctx, StoreRequest{AgentID: "assistant", Content: "user prefers dark mode"})
	require.NoError(t, err)
	require.Equal(t, ActionReinforced, second.Action)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "user prefers dark mode", second.ExistingContent)
	require.InDelta(t, 1.0, second.Similarity, 1e-9)

	rec, ok := st.Snapshot(first.ID)
	require.True(t, ok)
	require.Equal(t, 1, rec.AccessCount)

	snap := eng.MetricsSnapshot()
	require.Equal(t, int64(1), snap.Stored)
	require.Equal(t, int64(1), snap.Deduplicated)
}

func TestStoreDedupRespectsAgentPartition(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _ := newTestEngine(func() time.Time { return now }, map[string][]float32{
		"shared fact": {0, 1, 0},
	})
	ctx := context.Background()

	a, err := eng.Store(ctx, StoreRequest{AgentID: "alpha", Content: "shared fact"})
	require.NoError(t, err)
	b, err := eng.Store(ctx, StoreRequest{AgentID: "beta", Content: "shared fact"})
	require.NoError(t, err)
	require.Equal(t, ActionCreated, a.Action)
	require.Equal(t, ActionCreated, b.Action)
	require.NotEqual(t, a.ID, b.ID)
}

func TestStoreDegradesWhenScoringFails(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, st := newTestEngine(func() time.Time { return now }, nil)
	eng.WithScorer(failingScorer{})
	ctx := context.Background()

	res, err := eng.Store(ctx, StoreRequest{
		AgentID:             "assistant",
		Content:             "deploy window moved to friday",
		AutoScoreImportance: true,
		AutoExtractTopics:   true,
	})
	require.NoError(t, err)

	rec, ok := st.Snapshot(res.ID)
	require.True(t, ok)
	require.InDelta(t, 0.5, rec.Importance, 1e-9)
	require.Empty(t, rec.Topics)
}

func TestRetrieveRanksBySimilarityTimesRetention(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	eng, _ := newTestEngine(clock, map[string][]float32{
		"old exact match":  {1, 0, 0},
		"fresh near match": {0.9, 0.43589, 0},
		"what happened":    {1, 0, 0},
	})
	ctx := context.Background()

	old, err := eng.Store(ctx, StoreRequest{AgentID: "assistant", Content: "old exact match"})
	require.NoError(t, err)

	now = now.Add(20 * 24 * time.Hour)
	fresh, err := eng.Store(ctx, StoreRequest{AgentID: "assistant", Content: "fresh near match"})
	require.NoError(t, err)

	res, err := eng.Retrieve(ctx, RetrieveRequest{AgentID: "assistant", Query: "what happened", Limit: 5})
	require.NoError(t, err)
	require.Len(t, res.Memories, 2)

	// Aged exact match: retention exp(-20/18) ~ 0.33, score ~ 0.33.
	// Fresh near match: retention 1.0, score 0.9.
	require.Equal(t, fresh.ID, res.Memories[0].ID)
	require.Equal(t, old.ID, res.Memories[1].ID)
	require.Greater(t, res.Memories[0].Similarity*res.Memories[0].Retention,
		res.Memories[1].Similarity*res.Memories[1].Retention)
}

func TestRetrieveReinforcesRecalledMemories(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	eng, st := newTestEngine(clock, map[string][]float32{
		"standup is at ten": {1, 0, 0},
		"when is standup":   {1, 0, 0},
	})
	ctx := context.Background()

	stored, err := eng.Store(ctx, StoreRequest{AgentID: "assistant", Content: "standup is at ten"})
	require.NoError(t, err)
	before, _ := st.Snapshot(stored.ID)

	now = now.Add(14 * 24 * time.Hour)
	res, err := eng.Retrieve(ctx, RetrieveRequest{AgentID: "assistant", Query: "when is standup"})
	require.NoError(t, err)
	require.Equal(t, 1, res.RetrievedCount)

	after, _ := st.Snapshot(stored.ID)
	require.Equal(t, before.AccessCount+1, after.AccessCount)
	require.Greater(t, after.Stability, before.Stability)
	require.True(t, after.LastAccessed.Equal(now))
}

func TestRetrieveExpandsAssociations(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, st := newTestEngine(func() time.Time { return now }, map[string][]float32{
		"paris trip itinerary":   {1, 0, 0},
		"louvre tickets booked":  {0, 1, 0},
		"unrelated grocery list": {0, 0, 1},
		"trip to paris":          {1, 0, 0},
	})
	ctx := context.Background()

	trip, err := eng.Store(ctx, StoreRequest{AgentID: "assistant", Content: "paris trip itinerary"})
	require.NoError(t, err)
	louvre, err := eng.Store(ctx, StoreRequest{AgentID: "assistant", Content: "louvre tickets booked"})
	require.NoError(t, err)
	_, err = eng.Store(ctx, StoreRequest{AgentID: "assistant", Content: "unrelated grocery list"})
	require.NoError(t, err)

	require.NoError(t, eng.Link(ctx, trip.ID, louvre.ID, 0))

	res, err := eng.Retrieve(ctx, RetrieveRequest{
		AgentID:             "assistant",
		Query:               "trip to paris",
		Limit:               1,
		IncludeAssociations: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Memories, 1)
	require.Equal(t, trip.ID, res.Memories[0].ID)
	require.Len(t, res.Associations, 1)
	require.Equal(t, louvre.ID, res.Associations[0].ID)
	require.InDelta(t, model.InitialLinkStrength, res.Associations[0].LinkStrength, 1e-9)

	// Associations get reinforced too.
	rec, _ := st.Snapshot(louvre.ID)
	require.Equal(t, 1, rec.AccessCount)
}

func TestLinkIsSymmetricAndValidated(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, st := newTestEngine(func() time.Time { return now }, map[string][]float32{
		"fact one": {1, 0, 0},
		"fact two": {0, 1, 0},
	})
	ctx := context.Background()

	one, err := eng.Store(ctx, StoreRequest{AgentID: "assistant", Content: "fact one"})
	require.NoError(t, err)
	two, err := eng.Store(ctx, StoreRequest{AgentID: "assistant", Content: "fact two"})
	require.NoError(t, err)

	require.ErrorIs(t, eng.Link(ctx, one.ID, one.ID, 0), model.ErrInvariant)
	require.ErrorIs(t, eng.Link(ctx, one.ID, uuid.New(), 0), store.ErrNotFound)

	require.NoError(t, eng.Link(ctx, one.ID, two.ID, 0))
	require.NoError(t, eng.Link(ctx, one.ID, two.ID, 0))

	forward, ok := st.LinkBetween(one.ID, two.ID)
	require.True(t, ok)
	backward, ok := st.LinkBetween(two.ID, one.ID)
	require.True(t, ok)
	require.InDelta(t, 0.6, forward.Strength, 1e-9)
	require.InDelta(t, forward.Strength, backward.Strength, 1e-9)
}

func TestConsolidateCompressesTopicClusters(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	vectors := map[string][]float32{}
	eng, st := newTestEngine(clock, vectors)
	ctx := context.Background()

	lowImportance := 0.1
	ids := make([]uuid.UUID, 0, 6)
	for i := 0; i < 6; i++ {
		content := fmt.Sprintf("hostel night %d in lisbon", i)
		vectors[content] = []float32{float32(i) * 0.1, 1, 0}
		res, err := eng.Store(ctx, StoreRequest{
			AgentID:    "assistant",
			Content:    content,
			Importance: &lowImportance,
			Topics:     []string{"travel-2022"},
			SkipDedup:  true,
		})
		require.NoError(t, err)
		ids = append(ids, res.ID)
	}

	// Importance 0.1 gives tau = 0.3*1.2*30 = 10.8 days; after 30 days
	// retention ~ 0.062, under the decay cutoff but above the trash cutoff.
	now = now.Add(30 * 24 * time.Hour)

	report, err := eng.Consolidate(ctx, "assistant", ConsolidateOptions{})
	require.NoError(t, err)
	require.Len(t, report.Decayed, 6)
	require.Len(t, report.Compressed, 1)
	require.Equal(t, int64(0), report.SoftDeleted)

	group := report.Compressed[0]
	require.Equal(t, "travel-2022", group.Topic)
	require.Equal(t, 6, group.Count)
	require.ElementsMatch(t, ids, group.OriginalIDs)

	gist, ok := st.Snapshot(group.SummaryID)
	require.True(t, ok)
	require.Equal(t, model.Semantic, gist.Type)
	require.True(t, gist.IsSummary)
	require.InDelta(t, 0.7, gist.Importance, 1e-9)
	require.ElementsMatch(t, ids, gist.Summarizes)

	for _, id := range ids {
		rec, ok := st.Snapshot(id)
		require.True(t, ok)
		require.True(t, rec.IsSummary, "original %s should be marked summarized", id)
		require.False(t, rec.IsDeleted)
	}

	// A second pass sees no compressible originals: summaries are excluded
	// from the decay scan.
	again, err := eng.Consolidate(ctx, "assistant", ConsolidateOptions{})
	require.NoError(t, err)
	require.Empty(t, again.Compressed)
}

func TestConsolidateCompressesSharedMemberIntoBothGists(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	eng, st := newTestEngine(clock, nil)
	ctx := context.Background()

	lowImportance := 0.1
	put := func(content string, topics ...string) uuid.UUID {
		res, err := eng.Store(ctx, StoreRequest{
			AgentID:    "assistant",
			Content:    content,
			Importance: &lowImportance,
			Topics:     topics,
			SkipDedup:  true,
		})
		require.NoError(t, err)
		return res.ID
	}
	shared := put("ferry schedule pinned to the fridge", "errands", "travel")
	e1 := put("dry cleaning picked up tuesday", "errands")
	e2 := put("library books returned", "errands")
	t1 := put("train tickets to the coast booked", "travel")
	t2 := put("hotel confirmation forwarded", "travel")

	now = now.Add(30 * 24 * time.Hour)

	report, err := eng.Consolidate(ctx, "assistant", ConsolidateOptions{})
	require.NoError(t, err)
	require.Len(t, report.Compressed, 2)

	// A memory with two qualifying topics belongs to both groups, so
	// neither falls below the cluster minimum.
	errands, travel := report.Compressed[0], report.Compressed[1]
	require.Equal(t, "errands", errands.Topic)
	require.Equal(t, "travel", travel.Topic)
	require.ElementsMatch(t, []uuid.UUID{shared, e1, e2}, errands.OriginalIDs)
	require.ElementsMatch(t, []uuid.UUID{shared, t1, t2}, travel.OriginalIDs)

	for _, group := range report.Compressed {
		gist, ok := st.Snapshot(group.SummaryID)
		require.True(t, ok)
		require.Contains(t, gist.Summarizes, shared)
	}
}

func TestPreviewKeepsRuneBoundaries(t *testing.T) {
	content := "x" + strings.Repeat("é", 80)
	got := preview(content)
	require.LessOrEqual(t, len(got), contentPreviewLen)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, content[:99], got)
}

func TestConsolidateKeepsOriginalsWhenSummaryFails(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	eng, st := newTestEngine(clock, nil)
	eng.WithScorer(failingScorer{})
	ctx := context.Background()

	lowImportance := 0.1
	ids := make([]uuid.UUID, 0, 5)
	for i := 0; i < 5; i++ {
		res, err := eng.Store(ctx, StoreRequest{
			AgentID:    "assistant",
			Content:    fmt.Sprintf("ephemeral note %d", i),
			Importance: &lowImportance,
			Topics:     []string{"scratch"},
			SkipDedup:  true,
		})
		require.NoError(t, err)
		ids = append(ids, res.ID)
	}
	now = now.Add(30 * 24 * time.Hour)

	report, err := eng.Consolidate(ctx, "assistant", ConsolidateOptions{})
	require.NoError(t, err)
	require.Empty(t, report.Compressed)
	for _, id := range ids {
		rec, _ := st.Snapshot(id)
		require.False(t, rec.IsSummary)
	}
}

func TestConsolidateSweepsDormantMemories(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	eng, st := newTestEngine(clock, map[string][]float32{
		"forgettable detail": {1, 0, 0},
		"durable preference": {0, 1, 0},
	})
	ctx := context.Background()

	zero := 0.0
	high := 0.9
	dormant, err := eng.Store(ctx, StoreRequest{AgentID: "assistant", Content: "forgettable detail", Importance: &zero})
	require.NoError(t, err)
	kept, err := eng.Store(ctx, StoreRequest{AgentID: "assistant", Content: "durable preference", Importance: &high})
	require.NoError(t, err)

	// Importance 0 gives tau = 9 days; after 40 days retention ~ 0.01,
	// while importance 0.9 gives tau = 25.2 days and retention ~ 0.2.
	now = now.Add(40 * 24 * time.Hour)

	report, err := eng.Consolidate(ctx, "assistant", ConsolidateOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(1), report.SoftDeleted)

	gone, _ := st.Snapshot(dormant.ID)
	require.True(t, gone.IsDeleted)
	alive, _ := st.Snapshot(kept.ID)
	require.False(t, alive.IsDeleted)
}

func TestSummarizeByIDs(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng, _ := newTestEngine(func() time.Time { return now }, map[string][]float32{
		"only memory": {1, 0, 0},
	})
	ctx := context.Background()

	res, err := eng.Store(ctx, StoreRequest{AgentID: "assistant", Content: "only memory"})
	require.NoError(t, err)

	summary, found, err := eng.Summarize(ctx, "assistant", []uuid.UUID{res.ID})
	require.NoError(t, err)
	require.Equal(t, "only memory", summary)
	require.Equal(t, []uuid.UUID{res.ID}, found)

	_, _, err = eng.Summarize(ctx, "assistant", []uuid.UUID{uuid.New()})
	require.ErrorIs(t, err, store.ErrNotFound)
}
