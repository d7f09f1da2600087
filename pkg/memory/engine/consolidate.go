package engine

import (
	"context"
	"errors"
	"sort"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Protocol-Lattice/engram/pkg/memory/model"
)

const contentPreviewLen = 100

// Consolidate runs one maintenance pass for an agent: identify fading
// memories, compress topic clusters into gists, surface promotion
// candidates and sweep dormant rows. Each step degrades independently; a
// failed summary skips that cluster and the pass continues.
func (e *Engine) Consolidate(ctx context.Context, agentID string, opts ConsolidateOptions) (ConsolidateReport, error) {
	if e.store == nil {
		return ConsolidateReport{}, errors.New("memory engine has no store")
	}
	started := e.clock()
	report := ConsolidateReport{
		Decayed:             []DecayedMemory{},
		Compressed:          []CompressedGroup{},
		PromotionCandidates: []PromotionCandidate{},
	}
	compressionThreshold := e.opts.CompressionThreshold
	if opts.CompressionThreshold > 0 {
		compressionThreshold = opts.CompressionThreshold
	}

	decayed, err := e.store.ScanBelowRetention(ctx, agentID, e.opts.DecayCutoff)
	if err != nil {
		return report, err
	}
	for _, mem := range decayed {
		report.Decayed = append(report.Decayed, DecayedMemory{
			ID:        mem.ID,
			Content:   preview(mem.Content),
			Retention: mem.Retention,
		})
	}

	if len(decayed) >= compressionThreshold {
		report.Compressed = e.compressClusters(ctx, agentID, decayed)
	}

	promotable, err := e.store.ScanPromotion(ctx, agentID, e.opts.PromotionStability, e.opts.PromotionAccess)
	if err != nil {
		return report, err
	}
	for _, mem := range promotable {
		report.PromotionCandidates = append(report.PromotionCandidates, PromotionCandidate{
			ID:          mem.ID,
			Content:     preview(mem.Content),
			Stability:   mem.Stability,
			AccessCount: mem.AccessCount,
		})
	}

	swept, err := e.store.SoftDeleteDormant(ctx, agentID, e.opts.TrashCutoff, e.opts.Dormancy)
	if err != nil {
		return report, err
	}
	report.SoftDeleted = swept
	e.metrics.IncSwept(swept)

	e.logger.Info("consolidation pass complete",
		zap.String("agent_id", agentID),
		zap.Int("decayed", len(report.Decayed)),
		zap.Int("compressed_groups", len(report.Compressed)),
		zap.Int("promotion_candidates", len(report.PromotionCandidates)),
		zap.Int64("soft_deleted", swept),
		zap.Duration("elapsed", e.clock().Sub(started)))
	return report, nil
}

// compressClusters groups fading memories by topic and replaces every group
// of ClusterMin or more with a single semantic gist. A memory with several
// topics belongs to each of those groups and may be absorbed into multiple
// gists; each one records it in its summarizes list.
func (e *Engine) compressClusters(ctx context.Context, agentID string, decayed []model.Memory) []CompressedGroup {
	clusters := make(map[string][]model.Memory)
	for _, mem := range decayed {
		for _, topic := range mem.Topics {
			clusters[topic] = append(clusters[topic], mem)
		}
	}
	topics := make([]string, 0, len(clusters))
	for topic := range clusters {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	compressed := []CompressedGroup{}
	for _, topic := range topics {
		group := clusters[topic]
		if len(group) < e.opts.ClusterMin {
			continue
		}

		summary, err := e.scorer.Summarize(ctx, group)
		if err != nil {
			e.logger.Warn("cluster summary failed, keeping originals",
				zap.String("agent_id", agentID),
				zap.String("topic", topic),
				zap.Int("size", len(group)),
				zap.Error(err))
			continue
		}

		ids := make([]uuid.UUID, len(group))
		for i, mem := range group {
			ids[i] = mem.ID
		}
		importance := e.opts.SummaryImportance
		result, err := e.Store(ctx, StoreRequest{
			AgentID:    agentID,
			Content:    summary,
			Type:       model.Semantic,
			Importance: &importance,
			Topics:     []string{topic},
			Summarizes: ids,
			SkipDedup:  true,
		})
		if err != nil {
			e.logger.Warn("gist write failed, keeping originals",
				zap.String("agent_id", agentID),
				zap.String("topic", topic),
				zap.Error(err))
			continue
		}
		if err := e.store.MarkSummarized(ctx, ids); err != nil {
			e.logger.Warn("marking originals as summarized failed",
				zap.String("agent_id", agentID),
				zap.String("topic", topic),
				zap.Error(err))
		}
		compressed = append(compressed, CompressedGroup{
			Topic:       topic,
			Count:       len(group),
			SummaryID:   result.ID,
			OriginalIDs: ids,
		})
		e.metrics.IncCompressed(len(group))
	}
	return compressed
}

// preview truncates to the report preview length without splitting a rune.
func preview(content string) string {
	if len(content) <= contentPreviewLen {
		return content
	}
	cut := contentPreviewLen
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}
