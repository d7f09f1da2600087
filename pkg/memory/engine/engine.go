package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Protocol-Lattice/engram/pkg/memory/model"
	"github.com/Protocol-Lattice/engram/pkg/memory/score"
	"github.com/Protocol-Lattice/engram/pkg/memory/store"
)

// Engine coordinates the write path, retention-weighted retrieval, the
// associative graph and consolidation on top of a Store. It holds no
// memory state of its own; the store is the source of truth.
type Engine struct {
	store    store.Store
	embedder score.Embedder
	scorer   score.Scorer
	opts     Options
	metrics  *Metrics
	logger   *zap.Logger
	clock    func() time.Time
}

// NewEngine constructs a memory engine on top of a Store implementation.
func NewEngine(st store.Store, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		store:    st,
		embedder: score.DummyEmbedder{},
		scorer:   score.HeuristicScorer{},
		opts:     opts,
		metrics:  &Metrics{},
		logger:   zap.NewNop(),
		clock:    opts.Clock,
	}
}

// WithEmbedder overrides the default embedder.
func (e *Engine) WithEmbedder(embedder score.Embedder) *Engine {
	if embedder != nil {
		e.embedder = embedder
	}
	return e
}

// WithScorer overrides the default scorer.
func (e *Engine) WithScorer(s score.Scorer) *Engine {
	if s != nil {
		e.scorer = s
	}
	return e
}

// WithLogger overrides the default no-op logger.
func (e *Engine) WithLogger(logger *zap.Logger) *Engine {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// MetricsSnapshot returns a copy of the runtime counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// Store runs the write path: score, embed, then deduplicate-or-insert.
// A near-duplicate (similarity above the dedup threshold) absorbs the write
// as a reinforcement of the existing row.
func (e *Engine) Store(ctx context.Context, req StoreRequest) (StoreResult, error) {
	if e.store == nil {
		return StoreResult{}, errors.New("memory engine has no store")
	}

	importance := e.resolveImportance(ctx, req)
	topics := req.Topics
	if len(topics) == 0 && req.AutoExtractTopics {
		extracted, err := e.scorer.ExtractTopics(ctx, req.Content, score.DefaultMaxTopics)
		if err != nil {
			e.logger.Warn("topic extraction failed, storing without topics",
				zap.String("agent_id", req.AgentID), zap.Error(err))
		} else {
			topics = extracted
		}
	}

	embedding, err := e.embedder.Embed(ctx, req.Content)
	if err != nil {
		return StoreResult{}, fmt.Errorf("embed content: %w", err)
	}

	memType := req.Type
	if memType == "" {
		memType = model.Episodic
	}
	mem := model.Memory{
		AgentID:       req.AgentID,
		Content:       req.Content,
		Embedding:     embedding,
		Type:          memType,
		Topics:        topics,
		Importance:    importance,
		Stability:     model.InitialStability,
		EventDate:     req.EventDate,
		ExpiresAt:     req.ExpiresAt,
		SourceChannel: req.SourceChannel,
		SourceSession: req.SourceSession,
		IsSummary:     len(req.Summarizes) > 0,
		Summarizes:    req.Summarizes,
	}
	if err := mem.Validate(); err != nil {
		return StoreResult{}, err
	}

	if req.SkipDedup {
		stored, err := e.store.Insert(ctx, mem)
		if err != nil {
			return StoreResult{}, err
		}
		e.metrics.IncStored()
		return StoreResult{Action: ActionCreated, ID: stored.ID, CreatedAt: stored.CreatedAt}, nil
	}

	res, err := e.store.InsertDedup(ctx, mem, e.opts.DedupThreshold)
	if err != nil {
		return StoreResult{}, err
	}
	if res.Reinforced {
		e.metrics.IncDeduplicated()
		return StoreResult{
			Action:          ActionReinforced,
			ID:              res.Memory.ID,
			ExistingContent: res.Memory.Content,
			Similarity:      res.Similarity,
		}, nil
	}
	e.metrics.IncStored()
	return StoreResult{Action: ActionCreated, ID: res.Memory.ID, CreatedAt: res.Memory.CreatedAt}, nil
}

func (e *Engine) resolveImportance(ctx context.Context, req StoreRequest) float64 {
	if req.Importance != nil {
		return model.Clamp(*req.Importance, 0, 1)
	}
	if !req.AutoScoreImportance {
		return 0.5
	}
	val, err := e.scorer.ScoreImportance(ctx, req.Content, "")
	if err != nil {
		e.logger.Warn("importance scoring failed, defaulting to 0.5",
			zap.String("agent_id", req.AgentID), zap.Error(err))
		return 0.5
	}
	return val
}

// Retrieve runs the read path: retention-weighted similarity search,
// reinforcement of everything recalled, and one-hop association expansion.
// Primaries are reinforced before associations are fetched, so the
// association query observes the updated access timestamps.
func (e *Engine) Retrieve(ctx context.Context, req RetrieveRequest) (RetrieveResult, error) {
	if e.store == nil {
		return RetrieveResult{}, errors.New("memory engine has no store")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = e.opts.DefaultLimit
	}
	minRetention := req.MinRetention
	if minRetention == 0 {
		minRetention = e.opts.MinRetention
	} else if minRetention < 0 {
		minRetention = 0
	}

	embedding, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		return RetrieveResult{}, fmt.Errorf("embed query: %w", err)
	}

	primary, err := e.store.Search(ctx, req.AgentID, embedding, limit, minRetention, req.Types)
	if err != nil {
		return RetrieveResult{}, err
	}
	primaryIDs := make([]uuid.UUID, 0, len(primary))
	for _, mem := range primary {
		if err := e.store.Reinforce(ctx, mem.ID); err != nil {
			return RetrieveResult{}, err
		}
		primaryIDs = append(primaryIDs, mem.ID)
	}

	var associations []model.Memory
	if req.IncludeAssociations && len(primaryIDs) > 0 {
		associations, err = e.store.FetchAssociations(ctx, primaryIDs, e.opts.AssociationStrengthMin, limit)
		if err != nil {
			return RetrieveResult{}, err
		}
		for _, assoc := range associations {
			if err := e.store.Reinforce(ctx, assoc.ID); err != nil {
				return RetrieveResult{}, err
			}
		}
	}

	e.metrics.IncRetrieved(len(primary))
	e.metrics.IncAssociations(len(associations))
	return RetrieveResult{
		Memories:         primary,
		Associations:     associations,
		Query:            req.Query,
		RetrievedCount:   len(primary),
		AssociationCount: len(associations),
	}, nil
}

// Link creates or strengthens the symmetric association between two
// memories. Both must exist and be active.
func (e *Engine) Link(ctx context.Context, source, target uuid.UUID, increment float64) error {
	if e.store == nil {
		return errors.New("memory engine has no store")
	}
	if source == target {
		return fmt.Errorf("%w: a memory cannot associate with itself", model.ErrInvariant)
	}
	if increment <= 0 {
		increment = e.opts.LinkIncrement
	}
	count, err := e.store.CountActive(ctx, []uuid.UUID{source, target})
	if err != nil {
		return err
	}
	if count != 2 {
		return fmt.Errorf("%w: link endpoints must exist and be active", store.ErrNotFound)
	}
	return e.store.StrengthenLink(ctx, source, target, increment)
}

// Summarize fetches the given memories and produces a single gist without
// any store mutation. Returns the ids actually found alongside the text.
func (e *Engine) Summarize(ctx context.Context, agentID string, ids []uuid.UUID) (string, []uuid.UUID, error) {
	if e.store == nil {
		return "", nil, errors.New("memory engine has no store")
	}
	memories, err := e.store.Get(ctx, agentID, ids)
	if err != nil {
		return "", nil, err
	}
	if len(memories) == 0 {
		return "", nil, fmt.Errorf("%w: no memories found with given ids", store.ErrNotFound)
	}
	summary, err := e.scorer.Summarize(ctx, memories)
	if err != nil {
		return "", nil, err
	}
	found := make([]uuid.UUID, len(memories))
	for i, mem := range memories {
		found[i] = mem.ID
	}
	return summary, found, nil
}
