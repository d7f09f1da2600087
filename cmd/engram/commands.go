package main

import (
	"context"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Protocol-Lattice/engram/pkg/config"
	"github.com/Protocol-Lattice/engram/pkg/memory"
)

const dateLayout = "2006-01-02"

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Bootstrap the database schema, indexes and routines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ConsolidateTimeout)
			defer cancel()

			st, err := memory.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.EmbedDim, logger)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.CreateSchema(ctx); err != nil {
				return err
			}
			logger.Info("schema ready", zap.Int("embedding_dim", cfg.EmbedDim))
			return emit(map[string]any{"initialized": true, "embedding_dim": cfg.EmbedDim})
		},
	}
}

func newStoreCmd() *cobra.Command {
	var (
		agent, content, memType string
		channel, session        string
		eventDate, expires      string
		topics                  []string
		importance              float64
		skipDedup, autoScore    bool
		autoTopics              bool
	)
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Store a memory, deduplicating against near-identical ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
			defer cancel()

			eng, st, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			req := memory.StoreRequest{
				AgentID:             agent,
				Content:             content,
				Type:                memory.MemoryType(memType),
				Topics:              topics,
				SourceChannel:       channel,
				SourceSession:       session,
				SkipDedup:           skipDedup,
				AutoScoreImportance: autoScore,
				AutoExtractTopics:   autoTopics,
			}
			if cmd.Flags().Changed("importance") {
				req.Importance = &importance
			}
			if req.EventDate, err = parseDate(eventDate, "event-date"); err != nil {
				return err
			}
			if req.ExpiresAt, err = parseDate(expires, "expires"); err != nil {
				return err
			}

			res, err := eng.Store(ctx, req)
			if err != nil {
				return err
			}
			return emit(res)
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent id (required)")
	cmd.Flags().StringVar(&content, "content", "", "memory content (required)")
	cmd.Flags().StringVar(&memType, "type", "episodic", "memory type: episodic|semantic|procedural")
	cmd.Flags().Float64Var(&importance, "importance", 0.5, "importance in [0,1]; overrides scoring")
	cmd.Flags().StringSliceVar(&topics, "topics", nil, "topic tags")
	cmd.Flags().StringVar(&eventDate, "event-date", "", "when the remembered event happened (YYYY-MM-DD)")
	cmd.Flags().StringVar(&expires, "expires", "", "advisory expiry date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&channel, "channel", "", "source channel")
	cmd.Flags().StringVar(&session, "session", "", "source session")
	cmd.Flags().BoolVar(&skipDedup, "skip-dedup", false, "insert without deduplication")
	cmd.Flags().BoolVar(&autoScore, "auto-score", false, "score importance with the configured provider")
	cmd.Flags().BoolVar(&autoTopics, "auto-topics", false, "extract topics with the configured provider")
	cmd.MarkFlagRequired("agent")
	cmd.MarkFlagRequired("content")
	return cmd
}

func newRetrieveCmd() *cobra.Command {
	var (
		agent, query   string
		limit          int
		minRetention   float64
		noAssociations bool
		typeNames      []string
	)
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Retrieve memories ranked by similarity weighted by retention",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
			defer cancel()

			eng, st, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			types, err := parseTypes(typeNames)
			if err != nil {
				return err
			}
			res, err := eng.Retrieve(ctx, memory.RetrieveRequest{
				AgentID:             agent,
				Query:               query,
				Limit:               limit,
				MinRetention:        minRetention,
				IncludeAssociations: !noAssociations,
				Types:               types,
			})
			if err != nil {
				return err
			}
			return emit(res)
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent id (required)")
	cmd.Flags().StringVar(&query, "query", "", "query text (required)")
	cmd.Flags().IntVar(&limit, "limit", 5, "maximum primary results")
	cmd.Flags().Float64Var(&minRetention, "min-retention", 0, "retention floor; negative disables it")
	cmd.Flags().BoolVar(&noAssociations, "no-associations", false, "skip association expansion")
	cmd.Flags().StringSliceVar(&typeNames, "types", nil, "restrict to memory types")
	cmd.MarkFlagRequired("agent")
	cmd.MarkFlagRequired("query")
	return cmd
}

func newConsolidateCmd() *cobra.Command {
	var (
		agent                string
		compressionThreshold int
	)
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Run a maintenance pass: decay scan, compression, promotion, sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ConsolidateTimeout)
			defer cancel()

			eng, st, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			report, err := eng.Consolidate(ctx, agent, memory.ConsolidateOptions{
				CompressionThreshold: compressionThreshold,
			})
			if err != nil {
				return err
			}
			return emit(report)
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent id (required)")
	cmd.Flags().IntVar(&compressionThreshold, "compression-threshold", 0, "fading memories needed before compression runs")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func newLinkCmd() *cobra.Command {
	var (
		source, target string
		strength       float64
	)
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Create or strengthen the association between two memories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			sourceID, err := uuid.Parse(source)
			if err != nil {
				return fmt.Errorf("invalid --source id: %w", err)
			}
			targetID, err := uuid.Parse(target)
			if err != nil {
				return fmt.Errorf("invalid --target id: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
			defer cancel()

			eng, st, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := eng.Link(ctx, sourceID, targetID, strength); err != nil {
				return err
			}
			return emit(map[string]any{
				"linked": true,
				"source": sourceID,
				"target": targetID,
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source memory id (required)")
	cmd.Flags().StringVar(&target, "target", "", "target memory id (required)")
	cmd.Flags().Float64Var(&strength, "strength", 0, "increment applied to an existing link")
	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("target")
	return cmd
}

func newExtractTopicsCmd() *cobra.Command {
	var (
		text string
		max  int
	)
	cmd := &cobra.Command{
		Use:   "extract-topics",
		Short: "Extract key topics from text with the configured provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scorer, err := newScorer(envScoringProvider(), envScoringModel())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), config.DefaultTimeout)
			defer cancel()

			topics, err := scorer.ExtractTopics(ctx, text, max)
			if err != nil {
				return err
			}
			if topics == nil {
				topics = []string{}
			}
			return emit(map[string]any{"topics": topics, "count": len(topics)})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "text to analyze (required)")
	cmd.Flags().IntVar(&max, "max", 5, "maximum topics")
	cmd.MarkFlagRequired("text")
	return cmd
}

func newScoreImportanceCmd() *cobra.Command {
	var text, contextHint string
	cmd := &cobra.Command{
		Use:   "score-importance",
		Short: "Rate the importance of text on a 0.0-1.0 scale",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scorer, err := newScorer(envScoringProvider(), envScoringModel())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), config.DefaultTimeout)
			defer cancel()

			importance, err := scorer.ScoreImportance(ctx, text, contextHint)
			if err != nil {
				return err
			}
			preview := text
			if len(preview) > 100 {
				cut := 100
				for cut > 0 && !utf8.RuneStart(preview[cut]) {
					cut--
				}
				preview = preview[:cut]
			}
			return emit(map[string]any{"importance": importance, "text_preview": preview})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "text to rate (required)")
	cmd.Flags().StringVar(&contextHint, "context", "", "optional scoring context")
	cmd.MarkFlagRequired("text")
	return cmd
}

func newSummarizeCmd() *cobra.Command {
	var (
		agent  string
		rawIDs []string
	)
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Summarize a set of memories without modifying them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			ids, err := parseIDs(rawIDs)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
			defer cancel()

			eng, st, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			summary, found, err := eng.Summarize(ctx, agent, ids)
			if err != nil {
				return err
			}
			return emit(map[string]any{
				"summary":    summary,
				"memory_ids": found,
				"count":      len(found),
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent id (required)")
	cmd.Flags().StringSliceVar(&rawIDs, "ids", nil, "memory ids to summarize (required)")
	cmd.MarkFlagRequired("agent")
	cmd.MarkFlagRequired("ids")
	return cmd
}

func parseDate(raw, flag string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s %q: expected YYYY-MM-DD", flag, raw)
	}
	return &t, nil
}

func parseTypes(names []string) ([]memory.MemoryType, error) {
	var types []memory.MemoryType
	for _, name := range names {
		t := memory.MemoryType(name)
		if !t.Valid() {
			return nil, fmt.Errorf("invalid memory type %q", name)
		}
		types = append(types, t)
	}
	return types, nil
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("invalid memory id %q: %w", r, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func envScoringProvider() string { return os.Getenv("ENGRAM_SCORING_PROVIDER") }
func envScoringModel() string    { return os.Getenv("ENGRAM_SCORING_MODEL") }
