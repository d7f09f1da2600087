// Command engram is the operational CLI for the cognitive memory store.
// Every subcommand prints a single JSON object to stdout; diagnostics go
// to stderr as structured logs.
//
// Exit codes: 0 success, 1 usage, 2 configuration, 3 persistence,
// 4 external scoring.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Protocol-Lattice/engram/pkg/config"
	"github.com/Protocol-Lattice/engram/pkg/memory"
)

const (
	exitOK = iota
	exitUsage
	exitConfig
	exitPersistence
	exitScoring
)

var logger *zap.Logger

func main() {
	var err error
	logger, err = zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(exitConfig)
	}
	defer logger.Sync()

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		logger.Error("command failed", zap.Error(err))
		logger.Sync()
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "engram",
		Short:         "Cognitive memory store for autonomous agents",
		Long:          "engram stores, retrieves and consolidates agent memories with\nhuman-like decay, reinforcement and associative recall.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newInitCmd(),
		newStoreCmd(),
		newRetrieveCmd(),
		newConsolidateCmd(),
		newLinkCmd(),
		newExtractTopicsCmd(),
		newScoreImportanceCmd(),
		newSummarizeCmd(),
	)
	return root
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, config.ErrConfig):
		return exitConfig
	case errors.Is(err, memory.ErrStore):
		return exitPersistence
	case errors.Is(err, memory.ErrScoring):
		return exitScoring
	default:
		return exitUsage
	}
}

// newEngine assembles the engine from configuration. The caller owns the
// returned store and must Close it.
func newEngine(ctx context.Context, cfg config.Config) (*memory.Engine, *memory.PostgresStore, error) {
	st, err := memory.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.EmbedDim, logger)
	if err != nil {
		return nil, nil, err
	}
	embedder, err := memory.AutoEmbedder(cfg.EmbedProvider, cfg.EmbedModel, cfg.EmbedDim)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
	}
	scorer, err := newScorer(cfg.ScoringProvider, cfg.ScoringModel)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	opts := memory.DefaultOptions()
	opts.DedupThreshold = cfg.DedupThreshold
	opts.MinRetention = cfg.MinRetention
	opts.PromotionStability = cfg.PromotionStability
	opts.PromotionAccess = cfg.PromotionAccess
	eng := memory.NewEngine(st, opts).
		WithEmbedder(embedder).
		WithScorer(scorer).
		WithLogger(logger)
	return eng, st, nil
}

func newScorer(provider, model string) (memory.Scorer, error) {
	scorer, err := memory.AutoScorer(provider, model)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
	}
	return scorer, nil
}

// emit prints the command's result envelope to stdout.
func emit(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
