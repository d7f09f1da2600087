package memory

import (
	memengine "github.com/Protocol-Lattice/engram/pkg/memory/engine"
	"github.com/Protocol-Lattice/engram/pkg/memory/model"
	scorepkg "github.com/Protocol-Lattice/engram/pkg/memory/score"
	storepkg "github.com/Protocol-Lattice/engram/pkg/memory/store"
)

// Type aliases forming the public API of the memory system.
type (
	Engine             = memengine.Engine
	Options            = memengine.Options
	Metrics            = memengine.Metrics
	MetricsSnapshot    = memengine.MetricsSnapshot
	StoreRequest       = memengine.StoreRequest
	StoreResult        = memengine.StoreResult
	RetrieveRequest    = memengine.RetrieveRequest
	RetrieveResult     = memengine.RetrieveResult
	ConsolidateOptions = memengine.ConsolidateOptions
	ConsolidateReport  = memengine.ConsolidateReport
	DecayedMemory      = memengine.DecayedMemory
	CompressedGroup    = memengine.CompressedGroup
	PromotionCandidate = memengine.PromotionCandidate

	Memory     = model.Memory
	MemoryType = model.MemoryType
	Link       = model.Link

	Store             = storepkg.Store
	SchemaInitializer = storepkg.SchemaInitializer
	DedupResult       = storepkg.DedupResult
	InMemoryStore     = storepkg.InMemoryStore
	PostgresStore     = storepkg.PostgresStore

	Embedder        = scorepkg.Embedder
	DummyEmbedder   = scorepkg.DummyEmbedder
	Scorer          = scorepkg.Scorer
	HeuristicScorer = scorepkg.HeuristicScorer
)

const (
	Episodic   = model.Episodic
	Semantic   = model.Semantic
	Procedural = model.Procedural

	ActionCreated    = memengine.ActionCreated
	ActionReinforced = memengine.ActionReinforced
)

var (
	ErrInvariant    = model.ErrInvariant
	ErrNotFound     = storepkg.ErrNotFound
	ErrStore        = storepkg.ErrStore
	ErrScoring      = scorepkg.ErrScoring
	ErrNotSupported = scorepkg.ErrNotSupported

	NewEngine      = memengine.NewEngine
	DefaultOptions = memengine.DefaultOptions

	Retention = model.Retention

	NewInMemoryStore = storepkg.NewInMemoryStore
	NewPostgresStore = storepkg.NewPostgresStore

	AutoEmbedder      = scorepkg.AutoEmbedder
	AutoScorer        = scorepkg.AutoScorer
	DummyEmbedding    = scorepkg.DummyEmbedding
	NewOpenAIEmbedder = scorepkg.NewOpenAIEmbedder
	NewOllamaEmbedder = scorepkg.NewOllamaEmbedder
	NewGeminiEmbedder = scorepkg.NewGeminiEmbedder
)
