package engine

import "time"

// Options configures the memory engine. Zero values fall back to the
// recommended defaults.
type Options struct {
	// DedupThreshold is the cosine similarity above which a write is
	// absorbed by an existing memory instead of creating a row.
	DedupThreshold float64
	// MinRetention excludes heavily decayed memories from retrieval.
	MinRetention float64
	// DefaultLimit caps retrieval when the caller does not set one.
	DefaultLimit int
	// LinkIncrement is added to an existing edge on every strengthening.
	LinkIncrement float64
	// AssociationStrengthMin filters weak edges during read-path
	// association expansion.
	AssociationStrengthMin float64
	// CompressionThreshold is the number of fading memories that must
	// accumulate before the consolidator attempts topic compression.
	CompressionThreshold int
	// ClusterMin is the smallest topic group worth summarizing.
	ClusterMin int
	// DecayCutoff marks memories as fading.
	DecayCutoff float64
	// TrashCutoff is the retention below which dormant memories are
	// soft-deleted.
	TrashCutoff float64
	// Dormancy is how long a memory must sit unaccessed below
	// TrashCutoff before the sweep removes it.
	Dormancy time.Duration
	// PromotionStability and PromotionAccess select stable,
	// frequently-recalled semantic memories for external promotion.
	PromotionStability float64
	PromotionAccess    int
	// SummaryImportance is assigned to generated gists.
	SummaryImportance float64
	// Clock overrides the time source; tests use this.
	Clock func() time.Time
}

// DefaultOptions returns the recommended defaults for the memory engine.
func DefaultOptions() Options {
	return Options{
		DedupThreshold:         0.92,
		MinRetention:           0.2,
		DefaultLimit:           5,
		LinkIncrement:          0.1,
		AssociationStrengthMin: 0.3,
		CompressionThreshold:   5,
		ClusterMin:             3,
		DecayCutoff:            0.2,
		TrashCutoff:            0.05,
		Dormancy:               30 * 24 * time.Hour,
		PromotionStability:     0.9,
		PromotionAccess:        10,
		SummaryImportance:      0.7,
	}
}

func (o Options) withDefaults() Options {
	defaults := DefaultOptions()
	if o.DedupThreshold == 0 {
		o.DedupThreshold = defaults.DedupThreshold
	}
	if o.MinRetention == 0 {
		o.MinRetention = defaults.MinRetention
	}
	if o.DefaultLimit == 0 {
		o.DefaultLimit = defaults.DefaultLimit
	}
	if o.LinkIncrement == 0 {
		o.LinkIncrement = defaults.LinkIncrement
	}
	if o.AssociationStrengthMin == 0 {
		o.AssociationStrengthMin = defaults.AssociationStrengthMin
	}
	if o.CompressionThreshold == 0 {
		o.CompressionThreshold = defaults.CompressionThreshold
	}
	if o.ClusterMin == 0 {
		o.ClusterMin = defaults.ClusterMin
	}
	if o.DecayCutoff == 0 {
		o.DecayCutoff = defaults.DecayCutoff
	}
	if o.TrashCutoff == 0 {
		o.TrashCutoff = defaults.TrashCutoff
	}
	if o.Dormancy == 0 {
		o.Dormancy = defaults.Dormancy
	}
	if o.PromotionStability == 0 {
		o.PromotionStability = defaults.PromotionStability
	}
	if o.PromotionAccess == 0 {
		o.PromotionAccess = defaults.PromotionAccess
	}
	if o.SummaryImportance == 0 {
		o.SummaryImportance = defaults.SummaryImportance
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}
