package agent

// RefinementConfig tunes the stagnation and scoring heuristics used by
// the refinement engine. Zero values are replaced by defaults.
type RefinementConfig struct {
	// SimilarityThreshold is the Jaccard word-set similarity above which
	// a response is considered a repeat of the best result so far.
	// Default: 0.85
	SimilarityThreshold float64

	// MaxConsecutiveFailures is the stagnation count at which the engine
	// pivots to an untried strategy, or stops when none remain.
	// Default: 3
	MaxConsecutiveFailures int

	// MinAcceptableScore is the floor for the trailing mean of cumulative
	// scores; dropping below it triggers a pivot.
	// Default: 0.3
	MinAcceptableScore float64

	// ScoreWindow is the number of trailing iterations averaged for the
	// score-floor check.
	// Default: 3
	ScoreWindow int
}

// DefaultRefinementConfig returns the default refinement configuration.
func DefaultRefinementConfig() RefinementConfig {
	return RefinementConfig{
		SimilarityThreshold:    0.85,
		MaxConsecutiveFailures: 3,
		MinAcceptableScore:     0.3,
		ScoreWindow:            3,
	}
}

// WithDefaults fills in missing config values with defaults.
func (c RefinementConfig) WithDefaults() RefinementConfig {
	result := c
	if result.SimilarityThreshold == 0 {
		result.SimilarityThreshold = 0.85
	}
	if result.MaxConsecutiveFailures == 0 {
		result.MaxConsecutiveFailures = 3
	}
	if result.MinAcceptableScore == 0 {
		result.MinAcceptableScore = 0.3
	}
	if result.ScoreWindow == 0 {
		result.ScoreWindow = 3
	}
	return result
}
