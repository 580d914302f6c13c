// internal/service/match/config.go

package match

import "time"

// Config contains the deterministic matching thresholds
type Config struct {
	TimeWindow          time.Duration
	DistanceThresholdKm float64
	SimilarityThreshold float64
	MinCommonWords      int
	ActiveStatuses      []string
}

// DefaultConfig returns the matching defaults used when no overrides are
// configured.
func DefaultConfig() Config {
	return Config{
		TimeWindow:          60 * time.Minute,
		DistanceThresholdKm: 1.0,
		SimilarityThreshold: 0.70,
		MinCommonWords:      2,
	}
}
