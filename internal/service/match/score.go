// internal/service/match/score.go

package match

import (
	"github.com/sirupsen/logrus"

	"triage/internal/domain/incident"
	"triage/internal/domain/report"
)

// ReasonNone is reported when no evidence rule fired
const ReasonNone = "No Matching Factors"

// Scorer is the deterministic matching path. It combines evidence
// (external ID, time, location, content) through a fixed priority table;
// the highest-priority rule that fires sets the confidence, with no
// averaging. The constants are a behavioral contract and must not be
// re-derived.
type Scorer struct {
	config Config
	logger *logrus.Logger
}

// NewScorer creates a new scorer
func NewScorer(config Config, logger *logrus.Logger) *Scorer {
	return &Scorer{
		config: config,
		logger: logger,
	}
}

// Score computes the confidence that a report belongs to an incident,
// returning the confidence in [0,1] and the evidence it rests on.
func (s *Scorer) Score(rep report.Report, inc *incident.Incident) (float64, string) {
	timeMatch := s.timeMatch(rep, inc)
	idMatch := s.externalIDMatch(rep, inc)
	locationMatch := s.locationMatch(rep, inc)
	contentMatch := s.contentMatch(rep, inc)

	switch {
	case idMatch && timeMatch && locationMatch:
		return 0.98, "ExternalID+Time+Location"
	case idMatch && timeMatch:
		return 0.95, "ExternalID+Time"
	case idMatch && locationMatch:
		return 0.90, "ExternalID+Location"
	case idMatch:
		return 0.88, "ExternalID Only"
	case timeMatch && locationMatch && contentMatch:
		return 0.85, "Time+Location+Content"
	case timeMatch && locationMatch:
		return 0.75, "Time+Location"
	case timeMatch && contentMatch:
		return 0.65, "Time+Content"
	case locationMatch && contentMatch:
		return 0.60, "Location+Content"
	case timeMatch:
		return 0.40, "Time Only"
	case locationMatch:
		return 0.30, "Location Only"
	case contentMatch:
		return 0.20, "Content Only"
	default:
		return 0.0, ReasonNone
	}
}

// FindBestMatch evaluates every active incident and keeps the maximum
// confidence. A match is returned only when the best confidence clears
// the similarity threshold; otherwise the empty ID is returned together
// with the highest confidence observed, for diagnostics.
func (s *Scorer) FindBestMatch(rep report.Report, incidents []incident.Incident) (string, float64, string) {
	log := s.logger.WithFields(logrus.Fields{
		"component": "scorer",
		"report_id": rep.ID,
	})

	active := s.activeStatuses()

	bestID := ""
	bestScore := 0.0
	bestReason := "No Match Found"

	for i := range incidents {
		inc := incidents[i]
		if !inc.IsActive(active) {
			continue
		}

		score, reason := s.Score(rep, &inc)
		if score > bestScore {
			bestID = inc.ID
			bestScore = score
			bestReason = reason
		}
	}

	if bestID != "" && bestScore >= s.config.SimilarityThreshold {
		log.WithFields(logrus.Fields{
			"incident_id": bestID,
			"confidence":  bestScore,
			"reason":      bestReason,
		}).Info("Deterministic match found")
		return bestID, bestScore, bestReason
	}

	log.WithFields(logrus.Fields{
		"confidence": bestScore,
		"reason":     bestReason,
	}).Debug("No incident above similarity threshold")
	return "", bestScore, bestReason
}

func (s *Scorer) activeStatuses() []string {
	if len(s.config.ActiveStatuses) > 0 {
		return s.config.ActiveStatuses
	}
	return incident.DefaultActiveStatuses
}

// timeMatch fails closed when either timestamp is missing
func (s *Scorer) timeMatch(rep report.Report, inc *incident.Incident) bool {
	if rep.Timestamp.IsZero() || inc.LastUpdatedAt.IsZero() {
		return false
	}

	diff := rep.Timestamp.Sub(inc.LastUpdatedAt)
	if diff < 0 {
		diff = -diff
	}
	return diff <= s.config.TimeWindow
}

// externalIDMatch compares the report's external incident ID against the
// external ID of the incident's first linked report.
func (s *Scorer) externalIDMatch(rep report.Report, inc *incident.Incident) bool {
	if rep.ExternalIncidentID == "" {
		return false
	}
	first := inc.FirstExternalID()
	return first != "" && rep.ExternalIncidentID == first
}

func (s *Scorer) locationMatch(rep report.Report, inc *incident.Incident) bool {
	if rep.Location == nil {
		return false
	}
	for i := range inc.Locations {
		if DistanceKm(rep.Location, &inc.Locations[i]) <= s.config.DistanceThresholdKm {
			return true
		}
	}
	return false
}

// contentMatch checks the report text against the incident summary first,
// then against the texts of previously linked reports.
func (s *Scorer) contentMatch(rep report.Report, inc *incident.Incident) bool {
	words := MeaningfulWords(rep.Text)
	if len(words) == 0 {
		return false
	}

	if CommonWordCount(rep.Text, inc.Summary) >= s.config.MinCommonWords {
		return true
	}
	for _, prev := range inc.Reports {
		if CommonWordCount(rep.Text, prev.Text) >= s.config.MinCommonWords {
			return true
		}
	}
	return false
}
