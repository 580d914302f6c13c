// internal/service/match/filter.go

package match

import (
	"github.com/sirupsen/logrus"

	"triage/internal/domain/incident"
	"triage/internal/domain/report"
)

// CandidateFilter narrows the set of open incidents a report could belong
// to using deterministic admission rules, bounding the list handed to the
// classifier.
type CandidateFilter struct {
	config Config
	logger *logrus.Logger
}

// NewCandidateFilter creates a new candidate filter
func NewCandidateFilter(config Config, logger *logrus.Logger) *CandidateFilter {
	return &CandidateFilter{
		config: config,
		logger: logger,
	}
}

// Filter returns the incidents that pass every admission rule for the
// report. The result is an unordered candidate set.
//
// Rules: the temporal window always applies and fails closed on missing
// timestamps. The spatial threshold applies only when the report carries
// a location; ungeocoded reports instead face the lexical floor as the
// final gate.
func (f *CandidateFilter) Filter(rep report.Report, incidents []incident.Incident) []incident.Incident {
	log := f.logger.WithFields(logrus.Fields{
		"component": "candidate_filter",
		"report_id": rep.ID,
	})

	if rep.Timestamp.IsZero() {
		log.Warn("Report has no timestamp, rejecting all candidates")
		return nil
	}

	var candidates []incident.Incident
	for i := range incidents {
		inc := incidents[i]

		if !f.withinTimeWindow(rep, &inc) {
			continue
		}

		if rep.Location != nil {
			if !f.withinDistance(rep, &inc) {
				continue
			}
		} else {
			// Ungeocoded report: lexical floor is the final gate
			if !f.lexicalMatch(rep, &inc) {
				continue
			}
		}

		candidates = append(candidates, inc)
	}

	log.WithFields(logrus.Fields{
		"incidents":  len(incidents),
		"candidates": len(candidates),
	}).Debug("Candidate filtering complete")

	return candidates
}

// withinTimeWindow checks the temporal rule, failing closed on a missing
// incident timestamp.
func (f *CandidateFilter) withinTimeWindow(rep report.Report, inc *incident.Incident) bool {
	if inc.LastUpdatedAt.IsZero() {
		return false
	}

	diff := rep.Timestamp.Sub(inc.LastUpdatedAt)
	if diff < 0 {
		diff = -diff
	}
	return diff <= f.config.TimeWindow
}

// withinDistance checks whether any of the incident's locations is inside
// the distance threshold.
func (f *CandidateFilter) withinDistance(rep report.Report, inc *incident.Incident) bool {
	for i := range inc.Locations {
		if DistanceKm(rep.Location, &inc.Locations[i]) <= f.config.DistanceThresholdKm {
			return true
		}
	}
	return false
}

// lexicalMatch checks the report text against the incident summary and,
// failing that, against the texts of previously linked reports.
func (f *CandidateFilter) lexicalMatch(rep report.Report, inc *incident.Incident) bool {
	if CommonWordCount(rep.Text, inc.Summary) >= f.config.MinCommonWords {
		return true
	}
	for _, prev := range inc.Reports {
		if CommonWordCount(rep.Text, prev.Text) >= f.config.MinCommonWords {
			return true
		}
	}
	return false
}
