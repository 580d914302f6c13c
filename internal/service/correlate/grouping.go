// internal/service/correlate/grouping.go

package correlate

import (
	"context"

	"github.com/sirupsen/logrus"

	"triage/internal/domain/correlation"
	"triage/internal/domain/report"
)

// GroupingStage partitions a batch of unlinked reports into same-incident
// groups before per-group correlation, so several accounts of one event
// arriving in the same cycle do not each open their own incident.
type GroupingStage struct {
	classifier correlation.Classifier
	logger     *logrus.Logger
}

// NewGroupingStage creates a new grouping stage
func NewGroupingStage(classifier correlation.Classifier, logger *logrus.Logger) *GroupingStage {
	return &GroupingStage{
		classifier: classifier,
		logger:     logger,
	}
}

// Partition splits reports into disjoint groups. The returned partition
// covers every input report exactly once: IDs the classifier drops become
// singleton groups, duplicates and unknown IDs are discarded. When the
// classifier is unavailable every report is its own group.
func (g *GroupingStage) Partition(ctx context.Context, reports []report.Report) []correlation.Group {
	if len(reports) <= 1 || g.classifier == nil {
		return singletons(reports)
	}

	log := g.logger.WithFields(logrus.Fields{
		"component": "grouping",
		"reports":   len(reports),
	})

	proposed, err := g.classifier.GroupReports(ctx, reports)
	if err != nil {
		log.WithError(err).Warn("Grouping call failed, falling back to singleton groups")
		return singletons(reports)
	}

	known := make(map[string]bool, len(reports))
	for _, rep := range reports {
		known[rep.ID] = true
	}

	seen := make(map[string]bool, len(reports))
	var groups []correlation.Group

	for _, group := range proposed {
		var ids []string
		for _, id := range group.ReportIDs {
			// Discard IDs we never sent and duplicate placements
			if !known[id] || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
		if len(ids) > 0 {
			groups = append(groups, correlation.Group{ReportIDs: ids})
		}
	}

	// Safety net: any report the classifier failed to place gets its own
	// group, in input order
	for _, rep := range reports {
		if !seen[rep.ID] {
			groups = append(groups, correlation.Group{ReportIDs: []string{rep.ID}})
		}
	}

	log.WithField("groups", len(groups)).Debug("Batch partitioned")
	return groups
}

func singletons(reports []report.Report) []correlation.Group {
	groups := make([]correlation.Group, 0, len(reports))
	for _, rep := range reports {
		groups = append(groups, correlation.Group{ReportIDs: []string{rep.ID}})
	}
	return groups
}
