package correlate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triage/internal/domain/correlation"
	"triage/internal/domain/report"
)

func batch(ids ...string) []report.Report {
	reports := make([]report.Report, 0, len(ids))
	for _, id := range ids {
		reports = append(reports, report.Report{ID: id, Timestamp: time.Now()})
	}
	return reports
}

// allIDs flattens a partition for coverage checks
func allIDs(groups []correlation.Group) map[string]int {
	seen := map[string]int{}
	for _, g := range groups {
		for _, id := range g.ReportIDs {
			seen[id]++
		}
	}
	return seen
}

func TestPartition_SingleReport(t *testing.T) {
	classifier := &fakeClassifier{}
	g := NewGroupingStage(classifier, newTestLogger())

	groups := g.Partition(context.Background(), batch("r1"))

	require.Len(t, groups, 1)
	assert.Equal(t, []string{"r1"}, groups[0].ReportIDs)
	// A single report never warrants a grouping call
	assert.Equal(t, 0, classifier.groupCalls)
}

func TestPartition_NilClassifier(t *testing.T) {
	g := NewGroupingStage(nil, newTestLogger())

	groups := g.Partition(context.Background(), batch("r1", "r2", "r3"))

	require.Len(t, groups, 3)
	for i, id := range []string{"r1", "r2", "r3"} {
		assert.Equal(t, []string{id}, groups[i].ReportIDs)
	}
}

func TestPartition_AcceptsProposal(t *testing.T) {
	classifier := &fakeClassifier{
		groupFn: func(reports []report.Report) ([]correlation.Group, error) {
			return []correlation.Group{
				{ReportIDs: []string{"r1", "r3"}},
				{ReportIDs: []string{"r2"}},
			}, nil
		},
	}
	g := NewGroupingStage(classifier, newTestLogger())

	groups := g.Partition(context.Background(), batch("r1", "r2", "r3"))

	require.Len(t, groups, 2)
	assert.Equal(t, []string{"r1", "r3"}, groups[0].ReportIDs)
	assert.Equal(t, []string{"r2"}, groups[1].ReportIDs)
}

func TestPartition_RepairsIncompleteProposal(t *testing.T) {
	// The classifier drops r3; it must come back as a singleton
	classifier := &fakeClassifier{
		groupFn: func(reports []report.Report) ([]correlation.Group, error) {
			return []correlation.Group{{ReportIDs: []string{"r1", "r2"}}}, nil
		},
	}
	g := NewGroupingStage(classifier, newTestLogger())

	groups := g.Partition(context.Background(), batch("r1", "r2", "r3"))

	seen := allIDs(groups)
	assert.Equal(t, map[string]int{"r1": 1, "r2": 1, "r3": 1}, seen)
}

func TestPartition_DiscardsUnknownAndDuplicateIDs(t *testing.T) {
	classifier := &fakeClassifier{
		groupFn: func(reports []report.Report) ([]correlation.Group, error) {
			return []correlation.Group{
				{ReportIDs: []string{"r1", "ghost"}},
				{ReportIDs: []string{"r1", "r2"}},
			}, nil
		},
	}
	g := NewGroupingStage(classifier, newTestLogger())

	groups := g.Partition(context.Background(), batch("r1", "r2"))

	seen := allIDs(groups)
	// Every input exactly once, the fabricated ID gone
	assert.Equal(t, map[string]int{"r1": 1, "r2": 1}, seen)
}

func TestPartition_FailureFallsBackToSingletons(t *testing.T) {
	classifier := &fakeClassifier{
		groupFn: func(reports []report.Report) ([]correlation.Group, error) {
			return nil, errors.New("timeout")
		},
	}
	g := NewGroupingStage(classifier, newTestLogger())

	groups := g.Partition(context.Background(), batch("r1", "r2"))

	require.Len(t, groups, 2)
	assert.Equal(t, []string{"r1"}, groups[0].ReportIDs)
	assert.Equal(t, []string{"r2"}, groups[1].ReportIDs)
}

func TestPartition_EmptyBatch(t *testing.T) {
	g := NewGroupingStage(&fakeClassifier{}, newTestLogger())

	assert.Empty(t, g.Partition(context.Background(), nil))
}
