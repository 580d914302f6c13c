package correlation

import (
	"context"
	"errors"

	"triage/internal/domain/incident"
	"triage/internal/domain/report"
)

// ErrClassifierUnavailable covers timeouts, transport failures and
// malformed responses from the external classifier. The engine treats it
// as a signal to fall back to deterministic matching, never as a decision.
var ErrClassifierUnavailable = errors.New("classifier unavailable")

// ErrInvalidInput marks reports whose required matching fields are missing
// or unparseable. Such reports are excluded from matching, not crashed on.
var ErrInvalidInput = errors.New("invalid matching input")

// DecisionKind distinguishes the two possible classifier verdicts
type DecisionKind string

const (
	DecisionMatch DecisionKind = "match"
	DecisionNew   DecisionKind = "new"
)

// ProposedDetails are the descriptive fields a classifier suggests for a
// newly created incident.
type ProposedDetails struct {
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Summary  string            `json:"summary"`
	Tags     []string          `json:"tags,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Decision is the classifier's verdict for one report against a candidate
// set: either link to an existing incident or open a new one.
type Decision struct {
	Kind       DecisionKind
	IncidentID string
	Proposed   ProposedDetails
}

// Group is a set of report IDs believed to describe the same incident
// within one processing batch.
type Group struct {
	ReportIDs []string
}

// Classifier is the external semantic judge. Implementations are
// stateless between calls; the orchestrator owns all side effects.
type Classifier interface {
	// Decide renders a match-or-new verdict for a report against a small,
	// pre-filtered candidate list.
	Decide(ctx context.Context, rep report.Report, candidates []incident.Incident) (Decision, error)

	// GroupReports partitions a batch of unlinked reports into
	// same-incident groups. Implementations may drop or duplicate IDs;
	// callers must repair the partition to cover every input exactly once.
	GroupReports(ctx context.Context, reports []report.Report) ([]Group, error)
}
