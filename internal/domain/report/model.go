package report

import (
	"context"
	"errors"
	"time"
)

// LinkStatus tracks whether a report has been attached to an incident
type LinkStatus string

const (
	StatusUnlinked LinkStatus = "unlinked"
	StatusLinked   LinkStatus = "linked"
)

// ErrConflict is returned by Store.Link when the report is no longer
// unlinked; callers decide whether the existing link makes it a no-op.
var ErrConflict = errors.New("report already linked")

// Point is a geographic coordinate pair
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Report is a single incoming account of an event (call transcript,
// alert, upload). Reports arrive unlinked and are attached to exactly
// one incident by the correlation engine.
type Report struct {
	ID                 string     `json:"id"`
	ExternalIncidentID string     `json:"external_incident_id,omitempty"`
	Timestamp          time.Time  `json:"timestamp"`
	Text               string     `json:"text"`
	Location           *Point     `json:"location,omitempty"`
	LinkStatus         LinkStatus `json:"link_status"`
	IncidentRef        string     `json:"incident_ref,omitempty"`
	Source             string     `json:"source,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Filter defines criteria for listing reports
type Filter struct {
	LinkStatus  LinkStatus
	IncidentRef string
	Since       time.Time
	Limit       int
}

// Store defines storage for reports
type Store interface {
	// Save persists a new report
	Save(ctx context.Context, r Report) error

	// Get retrieves a report by ID
	Get(ctx context.Context, id string) (*Report, error)

	// ListUnlinked returns reports that have not been linked yet
	ListUnlinked(ctx context.Context) ([]Report, error)

	// Find returns reports matching the filter
	Find(ctx context.Context, filter Filter) ([]Report, error)

	// Link attaches a report to an incident. The write is conditional on
	// the report still being unlinked; ErrConflict is returned otherwise.
	Link(ctx context.Context, reportID, incidentID string) error
}
