package incident

import (
	"context"
	"strings"
	"time"

	"triage/internal/domain/report"
)

// Status values an operator can put an incident into. Only StatusOpen and
// StatusClosed are written by this system; dispatch systems contribute the
// rest and they count as still-active for matching.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// DefaultActiveStatuses are the incident statuses eligible to receive new
// reports when no override is configured.
var DefaultActiveStatuses = []string{
	StatusOpen,
	"active", "updated", "received", "rcvd",
	"dispatched", "dsp", "acknowledged", "ack",
	"enroute", "enr", "onscene", "onscn",
}

// Incident is an evolving cluster of reports believed to describe one
// real-world event.
type Incident struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Category      string            `json:"category"`
	Summary       string            `json:"summary"`
	Tags          []string          `json:"tags,omitempty"`
	Locations     []report.Point    `json:"locations,omitempty"`
	Status        string            `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	LastUpdatedAt time.Time         `json:"last_updated_at"`
	ReportCount   int               `json:"report_count"`
	// Reports carries the linked reports' matching-relevant fields
	// (external ID of the first report, recent texts). Loaded with the
	// incident for one correlation pass, never cached across cycles.
	Reports []report.Report `json:"reports,omitempty"`
	// Metadata holds classifier-proposed fields that are not first-class
	// engine state.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// FirstExternalID returns the external incident ID of the first linked
// report, or "" when none is known.
func (i *Incident) FirstExternalID() string {
	if len(i.Reports) == 0 {
		return ""
	}
	return i.Reports[0].ExternalIncidentID
}

// HasLocation reports whether p is already in the incident's location set.
func (i *Incident) HasLocation(p report.Point) bool {
	for _, loc := range i.Locations {
		if loc == p {
			return true
		}
	}
	return false
}

// IsActive reports whether the incident's status is in the given active
// set. Status strings come from external dispatch systems, so the
// comparison is case-insensitive.
func (i *Incident) IsActive(activeStatuses []string) bool {
	for _, s := range activeStatuses {
		if strings.EqualFold(i.Status, s) {
			return true
		}
	}
	return false
}

// Filter defines criteria for listing incidents
type Filter struct {
	Statuses []string
	Since    time.Time
	Limit    int
}

// Store defines storage for incidents
type Store interface {
	// Create persists a new incident
	Create(ctx context.Context, inc Incident) error

	// Get retrieves an incident by ID
	Get(ctx context.Context, id string) (*Incident, error)

	// ListActive returns incidents whose status is in the active set,
	// with their linked report summaries loaded for matching.
	ListActive(ctx context.Context, activeStatuses []string) ([]Incident, error)

	// Find returns incidents matching the filter
	Find(ctx context.Context, filter Filter) ([]Incident, error)

	// AppendLocation adds a point to the incident's location set if it is
	// not already present.
	AppendLocation(ctx context.Context, incidentID string, p report.Point) error

	// Touch bumps the incident's last_updated_at
	Touch(ctx context.Context, incidentID string, at time.Time) error

	// UpdateDetails applies last-writer-wins descriptive metadata
	UpdateDetails(ctx context.Context, incidentID string, name, category, summary string, tags []string) error

	// UpdateStatus sets the incident status (operator action)
	UpdateStatus(ctx context.Context, incidentID, status string) error
}
