// internal/adapter/storage/incident_store.go

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"triage/internal/domain/incident"
	"triage/internal/domain/report"
)

// IncidentStore implements storage for incidents
type IncidentStore struct {
	db *pgxpool.Pool
}

// NewIncidentStore creates a new incident store
func NewIncidentStore(db *pgxpool.Pool) *IncidentStore {
	return &IncidentStore{
		db: db,
	}
}

// Create persists a new incident
func (s *IncidentStore) Create(ctx context.Context, inc incident.Incident) error {
	query := `
		INSERT INTO incidents (
			id, name, category, summary, tags,
			locations, status, created_at, last_updated_at, metadata
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)
	`

	locationsJSON, err := json.Marshal(locationsOrEmpty(inc.Locations))
	if err != nil {
		return fmt.Errorf("error marshaling locations: %w", err)
	}

	metadataJSON, err := json.Marshal(metadataOrEmpty(inc.Metadata))
	if err != nil {
		return fmt.Errorf("error marshaling metadata: %w", err)
	}

	_, err = s.db.Exec(
		ctx,
		query,
		inc.ID,
		inc.Name,
		inc.Category,
		inc.Summary,
		inc.Tags,
		locationsJSON,
		inc.Status,
		inc.CreatedAt,
		inc.LastUpdatedAt,
		metadataJSON,
	)

	if err != nil {
		return fmt.Errorf("error executing query: %w", err)
	}

	return nil
}

// Get retrieves an incident by ID, with its linked report summaries
func (s *IncidentStore) Get(ctx context.Context, id string) (*incident.Incident, error) {
	query := selectIncidents + ` WHERE id = $1`

	row := s.db.QueryRow(ctx, query, id)
	inc, err := scanIncident(row)
	if err != nil {
		return nil, fmt.Errorf("error querying incident: %w", err)
	}

	if err := s.loadReports(ctx, []*incident.Incident{inc}); err != nil {
		return nil, err
	}

	return inc, nil
}

// ListActive returns incidents in the active status set, with linked
// report summaries loaded for matching.
func (s *IncidentStore) ListActive(ctx context.Context, activeStatuses []string) ([]incident.Incident, error) {
	query := selectIncidents + `
		WHERE LOWER(status) = ANY($1)
		ORDER BY last_updated_at DESC
	`

	lowered := make([]string, 0, len(activeStatuses))
	for _, st := range activeStatuses {
		lowered = append(lowered, strings.ToLower(st))
	}

	rows, err := s.db.Query(ctx, query, lowered)
	if err != nil {
		return nil, fmt.Errorf("error querying active incidents: %w", err)
	}
	defer rows.Close()

	incidents, err := collectIncidents(rows)
	if err != nil {
		return nil, err
	}

	refs := make([]*incident.Incident, len(incidents))
	for i := range incidents {
		refs[i] = &incidents[i]
	}
	if err := s.loadReports(ctx, refs); err != nil {
		return nil, err
	}

	return incidents, nil
}

// Find returns incidents matching the filter
func (s *IncidentStore) Find(ctx context.Context, filter incident.Filter) ([]incident.Incident, error) {
	query := selectIncidents + ` WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if len(filter.Statuses) > 0 {
		query += fmt.Sprintf(" AND LOWER(status) = ANY($%d)", argIndex)
		lowered := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			lowered = append(lowered, strings.ToLower(st))
		}
		args = append(args, lowered)
		argIndex++
	}

	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIndex)
		args = append(args, filter.Since)
		argIndex++
	}

	query += " ORDER BY last_updated_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying incidents: %w", err)
	}
	defer rows.Close()

	return collectIncidents(rows)
}

// AppendLocation adds a point to the incident's location set unless an
// identical point is already present. The containment guard makes the
// append idempotent under concurrent commits.
func (s *IncidentStore) AppendLocation(ctx context.Context, incidentID string, p report.Point) error {
	query := `
		UPDATE incidents
		SET locations = locations || $2::jsonb
		WHERE id = $1 AND NOT locations @> $2::jsonb
	`

	pointJSON, err := json.Marshal([]report.Point{p})
	if err != nil {
		return fmt.Errorf("error marshaling location: %w", err)
	}

	if _, err := s.db.Exec(ctx, query, incidentID, pointJSON); err != nil {
		return fmt.Errorf("error appending location: %w", err)
	}

	return nil
}

// Touch bumps the incident's last_updated_at, keeping it monotonic
func (s *IncidentStore) Touch(ctx context.Context, incidentID string, at time.Time) error {
	query := `
		UPDATE incidents
		SET last_updated_at = GREATEST(last_updated_at, $2)
		WHERE id = $1
	`

	if _, err := s.db.Exec(ctx, query, incidentID, at); err != nil {
		return fmt.Errorf("error touching incident: %w", err)
	}

	return nil
}

// UpdateDetails applies last-writer-wins descriptive metadata. Empty
// values leave the stored column untouched.
func (s *IncidentStore) UpdateDetails(ctx context.Context, incidentID string, name, category, summary string, tags []string) error {
	query := `
		UPDATE incidents
		SET
			name = COALESCE(NULLIF($2, ''), name),
			category = COALESCE(NULLIF($3, ''), category),
			summary = COALESCE(NULLIF($4, ''), summary),
			tags = CASE WHEN $5::text[] IS NULL THEN tags ELSE $5::text[] END
		WHERE id = $1
	`

	if _, err := s.db.Exec(ctx, query, incidentID, name, category, summary, tags); err != nil {
		return fmt.Errorf("error updating incident details: %w", err)
	}

	return nil
}

// UpdateStatus sets the incident status; closure is an operator action
// performed through this call, never by the engine.
func (s *IncidentStore) UpdateStatus(ctx context.Context, incidentID, status string) error {
	query := `UPDATE incidents SET status = $2 WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, incidentID, status)
	if err != nil {
		return fmt.Errorf("error updating incident status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("incident %s not found", incidentID)
	}

	return nil
}

const selectIncidents = `
	SELECT id, name, category, summary, tags,
		locations, status, created_at, last_updated_at, metadata
	FROM incidents
`

func scanIncident(row rowScanner) (*incident.Incident, error) {
	var inc incident.Incident
	var locationsJSON, metadataJSON []byte

	err := row.Scan(
		&inc.ID,
		&inc.Name,
		&inc.Category,
		&inc.Summary,
		&inc.Tags,
		&locationsJSON,
		&inc.Status,
		&inc.CreatedAt,
		&inc.LastUpdatedAt,
		&metadataJSON,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(locationsJSON, &inc.Locations); err != nil {
		return nil, fmt.Errorf("error unmarshaling locations: %w", err)
	}
	if err := json.Unmarshal(metadataJSON, &inc.Metadata); err != nil {
		return nil, fmt.Errorf("error unmarshaling metadata: %w", err)
	}

	return &inc, nil
}

func collectIncidents(rows pgx.Rows) ([]incident.Incident, error) {
	var incidents []incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning incident: %w", err)
		}
		incidents = append(incidents, *inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating incidents: %w", err)
	}
	return incidents, nil
}

// loadReports attaches linked report summaries to each incident, oldest
// first so the first report's external ID stays the incident's primary
// external reference. ReportCount is derived here.
func (s *IncidentStore) loadReports(ctx context.Context, incidents []*incident.Incident) error {
	if len(incidents) == 0 {
		return nil
	}

	ids := make([]string, 0, len(incidents))
	byID := make(map[string]*incident.Incident, len(incidents))
	for _, inc := range incidents {
		ids = append(ids, inc.ID)
		byID[inc.ID] = inc
	}

	query := selectReports + `
		WHERE incident_ref = ANY($1)
		ORDER BY created_at ASC
	`

	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("error querying incident reports: %w", err)
	}
	defer rows.Close()

	reports, err := collectReports(rows)
	if err != nil {
		return err
	}

	for _, rep := range reports {
		if inc, ok := byID[rep.IncidentRef]; ok {
			inc.Reports = append(inc.Reports, rep)
			inc.ReportCount++
		}
	}

	return nil
}

func locationsOrEmpty(locations []report.Point) []report.Point {
	if locations == nil {
		return []report.Point{}
	}
	return locations
}

func metadataOrEmpty(metadata map[string]string) map[string]string {
	if metadata == nil {
		return map[string]string{}
	}
	return metadata
}
