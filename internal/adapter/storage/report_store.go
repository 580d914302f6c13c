// internal/adapter/storage/report_store.go

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"triage/internal/domain/report"
)

// ReportStore implements storage for reports
type ReportStore struct {
	db *pgxpool.Pool
}

// NewReportStore creates a new report store
func NewReportStore(db *pgxpool.Pool) *ReportStore {
	return &ReportStore{
		db: db,
	}
}

// Save persists a new report
func (s *ReportStore) Save(ctx context.Context, r report.Report) error {
	query := `
		INSERT INTO reports (
			id, external_incident_id, occurred_at, body,
			latitude, longitude, link_status, incident_ref, source, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10
		)
	`

	var lat, lng *float64
	if r.Location != nil {
		lat = &r.Location.Latitude
		lng = &r.Location.Longitude
	}

	var incidentRef *string
	if r.IncidentRef != "" {
		incidentRef = &r.IncidentRef
	}

	_, err := s.db.Exec(
		ctx,
		query,
		r.ID,
		nullable(r.ExternalIncidentID),
		r.Timestamp,
		r.Text,
		lat,
		lng,
		string(r.LinkStatus),
		incidentRef,
		nullable(r.Source),
		r.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("error executing query: %w", err)
	}

	return nil
}

// Get retrieves a report by ID
func (s *ReportStore) Get(ctx context.Context, id string) (*report.Report, error) {
	query := selectReports + ` WHERE id = $1`

	row := s.db.QueryRow(ctx, query, id)
	rep, err := scanReport(row)
	if err != nil {
		return nil, fmt.Errorf("error querying report: %w", err)
	}
	return rep, nil
}

// ListUnlinked returns reports awaiting correlation, oldest first
func (s *ReportStore) ListUnlinked(ctx context.Context) ([]report.Report, error) {
	query := selectReports + `
		WHERE link_status = 'unlinked'
		ORDER BY created_at ASC
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying unlinked reports: %w", err)
	}
	defer rows.Close()

	return collectReports(rows)
}

// Find returns reports matching the filter
func (s *ReportStore) Find(ctx context.Context, filter report.Filter) ([]report.Report, error) {
	query := selectReports + ` WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if filter.LinkStatus != "" {
		query += fmt.Sprintf(" AND link_status = $%d", argIndex)
		args = append(args, string(filter.LinkStatus))
		argIndex++
	}

	if filter.IncidentRef != "" {
		query += fmt.Sprintf(" AND incident_ref = $%d", argIndex)
		args = append(args, filter.IncidentRef)
		argIndex++
	}

	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIndex)
		args = append(args, filter.Since)
		argIndex++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying reports: %w", err)
	}
	defer rows.Close()

	return collectReports(rows)
}

// Link attaches a report to an incident, conditional on the report still
// being unlinked. A report that lost the race returns report.ErrConflict.
func (s *ReportStore) Link(ctx context.Context, reportID, incidentID string) error {
	query := `
		UPDATE reports
		SET link_status = 'linked', incident_ref = $2
		WHERE id = $1 AND link_status = 'unlinked'
	`

	tag, err := s.db.Exec(ctx, query, reportID, incidentID)
	if err != nil {
		return fmt.Errorf("error linking report: %w", err)
	}

	if tag.RowsAffected() > 0 {
		return nil
	}

	// No row updated: either the report is gone or it was already linked
	var status string
	err = s.db.QueryRow(ctx, `SELECT link_status FROM reports WHERE id = $1`, reportID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("report %s not found", reportID)
	}
	if err != nil {
		return fmt.Errorf("error checking report status: %w", err)
	}

	if status == string(report.StatusLinked) {
		return report.ErrConflict
	}
	return fmt.Errorf("report %s not linkable in status %q", reportID, status)
}

const selectReports = `
	SELECT id, external_incident_id, occurred_at, body,
		latitude, longitude, link_status, incident_ref, source, created_at
	FROM reports
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(row rowScanner) (*report.Report, error) {
	var r report.Report
	var externalID, incidentRef, source *string
	var lat, lng *float64
	var status string

	err := row.Scan(
		&r.ID,
		&externalID,
		&r.Timestamp,
		&r.Text,
		&lat,
		&lng,
		&status,
		&incidentRef,
		&source,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.LinkStatus = report.LinkStatus(status)
	if externalID != nil {
		r.ExternalIncidentID = *externalID
	}
	if incidentRef != nil {
		r.IncidentRef = *incidentRef
	}
	if source != nil {
		r.Source = *source
	}
	if lat != nil && lng != nil {
		r.Location = &report.Point{Latitude: *lat, Longitude: *lng}
	}

	return &r, nil
}

func collectReports(rows pgx.Rows) ([]report.Report, error) {
	var reports []report.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning report: %w", err)
		}
		reports = append(reports, *rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}
	return reports, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
