package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triage/internal/domain/incident"
	"triage/internal/domain/report"
	"triage/internal/service/correlate"
)

// fakeReportStore is an in-memory report.Store for handler tests
type fakeReportStore struct {
	reports map[string]report.Report
	saveErr error
}

func newFakeReportStore() *fakeReportStore {
	return &fakeReportStore{reports: map[string]report.Report{}}
}

func (s *fakeReportStore) Save(ctx context.Context, r report.Report) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.reports[r.ID] = r
	return nil
}

func (s *fakeReportStore) Get(ctx context.Context, id string) (*report.Report, error) {
	r, ok := s.reports[id]
	if !ok {
		return nil, errors.New("report not found")
	}
	return &r, nil
}

func (s *fakeReportStore) ListUnlinked(ctx context.Context) ([]report.Report, error) {
	return nil, nil
}

func (s *fakeReportStore) Find(ctx context.Context, filter report.Filter) ([]report.Report, error) {
	var out []report.Report
	for _, r := range s.reports {
		if filter.LinkStatus != "" && r.LinkStatus != filter.LinkStatus {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeReportStore) Link(ctx context.Context, reportID, incidentID string) error {
	return nil
}

// fakeIncidentStore is an in-memory incident.Store for handler tests
type fakeIncidentStore struct {
	incidents map[string]incident.Incident
}

func newFakeIncidentStore() *fakeIncidentStore {
	return &fakeIncidentStore{incidents: map[string]incident.Incident{}}
}

func (s *fakeIncidentStore) Create(ctx context.Context, inc incident.Incident) error {
	s.incidents[inc.ID] = inc
	return nil
}

func (s *fakeIncidentStore) Get(ctx context.Context, id string) (*incident.Incident, error) {
	inc, ok := s.incidents[id]
	if !ok {
		return nil, errors.New("incident not found")
	}
	return &inc, nil
}

func (s *fakeIncidentStore) ListActive(ctx context.Context, activeStatuses []string) ([]incident.Incident, error) {
	return nil, nil
}

func (s *fakeIncidentStore) Find(ctx context.Context, filter incident.Filter) ([]incident.Incident, error) {
	var out []incident.Incident
	for _, inc := range s.incidents {
		out = append(out, inc)
	}
	return out, nil
}

func (s *fakeIncidentStore) AppendLocation(ctx context.Context, incidentID string, p report.Point) error {
	return nil
}

func (s *fakeIncidentStore) Touch(ctx context.Context, incidentID string, at time.Time) error {
	return nil
}

func (s *fakeIncidentStore) UpdateDetails(ctx context.Context, incidentID string, name, category, summary string, tags []string) error {
	inc, ok := s.incidents[incidentID]
	if !ok {
		return errors.New("incident not found")
	}
	if name != "" {
		inc.Name = name
	}
	if category != "" {
		inc.Category = category
	}
	if summary != "" {
		inc.Summary = summary
	}
	if tags != nil {
		inc.Tags = tags
	}
	s.incidents[incidentID] = inc
	return nil
}

func (s *fakeIncidentStore) UpdateStatus(ctx context.Context, incidentID, status string) error {
	inc, ok := s.incidents[incidentID]
	if !ok {
		return errors.New("incident not found")
	}
	inc.Status = status
	s.incidents[incidentID] = inc
	return nil
}

// fakeEngine satisfies CorrelationEngine
type fakeEngine struct {
	enabled bool
}

func (f *fakeEngine) Enable()  { f.enabled = true }
func (f *fakeEngine) Disable() { f.enabled = false }
func (f *fakeEngine) Status() correlate.Status {
	return correlate.Status{Enabled: f.enabled, Running: true}
}

func testRouter(rs *fakeReportStore, is *fakeIncidentStore, engine *fakeEngine) *chi.Mux {
	router := chi.NewRouter()

	reportHandler := NewReportHandler(rs)
	incidentHandler := NewIncidentHandler(is)
	engineHandler := NewEngineHandler(engine)

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/reports", func(r chi.Router) {
			r.Get("/", reportHandler.ListReports)
			r.Post("/", reportHandler.IngestReport)
			r.Get("/{id}", reportHandler.GetReport)
		})
		r.Route("/incidents", func(r chi.Router) {
			r.Get("/", incidentHandler.ListIncidents)
			r.Get("/{id}", incidentHandler.GetIncident)
			r.Patch("/{id}", incidentHandler.UpdateIncident)
			r.Post("/{id}/close", incidentHandler.CloseIncident)
		})
		r.Route("/engine", func(r chi.Router) {
			r.Get("/status", engineHandler.GetStatus)
			r.Post("/enable", engineHandler.Enable)
			r.Post("/disable", engineHandler.Disable)
		})
	})

	return router
}

func makeRequest(router *chi.Mux, method, url string, body []byte) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIngestReport_Success(t *testing.T) {
	rs := newFakeReportStore()
	router := testRouter(rs, newFakeIncidentStore(), &fakeEngine{})

	body, _ := json.Marshal(map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
		"text":      "smoke from warehouse fire",
		"source":    "phone",
		"location":  map[string]float64{"latitude": 40.7128, "longitude": -74.0060},
	})

	w := makeRequest(router, http.MethodPost, "/api/v1/reports", body)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp report.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, report.StatusUnlinked, resp.LinkStatus)
	assert.Equal(t, "phone", resp.Source)

	// The report landed in the store as unlinked
	saved, ok := rs.reports[resp.ID]
	require.True(t, ok)
	assert.Equal(t, report.StatusUnlinked, saved.LinkStatus)
}

func TestIngestReport_MissingTimestamp(t *testing.T) {
	router := testRouter(newFakeReportStore(), newFakeIncidentStore(), &fakeEngine{})

	body, _ := json.Marshal(map[string]string{"text": "warehouse fire"})

	w := makeRequest(router, http.MethodPost, "/api/v1/reports", body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Timestamp is required")
}

func TestIngestReport_EmptyPayload(t *testing.T) {
	router := testRouter(newFakeReportStore(), newFakeIncidentStore(), &fakeEngine{})

	body, _ := json.Marshal(map[string]string{
		"timestamp": time.Now().Format(time.RFC3339),
	})

	w := makeRequest(router, http.MethodPost, "/api/v1/reports", body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestReport_InvalidJSON(t *testing.T) {
	router := testRouter(newFakeReportStore(), newFakeIncidentStore(), &fakeEngine{})

	w := makeRequest(router, http.MethodPost, "/api/v1/reports", []byte(`{"text":`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetReport(t *testing.T) {
	rs := newFakeReportStore()
	rs.reports["r1"] = report.Report{ID: "r1", Text: "warehouse fire", LinkStatus: report.StatusUnlinked}
	router := testRouter(rs, newFakeIncidentStore(), &fakeEngine{})

	w := makeRequest(router, http.MethodGet, "/api/v1/reports/r1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = makeRequest(router, http.MethodGet, "/api/v1/reports/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetIncident(t *testing.T) {
	is := newFakeIncidentStore()
	is.incidents["inc-1"] = incident.Incident{ID: "inc-1", Name: "Warehouse fire", Status: incident.StatusOpen}
	router := testRouter(newFakeReportStore(), is, &fakeEngine{})

	w := makeRequest(router, http.MethodGet, "/api/v1/incidents/inc-1", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp incident.Incident
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Warehouse fire", resp.Name)
}

func TestUpdateIncident(t *testing.T) {
	is := newFakeIncidentStore()
	is.incidents["inc-1"] = incident.Incident{ID: "inc-1", Name: "Old name", Status: incident.StatusOpen}
	router := testRouter(newFakeReportStore(), is, &fakeEngine{})

	body, _ := json.Marshal(map[string]string{"name": "Renamed", "category": "fire"})

	w := makeRequest(router, http.MethodPatch, "/api/v1/incidents/inc-1", body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Renamed", is.incidents["inc-1"].Name)
	assert.Equal(t, "fire", is.incidents["inc-1"].Category)
}

func TestCloseIncident(t *testing.T) {
	is := newFakeIncidentStore()
	is.incidents["inc-1"] = incident.Incident{ID: "inc-1", Status: incident.StatusOpen}
	router := testRouter(newFakeReportStore(), is, &fakeEngine{})

	w := makeRequest(router, http.MethodPost, "/api/v1/incidents/inc-1/close", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, incident.StatusClosed, is.incidents["inc-1"].Status)
}

func TestCloseIncident_NotFound(t *testing.T) {
	router := testRouter(newFakeReportStore(), newFakeIncidentStore(), &fakeEngine{})

	w := makeRequest(router, http.MethodPost, "/api/v1/incidents/missing/close", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEngineEndpoints(t *testing.T) {
	engine := &fakeEngine{enabled: true}
	router := testRouter(newFakeReportStore(), newFakeIncidentStore(), engine)

	w := makeRequest(router, http.MethodGet, "/api/v1/engine/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var status correlate.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Enabled)

	w = makeRequest(router, http.MethodPost, "/api/v1/engine/disable", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, engine.enabled)

	w = makeRequest(router, http.MethodPost, "/api/v1/engine/enable", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, engine.enabled)
}
