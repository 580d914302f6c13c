// internal/server/handlers/report.go

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"triage/internal/domain/report"
)

// ReportHandler handles report ingestion and lookup
type ReportHandler struct {
	store report.Store
}

// NewReportHandler creates a new report handler
func NewReportHandler(store report.Store) *ReportHandler {
	return &ReportHandler{
		store: store,
	}
}

// ingestReportRequest is the wire shape for submitting a report
type ingestReportRequest struct {
	ExternalIncidentID string        `json:"external_incident_id"`
	Timestamp          time.Time     `json:"timestamp"`
	Text               string        `json:"text"`
	Location           *report.Point `json:"location"`
	Source             string        `json:"source"`
}

// IngestReport accepts a free-form report and queues it for correlation
func (h *ReportHandler) IngestReport(w http.ResponseWriter, r *http.Request) {
	var req ingestReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Timestamp.IsZero() {
		respondWithError(w, http.StatusBadRequest, "Timestamp is required")
		return
	}
	if strings.TrimSpace(req.Text) == "" && req.ExternalIncidentID == "" {
		respondWithError(w, http.StatusBadRequest, "Report must carry text or an external incident ID")
		return
	}

	rep := report.Report{
		ID:                 uuid.New().String(),
		ExternalIncidentID: req.ExternalIncidentID,
		Timestamp:          req.Timestamp,
		Text:               req.Text,
		Location:           req.Location,
		LinkStatus:         report.StatusUnlinked,
		Source:             req.Source,
		CreatedAt:          time.Now(),
	}

	if err := h.store.Save(r.Context(), rep); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to save report")
		return
	}

	respondWithJSON(w, http.StatusAccepted, rep)
}

// ListReports returns reports matching the query filters
func (h *ReportHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	filter := report.Filter{}

	if status := r.URL.Query().Get("link_status"); status != "" {
		filter.LinkStatus = report.LinkStatus(status)
	}
	if ref := r.URL.Query().Get("incident"); ref != "" {
		filter.IncidentRef = ref
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}

	reports, err := h.store.Find(r.Context(), filter)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list reports")
		return
	}

	respondWithJSON(w, http.StatusOK, reports)
}

// GetReport returns a single report by ID
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rep, err := h.store.Get(r.Context(), id)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Report not found")
		return
	}

	respondWithJSON(w, http.StatusOK, rep)
}
