// internal/server/handlers/incident.go

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"triage/internal/domain/incident"
)

// IncidentHandler handles incident-related HTTP requests
type IncidentHandler struct {
	store incident.Store
}

// NewIncidentHandler creates a new incident handler
func NewIncidentHandler(store incident.Store) *IncidentHandler {
	return &IncidentHandler{
		store: store,
	}
}

// ListIncidents returns incidents matching the query filters
func (h *IncidentHandler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	filter := incident.Filter{}

	if statuses := r.URL.Query().Get("status"); statuses != "" {
		filter.Statuses = strings.Split(statuses, ",")
	}

	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}

	incidents, err := h.store.Find(r.Context(), filter)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list incidents")
		return
	}

	respondWithJSON(w, http.StatusOK, incidents)
}

// GetIncident returns one incident with its linked reports
func (h *IncidentHandler) GetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inc, err := h.store.Get(r.Context(), id)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Incident not found")
		return
	}

	respondWithJSON(w, http.StatusOK, inc)
}

// updateIncidentRequest carries operator edits to incident metadata
type updateIncidentRequest struct {
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Summary  string   `json:"summary"`
	Tags     []string `json:"tags"`
}

// UpdateIncident applies operator edits to descriptive metadata
func (h *IncidentHandler) UpdateIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.store.UpdateDetails(r.Context(), id, req.Name, req.Category, req.Summary, req.Tags); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to update incident")
		return
	}

	inc, err := h.store.Get(r.Context(), id)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Incident not found")
		return
	}

	respondWithJSON(w, http.StatusOK, inc)
}

// CloseIncident closes an incident. Closure is an operator action; the
// engine stops matching against the incident on its next cycle.
func (h *IncidentHandler) CloseIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.UpdateStatus(r.Context(), id, incident.StatusClosed); err != nil {
		respondWithError(w, http.StatusNotFound, "Incident not found")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": incident.StatusClosed,
	})
}
