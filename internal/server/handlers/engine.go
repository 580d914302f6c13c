// internal/server/handlers/engine.go

package handlers

import (
	"net/http"

	"triage/internal/service/correlate"
)

// CorrelationEngine is the subset of the engine exposed over HTTP
type CorrelationEngine interface {
	Enable()
	Disable()
	Status() correlate.Status
}

// EngineHandler exposes engine control endpoints
type EngineHandler struct {
	engine CorrelationEngine
}

// NewEngineHandler creates a new engine handler
func NewEngineHandler(engine CorrelationEngine) *EngineHandler {
	return &EngineHandler{
		engine: engine,
	}
}

// GetStatus returns the current engine status
func (h *EngineHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.engine.Status())
}

// Enable resumes correlation cycles
func (h *EngineHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.engine.Enable()
	respondWithJSON(w, http.StatusOK, h.engine.Status())
}

// Disable pauses correlation cycles. Reports keep accumulating as
// unlinked until the engine is re-enabled.
func (h *EngineHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.engine.Disable()
	respondWithJSON(w, http.StatusOK, h.engine.Status())
}
