// internal/server/server.go

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"triage/internal/config"
	"triage/internal/domain/incident"
	"triage/internal/domain/report"
	"triage/internal/server/handlers"
)

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.ServerConfig,
	natsConn *nats.Conn,
	reportStore report.Store,
	incidentStore incident.Store,
	engine handlers.CorrelationEngine,
	eventsTopic string,
	logger *logrus.Logger,
) *Server {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Create handler dependencies
	reportHandler := handlers.NewReportHandler(reportStore)
	incidentHandler := handlers.NewIncidentHandler(incidentStore)
	engineHandler := handlers.NewEngineHandler(engine)

	// Routes
	router.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		// API version
		r.Route("/v1", func(r chi.Router) {
			// Reports API
			r.Route("/reports", func(r chi.Router) {
				r.Get("/", reportHandler.ListReports)
				r.Post("/", reportHandler.IngestReport)
				r.Get("/{id}", reportHandler.GetReport)
			})

			// Incidents API
			r.Route("/incidents", func(r chi.Router) {
				r.Get("/", incidentHandler.ListIncidents)
				r.Get("/{id}", incidentHandler.GetIncident)
				r.Patch("/{id}", incidentHandler.UpdateIncident)
				r.Post("/{id}/close", incidentHandler.CloseIncident)
			})

			// Engine control API
			r.Route("/engine", func(r chi.Router) {
				r.Get("/status", engineHandler.GetStatus)
				r.Post("/enable", engineHandler.Enable)
				r.Post("/disable", engineHandler.Disable)
			})
		})
	})

	// WebSocket endpoint for the live incident feed
	router.Get("/ws/incidents", handlers.IncidentWebSocketHandler(natsConn, eventsTopic, logger))

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		server: httpServer,
		router: router,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
