// Package api exposes the operational HTTP surface: health, camera
// statuses, event lookup, live event websocket, and operator controls for
// detector switching.
package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/ts-nvr/internal/data"
	"github.com/technosupport/ts-nvr/internal/notify"
	"github.com/technosupport/ts-nvr/internal/status"
	"github.com/technosupport/ts-nvr/internal/stream"
)

// Pipeline is the slice of the orchestrator the API needs.
type Pipeline interface {
	RestartAllDetectionLoops()
	ActiveLoopCount() int
}

type Server struct {
	DB       *sql.DB
	Events   data.EventRepository
	Statuses *status.Cache
	Registry *stream.Registry
	Pipeline Pipeline
	Hub      *notify.WSHub
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.GetHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/ws/events", s.Hub.ServeWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/cameras/status", s.GetAllStatuses)
		r.Get("/cameras/{id}/status", s.GetCameraStatus)
		r.Get("/events/{id}", s.GetEvent)
		r.Post("/pipeline/restart", s.RestartLoops)
	})
	return r
}

func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":         "ok",
		"active_streams": s.Registry.GetActiveCount(),
		"active_loops":   s.Pipeline.ActiveLoopCount(),
		"ws_clients":     s.Hub.ClientCount(),
	}
	if s.DB != nil {
		if err := s.DB.PingContext(r.Context()); err != nil {
			health["status"] = "degraded"
			health["database"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, health)
			return
		}
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) GetAllStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.Statuses.GetAll(r.Context())
	if err != nil {
		http.Error(w, "failed to list statuses", http.StatusInternalServerError)
		return
	}
	if statuses == nil {
		statuses = []status.CameraStatus{}
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) GetCameraStatus(w http.ResponseWriter, r *http.Request) {
	cameraID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid camera id", http.StatusBadRequest)
		return
	}

	st, err := s.Statuses.Get(r.Context(), cameraID)
	if err != nil {
		http.Error(w, "failed to get status", http.StatusInternalServerError)
		return
	}
	if st == nil {
		http.Error(w, "status not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}

	event, err := s.Events.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to get event", http.StatusInternalServerError)
		return
	}
	if event == nil {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// RestartLoops cancels every detection loop; the orchestrator restarts
// them on its next poll with fresh settings and the current backend.
func (s *Server) RestartLoops(w http.ResponseWriter, r *http.Request) {
	s.Pipeline.RestartAllDetectionLoops()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "restarting"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
