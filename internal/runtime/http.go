package runtime

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/drblury/amqptrace/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/amqptrace/internal/runtime/logging"
	"github.com/drblury/amqptrace/internal/runtime/orders"
)

func newHTTPRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	return r
}

func (s *Service) registerDefaultRoutes(port int) {
	r := s.httpRouter(port)
	r.Get("/health", s.handleHealth)
	r.Get("/handlers", s.handleGetHandlers)
}

// RegisterEnrichEndpoint serves POST /enrich on the HTTP port. It is a no-op
// when HTTP is disabled.
func (s *Service) RegisterEnrichEndpoint(enricher *orders.Enricher) {
	if s.Conf == nil || s.Conf.HTTPPort <= 0 || enricher == nil {
		return
	}
	s.httpRouter(s.Conf.HTTPPort).Post("/enrich", s.enrichHandler(enricher))
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleGetHandlers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Handlers())
}

func (s *Service) enrichHandler(enricher *orders.Enricher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orders.EnrichRequest
		if err := jsoncodec.Decode(r.Body, &req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		s.writeJSON(w, http.StatusOK, enricher.Enrich(r.Context(), req))
	}
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsoncodec.Encode(w, body); err != nil {
		s.Logger.Error("Failed to encode response", err, loggingpkg.LogFields{"status": status})
	}
}
