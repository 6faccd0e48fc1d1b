package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"taskhive-ai-gateway/internal/domain/model"
	"taskhive-ai-gateway/internal/usecase"
)

// Server is the read-only diagnostics surface: health, Prometheus metrics
// and model/provider introspection. It is not the product's request
// routing layer.
type Server struct {
	gateway usecase.GatewayUseCase
	log     *zerolog.Logger
	server  *http.Server
}

func NewServer(gateway usecase.GatewayUseCase, logger *zerolog.Logger) *Server {
	return &Server{gateway: gateway, log: logger}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/models", s.handleModels)
		r.Get("/providers", s.handleProviders)
	})
	return r
}

// Start blocks serving until Shutdown or a listener error.
func (s *Server) Start(port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info().Int("port", port).Msg("diagnostics server listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type modelJSON struct {
	Provider            string             `json:"provider"`
	ID                  string             `json:"id"`
	DisplayName         string             `json:"display_name"`
	ContextWindowTokens int                `json:"context_window_tokens"`
	MaxOutputTokens     int                `json:"max_output_tokens"`
	InputPricePerMTok   float64            `json:"input_price_per_mtok"`
	OutputPricePerMTok  float64            `json:"output_price_per_mtok"`
	Capabilities        []model.Capability `json:"capabilities"`
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	all := s.gateway.Models()
	out := make([]modelJSON, 0, len(all))
	for _, pm := range all {
		out = append(out, modelJSON{
			Provider:            pm.Provider,
			ID:                  pm.Model.ID,
			DisplayName:         pm.Model.DisplayName,
			ContextWindowTokens: pm.Model.ContextWindowTokens,
			MaxOutputTokens:     pm.Model.MaxOutputTokens,
			InputPricePerMTok:   pm.Model.InputPricePerMTok,
			OutputPricePerMTok:  pm.Model.OutputPricePerMTok,
			Capabilities:        pm.Model.Capabilities,
		})
	}
	s.writeJSON(w, out)
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.gateway.Providers())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}
