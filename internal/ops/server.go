// Package ops exposes the operational HTTP surface: liveness with loop
// history, and Prometheus metrics.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/meridianhq/tradecore/internal/domain"
	"github.com/meridianhq/tradecore/internal/engine"
	"github.com/meridianhq/tradecore/internal/state"
	"github.com/meridianhq/tradecore/internal/witness"
)

// Deps are the read-only views the server publishes.
type Deps struct {
	Gatherer    prometheus.Gatherer
	Machine     *state.Machine
	Coordinator *engine.Coordinator
	Panel       *witness.Panel
}

// Server is the ops HTTP server.
type Server struct {
	addr   string
	deps   Deps
	router *mux.Router
	srv    *http.Server
}

// NewServer builds the router. Start it with Run.
func NewServer(addr string, deps Deps) *Server {
	s := &Server{addr: addr, deps: deps, router: mux.NewRouter()}
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/history", s.handleHistory).Methods(http.MethodGet)
	if deps.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

// ServeHTTP lets tests drive the router directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("ops server listening")
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type healthPayload struct {
	Status     string             `json:"status"`
	State      domain.SystemState `json:"state"`
	InCooldown bool               `json:"in_cooldown"`
	Witnesses  map[string]int     `json:"witnesses"`
	LastCycle  *engine.LoopRecord `json:"last_cycle,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := healthPayload{Status: "ok", Witnesses: map[string]int{}}
	if s.deps.Machine != nil {
		payload.State = s.deps.Machine.Current()
		payload.InCooldown = s.deps.Machine.InCooldown()
	}
	if s.deps.Panel != nil {
		for _, tier := range []domain.Tier{domain.Tier1, domain.Tier2, domain.Tier3} {
			payload.Witnesses[string(tier)] = len(s.deps.Panel.ListByTier(tier))
		}
	}
	if s.deps.Coordinator != nil {
		if hist := s.deps.Coordinator.History(); len(hist) > 0 {
			last := hist[len(hist)-1]
			payload.LastCycle = &last
			if last.Skipped {
				payload.Status = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	var hist []engine.LoopRecord
	if s.deps.Coordinator != nil {
		hist = s.deps.Coordinator.History()
	}
	writeJSON(w, http.StatusOK, hist)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("ops response encode failed")
	}
}
