// Package httpapi is the ops and broadcast read surface. Delivery only: every
// handler delegates to a core package and serialises its result.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/audit"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/metrics"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/persistence"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/router"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/stats"
)

// Server wires the read endpoints over the core services.
type Server struct {
	store   persistence.Store
	stats   *stats.Aggregator
	auditor *audit.Log
	router  *router.Router
	reg     *metrics.Registry
	version string
}

// New creates the ops server.
func New(store persistence.Store, agg *stats.Aggregator, auditor *audit.Log, rt *router.Router, reg *metrics.Registry, version string) *Server {
	return &Server{store: store, stats: agg, auditor: auditor, router: rt, reg: reg, version: version}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(requestLogger)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.reg.Prometheus(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/bouts/{id}/verdicts/{round}", s.handleVerdict).Methods(http.MethodGet)
	r.HandleFunc("/bouts/{id}/result", s.handleResult).Methods(http.MethodGet)
	r.HandleFunc("/bouts/{id}/stats/live/{round}", s.handleLiveStats).Methods(http.MethodGet)
	r.HandleFunc("/bouts/{id}/stats/comparison/{round}", s.handleComparison).Methods(http.MethodGet)
	r.HandleFunc("/bouts/{id}/audit/verify", s.handleAuditVerify).Methods(http.MethodGet)
	r.HandleFunc("/workers", s.handleWorkers).Methods(http.MethodGet)
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, doc interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		log.Warn().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func roundParam(r *http.Request) (int, bool) {
	round, err := strconv.Atoi(mux.Vars(r)["round"])
	if err != nil || round < 1 {
		return 0, false
	}
	return round, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) handleVerdict(w http.ResponseWriter, r *http.Request) {
	round, ok := roundParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid round")
		return
	}
	v, err := s.store.RoundVerdict(r.Context(), mux.Vars(r)["id"], round)
	if errors.Is(err, persistence.ErrNotFound) {
		writeError(w, http.StatusNotFound, "verdict not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.store.FightResult(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, persistence.ErrNotFound) {
		writeError(w, http.StatusNotFound, "fight result not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLiveStats(w http.ResponseWriter, r *http.Request) {
	round, ok := roundParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid round")
		return
	}
	live, err := s.stats.Live(r.Context(), mux.Vars(r)["id"], round)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, live)
}

func (s *Server) handleComparison(w http.ResponseWriter, r *http.Request) {
	round, ok := roundParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid round")
		return
	}
	cmp, err := s.stats.Compare(r.Context(), mux.Vars(r)["id"], round)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	result := s.auditor.Chain(mux.Vars(r)["id"]).Verify()
	status := http.StatusOK
	if !result.Valid {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.router.Workers())
}
