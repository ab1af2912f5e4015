// Package router assigns camera frames to CV inference workers. Selection is
// load-based over a live worker table; health transitions are driven by
// heartbeats, smoothed latency and the error share of all processed frames.
package router

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/config"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/metrics"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
)

// ErrNoWorker is returned when no routable worker exists.
var ErrNoWorker = errors.New("no routable worker available")

// latencyAlpha is the EWMA smoothing factor for reported latencies.
const latencyAlpha = 0.3

// HealthState is a worker's routing eligibility.
type HealthState string

const (
	StateHealthy   HealthState = "HEALTHY"
	StateDegraded  HealthState = "DEGRADED"
	StateUnhealthy HealthState = "UNHEALTHY"
	StateOffline   HealthState = "OFFLINE"
)

// WorkerInfo is the externally visible snapshot of one worker.
type WorkerInfo struct {
	ID              string      `json:"id"`
	Endpoint        string      `json:"endpoint"`
	ModelVersion    string      `json:"model_version"`
	State           HealthState `json:"state"`
	QueueDepth      int         `json:"queue_depth"`
	FramesProcessed int64       `json:"frames_processed"`
	Errors          int64       `json:"errors"`
	LatencyEWMAMS   float64     `json:"latency_ewma_ms"`
	ErrorRate       float64     `json:"error_rate"`
	LoadScore       float64     `json:"load_score"`
	LastHeartbeat   time.Time   `json:"last_heartbeat"`
}

// Decision is one routing decision kept in the bounded audit ring.
type Decision struct {
	FrameID   string    `json:"frame_id"`
	WorkerID  string    `json:"worker_id"`
	LoadScore float64   `json:"load_score"`
	Degraded  bool      `json:"degraded"`
	At        time.Time `json:"at"`
}

type workerState struct {
	info WorkerInfo
}

// Router is the frame dispatcher. Safe for concurrent use.
type Router struct {
	cfg config.WorkerConfig
	reg *metrics.Registry
	now func() time.Time

	mu        sync.RWMutex
	workers   map[string]*workerState
	decisions []Decision
}

// New creates a router. reg may be nil in tests.
func New(cfg config.WorkerConfig, reg *metrics.Registry) *Router {
	return &Router{
		cfg:     cfg,
		reg:     reg,
		now:     time.Now,
		workers: make(map[string]*workerState),
	}
}

// Register adds or replaces a worker. New workers start healthy with a fresh
// heartbeat so they are immediately routable.
func (r *Router) Register(entry config.WorkerEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[entry.ID] = &workerState{info: WorkerInfo{
		ID:            entry.ID,
		Endpoint:      entry.Endpoint,
		ModelVersion:  entry.ModelVersion,
		State:         StateHealthy,
		LastHeartbeat: r.now(),
	}}
	log.Info().Str("worker_id", entry.ID).Str("endpoint", entry.Endpoint).Msg("worker registered")
}

// Deregister removes a worker from the table.
func (r *Router) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, id)
	log.Info().Str("worker_id", id).Msg("worker deregistered")
}

// Heartbeat refreshes a worker's liveness and queue depth.
func (r *Router) Heartbeat(id string, queueDepth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return
	}
	w.info.LastHeartbeat = r.now()
	w.info.QueueDepth = queueDepth
	r.evaluate(w)
}

// ReportResult folds one inference outcome into the worker's latency EWMA and
// lifetime error counts, and releases the dispatch slot.
func (r *Router) ReportResult(id string, latency time.Duration, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return
	}

	if w.info.QueueDepth > 0 {
		w.info.QueueDepth--
	}
	ms := float64(latency.Milliseconds())
	if !failed {
		if w.info.LatencyEWMAMS == 0 {
			w.info.LatencyEWMAMS = ms
		} else {
			w.info.LatencyEWMAMS = latencyAlpha*ms + (1-latencyAlpha)*w.info.LatencyEWMAMS
		}
	}
	w.info.FramesProcessed++
	if failed {
		w.info.Errors++
	}
	w.info.ErrorRate = float64(w.info.Errors) / math.Max(float64(w.info.FramesProcessed), 1)
	r.evaluate(w)

	if r.reg != nil {
		r.reg.WorkerLatency.WithLabelValues(id).Set(w.info.LatencyEWMAMS)
		if failed {
			r.reg.RoutingErrors.WithLabelValues(id).Inc()
		}
	}
}

// evaluate recomputes one worker's health state. Caller holds the lock.
func (r *Router) evaluate(w *workerState) {
	h := r.cfg.Health
	silent := r.now().Sub(w.info.LastHeartbeat)

	prev := w.info.State
	switch {
	case silent > time.Duration(h.HeartbeatOfflineSec)*time.Second:
		w.info.State = StateOffline
	case w.info.ErrorRate > h.ErrorRateUnhealthy:
		w.info.State = StateUnhealthy
	case silent > time.Duration(h.HeartbeatDegradedSec)*time.Second,
		w.info.LatencyEWMAMS > h.LatencyDegradedMS:
		w.info.State = StateDegraded
	default:
		w.info.State = StateHealthy
	}
	if w.info.State != prev {
		log.Warn().Str("worker_id", w.info.ID).
			Str("from", string(prev)).Str("to", string(w.info.State)).
			Msg("worker health transition")
	}
}

// loadScore weighs smoothed latency against queue depth.
func (r *Router) loadScore(w *workerState) float64 {
	lw := r.cfg.LoadWeights
	return lw.Latency*w.info.LatencyEWMAMS + lw.Queue*float64(w.info.QueueDepth)*lw.QueuePenalty
}

// Route picks the lowest-load healthy worker for the frame, falling back to
// degraded workers when no healthy one exists.
func (r *Router) Route(frame *model.Frame) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pick := r.pickLocked(StateHealthy)
	degraded := false
	if pick == nil {
		pick = r.pickLocked(StateDegraded)
		degraded = true
	}
	if pick == nil {
		return "", ErrNoWorker
	}

	pick.info.QueueDepth++
	d := Decision{
		FrameID:   frame.ID,
		WorkerID:  pick.info.ID,
		LoadScore: r.loadScore(pick),
		Degraded:  degraded,
		At:        r.now(),
	}
	r.decisions = append(r.decisions, d)
	if len(r.decisions) > r.cfg.DecisionLog {
		r.decisions = r.decisions[len(r.decisions)-r.cfg.DecisionLog:]
	}
	if r.reg != nil {
		r.reg.FramesRouted.WithLabelValues(pick.info.ID).Inc()
	}
	return pick.info.ID, nil
}

func (r *Router) pickLocked(state HealthState) *workerState {
	var best *workerState
	bestScore := 0.0
	for _, w := range r.workers {
		if w.info.State != state {
			continue
		}
		score := r.loadScore(w)
		if best == nil || score < bestScore ||
			(score == bestScore && w.info.ID < best.info.ID) {
			best, bestScore = w, score
		}
	}
	return best
}

// Workers returns a stable snapshot of the table, sorted by id.
func (r *Router) Workers() []WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WorkerInfo, 0, len(r.workers))
	for _, w := range r.workers {
		info := w.info
		info.LoadScore = r.loadScore(w)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Decisions returns a copy of the bounded decision ring, oldest first.
func (r *Router) Decisions() []Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Decision, len(r.decisions))
	copy(out, r.decisions)
	return out
}

// RunHealthChecks re-evaluates every worker on the configured interval until
// the context is cancelled. Heartbeat silence only turns into OFFLINE here;
// no report arrives from a dead worker to trigger it.
func (r *Router) RunHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(r.cfg.HealthIntervalS) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Router) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[HealthState]int{}
	for _, w := range r.workers {
		r.evaluate(w)
		counts[w.info.State]++
	}
	if r.reg != nil {
		for _, st := range []HealthState{StateHealthy, StateDegraded, StateUnhealthy, StateOffline} {
			r.reg.WorkersByState.WithLabelValues(string(st)).Set(float64(counts[st]))
		}
	}
}
