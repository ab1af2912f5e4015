// Package metrics exposes the pipeline's prometheus instrumentation behind a
// single registry so the ops endpoint and tests share one source of truth.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registry bundles every pipeline metric on one prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	EventsAccepted *prometheus.CounterVec
	EventsRejected *prometheus.CounterVec
	ConflictsSeen  *prometheus.CounterVec

	RoundsScored   prometheus.Counter
	ScoringFaults  prometheus.Counter
	ScoreLatencyMS prometheus.Histogram

	FramesRouted   *prometheus.CounterVec
	RoutingErrors  *prometheus.CounterVec
	WorkerLatency  *prometheus.GaugeVec
	WorkersByState *prometheus.GaugeVec

	StatsCacheHits   prometheus.Counter
	StatsCacheMisses prometheus.Counter
}

// NewRegistry builds the pipeline registry with all metrics registered.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.EventsAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fightcore_events_accepted_total",
		Help: "Events accepted into the canonical timeline, by source.",
	}, []string{"source"})
	r.EventsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fightcore_events_rejected_total",
		Help: "Events rejected by the dedup and confidence gate, by reason.",
	}, []string{"reason"})
	r.ConflictsSeen = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fightcore_harmoniser_conflicts_total",
		Help: "Judge/CV conflicts detected, by conflict class.",
	}, []string{"class"})

	r.RoundsScored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fightcore_rounds_scored_total",
		Help: "Round verdicts produced.",
	})
	r.ScoringFaults = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fightcore_scoring_faults_total",
		Help: "Scoring runs aborted on an arithmetic invariant violation.",
	})
	r.ScoreLatencyMS = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fightcore_score_latency_ms",
		Help:    "Round scoring latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	r.FramesRouted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fightcore_frames_routed_total",
		Help: "Frames dispatched to CV workers, by worker.",
	}, []string{"worker"})
	r.RoutingErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fightcore_routing_errors_total",
		Help: "Frame dispatch failures, by worker.",
	}, []string{"worker"})
	r.WorkerLatency = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fightcore_worker_latency_ms",
		Help: "Smoothed per-worker inference latency in milliseconds.",
	}, []string{"worker"})
	r.WorkersByState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fightcore_workers",
		Help: "Registered workers by health state.",
	}, []string{"state"})

	r.StatsCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fightcore_stats_cache_hits_total",
		Help: "Stats aggregator cache hits.",
	})
	r.StatsCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fightcore_stats_cache_misses_total",
		Help: "Stats aggregator cache misses.",
	})

	r.reg.MustRegister(
		r.EventsAccepted, r.EventsRejected, r.ConflictsSeen,
		r.RoundsScored, r.ScoringFaults, r.ScoreLatencyMS,
		r.FramesRouted, r.RoutingErrors, r.WorkerLatency, r.WorkersByState,
		r.StatsCacheHits, r.StatsCacheMisses,
	)
	return r
}

// Prometheus returns the underlying registry for the /metrics handler.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}

// CounterValue reads the current value of a counter family for one label set.
// Test helper; gathers the registry and walks the dto families.
func (r *Registry) CounterValue(name string, labels map[string]string) (float64, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return 0, err
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if matchLabels(m, labels) {
				if c := m.GetCounter(); c != nil {
					return c.GetValue(), nil
				}
				if g := m.GetGauge(); g != nil {
					return g.GetValue(), nil
				}
			}
		}
	}
	return 0, fmt.Errorf("metric %s not found for labels %v", name, labels)
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	have := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		have[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
