// Package pipeline gates candidate events before they reach the canonical
// timeline: fingerprint deduplication and a confidence floor.
package pipeline

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/config"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/metrics"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
)

// Rejection reasons reported by the gate.
const (
	ReasonDuplicate  = "duplicate"
	ReasonConfidence = "confidence"
)

// Decision is the gate's verdict for one candidate event.
type Decision struct {
	Accepted bool
	Reason   string
}

// Gate deduplicates events by fingerprint and enforces the confidence floor.
// Judge events carry referee authority and bypass the floor but not dedup.
// Not safe for concurrent use; the bout loop owns it.
type Gate struct {
	cfg  config.DedupConfig
	reg  *metrics.Registry
	seen map[string]int64
}

// NewGate creates a gate. reg may be nil in tests that do not assert metrics.
func NewGate(cfg config.DedupConfig, reg *metrics.Registry) *Gate {
	return &Gate{
		cfg:  cfg,
		reg:  reg,
		seen: make(map[string]int64),
	}
}

// fingerprint buckets timestamps into dedup windows so that the same action
// reported twice within a window collapses to one fingerprint.
func (g *Gate) fingerprint(ev *model.CombatEvent) string {
	bucket := ev.TimestampMS / g.cfg.WindowMS
	return fmt.Sprintf("%s|%d|%s|%s|%d", ev.BoutID, ev.Round, ev.Fighter, ev.Type, bucket)
}

// Admit decides whether the event enters the timeline. Duplicate checks run
// before the confidence floor, so a duplicate is reported as such even when
// it would also fail on confidence.
func (g *Gate) Admit(ev *model.CombatEvent) Decision {
	g.expire(ev.TimestampMS)

	fp := g.fingerprint(ev)
	if _, dup := g.seen[fp]; dup {
		g.reject(ev, ReasonDuplicate)
		return Decision{Reason: ReasonDuplicate}
	}

	if ev.Source != model.SourceManualOperator && ev.Confidence < g.cfg.ConfidenceThreshold {
		g.reject(ev, ReasonConfidence)
		return Decision{Reason: ReasonConfidence}
	}

	g.seen[fp] = ev.TimestampMS
	if g.reg != nil {
		g.reg.EventsAccepted.WithLabelValues(string(ev.Source)).Inc()
	}
	return Decision{Accepted: true}
}

func (g *Gate) reject(ev *model.CombatEvent, reason string) {
	if g.reg != nil {
		g.reg.EventsRejected.WithLabelValues(reason).Inc()
	}
	log.Debug().Str("bout_id", ev.BoutID).Str("event_id", ev.ID).
		Str("type", string(ev.Type)).Str("reason", reason).
		Msg("event rejected at gate")
}

// expire lazily drops fingerprints older than twice the dedup window. Event
// time only moves forward per bout, so a single high-water scan suffices.
func (g *Gate) expire(nowMS int64) {
	horizon := nowMS - 2*g.cfg.WindowMS
	for fp, ts := range g.seen {
		if ts < horizon {
			delete(g.seen, fp)
		}
	}
}

// Pending reports the live fingerprint count, for tests and diagnostics.
func (g *Gate) Pending() int {
	return len(g.seen)
}
