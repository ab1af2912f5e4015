// Package harmonizer reconciles the judge and CV event streams into one
// timeline. Events are buffered for the proximity window so that a late
// report from the other stream can still claim its counterpart; unconflicted
// events are released once the watermark passes them.
package harmonizer

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/config"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/metrics"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
)

// Conflict classes.
const (
	ConflictDuplicate         = "duplicate"
	ConflictTypeContradiction = "type-contradiction"
	ConflictSeverityMismatch  = "severity-mismatch"
	ConflictProximity         = "timestamp-proximity"
)

// Resolution strategies, in the order they are tried.
const (
	StrategyJudgeOverride      = "judge-override"
	StrategyCVPriority         = "cv-priority"
	StrategySeverityPriority   = "severity-priority"
	StrategyWeightedConfidence = "weighted-confidence"
	StrategyHybrid             = "hybrid"
)

// Harmonizer holds the two pending streams for one bout. Not safe for
// concurrent use; the bout's compute loop owns it.
type Harmonizer struct {
	cfg config.HarmonizerConfig
	reg *metrics.Registry

	judge []model.CombatEvent
	cv    []model.CombatEvent
}

// New creates a harmonizer for one bout. reg may be nil in tests.
func New(cfg config.HarmonizerConfig, reg *metrics.Registry) *Harmonizer {
	return &Harmonizer{cfg: cfg, reg: reg}
}

// Offer feeds one admitted event in and returns the events released by it:
// a resolved harmonised event when the offer conflicts with a buffered
// counterpart, plus any buffered events the advancing watermark frees.
func (h *Harmonizer) Offer(ev model.CombatEvent) []model.CombatEvent {
	var out []model.CombatEvent

	opposite := &h.cv
	if ev.Source != model.SourceManualOperator {
		opposite = &h.judge
	}

	if idx := h.match(*opposite, &ev); idx >= 0 {
		partner := (*opposite)[idx]
		*opposite = append((*opposite)[:idx], (*opposite)[idx+1:]...)

		judgeEv, cvEv := orient(ev, partner)
		class := h.classify(&judgeEv, &cvEv)
		if h.reg != nil {
			h.reg.ConflictsSeen.WithLabelValues(class).Inc()
		}
		resolved := h.resolve(class, judgeEv, cvEv)
		log.Debug().Str("bout_id", ev.BoutID).Str("class", class).
			Str("strategy", resolved.Provenance.Strategy).
			Msg("judge/cv conflict resolved")
		out = append(out, resolved)
	} else {
		own := &h.judge
		if ev.Source != model.SourceManualOperator {
			own = &h.cv
		}
		*own = append(*own, ev)
		if len(*own) > h.cfg.BufferSize {
			out = append(out, (*own)[0])
			*own = (*own)[1:]
		}
	}

	out = append(out, h.release(ev.TimestampMS-h.cfg.ProximityWindowMS)...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TimestampMS < out[j].TimestampMS
	})
	return out
}

// Flush drains both pending streams in timestamp order, for end of round.
func (h *Harmonizer) Flush() []model.CombatEvent {
	out := h.release(math.MaxInt64)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TimestampMS < out[j].TimestampMS
	})
	return out
}

// release frees pending events at or below the watermark.
func (h *Harmonizer) release(watermarkMS int64) []model.CombatEvent {
	var out []model.CombatEvent
	for _, stream := range []*[]model.CombatEvent{&h.judge, &h.cv} {
		kept := (*stream)[:0]
		for _, ev := range *stream {
			if ev.TimestampMS <= watermarkMS {
				out = append(out, ev)
			} else {
				kept = append(kept, ev)
			}
		}
		*stream = kept
	}
	return out
}

// match finds the closest pairable buffered event, or -1.
func (h *Harmonizer) match(buffer []model.CombatEvent, ev *model.CombatEvent) int {
	best, bestGap := -1, int64(math.MaxInt64)
	for i := range buffer {
		b := &buffer[i]
		if b.Fighter != ev.Fighter {
			continue
		}
		gap := ev.TimestampMS - b.TimestampMS
		if gap < 0 {
			gap = -gap
		}
		if gap > h.cfg.ProximityWindowMS {
			continue
		}
		if !pairable(b.Type, ev.Type) {
			continue
		}
		if gap < bestGap {
			best, bestGap = i, gap
		}
	}
	return best
}

// pairable reports whether two event types can describe the same action.
func pairable(a, b model.EventType) bool {
	if a == b {
		return true
	}
	if a.IsKnockdown() && b.IsKnockdown() {
		return true
	}
	return a.IsStrike() && b.IsStrike()
}

func orient(a, b model.CombatEvent) (judge, cv model.CombatEvent) {
	if a.Source == model.SourceManualOperator {
		return a, b
	}
	return b, a
}

func (h *Harmonizer) classify(judge, cv *model.CombatEvent) string {
	switch {
	case judge.Type.IsKnockdown() && cv.Type.IsKnockdown() && judge.Type != cv.Type:
		return ConflictTypeContradiction
	case judge.Type == cv.Type && math.Abs(judge.Severity-cv.Severity) > h.cfg.SeverityMismatchDelta:
		return ConflictSeverityMismatch
	case judge.Type == cv.Type:
		return ConflictDuplicate
	default:
		return ConflictProximity
	}
}

// resolve applies the first strategy whose precondition holds.
func (h *Harmonizer) resolve(class string, judge, cv model.CombatEvent) model.CombatEvent {
	switch {
	case judge.Confidence >= h.cfg.JudgeOverrideThreshold:
		return harmonised(judge, judge, cv, StrategyJudgeOverride)

	case cv.Confidence >= h.cfg.CVConfidenceThreshold:
		return harmonised(cv, judge, cv, StrategyCVPriority)

	case class == ConflictTypeContradiction:
		base := judge
		if cv.Severity > judge.Severity {
			base = cv
		}
		return harmonised(base, judge, cv, StrategySeverityPriority)

	case class == ConflictDuplicate:
		out := judge
		total := judge.Confidence + cv.Confidence
		if total > 0 {
			out.Severity = (judge.Severity*judge.Confidence + cv.Severity*cv.Confidence) / total
		}
		out.Confidence = (judge.Confidence + cv.Confidence) / 2
		return harmonised(out, judge, cv, StrategyWeightedConfidence)

	default:
		base := judge
		if cv.Confidence > judge.Confidence {
			base = cv
		}
		out := base
		out.Severity = 0.6*judge.Severity + 0.4*cv.Severity
		mean := (judge.Confidence + cv.Confidence) / 2
		out.Confidence = math.Min(1, 1.1*mean)
		return harmonised(out, judge, cv, StrategyHybrid)
	}
}

func harmonised(base, judge, cv model.CombatEvent, strategy string) model.CombatEvent {
	out := base
	out.ID = uuid.NewString()
	out.Provenance = &model.Provenance{
		SourceIDs: []string{judge.ID, cv.ID},
		Strategy:  strategy,
	}
	return out
}
