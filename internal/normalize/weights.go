// Package normalize assigns damage/control/aggression weight bundles to typed
// combat events so downstream analytics can inspect why a weight was what it
// was.
package normalize

import (
	"math"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
)

// WeightBundle is the per-dimension weight for one event.
type WeightBundle struct {
	Damage     float64 `json:"damage"`
	Control    float64 `json:"control"`
	Aggression float64 `json:"aggression"`
}

// Total sums the three dimensions.
func (w WeightBundle) Total() float64 {
	return w.Damage + w.Control + w.Aggression
}

// Breakdown carries the normalisation result together with the factors that
// produced it.
type Breakdown struct {
	EventType        model.EventType `json:"event_type"`
	Base             WeightBundle    `json:"base"`
	SeverityFactor   float64         `json:"severity_factor"`
	ConfidenceFactor float64         `json:"confidence_factor"`
	Weights          WeightBundle    `json:"weights"`
}

// baseWeights holds the per-type starting bundle before severity and
// confidence scaling.
var baseWeights = map[model.EventType]WeightBundle{
	model.EventStrikeSignificant:   {Damage: 0.6, Control: 0.0, Aggression: 0.4},
	model.EventStrikeHighImpact:    {Damage: 0.9, Control: 0.0, Aggression: 0.5},
	model.EventKnockdownFlash:      {Damage: 1.2, Control: 0.1, Aggression: 0.6},
	model.EventKnockdownHard:       {Damage: 1.6, Control: 0.2, Aggression: 0.6},
	model.EventKnockdownNearFinish: {Damage: 2.0, Control: 0.3, Aggression: 0.7},
	model.EventRocked:              {Damage: 1.0, Control: 0.0, Aggression: 0.3},
	model.EventTakedownAttempt:     {Damage: 0.1, Control: 0.3, Aggression: 0.4},
	model.EventTakedownLanded:      {Damage: 0.2, Control: 0.8, Aggression: 0.5},
	model.EventSubmissionAttempt:   {Damage: 0.3, Control: 0.7, Aggression: 0.6},
	model.EventControlStart:        {Damage: 0.0, Control: 0.6, Aggression: 0.2},
	model.EventControlEnd:          {Damage: 0.0, Control: 0.0, Aggression: 0.0},
	model.EventMomentumSwing:       {Damage: 0.2, Control: 0.0, Aggression: 0.9},
}

// Engine computes weight bundles. Stateless; safe for concurrent use.
type Engine struct{}

// NewEngine returns a normalisation engine.
func NewEngine() *Engine { return &Engine{} }

// Normalize maps a typed event to its weight bundle. Unknown types get a zero
// base bundle; the factors are still reported for inspection.
func (e *Engine) Normalize(ev *model.CombatEvent) Breakdown {
	base := baseWeights[ev.Type]

	sev := clamp01(ev.Severity)
	conf := clamp01(ev.Confidence)

	severityFactor := sev * sev
	confidenceFactor := 1 + 0.5*math.Max(0, conf-0.7)
	scale := severityFactor * confidenceFactor

	return Breakdown{
		EventType:        ev.Type,
		Base:             base,
		SeverityFactor:   severityFactor,
		ConfidenceFactor: confidenceFactor,
		Weights: WeightBundle{
			Damage:     base.Damage * scale,
			Control:    base.Control * scale,
			Aggression: base.Aggression * scale,
		},
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
