package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
)

func TestSeverityFactorIsSquared(t *testing.T) {
	e := NewEngine()

	ev := &model.CombatEvent{Type: model.EventStrikeHighImpact, Severity: 0.5, Confidence: 0.5}
	b := e.Normalize(ev)

	assert.InDelta(t, 0.25, b.SeverityFactor, 1e-9)
	// Confidence 0.5 is below the 0.7 pivot, so no boost.
	assert.InDelta(t, 1.0, b.ConfidenceFactor, 1e-9)
	assert.InDelta(t, 0.9*0.25, b.Weights.Damage, 1e-9)
}

func TestConfidenceBoostAbovePivot(t *testing.T) {
	e := NewEngine()

	ev := &model.CombatEvent{Type: model.EventKnockdownHard, Severity: 1.0, Confidence: 0.9}
	b := e.Normalize(ev)

	assert.InDelta(t, 1.0+0.5*0.2, b.ConfidenceFactor, 1e-9)
	assert.InDelta(t, 1.6*1.1, b.Weights.Damage, 1e-9)
	assert.InDelta(t, b.Weights.Damage+b.Weights.Control+b.Weights.Aggression, b.Weights.Total(), 1e-9)
}

func TestUnknownTypeGetsZeroBase(t *testing.T) {
	e := NewEngine()

	ev := &model.CombatEvent{Type: model.EventType("spinning-backfist"), Severity: 0.8, Confidence: 0.95}
	b := e.Normalize(ev)

	assert.Zero(t, b.Weights.Damage)
	assert.Zero(t, b.Weights.Total())
	// Factors remain inspectable even for unknown types.
	assert.Greater(t, b.ConfidenceFactor, 1.0)
}

func TestOutOfRangeInputsAreClamped(t *testing.T) {
	e := NewEngine()

	ev := &model.CombatEvent{Type: model.EventRocked, Severity: 1.7, Confidence: 1.3}
	b := e.Normalize(ev)

	assert.InDelta(t, 1.0, b.SeverityFactor, 1e-9)
	assert.InDelta(t, 1.15, b.ConfidenceFactor, 1e-9)
}
