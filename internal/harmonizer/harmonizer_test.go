package harmonizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/config"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/metrics"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
)

func streamEvent(id string, ts int64, typ model.EventType, sev, conf float64, src model.EventSource) model.CombatEvent {
	return model.CombatEvent{
		ID: id, BoutID: "bout-1", Round: 1,
		Fighter: model.FighterA, Type: typ,
		Severity: sev, Confidence: conf,
		Source: src, TimestampMS: ts,
	}
}

func TestJudgeOverrideOnKnockdownContradiction(t *testing.T) {
	reg := metrics.NewRegistry()
	h := New(config.Default().Harmonizer, reg)

	judged := streamEvent("j1", 1000, model.EventKnockdownFlash, 0.6, 0.95, model.SourceManualOperator)
	seen := streamEvent("c1", 1050, model.EventKnockdownHard, 0.8, 0.75, model.SourceCVSystem)

	require.Empty(t, h.Offer(judged))
	out := h.Offer(seen)
	require.Len(t, out, 1)

	assert.Equal(t, model.EventKnockdownFlash, out[0].Type)
	require.NotNil(t, out[0].Provenance)
	assert.Equal(t, StrategyJudgeOverride, out[0].Provenance.Strategy)
	assert.ElementsMatch(t, []string{"j1", "c1"}, out[0].Provenance.SourceIDs)

	n, err := reg.CounterValue("fightcore_harmoniser_conflicts_total",
		map[string]string{"class": ConflictTypeContradiction})
	require.NoError(t, err)
	assert.Equal(t, 1.0, n)
}

func TestCVPriorityWhenJudgeUncertain(t *testing.T) {
	h := New(config.Default().Harmonizer, nil)

	judged := streamEvent("j1", 1000, model.EventKnockdownFlash, 0.6, 0.7, model.SourceManualOperator)
	seen := streamEvent("c1", 1050, model.EventKnockdownHard, 0.8, 0.95, model.SourceCVSystem)

	h.Offer(judged)
	out := h.Offer(seen)
	require.Len(t, out, 1)
	assert.Equal(t, model.EventKnockdownHard, out[0].Type)
	assert.Equal(t, StrategyCVPriority, out[0].Provenance.Strategy)
}

func TestSeverityPriorityFallback(t *testing.T) {
	h := New(config.Default().Harmonizer, nil)

	judged := streamEvent("j1", 1000, model.EventKnockdownFlash, 0.5, 0.7, model.SourceManualOperator)
	seen := streamEvent("c1", 1050, model.EventKnockdownHard, 0.8, 0.8, model.SourceCVSystem)

	h.Offer(judged)
	out := h.Offer(seen)
	require.Len(t, out, 1)
	assert.Equal(t, model.EventKnockdownHard, out[0].Type)
	assert.Equal(t, StrategySeverityPriority, out[0].Provenance.Strategy)
}

func TestWeightedConfidenceForDuplicates(t *testing.T) {
	h := New(config.Default().Harmonizer, nil)

	judged := streamEvent("j1", 1000, model.EventStrikeSignificant, 0.6, 0.6, model.SourceManualOperator)
	seen := streamEvent("c1", 1080, model.EventStrikeSignificant, 0.8, 0.4, model.SourceCVSystem)

	h.Offer(judged)
	out := h.Offer(seen)
	require.Len(t, out, 1)
	assert.Equal(t, StrategyWeightedConfidence, out[0].Provenance.Strategy)
	// (0.6*0.6 + 0.8*0.4) / 1.0 and mean confidence.
	assert.InDelta(t, 0.68, out[0].Severity, 1e-9)
	assert.InDelta(t, 0.5, out[0].Confidence, 1e-9)
}

func TestHybridBlendForProximityConflicts(t *testing.T) {
	h := New(config.Default().Harmonizer, nil)

	judged := streamEvent("j1", 1000, model.EventStrikeSignificant, 0.5, 0.6, model.SourceManualOperator)
	seen := streamEvent("c1", 1100, model.EventStrikeHighImpact, 0.9, 0.7, model.SourceCVSystem)

	h.Offer(judged)
	out := h.Offer(seen)
	require.Len(t, out, 1)
	assert.Equal(t, StrategyHybrid, out[0].Provenance.Strategy)
	// CV has the higher confidence, so its type carries.
	assert.Equal(t, model.EventStrikeHighImpact, out[0].Type)
	assert.InDelta(t, 0.6*0.5+0.4*0.9, out[0].Severity, 1e-9)
	assert.InDelta(t, 1.1*0.65, out[0].Confidence, 1e-9)
}

func TestUnconflictedEventsReleaseOnWatermark(t *testing.T) {
	h := New(config.Default().Harmonizer, nil)

	judged := streamEvent("j1", 1000, model.EventTakedownLanded, 0.6, 0.9, model.SourceManualOperator)
	require.Empty(t, h.Offer(judged))

	// A CV event far past the proximity window frees the takedown without
	// pairing with it.
	later := streamEvent("c1", 1500, model.EventStrikeSignificant, 0.6, 0.8, model.SourceCVSystem)
	out := h.Offer(later)
	require.Len(t, out, 1)
	assert.Equal(t, "j1", out[0].ID)
	assert.Nil(t, out[0].Provenance)

	flushed := h.Flush()
	require.Len(t, flushed, 1)
	assert.Equal(t, "c1", flushed[0].ID)
}

func TestDifferentFightersNeverConflict(t *testing.T) {
	h := New(config.Default().Harmonizer, nil)

	judged := streamEvent("j1", 1000, model.EventKnockdownFlash, 0.6, 0.95, model.SourceManualOperator)
	seen := streamEvent("c1", 1050, model.EventKnockdownFlash, 0.6, 0.9, model.SourceCVSystem)
	seen.Fighter = model.FighterB

	h.Offer(judged)
	assert.Empty(t, h.Offer(seen))
	assert.Len(t, h.Flush(), 2)
}

func TestFlushOrdersByTimestamp(t *testing.T) {
	h := New(config.Default().Harmonizer, nil)

	h.Offer(streamEvent("c1", 2000, model.EventTakedownLanded, 0.6, 0.9, model.SourceCVSystem))
	h.Offer(streamEvent("j1", 1000, model.EventSubmissionAttempt, 0.6, 0.9, model.SourceManualOperator))

	out := h.Flush()
	require.Len(t, out, 2)
	assert.Equal(t, "j1", out[0].ID)
	assert.Equal(t, "c1", out[1].ID)
}

func TestBufferOverflowEvictsOldest(t *testing.T) {
	cfg := config.Default().Harmonizer
	cfg.BufferSize = 2
	h := New(cfg, nil)

	// Equal timestamps keep the watermark from releasing anything; only the
	// ring cap forces eviction.
	h.Offer(streamEvent("j1", 1000, model.EventTakedownLanded, 0.6, 0.9, model.SourceManualOperator))
	h.Offer(streamEvent("j2", 1000, model.EventSubmissionAttempt, 0.6, 0.9, model.SourceManualOperator))
	out := h.Offer(streamEvent("j3", 1000, model.EventControlStart, 0.6, 0.9, model.SourceManualOperator))

	require.Len(t, out, 1)
	assert.Equal(t, "j1", out[0].ID)
}
