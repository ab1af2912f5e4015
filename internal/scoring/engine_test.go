package scoring

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
)

func strike(id string, fighter model.FighterID, tech model.Technique, ts int64) model.CombatEvent {
	return model.CombatEvent{
		ID:          id,
		BoutID:      "bout-1",
		Round:       1,
		Fighter:     fighter,
		Type:        model.EventStrikeSignificant,
		Severity:    0.6,
		Confidence:  0.9,
		Source:      model.SourceManualOperator,
		TimestampMS: ts,
		Strike:      &model.StrikeDetail{Technique: tech},
	}
}

func knockdown(id string, fighter model.FighterID, tier model.KnockdownTier, ts int64) model.CombatEvent {
	evType := model.EventKnockdownFlash
	switch tier {
	case model.KDTierHard:
		evType = model.EventKnockdownHard
	case model.KDTierNearFinish:
		evType = model.EventKnockdownNearFinish
	}
	return model.CombatEvent{
		ID:          id,
		BoutID:      "bout-1",
		Round:       1,
		Fighter:     fighter,
		Type:        evType,
		Severity:    0.9,
		Confidence:  0.9,
		Source:      model.SourceCVSystem,
		TimestampMS: ts,
		Knockdown:   &model.KnockdownDetail{Tier: tier},
	}
}

func control(id string, fighter model.FighterID, kind model.ControlKind, start bool, ts int64) model.CombatEvent {
	evType := model.EventControlStart
	if !start {
		evType = model.EventControlEnd
	}
	return model.CombatEvent{
		ID:          id,
		BoutID:      "bout-1",
		Round:       1,
		Fighter:     fighter,
		Type:        evType,
		Severity:    0.5,
		Confidence:  0.9,
		Source:      model.SourceManualOperator,
		TimestampMS: ts,
		Control:     &model.ControlDetail{Kind: kind},
	}
}

func crosses(fighter model.FighterID, n int, startTS int64) []model.CombatEvent {
	events := make([]model.CombatEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, strike(fmt.Sprintf("%s-cross-%d", fighter, i), fighter, model.TechCross, startTS+int64(i)*2000))
	}
	return events
}

func TestRegularisationTechniqueTiers(t *testing.T) {
	// 25 crosses: 10x3 + 10x(3*0.75) + 5x(3*0.5) = 60.
	en := NewEngine(nil)
	verdict, err := en.ScoreRound("bout-1", 1, crosses(model.FighterA, 25, 1000))
	require.NoError(t, err)

	assert.InDelta(t, 60.0, verdict.RawPoints[model.FighterA], 1e-9)
	assert.Equal(t, model.WinnerA, verdict.Winner)
	assert.Equal(t, model.ReasonPoints, verdict.Reason)
}

func TestKnockdownFlashLockBeatsVolume(t *testing.T) {
	// RED one KD-flash (100), BLUE 60 crosses (112.5 after R1): BLUE's lead
	// of 12.5 is below the 50-point flash threshold, so the lock holds.
	en := NewEngine(nil)
	events := append(crosses(model.FighterB, 60, 1000), knockdown("kd-1", model.FighterA, model.KDTierFlash, 30000))

	verdict, err := en.ScoreRound("bout-1", 1, events)
	require.NoError(t, err)

	assert.InDelta(t, 100.0, verdict.RawPoints[model.FighterA], 1e-9)
	assert.InDelta(t, 112.5, verdict.RawPoints[model.FighterB], 1e-9)
	assert.Equal(t, model.WinnerA, verdict.Winner)
	assert.Equal(t, model.ReasonLockKDFlash, verdict.Reason)
	assert.Equal(t, 10, verdict.Scores[model.FighterA])
	assert.Equal(t, 9, verdict.Scores[model.FighterB])
	assert.Contains(t, verdict.ImpactFlags[model.FighterA], model.FlagKDFlash)
}

func TestVolumeOverridesLockBeyondDelta(t *testing.T) {
	// BLUE clears 150 raw after R1 against RED's 100-point KD-flash.
	en := NewEngine(nil)
	events := append(crosses(model.FighterB, 100, 1000), knockdown("kd-1", model.FighterA, model.KDTierFlash, 30000))

	verdict, err := en.ScoreRound("bout-1", 1, events)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, verdict.RawPoints[model.FighterB], 150.0)
	assert.Equal(t, model.WinnerB, verdict.Winner)
	assert.Equal(t, model.ReasonPoints, verdict.Reason)
}

func TestControlWithoutWorkDiscount(t *testing.T) {
	// 70 seconds of top control = 7 buckets x 3 = 21 raw control, discounted
	// to 15.75 because RED has no strike output to go with it.
	en := NewEngine(nil)
	events := []model.CombatEvent{
		control("c-start", model.FighterA, model.ControlTop, true, 1000),
		control("c-end", model.FighterA, model.ControlTop, false, 71000),
	}

	verdict, err := en.ScoreRound("bout-1", 1, events)
	require.NoError(t, err)

	assert.InDelta(t, 15.75, verdict.RawPoints[model.FighterA], 1e-9)
	assert.True(t, verdict.ControlDiscounted[model.FighterA])
	assert.InDelta(t, 15.75, verdict.Breakdown[model.FighterA]["control-top"], 1e-9)
}

func TestControlContinuityStraddle(t *testing.T) {
	// 90 seconds continuous: buckets beginning beyond the 60s mark score at
	// half rate. 7 full buckets (21) + 2 halved buckets (3) = 24. The strike
	// output keeps R4 out of the picture.
	en := NewEngine(nil)
	events := []model.CombatEvent{
		control("c-start", model.FighterA, model.ControlTop, true, 1000),
		control("c-end", model.FighterA, model.ControlTop, false, 91000),
	}
	events = append(events, crosses(model.FighterA, 4, 100000)...)

	verdict, err := en.ScoreRound("bout-1", 1, events)
	require.NoError(t, err)

	assert.InDelta(t, 24.0, verdict.Breakdown[model.FighterA]["control-top"], 1e-9)
	assert.False(t, verdict.ControlDiscounted[model.FighterA])
}

func TestControlGapResetsContinuity(t *testing.T) {
	// Two 50s segments separated by a 20s gap: continuity resets, so no
	// bucket passes the 60s threshold and all 10 buckets score full.
	en := NewEngine(nil)
	events := []model.CombatEvent{
		control("c1-start", model.FighterA, model.ControlTop, true, 1000),
		control("c1-end", model.FighterA, model.ControlTop, false, 51000),
		control("c2-start", model.FighterA, model.ControlTop, true, 71000),
		control("c2-end", model.FighterA, model.ControlTop, false, 121000),
	}
	events = append(events, crosses(model.FighterA, 4, 130000)...)

	verdict, err := en.ScoreRound("bout-1", 1, events)
	require.NoError(t, err)

	assert.InDelta(t, 30.0, verdict.Breakdown[model.FighterA]["control-top"], 1e-9)
}

func TestControlContinuityCarriesAcrossShortGap(t *testing.T) {
	// 40s + 50s with a 10s gap: continuity carries, so the second segment
	// crosses the 60s threshold and its later buckets are halved.
	// Continuous timeline: buckets 0..8; starts 70,80 halved.
	en := NewEngine(nil)
	events := []model.CombatEvent{
		control("c1-start", model.FighterA, model.ControlTop, true, 1000),
		control("c1-end", model.FighterA, model.ControlTop, false, 41000),
		control("c2-start", model.FighterA, model.ControlTop, true, 51000),
		control("c2-end", model.FighterA, model.ControlTop, false, 101000),
	}
	events = append(events, crosses(model.FighterA, 4, 110000)...)

	verdict, err := en.ScoreRound("bout-1", 1, events)
	require.NoError(t, err)

	// 7 full buckets + 2 halved = 21 + 3 = 24.
	assert.InDelta(t, 24.0, verdict.Breakdown[model.FighterA]["control-top"], 1e-9)
}

func TestSignificantStrikeGuardrail(t *testing.T) {
	// 20 significant crosses: base 6 each; R2 kicks in from the 9th, R1 from
	// the 11th. n 1-8: 6.0, n 9-10: 4.5, n 11-14: 3.375, n 15-20: 2.25.
	en := NewEngine(nil)
	events := make([]model.CombatEvent, 0, 20)
	for i := 0; i < 20; i++ {
		ev := strike(fmt.Sprintf("sig-%d", i), model.FighterA, model.TechCross, int64(1000+i*2000))
		ev.Strike.Significant = true
		events = append(events, ev)
	}

	verdict, err := en.ScoreRound("bout-1", 1, events)
	require.NoError(t, err)

	expected := 8*6.0 + 2*4.5 + 4*(6.0*0.75*0.75) + 6*(6.0*0.75*0.5)
	assert.InDelta(t, expected, verdict.RawPoints[model.FighterA], 1e-9)
}

func TestTakedownStuffCap(t *testing.T) {
	// 5 stuffed takedowns: 3 at 5.0 then 2 at 2.5 = 20.
	en := NewEngine(nil)
	events := make([]model.CombatEvent, 0, 5)
	for i := 0; i < 5; i++ {
		events = append(events, model.CombatEvent{
			ID: fmt.Sprintf("stuff-%d", i), BoutID: "bout-1", Round: 1,
			Fighter: model.FighterA, Type: model.EventTakedownAttempt,
			Severity: 0.5, Confidence: 0.9, Source: model.SourceManualOperator,
			TimestampMS: int64(1000 + i*3000),
			Takedown:    &model.TakedownDetail{Stuffed: true},
		})
	}

	verdict, err := en.ScoreRound("bout-1", 1, events)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, verdict.RawPoints[model.FighterA], 1e-9)
}

func TestEmptyRoundIsTenTenDraw(t *testing.T) {
	en := NewEngine(nil)
	verdict, err := en.ScoreRound("bout-1", 1, nil)
	require.NoError(t, err)

	assert.Equal(t, model.WinnerDraw, verdict.Winner)
	assert.Equal(t, 10, verdict.Scores[model.FighterA])
	assert.Equal(t, 10, verdict.Scores[model.FighterB])
	assert.InDelta(t, 50.0, verdict.SharePct[model.FighterA], 1e-9)
	assert.InDelta(t, 50.0, verdict.SharePct[model.FighterB], 1e-9)
}

func TestSharesSumToHundred(t *testing.T) {
	en := NewEngine(nil)
	events := append(crosses(model.FighterA, 7, 1000), crosses(model.FighterB, 3, 2000)...)
	verdict, err := en.ScoreRound("bout-1", 1, events)
	require.NoError(t, err)

	assert.InDelta(t, 100.0, verdict.SharePct[model.FighterA]+verdict.SharePct[model.FighterB], 1e-9)
	assert.InDelta(t, 70.0, verdict.SharePct[model.FighterA], 1e-9)
}

func TestRawPointsEqualSumOfFinals(t *testing.T) {
	en := NewEngine(nil)
	events := append(crosses(model.FighterA, 15, 1000), knockdown("kd", model.FighterB, model.KDTierHard, 40000))
	events = append(events,
		control("cs", model.FighterB, model.ControlBack, true, 50000),
		control("ce", model.FighterB, model.ControlBack, false, 95000),
	)

	verdict, err := en.ScoreRound("bout-1", 1, events)
	require.NoError(t, err)

	sums := map[model.FighterID]float64{}
	for _, se := range verdict.ScoredEvents {
		sums[se.Fighter] += se.FinalPoints
		expect := se.BasePoints * se.TechniqueMult * se.StrikeMult * se.ControlMult * se.StuffMult
		assert.InDelta(t, expect, se.FinalPoints, 1e-9)
	}
	assert.InDelta(t, verdict.RawPoints[model.FighterA], sums[model.FighterA], 1e-9)
	assert.InDelta(t, verdict.RawPoints[model.FighterB], sums[model.FighterB], 1e-9)
}

func TestDeterminismUnderEqualTimestampPermutation(t *testing.T) {
	en := NewEngine(nil)

	base := []model.CombatEvent{}
	// Ten events all at the same timestamp across both fighters.
	for i := 0; i < 5; i++ {
		base = append(base, strike(fmt.Sprintf("a-%d", i), model.FighterA, model.TechKick, 5000))
		base = append(base, strike(fmt.Sprintf("b-%d", i), model.FighterB, model.TechHook, 5000))
	}
	base = append(base, knockdown("kd", model.FighterA, model.KDTierFlash, 5000))

	reference, err := en.ScoreRound("bout-1", 1, base)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 10; trial++ {
		shuffled := make([]model.CombatEvent, len(base))
		copy(shuffled, base)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		verdict, err := en.ScoreRound("bout-1", 1, shuffled)
		require.NoError(t, err)
		assert.Equal(t, reference.Winner, verdict.Winner)
		assert.Equal(t, reference.Reason, verdict.Reason)
		assert.Equal(t, reference.RawPoints, verdict.RawPoints)
		assert.Equal(t, reference.Scores, verdict.Scores)
		assert.Equal(t, reference.Breakdown, verdict.Breakdown)
	}
}

func TestBothLocksHigherPriorityWins(t *testing.T) {
	// Rocked outranks every knockdown tier in the configured priority order.
	en := NewEngine(nil)
	events := []model.CombatEvent{
		knockdown("kd", model.FighterB, model.KDTierNearFinish, 10000),
		{
			ID: "rocked-1", BoutID: "bout-1", Round: 1,
			Fighter: model.FighterA, Type: model.EventRocked,
			Severity: 0.8, Confidence: 0.85, Source: model.SourceAnalyticsDerived,
			TimestampMS: 20000,
		},
	}

	verdict, err := en.ScoreRound("bout-1", 1, events)
	require.NoError(t, err)
	assert.Equal(t, model.WinnerA, verdict.Winner)
	assert.Equal(t, model.ReasonLockRocked, verdict.Reason)
}

func TestTenPointMustTiers(t *testing.T) {
	en := NewEngine(nil)

	// delta >= 200: 10-7.
	events := []model.CombatEvent{knockdown("kd1", model.FighterA, model.KDTierNearFinish, 1000)}
	verdict, err := en.ScoreRound("bout-1", 1, events)
	require.NoError(t, err)
	assert.Equal(t, 10, verdict.Scores[model.FighterA])
	assert.Equal(t, 7, verdict.Scores[model.FighterB])

	// Two protected events: 10-8 even at a modest delta.
	events = []model.CombatEvent{
		knockdown("kd1", model.FighterA, model.KDTierFlash, 1000),
		{
			ID: "rocked-1", BoutID: "bout-1", Round: 1,
			Fighter: model.FighterA, Type: model.EventRocked,
			Severity: 0.8, Confidence: 0.85, Source: model.SourceAnalyticsDerived,
			TimestampMS: 2000,
		},
	}
	events = append(events, crosses(model.FighterB, 30, 1000)...)
	verdict, err = en.ScoreRound("bout-1", 1, events)
	require.NoError(t, err)
	require.Equal(t, model.WinnerA, verdict.Winner)
	assert.Equal(t, 8, verdict.Scores[model.FighterB])
}

func TestUnknownEventTypeScoresZero(t *testing.T) {
	en := NewEngine(nil)
	events := []model.CombatEvent{
		{
			ID: "odd-1", BoutID: "bout-1", Round: 1,
			Fighter: model.FighterA, Type: model.EventType("spinning-backfist"),
			Severity: 0.5, Confidence: 0.9, Source: model.SourceManualOperator,
			TimestampMS: 1000,
		},
	}
	verdict, err := en.ScoreRound("bout-1", 1, events)
	require.NoError(t, err)
	assert.Zero(t, verdict.RawPoints[model.FighterA])
	// It still occupies a breakdown slot under its slug.
	assert.Contains(t, verdict.Breakdown[model.FighterA], "spinning-backfist")
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := DefaultConfig()
	bad.SignificantX = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Regularisation.Technique = []Tier{{UpTo: 10, Mult: 1.0}}
	assert.Error(t, bad.Validate())
}
