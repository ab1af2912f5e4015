package stats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/config"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
)

type fakeReader struct {
	events []model.CombatEvent
	calls  int
}

func (f *fakeReader) EventsForRound(_ context.Context, _ string, _ int) ([]model.CombatEvent, error) {
	f.calls++
	return f.events, nil
}

func statEvent(id string, ts int64, fighter model.FighterID, typ model.EventType) model.CombatEvent {
	return model.CombatEvent{
		ID: id, BoutID: "bout-1", Round: 1,
		Fighter: fighter, Type: typ,
		Severity: 0.6, Confidence: 0.9,
		Source: model.SourceCVSystem, TimestampMS: ts,
	}
}

func newTestAggregator(events []model.CombatEvent) (*Aggregator, *fakeReader, *time.Time) {
	reader := &fakeReader{events: events}
	a := New(config.Default().Stats, reader, nil, nil)
	now := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	return a, reader, &now
}

func TestLiveStatsTotals(t *testing.T) {
	events := []model.CombatEvent{
		statEvent("e1", 1000, model.FighterA, model.EventStrikeSignificant),
		statEvent("e2", 2000, model.FighterA, model.EventStrikeHighImpact),
		statEvent("e3", 3000, model.FighterA, model.EventKnockdownFlash),
		statEvent("e4", 4000, model.FighterB, model.EventTakedownLanded),
		statEvent("e5", 5000, model.FighterB, model.EventControlStart),
		statEvent("e6", 25000, model.FighterB, model.EventControlEnd),
		statEvent("e7", 26000, model.FighterB, model.EventSubmissionAttempt),
	}
	a, _, _ := newTestAggregator(events)

	live, err := a.Live(context.Background(), "bout-1", 1)
	require.NoError(t, err)

	red := live.Fighters[model.FighterA]
	assert.Equal(t, 2, red.SignificantStrikes)
	assert.Equal(t, 1, red.HighImpactStrikes)
	assert.Equal(t, 1, red.Knockdowns)

	blue := live.Fighters[model.FighterB]
	assert.Equal(t, 1, blue.TakedownsLanded)
	assert.Equal(t, 1, blue.SubmissionAttempts)
	assert.Equal(t, int64(20000), blue.ControlMS)
	assert.Equal(t, int64(26000), live.AsOfMS)
}

func TestLiveStatsUnclosedControlRunsToLatest(t *testing.T) {
	events := []model.CombatEvent{
		statEvent("e1", 1000, model.FighterA, model.EventControlStart),
		statEvent("e2", 31000, model.FighterB, model.EventStrikeSignificant),
	}
	a, _, _ := newTestAggregator(events)

	live, err := a.Live(context.Background(), "bout-1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(30000), live.Fighters[model.FighterA].ControlMS)
}

func TestLiveStatsRecentWindowAndRocked(t *testing.T) {
	rocked := statEvent("e3", 200000, model.FighterA, model.EventRocked)
	rocked.Extensions = map[string]string{"rocked_fighter": string(model.FighterB)}
	events := []model.CombatEvent{
		statEvent("e1", 1000, model.FighterA, model.EventStrikeSignificant),
		statEvent("e2", 199000, model.FighterA, model.EventStrikeSignificant),
		rocked,
	}
	a, _, _ := newTestAggregator(events)

	live, err := a.Live(context.Background(), "bout-1", 1)
	require.NoError(t, err)

	// Only the strike inside the trailing 60s counts as recent.
	assert.Equal(t, 2, live.Fighters[model.FighterA].SignificantStrikes)
	assert.Equal(t, 1, live.Fighters[model.FighterA].RecentStrikes)
	assert.True(t, live.Fighters[model.FighterB].Rocked)
	assert.False(t, live.Fighters[model.FighterA].Rocked)
}

func TestStuffedTakedownCreditsDefender(t *testing.T) {
	// The stuffed event is attributed to the defender.
	stuffed := statEvent("e1", 5000, model.FighterB, model.EventTakedownAttempt)
	stuffed.Takedown = &model.TakedownDetail{Stuffed: true}
	a, _, _ := newTestAggregator([]model.CombatEvent{stuffed})

	live, err := a.Live(context.Background(), "bout-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, live.Fighters[model.FighterB].TakedownsStuffed)
	assert.Zero(t, live.Fighters[model.FighterA].TakedownsStuffed)
}

func TestIndicatorsScopedToRecentWindow(t *testing.T) {
	staleRocked := statEvent("e1", 1000, model.FighterA, model.EventRocked)
	staleRocked.Extensions = map[string]string{"rocked_fighter": string(model.FighterB)}
	events := []model.CombatEvent{
		staleRocked,
		statEvent("e2", 2000, model.FighterA, model.EventKnockdownFlash),
		statEvent("e3", 200000, model.FighterA, model.EventKnockdownHard),
	}
	a, _, _ := newTestAggregator(events)

	live, err := a.Live(context.Background(), "bout-1", 1)
	require.NoError(t, err)

	red := live.Fighters[model.FighterA]
	// Both knockdowns count for the round, but only the one inside the
	// trailing 60s raises the indicator; the early rocked has lapsed.
	assert.Equal(t, 2, red.Knockdowns)
	assert.True(t, red.RecentKnockdown)
	assert.False(t, live.Fighters[model.FighterB].Rocked)
}

func TestOutputWeightTotals(t *testing.T) {
	events := []model.CombatEvent{
		statEvent("e1", 1000, model.FighterA, model.EventStrikeSignificant),
		statEvent("e2", 2000, model.FighterB, model.EventTakedownLanded),
	}
	a, _, _ := newTestAggregator(events)

	live, err := a.Live(context.Background(), "bout-1", 1)
	require.NoError(t, err)

	// Severity 0.6 and confidence 0.9 scale the base bundle by
	// 0.36 x 1.1 = 0.396.
	red := live.Fighters[model.FighterA].Output
	assert.InDelta(t, 0.2376, red.Damage, 1e-9)
	assert.InDelta(t, 0.1584, red.Aggression, 1e-9)

	blue := live.Fighters[model.FighterB].Output
	assert.InDelta(t, 0.3168, blue.Control, 1e-9)

	cmp, err := a.Compare(context.Background(), "bout-1", 1)
	require.NoError(t, err)
	for _, m := range cmp.Metrics {
		if m.Metric == "damage_output" {
			assert.Equal(t, string(model.CornerRed), m.Leader)
		}
	}
}

func TestLiveStatsCachedWithinTTL(t *testing.T) {
	a, reader, now := newTestAggregator([]model.CombatEvent{
		statEvent("e1", 1000, model.FighterA, model.EventStrikeSignificant),
	})
	ctx := context.Background()

	_, err := a.Live(ctx, "bout-1", 1)
	require.NoError(t, err)
	_, err = a.Live(ctx, "bout-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, reader.calls)

	// Past the TTL the store is consulted again.
	*now = now.Add(2 * time.Second)
	_, err = a.Live(ctx, "bout-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls)
}

func TestInvalidateDropsCache(t *testing.T) {
	a, reader, _ := newTestAggregator(nil)
	ctx := context.Background()

	_, err := a.Live(ctx, "bout-1", 1)
	require.NoError(t, err)
	a.Invalidate(ctx, "bout-1", 1)
	_, err = a.Live(ctx, "bout-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls)
}

func TestComparisonLeaders(t *testing.T) {
	events := []model.CombatEvent{
		statEvent("e1", 1000, model.FighterA, model.EventStrikeSignificant),
		statEvent("e2", 2000, model.FighterA, model.EventStrikeSignificant),
		statEvent("e3", 3000, model.FighterB, model.EventTakedownLanded),
	}
	a, _, _ := newTestAggregator(events)

	cmp, err := a.Compare(context.Background(), "bout-1", 1)
	require.NoError(t, err)

	byMetric := map[string]MetricDelta{}
	for _, m := range cmp.Metrics {
		byMetric[m.Metric] = m
	}
	assert.Equal(t, string(model.CornerRed), byMetric["significant_strikes"].Leader)
	assert.Equal(t, string(model.CornerBlue), byMetric["takedowns_landed"].Leader)
	assert.Equal(t, "even", byMetric["knockdowns"].Leader)
}

func TestHotCacheMirror(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	reader := &fakeReader{}
	a := New(config.Default().Stats, reader, nil, rdb)
	now := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	key := cacheKey("bout-1", 1, "live")
	expected, err := json.Marshal(&LiveStats{
		BoutID: "bout-1",
		Round:  1,
		Fighters: map[model.FighterID]FighterStats{
			model.FighterA: {},
			model.FighterB: {},
		},
	})
	require.NoError(t, err)

	mock.ExpectGet(key).RedisNil()
	mock.ExpectSet(key, expected, time.Second).SetVal("OK")

	_, err = a.Live(context.Background(), "bout-1", 1)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateDropsHotKeys(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	a := New(config.Default().Stats, &fakeReader{}, nil, rdb)

	mock.ExpectDel(cacheKey("bout-1", 1, "live"), cacheKey("bout-1", 1, "comparison")).SetVal(2)
	a.Invalidate(context.Background(), "bout-1", 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
