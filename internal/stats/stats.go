// Package stats builds live broadcast read models over the document store:
// per-fighter round stats and a red-vs-blue comparison. Results are cached
// for a short TTL and invalidated on every event write, keeping reads
// sub-second without hammering the store mid-round.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/config"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/metrics"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/normalize"
)

// EventReader is the slice of the store the aggregator needs.
type EventReader interface {
	EventsForRound(ctx context.Context, boutID string, round int) ([]model.CombatEvent, error)
}

// FighterStats is one fighter's running totals for a round. The Recent*
// fields and Rocked are scoped to the trailing stats window; Output is the
// normalised damage/control/aggression volume across the whole round.
type FighterStats struct {
	SignificantStrikes int                    `json:"significant_strikes"`
	HighImpactStrikes  int                    `json:"high_impact_strikes"`
	Knockdowns         int                    `json:"knockdowns"`
	TakedownsLanded    int                    `json:"takedowns_landed"`
	TakedownsStuffed   int                    `json:"takedowns_stuffed"`
	SubmissionAttempts int                    `json:"submission_attempts"`
	ControlMS          int64                  `json:"control_ms"`
	RecentStrikes      int                    `json:"recent_strikes"`
	RecentKnockdown    bool                   `json:"recent_knockdown"`
	Rocked             bool                   `json:"rocked"`
	Output             normalize.WeightBundle `json:"output"`
}

// LiveStats is the live read model for one round.
type LiveStats struct {
	BoutID      string                           `json:"bout_id"`
	Round       int                              `json:"round"`
	Fighters    map[model.FighterID]FighterStats `json:"fighters"`
	AsOfMS      int64                            `json:"as_of_ms"`
	QueryTimeMS float64                          `json:"query_time_ms"`
}

// MetricDelta compares one metric across the corners.
type MetricDelta struct {
	Metric string  `json:"metric"`
	Red    float64 `json:"red"`
	Blue   float64 `json:"blue"`
	Leader string  `json:"leader"`
}

// Comparison is the red-vs-blue read model for one round.
type Comparison struct {
	BoutID  string        `json:"bout_id"`
	Round   int           `json:"round"`
	Metrics []MetricDelta `json:"metrics"`
}

type cacheEntry struct {
	doc []byte
	at  time.Time
}

// Aggregator computes and caches the read models. Safe for concurrent use.
type Aggregator struct {
	cfg   config.StatsConfig
	store EventReader
	reg   *metrics.Registry
	hot   *redisv8.Client
	norm  *normalize.Engine
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New creates an aggregator. reg and hot may be nil; hot enables a redis
// mirror of cache entries shared across instances.
func New(cfg config.StatsConfig, store EventReader, reg *metrics.Registry, hot *redisv8.Client) *Aggregator {
	return &Aggregator{
		cfg:   cfg,
		store: store,
		reg:   reg,
		hot:   hot,
		norm:  normalize.NewEngine(),
		now:   time.Now,
		cache: make(map[string]cacheEntry),
	}
}

func cacheKey(boutID string, round int, kind string) string {
	return fmt.Sprintf("fightcore:stats:%s:%d:%s", boutID, round, kind)
}

// Invalidate drops every cached read model for a bout round. Called on each
// accepted event write so stats stay within one event of the timeline.
func (a *Aggregator) Invalidate(ctx context.Context, boutID string, round int) {
	keys := []string{
		cacheKey(boutID, round, "live"),
		cacheKey(boutID, round, "comparison"),
	}
	a.mu.Lock()
	for _, k := range keys {
		delete(a.cache, k)
	}
	a.mu.Unlock()

	if a.hot != nil {
		if err := a.hot.Del(ctx, keys...).Err(); err != nil {
			log.Warn().Err(err).Str("bout_id", boutID).Msg("hot cache invalidation failed")
		}
	}
}

// cached fetches a fresh entry from process cache, then the hot cache.
func (a *Aggregator) cached(ctx context.Context, key string, out interface{}) bool {
	ttl := time.Duration(a.cfg.CacheTTLSec * float64(time.Second))

	a.mu.Lock()
	entry, ok := a.cache[key]
	a.mu.Unlock()
	if ok && a.now().Sub(entry.at) < ttl {
		if json.Unmarshal(entry.doc, out) == nil {
			a.hit()
			return true
		}
	}

	if a.hot != nil {
		raw, err := a.hot.Get(ctx, key).Bytes()
		if err == nil && json.Unmarshal(raw, out) == nil {
			a.hit()
			return true
		}
	}
	a.miss()
	return false
}

func (a *Aggregator) hit() {
	if a.reg != nil {
		a.reg.StatsCacheHits.Inc()
	}
}

func (a *Aggregator) miss() {
	if a.reg != nil {
		a.reg.StatsCacheMisses.Inc()
	}
}

func (a *Aggregator) fill(ctx context.Context, key string, doc interface{}) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return
	}
	a.mu.Lock()
	a.cache[key] = cacheEntry{doc: raw, at: a.now()}
	a.mu.Unlock()

	if a.hot != nil {
		ttl := time.Duration(a.cfg.CacheTTLSec * float64(time.Second))
		if err := a.hot.Set(ctx, key, raw, ttl).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("hot cache write failed")
		}
	}
}

// Live returns the live stats read model for a round.
func (a *Aggregator) Live(ctx context.Context, boutID string, round int) (*LiveStats, error) {
	key := cacheKey(boutID, round, "live")
	var cachedStats LiveStats
	if a.cached(ctx, key, &cachedStats) {
		return &cachedStats, nil
	}

	start := a.now()
	events, err := a.store.EventsForRound(ctx, boutID, round)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for stats: %w", err)
	}
	stats := a.compute(boutID, round, events)
	stats.QueryTimeMS = float64(a.now().Sub(start).Microseconds()) / 1000
	if stats.QueryTimeMS > float64(a.cfg.SlowQueryMS) {
		log.Warn().Str("bout_id", boutID).Int("round", round).
			Float64("query_ms", stats.QueryTimeMS).Msg("slow stats query")
	}

	a.fill(ctx, key, stats)
	return stats, nil
}

// Compare returns the red-vs-blue comparison for a round.
func (a *Aggregator) Compare(ctx context.Context, boutID string, round int) (*Comparison, error) {
	key := cacheKey(boutID, round, "comparison")
	var cachedCmp Comparison
	if a.cached(ctx, key, &cachedCmp) {
		return &cachedCmp, nil
	}

	live, err := a.Live(ctx, boutID, round)
	if err != nil {
		return nil, err
	}

	red := live.Fighters[model.FighterA]
	blue := live.Fighters[model.FighterB]
	cmp := &Comparison{
		BoutID: boutID,
		Round:  round,
		Metrics: []MetricDelta{
			delta("significant_strikes", float64(red.SignificantStrikes), float64(blue.SignificantStrikes)),
			delta("high_impact_strikes", float64(red.HighImpactStrikes), float64(blue.HighImpactStrikes)),
			delta("knockdowns", float64(red.Knockdowns), float64(blue.Knockdowns)),
			delta("takedowns_landed", float64(red.TakedownsLanded), float64(blue.TakedownsLanded)),
			delta("submission_attempts", float64(red.SubmissionAttempts), float64(blue.SubmissionAttempts)),
			delta("control_seconds", float64(red.ControlMS)/1000, float64(blue.ControlMS)/1000),
			delta("damage_output", red.Output.Damage, blue.Output.Damage),
		},
	}

	a.fill(ctx, key, cmp)
	return cmp, nil
}

func delta(metric string, red, blue float64) MetricDelta {
	leader := "even"
	if red > blue {
		leader = string(model.CornerRed)
	} else if blue > red {
		leader = string(model.CornerBlue)
	}
	return MetricDelta{Metric: metric, Red: red, Blue: blue, Leader: leader}
}

// compute folds a round's events into per-fighter totals.
func (a *Aggregator) compute(boutID string, round int, events []model.CombatEvent) *LiveStats {
	stats := map[model.FighterID]FighterStats{
		model.FighterA: {},
		model.FighterB: {},
	}
	openControl := map[model.FighterID]int64{}
	var maxTS int64

	for i := range events {
		ev := &events[i]
		if ev.TimestampMS > maxTS {
			maxTS = ev.TimestampMS
		}
	}
	recentFrom := maxTS - a.cfg.RecentWindowMS

	for i := range events {
		ev := &events[i]
		s := stats[ev.Fighter]
		switch ev.Type {
		case model.EventStrikeSignificant:
			s.SignificantStrikes++
		case model.EventStrikeHighImpact:
			s.SignificantStrikes++
			s.HighImpactStrikes++
		case model.EventKnockdownFlash, model.EventKnockdownHard, model.EventKnockdownNearFinish:
			s.Knockdowns++
			if ev.TimestampMS >= recentFrom {
				s.RecentKnockdown = true
			}
		case model.EventTakedownLanded:
			s.TakedownsLanded++
		case model.EventTakedownAttempt:
			// A stuffed attempt is attributed to the defender, who gets the
			// credit.
			if ev.Takedown != nil && ev.Takedown.Stuffed {
				s.TakedownsStuffed++
			}
		case model.EventSubmissionAttempt:
			s.SubmissionAttempts++
		case model.EventControlStart:
			if _, open := openControl[ev.Fighter]; !open {
				openControl[ev.Fighter] = ev.TimestampMS
			}
		case model.EventControlEnd:
			if start, open := openControl[ev.Fighter]; open {
				s.ControlMS += ev.TimestampMS - start
				delete(openControl, ev.Fighter)
			}
		case model.EventRocked:
			if ev.TimestampMS >= recentFrom {
				victim := ev.Fighter.Opponent()
				if v, ok := ev.Extensions["rocked_fighter"]; ok {
					victim = model.FighterID(v)
				}
				vs := stats[victim]
				vs.Rocked = true
				stats[victim] = vs
			}
		}
		if ev.Type.IsStrike() && ev.TimestampMS >= recentFrom {
			s.RecentStrikes++
		}
		w := a.norm.Normalize(ev).Weights
		s.Output.Damage += w.Damage
		s.Output.Control += w.Control
		s.Output.Aggression += w.Aggression
		stats[ev.Fighter] = s
	}

	// Unclosed control runs to the latest event.
	for fighter, start := range openControl {
		s := stats[fighter]
		s.ControlMS += maxTS - start
		stats[fighter] = s
	}

	return &LiveStats{BoutID: boutID, Round: round, Fighters: stats, AsOfMS: maxTS}
}
