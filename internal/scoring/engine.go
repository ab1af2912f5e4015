package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
)

// ErrScoringFault marks a violated scoring invariant. The round verdict is
// not emitted and the bout must be marked degraded by the caller.
var ErrScoringFault = errors.New("scoring invariant violation")

const floatTolerance = 1e-9

// FighterRoundState is the per-fighter accumulator for one scoring
// invocation. It never outlives the ScoreRound call that created it.
type FighterRoundState struct {
	TechniqueCounts   map[string]int
	SignificantCount  int
	StuffCount        int
	ControlContinuous map[model.ControlKind]float64
	ControlLastEnd    map[model.ControlKind]int64
	RawPoints         float64
	StrikePoints      float64
	ControlPoints     float64
	HeavyGroundPoints float64
	HasSubmission     bool
	Flags             map[model.ImpactFlag]bool

	openControl   map[model.ControlKind]int64
	scored        []int // indexes into the engine's scored event slice
	controlScored []int // subset of scored that are control buckets
}

func newFighterState() *FighterRoundState {
	return &FighterRoundState{
		TechniqueCounts:   make(map[string]int),
		ControlContinuous: make(map[model.ControlKind]float64),
		ControlLastEnd:    make(map[model.ControlKind]int64),
		Flags:             make(map[model.ImpactFlag]bool),
		openControl:       make(map[model.ControlKind]int64),
	}
}

// Engine is the deterministic round scoring engine. A verdict is a pure
// function of the event list, the round number and the configuration.
type Engine struct {
	cfg *Config
}

// NewEngine creates a scoring engine; a nil config selects the v3 defaults.
func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg}
}

// kindOf maps an event to its scoring kind and whether it is a significant
// strike for the R2 guardrail.
func kindOf(e *model.CombatEvent) (kind string, significant bool) {
	switch e.Type {
	case model.EventStrikeSignificant, model.EventStrikeHighImpact:
		tech := model.TechCross
		sig := true
		if e.Strike != nil {
			if e.Strike.Technique != "" {
				tech = e.Strike.Technique
			}
			sig = e.Strike.Significant
		}
		if sig {
			return string(tech) + SignificantSuffix, true
		}
		return string(tech), false
	case model.EventKnockdownFlash:
		return KindKDFlash, false
	case model.EventKnockdownHard:
		return KindKDHard, false
	case model.EventKnockdownNearFinish:
		return KindKDNearFinish, false
	case model.EventRocked:
		return KindRocked, false
	case model.EventTakedownLanded:
		return KindTakedown, false
	case model.EventTakedownAttempt:
		if e.Takedown != nil && e.Takedown.Stuffed {
			return KindTakedownStuffed, false
		}
		return KindTakedownAttempt, false
	case model.EventSubmissionAttempt:
		depth := model.SubDepthLight
		if e.Submission != nil && e.Submission.Depth != "" {
			depth = e.Submission.Depth
		}
		switch depth {
		case model.SubDepthNearFinish:
			return KindSubNearFinish, false
		case model.SubDepthDeep:
			return KindSubDeep, false
		default:
			return KindSubLight, false
		}
	case model.EventMomentumSwing:
		return KindMomentumSwing, false
	default:
		// Unknown event type: best-effort slug, scored with base 0. It still
		// occupies a diminishing-returns slot.
		return string(e.Type), false
	}
}

// basePoints resolves the base value for a scoring kind. Significant strikes
// double the underlying technique base.
func (en *Engine) basePoints(kind string, significant bool) float64 {
	if significant {
		tech := kind[:len(kind)-len(SignificantSuffix)]
		return en.cfg.BasePoints[tech] * en.cfg.SignificantX
	}
	return en.cfg.BasePoints[kind]
}

// isStrikeKind reports whether a scoring kind contributes to strike points.
func isStrikeKind(e *model.CombatEvent) bool {
	return e.Type.IsStrike()
}

// ScoreRound computes the round verdict for one event list.
func (en *Engine) ScoreRound(boutID string, round int, events []model.CombatEvent) (*model.RoundVerdict, error) {
	// Deterministic total order: timestamp, fighter, kind, id. Reordering
	// inputs that share a timestamp cannot change the verdict.
	ordered := make([]model.CombatEvent, len(events))
	copy(ordered, events)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := &ordered[i], &ordered[j]
		if a.TimestampMS != b.TimestampMS {
			return a.TimestampMS < b.TimestampMS
		}
		if a.Fighter != b.Fighter {
			return a.Fighter < b.Fighter
		}
		ka, _ := kindOf(a)
		kb, _ := kindOf(b)
		if ka != kb {
			return ka < kb
		}
		return a.ID < b.ID
	})

	states := map[model.FighterID]*FighterRoundState{
		model.FighterA: newFighterState(),
		model.FighterB: newFighterState(),
	}
	var scored []model.ScoredEvent
	var maxTS int64

	for i := range ordered {
		ev := &ordered[i]
		if ev.TimestampMS > maxTS {
			maxTS = ev.TimestampMS
		}
		st, ok := states[ev.Fighter]
		if !ok {
			log.Warn().Str("bout_id", boutID).Str("fighter", string(ev.Fighter)).
				Msg("event for unknown fighter dropped from scoring")
			continue
		}

		switch ev.Type {
		case model.EventControlStart:
			kind := controlKind(ev)
			if _, open := st.openControl[kind]; !open {
				st.openControl[kind] = ev.TimestampMS
			}
			continue
		case model.EventControlEnd:
			kind := controlKind(ev)
			if start, open := st.openControl[kind]; open {
				delete(st.openControl, kind)
				scored = en.scoreControlSegment(st, ev.Fighter, kind, start, ev.TimestampMS, scored)
			}
			continue
		}

		kind, significant := kindOf(ev)
		if !ev.Type.Known() {
			log.Warn().Str("bout_id", boutID).Str("type", string(ev.Type)).
				Msg("unknown event type scored with base 0")
		}
		base := en.basePoints(kind, significant)

		st.TechniqueCounts[kind]++
		m1 := multiplierFor(en.cfg.Regularisation.Technique, st.TechniqueCounts[kind])

		m2 := 1.0
		if significant {
			st.SignificantCount++
			m2 = multiplierFor(en.cfg.Regularisation.Significant, st.SignificantCount)
		}

		m4 := 1.0
		if kind == KindTakedownStuffed {
			st.StuffCount++
			m4 = multiplierFor(en.cfg.Regularisation.StuffCap, st.StuffCount)
		}

		final := base * m1 * m2 * 1.0 * m4
		se := model.ScoredEvent{
			EventID:       ev.ID,
			Fighter:       ev.Fighter,
			Kind:          kind,
			TimestampMS:   ev.TimestampMS,
			BasePoints:    base,
			TechniqueMult: m1,
			StrikeMult:    m2,
			ControlMult:   1.0,
			StuffMult:     m4,
			FinalPoints:   final,
		}
		st.scored = append(st.scored, len(scored))
		scored = append(scored, se)

		st.RawPoints += final
		if isStrikeKind(ev) {
			st.StrikePoints += final
			if ev.Strike != nil && ev.Strike.Ground && ev.Strike.Quality == model.GroundStrikeSolid {
				st.HeavyGroundPoints += final
			}
		}
		if ev.Type == model.EventSubmissionAttempt {
			st.HasSubmission = true
		}
		if flag, ok := ev.ImpactFlagFor(); ok {
			st.Flags[flag] = true
		}
	}

	// Close any control position still open at the end of the round.
	for _, fighter := range []model.FighterID{model.FighterA, model.FighterB} {
		st := states[fighter]
		for kind, start := range st.openControl {
			scored = en.scoreControlSegment(st, fighter, kind, start, maxTS, scored)
		}
		st.openControl = make(map[model.ControlKind]int64)
	}

	// R4: control-without-work discount, folded into the control buckets'
	// control multiplier so final = base x product holds per scored event.
	discounted := make(map[model.FighterID]bool, 2)
	r4 := en.cfg.Regularisation.ControlWithoutWork
	for fighter, st := range states {
		if st.ControlPoints >= r4.MinControlPoints &&
			st.StrikePoints < r4.MaxStrikePoints &&
			!st.HasSubmission &&
			st.HeavyGroundPoints < r4.MaxHeavyGroundPoints {
			for _, idx := range st.controlScored {
				se := &scored[idx]
				delta := se.FinalPoints * (1 - r4.Mult)
				se.ControlMult *= r4.Mult
				se.FinalPoints = se.BasePoints * se.TechniqueMult * se.StrikeMult * se.ControlMult * se.StuffMult
				st.RawPoints -= delta
				st.ControlPoints -= delta
			}
			discounted[fighter] = true
		}
	}

	// Invariant check: every scored event's final must equal base x the
	// product of its four multipliers, and raw must be the sum of finals.
	sums := map[model.FighterID]float64{}
	for i := range scored {
		se := &scored[i]
		expect := se.BasePoints * se.TechniqueMult * se.StrikeMult * se.ControlMult * se.StuffMult
		if math.Abs(expect-se.FinalPoints) > floatTolerance {
			return nil, fmt.Errorf("%w: event %s final %.6f != %.6f", ErrScoringFault, se.EventID, se.FinalPoints, expect)
		}
		sums[se.Fighter] += se.FinalPoints
	}
	for fighter, st := range states {
		if math.Abs(sums[fighter]-st.RawPoints) > 1e-6 {
			return nil, fmt.Errorf("%w: fighter %s raw %.6f != sum of finals %.6f", ErrScoringFault, fighter, st.RawPoints, sums[fighter])
		}
	}

	rawA := states[model.FighterA].RawPoints
	rawB := states[model.FighterB].RawPoints

	winner, reason := en.decide(states, rawA, rawB)
	scores := en.tenPointMust(winner, states, rawA, rawB)

	verdict := &model.RoundVerdict{
		BoutID: boutID,
		Round:  round,
		RawPoints: map[model.FighterID]float64{
			model.FighterA: rawA,
			model.FighterB: rawB,
		},
		SharePct:      sharePercentages(rawA, rawB),
		ImpactFlags:   flagLists(states),
		Winner:        winner,
		Reason:        reason,
		Scores:        scores,
		Breakdown:     breakdown(scored),
		ScoredEvents:  scored,
		EngineVersion: EngineVersion,
	}
	if len(discounted) > 0 {
		verdict.ControlDiscounted = discounted
	}
	return verdict, nil
}

func controlKind(ev *model.CombatEvent) model.ControlKind {
	if ev.Control != nil && ev.Control.Kind != "" {
		return ev.Control.Kind
	}
	return model.ControlTop
}

// scoreControlSegment converts one continuous control segment into bucket
// scored events. Continuity carries across segments separated by less than
// the gap-reset threshold; buckets that begin beyond the continuity
// threshold score at the reduced multiplier.
func (en *Engine) scoreControlSegment(st *FighterRoundState, fighter model.FighterID, kind model.ControlKind, startMS, endMS int64, scored []model.ScoredEvent) []model.ScoredEvent {
	cc := en.cfg.Regularisation.Control
	if endMS <= startMS {
		return scored
	}

	if last, ok := st.ControlLastEnd[kind]; ok {
		if float64(startMS-last)/1000.0 > cc.GapResetSeconds {
			st.ControlContinuous[kind] = 0
		}
	}

	c0 := st.ControlContinuous[kind]
	duration := float64(endMS-startMS) / 1000.0
	cEnd := c0 + duration

	scoringKind := KindControlPrefix + string(kind)
	for j := int(c0 / cc.BucketSeconds); ; j++ {
		bucketEnd := float64(j+1) * cc.BucketSeconds
		if bucketEnd > cEnd+floatTolerance {
			break
		}
		bucketStart := float64(j) * cc.BucketSeconds
		mult := 1.0
		if bucketStart > cc.ContinuitySeconds+floatTolerance {
			mult = cc.ContinuityMult
		}
		final := cc.PointsPerBucket * mult
		se := model.ScoredEvent{
			EventID:       fmt.Sprintf("%s-%s-bucket-%d", fighter, kind, j+1),
			Fighter:       fighter,
			Kind:          scoringKind,
			TimestampMS:   startMS + int64((bucketEnd-c0)*1000),
			BasePoints:    cc.PointsPerBucket,
			TechniqueMult: 1.0,
			StrikeMult:    1.0,
			ControlMult:   mult,
			StuffMult:     1.0,
			FinalPoints:   final,
		}
		st.scored = append(st.scored, len(scored))
		st.controlScored = append(st.controlScored, len(scored))
		scored = append(scored, se)
		st.RawPoints += final
		st.ControlPoints += final
	}

	st.ControlContinuous[kind] = cEnd
	st.ControlLastEnd[kind] = endMS
	return scored
}

// decide applies the impact lock scan, then raw points.
func (en *Engine) decide(states map[model.FighterID]*FighterRoundState, rawA, rawB float64) (model.Winner, model.WinReason) {
	aLock := en.strongestLock(states[model.FighterA])
	bLock := en.strongestLock(states[model.FighterB])

	switch {
	case aLock >= 0 && bLock >= 0:
		if aLock < bLock {
			return model.WinnerA, lockReason(en.cfg.ImpactLocks[aLock].Flag)
		}
		if bLock < aLock {
			return model.WinnerB, lockReason(en.cfg.ImpactLocks[bLock].Flag)
		}
		// Equal priority: raw points decide.
	case aLock >= 0:
		if rawB-rawA < en.cfg.ImpactLocks[aLock].Delta {
			return model.WinnerA, lockReason(en.cfg.ImpactLocks[aLock].Flag)
		}
	case bLock >= 0:
		if rawA-rawB < en.cfg.ImpactLocks[bLock].Delta {
			return model.WinnerB, lockReason(en.cfg.ImpactLocks[bLock].Flag)
		}
	}

	delta := math.Abs(rawA - rawB)
	if delta < en.cfg.Round.DrawThreshold {
		return model.WinnerDraw, model.ReasonPoints
	}
	if rawA > rawB {
		return model.WinnerA, model.ReasonPoints
	}
	return model.WinnerB, model.ReasonPoints
}

// strongestLock returns the priority index of the fighter's highest-priority
// lock flag, or -1.
func (en *Engine) strongestLock(st *FighterRoundState) int {
	best := -1
	for flag := range st.Flags {
		p := en.cfg.lockPriority(flag)
		if p >= 0 && (best < 0 || p < best) {
			best = p
		}
	}
	return best
}

func lockReason(flag model.ImpactFlag) model.WinReason {
	switch flag {
	case model.FlagRocked:
		return model.ReasonLockRocked
	case model.FlagKDFlash:
		return model.ReasonLockKDFlash
	case model.FlagKDHard:
		return model.ReasonLockKDHard
	case model.FlagKDNearFinish:
		return model.ReasonLockKDNF
	case model.FlagSubNearFinish:
		return model.ReasonLockSubNF
	default:
		return model.ReasonPoints
	}
}

// tenPointMust assigns the 10-point-must pair.
func (en *Engine) tenPointMust(winner model.Winner, states map[model.FighterID]*FighterRoundState, rawA, rawB float64) map[model.FighterID]int {
	if winner == model.WinnerDraw {
		return map[model.FighterID]int{model.FighterA: 10, model.FighterB: 10}
	}

	winFighter := model.FighterA
	loseFighter := model.FighterB
	if winner == model.WinnerB {
		winFighter, loseFighter = model.FighterB, model.FighterA
	}

	p := len(states[winFighter].Flags)
	delta := math.Abs(rawA - rawB)

	loser := 9
	switch {
	case p >= en.cfg.Round.Protected107 || delta >= en.cfg.Round.MinDelta107:
		loser = 7
	case p >= en.cfg.Round.Protected108 || delta >= en.cfg.Round.MinDelta108:
		loser = 8
	}

	return map[model.FighterID]int{winFighter: 10, loseFighter: loser}
}

func sharePercentages(rawA, rawB float64) map[model.FighterID]float64 {
	total := rawA + rawB
	if total <= 0 {
		return map[model.FighterID]float64{model.FighterA: 50, model.FighterB: 50}
	}
	shareA := rawA / total * 100
	return map[model.FighterID]float64{
		model.FighterA: shareA,
		model.FighterB: 100 - shareA,
	}
}

func flagLists(states map[model.FighterID]*FighterRoundState) map[model.FighterID][]model.ImpactFlag {
	out := make(map[model.FighterID][]model.ImpactFlag, 2)
	for fighter, st := range states {
		flags := make([]model.ImpactFlag, 0, len(st.Flags))
		for f := range st.Flags {
			flags = append(flags, f)
		}
		sort.Slice(flags, func(i, j int) bool { return flags[i] < flags[j] })
		out[fighter] = flags
	}
	return out
}

func breakdown(scored []model.ScoredEvent) map[model.FighterID]map[string]float64 {
	out := map[model.FighterID]map[string]float64{
		model.FighterA: {},
		model.FighterB: {},
	}
	for i := range scored {
		se := &scored[i]
		out[se.Fighter][se.Kind] += se.FinalPoints
	}
	return out
}
