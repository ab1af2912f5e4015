package cv

import (
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
)

const (
	momentumWindowMS  = 1500
	momentumThreshold = 4
	rockedDamageLimit = 0.7
	rockedDelayMS     = 100
)

// Classifier maps raw CV tuples to typed events and derives the two
// synthetic events (momentum swing, rocked). One classifier serves one bout;
// its accumulators are per-bout state.
type Classifier struct {
	boutID string

	strikes []strikeMark
	damage  map[model.FighterID]float64
}

type strikeMark struct {
	tsMS    int64
	fighter model.FighterID
}

// NewClassifier creates a classifier for one bout.
func NewClassifier(boutID string) *Classifier {
	return &Classifier{
		boutID: boutID,
		damage: make(map[model.FighterID]float64),
	}
}

// severity computes the classified severity for an impact tier with optional
// optical-flow bonus, clamped to 1.0.
func severity(tier model.ImpactTier, flow *float64) float64 {
	var base float64
	switch tier {
	case model.ImpactCritical:
		base = 1.0
	case model.ImpactHeavy:
		base = 0.8
	case model.ImpactMedium:
		base = 0.6
	default:
		base = 0.3
	}
	if flow != nil {
		base += math.Min(*flow/10, 0.2)
	}
	return math.Min(base, 1.0)
}

// strikeTechnique maps a raw action label onto its scored technique. Workers
// do not distinguish punch subtypes; a generic punch scores as a cross.
func strikeTechnique(action model.ActionLabel) model.Technique {
	switch action {
	case model.ActionKick:
		return model.TechKick
	case model.ActionKnee:
		return model.TechKnee
	case model.ActionElbow:
		return model.TechElbow
	default:
		return model.TechCross
	}
}

// Classify converts one smoothed raw input into zero or more combat events.
// The first returned event, when present, is the primary classification;
// any momentum-swing or rocked derivations follow it.
func (c *Classifier) Classify(raw model.RawCVInput) []model.CombatEvent {
	primary, ok := c.classifyPrimary(raw)
	if !ok {
		return nil
	}

	events := []model.CombatEvent{primary}
	events = append(events, c.deriveMomentumSwing(&primary)...)
	events = append(events, c.deriveRocked(&primary)...)
	return events
}

func (c *Classifier) classifyPrimary(raw model.RawCVInput) (model.CombatEvent, bool) {
	angle := raw.CameraAngle
	ev := model.CombatEvent{
		ID:          uuid.NewString(),
		BoutID:      raw.BoutID,
		Round:       raw.Round,
		Fighter:     raw.Fighter,
		Confidence:  raw.TopConfidence(),
		Source:      model.SourceCVSystem,
		TimestampMS: raw.TimestampMS,
		CameraID:    raw.CameraID,
		CameraAngle: &angle,
		Severity:    severity(raw.ImpactTier, raw.FlowMagnitude),
	}

	switch raw.Action {
	case model.ActionKnockdown:
		switch raw.ImpactTier {
		case model.ImpactCritical:
			ev.Type = model.EventKnockdownNearFinish
			ev.Knockdown = &model.KnockdownDetail{Tier: model.KDTierNearFinish}
		case model.ImpactHeavy:
			ev.Type = model.EventKnockdownHard
			ev.Knockdown = &model.KnockdownDetail{Tier: model.KDTierHard}
		default:
			ev.Type = model.EventKnockdownFlash
			ev.Knockdown = &model.KnockdownDetail{Tier: model.KDTierFlash}
		}
	case model.ActionPunch, model.ActionKick, model.ActionKnee, model.ActionElbow:
		switch raw.ImpactTier {
		case model.ImpactHeavy, model.ImpactCritical:
			ev.Type = model.EventStrikeHighImpact
		case model.ImpactMedium:
			ev.Type = model.EventStrikeSignificant
		default:
			// Light strikes are suppressed.
			return model.CombatEvent{}, false
		}
		ev.Strike = &model.StrikeDetail{Technique: strikeTechnique(raw.Action), Significant: true}
	case model.ActionTakedown:
		if raw.ImpactDetected {
			ev.Type = model.EventTakedownLanded
		} else {
			ev.Type = model.EventTakedownAttempt
		}
		ev.Takedown = &model.TakedownDetail{}
	case model.ActionSubmission:
		ev.Type = model.EventSubmissionAttempt
		depth := model.SubDepthLight
		switch raw.ImpactTier {
		case model.ImpactCritical:
			depth = model.SubDepthNearFinish
		case model.ImpactHeavy:
			depth = model.SubDepthDeep
		}
		ev.Submission = &model.SubmissionDetail{Depth: depth}
	case model.ActionGroundControl:
		ev.Type = model.EventControlStart
		ev.Control = &model.ControlDetail{Kind: model.ControlTop}
	case model.ActionStandup:
		ev.Type = model.EventControlEnd
		ev.Control = &model.ControlDetail{Kind: model.ControlTop}
	default:
		// Clinch and unknown labels carry no scoring meaning.
		log.Debug().Str("bout_id", c.boutID).Str("action", string(raw.Action)).
			Msg("action label not classified")
		return model.CombatEvent{}, false
	}

	return ev, true
}

// deriveMomentumSwing tracks recent strikes and emits a momentum-swing when
// one fighter lands a burst within the rolling window.
func (c *Classifier) deriveMomentumSwing(primary *model.CombatEvent) []model.CombatEvent {
	if !primary.Type.IsStrike() {
		return nil
	}

	c.strikes = append(c.strikes, strikeMark{tsMS: primary.TimestampMS, fighter: primary.Fighter})
	kept := c.strikes[:0]
	for _, m := range c.strikes {
		if primary.TimestampMS-m.tsMS <= momentumWindowMS {
			kept = append(kept, m)
		}
	}
	c.strikes = kept

	counts := map[model.FighterID]int{}
	for _, m := range c.strikes {
		counts[m.fighter]++
	}
	for fighter, n := range counts {
		if n >= momentumThreshold {
			c.strikes = nil
			return []model.CombatEvent{{
				ID:          uuid.NewString(),
				BoutID:      primary.BoutID,
				Round:       primary.Round,
				Fighter:     fighter,
				Type:        model.EventMomentumSwing,
				Severity:    0.7,
				Confidence:  0.8,
				Source:      model.SourceAnalyticsDerived,
				TimestampMS: primary.TimestampMS,
			}}
		}
	}
	return nil
}

// deriveRocked accumulates damage received per fighter and emits a rocked
// event when the accumulator crosses the limit. The event is attributed to
// the attacker, who earns the protected flag; the rocked fighter is recorded
// in the extension map.
func (c *Classifier) deriveRocked(primary *model.CombatEvent) []model.CombatEvent {
	if primary.Type != model.EventStrikeHighImpact && !primary.Type.IsKnockdown() {
		return nil
	}

	victim := primary.Fighter.Opponent()
	c.damage[victim] += primary.Severity
	if c.damage[victim] < rockedDamageLimit {
		return nil
	}
	c.damage[victim] = 0

	return []model.CombatEvent{{
		ID:          uuid.NewString(),
		BoutID:      primary.BoutID,
		Round:       primary.Round,
		Fighter:     primary.Fighter,
		Type:        model.EventRocked,
		Severity:    0.8,
		Confidence:  0.85,
		Source:      model.SourceAnalyticsDerived,
		TimestampMS: primary.TimestampMS + rockedDelayMS,
		Extensions:  map[string]string{"rocked_fighter": string(victim)},
	}}
}
