package model

// FighterID identifies one of the two fighters in a bout.
type FighterID string

const (
	FighterA FighterID = "A"
	FighterB FighterID = "B"
)

// Opponent returns the other fighter of the pair.
func (f FighterID) Opponent() FighterID {
	if f == FighterA {
		return FighterB
	}
	return FighterA
}

// Corner is the operator-facing fighter label.
type Corner string

const (
	CornerRed  Corner = "RED"
	CornerBlue Corner = "BLUE"
)

// Fighter maps the broadcast corner onto the internal fighter identity.
// RED is always fighter A by convention.
func (c Corner) Fighter() FighterID {
	if c == CornerBlue {
		return FighterB
	}
	return FighterA
}

// EventType is the closed set of canonical combat event types.
type EventType string

const (
	EventStrikeSignificant   EventType = "strike-significant"
	EventStrikeHighImpact    EventType = "strike-high-impact"
	EventKnockdownFlash      EventType = "knockdown-flash"
	EventKnockdownHard       EventType = "knockdown-hard"
	EventKnockdownNearFinish EventType = "knockdown-near-finish"
	EventRocked              EventType = "rocked"
	EventTakedownAttempt     EventType = "takedown-attempt"
	EventTakedownLanded      EventType = "takedown-landed"
	EventSubmissionAttempt   EventType = "submission-attempt"
	EventControlStart        EventType = "control-start"
	EventControlEnd          EventType = "control-end"
	EventMomentumSwing       EventType = "momentum-swing"
)

// AllEventTypes enumerates the stable event type namespace shared with clients.
var AllEventTypes = []EventType{
	EventStrikeSignificant,
	EventStrikeHighImpact,
	EventKnockdownFlash,
	EventKnockdownHard,
	EventKnockdownNearFinish,
	EventRocked,
	EventTakedownAttempt,
	EventTakedownLanded,
	EventSubmissionAttempt,
	EventControlStart,
	EventControlEnd,
	EventMomentumSwing,
}

// Known reports whether t belongs to the closed event type set.
func (t EventType) Known() bool {
	for _, k := range AllEventTypes {
		if t == k {
			return true
		}
	}
	return false
}

// IsKnockdown reports whether t is one of the three knockdown tiers.
func (t EventType) IsKnockdown() bool {
	return t == EventKnockdownFlash || t == EventKnockdownHard || t == EventKnockdownNearFinish
}

// IsStrike reports whether t counts as a strike for volume tracking.
func (t EventType) IsStrike() bool {
	return t == EventStrikeSignificant || t == EventStrikeHighImpact
}

// EventSource attributes an event to its producer class.
type EventSource string

const (
	SourceManualOperator   EventSource = "manual-operator"
	SourceCVSystem         EventSource = "cv-system"
	SourceAnalyticsDerived EventSource = "analytics-derived"
)

// Technique is the strike technique used for base point lookup.
type Technique string

const (
	TechJab      Technique = "jab"
	TechCross    Technique = "cross"
	TechHook     Technique = "hook"
	TechUppercut Technique = "uppercut"
	TechKick     Technique = "kick"
	TechElbow    Technique = "elbow"
	TechKnee     Technique = "knee"
)

// ControlKind distinguishes the three scored control positions.
type ControlKind string

const (
	ControlTop  ControlKind = "top"
	ControlBack ControlKind = "back"
	ControlCage ControlKind = "cage"
)

// KnockdownTier labels knockdown severity as shown to clients.
type KnockdownTier string

const (
	KDTierFlash      KnockdownTier = "Flash"
	KDTierHard       KnockdownTier = "Hard"
	KDTierNearFinish KnockdownTier = "Near-Finish"
)

// SubmissionDepth labels how deep a submission attempt was.
type SubmissionDepth string

const (
	SubDepthLight      SubmissionDepth = "Light"
	SubDepthDeep       SubmissionDepth = "Deep"
	SubDepthNearFinish SubmissionDepth = "Near-Finish"
)

// GroundStrikeQuality labels ground-and-pound strikes.
type GroundStrikeQuality string

const (
	GroundStrikeLight GroundStrikeQuality = "LIGHT"
	GroundStrikeSolid GroundStrikeQuality = "SOLID"
)

// ImpactFlag marks a protected event that can lock a round.
type ImpactFlag string

const (
	FlagRocked        ImpactFlag = "rocked"
	FlagKDFlash       ImpactFlag = "kd-flash"
	FlagKDHard        ImpactFlag = "kd-hard"
	FlagKDNearFinish  ImpactFlag = "kd-nf"
	FlagSubNearFinish ImpactFlag = "sub-near-finish"
)

// MaxExtensionKeys bounds the legacy extension map carried at an event's margin.
const MaxExtensionKeys = 16

// StrikeDetail narrows a strike event to its technique and context.
// Significant marks the significant-strike variant, which doubles the
// technique's base points and counts toward the volume guardrail.
type StrikeDetail struct {
	Technique   Technique           `json:"technique"`
	Significant bool                `json:"significant,omitempty"`
	Ground      bool                `json:"ground,omitempty"`
	Quality     GroundStrikeQuality `json:"quality,omitempty"`
}

// KnockdownDetail carries the knockdown tier.
type KnockdownDetail struct {
	Tier KnockdownTier `json:"tier"`
}

// TakedownDetail distinguishes landed, attempted and stuffed takedowns.
// Stuffed credits the defending fighter the event is attributed to.
type TakedownDetail struct {
	Stuffed bool `json:"stuffed,omitempty"`
}

// SubmissionDetail carries the attempt depth.
type SubmissionDetail struct {
	Depth SubmissionDepth `json:"depth"`
}

// ControlDetail carries the control position for control-start/control-end.
type ControlDetail struct {
	Kind ControlKind `json:"kind"`
}

// Provenance records how a harmonised event was derived.
type Provenance struct {
	SourceIDs []string `json:"source_ids"`
	Strategy  string   `json:"strategy"`
}

// CombatEvent is the canonical typed event flowing through the core pipeline.
// Exactly one of the detail pointers is set, matching Type; legacy attributes
// that have no typed home live in the bounded Extensions map.
type CombatEvent struct {
	ID          string      `json:"id"`
	BoutID      string      `json:"bout_id"`
	Round       int         `json:"round"`
	Fighter     FighterID   `json:"fighter"`
	Type        EventType   `json:"type"`
	Severity    float64     `json:"severity"`
	Confidence  float64     `json:"confidence"`
	Source      EventSource `json:"source"`
	TimestampMS int64       `json:"ts_ms"`
	CameraID    string      `json:"camera_id,omitempty"`
	CameraAngle *float64    `json:"camera_angle,omitempty"`
	Canonical   bool        `json:"canonical,omitempty"`
	CameraCount int         `json:"camera_count,omitempty"`

	Strike     *StrikeDetail     `json:"strike,omitempty"`
	Knockdown  *KnockdownDetail  `json:"knockdown,omitempty"`
	Takedown   *TakedownDetail   `json:"takedown,omitempty"`
	Submission *SubmissionDetail `json:"submission,omitempty"`
	Control    *ControlDetail    `json:"control,omitempty"`
	Provenance *Provenance       `json:"provenance,omitempty"`

	Extensions map[string]string `json:"extensions,omitempty"`
}

// ImpactFlagFor maps an event onto the protected flag it raises, if any.
func (e *CombatEvent) ImpactFlagFor() (ImpactFlag, bool) {
	switch e.Type {
	case EventRocked:
		return FlagRocked, true
	case EventKnockdownFlash:
		return FlagKDFlash, true
	case EventKnockdownHard:
		return FlagKDHard, true
	case EventKnockdownNearFinish:
		return FlagKDNearFinish, true
	case EventSubmissionAttempt:
		if e.Submission != nil && e.Submission.Depth == SubDepthNearFinish {
			return FlagSubNearFinish, true
		}
	}
	return "", false
}
