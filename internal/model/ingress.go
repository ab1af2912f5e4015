package model

import (
	"fmt"
)

// ActionLabel is the raw CV action vocabulary emitted by inference workers.
type ActionLabel string

const (
	ActionPunch         ActionLabel = "punch"
	ActionKick          ActionLabel = "kick"
	ActionKnee          ActionLabel = "knee"
	ActionElbow         ActionLabel = "elbow"
	ActionTakedown      ActionLabel = "takedown"
	ActionSubmission    ActionLabel = "submission"
	ActionClinch        ActionLabel = "clinch"
	ActionGroundControl ActionLabel = "ground-control"
	ActionKnockdown     ActionLabel = "knockdown"
	ActionStandup       ActionLabel = "standup"
)

// ImpactTier grades the impact strength of a detected action.
type ImpactTier string

const (
	ImpactLight    ImpactTier = "light"
	ImpactMedium   ImpactTier = "medium"
	ImpactHeavy    ImpactTier = "heavy"
	ImpactCritical ImpactTier = "critical"
)

// KeypointCount is the COCO pose keypoint count produced by the workers.
const KeypointCount = 17

// Frame is one camera image owned by a single routing attempt.
type Frame struct {
	ID          string `json:"id"`
	BoutID      string `json:"bout_id"`
	CameraID    string `json:"camera_id"`
	TimestampMS int64  `json:"ts_ms"`
	Payload     []byte `json:"payload"`
}

// Keypoint is a single COCO pose keypoint.
type Keypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// RawCVInput is one CV worker's inference output for one frame.
type RawCVInput struct {
	FrameID        string                  `json:"frame_id"`
	BoutID         string                  `json:"bout_id"`
	Round          int                     `json:"round"`
	CameraID       string                  `json:"camera_id"`
	TimestampMS    int64                   `json:"ts_ms"`
	Action         ActionLabel             `json:"action"`
	ActionLogits   map[ActionLabel]float64 `json:"action_logits"`
	FighterBBox    [4]float64              `json:"fighter_bbox"`
	Keypoints      []Keypoint              `json:"keypoints"`
	ImpactDetected bool                    `json:"impact_detected"`
	ImpactTier     ImpactTier              `json:"impact_tier"`
	FlowMagnitude  *float64                `json:"flow,omitempty"`
	CameraAngle    float64                 `json:"camera_angle"`
	CameraDistance float64                 `json:"camera_distance"`
	Fighter        FighterID               `json:"fighter_id"`
}

// TopConfidence returns the confidence of the chosen action label.
func (r *RawCVInput) TopConfidence() float64 {
	return r.ActionLogits[r.Action]
}

// JudgeAspect splits operator devices into striking and grappling roles.
type JudgeAspect string

const (
	AspectStriking  JudgeAspect = "STRIKING"
	AspectGrappling JudgeAspect = "GRAPPLING"
)

// JudgeEvent is an operator-created observation from a tablet device.
type JudgeEvent struct {
	BoutID      string              `json:"bout_id"`
	Round       int                 `json:"round"`
	Corner      Corner              `json:"corner"`
	Aspect      JudgeAspect         `json:"aspect"`
	Type        EventType           `json:"event_type"`
	Severity    float64             `json:"severity"`
	Confidence  float64             `json:"confidence"`
	TimestampMS int64               `json:"ts_ms"`
	DeviceRole  string              `json:"device_role"`
	Technique   Technique           `json:"technique,omitempty"`
	Significant bool                `json:"significant,omitempty"`
	Ground      bool                `json:"ground,omitempty"`
	Quality     GroundStrikeQuality `json:"ground_quality,omitempty"`
	Stuffed     bool                `json:"stuffed,omitempty"`
	Control     ControlKind         `json:"control_kind,omitempty"`
	SubDepth    SubmissionDepth     `json:"sub_depth,omitempty"`
	Metadata    map[string]string   `json:"metadata,omitempty"`
}

// ValidationError rejects malformed ingress input before it can enter the
// pipeline. Malformed input is never audited as an event.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: field %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Validate checks a frame's required fields.
func (f *Frame) Validate() error {
	if f.BoutID == "" {
		return invalid("bout_id", "empty")
	}
	if f.CameraID == "" {
		return invalid("camera_id", "empty")
	}
	if f.TimestampMS <= 0 {
		return invalid("ts_ms", "must be positive")
	}
	return nil
}

// Validate checks a raw CV input's required fields and ranges.
func (r *RawCVInput) Validate() error {
	if r.BoutID == "" {
		return invalid("bout_id", "empty")
	}
	if r.TimestampMS <= 0 {
		return invalid("ts_ms", "must be positive")
	}
	if r.Fighter != FighterA && r.Fighter != FighterB {
		return invalid("fighter_id", fmt.Sprintf("unknown fighter %q", r.Fighter))
	}
	if r.Action == "" {
		return invalid("action", "empty")
	}
	if len(r.Keypoints) != 0 && len(r.Keypoints) != KeypointCount {
		return invalid("keypoints", fmt.Sprintf("expected %d keypoints, got %d", KeypointCount, len(r.Keypoints)))
	}
	for label, conf := range r.ActionLogits {
		if conf < 0 || conf > 1 {
			return invalid("action_logits", fmt.Sprintf("confidence %.3f for %s outside [0,1]", conf, label))
		}
	}
	switch r.ImpactTier {
	case "", ImpactLight, ImpactMedium, ImpactHeavy, ImpactCritical:
	default:
		return invalid("impact_tier", fmt.Sprintf("unknown tier %q", r.ImpactTier))
	}
	return nil
}

// Validate checks a judge event's required fields and ranges.
func (j *JudgeEvent) Validate() error {
	if j.BoutID == "" {
		return invalid("bout_id", "empty")
	}
	if j.Round < 1 {
		return invalid("round", "must be >= 1")
	}
	if j.Corner != CornerRed && j.Corner != CornerBlue {
		return invalid("corner", fmt.Sprintf("unknown corner %q", j.Corner))
	}
	if j.Aspect != AspectStriking && j.Aspect != AspectGrappling {
		return invalid("aspect", fmt.Sprintf("unknown aspect %q", j.Aspect))
	}
	if j.TimestampMS <= 0 {
		return invalid("ts_ms", "must be positive")
	}
	if j.Severity < 0 || j.Severity > 1 {
		return invalid("severity", "outside [0,1]")
	}
	if j.Confidence < 0 || j.Confidence > 1 {
		return invalid("confidence", "outside [0,1]")
	}
	switch j.Quality {
	case "", GroundStrikeLight, GroundStrikeSolid:
	default:
		return invalid("ground_quality", fmt.Sprintf("unknown quality %q", j.Quality))
	}
	return nil
}

// Event converts a validated judge observation into a canonical combat event.
// Unknown event types pass through: the pipeline maps them to a zero-base
// slug rather than rejecting the observation.
func (j *JudgeEvent) Event(id string) CombatEvent {
	ev := CombatEvent{
		ID:          id,
		BoutID:      j.BoutID,
		Round:       j.Round,
		Fighter:     j.Corner.Fighter(),
		Type:        j.Type,
		Severity:    j.Severity,
		Confidence:  j.Confidence,
		Source:      SourceManualOperator,
		TimestampMS: j.TimestampMS,
	}
	switch {
	case ev.Type.IsStrike() && (j.Technique != "" || j.Ground):
		ev.Strike = &StrikeDetail{
			Technique:   j.Technique,
			Significant: j.Significant,
			Ground:      j.Ground,
			Quality:     j.Quality,
		}
	case ev.Type.IsKnockdown():
		ev.Knockdown = &KnockdownDetail{Tier: knockdownTier(ev.Type)}
	case ev.Type == EventTakedownAttempt:
		ev.Takedown = &TakedownDetail{Stuffed: j.Stuffed}
	case ev.Type == EventTakedownLanded:
		ev.Takedown = &TakedownDetail{}
	case ev.Type == EventSubmissionAttempt && j.SubDepth != "":
		ev.Submission = &SubmissionDetail{Depth: j.SubDepth}
	case (ev.Type == EventControlStart || ev.Type == EventControlEnd) && j.Control != "":
		ev.Control = &ControlDetail{Kind: j.Control}
	}
	if len(j.Metadata) > 0 {
		ev.Extensions = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			if len(ev.Extensions) >= MaxExtensionKeys {
				break
			}
			ev.Extensions[k] = v
		}
	}
	return ev
}

func knockdownTier(t EventType) KnockdownTier {
	switch t {
	case EventKnockdownHard:
		return KDTierHard
	case EventKnockdownNearFinish:
		return KDTierNearFinish
	default:
		return KDTierFlash
	}
}
