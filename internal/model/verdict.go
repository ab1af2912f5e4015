package model

// Winner identifies the round winner, or a draw.
type Winner string

const (
	WinnerA    Winner = "A"
	WinnerB    Winner = "B"
	WinnerDraw Winner = "draw"
)

// WinReason explains how a verdict was decided.
type WinReason string

const (
	ReasonPoints      WinReason = "points"
	ReasonLockRocked  WinReason = "lock-rocked"
	ReasonLockKDFlash WinReason = "lock-kd-flash"
	ReasonLockKDHard  WinReason = "lock-kd-hard"
	ReasonLockKDNF    WinReason = "lock-kd-nf"
	ReasonLockSubNF   WinReason = "lock-sub-nf"
)

// ScoredEvent is one input event carried with the multipliers that shaped it.
// FinalPoints is always BasePoints x the product of the four multipliers.
type ScoredEvent struct {
	EventID       string    `json:"event_id"`
	Fighter       FighterID `json:"fighter"`
	Kind          string    `json:"kind"`
	TimestampMS   int64     `json:"ts_ms"`
	BasePoints    float64   `json:"base_points"`
	TechniqueMult float64   `json:"technique_mult"`
	StrikeMult    float64   `json:"strike_mult"`
	ControlMult   float64   `json:"control_mult"`
	StuffMult     float64   `json:"stuff_mult"`
	FinalPoints   float64   `json:"final_points"`
}

// RoundVerdict is the scoring engine's output for one round.
type RoundVerdict struct {
	BoutID            string                           `json:"bout_id"`
	Round             int                              `json:"round"`
	RawPoints         map[FighterID]float64            `json:"raw_points"`
	SharePct          map[FighterID]float64            `json:"share_pct"`
	ImpactFlags       map[FighterID][]ImpactFlag       `json:"impact_flags"`
	Winner            Winner                           `json:"winner"`
	Reason            WinReason                        `json:"reason"`
	Scores            map[FighterID]int                `json:"scores"`
	Breakdown         map[FighterID]map[string]float64 `json:"breakdown"`
	ScoredEvents      []ScoredEvent                    `json:"scored_events,omitempty"`
	ControlDiscounted map[FighterID]bool               `json:"control_discounted,omitempty"`
	EngineVersion     string                           `json:"engine_version"`
}

// FightResult aggregates round verdicts into a bout outcome.
type FightResult struct {
	BoutID      string            `json:"bout_id"`
	Rounds      []RoundVerdict    `json:"rounds"`
	TotalScores map[FighterID]int `json:"total_scores"`
	Winner      Winner            `json:"winner"`
	Degraded    bool              `json:"degraded"`
}
