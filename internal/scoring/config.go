package scoring

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
)

// EngineVersion identifies the scoring model carried in every verdict and
// audit record.
const EngineVersion = "v3.0"

// Scoring kinds: the granularity at which base points, diminishing returns
// and breakdowns operate. Strike kinds are technique-level; the significant
// variant is a distinct kind with doubled base.
const (
	KindRocked          = "rocked"
	KindKDFlash         = "kd-flash"
	KindKDHard          = "kd-hard"
	KindKDNearFinish    = "kd-near-finish"
	KindSubLight        = "sub-light"
	KindSubDeep         = "sub-deep"
	KindSubNearFinish   = "sub-near-finish"
	KindTakedown        = "takedown"
	KindTakedownStuffed = "takedown-stuffed"
	KindTakedownAttempt = "takedown-attempt"
	KindMomentumSwing   = "momentum-swing"
	KindControlPrefix   = "control-" // control-top / control-back / control-cage
	SignificantSuffix   = "-significant"
)

// Tier is one (threshold, multiplier) step of a regularisation rule. UpTo is
// the highest occurrence index the multiplier applies to; 0 means unbounded.
type Tier struct {
	UpTo int     `yaml:"up_to"`
	Mult float64 `yaml:"mult"`
}

// multiplierFor returns the multiplier for the k-th occurrence (1-based).
func multiplierFor(tiers []Tier, k int) float64 {
	for _, t := range tiers {
		if t.UpTo == 0 || k <= t.UpTo {
			return t.Mult
		}
	}
	return 1.0
}

// ControlConfig drives ground-control bucket scoring and the continuity rule.
type ControlConfig struct {
	BucketSeconds     float64 `yaml:"bucket_seconds"`
	PointsPerBucket   float64 `yaml:"points_per_bucket"`
	ContinuitySeconds float64 `yaml:"continuity_seconds"`
	ContinuityMult    float64 `yaml:"continuity_mult"`
	GapResetSeconds   float64 `yaml:"gap_reset_seconds"`
}

// ControlWithoutWorkConfig is the R4 discount for stalling control.
type ControlWithoutWorkConfig struct {
	MinControlPoints     float64 `yaml:"min_control_points"`
	MaxStrikePoints      float64 `yaml:"max_strike_points"`
	MaxHeavyGroundPoints float64 `yaml:"max_heavy_ground_points"`
	Mult                 float64 `yaml:"mult"`
}

// RegularisationConfig holds the five anti-spam rules.
type RegularisationConfig struct {
	Technique          []Tier                   `yaml:"technique"`
	Significant        []Tier                   `yaml:"significant"`
	Control            ControlConfig            `yaml:"control"`
	ControlWithoutWork ControlWithoutWorkConfig `yaml:"control_without_work"`
	StuffCap           []Tier                   `yaml:"stuff_cap"`
}

// LockConfig is one impact lock in priority order (highest priority first).
type LockConfig struct {
	Flag  model.ImpactFlag `yaml:"flag"`
	Delta float64          `yaml:"delta"`
}

// RoundConfig holds the 10-point-must assignment thresholds.
type RoundConfig struct {
	DrawThreshold float64 `yaml:"draw_threshold"`
	MinDelta108   float64 `yaml:"min_delta_10_8"`
	MinDelta107   float64 `yaml:"min_delta_10_7"`
	Protected108  int     `yaml:"protected_10_8"`
	Protected107  int     `yaml:"protected_10_7"`
}

// Config is the full scoring engine configuration.
type Config struct {
	BasePoints     map[string]float64   `yaml:"base_points"`
	SignificantX   float64              `yaml:"significant_multiplier"`
	Regularisation RegularisationConfig `yaml:"regularisation"`
	ImpactLocks    []LockConfig         `yaml:"impact_locks"`
	Round          RoundConfig          `yaml:"round"`
}

// DefaultConfig returns the v3 scoring configuration.
func DefaultConfig() *Config {
	return &Config{
		BasePoints: map[string]float64{
			string(model.TechJab):      1,
			string(model.TechCross):    3,
			string(model.TechHook):     3,
			string(model.TechUppercut): 3,
			string(model.TechKick):     4,
			string(model.TechElbow):    5,
			string(model.TechKnee):     5,
			KindRocked:                 60,
			KindKDFlash:                100,
			KindKDHard:                 150,
			KindKDNearFinish:           210,
			KindSubLight:               12,
			KindSubDeep:                28,
			KindSubNearFinish:          60,
			KindTakedown:               10,
			KindTakedownStuffed:        5,
			KindTakedownAttempt:        0,
			KindMomentumSwing:          0,
		},
		SignificantX: 2.0,
		Regularisation: RegularisationConfig{
			Technique: []Tier{
				{UpTo: 10, Mult: 1.0},
				{UpTo: 20, Mult: 0.75},
				{UpTo: 0, Mult: 0.50},
			},
			Significant: []Tier{
				{UpTo: 8, Mult: 1.0},
				{UpTo: 14, Mult: 0.75},
				{UpTo: 0, Mult: 0.50},
			},
			Control: ControlConfig{
				BucketSeconds:     10,
				PointsPerBucket:   3,
				ContinuitySeconds: 60,
				ContinuityMult:    0.5,
				GapResetSeconds:   15,
			},
			ControlWithoutWork: ControlWithoutWorkConfig{
				MinControlPoints:     20,
				MaxStrikePoints:      10,
				MaxHeavyGroundPoints: 10,
				Mult:                 0.75,
			},
			StuffCap: []Tier{
				{UpTo: 3, Mult: 1.0},
				{UpTo: 0, Mult: 0.5},
			},
		},
		ImpactLocks: []LockConfig{
			{Flag: model.FlagRocked, Delta: 40},
			{Flag: model.FlagKDFlash, Delta: 50},
			{Flag: model.FlagKDHard, Delta: 110},
			{Flag: model.FlagKDNearFinish, Delta: 150},
			{Flag: model.FlagSubNearFinish, Delta: 90},
		},
		Round: RoundConfig{
			DrawThreshold: 1.0,
			MinDelta108:   100,
			MinDelta107:   200,
			Protected108:  2,
			Protected107:  3,
		},
	}
}

// LoadConfig reads a scoring config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scoring config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse scoring YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot score with.
func (c *Config) Validate() error {
	if len(c.BasePoints) == 0 {
		return fmt.Errorf("base_points must not be empty")
	}
	if c.SignificantX <= 0 {
		return fmt.Errorf("significant_multiplier must be positive, got %.2f", c.SignificantX)
	}
	if c.Regularisation.Control.BucketSeconds <= 0 {
		return fmt.Errorf("control.bucket_seconds must be positive")
	}
	if len(c.ImpactLocks) == 0 {
		return fmt.Errorf("impact_locks must not be empty")
	}
	for _, rule := range [][]Tier{c.Regularisation.Technique, c.Regularisation.Significant, c.Regularisation.StuffCap} {
		if len(rule) == 0 {
			return fmt.Errorf("regularisation tier tables must not be empty")
		}
		if rule[len(rule)-1].UpTo != 0 {
			return fmt.Errorf("last regularisation tier must be unbounded (up_to: 0)")
		}
	}
	return nil
}

// lockPriority returns the index of a flag in the lock priority order,
// or -1 when the flag is not a configured lock.
func (c *Config) lockPriority(flag model.ImpactFlag) int {
	for i, l := range c.ImpactLocks {
		if l.Flag == flag {
			return i
		}
	}
	return -1
}
