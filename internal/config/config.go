package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the pipeline configuration surface for the core. Every recognised
// option has a default; a yaml file overrides only what it names.
type Config struct {
	Dedup      DedupConfig      `yaml:"dedup"`
	Fusion     FusionConfig     `yaml:"fusion"`
	Smoother   SmootherConfig   `yaml:"smoother"`
	Harmonizer HarmonizerConfig `yaml:"harmoniser"`
	Worker     WorkerConfig     `yaml:"worker"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Stats      StatsConfig      `yaml:"stats"`
}

// DedupConfig controls the event pipeline's fingerprint gate.
type DedupConfig struct {
	WindowMS            int64   `yaml:"window_ms"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// FusionConfig controls multi-camera fusion.
type FusionConfig struct {
	WindowMS int64 `yaml:"window_ms"`
}

// SmootherConfig controls the temporal smoother.
type SmootherConfig struct {
	WindowFrames    int     `yaml:"window_frames"`
	Consistency     float64 `yaml:"consistency"`
	ConfidenceFloor float64 `yaml:"confidence_floor"`
	FlowThreshold   float64 `yaml:"flow_threshold"`
}

// HarmonizerConfig controls judge/CV conflict detection and resolution.
type HarmonizerConfig struct {
	ProximityWindowMS      int64   `yaml:"proximity_window_ms"`
	JudgeOverrideThreshold float64 `yaml:"judge_override_threshold"`
	CVConfidenceThreshold  float64 `yaml:"cv_confidence_threshold"`
	SeverityMismatchDelta  float64 `yaml:"severity_mismatch_delta"`
	BufferSize             int     `yaml:"buffer_size"`
}

// WorkerConfig controls worker health transitions and load scoring.
type WorkerConfig struct {
	Health          WorkerHealthConfig `yaml:"health"`
	LoadWeights     LoadWeights        `yaml:"load_weights"`
	CallTimeoutMS   int64              `yaml:"call_timeout_ms"`
	HealthIntervalS int64              `yaml:"health_interval_sec"`
	DecisionLog     int                `yaml:"decision_log"`
}

// WorkerHealthConfig holds the health transition thresholds.
type WorkerHealthConfig struct {
	HeartbeatOfflineSec  int64   `yaml:"heartbeat_offline_sec"`
	HeartbeatDegradedSec int64   `yaml:"heartbeat_degraded_sec"`
	LatencyDegradedMS    float64 `yaml:"latency_degraded_ms"`
	ErrorRateUnhealthy   float64 `yaml:"error_rate_unhealthy"`
}

// LoadWeights weighs latency against queue depth when picking a worker.
// Queue depth carries a fixed 10ms penalty per queued frame.
type LoadWeights struct {
	Latency      float64 `yaml:"latency"`
	Queue        float64 `yaml:"queue"`
	QueuePenalty float64 `yaml:"queue_penalty_ms"`
}

// IngestConfig controls camera feed cadence.
type IngestConfig struct {
	TargetFPS float64 `yaml:"target_fps"`
	FPSAlpha  float64 `yaml:"fps_alpha"`
}

// StatsConfig controls the stats aggregator cache.
type StatsConfig struct {
	CacheTTLSec    float64 `yaml:"cache_ttl_sec"`
	SlowQueryMS    int64   `yaml:"slow_query_ms"`
	RecentWindowMS int64   `yaml:"recent_window_ms"`
}

// Default returns the configuration with all recognised options at their
// documented defaults.
func Default() *Config {
	return &Config{
		Dedup: DedupConfig{
			WindowMS:            100,
			ConfidenceThreshold: 0.6,
		},
		Fusion: FusionConfig{
			WindowMS: 150,
		},
		Smoother: SmootherConfig{
			WindowFrames:    5,
			Consistency:     0.6,
			ConfidenceFloor: 0.6,
			FlowThreshold:   3.0,
		},
		Harmonizer: HarmonizerConfig{
			ProximityWindowMS:      200,
			JudgeOverrideThreshold: 0.8,
			CVConfidenceThreshold:  0.9,
			SeverityMismatchDelta:  0.3,
			BufferSize:             100,
		},
		Worker: WorkerConfig{
			Health: WorkerHealthConfig{
				HeartbeatOfflineSec:  30,
				HeartbeatDegradedSec: 15,
				LatencyDegradedMS:    200,
				ErrorRateUnhealthy:   0.10,
			},
			LoadWeights: LoadWeights{
				Latency:      0.6,
				Queue:        0.4,
				QueuePenalty: 10,
			},
			CallTimeoutMS:   500,
			HealthIntervalS: 10,
			DecisionLog:     1000,
		},
		Ingest: IngestConfig{
			TargetFPS: 30,
			FPSAlpha:  0.1,
		},
		Stats: StatsConfig{
			CacheTTLSec:    1.0,
			SlowQueryMS:    200,
			RecentWindowMS: 60000,
		},
	}
}

// Load reads a yaml config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would break pipeline invariants.
func (c *Config) Validate() error {
	if c.Dedup.WindowMS <= 0 {
		return fmt.Errorf("dedup.window_ms must be positive, got %d", c.Dedup.WindowMS)
	}
	if c.Dedup.ConfidenceThreshold < 0 || c.Dedup.ConfidenceThreshold > 1 {
		return fmt.Errorf("dedup.confidence_threshold %.2f outside [0,1]", c.Dedup.ConfidenceThreshold)
	}
	if c.Smoother.WindowFrames < 1 {
		return fmt.Errorf("smoother.window_frames must be >= 1, got %d", c.Smoother.WindowFrames)
	}
	if c.Smoother.Consistency <= 0 || c.Smoother.Consistency > 1 {
		return fmt.Errorf("smoother.consistency %.2f outside (0,1]", c.Smoother.Consistency)
	}
	if c.Harmonizer.ProximityWindowMS <= 0 {
		return fmt.Errorf("harmoniser.proximity_window_ms must be positive")
	}
	if c.Worker.LoadWeights.Latency+c.Worker.LoadWeights.Queue == 0 {
		return fmt.Errorf("worker.load_weights must not both be zero")
	}
	if c.Ingest.TargetFPS <= 0 {
		return fmt.Errorf("ingest.target_fps must be positive")
	}
	return nil
}
