// Package cv turns raw per-frame inference outputs into canonical combat
// events: temporal smoothing, multi-camera fusion and typed classification.
package cv

import (
	"github.com/rs/zerolog/log"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/config"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
)

// Smoother suppresses noisy single-frame detections with a per-stream rolling
// window. Stateful: discarding a smoother costs W-1 frames of warm-up.
type Smoother struct {
	cfg     config.SmootherConfig
	windows map[string][]model.RawCVInput
}

// NewSmoother creates a smoother with the given window configuration.
func NewSmoother(cfg config.SmootherConfig) *Smoother {
	return &Smoother{
		cfg:     cfg,
		windows: make(map[string][]model.RawCVInput),
	}
}

// Observe feeds one raw input into the stream's window. It returns the
// smoothed input and true when the window agrees strongly enough to emit.
func (s *Smoother) Observe(raw model.RawCVInput) (model.RawCVInput, bool) {
	key := raw.CameraID
	win := append(s.windows[key], raw)
	if len(win) > s.cfg.WindowFrames {
		win = win[len(win)-s.cfg.WindowFrames:]
	}
	s.windows[key] = win

	if len(win) < s.cfg.WindowFrames {
		return model.RawCVInput{}, false
	}

	// Consistency gate: the modal action label must dominate the window.
	counts := make(map[model.ActionLabel]int, len(win))
	for i := range win {
		counts[win[i].Action]++
	}
	var modal model.ActionLabel
	best := 0
	for label, n := range counts {
		if n > best || (n == best && label < modal) {
			modal, best = label, n
		}
	}
	if float64(best)/float64(len(win)) < s.cfg.Consistency {
		return model.RawCVInput{}, false
	}

	// Confidence gate: window-averaged top-1 confidence.
	var sum float64
	for i := range win {
		sum += win[i].TopConfidence()
	}
	avg := sum / float64(len(win))
	if avg < s.cfg.ConfidenceFloor {
		return model.RawCVInput{}, false
	}

	// Heavy and critical impacts need optical-flow corroboration when the
	// worker supplied flow data.
	if raw.ImpactTier == model.ImpactHeavy || raw.ImpactTier == model.ImpactCritical {
		if raw.FlowMagnitude != nil && *raw.FlowMagnitude <= s.cfg.FlowThreshold {
			log.Debug().Str("camera_id", raw.CameraID).Float64("flow", *raw.FlowMagnitude).
				Msg("high-impact detection rejected on flow magnitude")
			return model.RawCVInput{}, false
		}
	}

	out := raw
	out.ActionLogits = map[model.ActionLabel]float64{raw.Action: avg}
	return out, true
}

// Reset drops a stream's window, e.g. when its camera feed is removed.
func (s *Smoother) Reset(cameraID string) {
	delete(s.windows, cameraID)
}
