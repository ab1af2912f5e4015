package cv

import (
	"sort"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
)

// Fuser collapses near-simultaneous multi-camera views of one action into a
// single canonical event. Idempotent: fusing a fused stream is a no-op.
type Fuser struct {
	windowMS int64
}

// NewFuser creates a fuser with the given fusion window.
func NewFuser(windowMS int64) *Fuser {
	return &Fuser{windowMS: windowMS}
}

// angleWeight favours front-arc cameras when electing the canonical view.
func angleWeight(angle *float64) float64 {
	if angle == nil {
		return 0.8
	}
	a := *angle
	for a < 0 {
		a += 360
	}
	for a >= 360 {
		a -= 360
	}
	if (a >= 45 && a <= 135) || (a >= 225 && a <= 315) {
		return 1.0
	}
	return 0.7
}

// Fuse groups events into equivalence classes by fighter, type and time
// window, then elects one canonical representative per class.
func (f *Fuser) Fuse(events []model.CombatEvent) []model.CombatEvent {
	ordered := make([]model.CombatEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].TimestampMS != ordered[j].TimestampMS {
			return ordered[i].TimestampMS < ordered[j].TimestampMS
		}
		return ordered[i].ID < ordered[j].ID
	})

	var out []model.CombatEvent
	used := make([]bool, len(ordered))

	for i := range ordered {
		if used[i] {
			continue
		}
		class := []int{i}
		for j := i + 1; j < len(ordered); j++ {
			if used[j] {
				continue
			}
			if ordered[j].TimestampMS-ordered[i].TimestampMS > f.windowMS {
				break
			}
			if ordered[j].Fighter == ordered[i].Fighter && ordered[j].Type == ordered[i].Type {
				class = append(class, j)
			}
		}
		for _, idx := range class {
			used[idx] = true
		}

		if len(class) == 1 {
			out = append(out, ordered[i])
			continue
		}

		bestIdx := class[0]
		bestScore := -1.0
		var confSum float64
		for _, idx := range class {
			ev := &ordered[idx]
			confSum += ev.Confidence
			score := ev.Confidence * ev.Severity * angleWeight(ev.CameraAngle)
			if score > bestScore {
				bestScore, bestIdx = score, idx
			}
		}

		canonical := ordered[bestIdx]
		// The canonical keeps the class anchor's timestamp; its own later time
		// could fall inside the window of an event the class excluded, and a
		// second pass would then regroup it.
		canonical.TimestampMS = ordered[class[0]].TimestampMS
		canonical.Confidence = confSum / float64(len(class))
		canonical.Canonical = true
		canonical.CameraCount = len(class)
		out = append(out, canonical)
	}
	return out
}
