package activity

import (
	"math"
	"time"

	"github.com/dukerupert/desklet/internal/model"
)

// Component weights. They sum to 100.
const (
	activityWeight = 40
	timerWeight    = 20
	outputWeight   = 20
	densityWeight  = 20

	timerTargetMinutes = 30
	outputTarget       = 10
	densityTarget      = 100

	previousWeight = 0.3
	sessionWeight  = 0.7
)

// Breakdown is a session score split into its components.
type Breakdown struct {
	Activity float64
	Timer    float64
	Output   float64
	Density  float64
	Total    int
}

// Score rates a session. Open sessions are measured up to now.
func Score(s model.ActivitySession, now time.Time) Breakdown {
	var b Breakdown

	if d := s.Duration(now); d > 0 {
		b.Activity = ratio(float64(s.ActiveDuration(now)), float64(d)) * activityWeight
	}
	b.Timer = ratio(s.TimerMinutes, timerTargetMinutes) * timerWeight
	b.Output = ratio(float64(s.NoteEvents+s.TodoEvents), outputTarget) * outputWeight
	b.Density = ratio(float64(s.InteractionCount), densityTarget) * densityWeight

	b.Total = clampScore(int(math.Round(b.Activity + b.Timer + b.Output + b.Density)))
	return b
}

// Smooth blends a session score into the running score.
func Smooth(previous, session int) int {
	return clampScore(int(math.Round(float64(previous)*previousWeight + float64(session)*sessionWeight)))
}

// ratio returns v/target clamped to [0, 1].
func ratio(v, target float64) float64 {
	if target <= 0 || v <= 0 || math.IsNaN(v) {
		return 0
	}
	return math.Min(v/target, 1)
}

func clampScore(v int) int {
	return max(0, min(100, v))
}
