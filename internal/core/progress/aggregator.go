// Package progress turns per-item OCR progress into a batch-wide percentage.
package progress

import "math"

// Phase is a step of a single OCR exchange.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseUpload
	PhaseAwaiting
	PhaseDone
)

const (
	startFraction    = 0.05
	uploadCeiling    = 0.5
	awaitingFraction = 0.8
)

// ItemFraction maps a phase and the fraction completed within it to the
// item's overall completion. Only PhaseUpload uses within.
func ItemFraction(phase Phase, within float64) float64 {
	switch phase {
	case PhaseStart:
		return startFraction
	case PhaseUpload:
		p := startFraction + (uploadCeiling-startFraction)*clampUnit(within)
		return math.Min(uploadCeiling, p)
	case PhaseAwaiting:
		return awaitingFraction
	case PhaseDone:
		return 1
	default:
		return 0
	}
}

// Overall returns round(((currentIndex + itemFraction) / batchSize) * 100)
// clamped to [0,100].
func Overall(batchSize, currentIndex int, itemFraction float64) int {
	if batchSize <= 0 {
		return 0
	}
	if currentIndex < 0 {
		currentIndex = 0
	}
	pct := math.Round((float64(currentIndex) + clampUnit(itemFraction)) / float64(batchSize) * 100)
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return int(pct)
	}
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
