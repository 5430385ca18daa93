package camera

import (
	"math"
	"slices"
	"time"
)

// Given a set of consecutive frame intervals, estimate the average frames per second.
// We use the median interval, so that a single stalled engine tick doesn't skew the result.
// Returns 0 if there is nothing to go on.
func EstimateFPS(frameIntervals []time.Duration) float64 {
	if len(frameIntervals) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(frameIntervals))
	copy(sorted, frameIntervals)
	slices.Sort(sorted)
	mid := sorted[len(sorted)/2]
	if mid <= 0 {
		return 0
	}
	fps := float64(time.Second) / float64(mid)
	if fps >= 0.9 {
		return math.Round(fps*10) / 10
	}
	// Below 1 FPS, we round to the nearest 1/2/3/4...
	secondsPerFrame := 1.0 / fps
	spfR := math.Round(secondsPerFrame)
	return 1 / spfR
}
