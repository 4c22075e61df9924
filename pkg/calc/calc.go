// Package calc provides small arithmetic helpers for progress reporting.
package calc

import "time"

// ETA estimates the time left for work that reached percent after elapsed.
// It returns 0 when there is nothing to extrapolate from.
func ETA(percent int, elapsed time.Duration) time.Duration {
	if percent <= 0 || percent >= 100 || elapsed <= 0 {
		return 0
	}

	return time.Duration(float64(elapsed) * (100/float64(percent) - 1))
}
