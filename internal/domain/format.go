package domain

import (
	"fmt"
	"time"
)

// FormatSeconds renders a second count as MM:SS with zero-padded fields.
// Minutes widen past two digits for durations over 99:59.
func FormatSeconds(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// FormatDuration renders d as MM:SS, rounding down to whole seconds.
func FormatDuration(d time.Duration) string {
	return FormatSeconds(int(d / time.Second))
}

// Progress returns the percentage of total consumed by elapsed, clamped to
// [0, 100]. A zero total reads as no progress.
func Progress(elapsed, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(elapsed) / float64(total) * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
