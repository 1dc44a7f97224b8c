package timeutil

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatCountdown renders d as M:SS. Negative durations render as 0:00.
// Minutes are not wrapped into hours.
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// Relative describes t relative to now, e.g. "3 minutes ago".
func Relative(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}
