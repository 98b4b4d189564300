package scheduler

import (
	"fmt"
	"time"
)

// RemainingTime converts a future epoch-millisecond timestamp into a coarse
// human-readable duration like "4h 30m". For display only.
func RemainingTime(executeAt int64) string {
	return humanizeDuration(time.Until(time.UnixMilli(executeAt)))
}

func humanizeDuration(d time.Duration) string {
	if d < time.Second {
		return "now"
	}
	d = d.Round(time.Second)

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	mins := d / time.Minute
	secs := (d - mins*time.Minute) / time.Second

	// Two largest units, dropping a zero second unit.
	switch {
	case days > 0:
		if hours == 0 {
			return fmt.Sprintf("%dd", days)
		}
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		if mins == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh %dm", hours, mins)
	case mins > 0:
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}
