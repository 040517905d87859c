package utils

import (
	"fmt"
	"time"
)

// FormatTimeDuration formats duration to human readable string
func FormatTimeDuration(d time.Duration) string {
	seconds := int(d.Seconds()) % 60
	minutes := int(d.Minutes()) % 60
	hours := int(d.Hours())

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// FormatLatency renders a snapshot latency. Negative values come from clock
// skew between peers and are shown as-is.
func FormatLatency(ms int64) string {
	if ms >= 1000 || ms <= -1000 {
		return fmt.Sprintf("%.2f s", float64(ms)/1000)
	}
	return fmt.Sprintf("%d ms", ms)
}

// FormatRate formats a per-second message rate.
func FormatRate(count uint64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "0.0 msg/s"
	}
	return fmt.Sprintf("%.1f msg/s", float64(count)/elapsed.Seconds())
}
