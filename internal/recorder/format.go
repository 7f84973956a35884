package recorder

import "fmt"

// FormatDuration renders seconds as "Ns", "mm:ss" or "hh:mm:ss".
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	hrs := seconds / 3600
	mins := (seconds % 3600) / 60
	secs := seconds % 60

	switch {
	case hrs > 0:
		return fmt.Sprintf("%02d:%02d:%02d", hrs, mins, secs)
	case mins > 0:
		return fmt.Sprintf("%02d:%02d", mins, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

// FormatDistance renders meters as kilometres with two decimals.
func FormatDistance(meters float64) string {
	return fmt.Sprintf("%.2f km", meters/1000)
}
