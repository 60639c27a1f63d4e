package services

import (
	"fmt"
	"strings"
	"time"
)

// FormatISODuration renders a duration in ISO-8601 form (P2DT3H4M5S),
// the shape the reporting clients expect for schema:duration.
func FormatISODuration(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	days := int64(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int64(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int64(d / time.Minute)
	d -= time.Duration(minutes) * time.Minute
	seconds := d.Seconds()

	var b strings.Builder
	b.WriteString(sign)
	b.WriteString("P")
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if hours > 0 || minutes > 0 || seconds > 0 {
		b.WriteString("T")
		if hours > 0 {
			fmt.Fprintf(&b, "%dH", hours)
		}
		if minutes > 0 {
			fmt.Fprintf(&b, "%dM", minutes)
		}
		if seconds > 0 {
			if seconds == float64(int64(seconds)) {
				fmt.Fprintf(&b, "%dS", int64(seconds))
			} else {
				fmt.Fprintf(&b, "%gS", seconds)
			}
		}
	}
	if days == 0 && hours == 0 && minutes == 0 && seconds == 0 {
		b.WriteString("0D")
	}
	return b.String()
}
