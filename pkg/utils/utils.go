package utils

import (
	"fmt"
	"time"
)

// FormatDuration renders d rounded to the second: "45s", "1m30s", "2h05m".
// Hours drop the seconds.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	secs := int64(d.Round(time.Second) / time.Second)
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm%02ds", secs/60, secs%60)
	}
	return fmt.Sprintf("%dh%02dm", secs/3600, (secs%3600)/60)
}
