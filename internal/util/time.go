package util

import (
	"fmt"
	"regexp"
	"time"
)

// HourLayout is the timestamp layout embedded in recording filenames.
const HourLayout = "2006-01-02_15"

// hourPattern matches HourLayout timestamps in filenames.
var hourPattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}_\d{2})`)

// TimeFromFilename extracts the hour timestamp from a recording filename.
func TimeFromFilename(filename string, loc *time.Location) (time.Time, bool) {
	m := hourPattern.FindStringSubmatch(filename)
	if len(m) < 2 {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(HourLayout, m[1], loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// HumanTime formats t for notifications.
func HumanTime(t time.Time) string {
	return t.Local().Format("2 Jan 2006 15:04:05 MST")
}

// FormatDuration formats milliseconds as "45s", "2m 34s" or "1h 23m".
func FormatDuration(ms int64) string {
	s := ms / 1000
	switch {
	case s < 60:
		return fmt.Sprintf("%ds", s)
	case s < 3600:
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	default:
		return fmt.Sprintf("%dh %dm", s/3600, (s%3600)/60)
	}
}
