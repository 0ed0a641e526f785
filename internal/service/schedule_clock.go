package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// clockMinutes parses "H:MM", "HH:MM" or "HH:MM:SS" into minutes after midnight.
func clockMinutes(raw string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	if len(parts[1]) != 2 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// normalizeClock rewrites a parseable time as HH:MM and leaves anything else untouched.
func normalizeClock(raw string) string {
	if m, ok := clockMinutes(raw); ok {
		return formatClock(m)
	}
	return strings.TrimSpace(raw)
}

func parseDate(raw string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, strings.TrimSpace(raw), time.UTC)
}

// calendarDay strips the time of day, keeping the calendar date of t in its own zone.
func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
