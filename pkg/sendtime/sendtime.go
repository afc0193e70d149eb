// Package sendtime converts a local calendar date plus a wall-clock send time
// into a UTC instant. Offsets come from a fixed table of US timezones with a
// US daylight-saving adjustment (second Sunday of March through the first
// Sunday of November); Arizona, Hawaii and UTC never shift.
package sendtime

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// baseOffsets maps IANA timezone names to their standard-time offset from UTC
// in hours (positive = behind UTC).
var baseOffsets = map[string]int{
	"America/New_York":    5,
	"America/Chicago":     6,
	"America/Denver":      7,
	"America/Phoenix":     7,
	"America/Los_Angeles": 8,
	"America/Anchorage":   9,
	"Pacific/Honolulu":    10,
	"UTC":                 0,
}

// noDSTZones never observe daylight saving.
var noDSTZones = map[string]bool{
	"America/Phoenix":  true,
	"Pacific/Honolulu": true,
	"UTC":              true,
}

// DefaultTimezone is used when an automation carries no timezone.
const DefaultTimezone = "America/Chicago"

// ParseWallClock parses "HH:MM" into hour and minute components.
func ParseWallClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid wall clock %q: expected HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in wall clock %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in wall clock %q", s)
	}
	return hour, minute, nil
}

// ToUTC converts a local date and wall-clock time in the given timezone to a
// UTC instant. Unknown timezones use the default timezone's offset.
func ToUTC(year int, month time.Month, day int, wallClock, timezone string) (time.Time, error) {
	hour, minute, err := ParseWallClock(wallClock)
	if err != nil {
		return time.Time{}, err
	}

	offset, ok := baseOffsets[timezone]
	if !ok {
		timezone = DefaultTimezone
		offset = baseOffsets[DefaultTimezone]
	}

	if !noDSTZones[timezone] && isUSDaylightSaving(year, month, day) {
		offset--
	}

	local := time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
	return local.Add(time.Duration(offset) * time.Hour), nil
}

// ToUTCForDate is ToUTC for a date carried in a time.Time (time portion ignored).
func ToUTCForDate(date time.Time, wallClock, timezone string) (time.Time, error) {
	return ToUTC(date.Year(), date.Month(), date.Day(), wallClock, timezone)
}

// isUSDaylightSaving reports whether the local date falls within US DST:
// from the second Sunday of March through the day before the first Sunday
// of November.
func isUSDaylightSaving(year int, month time.Month, day int) bool {
	switch {
	case month < time.March || month > time.November:
		return false
	case month > time.March && month < time.November:
		return true
	case month == time.March:
		return day >= nthSunday(year, time.March, 2)
	default: // November
		return day < nthSunday(year, time.November, 1)
	}
}

// nthSunday returns the day of month of the nth Sunday of the given month.
func nthSunday(year int, month time.Month, n int) int {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (7 - int(first.Weekday())) % 7
	return 1 + offset + (n-1)*7
}
