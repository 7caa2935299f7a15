package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Example: 06/Sep/2025:11:01:23 -0700
var timestampRegex = regexp.MustCompile(`^(\d{2})/([A-Za-z]{3})/(\d{4}):(\d{2}):(\d{2}):(\d{2}) ([+-])(\d{2})(\d{2})$`)

var months = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March,
	"Apr": time.April, "May": time.May, "Jun": time.June,
	"Jul": time.July, "Aug": time.August, "Sep": time.September,
	"Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// ParseTimestamp converts a bracketed access log timestamp into a UTC instant.
// The wall clock is read as if it were UTC and then shifted by the negated
// offset, so the result never depends on the machine's local zone.
func ParseTimestamp(s string) (time.Time, error) {
	m := timestampRegex.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("timestamp %q: unexpected format", s)
	}
	month, ok := months[m[2]]
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp %q: unknown month %q", s, m[2])
	}

	day, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])
	second, _ := strconv.Atoi(m[6])
	offHours, _ := strconv.Atoi(m[8])
	offMinutes, _ := strconv.Atoi(m[9])

	if hour > 23 || minute > 59 || second > 59 || offMinutes > 59 {
		return time.Time{}, fmt.Errorf("timestamp %q: field out of range", s)
	}

	naive := time.Date(year, month, day, hour, minute, second, 0, time.UTC)
	// time.Date normalizes overflow (31/Feb becomes 03/Mar); reject it instead.
	if naive.Day() != day || naive.Month() != month {
		return time.Time{}, fmt.Errorf("timestamp %q: invalid day of month", s)
	}

	offset := time.Duration(offHours)*time.Hour + time.Duration(offMinutes)*time.Minute
	if m[7] == "+" {
		return naive.Add(-offset), nil
	}
	return naive.Add(offset), nil
}
