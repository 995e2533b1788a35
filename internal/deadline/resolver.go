// Package deadline turns relative deadline expressions such as "in 2 days"
// into absolute times.
package deadline

import (
	"strconv"
	"strings"
	"time"
)

const (
	Day  = 24 * time.Hour
	Week = 7 * Day

	// Fallback is used for any expression that cannot be resolved.
	Fallback = Week
)

// Resolve returns ref + magnitude*unit for expressions naming "day(s)" or
// "week(s)". The magnitude is every digit in expr concatenated in order, so
// "in 1-2 days" reads as 12 days. Anything else resolves to ref + 1 week.
// Resolve never fails and depends on nothing but its arguments.
func Resolve(expr string, ref time.Time) time.Time {
	unit, ok := unitOf(expr)
	if !ok {
		return ref.Add(Fallback)
	}
	n, ok := magnitude(expr)
	if !ok {
		return ref.Add(Fallback)
	}
	// n*unit must fit in a time.Duration.
	if n > int64(time.Duration(1<<63-1)/unit) {
		return ref.Add(Fallback)
	}
	return ref.Add(time.Duration(n) * unit)
}

// unitOf checks "day" before "week" when an expression names both.
func unitOf(expr string) (time.Duration, bool) {
	lower := strings.ToLower(expr)
	switch {
	case strings.Contains(lower, "day"):
		return Day, true
	case strings.Contains(lower, "week"):
		return Week, true
	}
	return 0, false
}

func magnitude(expr string) (int64, bool) {
	var digits strings.Builder
	for _, r := range expr {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
