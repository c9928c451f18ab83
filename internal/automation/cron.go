package automation

import (
	"strconv"
	"strings"
	"time"
)

// MatchesCronField reports whether one cron field accepts value.
// Supported forms: "*", "*/N", "a-b", "a-b/N", comma lists of those, and exact integers.
func MatchesCronField(field string, value int) bool {
	field = strings.TrimSpace(field)
	if field == "" {
		return false
	}

	if strings.Contains(field, ",") {
		for _, part := range strings.Split(field, ",") {
			if MatchesCronField(part, value) {
				return true
			}
		}
		return false
	}

	if field == "*" {
		return true
	}

	base, stepStr, hasStep := strings.Cut(field, "/")
	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepStr)
		if err != nil || n <= 0 {
			return false
		}
		step = n
	}

	if base == "*" {
		return value%step == 0
	}

	if lo, hi, isRange := strings.Cut(base, "-"); isRange {
		from, err1 := strconv.Atoi(lo)
		to, err2 := strconv.Atoi(hi)
		if err1 != nil || err2 != nil {
			return false
		}
		return value >= from && value <= to && (value-from)%step == 0
	}

	if hasStep {
		return false
	}
	n, err := strconv.Atoi(base)
	return err == nil && n == value
}

// MatchesCron reports whether t, already in the automation's timezone, satisfies a
// 5-field expression (minute hour day-of-month month day-of-week).
// The scanner runs every 15 minutes, so expressions finer than that cannot fire reliably.
func MatchesCron(expr string, t time.Time) bool {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return false
	}

	weekday := int(t.Weekday())
	return MatchesCronField(fields[0], t.Minute()) &&
		MatchesCronField(fields[1], t.Hour()) &&
		MatchesCronField(fields[2], t.Day()) &&
		MatchesCronField(fields[3], int(t.Month())) &&
		(MatchesCronField(fields[4], weekday) || (weekday == 0 && MatchesCronField(fields[4], 7)))
}
