package sla

import "time"

const (
	businessDayStart = 9
	businessDayEnd   = 17
)

// BusinessMinutesElapsed counts minutes between start and end that fall on
// Monday-Friday between 09:00 and 17:00 in start's location.
func BusinessMinutesElapsed(start, end time.Time) int {
	if !end.After(start) {
		return 0
	}
	total := 0
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	for day.Before(end) {
		if isBusinessDay(day) {
			open := day.Add(businessDayStart * time.Hour)
			closeAt := day.Add(businessDayEnd * time.Hour)
			from := laterOf(open, start)
			to := earlierOf(closeAt, end)
			if to.After(from) {
				total += int(to.Sub(from) / time.Minute)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return total
}

// NextBusinessTime returns t when inside business hours, otherwise 09:00 of the
// next business day.
func NextBusinessTime(t time.Time) time.Time {
	opening := func(d time.Time) time.Time {
		return time.Date(d.Year(), d.Month(), d.Day(), businessDayStart, 0, 0, 0, d.Location())
	}
	if isBusinessDay(t) {
		if t.Hour() < businessDayStart {
			return opening(t)
		}
		if t.Hour() < businessDayEnd {
			return t
		}
	}
	next := t.AddDate(0, 0, 1)
	for !isBusinessDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return opening(next)
}

func isBusinessDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
