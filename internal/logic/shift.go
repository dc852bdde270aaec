package logic

import "time"

const secondsPerDay = 24 * 60 * 60

// DefaultShift is used when no calendar entry covers the current instant.
var DefaultShift = ShiftDef{
	Code:     "SHIFT_01",
	Name:     "Default",
	StartSec: 6 * 3600,
	EndSec:   14 * 3600,
}

// ShiftWindow is a shift materialized around a concrete instant.
// All instants are in UTC.
type ShiftWindow struct {
	Code       string
	Start      time.Time
	End        time.Time
	BreakStart *time.Time
	BreakEnd   *time.Time
	// InShift is false when the window is the DefaultShift fallback.
	InShift bool
	// Date is the local calendar date the shift started on (YYYY-MM-DD).
	Date string
}

// Contains reports whether t falls inside [Start, End].
func (w ShiftWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// SecondsOfDay returns the seconds elapsed since local midnight of t in loc.
func SecondsOfDay(t time.Time, loc *time.Location) int {
	local := t.In(loc)
	return local.Hour()*3600 + local.Minute()*60 + local.Second()
}

// ShiftActive reports whether a shift covers the given seconds-of-day.
// Both bounds are inclusive. An overnight shift (start > end) covers
// [start, midnight) and [midnight, end].
func ShiftActive(s ShiftDef, cur int) bool {
	if s.StartSec <= s.EndSec {
		return s.StartSec <= cur && cur <= s.EndSec
	}
	return cur >= s.StartSec || cur <= s.EndSec
}

// MatchShift returns the first calendar entry active at cur.
func MatchShift(calendar []ShiftDef, cur int) (ShiftDef, bool) {
	for _, s := range calendar {
		if ShiftActive(s, cur) {
			return s, true
		}
	}
	return ShiftDef{}, false
}

// ResolveShift returns the shift window active at now according to the
// calendar, evaluated in loc. Falls back to DefaultShift when nothing matches.
func ResolveShift(now time.Time, calendar []ShiftDef, loc *time.Location) ShiftWindow {
	if loc == nil {
		loc = time.UTC
	}
	cur := SecondsOfDay(now, loc)

	def, ok := MatchShift(calendar, cur)
	if !ok {
		def = DefaultShift
	}

	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	start := atOffset(midnight, def.StartSec)
	end := atOffset(midnight, def.EndSec)
	if def.Wraps() {
		if cur >= def.StartSec {
			end = end.AddDate(0, 0, 1)
		} else {
			start = start.AddDate(0, 0, -1)
		}
	}

	w := ShiftWindow{
		Code:    def.Code,
		Start:   start.UTC(),
		End:     end.UTC(),
		InShift: ok,
		Date:    start.Format("2006-01-02"),
	}

	if def.BreakStart != nil && def.BreakEnd != nil {
		bs := wrapBound(midnight, *def.BreakStart, def, cur)
		be := wrapBound(midnight, *def.BreakEnd, def, cur)
		if be.Before(bs) {
			be = be.AddDate(0, 0, 1)
		}
		bsUTC, beUTC := bs.UTC(), be.UTC()
		w.BreakStart = &bsUTC
		w.BreakEnd = &beUTC
	}

	return w
}

// wrapBound materializes a break offset, moving it to the neighbouring day
// when it lies on the other side of an overnight shift's midnight.
func wrapBound(midnight time.Time, offset int, def ShiftDef, cur int) time.Time {
	t := atOffset(midnight, offset)
	if !def.Wraps() {
		return t
	}
	if cur >= def.StartSec {
		if offset < def.StartSec {
			return t.AddDate(0, 0, 1)
		}
		return t
	}
	if offset > def.EndSec {
		return t.AddDate(0, 0, -1)
	}
	return t
}

func atOffset(midnight time.Time, sec int) time.Time {
	sec %= secondsPerDay
	h, m, s := sec/3600, (sec%3600)/60, sec%60
	return time.Date(midnight.Year(), midnight.Month(), midnight.Day(), h, m, s, 0, midnight.Location())
}
