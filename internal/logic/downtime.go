package logic

import "time"

// DefaultDowntimeThreshold is the heartbeat silence tolerated when the
// product master carries no threshold.
const DefaultDowntimeThreshold = 300 * time.Second

// Overlap returns the length of the intersection of [aStart, aEnd) and
// [bStart, bEnd), or zero when they do not intersect.
func Overlap(aStart, aEnd, bStart, bEnd time.Time) time.Duration {
	lo := aStart
	if bStart.After(lo) {
		lo = bStart
	}
	hi := aEnd
	if bEnd.Before(hi) {
		hi = bEnd
	}
	if !hi.After(lo) {
		return 0
	}
	return hi.Sub(lo)
}

// DowntimeInRange sums the overlap of every downtime interval with
// [start, end). Active records end provisionally at now.
func DowntimeInRange(records []DowntimeRecord, start, end, now time.Time) time.Duration {
	var total time.Duration
	for _, r := range records {
		recEnd := now
		if r.Status != DowntimeActive && r.EndTime != nil {
			recEnd = *r.EndTime
		}
		total += Overlap(start, end, r.StartTime, recEnd)
	}
	return total
}

// SilenceExceeded reports whether the gap since lastHeartbeat is longer than
// threshold. A non-positive threshold falls back to DefaultDowntimeThreshold.
func SilenceExceeded(lastHeartbeat, now time.Time, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultDowntimeThreshold
	}
	return now.Sub(lastHeartbeat) > threshold
}

// CloseDowntime marks an active record closed at now.
func CloseDowntime(r *DowntimeRecord, now time.Time) {
	end := now
	r.EndTime = &end
	r.Status = DowntimeClosed
	d := now.Sub(r.StartTime)
	if d < 0 {
		d = 0
	}
	r.DurationSeconds = int64(d / time.Second)
}
