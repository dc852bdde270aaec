package logic

import "time"

// DefaultIdealCycleSec is used when no working parameter exists for a product.
const DefaultIdealCycleSec = 1.0

// Window holds the raw measurements of one production interval.
type Window struct {
	Start         time.Time
	End           time.Time
	UnitCount     int64
	DefectCount   int64
	Downtime      time.Duration
	IdealCycleSec float64
	PlannedQty    int64
}

// Compute derives Stats and KPIs for the window.
// Availability reflects uptime even when nothing was produced.
func Compute(w Window) (Stats, KPIs) {
	run := int64(0)
	if w.End.After(w.Start) {
		run = int64(w.End.Sub(w.Start) / time.Second)
	}
	down := int64(w.Downtime / time.Second)
	if down > run {
		down = run
	}

	stats := Stats{
		TotalCount:       w.UnitCount,
		DefectCount:      w.DefectCount,
		GoodProduct:      good(w.UnitCount, w.DefectCount),
		RunSeconds:       run,
		DowntimeSeconds:  down,
		ActualRunSeconds: max64(0, run-down),
		IdealCycleSec:    w.IdealCycleSec,
		PlannedQty:       w.PlannedQty,
	}

	kpis := kpisFor(stats.RunSeconds, stats.ActualRunSeconds, stats.TotalCount, stats.DefectCount,
		w.IdealCycleSec*float64(w.UnitCount))
	if stats.TotalCount > 0 {
		stats.AvgCycle = float64(stats.ActualRunSeconds) / float64(stats.TotalCount)
	}
	return stats, kpis
}

// Rollup aggregates records into one set of shift-level Stats and KPIs.
// Performance uses the unit-weighted ideal time sum of the records.
func Rollup(records []ProductionRecord) (Stats, KPIs) {
	var agg Stats
	var idealTime float64
	for _, r := range records {
		agg.TotalCount += r.Stats.TotalCount
		agg.DefectCount += r.Stats.DefectCount
		agg.RunSeconds += r.Stats.RunSeconds
		agg.ActualRunSeconds += r.Stats.ActualRunSeconds
		agg.DowntimeSeconds += r.Stats.DowntimeSeconds
		agg.PlannedQty += r.Stats.PlannedQty
		idealTime += r.Stats.IdealCycleSec * float64(r.Stats.TotalCount)
	}
	agg.GoodProduct = good(agg.TotalCount, agg.DefectCount)
	if agg.TotalCount > 0 {
		agg.IdealCycleSec = idealTime / float64(agg.TotalCount)
		agg.AvgCycle = float64(agg.ActualRunSeconds) / float64(agg.TotalCount)
	}
	return agg, kpisFor(agg.RunSeconds, agg.ActualRunSeconds, agg.TotalCount, agg.DefectCount, idealTime)
}

func kpisFor(run, actual, units, defects int64, idealTime float64) KPIs {
	var k KPIs
	if run > 0 {
		k.Availability = float64(actual) / float64(run)
	}
	if units <= 0 {
		return k
	}
	if actual > 0 {
		k.Performance = idealTime / float64(actual)
	}
	k.Quality = float64(good(units, defects)) / float64(units)
	k.OEE = k.Availability * k.Performance * k.Quality
	return k
}

func good(units, defects int64) int64 {
	return max64(0, units-defects)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
