package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sweeney/line-oee/internal/logic"
)

// CurrentShiftSummary rolls every record of machine in the current shift up
// into a ShiftSummary, stores it and publishes it.
func (e *Engine) CurrentShiftSummary(ctx context.Context, machine string) (logic.ShiftSummary, error) {
	machine = normalize(machine)
	defer e.lock(machine)()
	return e.currentShiftSummary(ctx, machine, e.clock())
}

func (e *Engine) currentShiftSummary(ctx context.Context, machine string, now time.Time) (logic.ShiftSummary, error) {
	w, err := e.resolveShift(ctx, now)
	if err != nil {
		return logic.ShiftSummary{}, fmt.Errorf("resolve shift: %w", err)
	}
	return e.summarize(ctx, machine, w.Code, w.Start, w.End, now)
}

// summarize aggregates the machine's records of one shift occurrence.
func (e *Engine) summarize(ctx context.Context, machine, shiftCode string, start, end, at time.Time) (logic.ShiftSummary, error) {
	recs, err := e.store.ShiftRecords(ctx, machine, shiftCode, start)
	if err != nil {
		return logic.ShiftSummary{}, fmt.Errorf("list shift records: %w", err)
	}
	stats, kpis := logic.Rollup(recs)
	s := logic.ShiftSummary{
		MachineCode: machine,
		ShiftCode:   shiftCode,
		ShiftDate:   start.In(e.cfg.Location).Format("2006-01-02"),
		StartShift:  start,
		EndShift:    end,
		Records:     len(recs),
		KPIs:        kpis,
		Stats:       stats,
		Timestamp:   at,
	}
	if err := e.store.UpsertSummary(ctx, s); err != nil {
		return logic.ShiftSummary{}, fmt.Errorf("store shift summary: %w", err)
	}
	e.publishSummary(s)
	return s, nil
}
