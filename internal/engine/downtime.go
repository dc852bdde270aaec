package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/line-oee/internal/logic"
	"github.com/sweeney/line-oee/internal/store"
)

// CheckAndOpenDowntime opens a downtime interval for every machine with an
// open record whose heartbeat has been silent longer than its product's
// threshold. A failing machine does not stop the others.
func (e *Engine) CheckAndOpenDowntime(ctx context.Context) ([]logic.DowntimeRecord, error) {
	open, err := e.store.OpenRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open records: %w", err)
	}

	var (
		opened []logic.DowntimeRecord
		errs   []error
	)
	for _, machine := range machinesOf(open) {
		d, ok, err := e.checkMachineDowntime(ctx, machine)
		if err != nil {
			e.log.Error().Err(err).Str("machine", machine).Msg("Downtime check failed")
			errs = append(errs, fmt.Errorf("%s: %w", machine, err))
			continue
		}
		if ok {
			opened = append(opened, d)
		}
	}
	return opened, errors.Join(errs...)
}

func (e *Engine) checkMachineDowntime(ctx context.Context, machine string) (logic.DowntimeRecord, bool, error) {
	defer e.lock(machine)()
	return e.checkDowntime(ctx, machine, e.clock())
}

func (e *Engine) checkDowntime(ctx context.Context, machine string, now time.Time) (logic.DowntimeRecord, bool, error) {
	r, err := e.openRecord(ctx, machine)
	if errors.Is(err, ErrNoOpenRecord) {
		return logic.DowntimeRecord{}, false, nil
	}
	if err != nil {
		return logic.DowntimeRecord{}, false, err
	}

	threshold, err := e.downtimeThreshold(ctx, r.ProductCode)
	if err != nil {
		return logic.DowntimeRecord{}, false, err
	}

	last := r.CreateTime
	tick, err := e.store.LastTick(ctx, machine)
	switch {
	case err == nil && tick.Timestamp.After(last):
		last = tick.Timestamp
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return logic.DowntimeRecord{}, false, fmt.Errorf("last tick: %w", err)
	}

	if !logic.SilenceExceeded(last, now, threshold) {
		return logic.DowntimeRecord{}, false, nil
	}

	if _, err := e.store.FindDowntimeAt(ctx, machine, last); err == nil {
		return logic.DowntimeRecord{}, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return logic.DowntimeRecord{}, false, fmt.Errorf("find downtime: %w", err)
	}
	active, err := e.store.ActiveDowntimes(ctx, machine)
	if err != nil {
		return logic.DowntimeRecord{}, false, fmt.Errorf("find active downtime: %w", err)
	}
	if len(active) > 0 {
		return logic.DowntimeRecord{}, false, nil
	}

	d := logic.DowntimeRecord{
		ID:          e.newID(),
		MachineCode: machine,
		StartTime:   last,
		Status:      logic.DowntimeActive,
	}
	if err := e.store.InsertDowntime(ctx, d); err != nil {
		return logic.DowntimeRecord{}, false, fmt.Errorf("insert downtime: %w", err)
	}
	e.log.Info().
		Str("machine", machine).
		Time("since", last).
		Dur("threshold", threshold).
		Msg("Downtime opened")
	e.rec.RecordDowntime(d)
	return d, true, nil
}

// CloseActiveDowntime closes every active downtime of machine at now.
func (e *Engine) CloseActiveDowntime(ctx context.Context, machine string) ([]logic.DowntimeRecord, error) {
	machine = normalize(machine)
	defer e.lock(machine)()
	return e.closeActiveDowntime(ctx, machine, e.clock())
}

func (e *Engine) closeActiveDowntime(ctx context.Context, machine string, now time.Time) ([]logic.DowntimeRecord, error) {
	active, err := e.store.ActiveDowntimes(ctx, machine)
	if err != nil {
		return nil, fmt.Errorf("find active downtime: %w", err)
	}
	closed := make([]logic.DowntimeRecord, 0, len(active))
	for _, d := range active {
		logic.CloseDowntime(&d, now)
		if err := e.store.UpdateDowntime(ctx, d); err != nil {
			return closed, fmt.Errorf("close downtime %s: %w", d.ID, err)
		}
		e.log.Info().
			Str("machine", machine).
			Str("downtime_id", d.ID).
			Int64("seconds", d.DurationSeconds).
			Msg("Downtime closed")
		e.rec.RecordDowntime(d)
		closed = append(closed, d)
	}
	return closed, nil
}

// DowntimeSecondsInRange returns the whole seconds of downtime overlapping
// [start, end). Active intervals are counted up to now.
func (e *Engine) DowntimeSecondsInRange(ctx context.Context, machine string, start, end time.Time) (int64, error) {
	d, err := e.downtimeIn(ctx, normalize(machine), start, end, e.clock())
	if err != nil {
		return 0, err
	}
	return int64(d / time.Second), nil
}

func (e *Engine) downtimeIn(ctx context.Context, machine string, start, end, now time.Time) (time.Duration, error) {
	if !end.After(start) {
		return 0, nil
	}
	recs, err := e.store.DowntimesOverlapping(ctx, machine, start, end)
	if err != nil {
		return 0, fmt.Errorf("list downtime: %w", err)
	}
	return logic.DowntimeInRange(recs, start, end, now), nil
}

// machinesOf returns the distinct machine codes of records, in order.
func machinesOf(records []logic.ProductionRecord) []string {
	seen := make(map[string]bool, len(records))
	var out []string
	for _, r := range records {
		if seen[r.MachineCode] {
			continue
		}
		seen[r.MachineCode] = true
		out = append(out, r.MachineCode)
	}
	return out
}
