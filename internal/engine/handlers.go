package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/line-oee/internal/logic"
	"github.com/sweeney/line-oee/internal/store"
)

// downtimeHistoryLimit caps the records returned by a machine downtime query.
const downtimeHistoryLimit = 50

// HandleCounterTick processes one heartbeat: it ends any downtime, logs the
// tick with its cycle time and refreshes the open record.
func (e *Engine) HandleCounterTick(ctx context.Context, ev logic.CounterTick) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	machine := normalize(ev.MachineCode)
	defer e.lock(machine)()
	now := e.clock()
	e.rec.RecordEvent(EventCounter, machine, now)

	if _, err := e.closeActiveDowntime(ctx, machine, now); err != nil {
		return err
	}

	var cycle float64
	prev, err := e.store.LastTick(ctx, machine)
	switch {
	case err == nil:
		cycle = now.Sub(prev.Timestamp).Seconds()
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("last tick: %w", err)
	}

	if err := e.store.InsertTick(ctx, logic.Tick{
		MachineCode:     machine,
		Timestamp:       now,
		ShootCount:      ev.ShootCountNumber,
		ActualCycleTime: cycle,
	}); err != nil {
		return fmt.Errorf("insert tick: %w", err)
	}

	return e.refreshLive(ctx, machine, now)
}

// HandleVisionResult records a camera defect when the inspection fails.
func (e *Engine) HandleVisionResult(ctx context.Context, ev logic.VisionResult) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	machine := normalize(ev.MachineCode)
	defer e.lock(machine)()
	now := e.clock()
	e.rec.RecordEvent(EventVision, machine, now)

	code := ev.DefectCodeFor(e.cfg.VisionThreshold)
	if code == "" {
		return nil
	}
	return e.recordDefect(ctx, logic.Defect{
		ID:          e.newID(),
		MachineCode: machine,
		Timestamp:   now,
		DefectCode:  code,
		Source:      logic.SourceCamera,
		NodeID:      e.cfg.NodeID,
		RawImage:    ev.Image,
	})
}

// HandleHMIDefect records a defect keyed in by an operator.
func (e *Engine) HandleHMIDefect(ctx context.Context, ev logic.HMIDefect) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	machine := normalize(ev.MachineCode)
	defer e.lock(machine)()
	now := e.clock()
	e.rec.RecordEvent(EventDefect, machine, now)

	return e.recordDefect(ctx, logic.Defect{
		ID:          e.newID(),
		MachineCode: machine,
		Timestamp:   now,
		DefectCode:  normalize(ev.DefectCode),
		Source:      logic.SourceHMI,
	})
}

func (e *Engine) recordDefect(ctx context.Context, d logic.Defect) error {
	if err := e.store.InsertDefect(ctx, d); err != nil {
		return fmt.Errorf("insert defect: %w", err)
	}
	e.log.Debug().
		Str("machine", d.MachineCode).
		Str("defect", d.DefectCode).
		Str("source", string(d.Source)).
		Msg("Defect recorded")
	return e.refreshLive(ctx, d.MachineCode, d.Timestamp)
}

// HandleChangeover switches a machine to a new product: the open record is
// finalized and a new one is opened.
func (e *Engine) HandleChangeover(ctx context.Context, ev logic.Changeover) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	machine := normalize(ev.MachineCode)
	product := normalize(ev.ProductCode)
	old := normalize(ev.OldProductCode)
	defer e.lock(machine)()
	now := e.clock()
	e.rec.RecordEvent(EventChangeover, machine, now)

	if err := e.store.InsertChangeover(ctx, logic.ChangeoverLog{
		ID:             e.newID(),
		MachineCode:    machine,
		Timestamp:      now,
		ProductCode:    product,
		OldProductCode: old,
		Source:         string(logic.SourceHMI),
	}); err != nil {
		return fmt.Errorf("insert changeover: %w", err)
	}

	// Without old_productcode a still-open record is closed anyway so at
	// most one record per machine is running.
	closed, err := e.finalizeOnChangeover(ctx, machine, old, now)
	switch {
	case err == nil:
		e.log.Info().
			Str("machine", machine).
			Str("from", closed.ProductCode).
			Str("to", product).
			Msg("Changeover")
	case errors.Is(err, ErrNoOpenRecord):
		e.log.Info().Str("machine", machine).Str("to", product).Msg("Changeover without open record")
	default:
		return err
	}

	if _, err := e.initializeRecord(ctx, machine, product, now); err != nil {
		return err
	}
	if _, err := e.currentShiftSummary(ctx, machine, now); err != nil {
		e.log.Error().Err(err).Str("machine", machine).Msg("Failed to refresh shift summary")
	}
	return nil
}

// HandleDowntimeReason annotates a downtime record with a catalog code.
// Unknown codes are rejected before anything is written.
func (e *Engine) HandleDowntimeReason(ctx context.Context, ev logic.DowntimeReason) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	code, err := e.store.DowntimeCode(ctx, normalize(ev.DowntimeCode))
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %q", ErrUnknownDowntimeCode, ev.DowntimeCode)
	}
	if err != nil {
		return fmt.Errorf("lookup downtime code: %w", err)
	}

	machine := normalize(ev.MachineCode)
	id := normalize(ev.ID)
	if id != "" {
		d, err := e.store.GetDowntime(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: id %s", ErrDowntimeNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("get downtime: %w", err)
		}
		machine = d.MachineCode
	}

	defer e.lock(machine)()
	now := e.clock()
	e.rec.RecordEvent(EventReason, machine, now)

	d, err := e.reasonTarget(ctx, machine, id)
	if err != nil {
		return err
	}
	d.DowntimeCode = code.Code
	d.Reason = code.Name
	if err := e.store.UpdateDowntime(ctx, d); err != nil {
		return fmt.Errorf("update downtime %s: %w", d.ID, err)
	}
	e.log.Info().
		Str("machine", machine).
		Str("downtime_id", d.ID).
		Str("code", code.Code).
		Msg("Downtime reason set")
	e.rec.RecordDowntime(d)

	return e.refreshLive(ctx, machine, now)
}

// reasonTarget picks the record a downtime reason applies to: the one named
// by id, else the machine's active record, else its latest one.
func (e *Engine) reasonTarget(ctx context.Context, machine, id string) (logic.DowntimeRecord, error) {
	if id != "" {
		d, err := e.store.GetDowntime(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return d, fmt.Errorf("%w: id %s", ErrDowntimeNotFound, id)
		}
		return d, err
	}
	active, err := e.store.ActiveDowntimes(ctx, machine)
	if err != nil {
		return logic.DowntimeRecord{}, fmt.Errorf("find active downtime: %w", err)
	}
	if len(active) > 0 {
		return active[len(active)-1], nil
	}
	d, err := e.store.LatestDowntime(ctx, machine)
	if errors.Is(err, store.ErrNotFound) {
		return d, fmt.Errorf("%w: machine %s", ErrDowntimeNotFound, machine)
	}
	return d, err
}

// refreshLive updates the open record, tolerating machines that have none.
func (e *Engine) refreshLive(ctx context.Context, machine string, now time.Time) error {
	_, err := e.updateLiveStats(ctx, machine, now)
	if errors.Is(err, ErrNoOpenRecord) {
		e.log.Debug().Str("machine", machine).Msg("No open record to update")
		return nil
	}
	return err
}

// HandleMasterQuery answers a read-only catalog query.
func (e *Engine) HandleMasterQuery(ctx context.Context, q logic.MasterQuery) (any, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	switch q.Kind {
	case logic.MasterDefects:
		return nonNil(e.store.DefectCodes(ctx))
	case logic.MasterProducts:
		return nonNil(e.store.Products(ctx))
	case logic.MasterDowntimeCodes:
		return nonNil(e.store.DowntimeCodes(ctx))
	case logic.MasterMachines:
		return nonNil(e.store.Machines(ctx))
	case logic.MasterMachineDowntime:
		return nonNil(e.store.ListDowntimes(ctx, normalize(q.MachineCode), downtimeHistoryLimit))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownQuery, q.Kind)
	}
}

// nonNil turns an empty result into an empty slice so replies encode as [].
func nonNil[T any](items []T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}
