package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/line-oee/internal/logic"
	"github.com/sweeney/line-oee/internal/store"
)

// maxSeqAttempts bounds the search for a free record sequence number.
const maxSeqAttempts = 100

// InitializeRecord opens a new running record for product on machine.
func (e *Engine) InitializeRecord(ctx context.Context, machine, product string) (logic.ProductionRecord, error) {
	machine = normalize(machine)
	defer e.lock(machine)()
	return e.initializeRecord(ctx, machine, normalize(product), e.clock())
}

func (e *Engine) initializeRecord(ctx context.Context, machine, product string, at time.Time) (logic.ProductionRecord, error) {
	ideal, planned, err := e.productParams(ctx, product)
	if err != nil {
		return logic.ProductionRecord{}, err
	}
	w, err := e.resolveShift(ctx, at)
	if err != nil {
		return logic.ProductionRecord{}, fmt.Errorf("resolve shift: %w", err)
	}

	r := logic.ProductionRecord{
		MachineCode:   machine,
		ProductCode:   product,
		ShiftCode:     w.Code,
		Status:        logic.RecordRunning,
		MachineStatus: logic.MachineRunning,
		CreateTime:    at,
		StartShift:    w.Start,
		EndShift:      w.End,
		BreakStart:    w.BreakStart,
		BreakEnd:      w.BreakEnd,
		Stats:         logic.Stats{IdealCycleSec: ideal, PlannedQty: planned},
	}

	prefix := logic.RecordPrefix(product, machine, at)
	n, err := e.store.CountRecordsWithPrefix(ctx, prefix)
	if err != nil {
		return logic.ProductionRecord{}, fmt.Errorf("count records: %w", err)
	}
	for seq := n + 1; seq <= n+maxSeqAttempts; seq++ {
		r.ID = logic.RecordID(prefix, seq)
		err = e.store.InsertRecord(ctx, r)
		if !errors.Is(err, store.ErrDuplicateID) {
			break
		}
	}
	if err != nil {
		return logic.ProductionRecord{}, fmt.Errorf("insert record %s: %w", r.ID, err)
	}

	e.log.Info().
		Str("machine", machine).
		Str("product", product).
		Str("shift", w.Code).
		Str("record_id", r.ID).
		Msg("Opened production record")
	e.publishRecord(r)
	return r, nil
}

// productParams returns the ideal cycle time and planned quantity of a
// product, falling back to defaults when master data is missing.
func (e *Engine) productParams(ctx context.Context, product string) (float64, int64, error) {
	ideal := logic.DefaultIdealCycleSec
	wp, err := e.store.WorkingParameter(ctx, product)
	switch {
	case err == nil && wp.IdealCycleSec > 0:
		ideal = wp.IdealCycleSec
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return 0, 0, fmt.Errorf("lookup working parameter: %w", err)
	}

	var planned int64
	p, err := e.store.Product(ctx, product)
	switch {
	case err == nil:
		planned = p.PlannedQty
	case !errors.Is(err, store.ErrNotFound):
		return 0, 0, fmt.Errorf("lookup product: %w", err)
	}
	return ideal, planned, nil
}

// downtimeThreshold returns the heartbeat silence allowed for a product.
func (e *Engine) downtimeThreshold(ctx context.Context, product string) (time.Duration, error) {
	p, err := e.store.Product(ctx, product)
	switch {
	case err == nil && p.DowntimeThresholdSec > 0:
		return time.Duration(p.DowntimeThresholdSec) * time.Second, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return 0, fmt.Errorf("lookup product: %w", err)
	}
	return e.cfg.DefaultDowntimeThreshold, nil
}

// FinalizeOnChangeover closes the machine's open record at the changeover
// instant. When no record is open, a closed placeholder is written under the
// first id of oldProduct's sequence for that day, unless it already exists.
func (e *Engine) FinalizeOnChangeover(ctx context.Context, machine, oldProduct, newProduct string, at time.Time) (logic.ProductionRecord, error) {
	machine = normalize(machine)
	defer e.lock(machine)()
	r, err := e.finalizeOnChangeover(ctx, machine, normalize(oldProduct), at)
	if err == nil {
		e.log.Info().
			Str("machine", machine).
			Str("from", r.ProductCode).
			Str("to", normalize(newProduct)).
			Msg("Changeover finalized record")
	}
	return r, err
}

func (e *Engine) finalizeOnChangeover(ctx context.Context, machine, oldProduct string, at time.Time) (logic.ProductionRecord, error) {
	r, err := e.store.OpenRecord(ctx, machine)
	if errors.Is(err, store.ErrNotFound) {
		if oldProduct == "" {
			return logic.ProductionRecord{}, ErrNoOpenRecord
		}
		return e.closePlaceholder(ctx, machine, oldProduct, at)
	}
	if err != nil {
		return logic.ProductionRecord{}, fmt.Errorf("find open record: %w", err)
	}
	return e.closeRecord(ctx, r, at)
}

func (e *Engine) closePlaceholder(ctx context.Context, machine, product string, at time.Time) (logic.ProductionRecord, error) {
	id := logic.RecordID(logic.RecordPrefix(product, machine, at), 1)
	if _, err := e.store.GetRecord(ctx, id); err == nil {
		return logic.ProductionRecord{}, fmt.Errorf("%w: %s already exists", ErrNoOpenRecord, id)
	} else if !errors.Is(err, store.ErrNotFound) {
		return logic.ProductionRecord{}, fmt.Errorf("get record %s: %w", id, err)
	}

	w, err := e.resolveShift(ctx, at)
	if err != nil {
		return logic.ProductionRecord{}, fmt.Errorf("resolve shift: %w", err)
	}
	ideal, planned, err := e.productParams(ctx, product)
	if err != nil {
		return logic.ProductionRecord{}, err
	}
	e.log.Warn().
		Str("machine", machine).
		Str("record_id", id).
		Msg("No open record on changeover, writing placeholder")

	return e.closeRecord(ctx, logic.ProductionRecord{
		ID:          id,
		MachineCode: machine,
		ProductCode: product,
		ShiftCode:   w.Code,
		CreateTime:  at,
		StartShift:  w.Start,
		EndShift:    w.End,
		BreakStart:  w.BreakStart,
		BreakEnd:    w.BreakEnd,
		Stats:       logic.Stats{IdealCycleSec: ideal, PlannedQty: planned},
	}, at)
}

// closeRecord computes the final metrics over [createTime, at), stores the
// closed record and refreshes the summary of the shift it belongs to.
func (e *Engine) closeRecord(ctx context.Context, r logic.ProductionRecord, at time.Time) (logic.ProductionRecord, error) {
	if err := e.measure(ctx, &r, store.Range{From: r.CreateTime, To: at}); err != nil {
		return logic.ProductionRecord{}, err
	}
	end := at
	r.Status = logic.RecordClosed
	r.MachineStatus = logic.MachineStopped
	r.EndTime = &end

	if err := e.store.UpsertRecord(ctx, r); err != nil {
		return logic.ProductionRecord{}, fmt.Errorf("store closed record %s: %w", r.ID, err)
	}
	e.log.Info().
		Str("machine", r.MachineCode).
		Str("record_id", r.ID).
		Int64("units", r.Stats.TotalCount).
		Float64("oee", r.KPIs.OEE).
		Msg("Closed production record")
	e.publishRecord(r)

	if _, err := e.summarize(ctx, r.MachineCode, r.ShiftCode, r.StartShift, r.EndShift, at); err != nil {
		e.log.Error().Err(err).Str("machine", r.MachineCode).Msg("Failed to refresh shift summary")
	}
	return r, nil
}

// measure recomputes the stats and KPIs of r over the given range.
func (e *Engine) measure(ctx context.Context, r *logic.ProductionRecord, rng store.Range) error {
	units, err := e.store.CountTicks(ctx, r.MachineCode, rng)
	if err != nil {
		return fmt.Errorf("count ticks: %w", err)
	}
	defects, err := e.store.CountDefects(ctx, r.MachineCode, rng)
	if err != nil {
		return fmt.Errorf("count defects: %w", err)
	}
	down, err := e.downtimeIn(ctx, r.MachineCode, rng.From, rng.To, e.clock())
	if err != nil {
		return err
	}

	ideal := r.Stats.IdealCycleSec
	if ideal <= 0 {
		ideal = logic.DefaultIdealCycleSec
	}
	r.Stats, r.KPIs = logic.Compute(logic.Window{
		Start:         rng.From,
		End:           rng.To,
		UnitCount:     units,
		DefectCount:   defects,
		Downtime:      down,
		IdealCycleSec: ideal,
		PlannedQty:    r.Stats.PlannedQty,
	})
	return nil
}

// FinalizeOnShiftChange closes the open record at the shift boundary and
// opens a new one for the same product. It returns the new record.
func (e *Engine) FinalizeOnShiftChange(ctx context.Context, machine string, at time.Time) (logic.ProductionRecord, error) {
	machine = normalize(machine)
	defer e.lock(machine)()
	return e.finalizeOnShiftChange(ctx, machine, at)
}

func (e *Engine) finalizeOnShiftChange(ctx context.Context, machine string, at time.Time) (logic.ProductionRecord, error) {
	r, err := e.openRecord(ctx, machine)
	if err != nil {
		return logic.ProductionRecord{}, err
	}
	closed, err := e.closeRecord(ctx, r, at)
	if err != nil {
		return logic.ProductionRecord{}, err
	}
	return e.initializeRecord(ctx, machine, closed.ProductCode, at)
}

// UpdateLiveStats recomputes the open record's metrics up to now.
func (e *Engine) UpdateLiveStats(ctx context.Context, machine string) (logic.ProductionRecord, error) {
	machine = normalize(machine)
	defer e.lock(machine)()
	return e.updateLiveStats(ctx, machine, e.clock())
}

func (e *Engine) updateLiveStats(ctx context.Context, machine string, now time.Time) (logic.ProductionRecord, error) {
	r, err := e.openRecord(ctx, machine)
	if err != nil {
		return logic.ProductionRecord{}, err
	}
	if err := e.measure(ctx, &r, store.Range{From: r.CreateTime, To: now, Inclusive: true}); err != nil {
		return logic.ProductionRecord{}, err
	}

	active, err := e.store.ActiveDowntimes(ctx, machine)
	if err != nil {
		return logic.ProductionRecord{}, fmt.Errorf("find active downtime: %w", err)
	}
	r.MachineStatus = logic.MachineRunning
	if len(active) > 0 {
		r.MachineStatus = logic.MachineStopped
	}

	if err := e.store.UpsertRecord(ctx, r); err != nil {
		return logic.ProductionRecord{}, fmt.Errorf("store live record %s: %w", r.ID, err)
	}
	e.publishRecord(r)
	return r, nil
}

func (e *Engine) openRecord(ctx context.Context, machine string) (logic.ProductionRecord, error) {
	r, err := e.store.OpenRecord(ctx, machine)
	if errors.Is(err, store.ErrNotFound) {
		return logic.ProductionRecord{}, ErrNoOpenRecord
	}
	if err != nil {
		return logic.ProductionRecord{}, fmt.Errorf("find open record: %w", err)
	}
	return r, nil
}
