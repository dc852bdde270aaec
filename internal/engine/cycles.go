package engine

import (
	"context"
	"errors"
	"fmt"
)

// RunLiveCycle runs the periodic pass over every machine with an open
// record: downtime detection, live stats and the current shift summary.
// Errors are contained per machine and returned joined.
func (e *Engine) RunLiveCycle(ctx context.Context) error {
	open, err := e.store.OpenRecords(ctx)
	if err != nil {
		return fmt.Errorf("list open records: %w", err)
	}
	var errs []error
	for _, machine := range machinesOf(open) {
		if err := e.liveMachine(ctx, machine); err != nil {
			e.log.Error().Err(err).Str("machine", machine).Msg("Live cycle failed")
			errs = append(errs, fmt.Errorf("%s: %w", machine, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) liveMachine(ctx context.Context, machine string) error {
	defer e.lock(machine)()
	now := e.clock()
	if _, _, err := e.checkDowntime(ctx, machine, now); err != nil {
		return err
	}
	if err := e.refreshLive(ctx, machine, now); err != nil {
		return err
	}
	_, err := e.currentShiftSummary(ctx, machine, now)
	return err
}

// RunShiftCycle closes and reopens every open record whose shift is no
// longer the current one.
func (e *Engine) RunShiftCycle(ctx context.Context) error {
	open, err := e.store.OpenRecords(ctx)
	if err != nil {
		return fmt.Errorf("list open records: %w", err)
	}
	var errs []error
	for _, machine := range machinesOf(open) {
		if err := e.shiftMachine(ctx, machine); err != nil {
			e.log.Error().Err(err).Str("machine", machine).Msg("Shift cycle failed")
			errs = append(errs, fmt.Errorf("%s: %w", machine, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) shiftMachine(ctx context.Context, machine string) error {
	defer e.lock(machine)()
	now := e.clock()

	r, err := e.openRecord(ctx, machine)
	if errors.Is(err, ErrNoOpenRecord) {
		return nil
	}
	if err != nil {
		return err
	}
	w, err := e.resolveShift(ctx, now)
	if err != nil {
		return fmt.Errorf("resolve shift: %w", err)
	}
	if r.ShiftCode == w.Code && r.StartShift.Equal(w.Start) {
		return nil
	}

	e.log.Info().
		Str("machine", machine).
		Str("from", r.ShiftCode).
		Str("to", w.Code).
		Msg("Shift rollover")
	if _, err := e.finalizeOnShiftChange(ctx, machine, now); err != nil {
		return err
	}
	_, err = e.currentShiftSummary(ctx, machine, now)
	return err
}
