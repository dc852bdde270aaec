// Package gpio reads a machine's shot-counter input line.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/line-oee/internal/logic"
)

// Reader reads the level of the counter input.
type Reader interface {
	// Read returns true while the counter sensor is active.
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Defaults for the counter line (BCM numbering).
const (
	DefaultChip = "gpiochip0"
	DefaultPin  = 26
)

// Counter turns polled line levels into counter ticks for one machine.
// It is driven by a single goroutine and is not safe for concurrent use.
type Counter struct {
	reader  Reader
	machine string
	pulses  *logic.PulseCounter
	emit    func(logic.CounterTick)
	log     zerolog.Logger
}

// NewCounter creates a counter for machine. emit is called once per
// debounced rising edge.
func NewCounter(r Reader, machine string, debounce time.Duration, emit func(logic.CounterTick), log zerolog.Logger) *Counter {
	return &Counter{
		reader:  r,
		machine: machine,
		pulses:  logic.NewPulseCounter(debounce),
		emit:    emit,
		log:     log,
	}
}

// Poll samples the line once and reports whether a tick was emitted.
func (c *Counter) Poll(now time.Time) (bool, error) {
	high, err := c.reader.Read()
	if err != nil {
		return false, fmt.Errorf("read counter line: %w", err)
	}
	if !c.pulses.Process(high, now) {
		return false, nil
	}

	tick := logic.CounterTick{
		MachineCode:      c.machine,
		ShootCountNumber: c.pulses.Pulses(),
	}
	c.log.Debug().
		Str("machine", c.machine).
		Int64("shots", tick.ShootCountNumber).
		Msg("Counter pulse")
	c.emit(tick)
	return true, nil
}

// Machine returns the machine the line belongs to.
func (c *Counter) Machine() string {
	return c.machine
}

// Pulses returns the number of ticks emitted so far.
func (c *Counter) Pulses() int64 {
	return c.pulses.Pulses()
}

// Level returns the debounced line level, empty before baseline.
func (c *Counter) Level() string {
	return string(c.pulses.Level())
}

// LastPulse returns when the latest tick was emitted, zero if none.
func (c *Counter) LastPulse() time.Time {
	return c.pulses.LastPulse()
}

// Ready reports whether the line has a stable baseline.
func (c *Counter) Ready() bool {
	return c.pulses.IsBaselined()
}
