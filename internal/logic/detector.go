package logic

import "time"

// Level is the debounced logical level of a counter input line.
type Level string

const (
	LevelHigh Level = "HIGH"
	LevelLow  Level = "LOW"
)

// lineState tracks debounce state for a single input line.
type lineState struct {
	// Current stable (debounced) level
	Stable Level
	// Pending level during debounce
	Pending Level
	// Time when pending level was first observed
	PendingSince time.Time
	// Whether a baseline level has been established
	Baselined bool
}

// PulseCounter turns raw samples of a shot-counter line into debounced
// pulses. One pulse is a stable LOW to HIGH transition.
type PulseCounter struct {
	debounceDuration time.Duration
	line             lineState
	pulses           int64
	lastPulse        time.Time
}

// NewPulseCounter creates a counter with the given debounce duration.
func NewPulseCounter(debounceDuration time.Duration) *PulseCounter {
	return &PulseCounter{debounceDuration: debounceDuration}
}

// Process takes a new sample and reports whether it completed a pulse.
// No pulses are reported until a baseline level is established.
func (p *PulseCounter) Process(high bool, now time.Time) bool {
	level := LevelLow
	if high {
		level = LevelHigh
	}

	ln := &p.line
	if !ln.Baselined {
		if ln.Pending != level {
			ln.Pending = level
			ln.PendingSince = now
			return false
		}
		if now.Sub(ln.PendingSince) >= p.debounceDuration {
			ln.Stable = level
			ln.Baselined = true
			ln.Pending = ""
		}
		return false
	}

	if level == ln.Stable {
		ln.Pending = ""
		return false
	}

	if ln.Pending != level {
		ln.Pending = level
		ln.PendingSince = now
		return false
	}

	if now.Sub(ln.PendingSince) < p.debounceDuration {
		return false
	}

	ln.Stable = level
	ln.Pending = ""
	if level != LevelHigh {
		return false
	}
	p.pulses++
	p.lastPulse = now
	return true
}

// IsBaselined returns whether the line has a stable baseline.
func (p *PulseCounter) IsBaselined() bool {
	return p.line.Baselined
}

// Level returns the current stable level, empty before baseline.
func (p *PulseCounter) Level() Level {
	return p.line.Stable
}

// Pulses returns the number of pulses counted since creation.
func (p *PulseCounter) Pulses() int64 {
	return p.pulses
}

// LastPulse returns the time of the most recent pulse.
func (p *PulseCounter) LastPulse() time.Time {
	return p.lastPulse
}
