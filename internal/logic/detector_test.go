package logic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPulseCounter(t *testing.T) {
	p := NewPulseCounter(20 * time.Millisecond)
	require.NotNil(t, p)
	assert.Equal(t, 20*time.Millisecond, p.debounceDuration)
	assert.False(t, p.IsBaselined())
	assert.Equal(t, Level(""), p.Level())
	assert.Zero(t, p.Pulses())
}

func TestPulseBaselineEstablishment(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewPulseCounter(20 * time.Millisecond)

	assert.False(t, p.Process(false, now))
	assert.False(t, p.IsBaselined(), "should not be baselined after first sample")

	assert.False(t, p.Process(false, now.Add(10*time.Millisecond)))
	assert.False(t, p.IsBaselined(), "should not be baselined before debounce period")

	assert.False(t, p.Process(false, now.Add(20*time.Millisecond)))
	assert.True(t, p.IsBaselined())
	assert.Equal(t, LevelLow, p.Level())
}

func TestPulseBaselineHighDoesNotCount(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewPulseCounter(20 * time.Millisecond)

	p.Process(true, now)
	p.Process(true, now.Add(20*time.Millisecond))

	require.True(t, p.IsBaselined())
	assert.Equal(t, LevelHigh, p.Level())
	assert.Zero(t, p.Pulses(), "a line that starts high is not a pulse")
}

func TestPulseBaselineResetOnChange(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewPulseCounter(20 * time.Millisecond)

	p.Process(true, now)
	p.Process(false, now.Add(10*time.Millisecond))
	p.Process(false, now.Add(20*time.Millisecond))
	assert.False(t, p.IsBaselined(), "timer restarts when the level changes during baseline")

	p.Process(false, now.Add(30*time.Millisecond))
	assert.True(t, p.IsBaselined())
	assert.Equal(t, LevelLow, p.Level())
}

func TestPulseRisingEdgeCounts(t *testing.T) {
	p := baselinedPulseCounter(t)
	now := time.Date(2026, 1, 1, 12, 1, 0, 0, time.UTC)

	assert.False(t, p.Process(true, now))
	assert.False(t, p.Process(true, now.Add(19*time.Millisecond)))
	assert.True(t, p.Process(true, now.Add(20*time.Millisecond)), "should pulse at exactly the debounce duration")
	assert.Equal(t, int64(1), p.Pulses())
	assert.Equal(t, now.Add(20*time.Millisecond), p.LastPulse())

	// Staying high is not another pulse.
	assert.False(t, p.Process(true, now.Add(40*time.Millisecond)))
	assert.Equal(t, int64(1), p.Pulses())
}

func TestPulseFallingEdgeDoesNotCount(t *testing.T) {
	p := baselinedPulseCounter(t)
	now := time.Date(2026, 1, 1, 12, 1, 0, 0, time.UTC)

	p.Process(true, now)
	require.True(t, p.Process(true, now.Add(20*time.Millisecond)))

	p.Process(false, now.Add(30*time.Millisecond))
	assert.False(t, p.Process(false, now.Add(50*time.Millisecond)))
	assert.Equal(t, LevelLow, p.Level())
	assert.Equal(t, int64(1), p.Pulses())
}

func TestPulseBounceShorterThanDebounce(t *testing.T) {
	p := baselinedPulseCounter(t)
	now := time.Date(2026, 1, 1, 12, 1, 0, 0, time.UTC)

	p.Process(true, now)
	p.Process(false, now.Add(5*time.Millisecond))
	assert.False(t, p.Process(false, now.Add(30*time.Millisecond)))
	assert.Zero(t, p.Pulses())
	assert.Equal(t, LevelLow, p.Level())
}

func TestPulseBackToBack(t *testing.T) {
	p := baselinedPulseCounter(t)
	now := time.Date(2026, 1, 1, 12, 1, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		base := now.Add(time.Duration(i) * 100 * time.Millisecond)
		p.Process(true, base)
		p.Process(true, base.Add(20*time.Millisecond))
		p.Process(false, base.Add(50*time.Millisecond))
		p.Process(false, base.Add(70*time.Millisecond))
	}
	assert.Equal(t, int64(5), p.Pulses())
}

// baselinedPulseCounter creates a counter whose line is stable LOW.
func baselinedPulseCounter(t *testing.T) *PulseCounter {
	t.Helper()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewPulseCounter(20 * time.Millisecond)
	p.Process(false, now)
	p.Process(false, now.Add(20*time.Millisecond))
	require.True(t, p.IsBaselined(), "failed to establish baseline")
	return p
}
