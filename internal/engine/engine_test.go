package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/line-oee/internal/logic"
	"github.com/sweeney/line-oee/internal/mqtt"
	"github.com/sweeney/line-oee/internal/store"
)

// testClock is a settable time source.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *testClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

func intp(v int) *int { return &v }

func testMaster() logic.MasterData {
	return logic.MasterData{
		Shifts: []logic.ShiftDef{
			{Code: "A", StartSec: 6 * 3600, EndSec: 14*3600 - 1, BreakStart: intp(10 * 3600), BreakEnd: intp(10*3600 + 1800)},
			{Code: "B", StartSec: 14 * 3600, EndSec: 22*3600 - 1},
			{Code: "C", StartSec: 22 * 3600, EndSec: 6*3600 - 1},
		},
		Products: []logic.Product{
			{Code: "P1", Name: "Tablet 10mg", PlannedQty: 1000},
			{Code: "P2", Name: "Tablet 20mg", PlannedQty: 500, DowntimeThresholdSec: 120},
		},
		WorkingParameters: []logic.WorkingParameter{
			{ProductCode: "P1", IdealCycleSec: 8},
			{ProductCode: "P2", IdealCycleSec: 5},
		},
		DowntimeCodes: []logic.DowntimeCode{
			{Code: "DT01", Name: "Material shortage", Type: "unplanned"},
			{Code: "DT02", Name: "Cleaning", Type: "planned"},
		},
		DefectCodes: []logic.DefectCode{
			{Code: "d1", Name: "Short count"},
			{Code: "d3", Name: "NG pill"},
		},
		Machines: []logic.Machine{{Code: "M1", Name: "Press 1"}, {Code: "M2", Name: "Press 2"}},
	}
}

type harness struct {
	eng   *Engine
	mem   *store.Memory
	pub   *mqtt.FakePublisher
	clock *testClock
}

// t0 is 07:00 UTC, inside shift A.
var t0 = time.Date(2026, 3, 7, 7, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := store.NewMemory()
	require.NoError(t, mem.SeedMaster(context.Background(), testMaster()))

	clock := &testClock{t: t0}
	pub := mqtt.NewFakePublisher()
	var seq int
	var mu sync.Mutex
	eng := New(mem, pub, Config{
		NodeID:          "node-1",
		VisionThreshold: 12,
		Location:        time.UTC,
	}, zerolog.Nop(),
		WithClock(clock.Now),
		WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%d", seq)
		}),
	)
	return &harness{eng: eng, mem: mem, pub: pub, clock: clock}
}

func (h *harness) tickAt(t *testing.T, machine string, at time.Time) {
	t.Helper()
	h.clock.Set(at)
	require.NoError(t, h.eng.HandleCounterTick(context.Background(), logic.CounterTick{MachineCode: machine}))
}

func (h *harness) open(t *testing.T, machine string) logic.ProductionRecord {
	t.Helper()
	r, err := h.mem.OpenRecord(context.Background(), machine)
	require.NoError(t, err)
	return r
}

func TestNewDefaults(t *testing.T) {
	e := New(store.NewMemory(), nil, Config{}, zerolog.Nop())
	assert.Equal(t, time.Local, e.cfg.Location)
	assert.Equal(t, logic.DefaultDowntimeThreshold, e.cfg.DefaultDowntimeThreshold)
	assert.NoError(t, e.pub.PublishRecord(logic.ProductionRecord{}))
	assert.NotEmpty(t, e.newID())
}

func TestCurrentShift(t *testing.T) {
	h := newHarness(t)
	w, err := h.eng.CurrentShift(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A", w.Code)
	assert.Equal(t, time.Date(2026, 3, 7, 6, 0, 0, 0, time.UTC), w.Start)

	h.clock.Set(time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC))
	w, err = h.eng.CurrentShift(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "C", w.Code)
	assert.Equal(t, time.Date(2026, 3, 7, 22, 0, 0, 0, time.UTC), w.Start)
}

func TestMultiPublisher(t *testing.T) {
	a := mqtt.NewFakePublisher()
	b := mqtt.NewFakePublisher()
	b.PublishError = errors.New("nats down")
	m := MultiPublisher{a, b}

	err := m.PublishRecord(logic.ProductionRecord{ID: "r1"})
	assert.ErrorContains(t, err, "nats down")
	assert.Equal(t, 1, a.RecordCount(), "healthy publisher still receives the record")

	err = m.PublishSummary(logic.ShiftSummary{MachineCode: "M1"})
	assert.Error(t, err)
	_, ok := a.LastSummary()
	assert.True(t, ok)

	assert.NoError(t, MultiPublisher{}.PublishRecord(logic.ProductionRecord{}))
}

type countingRecorder struct {
	mu        sync.Mutex
	events    map[string]int
	records   int
	summaries int
	downtimes []logic.DowntimeRecord
}

func (r *countingRecorder) RecordEvent(kind, _ string, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[string]int)
	}
	r.events[kind]++
}

func (r *countingRecorder) RecordProduction(logic.ProductionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records++
}

func (r *countingRecorder) RecordSummary(logic.ShiftSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries++
}

func (r *countingRecorder) RecordDowntime(d logic.DowntimeRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downtimes = append(r.downtimes, d)
}

func TestRecorderObservesActivity(t *testing.T) {
	h := newHarness(t)
	rec := &countingRecorder{}
	WithRecorder(rec)(h.eng)
	ctx := context.Background()

	require.NoError(t, h.eng.HandleChangeover(ctx, logic.Changeover{MachineCode: "M1", ProductCode: "P1"}))
	h.tickAt(t, "M1", t0.Add(10*time.Second))
	h.clock.Set(t0.Add(400 * time.Second))
	_, err := h.eng.CheckAndOpenDowntime(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, rec.events[EventChangeover])
	assert.Equal(t, 1, rec.events[EventCounter])
	assert.GreaterOrEqual(t, rec.records, 2)
	assert.GreaterOrEqual(t, rec.summaries, 1)
	require.Len(t, rec.downtimes, 1)
	assert.Equal(t, logic.DowntimeActive, rec.downtimes[0].Status)
}

func TestPublishFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	h.pub.PublishError = errors.New("broker down")

	r, err := h.eng.InitializeRecord(context.Background(), "M1", "P1")
	require.NoError(t, err)

	stored, err := h.mem.GetRecord(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, logic.RecordRunning, stored.Status)
	assert.Zero(t, h.pub.RecordCount())
}

func TestConcurrentTicksSameMachine(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.eng.InitializeRecord(ctx, "M1", "P1")
	require.NoError(t, err)
	h.clock.Set(t0.Add(time.Minute))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.eng.HandleCounterTick(ctx, logic.CounterTick{MachineCode: "M1"}))
		}()
	}
	wg.Wait()

	r := h.open(t, "M1")
	assert.EqualValues(t, 20, r.Stats.TotalCount)
}
