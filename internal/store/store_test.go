package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/line-oee/internal/logic"
)

// runStoreSuite exercises the behaviour every Store implementation shares.
// Machine codes are made unique per run so a persistent database can be reused.
func runStoreSuite(t *testing.T, s Store) {
	t.Helper()
	suffix := uuid.NewString()[:8]
	machine := func(name string) string { return name + "-" + suffix }

	t.Run("records", func(t *testing.T) { testRecords(t, s, machine("M1"), machine("M10")) })
	t.Run("events", func(t *testing.T) { testEvents(t, s, machine("M2")) })
	t.Run("downtime", func(t *testing.T) { testDowntime(t, s, machine("M3")) })
	t.Run("summaries", func(t *testing.T) { testSummaries(t, s, machine("M4")) })
	t.Run("master", func(t *testing.T) { testMaster(t, s, suffix) })
}

func testRecords(t *testing.T, s Store, m1, m10 string) {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	prefix := logic.RecordPrefix("P1", m1, t0)
	n, err := s.CountRecordsWithPrefix(ctx, prefix)
	require.NoError(t, err)
	assert.Zero(t, n)

	first := logic.ProductionRecord{
		ID: logic.RecordID(prefix, 1), MachineCode: m1, ProductCode: "P1", ShiftCode: "A",
		Status: logic.RecordClosed, CreateTime: t0,
	}
	second := first
	second.ID = logic.RecordID(prefix, 2)
	second.Status = logic.RecordRunning
	second.CreateTime = t0.Add(time.Hour)
	other := logic.ProductionRecord{
		ID: logic.RecordID(logic.RecordPrefix("P1", m10, t0), 1), MachineCode: m10, ProductCode: "P1",
		ShiftCode: "A", Status: logic.RecordRunning, CreateTime: t0,
	}

	require.NoError(t, s.InsertRecord(ctx, first))
	require.NoError(t, s.InsertRecord(ctx, second))
	require.NoError(t, s.InsertRecord(ctx, other))
	assert.ErrorIs(t, s.InsertRecord(ctx, first), ErrDuplicateID)

	n, err = s.CountRecordsWithPrefix(ctx, prefix)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "records of %s must not be counted", m10)

	open, err := s.OpenRecord(ctx, m1)
	require.NoError(t, err)
	assert.Equal(t, second.ID, open.ID)

	second.Status = logic.RecordClosed
	second.Stats.TotalCount = 42
	require.NoError(t, s.UpsertRecord(ctx, second))

	_, err = s.OpenRecord(ctx, m1)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetRecord(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Stats.TotalCount)
	assert.True(t, got.CreateTime.Equal(second.CreateTime))

	_, err = s.GetRecord(ctx, "missing-"+m1)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.OpenRecords(ctx)
	require.NoError(t, err)
	assert.Contains(t, recordIDs(all), other.ID)
	assert.NotContains(t, recordIDs(all), second.ID)

	shift, err := s.ShiftRecords(ctx, m1, "A", t0)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, recordIDs(shift))

	shift, err = s.ShiftRecords(ctx, m1, "A", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, recordIDs(shift))
}

func recordIDs(rs []logic.ProductionRecord) []string {
	ids := make([]string, 0, len(rs))
	for _, r := range rs {
		ids = append(ids, r.ID)
	}
	return ids
}

func testEvents(t *testing.T, s Store, m string) {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	_, err := s.LastTick(ctx, m)
	assert.ErrorIs(t, err, ErrNotFound)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.InsertTick(ctx, logic.Tick{MachineCode: m, Timestamp: t0.Add(time.Duration(i) * 10 * time.Second), ShootCount: int64(i)}))
	}
	last, err := s.LastTick(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, int64(4), last.ShootCount)

	n, err := s.CountTicks(ctx, m, Range{From: t0, To: t0.Add(40 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n, "end is exclusive")

	n, err = s.CountTicks(ctx, m, Range{From: t0, To: t0.Add(40 * time.Second), Inclusive: true})
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	for i, code := range []string{logic.DefectShortCount, logic.DefectNGPill} {
		require.NoError(t, s.InsertDefect(ctx, logic.Defect{
			ID: uuid.NewString(), MachineCode: m, Timestamp: t0.Add(time.Duration(i) * time.Minute),
			DefectCode: code, Source: logic.SourceCamera, RawImage: []byte{0xff, 0xd8},
		}))
	}
	n, err = s.CountDefects(ctx, m, Range{From: t0, To: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.InsertChangeover(ctx, logic.ChangeoverLog{
		ID: uuid.NewString(), MachineCode: m, Timestamp: t0, ProductCode: "P2", Source: "HMI",
	}))
}

func testDowntime(t *testing.T, s Store, m string) {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	end := t0.Add(100 * time.Second)

	closed := logic.DowntimeRecord{ID: uuid.NewString(), MachineCode: m, StartTime: t0, EndTime: &end, DurationSeconds: 100, Status: logic.DowntimeClosed}
	active := logic.DowntimeRecord{ID: uuid.NewString(), MachineCode: m, StartTime: t0.Add(time.Hour), Status: logic.DowntimeActive}
	require.NoError(t, s.InsertDowntime(ctx, closed))
	require.NoError(t, s.InsertDowntime(ctx, active))
	assert.ErrorIs(t, s.InsertDowntime(ctx, active), ErrDuplicateID)

	got, err := s.FindDowntimeAt(ctx, m, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, active.ID, got.ID)
	_, err = s.FindDowntimeAt(ctx, m, t0.Add(time.Second))
	assert.ErrorIs(t, err, ErrNotFound)

	act, err := s.ActiveDowntimes(ctx, m)
	require.NoError(t, err)
	require.Len(t, act, 1)
	assert.Equal(t, active.ID, act[0].ID)

	latest, err := s.LatestDowntime(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, active.ID, latest.ID)

	over, err := s.DowntimesOverlapping(ctx, m, t0.Add(50*time.Second), t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, over, 2)
	over, err = s.DowntimesOverlapping(ctx, m, t0.Add(100*time.Second), t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, over, "closed record ending at range start does not overlap")

	logic.CloseDowntime(&active, t0.Add(time.Hour+400*time.Second))
	active.DowntimeCode = "DT01"
	require.NoError(t, s.UpdateDowntime(ctx, active))
	got, err = s.GetDowntime(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, logic.DowntimeClosed, got.Status)
	assert.Equal(t, int64(400), got.DurationSeconds)
	assert.Equal(t, "DT01", got.DowntimeCode)

	assert.ErrorIs(t, s.UpdateDowntime(ctx, logic.DowntimeRecord{ID: uuid.NewString(), MachineCode: m}), ErrNotFound)

	list, err := s.ListDowntimes(ctx, m, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, active.ID, list[0].ID)
	list, err = s.ListDowntimes(ctx, m, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func testSummaries(t *testing.T, s Store, m string) {
	ctx := context.Background()
	sum := logic.ShiftSummary{MachineCode: m, ShiftCode: "A", ShiftDate: "2026-03-10", Records: 1}

	_, err := s.GetSummary(ctx, "A", "2026-03-10", m)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpsertSummary(ctx, sum))
	sum.Records = 3
	require.NoError(t, s.UpsertSummary(ctx, sum))

	got, err := s.GetSummary(ctx, "A", "2026-03-10", m)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Records)
}

func testMaster(t *testing.T, s Store, suffix string) {
	ctx := context.Background()
	code := "Prod-" + suffix
	dt := "DT-" + suffix
	md := logic.MasterData{
		Products:          []logic.Product{{Code: code, Name: "Tablet", PlannedQty: 500, DowntimeThresholdSec: 120}},
		WorkingParameters: []logic.WorkingParameter{{ProductCode: code, IdealCycleSec: 8}},
		DowntimeCodes:     []logic.DowntimeCode{{Code: dt, Name: "Jam"}},
		DefectCodes:       []logic.DefectCode{{Code: "d1-" + suffix, Name: "Short count"}},
		Machines:          []logic.Machine{{Code: "M-" + suffix, Name: "Blister 1"}},
	}
	require.NoError(t, s.SeedMaster(ctx, md))

	p, err := s.Product(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, int64(500), p.PlannedQty)

	p, err = s.Product(ctx, "PROD-"+suffix)
	require.NoError(t, err, "falls back to case-insensitive match")
	assert.Equal(t, code, p.Code)

	wp, err := s.WorkingParameter(ctx, "prod-"+suffix)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, wp.IdealCycleSec, 1e-9)

	d, err := s.DowntimeCode(ctx, "dt-"+suffix)
	require.NoError(t, err)
	assert.Equal(t, "Jam", d.Name)

	_, err = s.DowntimeCode(ctx, "nope-"+suffix)
	assert.ErrorIs(t, err, ErrNotFound)

	products, err := s.Products(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, products)

	machines, err := s.Machines(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, machines)
}
