package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sweeney/line-oee/internal/logic"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu sync.RWMutex

	records     map[string]logic.ProductionRecord
	ticks       map[string][]logic.Tick
	defects     map[string][]logic.Defect
	changeovers []logic.ChangeoverLog
	downtimes   map[string]logic.DowntimeRecord
	summaries   map[string]logic.ShiftSummary
	master      logic.MasterData
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records:   make(map[string]logic.ProductionRecord),
		ticks:     make(map[string][]logic.Tick),
		defects:   make(map[string][]logic.Defect),
		downtimes: make(map[string]logic.DowntimeRecord),
		summaries: make(map[string]logic.ShiftSummary),
	}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Records

func (m *Memory) InsertRecord(_ context.Context, r logic.ProductionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; ok {
		return ErrDuplicateID
	}
	m.records[r.ID] = r
	return nil
}

func (m *Memory) UpsertRecord(_ context.Context, r logic.ProductionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = r
	return nil
}

func (m *Memory) GetRecord(_ context.Context, id string) (logic.ProductionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return logic.ProductionRecord{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) OpenRecord(_ context.Context, machine string) (logic.ProductionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best logic.ProductionRecord
	found := false
	for _, r := range m.records {
		if r.MachineCode != machine || !r.IsOpen() {
			continue
		}
		if !found || r.CreateTime.After(best.CreateTime) {
			best, found = r, true
		}
	}
	if !found {
		return logic.ProductionRecord{}, ErrNotFound
	}
	return best, nil
}

func (m *Memory) OpenRecords(_ context.Context) ([]logic.ProductionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []logic.ProductionRecord
	for _, r := range m.records {
		if r.IsOpen() {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

func (m *Memory) CountRecordsWithPrefix(_ context.Context, prefix string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := recordSeqPrefix(prefix)
	n := 0
	for id := range m.records {
		if strings.HasPrefix(id, p) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ShiftRecords(_ context.Context, machine, shiftCode string, since time.Time) ([]logic.ProductionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []logic.ProductionRecord
	for _, r := range m.records {
		if r.MachineCode == machine && r.ShiftCode == shiftCode && !r.CreateTime.Before(since) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

func sortRecords(rs []logic.ProductionRecord) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].CreateTime.Equal(rs[j].CreateTime) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].CreateTime.Before(rs[j].CreateTime)
	})
}

// Events

func (m *Memory) InsertTick(_ context.Context, t logic.Tick) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks[t.MachineCode] = append(m.ticks[t.MachineCode], t)
	return nil
}

func (m *Memory) LastTick(_ context.Context, machine string) (logic.Tick, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ticks := m.ticks[machine]
	if len(ticks) == 0 {
		return logic.Tick{}, ErrNotFound
	}
	last := ticks[0]
	for _, t := range ticks[1:] {
		if !t.Timestamp.Before(last.Timestamp) {
			last = t
		}
	}
	return last, nil
}

func (m *Memory) CountTicks(_ context.Context, machine string, r Range) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, t := range m.ticks[machine] {
		if r.Contains(t.Timestamp) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) InsertDefect(_ context.Context, d logic.Defect) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defects[d.MachineCode] = append(m.defects[d.MachineCode], d)
	return nil
}

func (m *Memory) CountDefects(_ context.Context, machine string, r Range) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, d := range m.defects[machine] {
		if r.Contains(d.Timestamp) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) InsertChangeover(_ context.Context, c logic.ChangeoverLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeovers = append(m.changeovers, c)
	return nil
}

// Changeovers returns a copy of the changeover log.
func (m *Memory) Changeovers() []logic.ChangeoverLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]logic.ChangeoverLog, len(m.changeovers))
	copy(out, m.changeovers)
	return out
}

// Defects returns a copy of a machine's defect log.
func (m *Memory) Defects(machine string) []logic.Defect {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]logic.Defect, len(m.defects[machine]))
	copy(out, m.defects[machine])
	return out
}

// Downtime

func (m *Memory) InsertDowntime(_ context.Context, d logic.DowntimeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.downtimes[d.ID]; ok {
		return ErrDuplicateID
	}
	m.downtimes[d.ID] = d
	return nil
}

func (m *Memory) UpdateDowntime(_ context.Context, d logic.DowntimeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.downtimes[d.ID]; !ok {
		return ErrNotFound
	}
	m.downtimes[d.ID] = d
	return nil
}

func (m *Memory) GetDowntime(_ context.Context, id string) (logic.DowntimeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.downtimes[id]
	if !ok {
		return logic.DowntimeRecord{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) FindDowntimeAt(_ context.Context, machine string, start time.Time) (logic.DowntimeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.downtimes {
		if d.MachineCode == machine && d.StartTime.Equal(start) {
			return d, nil
		}
	}
	return logic.DowntimeRecord{}, ErrNotFound
}

func (m *Memory) ActiveDowntimes(_ context.Context, machine string) ([]logic.DowntimeRecord, error) {
	return m.filterDowntimes(func(d logic.DowntimeRecord) bool {
		return d.MachineCode == machine && d.Status == logic.DowntimeActive
	}), nil
}

func (m *Memory) LatestDowntime(_ context.Context, machine string) (logic.DowntimeRecord, error) {
	all := m.filterDowntimes(func(d logic.DowntimeRecord) bool { return d.MachineCode == machine })
	if len(all) == 0 {
		return logic.DowntimeRecord{}, ErrNotFound
	}
	return all[len(all)-1], nil
}

func (m *Memory) DowntimesOverlapping(_ context.Context, machine string, start, end time.Time) ([]logic.DowntimeRecord, error) {
	return m.filterDowntimes(func(d logic.DowntimeRecord) bool {
		if d.MachineCode != machine || !d.StartTime.Before(end) {
			return false
		}
		return d.Status == logic.DowntimeActive || d.EndTime == nil || d.EndTime.After(start)
	}), nil
}

func (m *Memory) ListDowntimes(_ context.Context, machine string, limit int) ([]logic.DowntimeRecord, error) {
	all := m.filterDowntimes(func(d logic.DowntimeRecord) bool { return d.MachineCode == machine })
	out := make([]logic.DowntimeRecord, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, all[i])
	}
	return out, nil
}

// filterDowntimes returns matching records ordered by start time.
func (m *Memory) filterDowntimes(keep func(logic.DowntimeRecord) bool) []logic.DowntimeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []logic.DowntimeRecord
	for _, d := range m.downtimes {
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// Summaries

func (m *Memory) UpsertSummary(_ context.Context, s logic.ShiftSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[s.Key()] = s
	return nil
}

func (m *Memory) GetSummary(_ context.Context, shiftCode, shiftDate, machine string) (logic.ShiftSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := logic.ShiftSummary{ShiftCode: shiftCode, ShiftDate: shiftDate, MachineCode: machine}.Key()
	s, ok := m.summaries[key]
	if !ok {
		return logic.ShiftSummary{}, ErrNotFound
	}
	return s, nil
}

// Master data

func (m *Memory) Shifts(_ context.Context) ([]logic.ShiftDef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]logic.ShiftDef(nil), m.master.Shifts...), nil
}

func (m *Memory) Product(_ context.Context, code string) (logic.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lookup(m.master.Products, code, func(p logic.Product) string { return p.Code })
}

func (m *Memory) Products(_ context.Context) ([]logic.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]logic.Product(nil), m.master.Products...), nil
}

func (m *Memory) WorkingParameter(_ context.Context, productCode string) (logic.WorkingParameter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lookup(m.master.WorkingParameters, productCode, func(w logic.WorkingParameter) string { return w.ProductCode })
}

func (m *Memory) DowntimeCode(_ context.Context, code string) (logic.DowntimeCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lookup(m.master.DowntimeCodes, code, func(d logic.DowntimeCode) string { return d.Code })
}

func (m *Memory) DowntimeCodes(_ context.Context) ([]logic.DowntimeCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]logic.DowntimeCode(nil), m.master.DowntimeCodes...), nil
}

func (m *Memory) DefectCodes(_ context.Context) ([]logic.DefectCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]logic.DefectCode(nil), m.master.DefectCodes...), nil
}

func (m *Memory) Machines(_ context.Context) ([]logic.Machine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]logic.Machine(nil), m.master.Machines...), nil
}

func (m *Memory) SeedMaster(_ context.Context, md logic.MasterData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.master.Shifts = mergeByCode(m.master.Shifts, md.Shifts, func(s logic.ShiftDef) string { return s.Code })
	m.master.Products = mergeByCode(m.master.Products, md.Products, func(p logic.Product) string { return p.Code })
	m.master.WorkingParameters = mergeByCode(m.master.WorkingParameters, md.WorkingParameters, func(w logic.WorkingParameter) string { return w.ProductCode })
	m.master.DowntimeCodes = mergeByCode(m.master.DowntimeCodes, md.DowntimeCodes, func(d logic.DowntimeCode) string { return d.Code })
	m.master.DefectCodes = mergeByCode(m.master.DefectCodes, md.DefectCodes, func(d logic.DefectCode) string { return d.Code })
	m.master.Machines = mergeByCode(m.master.Machines, md.Machines, func(mc logic.Machine) string { return mc.Code })
	return nil
}

// lookup finds an entry by exact code, then case-insensitively.
func lookup[T any](items []T, code string, key func(T) string) (T, error) {
	for _, it := range items {
		if key(it) == code {
			return it, nil
		}
	}
	for _, it := range items {
		if strings.EqualFold(key(it), code) {
			return it, nil
		}
	}
	var zero T
	return zero, ErrNotFound
}

// mergeByCode replaces entries with matching codes and appends the rest,
// keeping the existing order.
func mergeByCode[T any](cur, add []T, key func(T) string) []T {
	idx := make(map[string]int, len(cur))
	for i, it := range cur {
		idx[key(it)] = i
	}
	for _, it := range add {
		if i, ok := idx[key(it)]; ok {
			cur[i] = it
			continue
		}
		idx[key(it)] = len(cur)
		cur = append(cur, it)
	}
	return cur
}
