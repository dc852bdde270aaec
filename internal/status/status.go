// Package status provides a thread-safe status tracker for the line-oee daemon.
// It is fed by the engine and read by the HTTP server and the system heartbeat.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/line-oee/internal/logic"
)

// NetworkInfo contains network state as reported by the host helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	NodeID          string
	Broker          string
	NATS            string // empty = mirror disabled
	Database        string // "memory" or "postgres"
	HTTPAddr        string
	Timezone        string
	LiveIntervalMs  int64
	ShiftIntervalMs int64
	HeartbeatMs     int64
	VisionThreshold int
	CounterMachine  string // empty = no GPIO counter
	CounterPin      int
}

// MachineState is the latest known state of one machine.
type MachineState struct {
	Code        string
	Record      logic.ProductionRecord
	HasRecord   bool
	Summary     logic.ShiftSummary
	HasSummary  bool
	Downtime    logic.DowntimeRecord
	HasDowntime bool
	LastEvent   time.Time
}

// CounterState describes the GPIO counter line.
type CounterState struct {
	Machine   string
	Pulses    int64
	Ready     bool
	Level     string
	LastPulse time.Time
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type: safe to use after the lock is released.
type Snapshot struct {
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Counts        map[string]int
	Machines      map[string]MachineState
	Counter       *CounterState
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// MachineCodes returns the tracked machine codes in sorted order.
func (s Snapshot) MachineCodes() []string {
	codes := make([]string, 0, len(s.Machines))
	for code := range s.Machines {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu       sync.RWMutex
	snap     Snapshot
	counts   map[string]int
	machines map[string]*MachineState
	now      func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		counts:   make(map[string]int),
		machines: make(map[string]*MachineState),
		now:      time.Now,
	}
}

// machine returns the entry for code, creating it. Caller holds the lock.
func (t *Tracker) machine(code string) *MachineState {
	m, ok := t.machines[code]
	if !ok {
		m = &MachineState{Code: code}
		t.machines[code] = m
	}
	return m
}

// RecordEvent counts one inbound event of kind for machine.
func (t *Tracker) RecordEvent(kind, machine string, at time.Time) {
	t.mu.Lock()
	t.counts[kind]++
	t.machine(machine).LastEvent = at
	t.mu.Unlock()
}

// RecordProduction stores the latest state of a machine's production record.
func (t *Tracker) RecordProduction(r logic.ProductionRecord) {
	t.mu.Lock()
	m := t.machine(r.MachineCode)
	m.Record = r
	m.HasRecord = true
	t.mu.Unlock()
}

// RecordSummary stores the latest shift summary of a machine.
func (t *Tracker) RecordSummary(s logic.ShiftSummary) {
	t.mu.Lock()
	m := t.machine(s.MachineCode)
	m.Summary = s
	m.HasSummary = true
	t.mu.Unlock()
}

// RecordDowntime stores the latest downtime change of a machine.
func (t *Tracker) RecordDowntime(d logic.DowntimeRecord) {
	t.mu.Lock()
	m := t.machine(d.MachineCode)
	m.Downtime = d
	m.HasDowntime = true
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// SetCounter sets the GPIO counter state.
func (t *Tracker) SetCounter(c CounterState) {
	t.mu.Lock()
	t.snap.Counter = &c
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Counts = make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		s.Counts[k] = v
	}
	s.Machines = make(map[string]MachineState, len(t.machines))
	for k, m := range t.machines {
		s.Machines[k] = *m
	}
	if t.snap.Counter != nil {
		c := *t.snap.Counter
		s.Counter = &c
	}
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
