package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	NodeID        string         `json:"node_id"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Counts        map[string]int `json:"event_counts"`
	Machines      []MachineJSON  `json:"machines"`
	Counter       *CounterJSON   `json:"counter,omitempty"`
	Network       *NetworkJSON   `json:"network,omitempty"`
	Config        ConfigJSON     `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// MachineJSON is the JSON representation of one machine.
type MachineJSON struct {
	Machine       string        `json:"machinecode"`
	RecordID      string        `json:"record_id,omitempty"`
	Product       string        `json:"productcode,omitempty"`
	Shift         string        `json:"shiftcode,omitempty"`
	RecordStatus  string        `json:"record_status,omitempty"`
	MachineStatus string        `json:"machinestatus,omitempty"`
	TotalCount    int64         `json:"total_count"`
	DefectCount   int64         `json:"defect_count"`
	Availability  float64       `json:"availability"`
	Performance   float64       `json:"performance"`
	Quality       float64       `json:"quality"`
	OEE           float64       `json:"oee"`
	Downtime      *DowntimeJSON `json:"downtime,omitempty"`
	Summary       *SummaryJSON  `json:"shift_summary,omitempty"`
	LastEvent     string        `json:"last_event,omitempty"`
}

// DowntimeJSON is the latest downtime of a machine.
type DowntimeJSON struct {
	ID      string `json:"_id"`
	Status  string `json:"status"`
	Start   string `json:"starttime"`
	Seconds int64  `json:"duration_seconds"`
	Code    string `json:"downtimecode,omitempty"`
}

// SummaryJSON is the current shift rollup of a machine.
type SummaryJSON struct {
	Shift      string  `json:"shiftcode"`
	Date       string  `json:"shiftdate"`
	Records    int     `json:"records"`
	TotalCount int64   `json:"total_count"`
	OEE        float64 `json:"oee"`
}

// CounterJSON is the JSON representation of the GPIO counter.
type CounterJSON struct {
	Machine   string `json:"machinecode"`
	Pulses    int64  `json:"pulses"`
	Ready     bool   `json:"ready"`
	Level     string `json:"level,omitempty"`
	LastPulse string `json:"last_pulse,omitempty"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Broker          string `json:"broker"`
	NATS            string `json:"nats,omitempty"`
	Database        string `json:"database"`
	HTTPAddr        string `json:"http_addr"`
	Timezone        string `json:"timezone"`
	LiveIntervalMs  int64  `json:"live_interval_ms"`
	ShiftIntervalMs int64  `json:"shift_interval_ms"`
	HeartbeatMs     int64  `json:"heartbeat_ms"`
	VisionThreshold int    `json:"vision_threshold"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// BuildMachine converts one machine state to its JSON form.
func BuildMachine(m MachineState) MachineJSON {
	out := MachineJSON{Machine: m.Code, LastEvent: formatTime(m.LastEvent)}
	if m.HasRecord {
		r := m.Record
		out.RecordID = r.ID
		out.Product = r.ProductCode
		out.Shift = r.ShiftCode
		out.RecordStatus = string(r.Status)
		out.MachineStatus = string(r.MachineStatus)
		out.TotalCount = r.Stats.TotalCount
		out.DefectCount = r.Stats.DefectCount
		out.Availability = r.KPIs.Availability
		out.Performance = r.KPIs.Performance
		out.Quality = r.KPIs.Quality
		out.OEE = r.KPIs.OEE
	}
	if m.HasDowntime {
		d := m.Downtime
		out.Downtime = &DowntimeJSON{
			ID:      d.ID,
			Status:  string(d.Status),
			Start:   formatTime(d.StartTime),
			Seconds: d.DurationSeconds,
			Code:    d.DowntimeCode,
		}
	}
	if m.HasSummary {
		s := m.Summary
		out.Summary = &SummaryJSON{
			Shift:      s.ShiftCode,
			Date:       s.ShiftDate,
			Records:    s.Records,
			TotalCount: s.Stats.TotalCount,
			OEE:        s.KPIs.OEE,
		}
	}
	return out
}

func buildInner(snap Snapshot) StatusInner {
	counts := snap.Counts
	if counts == nil {
		counts = map[string]int{}
	}
	inner := StatusInner{
		NodeID:        snap.Config.NodeID,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts:        counts,
		Machines:      make([]MachineJSON, 0, len(snap.Machines)),
		Config: ConfigJSON{
			Broker:          snap.Config.Broker,
			NATS:            snap.Config.NATS,
			Database:        snap.Config.Database,
			HTTPAddr:        snap.Config.HTTPAddr,
			Timezone:        snap.Config.Timezone,
			LiveIntervalMs:  snap.Config.LiveIntervalMs,
			ShiftIntervalMs: snap.Config.ShiftIntervalMs,
			HeartbeatMs:     snap.Config.HeartbeatMs,
			VisionThreshold: snap.Config.VisionThreshold,
		},
	}
	for _, code := range snap.MachineCodes() {
		inner.Machines = append(inner.Machines, BuildMachine(snap.Machines[code]))
	}
	if snap.Counter != nil {
		inner.Counter = &CounterJSON{
			Machine:   snap.Counter.Machine,
			Pulses:    snap.Counter.Pulses,
			Ready:     snap.Counter.Ready,
			Level:     snap.Counter.Level,
			LastPulse: formatTime(snap.Counter.LastPulse),
		}
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
