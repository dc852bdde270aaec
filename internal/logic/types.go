// Package logic contains pure business logic for production and OEE tracking.
// This package has NO external dependencies (no MQTT, database, GPIO or clock).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// RecordStatus is the lifecycle state of a ProductionRecord.
type RecordStatus string

const (
	RecordRunning RecordStatus = "running"
	RecordClosed  RecordStatus = "closed"
)

// MachineStatus reports whether the machine is producing right now.
type MachineStatus string

const (
	MachineRunning MachineStatus = "running"
	MachineStopped MachineStatus = "stopped"
)

// DowntimeStatus is the lifecycle state of a DowntimeRecord.
type DowntimeStatus string

const (
	DowntimeActive DowntimeStatus = "active"
	DowntimeClosed DowntimeStatus = "closed"
)

// Document type discriminators carried on published payloads.
const (
	DocProductionRecord = "production_record"
	DocShiftSummary     = "shift_summary"
)

// KPIs holds the OEE factors. Values are ratios, normally in [0,1];
// performance can exceed 1 when the machine beats its ideal cycle.
type KPIs struct {
	Availability float64 `json:"availability"`
	Performance  float64 `json:"performance"`
	Quality      float64 `json:"quality"`
	OEE          float64 `json:"oee"`
}

// Stats holds the counters a ProductionRecord's KPIs are derived from.
type Stats struct {
	TotalCount       int64   `json:"total_count"`
	DefectCount      int64   `json:"defect_count"`
	GoodProduct      int64   `json:"good_product"`
	AvgCycle         float64 `json:"avg_cycle"`
	RunSeconds       int64   `json:"run_seconds"`
	ActualRunSeconds int64   `json:"actual_run_seconds"`
	DowntimeSeconds  int64   `json:"downtime_seconds"`
	IdealCycleSec    float64 `json:"idealcyclesec"`
	PlannedQty       int64   `json:"plannedqty"`
}

// ProductionRecord is one production run of one product on one machine.
type ProductionRecord struct {
	ID            string        `json:"_id"`
	MachineCode   string        `json:"machinecode"`
	ProductCode   string        `json:"productcode"`
	ShiftCode     string        `json:"shiftcode"`
	Status        RecordStatus  `json:"status"`
	MachineStatus MachineStatus `json:"machinestatus"`
	CreateTime    time.Time     `json:"createtime"`
	EndTime       *time.Time    `json:"endtime,omitempty"`
	StartShift    time.Time     `json:"startshift"`
	EndShift      time.Time     `json:"endshift"`
	BreakStart    *time.Time    `json:"breakstart,omitempty"`
	BreakEnd      *time.Time    `json:"breakend,omitempty"`
	IsSynced      bool          `json:"is_synced"`
	KPIs          KPIs          `json:"kpis"`
	Stats         Stats         `json:"stats"`
}

// IsOpen reports whether the record is still accumulating production.
func (r ProductionRecord) IsOpen() bool {
	return r.Status == RecordRunning
}

// DowntimeRecord is one interval of machine inactivity.
type DowntimeRecord struct {
	ID              string         `json:"_id"`
	MachineCode     string         `json:"machinecode"`
	StartTime       time.Time      `json:"starttime"`
	EndTime         *time.Time     `json:"endtime,omitempty"`
	DurationSeconds int64          `json:"duration_seconds"`
	DowntimeCode    string         `json:"downtimecode,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	Status          DowntimeStatus `json:"status"`
}

// ShiftSummary is the per-shift rollup of every record of one machine.
type ShiftSummary struct {
	MachineCode string    `json:"machinecode"`
	ShiftCode   string    `json:"shiftcode"`
	ShiftDate   string    `json:"shiftdate"`
	StartShift  time.Time `json:"startshift"`
	EndShift    time.Time `json:"endshift"`
	Records     int       `json:"records"`
	KPIs        KPIs      `json:"kpis"`
	Stats       Stats     `json:"stats"`
	Timestamp   time.Time `json:"timestamp"`
}

// Key returns the (shiftCode, shiftDate, machine) identity of the summary.
func (s ShiftSummary) Key() string {
	return s.ShiftCode + "|" + s.ShiftDate + "|" + s.MachineCode
}

// Tick is one counter heartbeat persisted for a machine.
type Tick struct {
	MachineCode     string    `json:"machinecode"`
	Timestamp       time.Time `json:"timestamp"`
	ShootCount      int64     `json:"shootcount"`
	ActualCycleTime float64   `json:"actualcycletime"`
}

// DefectSource identifies who reported a defect.
type DefectSource string

const (
	SourceCamera DefectSource = "CAM"
	SourceHMI    DefectSource = "HMI"
)

// Defect codes raised by the vision check.
const (
	DefectShortCount = "d1"
	DefectNGPill     = "d3"
)

// Defect is one defective unit report.
type Defect struct {
	ID          string       `json:"_id"`
	MachineCode string       `json:"machinecode"`
	Timestamp   time.Time    `json:"timestamp"`
	DefectCode  string       `json:"defectcode"`
	Source      DefectSource `json:"source"`
	NodeID      string       `json:"node_id,omitempty"`
	RawImage    []byte       `json:"raw_image,omitempty"`
}

// ChangeoverLog is the persisted record of a product switch.
type ChangeoverLog struct {
	ID             string    `json:"_id"`
	MachineCode    string    `json:"machinecode"`
	Timestamp      time.Time `json:"timestamp"`
	ProductCode    string    `json:"productcode"`
	OldProductCode string    `json:"old_productcode,omitempty"`
	Source         string    `json:"source"`
}

// Master data catalogs.

// ShiftDef is one shift of the calendar, offsets in seconds since local midnight.
type ShiftDef struct {
	Code       string `json:"shiftcode" yaml:"code"`
	Name       string `json:"shiftname" yaml:"name"`
	StartSec   int    `json:"shiftstarttime" yaml:"start"`
	EndSec     int    `json:"shiftendtime" yaml:"end"`
	BreakStart *int   `json:"breakstart,omitempty" yaml:"break_start,omitempty"`
	BreakEnd   *int   `json:"breakend,omitempty" yaml:"break_end,omitempty"`
}

// Wraps reports whether the shift crosses local midnight.
func (s ShiftDef) Wraps() bool {
	return s.StartSec > s.EndSec
}

// Product is the product master entry.
type Product struct {
	Code                 string `json:"productcode" yaml:"code"`
	Name                 string `json:"productname" yaml:"name"`
	GroupCode            string `json:"productgroupcode,omitempty" yaml:"group,omitempty"`
	PlannedQty           int64  `json:"plannedqty" yaml:"planned_qty"`
	DowntimeThresholdSec int    `json:"downtimethreshold,omitempty" yaml:"downtime_threshold,omitempty"`
}

// WorkingParameter carries the ideal cycle time of a product.
type WorkingParameter struct {
	ProductCode   string  `json:"productcode" yaml:"product"`
	IdealCycleSec float64 `json:"idealcyclesec" yaml:"ideal_cycle_sec"`
}

// DowntimeCode is an entry of the downtime reason catalog.
type DowntimeCode struct {
	Code      string `json:"downtimecode" yaml:"code"`
	Name      string `json:"downtimename" yaml:"name"`
	Type      string `json:"downtimetype,omitempty" yaml:"type,omitempty"`
	GroupCode string `json:"downtimegroupcode,omitempty" yaml:"group,omitempty"`
}

// DefectCode is an entry of the defect catalog.
type DefectCode struct {
	Code      string `json:"defectcode" yaml:"code"`
	Name      string `json:"defectname" yaml:"name"`
	GroupCode string `json:"defectgroup,omitempty" yaml:"group,omitempty"`
}

// Machine is the machine master entry.
type Machine struct {
	Code      string `json:"machinecode" yaml:"code"`
	Name      string `json:"machinename" yaml:"name"`
	GroupCode string `json:"machinegroupcode,omitempty" yaml:"group,omitempty"`
}

// MasterData bundles every catalog, used to seed a store.
type MasterData struct {
	Shifts            []ShiftDef         `json:"shifts" yaml:"shifts"`
	Products          []Product          `json:"products" yaml:"products"`
	WorkingParameters []WorkingParameter `json:"working_parameters" yaml:"working_parameters"`
	DowntimeCodes     []DowntimeCode     `json:"downtime_codes" yaml:"downtime_codes"`
	DefectCodes       []DefectCode       `json:"defect_codes" yaml:"defect_codes"`
	Machines          []Machine          `json:"machines" yaml:"machines"`
}
