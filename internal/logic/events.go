package logic

import (
	"errors"
	"strings"
)

var (
	ErrMissingMachine      = errors.New("machinecode is required")
	ErrMissingProduct      = errors.New("productcode is required")
	ErrMissingDowntimeCode = errors.New("downtimecode is required")
	ErrMissingDefectCode   = errors.New("defectcode is required")
	ErrInvalidCount        = errors.New("count must not be negative")
)

// CounterTick is one shot-counter heartbeat from a machine sensor.
type CounterTick struct {
	MachineCode      string `json:"machinecode"`
	ShootCountNumber int64  `json:"shootcountnumber"`
}

// Validate checks required fields.
func (e CounterTick) Validate() error {
	if strings.TrimSpace(e.MachineCode) == "" {
		return ErrMissingMachine
	}
	return nil
}

// VisionResult is the outcome of one camera inspection.
type VisionResult struct {
	MachineCode string `json:"machinecode"`
	Count       int    `json:"count"`
	NGPill      int    `json:"ngpill"`
	Image       []byte `json:"image,omitempty"`
}

// Validate checks required fields.
func (e VisionResult) Validate() error {
	if strings.TrimSpace(e.MachineCode) == "" {
		return ErrMissingMachine
	}
	if e.Count < 0 || e.NGPill < 0 {
		return ErrInvalidCount
	}
	return nil
}

// DefectCodeFor returns the defect raised by a vision result, or "" when the
// inspection passed. A shortfall below threshold wins over NG pills.
func (e VisionResult) DefectCodeFor(threshold int) string {
	if e.Count < threshold {
		return DefectShortCount
	}
	if e.NGPill > 0 {
		return DefectNGPill
	}
	return ""
}

// HMIDefect is a defect keyed in by an operator.
type HMIDefect struct {
	MachineCode string `json:"machinecode"`
	DefectCode  string `json:"defectcode"`
}

// Validate checks required fields.
func (e HMIDefect) Validate() error {
	if strings.TrimSpace(e.MachineCode) == "" {
		return ErrMissingMachine
	}
	if strings.TrimSpace(e.DefectCode) == "" {
		return ErrMissingDefectCode
	}
	return nil
}

// Changeover switches a machine to a new product.
type Changeover struct {
	MachineCode    string `json:"machinecode"`
	ProductCode    string `json:"productcode"`
	OldProductCode string `json:"old_productcode,omitempty"`
}

// Validate checks required fields.
func (e Changeover) Validate() error {
	if strings.TrimSpace(e.MachineCode) == "" {
		return ErrMissingMachine
	}
	if strings.TrimSpace(e.ProductCode) == "" {
		return ErrMissingProduct
	}
	return nil
}

// DowntimeReason annotates a downtime interval with a catalog code.
// ID targets a specific record; otherwise the machine's latest one is used.
type DowntimeReason struct {
	ID           string `json:"id,omitempty"`
	MachineCode  string `json:"machinecode"`
	DowntimeCode string `json:"downtimecode"`
}

// Validate checks required fields.
func (e DowntimeReason) Validate() error {
	if strings.TrimSpace(e.MachineCode) == "" && strings.TrimSpace(e.ID) == "" {
		return ErrMissingMachine
	}
	if strings.TrimSpace(e.DowntimeCode) == "" {
		return ErrMissingDowntimeCode
	}
	return nil
}

// MasterKind names a read-only catalog query.
type MasterKind string

const (
	MasterDefects         MasterKind = "defectmaster"
	MasterProducts        MasterKind = "productmaster"
	MasterDowntimeCodes   MasterKind = "downtimemaster"
	MasterMachines        MasterKind = "machinemaster"
	MasterMachineDowntime MasterKind = "downtime"
)

// MasterQuery requests a catalog or a machine's downtime history.
type MasterQuery struct {
	Kind        MasterKind `json:"-"`
	MachineCode string     `json:"machinecode,omitempty"`
}

// Validate checks required fields.
func (q MasterQuery) Validate() error {
	if q.Kind == MasterMachineDowntime && strings.TrimSpace(q.MachineCode) == "" {
		return ErrMissingMachine
	}
	return nil
}
