package logic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVisionDefectCodeFor(t *testing.T) {
	tests := []struct {
		name   string
		result VisionResult
		want   string
	}{
		{"short count", VisionResult{Count: 10, NGPill: 0}, DefectShortCount},
		{"short count wins over ng", VisionResult{Count: 10, NGPill: 2}, DefectShortCount},
		{"ng pill", VisionResult{Count: 12, NGPill: 1}, DefectNGPill},
		{"pass", VisionResult{Count: 12}, ""},
		{"over threshold pass", VisionResult{Count: 14}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.DefectCodeFor(12))
		})
	}
}

func TestEventValidation(t *testing.T) {
	assert.ErrorIs(t, CounterTick{}.Validate(), ErrMissingMachine)
	assert.NoError(t, CounterTick{MachineCode: "M1"}.Validate())

	assert.ErrorIs(t, VisionResult{Count: 1}.Validate(), ErrMissingMachine)
	assert.ErrorIs(t, VisionResult{MachineCode: "M1", Count: -1}.Validate(), ErrInvalidCount)

	assert.ErrorIs(t, HMIDefect{MachineCode: "M1", DefectCode: " "}.Validate(), ErrMissingDefectCode)
	assert.NoError(t, HMIDefect{MachineCode: "M1", DefectCode: "d2"}.Validate())

	assert.ErrorIs(t, Changeover{MachineCode: "M1"}.Validate(), ErrMissingProduct)
	assert.ErrorIs(t, Changeover{ProductCode: "P1"}.Validate(), ErrMissingMachine)

	assert.ErrorIs(t, DowntimeReason{DowntimeCode: "DT01"}.Validate(), ErrMissingMachine)
	assert.NoError(t, DowntimeReason{ID: "abc", DowntimeCode: "DT01"}.Validate())
	assert.ErrorIs(t, DowntimeReason{MachineCode: "M1"}.Validate(), ErrMissingDowntimeCode)

	assert.ErrorIs(t, MasterQuery{Kind: MasterMachineDowntime}.Validate(), ErrMissingMachine)
	assert.NoError(t, MasterQuery{Kind: MasterDefects}.Validate())
}

func TestRecordIDSequence(t *testing.T) {
	at := time.Date(2026, 3, 7, 23, 30, 0, 0, time.UTC)
	prefix := RecordPrefix(" P100 ", "M1", at)
	assert.Equal(t, "P100-07-03-2026-M1", prefix)

	first := RecordID(prefix, 1)
	second := RecordID(prefix, 2)
	assert.Equal(t, "P100-07-03-2026-M1-1", first)
	assert.Equal(t, "P100-07-03-2026-M1-2", second)
	assert.NotEqual(t, first, second)
	assert.Equal(t, first[:len(first)-1], second[:len(second)-1], "ids differ only in the sequence")
}

func TestRecordPrefixUsesUTCDate(t *testing.T) {
	loc := time.FixedZone("ICT", 7*3600)
	at := time.Date(2026, 3, 8, 2, 0, 0, 0, loc) // 7 March 19:00 UTC
	assert.Equal(t, "P-07-03-2026-M", RecordPrefix("P", "M", at))
}
