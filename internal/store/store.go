// Package store is the document-collection boundary of the OEE engine.
//
// Collections are addressed through small interfaces so each component only
// sees the documents it owns. Two implementations exist: Memory, which is
// used in tests and when no database is configured, and Postgres.
package store

import (
	"context"
	"time"

	"github.com/sweeney/line-oee/internal/logic"
)

// Range selects documents by timestamp. To is exclusive unless Inclusive is set.
type Range struct {
	From      time.Time
	To        time.Time
	Inclusive bool
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	if t.Before(r.From) {
		return false
	}
	if r.Inclusive {
		return !t.After(r.To)
	}
	return t.Before(r.To)
}

// RecordStore holds ProductionRecords keyed by their deterministic id.
type RecordStore interface {
	// InsertRecord fails with ErrDuplicateID when the id is taken.
	InsertRecord(ctx context.Context, r logic.ProductionRecord) error
	// UpsertRecord replaces the record with the same id, or inserts it.
	UpsertRecord(ctx context.Context, r logic.ProductionRecord) error
	GetRecord(ctx context.Context, id string) (logic.ProductionRecord, error)
	// OpenRecord returns the machine's most recently created running record.
	OpenRecord(ctx context.Context, machine string) (logic.ProductionRecord, error)
	OpenRecords(ctx context.Context) ([]logic.ProductionRecord, error)
	// CountRecordsWithPrefix counts ids of the form "<prefix>-<seq>".
	CountRecordsWithPrefix(ctx context.Context, prefix string) (int, error)
	// ShiftRecords returns the machine's records of a shift created at or
	// after since, oldest first.
	ShiftRecords(ctx context.Context, machine, shiftCode string, since time.Time) ([]logic.ProductionRecord, error)
}

// EventStore holds the raw event logs: counter ticks, defects and changeovers.
type EventStore interface {
	InsertTick(ctx context.Context, t logic.Tick) error
	LastTick(ctx context.Context, machine string) (logic.Tick, error)
	CountTicks(ctx context.Context, machine string, r Range) (int64, error)
	InsertDefect(ctx context.Context, d logic.Defect) error
	CountDefects(ctx context.Context, machine string, r Range) (int64, error)
	InsertChangeover(ctx context.Context, c logic.ChangeoverLog) error
}

// DowntimeStore holds DowntimeRecords keyed by an opaque id.
type DowntimeStore interface {
	InsertDowntime(ctx context.Context, d logic.DowntimeRecord) error
	UpdateDowntime(ctx context.Context, d logic.DowntimeRecord) error
	GetDowntime(ctx context.Context, id string) (logic.DowntimeRecord, error)
	// FindDowntimeAt returns the machine's record starting exactly at start.
	FindDowntimeAt(ctx context.Context, machine string, start time.Time) (logic.DowntimeRecord, error)
	ActiveDowntimes(ctx context.Context, machine string) ([]logic.DowntimeRecord, error)
	// LatestDowntime returns the machine's record with the latest start time.
	LatestDowntime(ctx context.Context, machine string) (logic.DowntimeRecord, error)
	// DowntimesOverlapping returns records with start < end that are either
	// active or ended after start.
	DowntimesOverlapping(ctx context.Context, machine string, start, end time.Time) ([]logic.DowntimeRecord, error)
	// ListDowntimes returns up to limit records, newest first.
	ListDowntimes(ctx context.Context, machine string, limit int) ([]logic.DowntimeRecord, error)
}

// SummaryStore holds ShiftSummaries keyed by (shift, date, machine).
type SummaryStore interface {
	UpsertSummary(ctx context.Context, s logic.ShiftSummary) error
	GetSummary(ctx context.Context, shiftCode, shiftDate, machine string) (logic.ShiftSummary, error)
}

// MasterStore is the read side of the master catalogs.
// Single-entry lookups try an exact code match first, then a
// case-insensitive one.
type MasterStore interface {
	Shifts(ctx context.Context) ([]logic.ShiftDef, error)
	Product(ctx context.Context, code string) (logic.Product, error)
	Products(ctx context.Context) ([]logic.Product, error)
	WorkingParameter(ctx context.Context, productCode string) (logic.WorkingParameter, error)
	DowntimeCode(ctx context.Context, code string) (logic.DowntimeCode, error)
	DowntimeCodes(ctx context.Context) ([]logic.DowntimeCode, error)
	DefectCodes(ctx context.Context) ([]logic.DefectCode, error)
	Machines(ctx context.Context) ([]logic.Machine, error)
	// SeedMaster upserts every catalog entry.
	SeedMaster(ctx context.Context, m logic.MasterData) error
}

// Store is the full document store.
type Store interface {
	RecordStore
	EventStore
	DowntimeStore
	SummaryStore
	MasterStore
	Close() error
}

// recordSeqPrefix keeps "P-01-01-2026-M1" from matching machine "M10".
func recordSeqPrefix(prefix string) string {
	return prefix + "-"
}
