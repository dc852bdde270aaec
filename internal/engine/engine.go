// Package engine implements the production lifecycle, downtime tracking and
// OEE aggregation on top of a document store.
//
// Every read-modify-write on a machine's documents runs under that machine's
// lock, so events of one machine never interleave. Exported operations take
// the lock; unexported ones expect the caller to hold it.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sweeney/line-oee/internal/logic"
	"github.com/sweeney/line-oee/internal/store"
)

// Publisher delivers state changes downstream. Failures are logged by the
// engine and never roll back persisted state.
type Publisher interface {
	PublishRecord(r logic.ProductionRecord) error
	PublishSummary(s logic.ShiftSummary) error
}

// Recorder observes engine activity, typically for a status page.
type Recorder interface {
	RecordEvent(kind, machine string, at time.Time)
	RecordProduction(r logic.ProductionRecord)
	RecordSummary(s logic.ShiftSummary)
	RecordDowntime(d logic.DowntimeRecord)
}

// Event kinds passed to Recorder.RecordEvent.
const (
	EventCounter    = "counter"
	EventVision     = "vision"
	EventDefect     = "defect"
	EventChangeover = "changeover"
	EventReason     = "downtime_reason"
)

// Config holds the tunables of the engine.
type Config struct {
	// NodeID is stamped on camera defects.
	NodeID string
	// VisionThreshold is the minimum count for a passing inspection.
	VisionThreshold int
	// DefaultDowntimeThreshold applies to products without their own.
	DefaultDowntimeThreshold time.Duration
	// Location is the zone the shift calendar is expressed in.
	Location *time.Location
}

// Engine is the OEE tracking core.
type Engine struct {
	store store.Store
	pub   Publisher
	rec   Recorder
	cfg   Config
	log   zerolog.Logger
	now   func() time.Time
	newID func() string
	locks keyedMutex
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRecorder attaches an activity observer.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.rec = r }
}

// WithIDGenerator replaces the uuid generator used for event documents.
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// New creates an engine. A nil publisher discards updates.
func New(s store.Store, pub Publisher, cfg Config, log zerolog.Logger, opts ...Option) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.DefaultDowntimeThreshold <= 0 {
		cfg.DefaultDowntimeThreshold = logic.DefaultDowntimeThreshold
	}
	if pub == nil {
		pub = MultiPublisher{}
	}
	e := &Engine{
		store: s,
		pub:   pub,
		rec:   nopRecorder{},
		cfg:   cfg,
		log:   log,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

func (e *Engine) lock(machine string) func() {
	return e.locks.lock(machine)
}

func (e *Engine) publishRecord(r logic.ProductionRecord) {
	e.rec.RecordProduction(r)
	if err := e.pub.PublishRecord(r); err != nil {
		e.log.Error().Err(err).
			Str("machine", r.MachineCode).
			Str("record_id", r.ID).
			Msg("Failed to publish production record")
	}
}

func (e *Engine) publishSummary(s logic.ShiftSummary) {
	e.rec.RecordSummary(s)
	if err := e.pub.PublishSummary(s); err != nil {
		e.log.Error().Err(err).
			Str("machine", s.MachineCode).
			Str("shift", s.ShiftCode).
			Msg("Failed to publish shift summary")
	}
}

// resolveShift materializes the shift active at t from the stored calendar.
func (e *Engine) resolveShift(ctx context.Context, t time.Time) (logic.ShiftWindow, error) {
	shifts, err := e.store.Shifts(ctx)
	if err != nil {
		return logic.ShiftWindow{}, err
	}
	return logic.ResolveShift(t, shifts, e.cfg.Location), nil
}

// CurrentShift returns the shift window active now.
func (e *Engine) CurrentShift(ctx context.Context) (logic.ShiftWindow, error) {
	return e.resolveShift(ctx, e.clock())
}

func normalize(code string) string {
	return strings.TrimSpace(code)
}

// keyedMutex hands out one mutex per key. Keys are machine codes, a small
// fixed set, so entries are never removed.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// MultiPublisher fans every update out to all publishers.
type MultiPublisher []Publisher

// PublishRecord sends r to every publisher and joins their errors.
func (m MultiPublisher) PublishRecord(r logic.ProductionRecord) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishRecord(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishSummary sends s to every publisher and joins their errors.
func (m MultiPublisher) PublishSummary(s logic.ShiftSummary) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishSummary(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nopRecorder struct{}

func (nopRecorder) RecordEvent(string, string, time.Time)  {}
func (nopRecorder) RecordProduction(logic.ProductionRecord) {}
func (nopRecorder) RecordSummary(logic.ShiftSummary)        {}
func (nopRecorder) RecordDowntime(logic.DowntimeRecord)     {}
