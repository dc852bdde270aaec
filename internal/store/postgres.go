package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/sweeney/line-oee/internal/logic"
)

var _ Store = (*Postgres)(nil)

// Documents are kept as JSONB next to the columns they are filtered by.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS production_records (
		id           TEXT PRIMARY KEY,
		machine_code TEXT NOT NULL,
		product_code TEXT NOT NULL,
		shift_code   TEXT NOT NULL,
		status       TEXT NOT NULL,
		create_time  TIMESTAMPTZ NOT NULL,
		doc          JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS production_records_open_idx
		ON production_records (machine_code, status, create_time DESC)`,
	`CREATE TABLE IF NOT EXISTS iot_records (
		id           BIGSERIAL PRIMARY KEY,
		machine_code TEXT NOT NULL,
		ts           TIMESTAMPTZ NOT NULL,
		doc          JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS iot_records_machine_ts_idx ON iot_records (machine_code, ts)`,
	`CREATE TABLE IF NOT EXISTS defect_records (
		id           TEXT PRIMARY KEY,
		machine_code TEXT NOT NULL,
		ts           TIMESTAMPTZ NOT NULL,
		defect_code  TEXT NOT NULL,
		source       TEXT NOT NULL,
		doc          JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS defect_records_machine_ts_idx ON defect_records (machine_code, ts)`,
	`CREATE TABLE IF NOT EXISTS changeover_records (
		id           TEXT PRIMARY KEY,
		machine_code TEXT NOT NULL,
		ts           TIMESTAMPTZ NOT NULL,
		doc          JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS downtime_records (
		id           TEXT PRIMARY KEY,
		machine_code TEXT NOT NULL,
		start_time   TIMESTAMPTZ NOT NULL,
		end_time     TIMESTAMPTZ,
		status       TEXT NOT NULL,
		doc          JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS downtime_records_machine_start_idx ON downtime_records (machine_code, start_time)`,
	`CREATE TABLE IF NOT EXISTS shift_stats (
		shift_code   TEXT NOT NULL,
		shift_date   TEXT NOT NULL,
		machine_code TEXT NOT NULL,
		doc          JSONB NOT NULL,
		PRIMARY KEY (shift_code, shift_date, machine_code)
	)`,
	`CREATE TABLE IF NOT EXISTS master_shifts (code TEXT PRIMARY KEY, position INT NOT NULL, doc JSONB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS master_products (code TEXT PRIMARY KEY, doc JSONB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS master_working_parameters (code TEXT PRIMARY KEY, doc JSONB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS master_downtime_codes (code TEXT PRIMARY KEY, doc JSONB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS master_defect_codes (code TEXT PRIMARY KEY, doc JSONB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS master_machines (code TEXT PRIMARY KEY, doc JSONB NOT NULL)`,
}

const (
	insertRecordSQL = `INSERT INTO production_records
		(id, machine_code, product_code, shift_code, status, create_time, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`
	upsertRecordSQL = `INSERT INTO production_records
		(id, machine_code, product_code, shift_code, status, create_time, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			machine_code = EXCLUDED.machine_code,
			product_code = EXCLUDED.product_code,
			shift_code   = EXCLUDED.shift_code,
			status       = EXCLUDED.status,
			create_time  = EXCLUDED.create_time,
			doc          = EXCLUDED.doc`
	upsertDowntimeSQL = `INSERT INTO downtime_records
		(id, machine_code, start_time, end_time, status, doc)
		VALUES ($1, $2, $3, $4, $5, $6)`
	upsertSummarySQL = `INSERT INTO shift_stats (shift_code, shift_date, machine_code, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (shift_code, shift_date, machine_code) DO UPDATE SET doc = EXCLUDED.doc`
)

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPostgres connects to the database at url and applies the schema.
func NewPostgres(ctx context.Context, url string, log zerolog.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := &Postgres{pool: pool, log: log}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("host", cfg.ConnConfig.Host).
		Int32("max_conns", cfg.MaxConns).
		Msg("Connected to database")
	return p, nil
}

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Records

func (p *Postgres) InsertRecord(ctx context.Context, r logic.ProductionRecord) error {
	args, err := recordArgs(r)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, insertRecordSQL, args...)
	if err != nil {
		return fmt.Errorf("%w: production record %s: %w", ErrFailedToInsert, r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateID
	}
	return nil
}

func (p *Postgres) UpsertRecord(ctx context.Context, r logic.ProductionRecord) error {
	args, err := recordArgs(r)
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, upsertRecordSQL, args...); err != nil {
		return fmt.Errorf("%w: production record %s: %w", ErrFailedToInsert, r.ID, err)
	}
	return nil
}

func recordArgs(r logic.ProductionRecord) ([]any, error) {
	doc, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode production record: %w", err)
	}
	return []any{r.ID, r.MachineCode, r.ProductCode, r.ShiftCode, string(r.Status), r.CreateTime, doc}, nil
}

func (p *Postgres) GetRecord(ctx context.Context, id string) (logic.ProductionRecord, error) {
	return queryDoc[logic.ProductionRecord](ctx, p.pool,
		`SELECT doc FROM production_records WHERE id = $1`, id)
}

func (p *Postgres) OpenRecord(ctx context.Context, machine string) (logic.ProductionRecord, error) {
	return queryDoc[logic.ProductionRecord](ctx, p.pool,
		`SELECT doc FROM production_records
		WHERE machine_code = $1 AND status = $2
		ORDER BY create_time DESC LIMIT 1`, machine, string(logic.RecordRunning))
}

func (p *Postgres) OpenRecords(ctx context.Context) ([]logic.ProductionRecord, error) {
	return queryDocs[logic.ProductionRecord](ctx, p.pool,
		`SELECT doc FROM production_records WHERE status = $1 ORDER BY create_time, id`,
		string(logic.RecordRunning))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (p *Postgres) CountRecordsWithPrefix(ctx context.Context, prefix string) (int, error) {
	var n int
	pattern := likeEscaper.Replace(recordSeqPrefix(prefix)) + "%"
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM production_records WHERE id LIKE $1`, pattern).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count records: %w", ErrFailedToQuery, err)
	}
	return n, nil
}

func (p *Postgres) ShiftRecords(ctx context.Context, machine, shiftCode string, since time.Time) ([]logic.ProductionRecord, error) {
	return queryDocs[logic.ProductionRecord](ctx, p.pool,
		`SELECT doc FROM production_records
		WHERE machine_code = $1 AND shift_code = $2 AND create_time >= $3
		ORDER BY create_time, id`, machine, shiftCode, since)
}

// Events

func (p *Postgres) InsertTick(ctx context.Context, t logic.Tick) error {
	return p.insertDoc(ctx, `INSERT INTO iot_records (machine_code, ts, doc) VALUES ($1, $2, $3)`,
		t, t.MachineCode, t.Timestamp)
}

func (p *Postgres) LastTick(ctx context.Context, machine string) (logic.Tick, error) {
	return queryDoc[logic.Tick](ctx, p.pool,
		`SELECT doc FROM iot_records WHERE machine_code = $1 ORDER BY ts DESC, id DESC LIMIT 1`, machine)
}

func (p *Postgres) CountTicks(ctx context.Context, machine string, r Range) (int64, error) {
	return p.countRange(ctx, "iot_records", machine, r)
}

func (p *Postgres) InsertDefect(ctx context.Context, d logic.Defect) error {
	return p.insertDoc(ctx, `INSERT INTO defect_records (id, machine_code, ts, defect_code, source, doc)
		VALUES ($4, $1, $2, $5, $6, $3)`,
		d, d.MachineCode, d.Timestamp, d.ID, d.DefectCode, string(d.Source))
}

func (p *Postgres) CountDefects(ctx context.Context, machine string, r Range) (int64, error) {
	return p.countRange(ctx, "defect_records", machine, r)
}

func (p *Postgres) InsertChangeover(ctx context.Context, c logic.ChangeoverLog) error {
	return p.insertDoc(ctx, `INSERT INTO changeover_records (machine_code, ts, doc, id) VALUES ($1, $2, $3, $4)`,
		c, c.MachineCode, c.Timestamp, c.ID)
}

// insertDoc encodes doc and runs sql with (machine, ts, doc, extra...).
func (p *Postgres) insertDoc(ctx context.Context, sql string, doc any, machine string, ts time.Time, extra ...any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	args := append([]any{machine, ts, raw}, extra...)
	if _, err := p.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToInsert, err)
	}
	return nil
}

func (p *Postgres) countRange(ctx context.Context, table, machine string, r Range) (int64, error) {
	op := "<"
	if r.Inclusive {
		op = "<="
	}
	sql := fmt.Sprintf(`SELECT count(*) FROM %s WHERE machine_code = $1 AND ts >= $2 AND ts %s $3`, table, op)
	var n int64
	if err := p.pool.QueryRow(ctx, sql, machine, r.From, r.To).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count %s: %w", ErrFailedToQuery, table, err)
	}
	return n, nil
}

// Downtime

func (p *Postgres) InsertDowntime(ctx context.Context, d logic.DowntimeRecord) error {
	args, err := downtimeArgs(d)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, upsertDowntimeSQL+` ON CONFLICT (id) DO NOTHING`, args...)
	if err != nil {
		return fmt.Errorf("%w: downtime %s: %w", ErrFailedToInsert, d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateID
	}
	return nil
}

func (p *Postgres) UpdateDowntime(ctx context.Context, d logic.DowntimeRecord) error {
	args, err := downtimeArgs(d)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, `UPDATE downtime_records
		SET machine_code = $2, start_time = $3, end_time = $4, status = $5, doc = $6
		WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("%w: downtime %s: %w", ErrFailedToInsert, d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func downtimeArgs(d logic.DowntimeRecord) ([]any, error) {
	doc, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode downtime: %w", err)
	}
	return []any{d.ID, d.MachineCode, d.StartTime, d.EndTime, string(d.Status), doc}, nil
}

func (p *Postgres) GetDowntime(ctx context.Context, id string) (logic.DowntimeRecord, error) {
	return queryDoc[logic.DowntimeRecord](ctx, p.pool, `SELECT doc FROM downtime_records WHERE id = $1`, id)
}

func (p *Postgres) FindDowntimeAt(ctx context.Context, machine string, start time.Time) (logic.DowntimeRecord, error) {
	return queryDoc[logic.DowntimeRecord](ctx, p.pool,
		`SELECT doc FROM downtime_records WHERE machine_code = $1 AND start_time = $2 LIMIT 1`, machine, start)
}

func (p *Postgres) ActiveDowntimes(ctx context.Context, machine string) ([]logic.DowntimeRecord, error) {
	return queryDocs[logic.DowntimeRecord](ctx, p.pool,
		`SELECT doc FROM downtime_records WHERE machine_code = $1 AND status = $2 ORDER BY start_time, id`,
		machine, string(logic.DowntimeActive))
}

func (p *Postgres) LatestDowntime(ctx context.Context, machine string) (logic.DowntimeRecord, error) {
	return queryDoc[logic.DowntimeRecord](ctx, p.pool,
		`SELECT doc FROM downtime_records WHERE machine_code = $1 ORDER BY start_time DESC, id DESC LIMIT 1`, machine)
}

func (p *Postgres) DowntimesOverlapping(ctx context.Context, machine string, start, end time.Time) ([]logic.DowntimeRecord, error) {
	return queryDocs[logic.DowntimeRecord](ctx, p.pool,
		`SELECT doc FROM downtime_records
		WHERE machine_code = $1 AND start_time < $3
		  AND (status = $4 OR end_time IS NULL OR end_time > $2)
		ORDER BY start_time, id`, machine, start, end, string(logic.DowntimeActive))
}

func (p *Postgres) ListDowntimes(ctx context.Context, machine string, limit int) ([]logic.DowntimeRecord, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	return queryDocs[logic.DowntimeRecord](ctx, p.pool,
		`SELECT doc FROM downtime_records WHERE machine_code = $1
		ORDER BY start_time DESC, id DESC LIMIT $2`, machine, lim)
}

// Summaries

func (p *Postgres) UpsertSummary(ctx context.Context, s logic.ShiftSummary) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode shift summary: %w", err)
	}
	if _, err := p.pool.Exec(ctx, upsertSummarySQL, s.ShiftCode, s.ShiftDate, s.MachineCode, doc); err != nil {
		return fmt.Errorf("%w: shift summary %s: %w", ErrFailedToInsert, s.Key(), err)
	}
	return nil
}

func (p *Postgres) GetSummary(ctx context.Context, shiftCode, shiftDate, machine string) (logic.ShiftSummary, error) {
	return queryDoc[logic.ShiftSummary](ctx, p.pool,
		`SELECT doc FROM shift_stats WHERE shift_code = $1 AND shift_date = $2 AND machine_code = $3`,
		shiftCode, shiftDate, machine)
}

// Master data

func (p *Postgres) Shifts(ctx context.Context) ([]logic.ShiftDef, error) {
	return queryDocs[logic.ShiftDef](ctx, p.pool, `SELECT doc FROM master_shifts ORDER BY position, code`)
}

func (p *Postgres) Product(ctx context.Context, code string) (logic.Product, error) {
	return lookupDoc[logic.Product](ctx, p.pool, "master_products", code)
}

func (p *Postgres) Products(ctx context.Context) ([]logic.Product, error) {
	return queryDocs[logic.Product](ctx, p.pool, `SELECT doc FROM master_products ORDER BY code`)
}

func (p *Postgres) WorkingParameter(ctx context.Context, productCode string) (logic.WorkingParameter, error) {
	return lookupDoc[logic.WorkingParameter](ctx, p.pool, "master_working_parameters", productCode)
}

func (p *Postgres) DowntimeCode(ctx context.Context, code string) (logic.DowntimeCode, error) {
	return lookupDoc[logic.DowntimeCode](ctx, p.pool, "master_downtime_codes", code)
}

func (p *Postgres) DowntimeCodes(ctx context.Context) ([]logic.DowntimeCode, error) {
	return queryDocs[logic.DowntimeCode](ctx, p.pool, `SELECT doc FROM master_downtime_codes ORDER BY code`)
}

func (p *Postgres) DefectCodes(ctx context.Context) ([]logic.DefectCode, error) {
	return queryDocs[logic.DefectCode](ctx, p.pool, `SELECT doc FROM master_defect_codes ORDER BY code`)
}

func (p *Postgres) Machines(ctx context.Context) ([]logic.Machine, error) {
	return queryDocs[logic.Machine](ctx, p.pool, `SELECT doc FROM master_machines ORDER BY code`)
}

// SeedMaster upserts every catalog entry in a single batch.
func (p *Postgres) SeedMaster(ctx context.Context, m logic.MasterData) (err error) {
	batch := &pgx.Batch{}
	queue := func(table, code string, doc any) error {
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", table, code, err)
		}
		batch.Queue(fmt.Sprintf(`INSERT INTO %s (code, doc) VALUES ($1, $2)
			ON CONFLICT (code) DO UPDATE SET doc = EXCLUDED.doc`, table), code, raw)
		return nil
	}

	for i, s := range m.Shifts {
		raw, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode shift %s: %w", s.Code, err)
		}
		batch.Queue(`INSERT INTO master_shifts (code, position, doc) VALUES ($1, $2, $3)
			ON CONFLICT (code) DO UPDATE SET position = EXCLUDED.position, doc = EXCLUDED.doc`, s.Code, i, raw)
	}
	for _, it := range m.Products {
		if err := queue("master_products", it.Code, it); err != nil {
			return err
		}
	}
	for _, it := range m.WorkingParameters {
		if err := queue("master_working_parameters", it.ProductCode, it); err != nil {
			return err
		}
	}
	for _, it := range m.DowntimeCodes {
		if err := queue("master_downtime_codes", it.Code, it); err != nil {
			return err
		}
	}
	for _, it := range m.DefectCodes {
		if err := queue("master_defect_codes", it.Code, it); err != nil {
			return err
		}
	}
	for _, it := range m.Machines {
		if err := queue("master_machines", it.Code, it); err != nil {
			return err
		}
	}

	if batch.Len() == 0 {
		return nil
	}

	br := p.pool.SendBatch(ctx, batch)
	defer func() {
		if closeErr := br.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("seed master batch close: %w", closeErr)
		}
	}()
	for i := 0; i < batch.Len(); i++ {
		if _, err = br.Exec(); err != nil {
			return fmt.Errorf("seed master (command %d): %w", i, err)
		}
	}

	p.log.Info().
		Int("shifts", len(m.Shifts)).
		Int("products", len(m.Products)).
		Int("downtime_codes", len(m.DowntimeCodes)).
		Int("defect_codes", len(m.DefectCodes)).
		Msg("Seeded master data")
	return nil
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func queryDoc[T any](ctx context.Context, q querier, sql string, args ...any) (T, error) {
	var (
		v   T
		raw []byte
	)
	if err := q.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return v, ErrNotFound
		}
		return v, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrFailedToDecode, err)
	}
	return v, nil
}

func queryDocs[T any](ctx context.Context, q querier, sql string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToDecode, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	return out, nil
}

// lookupDoc tries an exact code match, then a case-insensitive one.
func lookupDoc[T any](ctx context.Context, q querier, table, code string) (T, error) {
	v, err := queryDoc[T](ctx, q, fmt.Sprintf(`SELECT doc FROM %s WHERE code = $1`, table), code)
	if !errors.Is(err, ErrNotFound) {
		return v, err
	}
	return queryDoc[T](ctx, q, fmt.Sprintf(`SELECT doc FROM %s WHERE lower(code) = lower($1) ORDER BY code LIMIT 1`, table), code)
}
