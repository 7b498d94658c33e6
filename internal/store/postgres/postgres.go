package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/cardflow/internal/journey"
	"github.com/loykin/cardflow/internal/store"
)

// DB implements store.Store on PostgreSQL via the pgx stdlib driver. Layout
// matches the sqlite backend: JSON document plus a version column for the
// optimistic write guard, indexed columns and a flat events table for queries.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) Close() error                   { return p.db.Close() }
func (p *DB) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS journeys(
			id TEXT PRIMARY KEY,
			subject_id TEXT NOT NULL,
			customer_name TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL,
			current_stage TEXT NOT NULL,
			region TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0,
			terminal BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			created_day TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			doc JSONB NOT NULL,
			version BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_journeys_stage ON journeys(current_stage);`,
		`CREATE INDEX IF NOT EXISTS idx_journeys_created ON journeys(terminal, created_at);`,
		`CREATE TABLE IF NOT EXISTS journey_events(
			journey_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			stage TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			occurred_day TEXT NOT NULL,
			duration_minutes BIGINT NULL,
			PRIMARY KEY(journey_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_occurred ON journey_events(occurred_at);`,
		`CREATE TABLE IF NOT EXISTS bottlenecks(
			stage TEXT NOT NULL,
			day TEXT NOT NULL,
			sample_count INTEGER NOT NULL,
			mean_minutes DOUBLE PRECISION NOT NULL,
			median_minutes DOUBLE PRECISION NOT NULL,
			p95_minutes BIGINT NOT NULL,
			min_minutes BIGINT NOT NULL,
			max_minutes BIGINT NOT NULL,
			delayed_count INTEGER NOT NULL,
			delay_ratio DOUBLE PRECISION NOT NULL,
			severity TEXT NOT NULL,
			recommendations JSONB NOT NULL,
			impact_score INTEGER NOT NULL,
			computed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY(stage, day)
		);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Put(ctx context.Context, j *journey.Journey) error {
	doc, err := json.Marshal(j)
	if err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO journeys(id, subject_id, customer_name, priority, current_stage, region,
			retry_count, terminal, created_at, created_day, updated_at, doc, version)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT(id) DO NOTHING;`,
		j.ID, j.SubjectID, j.CustomerName, string(j.Priority), string(j.CurrentStage), j.Region(),
		j.RetryCount, j.CurrentStage.IsTerminal(), j.CreatedAt.UTC(), store.Day(j.CreatedAt),
		j.UpdatedAt.UTC(), string(doc), j.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return journey.Duplicatef(j.ID)
	}
	if err := upsertEvents(ctx, tx, j, 0); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *DB) GetByID(ctx context.Context, id string) (*journey.Journey, error) {
	var doc string
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM journeys WHERE id = $1;`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, journey.NotFoundf(id)
	}
	if err != nil {
		return nil, err
	}
	return decodeDoc(doc)
}

func (p *DB) AtomicUpdate(ctx context.Context, id string, fn func(*journey.Journey) error) (*journey.Journey, error) {
	var doc string
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM journeys WHERE id = $1;`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, journey.NotFoundf(id)
	}
	if err != nil {
		return nil, err
	}
	j, err := decodeDoc(doc)
	if err != nil {
		return nil, err
	}
	readVersion := j.Version
	eventsBefore := len(j.Events)
	if err := fn(j); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE journeys SET current_stage=$1, region=$2, retry_count=$3, terminal=$4,
			updated_at=$5, doc=$6, version=$7
		WHERE id=$8 AND version=$9;`,
		string(j.CurrentStage), j.Region(), j.RetryCount, j.CurrentStage.IsTerminal(),
		j.UpdatedAt.UTC(), string(encoded), j.Version, id, readVersion)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, journey.Conflictf(id)
	}
	from := eventsBefore - 1
	if from < 0 {
		from = 0
	}
	if err := upsertEvents(ctx, tx, j, from); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return j, nil
}

func upsertEvents(ctx context.Context, tx *sql.Tx, j *journey.Journey, from int) error {
	for seq := from; seq < len(j.Events); seq++ {
		e := j.Events[seq]
		var dur sql.NullInt64
		if e.DurationMinutes != nil {
			dur = sql.NullInt64{Int64: *e.DurationMinutes, Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO journey_events(journey_id, seq, stage, occurred_at, occurred_day, duration_minutes)
			VALUES($1, $2, $3, $4, $5, $6)
			ON CONFLICT(journey_id, seq) DO UPDATE SET
				duration_minutes=excluded.duration_minutes;`,
			j.ID, seq, string(e.Stage), e.OccurredAt.UTC(), store.Day(e.OccurredAt), dur)
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Search(ctx context.Context, q string, limit int) ([]*journey.Journey, error) {
	pat := "%" + q + "%"
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT doc FROM journeys
		WHERE id ILIKE $1 OR subject_id ILIKE $1 OR customer_name ILIKE $1
		ORDER BY id LIMIT $2;`, pat, limit)
	if err != nil {
		return nil, err
	}
	return collectDocs(rows)
}

func (p *DB) FindDelayed(ctx context.Context, cutoff time.Time) ([]*journey.Journey, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT doc FROM journeys
		WHERE NOT terminal AND created_at < $1
		ORDER BY created_at ASC;`, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	return collectDocs(rows)
}

func (p *DB) CountByStage(ctx context.Context) (map[journey.Stage]int, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT current_stage, COUNT(*) FROM journeys GROUP BY current_stage;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	counts := make(map[journey.Stage]int)
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		counts[journey.Stage(stage)] = n
	}
	return counts, rows.Err()
}

func (p *DB) StageDurations(ctx context.Context, from, to time.Time) ([]store.StageDuration, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT stage, duration_minutes, occurred_at FROM journey_events
		WHERE duration_minutes IS NOT NULL AND occurred_at >= $1 AND occurred_at < $2
		ORDER BY occurred_at ASC;`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.StageDuration
	for rows.Next() {
		var d store.StageDuration
		var stage string
		if err := rows.Scan(&stage, &d.DurationMinutes, &d.OccurredAt); err != nil {
			return nil, err
		}
		d.Stage = journey.Stage(stage)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *DB) RegionalOutcomes(ctx context.Context, from, to time.Time) ([]store.RegionalOutcome, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT region,
			COUNT(*),
			SUM(CASE WHEN current_stage = 'DELIVERED' THEN 1 ELSE 0 END),
			SUM(CASE WHEN retry_count > 0 THEN 1 ELSE 0 END)
		FROM journeys
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY region ORDER BY region;`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.RegionalOutcome
	for rows.Next() {
		var r store.RegionalOutcome
		if err := rows.Scan(&r.Region, &r.Total, &r.Delivered, &r.Failed); err != nil {
			return nil, err
		}
		if r.Region == "" {
			r.Region = "unknown"
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *DB) DailyVolume(ctx context.Context, from, to time.Time) ([]store.DailyCount, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT created_day, COUNT(*) FROM journeys
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY created_day ORDER BY created_day;`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.DailyCount
	for rows.Next() {
		var d store.DailyCount
		if err := rows.Scan(&d.Day, &d.Count); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *DB) StageDailyStats(ctx context.Context, from, to time.Time) ([]store.StageDayStat, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT occurred_day, stage, COUNT(*), COALESCE(AVG(duration_minutes), 0)
		FROM journey_events
		WHERE occurred_at >= $1 AND occurred_at < $2
		GROUP BY occurred_day, stage ORDER BY occurred_day, stage;`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.StageDayStat
	for rows.Next() {
		var d store.StageDayStat
		var stage string
		if err := rows.Scan(&d.Day, &stage, &d.Count, &d.MeanMinutes); err != nil {
			return nil, err
		}
		d.Stage = journey.Stage(stage)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *DB) UpsertBottleneck(ctx context.Context, b store.Bottleneck) error {
	recs, err := json.Marshal(b.Recommendations)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO bottlenecks(stage, day, sample_count, mean_minutes, median_minutes,
			p95_minutes, min_minutes, max_minutes, delayed_count, delay_ratio, severity,
			recommendations, impact_score, computed_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT(stage, day) DO UPDATE SET
			sample_count=excluded.sample_count,
			mean_minutes=excluded.mean_minutes,
			median_minutes=excluded.median_minutes,
			p95_minutes=excluded.p95_minutes,
			min_minutes=excluded.min_minutes,
			max_minutes=excluded.max_minutes,
			delayed_count=excluded.delayed_count,
			delay_ratio=excluded.delay_ratio,
			severity=excluded.severity,
			recommendations=excluded.recommendations,
			impact_score=excluded.impact_score,
			computed_at=excluded.computed_at;`,
		string(b.Stage), b.Day, b.SampleCount, b.MeanMinutes, b.MedianMinutes,
		b.P95Minutes, b.MinMinutes, b.MaxMinutes, b.DelayedCount, b.DelayRatio, b.Severity,
		string(recs), b.ImpactScore, b.ComputedAt.UTC())
	return err
}

const severityRankSQL = `CASE severity
	WHEN 'critical' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END`

func (p *DB) BottlenecksOn(ctx context.Context, day string) ([]store.Bottleneck, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT stage, day, sample_count, mean_minutes, median_minutes, p95_minutes,
			min_minutes, max_minutes, delayed_count, delay_ratio, severity,
			recommendations, impact_score, computed_at
		FROM bottlenecks WHERE day = $1
		ORDER BY `+severityRankSQL+` DESC, delay_ratio DESC, stage;`, day)
	if err != nil {
		return nil, err
	}
	return collectBottlenecks(rows)
}

func (p *DB) LatestBottlenecks(ctx context.Context, limit int) ([]store.Bottleneck, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT stage, day, sample_count, mean_minutes, median_minutes, p95_minutes,
			min_minutes, max_minutes, delayed_count, delay_ratio, severity,
			recommendations, impact_score, computed_at
		FROM bottlenecks WHERE day = (SELECT MAX(day) FROM bottlenecks)
		ORDER BY `+severityRankSQL+` DESC, delay_ratio DESC, stage LIMIT $1;`, limit)
	if err != nil {
		return nil, err
	}
	return collectBottlenecks(rows)
}

func decodeDoc(doc string) (*journey.Journey, error) {
	var j journey.Journey
	if err := json.Unmarshal([]byte(doc), &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func collectDocs(rows *sql.Rows) ([]*journey.Journey, error) {
	defer func() { _ = rows.Close() }()
	var out []*journey.Journey
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		j, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func collectBottlenecks(rows *sql.Rows) ([]store.Bottleneck, error) {
	defer func() { _ = rows.Close() }()
	var out []store.Bottleneck
	for rows.Next() {
		var b store.Bottleneck
		var stage, recs string
		if err := rows.Scan(&stage, &b.Day, &b.SampleCount, &b.MeanMinutes, &b.MedianMinutes,
			&b.P95Minutes, &b.MinMinutes, &b.MaxMinutes, &b.DelayedCount, &b.DelayRatio,
			&b.Severity, &recs, &b.ImpactScore, &b.ComputedAt); err != nil {
			return nil, err
		}
		b.Stage = journey.Stage(stage)
		if err := json.Unmarshal([]byte(recs), &b.Recommendations); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
