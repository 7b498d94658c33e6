package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/cardflow/internal/journey"
	"github.com/loykin/cardflow/internal/store"
)

// DB implements store.Store on SQLite (modernc.org/sqlite driver, CGO-free).
// The journey document is stored as JSON next to a version column used for
// optimistic concurrency; indexed columns and a flat events table serve the
// query/aggregation surface.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path. Use ":memory:" for in-memory.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) Close() error                   { return s.db.Close() }
func (s *DB) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS journeys(
			id TEXT PRIMARY KEY,
			subject_id TEXT NOT NULL,
			customer_name TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL,
			current_stage TEXT NOT NULL,
			region TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0,
			terminal INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			created_day TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			doc TEXT NOT NULL,
			version INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_journeys_stage ON journeys(current_stage);`,
		`CREATE INDEX IF NOT EXISTS idx_journeys_created ON journeys(terminal, created_at);`,
		`CREATE TABLE IF NOT EXISTS journey_events(
			journey_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			stage TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			occurred_day TEXT NOT NULL,
			duration_minutes INTEGER NULL,
			PRIMARY KEY(journey_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_occurred ON journey_events(occurred_at);`,
		`CREATE TABLE IF NOT EXISTS bottlenecks(
			stage TEXT NOT NULL,
			day TEXT NOT NULL,
			sample_count INTEGER NOT NULL,
			mean_minutes REAL NOT NULL,
			median_minutes REAL NOT NULL,
			p95_minutes INTEGER NOT NULL,
			min_minutes INTEGER NOT NULL,
			max_minutes INTEGER NOT NULL,
			delayed_count INTEGER NOT NULL,
			delay_ratio REAL NOT NULL,
			severity TEXT NOT NULL,
			recommendations TEXT NOT NULL,
			impact_score INTEGER NOT NULL,
			computed_at TIMESTAMP NOT NULL,
			PRIMARY KEY(stage, day)
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *DB) Put(ctx context.Context, j *journey.Journey) error {
	doc, err := json.Marshal(j)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO journeys(id, subject_id, customer_name, priority, current_stage, region,
			retry_count, terminal, created_at, created_day, updated_at, doc, version)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING;`,
		j.ID, j.SubjectID, j.CustomerName, string(j.Priority), string(j.CurrentStage), j.Region(),
		j.RetryCount, boolInt(j.CurrentStage.IsTerminal()), j.CreatedAt.UTC(), store.Day(j.CreatedAt),
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

func (s *DB) GetByID(ctx context.Context, id string) (*journey.Journey, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM journeys WHERE id = ?;`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, journey.NotFoundf(id)
	}
	if err != nil {
		return nil, err
	}
	return decodeDoc(doc)
}

func (s *DB) AtomicUpdate(ctx context.Context, id string, fn func(*journey.Journey) error) (*journey.Journey, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM journeys WHERE id = ?;`, id).Scan(&doc)
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE journeys SET current_stage=?, region=?, retry_count=?, terminal=?,
			updated_at=?, doc=?, version=?
		WHERE id=? AND version=?;`,
		string(j.CurrentStage), j.Region(), j.RetryCount, boolInt(j.CurrentStage.IsTerminal()),
		j.UpdatedAt.UTC(), string(encoded), j.Version, id, readVersion)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, journey.Conflictf(id)
	}
	// rewrite from the last pre-existing event onward: that row carries the
	// duration back-fill, the rest are appends
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
			VALUES(?, ?, ?, ?, ?, ?)
			ON CONFLICT(journey_id, seq) DO UPDATE SET
				duration_minutes=excluded.duration_minutes;`,
			j.ID, seq, string(e.Stage), e.OccurredAt.UTC(), store.Day(e.OccurredAt), dur)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Search(ctx context.Context, q string, limit int) ([]*journey.Journey, error) {
	pat := "%" + strings.ToLower(q) + "%"
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM journeys
		WHERE lower(id) LIKE ? OR lower(subject_id) LIKE ? OR lower(customer_name) LIKE ?
		ORDER BY id LIMIT ?;`, pat, pat, pat, limit)
	if err != nil {
		return nil, err
	}
	return collectDocs(rows)
}

func (s *DB) FindDelayed(ctx context.Context, cutoff time.Time) ([]*journey.Journey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM journeys
		WHERE terminal = 0 AND created_at < ?
		ORDER BY created_at ASC;`, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	return collectDocs(rows)
}

func (s *DB) CountByStage(ctx context.Context) (map[journey.Stage]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT current_stage, COUNT(*) FROM journeys GROUP BY current_stage;`)
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

func (s *DB) StageDurations(ctx context.Context, from, to time.Time) ([]store.StageDuration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, duration_minutes, occurred_at FROM journey_events
		WHERE duration_minutes IS NOT NULL AND occurred_at >= ? AND occurred_at < ?
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

func (s *DB) RegionalOutcomes(ctx context.Context, from, to time.Time) ([]store.RegionalOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT region,
			COUNT(*),
			SUM(CASE WHEN current_stage = 'DELIVERED' THEN 1 ELSE 0 END),
			SUM(CASE WHEN retry_count > 0 THEN 1 ELSE 0 END)
		FROM journeys
		WHERE created_at >= ? AND created_at < ?
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

func (s *DB) DailyVolume(ctx context.Context, from, to time.Time) ([]store.DailyCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT created_day, COUNT(*) FROM journeys
		WHERE created_at >= ? AND created_at < ?
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

func (s *DB) StageDailyStats(ctx context.Context, from, to time.Time) ([]store.StageDayStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_day, stage, COUNT(*), COALESCE(AVG(duration_minutes), 0)
		FROM journey_events
		WHERE occurred_at >= ? AND occurred_at < ?
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

func (s *DB) UpsertBottleneck(ctx context.Context, b store.Bottleneck) error {
	recs, err := json.Marshal(b.Recommendations)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bottlenecks(stage, day, sample_count, mean_minutes, median_minutes,
			p95_minutes, min_minutes, max_minutes, delayed_count, delay_ratio, severity,
			recommendations, impact_score, computed_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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

func (s *DB) BottlenecksOn(ctx context.Context, day string) ([]store.Bottleneck, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, day, sample_count, mean_minutes, median_minutes, p95_minutes,
			min_minutes, max_minutes, delayed_count, delay_ratio, severity,
			recommendations, impact_score, computed_at
		FROM bottlenecks WHERE day = ?
		ORDER BY `+severityRankSQL+` DESC, delay_ratio DESC, stage;`, day)
	if err != nil {
		return nil, err
	}
	return collectBottlenecks(rows)
}

func (s *DB) LatestBottlenecks(ctx context.Context, limit int) ([]store.Bottleneck, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, day, sample_count, mean_minutes, median_minutes, p95_minutes,
			min_minutes, max_minutes, delayed_count, delay_ratio, severity,
			recommendations, impact_score, computed_at
		FROM bottlenecks WHERE day = (SELECT MAX(day) FROM bottlenecks)
		ORDER BY `+severityRankSQL+` DESC, delay_ratio DESC, stage LIMIT ?;`, limit)
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
