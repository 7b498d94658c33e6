package store

import (
	"context"
	"time"

	"github.com/loykin/cardflow/internal/journey"
)

// Config represents configuration for different store types.
type Config struct {
	Type string `toml:"type" mapstructure:"type"` // "memory", "sqlite", "postgresql"

	// SQLite specific
	Path string `toml:"path,omitempty" mapstructure:"path"`

	// PostgreSQL specific
	DSN string `toml:"dsn,omitempty" mapstructure:"dsn"`
}

// Store is the journey document store. Implementations provide atomic
// per-document updates with optimistic-version conflict signaling plus the
// aggregation facility consumed by the analytics engine.
//
// All errors use the journey sentinel kinds: GetByID and AtomicUpdate return
// journey.ErrNotFound for unknown ids, Put returns journey.ErrDuplicate, and
// AtomicUpdate returns journey.ErrConflict when a concurrent writer won the
// version race.
type Store interface {
	Close() error
	Ping(ctx context.Context) error
	EnsureSchema(ctx context.Context) error

	// Put creates a new journey document.
	Put(ctx context.Context, j *journey.Journey) error
	// GetByID returns a snapshot of one journey.
	GetByID(ctx context.Context, id string) (*journey.Journey, error)
	// AtomicUpdate reads the current document, applies fn, and writes it back
	// guarded by the version read. fn must not retain the journey.
	AtomicUpdate(ctx context.Context, id string, fn func(*journey.Journey) error) (*journey.Journey, error)

	// Search matches q case-insensitively against id, subject id and customer
	// name. Input validation (minimum length) is the caller's job.
	Search(ctx context.Context, q string, limit int) ([]*journey.Journey, error)
	// FindDelayed returns non-terminal journeys created before cutoff, oldest
	// first.
	FindDelayed(ctx context.Context, cutoff time.Time) ([]*journey.Journey, error)
	// CountByStage returns the current population per stage.
	CountByStage(ctx context.Context) (map[journey.Stage]int, error)

	// StageDurations returns every recorded stage duration whose event time
	// falls in [from, to).
	StageDurations(ctx context.Context, from, to time.Time) ([]StageDuration, error)
	// RegionalOutcomes aggregates journey outcomes per region over journeys
	// created in [from, to).
	RegionalOutcomes(ctx context.Context, from, to time.Time) ([]RegionalOutcome, error)
	// DailyVolume counts journeys created per UTC day in [from, to).
	DailyVolume(ctx context.Context, from, to time.Time) ([]DailyCount, error)
	// StageDailyStats aggregates per (day, stage) event counts and mean
	// durations in [from, to), for trend views.
	StageDailyStats(ctx context.Context, from, to time.Time) ([]StageDayStat, error)

	// UpsertBottleneck writes one summary per (stage, day), replacing any
	// previous snapshot for the same key.
	UpsertBottleneck(ctx context.Context, b Bottleneck) error
	// BottlenecksOn lists the summaries computed for one analysis day.
	BottlenecksOn(ctx context.Context, day string) ([]Bottleneck, error)
	// LatestBottlenecks lists the most recent summaries ordered by severity
	// rank descending, then delay ratio descending.
	LatestBottlenecks(ctx context.Context, limit int) ([]Bottleneck, error)
}

// StageDuration is one observed stage dwell time.
type StageDuration struct {
	Stage           journey.Stage `json:"stage"`
	DurationMinutes int64         `json:"duration_minutes"`
	OccurredAt      time.Time     `json:"occurred_at"`
}

// RegionalOutcome aggregates journey outcomes for one region.
type RegionalOutcome struct {
	Region    string `json:"region"`
	Total     int    `json:"total"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"` // journeys that recorded at least one failure
}

// SuccessRate returns delivered/total, 0 for an empty region.
func (r RegionalOutcome) SuccessRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Delivered) / float64(r.Total)
}

// DailyCount is a per-UTC-day creation count.
type DailyCount struct {
	Day   string `json:"day"` // YYYY-MM-DD
	Count int    `json:"count"`
}

// StageDayStat aggregates events per (day, stage).
type StageDayStat struct {
	Day         string        `json:"day"`
	Stage       journey.Stage `json:"stage"`
	Count       int           `json:"count"`
	MeanMinutes float64       `json:"mean_minutes"`
}

// Bottleneck is the per-(stage, day) summary owned by the analytics engine.
// It is a point-in-time snapshot, replaced wholesale on each run.
type Bottleneck struct {
	Stage           journey.Stage `json:"stage"`
	Day             string        `json:"day"` // analysis day, YYYY-MM-DD UTC
	SampleCount     int           `json:"sample_count"`
	MeanMinutes     float64       `json:"mean_minutes"`
	MedianMinutes   float64       `json:"median_minutes"`
	P95Minutes      int64         `json:"p95_minutes"`
	MinMinutes      int64         `json:"min_minutes"`
	MaxMinutes      int64         `json:"max_minutes"`
	DelayedCount    int           `json:"delayed_count"`
	DelayRatio      float64       `json:"delay_ratio"`
	Severity        string        `json:"severity"`
	Recommendations []string      `json:"recommendations"`
	ImpactScore     int           `json:"impact_score"`
	ComputedAt      time.Time     `json:"computed_at"`
}

// SeverityRank orders severity classes for sorting; higher is worse.
func SeverityRank(s string) int {
	switch s {
	case "critical":
		return 4
	case "high":
		return 3
	case "medium":
		return 2
	case "low":
		return 1
	default:
		return 0
	}
}

// Day formats t as the store's UTC day key.
func Day(t time.Time) string { return t.UTC().Format("2006-01-02") }
