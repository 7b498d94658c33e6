package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/cardflow/internal/fanout"
	"github.com/loykin/cardflow/internal/journey"
	"github.com/loykin/cardflow/internal/metrics"
	"github.com/loykin/cardflow/internal/store"
)

// Broadcaster receives the analysis-complete event.
type Broadcaster interface {
	Broadcast(eventType string, data any)
}

// Result summarizes one analysis run.
type Result struct {
	Day            string `json:"day"`
	StagesAnalyzed int    `json:"stages_analyzed"`
	CriticalCount  int    `json:"critical_count"`
}

// Engine scans the trailing event window, computes per-stage bottleneck
// summaries and upserts one per (stage, day). Runs only read committed events
// and write the stage+day key space, so they never contend with advance.
type Engine struct {
	st     store.Store
	hub    Broadcaster
	th     Thresholds
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(st store.Store, hub Broadcaster, th Thresholds, logger *slog.Logger) *Engine {
	return &Engine{
		st:     st,
		hub:    hub,
		th:     th.withDefaults(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock injects a deterministic clock for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// RunOnce performs one full analysis pass. Each upsert is independently
// atomic: cancellation between stages leaves earlier summaries fresh and the
// rest stale, never corrupt.
func (e *Engine) RunOnce(ctx context.Context) (Result, error) {
	started := e.now()
	day := store.Day(started)
	from := started.Add(-e.th.Window)

	samples, err := e.st.StageDurations(ctx, from, started)
	if err != nil {
		metrics.IncAnalysisRun("error")
		return Result{}, err
	}
	summaries := Compute(samples, e.th, day)

	res := Result{Day: day}
	for _, b := range summaries {
		select {
		case <-ctx.Done():
			metrics.IncAnalysisRun("cancelled")
			return res, ctx.Err()
		default:
		}
		b.ComputedAt = e.now()
		if err := e.st.UpsertBottleneck(ctx, b); err != nil {
			metrics.IncAnalysisRun("error")
			return res, err
		}
		res.StagesAnalyzed++
		if b.Severity == SeverityCritical {
			res.CriticalCount++
		}
	}

	metrics.IncAnalysisRun("ok")
	metrics.ObserveAnalysisDuration(e.now().Sub(started).Seconds())
	e.logger.Info("bottleneck analysis complete",
		"day", day, "stages", res.StagesAnalyzed, "critical", res.CriticalCount,
		"samples", len(samples))
	e.hub.Broadcast(fanout.EventAnalysisComplete, res)
	return res, nil
}

// Dashboard aggregates the operational overview for a trailing range.
type Dashboard struct {
	Range          string                `json:"range"`
	Total          int                   `json:"total"`
	InFlight       int                   `json:"in_flight"`
	Delivered      int                   `json:"delivered"`
	Failed         int                   `json:"failed"`
	ByStage        map[journey.Stage]int `json:"by_stage"`
	DailyVolume    []store.DailyCount    `json:"daily_volume"`
	TopBottlenecks []store.Bottleneck    `json:"top_bottlenecks"`
}

func (e *Engine) Dashboard(ctx context.Context, timeRange time.Duration) (*Dashboard, error) {
	if timeRange <= 0 {
		timeRange = e.th.Window
	}
	now := e.now()
	counts, err := e.st.CountByStage(ctx)
	if err != nil {
		return nil, err
	}
	volume, err := e.st.DailyVolume(ctx, now.Add(-timeRange), now)
	if err != nil {
		return nil, err
	}
	top, err := e.st.LatestBottlenecks(ctx, 5)
	if err != nil {
		return nil, err
	}
	d := &Dashboard{
		Range:          timeRange.String(),
		ByStage:        counts,
		DailyVolume:    volume,
		TopBottlenecks: top,
	}
	for stage, n := range counts {
		d.Total += n
		switch {
		case stage == journey.StageDelivered:
			d.Delivered += n
		case stage.IsFailure():
			d.Failed += n
		case !stage.IsTerminal():
			d.InFlight += n
		}
	}
	return d, nil
}

// Bottlenecks returns the latest summaries, optionally filtered by severity.
func (e *Engine) Bottlenecks(ctx context.Context, limit int, severity string) ([]store.Bottleneck, error) {
	all, err := e.st.LatestBottlenecks(ctx, 0)
	if err != nil {
		return nil, err
	}
	if severity != "" {
		filtered := all[:0]
		for _, b := range all {
			if b.Severity == severity {
				filtered = append(filtered, b)
			}
		}
		all = filtered
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Trends returns per-day per-stage event statistics for the last N days.
func (e *Engine) Trends(ctx context.Context, days int) ([]store.StageDayStat, error) {
	if days <= 0 {
		days = 7
	}
	now := e.now()
	return e.st.StageDailyStats(ctx, now.AddDate(0, 0, -days), now)
}

// Regional returns per-region outcome aggregates for the last N days.
func (e *Engine) Regional(ctx context.Context, days int) ([]store.RegionalOutcome, error) {
	if days <= 0 {
		days = 7
	}
	now := e.now()
	return e.st.RegionalOutcomes(ctx, now.AddDate(0, 0, -days), now)
}

// ForecastPoint projects expected creation volume for one future day.
type ForecastPoint struct {
	Day      string  `json:"day"`
	Expected float64 `json:"expected"`
}

// Forecast fits a least-squares line over the recent daily volume and
// projects it N days forward, clamped at zero.
func (e *Engine) Forecast(ctx context.Context, days int) ([]ForecastPoint, error) {
	if days <= 0 {
		days = 7
	}
	now := e.now()
	history, err := e.st.DailyVolume(ctx, now.AddDate(0, 0, -28), now)
	if err != nil {
		return nil, err
	}
	slope, intercept := fitLine(history)
	n := len(history)
	out := make([]ForecastPoint, 0, days)
	for i := 1; i <= days; i++ {
		x := float64(n - 1 + i)
		y := slope*x + intercept
		if y < 0 {
			y = 0
		}
		out = append(out, ForecastPoint{
			Day:      store.Day(now.AddDate(0, 0, i)),
			Expected: y,
		})
	}
	return out, nil
}

// fitLine computes ordinary least squares over counts indexed by position.
func fitLine(counts []store.DailyCount) (slope, intercept float64) {
	n := float64(len(counts))
	if n == 0 {
		return 0, 0
	}
	if n == 1 {
		return 0, float64(counts[0].Count)
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, c := range counts {
		x, y := float64(i), float64(c.Count)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / den
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}
