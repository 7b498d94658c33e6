package insight

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/loykin/cardflow/internal/analytics"
	"github.com/loykin/cardflow/internal/fanout"
	"github.com/loykin/cardflow/internal/store"
)

// Insight types.
const (
	TypeBottleneck    = "bottleneck"
	TypeRegionalRisk  = "regional_risk"
	TypeVolumeAnomaly = "volume_anomaly"
)

const (
	maxBottleneckInsights = 3
	// regions delivering below this share of their created journeys are flagged
	minSuccessRate = 0.90
	// day-over-day creation swing that counts as an anomaly
	volumeDeltaThreshold = 0.20
	minRegionSamples     = 10
)

// Insight is one operator-facing finding derived from the analytics output.
type Insight struct {
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
	AffectedCount  int    `json:"affected_count"`
}

// Broadcaster receives the new-insights event.
type Broadcaster interface {
	Broadcast(eventType string, data any)
}

// Generator turns stored bottleneck summaries and journey aggregates into a
// ranked insight list.
type Generator struct {
	st     store.Store
	hub    Broadcaster
	logger *slog.Logger
	now    func() time.Time
}

func NewGenerator(st store.Store, hub Broadcaster, logger *slog.Logger) *Generator {
	return &Generator{
		st:     st,
		hub:    hub,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock injects a deterministic clock for tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate computes the current insight list, severity-ranked, and announces
// it when non-empty.
func (g *Generator) Generate(ctx context.Context) ([]Insight, error) {
	now := g.now()
	var out []Insight

	bns, err := g.st.LatestBottlenecks(ctx, maxBottleneckInsights)
	if err != nil {
		return nil, err
	}
	for _, b := range bns {
		out = append(out, fromBottleneck(b))
	}

	regions, err := g.st.RegionalOutcomes(ctx, now.AddDate(0, 0, -7), now)
	if err != nil {
		return nil, err
	}
	for _, r := range regions {
		if ins, ok := fromRegion(r); ok {
			out = append(out, ins)
		}
	}

	volume, err := g.st.DailyVolume(ctx, now.AddDate(0, 0, -2), now)
	if err != nil {
		return nil, err
	}
	if ins, ok := fromVolume(volume); ok {
		out = append(out, ins)
	}

	sort.SliceStable(out, func(a, b int) bool {
		return store.SeverityRank(out[a].Severity) > store.SeverityRank(out[b].Severity)
	})

	if len(out) > 0 {
		g.logger.Info("insights generated", "count", len(out))
		g.hub.Broadcast(fanout.EventNewInsights, out)
	}
	return out, nil
}

func fromBottleneck(b store.Bottleneck) Insight {
	rec := ""
	if len(b.Recommendations) > 0 {
		rec = b.Recommendations[0]
	}
	return Insight{
		Type:     TypeBottleneck,
		Severity: b.Severity,
		Title:    fmt.Sprintf("Bottleneck at %s", b.Stage),
		Description: fmt.Sprintf("%.0f%% of %d cards exceeded the delay threshold at %s (p95 %d min)",
			b.DelayRatio*100, b.SampleCount, b.Stage, b.P95Minutes),
		Recommendation: rec,
		AffectedCount:  b.DelayedCount,
	}
}

func fromRegion(r store.RegionalOutcome) (Insight, bool) {
	if r.Total < minRegionSamples {
		return Insight{}, false
	}
	rate := r.SuccessRate()
	if rate >= minSuccessRate {
		return Insight{}, false
	}
	severity := analytics.SeverityMedium
	if rate < 0.75 {
		severity = analytics.SeverityHigh
	}
	return Insight{
		Type:     TypeRegionalRisk,
		Severity: severity,
		Title:    fmt.Sprintf("Low delivery success in %s region", r.Region),
		Description: fmt.Sprintf("Only %.0f%% of %d journeys in %s reached delivery this week",
			rate*100, r.Total, r.Region),
		Recommendation: "Review courier performance and address quality for this region",
		AffectedCount:  r.Total - r.Delivered,
	}, true
}

func fromVolume(daily []store.DailyCount) (Insight, bool) {
	if len(daily) < 2 {
		return Insight{}, false
	}
	prev := daily[len(daily)-2]
	cur := daily[len(daily)-1]
	if prev.Count == 0 {
		return Insight{}, false
	}
	delta := float64(cur.Count-prev.Count) / float64(prev.Count)
	if delta > -volumeDeltaThreshold && delta < volumeDeltaThreshold {
		return Insight{}, false
	}
	direction := "rose"
	rec := "Confirm downstream embossing and dispatch capacity for the surge"
	magnitude := delta
	if delta < 0 {
		direction = "dropped"
		rec = "Check upstream bank feed health for missing creation events"
		magnitude = -delta
	}
	return Insight{
		Type:     TypeVolumeAnomaly,
		Severity: analytics.SeverityMedium,
		Title:    "Daily volume anomaly",
		Description: fmt.Sprintf("Card creations %s %.0f%% day over day (%d to %d)",
			direction, magnitude*100, prev.Count, cur.Count),
		Recommendation: rec,
		AffectedCount:  cur.Count,
	}, true
}
