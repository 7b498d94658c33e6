package insight

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loykin/cardflow/internal/analytics"
	"github.com/loykin/cardflow/internal/fanout"
	"github.com/loykin/cardflow/internal/journey"
	"github.com/loykin/cardflow/internal/store"
)

type captureHub struct {
	mu     sync.Mutex
	events []string
}

func (c *captureHub) Broadcast(eventType string, _ any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, eventType)
}

func (c *captureHub) count(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e == eventType {
			n++
		}
	}
	return n
}

func fixedClock() (func() time.Time, time.Time) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return now }, now
}

func TestGenerateFromBottlenecks(t *testing.T) {
	clock, now := fixedClock()
	m := store.NewMemory()
	hub := &captureHub{}
	g := NewGenerator(m, hub, slog.Default()).WithClock(clock)

	if err := m.UpsertBottleneck(context.Background(), store.Bottleneck{
		Stage: journey.StageProcessing, Day: store.Day(now),
		SampleCount: 20, DelayedCount: 8, DelayRatio: 0.4,
		P95Minutes: 900, Severity: analytics.SeverityCritical,
		Recommendations: []string{"Check embossing line throughput"},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	out, err := g.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one insight, got %d", len(out))
	}
	ins := out[0]
	if ins.Type != TypeBottleneck || ins.Severity != analytics.SeverityCritical {
		t.Fatalf("unexpected insight: %+v", ins)
	}
	if ins.AffectedCount != 8 || ins.Recommendation == "" {
		t.Fatalf("unexpected insight detail: %+v", ins)
	}
	if hub.count(fanout.EventNewInsights) != 1 {
		t.Fatalf("expected new_insights broadcast")
	}
}

func TestGenerateRegionalRisk(t *testing.T) {
	clock, now := fixedClock()
	m := store.NewMemory()
	g := NewGenerator(m, &captureHub{}, slog.Default()).WithClock(clock)

	// 12 remote journeys, 6 delivered: 50% success, flagged high
	for i := 0; i < 12; i++ {
		id := "R" + string(rune('A'+i))
		j := journey.New(id, "CUST", journey.PriorityStandard,
			journey.Attributes{Address: "12 Outback Rd"}, now.Add(-24*time.Hour))
		if i < 6 {
			if _, err := j.Advance(journey.StageDelivered, journey.Context{}, now.Add(-time.Hour)); err != nil {
				t.Fatalf("advance: %v", err)
			}
		}
		if err := m.Put(context.Background(), j); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	out, err := g.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var found *Insight
	for i := range out {
		if out[i].Type == TypeRegionalRisk {
			found = &out[i]
		}
	}
	if found == nil {
		t.Fatalf("expected a regional risk insight, got %+v", out)
	}
	if found.Severity != analytics.SeverityHigh || found.AffectedCount != 6 {
		t.Fatalf("unexpected insight: %+v", found)
	}
}

func TestGenerateVolumeAnomaly(t *testing.T) {
	clock, now := fixedClock()
	m := store.NewMemory()
	g := NewGenerator(m, &captureHub{}, slog.Default()).WithClock(clock)

	// 10 yesterday, 4 today: a 60% drop
	put := func(id string, at time.Time) {
		j := journey.New(id, "CUST", journey.PriorityStandard, journey.Attributes{}, at)
		if err := m.Put(context.Background(), j); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	for i := 0; i < 10; i++ {
		put("Y"+string(rune('A'+i)), now.AddDate(0, 0, -1))
	}
	for i := 0; i < 4; i++ {
		put("T"+string(rune('A'+i)), now.Add(-time.Hour))
	}

	out, err := g.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var found *Insight
	for i := range out {
		if out[i].Type == TypeVolumeAnomaly {
			found = &out[i]
		}
	}
	if found == nil {
		t.Fatalf("expected a volume anomaly insight, got %+v", out)
	}
	if found.AffectedCount != 4 {
		t.Fatalf("unexpected insight: %+v", found)
	}
}

func TestGenerateEmptyStaysQuiet(t *testing.T) {
	clock, _ := fixedClock()
	hub := &captureHub{}
	g := NewGenerator(store.NewMemory(), hub, slog.Default()).WithClock(clock)
	out, err := g.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no insights, got %+v", out)
	}
	if hub.count(fanout.EventNewInsights) != 0 {
		t.Fatalf("empty result must not broadcast")
	}
}

func TestGenerateSortsBySeverity(t *testing.T) {
	clock, now := fixedClock()
	m := store.NewMemory()
	g := NewGenerator(m, &captureHub{}, slog.Default()).WithClock(clock)

	day := store.Day(now)
	for _, b := range []store.Bottleneck{
		{Stage: journey.StageQueued, Day: day, Severity: analytics.SeverityMedium, DelayRatio: 0.12},
		{Stage: journey.StageInTransit, Day: day, Severity: analytics.SeverityCritical, DelayRatio: 0.5},
	} {
		if err := m.UpsertBottleneck(context.Background(), b); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	out, err := g.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected two insights, got %d", len(out))
	}
	if out[0].Severity != analytics.SeverityCritical {
		t.Fatalf("insights not severity sorted: %+v", out)
	}
}
