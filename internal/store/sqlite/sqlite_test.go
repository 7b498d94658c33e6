package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/cardflow/internal/journey"
	"github.com/loykin/cardflow/internal/store"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "cardflow.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return db
}

func TestPutGetRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	j := journey.New("CARD1", "CUST1", journey.PriorityExpress, journey.Attributes{
		CustomerName: "Grace Hopper",
		Address:      "200 George St, Sydney",
	}, now)
	if err := db.Put(ctx, j); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db.Put(ctx, j); !errors.Is(err, journey.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	got, err := db.GetByID(ctx, "CARD1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentStage != journey.StageCreated || len(got.Events) != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Tags["region"] != "metro" {
		t.Fatalf("tags lost in round trip: %v", got.Tags)
	}
	if _, err := db.GetByID(ctx, "missing"); !errors.Is(err, journey.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAtomicUpdateVersionGuard(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	j := journey.New("CARD1", "CUST1", journey.PriorityStandard, journey.Attributes{}, now)
	if err := db.Put(ctx, j); err != nil {
		t.Fatalf("put: %v", err)
	}

	// a competing write lands between our read and our commit
	_, err := db.AtomicUpdate(ctx, "CARD1", func(doc *journey.Journey) error {
		if _, err := db.AtomicUpdate(ctx, "CARD1", func(inner *journey.Journey) error {
			_, err := inner.Advance(journey.StageQueued, journey.Context{}, now.Add(time.Minute))
			return err
		}); err != nil {
			t.Fatalf("inner update: %v", err)
		}
		_, err := doc.Advance(journey.StageQueued, journey.Context{}, now.Add(time.Minute))
		return err
	})
	if !errors.Is(err, journey.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := db.GetByID(ctx, "CARD1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Events) != 2 {
		t.Fatalf("expected the inner write only, got %d events", len(got.Events))
	}
}

func TestEventTableTracksBackfill(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	j := journey.New("CARD1", "CUST1", journey.PriorityStandard, journey.Attributes{}, base)
	if err := db.Put(ctx, j); err != nil {
		t.Fatalf("put: %v", err)
	}
	for i, s := range []journey.Stage{journey.StageQueued, journey.StageProcessing} {
		at := base.Add(time.Duration(i+1) * 2 * time.Hour)
		if _, err := db.AtomicUpdate(ctx, "CARD1", func(doc *journey.Journey) error {
			_, err := doc.Advance(s, journey.Context{}, at)
			return err
		}); err != nil {
			t.Fatalf("advance %s: %v", s, err)
		}
	}
	durs, err := db.StageDurations(ctx, base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("durations: %v", err)
	}
	// two back-filled events: CREATED (120m) and QUEUED (120m)
	if len(durs) != 2 {
		t.Fatalf("expected 2 recorded durations, got %d", len(durs))
	}
	for _, d := range durs {
		if d.DurationMinutes != 120 {
			t.Fatalf("expected 120 minutes for %s, got %d", d.Stage, d.DurationMinutes)
		}
	}
}

func TestAggregatesAndSearch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"CARD1", "CARD2", "CARD3"} {
		j := journey.New(id, "CUST1", journey.PriorityStandard, journey.Attributes{
			CustomerName: "Mary Jackson",
			Address:      "Melbourne VIC",
		}, base.AddDate(0, 0, i))
		if err := db.Put(ctx, j); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	vols, err := db.DailyVolume(ctx, base, base.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("volume: %v", err)
	}
	if len(vols) != 3 {
		t.Fatalf("expected 3 days, got %d", len(vols))
	}
	found, err := db.Search(ctx, "mary", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 3 {
		t.Fatalf("expected 3 by customer name, got %d", len(found))
	}
	counts, err := db.CountByStage(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[journey.StageCreated] != 3 {
		t.Fatalf("expected 3 in CREATED, got %d", counts[journey.StageCreated])
	}
	delayed, err := db.FindDelayed(ctx, base.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("delayed: %v", err)
	}
	if len(delayed) != 2 || delayed[0].ID != "CARD1" {
		t.Fatalf("expected CARD1, CARD2 oldest first, got %v", delayed)
	}
}

func TestBottleneckUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	b := store.Bottleneck{
		Stage: journey.StageProcessing, Day: "2026-01-10",
		SampleCount: 10, MeanMinutes: 500, MedianMinutes: 480, P95Minutes: 900,
		MinMinutes: 60, MaxMinutes: 1000, DelayedCount: 4, DelayRatio: 0.4,
		Severity: "critical", Recommendations: []string{"scale embossing line"},
		ImpactScore: 88, ComputedAt: time.Now().UTC(),
	}
	if err := db.UpsertBottleneck(ctx, b); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	b.SampleCount = 11
	if err := db.UpsertBottleneck(ctx, b); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}
	got, err := db.BottlenecksOn(ctx, "2026-01-10")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].SampleCount != 11 {
		t.Fatalf("expected single overwritten summary, got %+v", got)
	}
	if got[0].Recommendations[0] != "scale embossing line" {
		t.Fatalf("recommendations lost: %v", got[0].Recommendations)
	}
	latest, err := db.LatestBottlenecks(ctx, 5)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 1 {
		t.Fatalf("expected 1 latest, got %d", len(latest))
	}
}
