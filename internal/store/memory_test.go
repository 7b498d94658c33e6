package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loykin/cardflow/internal/journey"
)

func seedJourney(t *testing.T, m *Memory, id string, created time.Time) *journey.Journey {
	t.Helper()
	j := journey.New(id, "CUST-"+id, journey.PriorityStandard, journey.Attributes{
		CustomerName: "Ada Lovelace",
		Address:      "1 Flinders St, Melbourne",
	}, created)
	if err := m.Put(context.Background(), j); err != nil {
		t.Fatalf("put %s: %v", id, err)
	}
	return j
}

func TestPutDuplicate(t *testing.T) {
	m := NewMemory()
	now := time.Now().UTC()
	seedJourney(t, m, "CARD1", now)
	j := journey.New("CARD1", "CUST2", journey.PriorityExpress, journey.Attributes{}, now)
	if err := m.Put(context.Background(), j); !errors.Is(err, journey.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestGetUnknown(t *testing.T) {
	m := NewMemory()
	if _, err := m.GetByID(context.Background(), "nope"); !errors.Is(err, journey.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAtomicUpdateConflict(t *testing.T) {
	m := NewMemory()
	now := time.Now().UTC()
	seedJourney(t, m, "CARD1", now)

	// two goroutines race one CAS round each: exactly one must win
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = m.AtomicUpdate(context.Background(), "CARD1", func(j *journey.Journey) error {
				_, err := j.Advance(journey.StageQueued, journey.Context{}, time.Now().UTC())
				if err != nil {
					return err
				}
				time.Sleep(10 * time.Millisecond) // widen the race window
				return nil
			})
		}(i)
	}
	close(start)
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, journey.ErrConflict):
			// lost the version race
		case errors.Is(err, journey.ErrInvalidTransition):
			// read after the winner committed; same-stage advance is invalid
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winning write, got %d", winners)
	}
	got, err := m.GetByID(context.Background(), "CARD1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Events) != 2 {
		t.Fatalf("expected exactly 2 events after one winning write, got %d", len(got.Events))
	}
}

func TestSearchAndDelayed(t *testing.T) {
	m := NewMemory()
	now := time.Now().UTC()
	old := now.Add(-72 * time.Hour)
	seedJourney(t, m, "CARD1", old)
	seedJourney(t, m, "CARD2", now)
	seedJourney(t, m, "OTHER9", now.Add(-100*time.Hour))

	got, err := m.Search(context.Background(), "card", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}

	delayed, err := m.FindDelayed(context.Background(), now.Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("delayed: %v", err)
	}
	if len(delayed) != 2 {
		t.Fatalf("expected 2 delayed, got %d", len(delayed))
	}
	if delayed[0].ID != "OTHER9" {
		t.Fatalf("expected oldest first, got %s", delayed[0].ID)
	}
}

func TestBottleneckUpsertIdempotent(t *testing.T) {
	m := NewMemory()
	b := Bottleneck{Stage: journey.StageProcessing, Day: "2026-01-10", SampleCount: 10, DelayRatio: 0.4, Severity: "critical"}
	if err := m.UpsertBottleneck(context.Background(), b); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	b.SampleCount = 12
	if err := m.UpsertBottleneck(context.Background(), b); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}
	got, err := m.BottlenecksOn(context.Background(), "2026-01-10")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one summary per (stage, day), got %d", len(got))
	}
	if got[0].SampleCount != 12 {
		t.Fatalf("expected overwrite, got count %d", got[0].SampleCount)
	}
}

func TestLatestBottleneckOrdering(t *testing.T) {
	m := NewMemory()
	day := "2026-01-10"
	for _, b := range []Bottleneck{
		{Stage: journey.StageQueued, Day: day, Severity: "medium", DelayRatio: 0.15},
		{Stage: journey.StageProcessing, Day: day, Severity: "critical", DelayRatio: 0.35},
		{Stage: journey.StageInTransit, Day: day, Severity: "high", DelayRatio: 0.25},
		{Stage: journey.StageDispatched, Day: day, Severity: "high", DelayRatio: 0.28},
		{Stage: journey.StageOutForDelivery, Day: "2026-01-09", Severity: "critical", DelayRatio: 0.9},
	} {
		if err := m.UpsertBottleneck(context.Background(), b); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	got, err := m.LatestBottlenecks(context.Background(), 3)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3, got %d", len(got))
	}
	if got[0].Stage != journey.StageProcessing {
		t.Fatalf("expected critical first, got %s", got[0].Stage)
	}
	// stale day excluded even with a worse ratio
	for _, b := range got {
		if b.Day != day {
			t.Fatalf("expected only latest day, got %s", b.Day)
		}
	}
	if got[1].Stage != journey.StageDispatched {
		t.Fatalf("expected higher delay ratio first within a tier, got %s", got[1].Stage)
	}
}
