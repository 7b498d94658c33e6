package schedule

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseEvery(t *testing.T) {
	if _, err := parseEvery("@every 100ms"); err != nil {
		t.Fatalf("parse every: %v", err)
	}
	if _, err := parseEvery("* * * * *"); err == nil {
		t.Fatalf("expected error for unsupported cron expr")
	}
	if _, err := parseEvery("@every -5s"); err == nil {
		t.Fatalf("expected error for non-positive duration")
	}
}

func TestAddValidation(t *testing.T) {
	sch := NewScheduler(slog.Default())
	run := func(context.Context) error { return nil }
	if err := sch.Add(&Job{Schedule: "@every 1s", Run: run}); err == nil {
		t.Fatalf("expected error for missing name")
	}
	if err := sch.Add(&Job{Name: "a", Schedule: "bad", Run: run}); err == nil {
		t.Fatalf("expected error for bad schedule")
	}
	if err := sch.Add(&Job{Name: "a", Schedule: "@every 1s"}); err == nil {
		t.Fatalf("expected error for missing run function")
	}
	if err := sch.Add(&Job{Name: "a", Schedule: "@every 1s", Run: run}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := sch.Add(&Job{Name: "a", Schedule: "@every 1s", Run: run}); err == nil {
		t.Fatalf("expected error for duplicate name")
	}
}

func TestSchedulerRunsAndNonOverlap(t *testing.T) {
	sch := NewScheduler(slog.Default())
	var runs, active, maxActive atomic.Int32
	job := &Job{
		Name:     "analysis",
		Schedule: "@every 30ms",
		// overlap not allowed -> concurrent runs never exceed one
		Run: func(ctx context.Context) error {
			runs.Add(1)
			cur := active.Add(1)
			for {
				prev := maxActive.Load()
				if cur <= prev || maxActive.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(80 * time.Millisecond)
			active.Add(-1)
			return nil
		},
	}
	if err := sch.Add(job); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := sch.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sch.Stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && runs.Load() < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	if runs.Load() < 2 {
		t.Fatalf("expected at least two runs, got %d", runs.Load())
	}
	if maxActive.Load() > 1 {
		t.Fatalf("non-overlapping job overlapped: %d concurrent runs", maxActive.Load())
	}
}

func TestSchedulerAllowOverlapRunsConcurrently(t *testing.T) {
	sch := NewScheduler(slog.Default())
	var active, maxActive atomic.Int32
	job := &Job{
		Name:         "export",
		Schedule:     "@every 20ms",
		AllowOverlap: true,
		Run: func(ctx context.Context) error {
			cur := active.Add(1)
			for {
				prev := maxActive.Load()
				if cur <= prev || maxActive.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(120 * time.Millisecond)
			active.Add(-1)
			return nil
		},
	}
	if err := sch.Add(job); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := sch.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sch.Stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && maxActive.Load() < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	if maxActive.Load() < 2 {
		t.Fatalf("overlapping job never ran concurrently")
	}
}

func TestSchedulerStartTwice(t *testing.T) {
	sch := NewScheduler(slog.Default())
	if err := sch.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sch.Stop()
	if err := sch.Start(context.Background()); err == nil {
		t.Fatalf("expected error on second start")
	}
}

func TestSchedulerContextCancelStopsTicking(t *testing.T) {
	sch := NewScheduler(slog.Default())
	var runs atomic.Int32
	if err := sch.Add(&Job{
		Name:     "short",
		Schedule: "@every 20ms",
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := sch.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(70 * time.Millisecond)
	cancel()
	settled := runs.Load()
	time.Sleep(100 * time.Millisecond)
	// one in-flight tick may still land right after cancel
	if runs.Load() > settled+1 {
		t.Fatalf("ticker kept firing after cancel: %d -> %d", settled, runs.Load())
	}
	sch.Stop()
}
