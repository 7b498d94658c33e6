package journey

import (
	"errors"
	"testing"
	"time"
)

func TestNewWritesFirstEvent(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	j := New("CARD1", "CUST1", PriorityExpress, Attributes{Address: "12 George St, Sydney NSW"}, now)
	if j.CurrentStage != StageCreated {
		t.Fatalf("expected CREATED, got %s", j.CurrentStage)
	}
	if len(j.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(j.Events))
	}
	if j.Events[0].PreviousStage != nil {
		t.Fatalf("first event must have nil previous stage")
	}
	if j.Tags["region"] != "metro" {
		t.Fatalf("expected metro region, got %q", j.Tags["region"])
	}
	// EXPRESS in metro: 72h * 1.0
	if got := j.EstimatedCompletion.Sub(now); got != 72*time.Hour {
		t.Fatalf("expected 72h SLA, got %v", got)
	}
}

func TestAdvanceBackfillsDuration(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	j := New("CARD1", "CUST1", PriorityStandard, Attributes{}, now)
	if _, err := j.Advance(StageQueued, Context{Source: "bank"}, now.Add(90*time.Minute)); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if j.CurrentStage != StageQueued {
		t.Fatalf("expected QUEUED, got %s", j.CurrentStage)
	}
	if len(j.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(j.Events))
	}
	if d := j.Events[0].DurationMinutes; d == nil || *d != 90 {
		t.Fatalf("expected duration 90 on previous event, got %v", d)
	}
	if j.Events[1].DurationMinutes != nil {
		t.Fatalf("last event must not carry a duration yet")
	}
	if ps := j.Events[1].PreviousStage; ps == nil || *ps != StageCreated {
		t.Fatalf("expected previous stage CREATED, got %v", ps)
	}
}

func TestAdvanceRejectsInvalidTransition(t *testing.T) {
	now := time.Now().UTC()
	j := New("CARD1", "CUST1", PriorityStandard, Attributes{}, now)
	before := len(j.Events)
	_, err := j.Advance(StageProcessingFailed, Context{}, now.Add(time.Minute))
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if len(j.Events) != before {
		t.Fatalf("invalid transition must not append events")
	}
	if j.CurrentStage != StageCreated {
		t.Fatalf("stage changed on invalid transition")
	}
}

func TestFailureIncrementsRetryCountAndSticksReason(t *testing.T) {
	now := time.Now().UTC()
	j := New("CARD1", "CUST1", PriorityStandard, Attributes{}, now)
	steps := []Stage{StageQueued, StageProcessing}
	for i, s := range steps {
		if _, err := j.Advance(s, Context{}, now.Add(time.Duration(i+1)*time.Hour)); err != nil {
			t.Fatalf("advance %s: %v", s, err)
		}
	}
	if _, err := j.Advance(StageProcessingFailed, Context{FailureReason: "embossing jam"}, now.Add(3*time.Hour)); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if j.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", j.RetryCount)
	}
	if j.FailureReason != "embossing jam" {
		t.Fatalf("expected failure reason set, got %q", j.FailureReason)
	}
	// retry back to QUEUED clears the reason
	if _, err := j.Advance(StageQueued, Context{}, now.Add(4*time.Hour)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if j.FailureReason != "" {
		t.Fatalf("retry-success must clear failure reason, got %q", j.FailureReason)
	}
	if j.RetryCount != 1 {
		t.Fatalf("retry-success must not change retry count")
	}
}

func TestDeliveredStampsActualCompletion(t *testing.T) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	j := New("CARD1", "CUST1", PriorityExpress, Attributes{Address: "Perth WA"}, now)
	path := []Stage{
		StageQueued, StageProcessing, StageProcessingComplete,
		StageDispatched, StageInTransit, StageOutForDelivery, StageDelivered,
	}
	at := now
	for _, s := range path {
		at = at.Add(6 * time.Hour)
		if _, err := j.Advance(s, Context{Source: "test"}, at); err != nil {
			t.Fatalf("advance %s: %v", s, err)
		}
	}
	if j.ActualCompletion == nil || !j.ActualCompletion.Equal(at) {
		t.Fatalf("expected actual completion %v, got %v", at, j.ActualCompletion)
	}
	if !j.CurrentStage.IsTerminal() {
		t.Fatalf("DELIVERED must be terminal")
	}
	if _, err := j.Advance(StageQueued, Context{}, at.Add(time.Hour)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("terminal journey must reject advance, got %v", err)
	}
}

func TestFiftyHourDirectDelivery(t *testing.T) {
	// a direct CREATED -> DELIVERED jump after 50h: two events, first event
	// back-filled with 3000 minutes, actual completion stamped.
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	at := now.Add(50 * time.Hour)
	j := New("CARD1", "CUST1", PriorityExpress, Attributes{}, now)
	if _, err := j.Advance(StageDelivered, Context{Source: "logistics"}, at); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if len(j.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(j.Events))
	}
	if d := j.Events[0].DurationMinutes; d == nil || *d != 3000 {
		t.Fatalf("expected 3000 minutes, got %v", d)
	}
	if j.ActualCompletion == nil || !j.ActualCompletion.Equal(at) {
		t.Fatalf("expected actual completion stamped at %v, got %v", at, j.ActualCompletion)
	}
}

func TestCurrentStageAlwaysMatchesLastEvent(t *testing.T) {
	now := time.Now().UTC()
	j := New("CARD1", "CUST1", PriorityUrgent, Attributes{}, now)
	path := []Stage{
		StageQueued, StageProcessing, StageProcessingFailed, StageQueued,
		StageProcessing, StageProcessingComplete, StageDispatched,
		StageInTransit, StageOutForDelivery, StageDeliveryFailed,
		StageOutForDelivery, StageDelivered,
	}
	for i, s := range path {
		if _, err := j.Advance(s, Context{}, now.Add(time.Duration(i+1)*time.Hour)); err != nil {
			t.Fatalf("advance %s: %v", s, err)
		}
		if j.CurrentStage != j.LastEvent().Stage {
			t.Fatalf("stage invariant broken at %s", s)
		}
	}
	if j.RetryCount != 2 {
		t.Fatalf("expected 2 failure events counted, got %d", j.RetryCount)
	}
	// all but the last event carry a duration
	for i, e := range j.Events {
		last := i == len(j.Events)-1
		if last && e.DurationMinutes != nil {
			t.Fatalf("last event must not carry a duration")
		}
		if !last && e.DurationMinutes == nil {
			t.Fatalf("event %d missing back-filled duration", i)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	now := time.Now().UTC()
	j := New("CARD1", "CUST1", PriorityStandard, Attributes{Tags: map[string]string{"channel": "branch"}}, now)
	cp := j.Clone()
	if _, err := cp.Advance(StageQueued, Context{}, now.Add(time.Hour)); err != nil {
		t.Fatalf("advance clone: %v", err)
	}
	if len(j.Events) != 1 || j.CurrentStage != StageCreated {
		t.Fatalf("mutating the clone leaked into the original")
	}
}
