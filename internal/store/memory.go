package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loykin/cardflow/internal/journey"
)

// Memory is an in-process Store used as the default backend and in tests.
// AtomicUpdate runs the mutation against a snapshot and swaps it back only
// when the stored version is unchanged, so concurrent writers observe real
// write conflicts just like the SQL backends.
type Memory struct {
	mu          sync.RWMutex
	journeys    map[string]*journey.Journey
	bottlenecks map[string]Bottleneck // key: stage|day
}

func NewMemory() *Memory {
	return &Memory{
		journeys:    make(map[string]*journey.Journey),
		bottlenecks: make(map[string]Bottleneck),
	}
}

func (m *Memory) Close() error                         { return nil }
func (m *Memory) Ping(_ context.Context) error         { return nil }
func (m *Memory) EnsureSchema(_ context.Context) error { return nil }

func (m *Memory) Put(_ context.Context, j *journey.Journey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.journeys[j.ID]; ok {
		return journey.Duplicatef(j.ID)
	}
	m.journeys[j.ID] = j.Clone()
	return nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*journey.Journey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.journeys[id]
	if !ok {
		return nil, journey.NotFoundf(id)
	}
	return j.Clone(), nil
}

func (m *Memory) AtomicUpdate(_ context.Context, id string, fn func(*journey.Journey) error) (*journey.Journey, error) {
	m.mu.RLock()
	cur, ok := m.journeys[id]
	var snap *journey.Journey
	if ok {
		snap = cur.Clone()
	}
	m.mu.RUnlock()
	if !ok {
		return nil, journey.NotFoundf(id)
	}

	readVersion := snap.Version
	if err := fn(snap); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.journeys[id]
	if !ok {
		return nil, journey.NotFoundf(id)
	}
	if stored.Version != readVersion {
		return nil, journey.Conflictf(id)
	}
	m.journeys[id] = snap.Clone()
	return snap, nil
}

func (m *Memory) Search(_ context.Context, q string, limit int) ([]*journey.Journey, error) {
	needle := strings.ToLower(q)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*journey.Journey
	for _, j := range m.journeys {
		if strings.Contains(strings.ToLower(j.ID), needle) ||
			strings.Contains(strings.ToLower(j.SubjectID), needle) ||
			strings.Contains(strings.ToLower(j.CustomerName), needle) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) FindDelayed(_ context.Context, cutoff time.Time) ([]*journey.Journey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*journey.Journey
	for _, j := range m.journeys {
		if !j.CurrentStage.IsTerminal() && j.CreatedAt.Before(cutoff) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (m *Memory) CountByStage(_ context.Context) (map[journey.Stage]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[journey.Stage]int)
	for _, j := range m.journeys {
		counts[j.CurrentStage]++
	}
	return counts, nil
}

func (m *Memory) StageDurations(_ context.Context, from, to time.Time) ([]StageDuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []StageDuration
	for _, j := range m.journeys {
		for _, e := range j.Events {
			if e.DurationMinutes == nil {
				continue
			}
			if e.OccurredAt.Before(from) || !e.OccurredAt.Before(to) {
				continue
			}
			out = append(out, StageDuration{
				Stage:           e.Stage,
				DurationMinutes: *e.DurationMinutes,
				OccurredAt:      e.OccurredAt,
			})
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].OccurredAt.Before(out[b].OccurredAt) })
	return out, nil
}

func (m *Memory) RegionalOutcomes(_ context.Context, from, to time.Time) ([]RegionalOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg := make(map[string]*RegionalOutcome)
	for _, j := range m.journeys {
		if j.CreatedAt.Before(from) || !j.CreatedAt.Before(to) {
			continue
		}
		region := j.Region()
		if region == "" {
			region = "unknown"
		}
		r, ok := agg[region]
		if !ok {
			r = &RegionalOutcome{Region: region}
			agg[region] = r
		}
		r.Total++
		if j.CurrentStage == journey.StageDelivered {
			r.Delivered++
		}
		if j.RetryCount > 0 {
			r.Failed++
		}
	}
	out := make([]RegionalOutcome, 0, len(agg))
	for _, r := range agg {
		out = append(out, *r)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Region < out[b].Region })
	return out, nil
}

func (m *Memory) DailyVolume(_ context.Context, from, to time.Time) ([]DailyCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for _, j := range m.journeys {
		if j.CreatedAt.Before(from) || !j.CreatedAt.Before(to) {
			continue
		}
		counts[Day(j.CreatedAt)]++
	}
	out := make([]DailyCount, 0, len(counts))
	for d, c := range counts {
		out = append(out, DailyCount{Day: d, Count: c})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Day < out[b].Day })
	return out, nil
}

func (m *Memory) StageDailyStats(_ context.Context, from, to time.Time) ([]StageDayStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type key struct {
		day   string
		stage journey.Stage
	}
	sums := make(map[key]*StageDayStat)
	totals := make(map[key]int64)
	for _, j := range m.journeys {
		for _, e := range j.Events {
			if e.OccurredAt.Before(from) || !e.OccurredAt.Before(to) {
				continue
			}
			k := key{Day(e.OccurredAt), e.Stage}
			s, ok := sums[k]
			if !ok {
				s = &StageDayStat{Day: k.day, Stage: k.stage}
				sums[k] = s
			}
			s.Count++
			if e.DurationMinutes != nil {
				totals[k] += *e.DurationMinutes
			}
		}
	}
	out := make([]StageDayStat, 0, len(sums))
	for k, s := range sums {
		if s.Count > 0 {
			s.MeanMinutes = float64(totals[k]) / float64(s.Count)
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Day != out[b].Day {
			return out[a].Day < out[b].Day
		}
		return out[a].Stage < out[b].Stage
	})
	return out, nil
}

func (m *Memory) UpsertBottleneck(_ context.Context, b Bottleneck) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bottlenecks[string(b.Stage)+"|"+b.Day] = b
	return nil
}

func (m *Memory) BottlenecksOn(_ context.Context, day string) ([]Bottleneck, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Bottleneck
	for _, b := range m.bottlenecks {
		if b.Day == day {
			out = append(out, b)
		}
	}
	sortBottlenecks(out)
	return out, nil
}

func (m *Memory) LatestBottlenecks(_ context.Context, limit int) ([]Bottleneck, error) {
	m.mu.RLock()
	latestDay := ""
	for _, b := range m.bottlenecks {
		if b.Day > latestDay {
			latestDay = b.Day
		}
	}
	m.mu.RUnlock()
	if latestDay == "" {
		return nil, nil
	}
	out, err := m.BottlenecksOn(context.Background(), latestDay)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortBottlenecks(bs []Bottleneck) {
	sort.Slice(bs, func(a, b int) bool {
		ra, rb := SeverityRank(bs[a].Severity), SeverityRank(bs[b].Severity)
		if ra != rb {
			return ra > rb
		}
		if bs[a].DelayRatio != bs[b].DelayRatio {
			return bs[a].DelayRatio > bs[b].DelayRatio
		}
		return bs[a].Stage < bs[b].Stage
	})
}
