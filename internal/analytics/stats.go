package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/loykin/cardflow/internal/journey"
	"github.com/loykin/cardflow/internal/store"
)

// Severity classes for a stage bottleneck.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Thresholds parameterizes the bottleneck computation. Given the same event
// window and thresholds the output is identical, which the tests rely on.
type Thresholds struct {
	Window             time.Duration // trailing event window
	MinSamples         int           // groups below this are skipped
	DelayMinutes       int64         // a duration above this counts as delayed
	MinInterestMinutes float64       // stages with mean below this are not bottlenecks
	HighVolume         int           // sample count that triggers the volume recommendation
	MaxRecommendations int
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Window:             7 * 24 * time.Hour,
		MinSamples:         5,
		DelayMinutes:       480,
		MinInterestMinutes: 30,
		HighVolume:         100,
		MaxRecommendations: 6,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.Window <= 0 {
		t.Window = d.Window
	}
	if t.MinSamples <= 0 {
		t.MinSamples = d.MinSamples
	}
	if t.DelayMinutes <= 0 {
		t.DelayMinutes = d.DelayMinutes
	}
	if t.MinInterestMinutes <= 0 {
		t.MinInterestMinutes = d.MinInterestMinutes
	}
	if t.HighVolume <= 0 {
		t.HighVolume = d.HighVolume
	}
	if t.MaxRecommendations <= 0 {
		t.MaxRecommendations = d.MaxRecommendations
	}
	return t
}

// Compute derives one bottleneck summary per qualifying stage from the
// observed stage durations. Pure: no clock reads, no I/O; computedAt is
// stamped by the caller.
func Compute(samples []store.StageDuration, th Thresholds, day string) []store.Bottleneck {
	th = th.withDefaults()
	groups := make(map[journey.Stage][]int64)
	for _, s := range samples {
		groups[s.Stage] = append(groups[s.Stage], s.DurationMinutes)
	}

	var out []store.Bottleneck
	for stage, durations := range groups {
		if len(durations) < th.MinSamples {
			// insufficient sample, silently skipped
			continue
		}
		sorted := append([]int64(nil), durations...)
		sort.Slice(sorted, func(a, b int) bool { return sorted[a] < sorted[b] })

		var sum int64
		delayed := 0
		for _, d := range sorted {
			sum += d
			if d > th.DelayMinutes {
				delayed++
			}
		}
		n := len(sorted)
		mean := float64(sum) / float64(n)
		if mean < th.MinInterestMinutes {
			// fast stages are not bottlenecks regardless of ratio
			continue
		}
		ratio := float64(delayed) / float64(n)
		severity := classify(ratio)
		b := store.Bottleneck{
			Stage:         stage,
			Day:           day,
			SampleCount:   n,
			MeanMinutes:   mean,
			MedianMinutes: median(sorted),
			P95Minutes:    nearestRank(sorted, 0.95),
			MinMinutes:    sorted[0],
			MaxMinutes:    sorted[n-1],
			DelayedCount:  delayed,
			DelayRatio:    ratio,
			Severity:      severity,
		}
		b.Recommendations = recommend(b, th)
		b.ImpactScore = impactScore(b)
		out = append(out, b)
	}
	sort.Slice(out, func(a, b int) bool {
		ra, rb := store.SeverityRank(out[a].Severity), store.SeverityRank(out[b].Severity)
		if ra != rb {
			return ra > rb
		}
		if out[a].DelayRatio != out[b].DelayRatio {
			return out[a].DelayRatio > out[b].DelayRatio
		}
		return out[a].Stage < out[b].Stage
	})
	return out
}

func classify(delayRatio float64) string {
	switch {
	case delayRatio > 0.30:
		return SeverityCritical
	case delayRatio > 0.20:
		return SeverityHigh
	case delayRatio > 0.10:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// nearestRank returns the p-th percentile of sorted using the nearest-rank
// method: the ceil(p*n)-th smallest value.
func nearestRank(sorted []int64, p float64) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := int(math.Ceil(float64(n) * p))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}

func median(sorted []int64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}

// impactScore blends delay ratio, affected volume and severity into a 0-100
// score: min(ratio*100, 40) + volume weight (0-30) + severity weight (0-30).
func impactScore(b store.Bottleneck) int {
	score := b.DelayRatio * 100
	if score > 40 {
		score = 40
	}
	score += float64(affectedWeight(b.SampleCount))
	score += float64(severityWeight(b.Severity))
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return int(score + 0.5)
}

func affectedWeight(count int) int {
	switch {
	case count >= 500:
		return 30
	case count >= 100:
		return 20
	case count >= 25:
		return 10
	default:
		return 0
	}
}

func severityWeight(severity string) int {
	switch severity {
	case SeverityCritical:
		return 30
	case SeverityHigh:
		return 20
	case SeverityMedium:
		return 10
	default:
		return 0
	}
}
