package analytics

import (
	"fmt"

	"github.com/loykin/cardflow/internal/journey"
	"github.com/loykin/cardflow/internal/store"
)

// stageAdvice keys operational guidance by stage identity.
var stageAdvice = map[journey.Stage]string{
	journey.StageQueued:         "Review embossing queue capacity and batch release schedule",
	journey.StageProcessing:     "Check embossing line throughput and machine maintenance backlog",
	journey.StageDispatched:     "Confirm courier pickup SLAs and dispatch cut-off times",
	journey.StageInTransit:      "Audit line-haul routes for this corridor with the logistics partner",
	journey.StageOutForDelivery: "Increase delivery attempts per run or extend delivery windows",
	journey.StageDeliveryFailed: "Trigger customer contact before the next redelivery attempt",
}

// recommend evaluates the ordered rule list top-down and truncates the result.
// Rule order: severity tier, delay-ratio tier, duration tier, stage-specific,
// volume.
func recommend(b store.Bottleneck, th Thresholds) []string {
	var recs []string

	switch b.Severity {
	case SeverityCritical:
		recs = append(recs, fmt.Sprintf("Critical bottleneck at %s: immediate operational intervention required", b.Stage))
	case SeverityHigh:
		recs = append(recs, fmt.Sprintf("High delay pressure at %s: schedule a capacity review this week", b.Stage))
	case SeverityMedium:
		recs = append(recs, fmt.Sprintf("Moderate delays at %s: monitor the trend over the next runs", b.Stage))
	}

	switch {
	case b.DelayRatio > 0.5:
		recs = append(recs, fmt.Sprintf("More than half of %s samples exceed the delay threshold", b.Stage))
	case b.DelayRatio > 0.3:
		recs = append(recs, fmt.Sprintf("%.0f%% of %s samples exceed the delay threshold", b.DelayRatio*100, b.Stage))
	case b.DelayRatio > 0.15:
		recs = append(recs, fmt.Sprintf("Delay ratio at %s is elevated (%.0f%%)", b.Stage, b.DelayRatio*100))
	}

	switch {
	case b.P95Minutes > 2*th.DelayMinutes:
		recs = append(recs, fmt.Sprintf("Worst-case dwell at %s reaches %d minutes, over twice the threshold", b.Stage, b.P95Minutes))
	case b.MeanMinutes > float64(th.DelayMinutes):
		recs = append(recs, fmt.Sprintf("Average dwell at %s (%.0f min) already exceeds the delay threshold", b.Stage, b.MeanMinutes))
	case b.MeanMinutes > float64(th.DelayMinutes)/2:
		recs = append(recs, fmt.Sprintf("Average dwell at %s is above half the delay threshold", b.Stage))
	}

	if advice, ok := stageAdvice[b.Stage]; ok {
		recs = append(recs, advice)
	}

	if b.SampleCount > th.HighVolume {
		recs = append(recs, fmt.Sprintf("High volume (%d cards) amplifies the impact; prioritize this stage", b.SampleCount))
	}

	if len(recs) > th.MaxRecommendations {
		recs = recs[:th.MaxRecommendations]
	}
	return recs
}
