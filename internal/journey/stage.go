package journey

import "fmt"

// Stage is a named state in a card journey lifecycle.
type Stage string

const (
	StageCreated            Stage = "CREATED"
	StageQueued             Stage = "QUEUED"
	StageProcessing         Stage = "PROCESSING"
	StageProcessingComplete Stage = "PROCESSING_COMPLETE"
	StageProcessingFailed   Stage = "PROCESSING_FAILED"
	StageDispatched         Stage = "DISPATCHED"
	StageInTransit          Stage = "IN_TRANSIT"
	StageOutForDelivery     Stage = "OUT_FOR_DELIVERY"
	StageDelivered          Stage = "DELIVERED"
	StageDeliveryFailed     Stage = "DELIVERY_FAILED"
	StageReturned           Stage = "RETURNED"
	StageDestroyed          Stage = "DESTROYED"
)

// happyOrder positions the success path. Forward moves are valid even when
// they skip stages: partner webhooks routinely report a later stage without
// the intermediate updates ever arriving.
var happyOrder = map[Stage]int{
	StageCreated:            0,
	StageQueued:             1,
	StageProcessing:         2,
	StageProcessingComplete: 3,
	StageDispatched:         4,
	StageInTransit:          5,
	StageOutForDelivery:     6,
	StageDelivered:          7,
}

// branchEdges are the explicit failure and retry transitions. A failure stage
// is only reachable from the stage it interrupts, and leaves only via its
// retry target or the return path.
var branchEdges = map[Stage][]Stage{
	StageProcessing:       {StageProcessingFailed},
	StageOutForDelivery:   {StageDeliveryFailed},
	StageProcessingFailed: {StageQueued},
	StageDeliveryFailed:   {StageOutForDelivery, StageReturned},
	StageReturned:         {StageDestroyed},
}

// retryTargets maps each failure stage to the stage a retry transitions back
// to. The table is exhaustive over failure stages.
var retryTargets = map[Stage]Stage{
	StageProcessingFailed: StageQueued,
	StageDeliveryFailed:   StageOutForDelivery,
}

// AllStages lists every stage, happy path first, branch stages last.
func AllStages() []Stage {
	return []Stage{
		StageCreated, StageQueued, StageProcessing, StageProcessingComplete,
		StageDispatched, StageInTransit, StageOutForDelivery, StageDelivered,
		StageProcessingFailed, StageDeliveryFailed, StageReturned, StageDestroyed,
	}
}

// ParseStage validates a raw stage string.
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if _, ok := happyOrder[st]; ok {
		return st, nil
	}
	switch st {
	case StageProcessingFailed, StageDeliveryFailed, StageReturned, StageDestroyed:
		return st, nil
	}
	return "", fmt.Errorf("unknown stage: %s", s)
}

// CanTransition reports whether to is reachable from from in one advance.
func CanTransition(from, to Stage) bool {
	if from.IsTerminal() {
		return false
	}
	for _, t := range branchEdges[from] {
		if t == to {
			return true
		}
	}
	fi, fok := happyOrder[from]
	ti, tok := happyOrder[to]
	return fok && tok && ti > fi
}

// IsTerminal reports whether the stage ends the journey.
func (s Stage) IsTerminal() bool {
	return s == StageDelivered || s == StageDestroyed
}

// IsFailure reports whether the stage records a failure.
func (s Stage) IsFailure() bool {
	return s == StageProcessingFailed || s == StageDeliveryFailed
}

// RetryTarget returns the stage a retry from a failure stage goes back to.
func (s Stage) RetryTarget() (Stage, bool) {
	t, ok := retryTargets[s]
	return t, ok
}

func (s Stage) String() string { return string(s) }
