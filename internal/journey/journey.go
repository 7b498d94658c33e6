package journey

import (
	"math"
	"strings"
	"time"
)

// Priority controls the delivery SLA. Set at creation, immutable after.
type Priority string

const (
	PriorityStandard Priority = "STANDARD"
	PriorityExpress  Priority = "EXPRESS"
	PriorityUrgent   Priority = "URGENT"
)

// ParsePriority normalizes a raw priority string, defaulting to STANDARD.
func ParsePriority(s string) Priority {
	switch Priority(strings.ToUpper(strings.TrimSpace(s))) {
	case PriorityExpress:
		return PriorityExpress
	case PriorityUrgent:
		return PriorityUrgent
	default:
		return PriorityStandard
	}
}

// Event records one stage transition. Immutable once written, except for the
// duration back-fill applied to the preceding event in the same atomic write.
type Event struct {
	Stage           Stage          `json:"stage"`
	OccurredAt      time.Time      `json:"occurred_at"`
	Source          string         `json:"source,omitempty"`
	Location        string         `json:"location,omitempty"`
	OperatorID      string         `json:"operator_id,omitempty"`
	BatchID         string         `json:"batch_id,omitempty"`
	TrackingID      string         `json:"tracking_id,omitempty"`
	PreviousStage   *Stage         `json:"previous_stage,omitempty"`
	FailureReason   string         `json:"failure_reason,omitempty"`
	DurationMinutes *int64         `json:"duration_minutes,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
}

// Context carries caller-supplied detail for a transition.
type Context struct {
	Source        string
	Location      string
	OperatorID    string
	BatchID       string
	TrackingID    string
	FailureReason string
	Payload       map[string]any
}

// Journey is the event-sourced aggregate for one physical card. All mutation
// goes through New and Advance so the stage/event invariant holds: the current
// stage always equals the stage of the last event, and events is never empty.
type Journey struct {
	ID                  string            `json:"id"`
	SubjectID           string            `json:"subject_id"`
	CustomerName        string            `json:"customer_name,omitempty"`
	MobileNumber        string            `json:"mobile_number,omitempty"`
	PANMasked           string            `json:"pan_masked,omitempty"`
	ApplicationID       string            `json:"application_id,omitempty"`
	Address             string            `json:"address,omitempty"`
	CurrentStage        Stage             `json:"current_stage"`
	Priority            Priority          `json:"priority"`
	EstimatedCompletion time.Time         `json:"estimated_completion"`
	ActualCompletion    *time.Time        `json:"actual_completion,omitempty"`
	FailureReason       string            `json:"failure_reason,omitempty"`
	RetryCount          int               `json:"retry_count"`
	Events              []Event           `json:"events"`
	Tags                map[string]string `json:"tags,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`

	// Version is the optimistic-concurrency token compared on write.
	Version int64 `json:"version"`
}

// Attributes holds the creation-time identity fields.
type Attributes struct {
	CustomerName  string
	MobileNumber  string
	PANMasked     string
	ApplicationID string
	Address       string
	Tags          map[string]string
}

// New builds a journey in CREATED with its first event. The estimated
// completion comes from the priority SLA and the region derived from the
// address (see sla.go).
func New(id, subjectID string, prio Priority, attrs Attributes, now time.Time) *Journey {
	now = now.UTC()
	region := DeriveRegion(attrs.Address)
	tags := attrs.Tags
	if tags == nil {
		tags = make(map[string]string)
	}
	if _, ok := tags["region"]; !ok {
		tags["region"] = region
	}
	prev := (*Stage)(nil)
	j := &Journey{
		ID:                  id,
		SubjectID:           subjectID,
		CustomerName:        attrs.CustomerName,
		MobileNumber:        attrs.MobileNumber,
		PANMasked:           attrs.PANMasked,
		ApplicationID:       attrs.ApplicationID,
		Address:             attrs.Address,
		CurrentStage:        StageCreated,
		Priority:            prio,
		EstimatedCompletion: now.Add(EstimateSLA(prio, region)),
		Events: []Event{{
			Stage:         StageCreated,
			OccurredAt:    now,
			Source:        "system",
			PreviousStage: prev,
		}},
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	return j
}

// Advance applies one validated transition: back-fills the elapsed duration
// onto the previous event, appends the new event, and updates the derived
// fields. It mutates the receiver and bumps Version; the caller owns making
// the write atomic per id.
func (j *Journey) Advance(target Stage, ctx Context, now time.Time) (*Event, error) {
	now = now.UTC()
	if j.CurrentStage.IsTerminal() {
		return nil, InvalidTransitionf(j.ID, j.CurrentStage, target)
	}
	if !CanTransition(j.CurrentStage, target) {
		return nil, InvalidTransitionf(j.ID, j.CurrentStage, target)
	}

	last := &j.Events[len(j.Events)-1]
	mins := int64(math.Round(now.Sub(last.OccurredAt).Minutes()))
	if mins < 0 {
		mins = 0
	}
	last.DurationMinutes = &mins

	prev := j.CurrentStage
	ev := Event{
		Stage:         target,
		OccurredAt:    now,
		Source:        ctx.Source,
		Location:      ctx.Location,
		OperatorID:    ctx.OperatorID,
		BatchID:       ctx.BatchID,
		TrackingID:    ctx.TrackingID,
		PreviousStage: &prev,
		Payload:       ctx.Payload,
	}

	if target.IsFailure() {
		reason := ctx.FailureReason
		if reason == "" {
			reason = "unspecified"
		}
		ev.FailureReason = reason
		j.FailureReason = reason
		j.RetryCount++
	} else if retryFrom, ok := prev.RetryTarget(); ok && target == retryFrom {
		// explicit retry-success transition clears the sticky failure reason
		j.FailureReason = ""
	}

	if target == StageDelivered && j.ActualCompletion == nil {
		t := now
		j.ActualCompletion = &t
	}

	j.Events = append(j.Events, ev)
	j.CurrentStage = target
	j.UpdatedAt = now
	j.Version++
	return &j.Events[len(j.Events)-1], nil
}

// LastEvent returns the most recent event. Events is never empty.
func (j *Journey) LastEvent() *Event {
	return &j.Events[len(j.Events)-1]
}

// Region returns the derived region tag.
func (j *Journey) Region() string {
	return j.Tags["region"]
}

// Clone deep-copies the aggregate so store snapshots cannot alias caller
// mutations.
func (j *Journey) Clone() *Journey {
	cp := *j
	cp.Events = make([]Event, len(j.Events))
	for i, e := range j.Events {
		ec := e
		if e.DurationMinutes != nil {
			d := *e.DurationMinutes
			ec.DurationMinutes = &d
		}
		if e.PreviousStage != nil {
			p := *e.PreviousStage
			ec.PreviousStage = &p
		}
		if e.Payload != nil {
			ec.Payload = make(map[string]any, len(e.Payload))
			for k, v := range e.Payload {
				ec.Payload[k] = v
			}
		}
		cp.Events[i] = ec
	}
	if j.Tags != nil {
		cp.Tags = make(map[string]string, len(j.Tags))
		for k, v := range j.Tags {
			cp.Tags[k] = v
		}
	}
	if j.ActualCompletion != nil {
		t := *j.ActualCompletion
		cp.ActualCompletion = &t
	}
	return &cp
}
