package client

import "time"

// CreateCardRequest registers a new card journey. Field names follow the bank
// feed payloads.
type CreateCardRequest struct {
	CardID        string `json:"cardId"`
	CustomerID    string `json:"customerId"`
	CustomerName  string `json:"customerName,omitempty"`
	MobileNumber  string `json:"mobileNumber,omitempty"`
	PANMasked     string `json:"panMasked,omitempty"`
	ApplicationID string `json:"applicationId,omitempty"`
	Address       string `json:"address,omitempty"`
	Priority      string `json:"priority,omitempty"`
}

// StatusUpdateRequest advances a journey to a new stage.
type StatusUpdateRequest struct {
	Status         string `json:"status"`
	Source         string `json:"source,omitempty"`
	Location       string `json:"location,omitempty"`
	OperatorID     string `json:"operatorId,omitempty"`
	BatchID        string `json:"batchId,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Event is one recorded stage entry.
type Event struct {
	Stage           string         `json:"stage"`
	OccurredAt      time.Time      `json:"occurred_at"`
	Source          string         `json:"source,omitempty"`
	Location        string         `json:"location,omitempty"`
	OperatorID      string         `json:"operator_id,omitempty"`
	BatchID         string         `json:"batch_id,omitempty"`
	TrackingID      string         `json:"tracking_id,omitempty"`
	PreviousStage   *string        `json:"previous_stage,omitempty"`
	FailureReason   string         `json:"failure_reason,omitempty"`
	DurationMinutes *int64         `json:"duration_minutes,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
}

// Card is the journey view returned by the API; PII fields arrive masked.
type Card struct {
	ID                  string            `json:"id"`
	SubjectID           string            `json:"subject_id"`
	CustomerName        string            `json:"customer_name,omitempty"`
	MobileNumber        string            `json:"mobile_number,omitempty"`
	PANMasked           string            `json:"pan_masked,omitempty"`
	ApplicationID       string            `json:"application_id,omitempty"`
	Address             string            `json:"address,omitempty"`
	CurrentStage        string            `json:"current_stage"`
	Priority            string            `json:"priority"`
	EstimatedCompletion time.Time         `json:"estimated_completion"`
	ActualCompletion    *time.Time        `json:"actual_completion,omitempty"`
	FailureReason       string            `json:"failure_reason,omitempty"`
	RetryCount          int               `json:"retry_count"`
	Events              []Event           `json:"events"`
	Tags                map[string]string `json:"tags,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
	Version             int64             `json:"version"`
}

// Bottleneck is one per-stage analysis summary.
type Bottleneck struct {
	Stage           string    `json:"stage"`
	Day             string    `json:"day"`
	SampleCount     int       `json:"sample_count"`
	MeanMinutes     float64   `json:"mean_minutes"`
	MedianMinutes   float64   `json:"median_minutes"`
	P95Minutes      int64     `json:"p95_minutes"`
	MinMinutes      int64     `json:"min_minutes"`
	MaxMinutes      int64     `json:"max_minutes"`
	DelayedCount    int       `json:"delayed_count"`
	DelayRatio      float64   `json:"delay_ratio"`
	Severity        string    `json:"severity"`
	Recommendations []string  `json:"recommendations,omitempty"`
	ImpactScore     int       `json:"impact_score"`
	ComputedAt      time.Time `json:"computed_at"`
}

// DailyCount is the creation volume for one day.
type DailyCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// Dashboard is the operational overview.
type Dashboard struct {
	Range          string         `json:"range"`
	Total          int            `json:"total"`
	InFlight       int            `json:"in_flight"`
	Delivered      int            `json:"delivered"`
	Failed         int            `json:"failed"`
	ByStage        map[string]int `json:"by_stage"`
	DailyVolume    []DailyCount   `json:"daily_volume"`
	TopBottlenecks []Bottleneck   `json:"top_bottlenecks"`
}

// AnalysisResult summarizes one triggered analysis run.
type AnalysisResult struct {
	Day            string `json:"day"`
	StagesAnalyzed int    `json:"stages_analyzed"`
	CriticalCount  int    `json:"critical_count"`
}

// Insight is one operator-facing finding.
type Insight struct {
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
	AffectedCount  int    `json:"affected_count"`
}

// ErrorResponse is the API error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
