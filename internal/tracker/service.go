package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/loykin/cardflow/internal/fanout"
	"github.com/loykin/cardflow/internal/history"
	"github.com/loykin/cardflow/internal/journey"
	"github.com/loykin/cardflow/internal/metrics"
	"github.com/loykin/cardflow/internal/store"
)

var (
	// ErrShortQuery rejects search inputs below the minimum length.
	ErrShortQuery = errors.New("search query requires at least 3 characters")
	// ErrValidation marks malformed creation requests.
	ErrValidation = errors.New("validation failed")
)

const (
	minSearchLen = 3
	// advance retries its own write conflicts this many times before
	// surfacing the transient failure to the caller
	maxAdvanceAttempts = 3
	retryBackoffBase   = 25 * time.Millisecond
)

// Broadcaster receives domain events after their write committed.
type Broadcaster interface {
	Broadcast(eventType string, data any)
}

// CreateRequest carries the creation-time fields ingested from the bank feed.
type CreateRequest struct {
	CardID        string `json:"cardId"`
	CustomerID    string `json:"customerId"`
	CustomerName  string `json:"customerName"`
	MobileNumber  string `json:"mobileNumber"`
	PANMasked     string `json:"panMasked"`
	ApplicationID string `json:"applicationId"`
	Address       string `json:"address"`
	Priority      string `json:"priority"`
}

// StatusChanged is the payload broadcast after a committed transition.
type StatusChanged struct {
	ID            string           `json:"id"`
	PreviousStage journey.Stage    `json:"previous_stage"`
	NewStage      journey.Stage    `json:"new_stage"`
	Source        string           `json:"source,omitempty"`
	Location      string           `json:"location,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
	Journey       *journey.Journey `json:"journey,omitempty"`
}

// Service is the journey state machine: the only writer of journeys. Per-id
// atomicity comes from the store's versioned update; advance retries its own
// conflicts with jittered backoff and never retries caller errors.
type Service struct {
	st     store.Store
	hub    Broadcaster
	sinks  []history.Sink
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithHistorySinks configures external history sinks (ClickHouse etc.).
func WithHistorySinks(sinks ...history.Sink) Option {
	return func(s *Service) { s.sinks = append([]history.Sink(nil), sinks...) }
}

func New(st store.Store, hub Broadcaster, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		st:     st,
		hub:    hub,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create registers a new journey in CREATED and announces it. Fails with
// journey.ErrDuplicate when the id is already tracked.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*journey.Journey, error) {
	id := strings.TrimSpace(req.CardID)
	if id == "" {
		return nil, fmt.Errorf("%w: cardId is required", ErrValidation)
	}
	subject := strings.TrimSpace(req.CustomerID)
	if subject == "" {
		return nil, fmt.Errorf("%w: customerId is required", ErrValidation)
	}
	prio := journey.ParsePriority(req.Priority)
	j := journey.New(id, subject, prio, journey.Attributes{
		CustomerName:  req.CustomerName,
		MobileNumber:  req.MobileNumber,
		PANMasked:     req.PANMasked,
		ApplicationID: req.ApplicationID,
		Address:       req.Address,
	}, s.now())
	if err := s.st.Put(ctx, j); err != nil {
		return nil, err
	}
	metrics.IncCreated(string(prio))
	s.logger.Info("journey created", "id", j.ID, "priority", prio, "region", j.Region())
	s.hub.Broadcast(fanout.EventCardCreated, j)
	s.export(ctx, history.Event{
		Type:       history.EventCreated,
		OccurredAt: j.CreatedAt,
		JourneyID:  j.ID,
		Stage:      j.CurrentStage,
		Priority:   string(j.Priority),
		Region:     j.Region(),
		Source:     "system",
	})
	return j, nil
}

// Advance applies one stage transition atomically for the id. Write conflicts
// are retried up to the bound; InvalidTransition and NotFound surface
// unretried since repeating them cannot succeed. The status event fires only
// after the write committed.
func (s *Service) Advance(ctx context.Context, id string, target journey.Stage, tctx journey.Context) (*journey.Journey, error) {
	var updated *journey.Journey
	var err error
	for attempt := 1; ; attempt++ {
		updated, err = s.st.AtomicUpdate(ctx, id, func(j *journey.Journey) error {
			_, aerr := j.Advance(target, tctx, s.now())
			return aerr
		})
		if err == nil {
			break
		}
		if !errors.Is(err, journey.ErrConflict) {
			return nil, err
		}
		metrics.IncConflict()
		if attempt >= maxAdvanceAttempts {
			s.logger.Warn("advance conflict retries exhausted", "id", id, "target", target, "attempts", attempt)
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}

	last := updated.LastEvent()
	var prev journey.Stage
	if last.PreviousStage != nil {
		prev = *last.PreviousStage
	}
	metrics.IncTransition(string(prev), string(target))
	if n := len(updated.Events); n >= 2 {
		if d := updated.Events[n-2].DurationMinutes; d != nil {
			metrics.ObserveDwell(string(prev), float64(*d))
		}
	}
	s.logger.Info("journey advanced", "id", id, "from", prev, "to", target, "source", tctx.Source)
	s.hub.Broadcast(fanout.EventStatusUpdated, StatusChanged{
		ID:            id,
		PreviousStage: prev,
		NewStage:      target,
		Source:        tctx.Source,
		Location:      tctx.Location,
		FailureReason: last.FailureReason,
		Journey:       updated,
	})
	s.export(ctx, history.Event{
		Type:            history.EventTransition,
		OccurredAt:      last.OccurredAt,
		JourneyID:       id,
		Stage:           target,
		PreviousStage:   last.PreviousStage,
		DurationMinutes: durationOfPrevious(updated),
		Priority:        string(updated.Priority),
		Region:          updated.Region(),
		Source:          tctx.Source,
	})
	return updated, nil
}

// Get returns one journey snapshot.
func (s *Service) Get(ctx context.Context, id string) (*journey.Journey, error) {
	return s.st.GetByID(ctx, id)
}

// GetDelayed returns non-terminal journeys older than the threshold, oldest
// first so triage starts with the worst case.
func (s *Service) GetDelayed(ctx context.Context, threshold time.Duration) ([]*journey.Journey, error) {
	return s.st.FindDelayed(ctx, s.now().Add(-threshold))
}

// Search matches id, subject id and customer name case-insensitively.
// Queries under 3 characters fail validation.
func (s *Service) Search(ctx context.Context, q string, limit int) ([]*journey.Journey, error) {
	q = strings.TrimSpace(q)
	if len(q) < minSearchLen {
		return nil, ErrShortQuery
	}
	return s.st.Search(ctx, q, limit)
}

func (s *Service) export(ctx context.Context, e history.Event) {
	for _, sink := range s.sinks {
		if err := sink.Send(ctx, e); err != nil {
			s.logger.Warn("history sink send failed", "journey", e.JourneyID, "error", err)
		}
	}
}

func durationOfPrevious(j *journey.Journey) *int64 {
	if n := len(j.Events); n >= 2 {
		return j.Events[n-2].DurationMinutes
	}
	return nil
}

func backoff(attempt int) time.Duration {
	jitter := time.Duration(rand.IntN(20)) * time.Millisecond
	return time.Duration(attempt)*retryBackoffBase + jitter
}
