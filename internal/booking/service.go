// Package booking implements the request intake: validation against the
// court catalogue, the per-owner submission rate limit, window classification
// and the initial lifecycle transition of every new request.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"courtside/internal/database"
	"courtside/internal/domain"
	"courtside/internal/events"
	"courtside/internal/metrics"
	"courtside/internal/models"
	"courtside/internal/window"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownCourt    = errors.New("unknown court")
	ErrCourtInactive   = errors.New("court is not accepting requests")
	ErrRateLimited     = errors.New("too many submissions, slow down")
	ErrAlreadyTerminal = errors.New("request is already in a terminal state")
)

// ValidationError rejects a submission that can never succeed: a past date,
// a slot the court does not offer, a slot that already started today.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Notifier wakes the dispatcher when an immediately bookable request lands.
type Notifier interface {
	Notify()
}

type Service struct {
	store      domain.RequestStore
	courts     domain.CourtSource
	limiter    domain.RateLimiter
	eventBus   domain.EventPublisher
	dispatcher Notifier

	dailyQuota  int
	maxAttempts int
	expiryGrace time.Duration
	rateLimit   int
	rateWindow  time.Duration

	logger *zerolog.Logger
	now    func() time.Time
}

func NewService(
	store domain.RequestStore,
	courts domain.CourtSource,
	limiter domain.RateLimiter,
	eventBus domain.EventPublisher,
	dispatcher Notifier,
	cfg BookingParams,
	logger *zerolog.Logger,
) *Service {
	return &Service{
		store:       store,
		courts:      courts,
		limiter:     limiter,
		eventBus:    eventBus,
		dispatcher:  dispatcher,
		dailyQuota:  cfg.DailyQuota,
		maxAttempts: cfg.MaxAttempts,
		expiryGrace: cfg.ExpiryGrace,
		rateLimit:   cfg.SubmitRateLimit,
		rateWindow:  cfg.SubmitRateWindow,
		logger:      logger,
		now:         time.Now,
	}
}

// BookingParams carries the intake policy knobs.
type BookingParams struct {
	DailyQuota       int
	MaxAttempts      int
	ExpiryGrace      time.Duration
	SubmitRateLimit  int
	SubmitRateWindow time.Duration
}

// Submit validates a new booking request, classifies its window and persists
// it. The returned request reflects the status it landed in: pending for
// immediately bookable dates, scheduled for future windows.
func (s *Service) Submit(ctx context.Context, ownerID string, courtID int64, targetDate time.Time, timeSlot string) (*models.BookingRequest, error) {
	court, ok := s.courts.Court(courtID)
	if !ok {
		metrics.IncSubmission("invalid")
		return nil, ErrUnknownCourt
	}
	if !court.IsActive {
		metrics.IncSubmission("invalid")
		return nil, ErrCourtInactive
	}
	if !court.HasSlot(timeSlot) {
		metrics.IncSubmission("invalid")
		return nil, &ValidationError{Reason: fmt.Sprintf("court %q does not offer slot %q", court.Name, timeSlot)}
	}

	slotStart, _, err := models.ParseTimeSlot(timeSlot)
	if err != nil {
		metrics.IncSubmission("invalid")
		return nil, &ValidationError{Reason: err.Error()}
	}

	// Лимит подач: при недоступности лимитера пропускаем, а не блокируем
	allowed, err := s.limiter.Allow(ctx, ownerID, s.rateLimit, s.rateWindow)
	if err != nil {
		s.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("rate limiter unavailable, allowing submission")
	} else if !allowed {
		metrics.IncSubmission("rate_limited")
		return nil, ErrRateLimited
	}

	now := s.now()
	cls := window.Classify(court, targetDate, slotStart, now)
	if cls.Kind == window.Invalid {
		metrics.IncSubmission("invalid")
		return nil, &ValidationError{Reason: cls.Reason}
	}

	req := &models.BookingRequest{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		CourtID:     court.ID,
		TargetDate:  targetDate,
		TimeSlot:    timeSlot,
		Status:      models.StatusPending,
		MaxAttempts: s.maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
		// Запрос живет до конца целевого дня плюс льготный период
		ExpiresAt: endOfDay(targetDate).Add(s.expiryGrace),
	}

	if err := s.store.CreateRequestGuarded(ctx, req, s.dailyQuota); err != nil {
		switch {
		case errors.Is(err, database.ErrDuplicateRequest):
			metrics.IncSubmission("conflict")
		case errors.Is(err, database.ErrQuotaExceeded):
			metrics.IncSubmission("quota")
		}
		return nil, err
	}
	metrics.IncSubmission("created")
	metrics.IncTransition(string(models.StatusPending))
	s.publish(events.EventRequestSubmitted, req, "")

	if cls.Kind == window.Future {
		if err := s.store.MarkScheduled(ctx, req.ID, models.StatusPending, cls.WakeAt); err != nil {
			// Крайне маловероятно сразу после вставки; диспетчер подхватит pending
			s.logger.Error().Err(err).Str("request_id", req.ID).Msg("failed to schedule new request")
			return req, nil
		}
		req.Status = models.StatusScheduled
		wakeAt := cls.WakeAt
		req.NextAttemptAt = &wakeAt
		metrics.IncTransition(string(models.StatusScheduled))
		s.publish(events.EventRequestScheduled, req, fmt.Sprintf("window opens %s", wakeAt.Format(time.RFC3339)))

		s.logger.Info().
			Str("request_id", req.ID).
			Int64("court_id", court.ID).
			Str("target_date", targetDate.Format("2006-01-02")).
			Time("wake_at", wakeAt).
			Msg("request scheduled for window opening")
		return req, nil
	}

	s.logger.Info().
		Str("request_id", req.ID).
		Int64("court_id", court.ID).
		Str("target_date", targetDate.Format("2006-01-02")).
		Msg("request accepted for immediate dispatch")

	if s.dispatcher != nil {
		s.dispatcher.Notify()
	}
	return req, nil
}

// Cancel stops a request on behalf of its owner. Requests belonging to other
// owners are reported as not found. Cancelling an in-flight request wins: the
// attempt's result is discarded when it lands.
func (s *Service) Cancel(ctx context.Context, id, ownerID string) error {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if req.OwnerID != ownerID {
		return database.ErrNotFound
	}
	if req.Status.Terminal() {
		return ErrAlreadyTerminal
	}

	if err := s.store.CancelActive(ctx, id); err != nil {
		if errors.Is(err, database.ErrConcurrentModification) {
			// Кто-то успел раньше: перечитываем и отвечаем по факту
			if fresh, ferr := s.store.GetRequest(ctx, id); ferr == nil && fresh.Status.Terminal() {
				return ErrAlreadyTerminal
			}
		}
		return err
	}

	req.Status = models.StatusCancelled
	metrics.IncTransition(string(models.StatusCancelled))
	s.publish(events.EventRequestCancelled, req, "cancelled by owner")

	s.logger.Info().Str("request_id", id).Str("owner_id", ownerID).Msg("request cancelled")
	return nil
}

// GetStatus returns the owner's view of a request.
func (s *Service) GetStatus(ctx context.Context, id, ownerID string) (*models.BookingRequest, error) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.OwnerID != ownerID {
		return nil, database.ErrNotFound
	}
	return req, nil
}

// ListForOwner returns the owner's requests, optionally filtered by status.
func (s *Service) ListForOwner(ctx context.Context, ownerID string, status *models.Status) ([]*models.BookingRequest, error) {
	return s.store.ListForOwner(ctx, ownerID, status)
}

// CourtAvailability describes the date span currently inside a court's window.
type CourtAvailability struct {
	Court models.Court `json:"court"`
	From  time.Time    `json:"from"`
	To    time.Time    `json:"to"`
}

// Availability lists active courts with their currently bookable date range.
func (s *Service) Availability() []CourtAvailability {
	now := s.now()
	var out []CourtAvailability
	for _, court := range s.courts.Courts() {
		if !court.IsActive {
			continue
		}
		from, to := window.BookableRange(court, now)
		out = append(out, CourtAvailability{Court: court, From: from, To: to})
	}
	return out
}

func (s *Service) publish(eventType string, req *models.BookingRequest, reason string) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, events.PayloadFor(req, reason)); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

func endOfDay(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location()).AddDate(0, 0, 1)
}
