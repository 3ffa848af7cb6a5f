// Package dispatcher drives the execution side of the lifecycle: it wakes
// scheduled requests whose window opened, claims them with a compare-and-swap
// on status, and runs reservation attempts against the site adapter under a
// concurrency bound. Claims are CAS-guarded so that a cancelled request is
// never executed and a crashed instance never double-books.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"courtside/internal/adapter"
	"courtside/internal/database"
	"courtside/internal/domain"
	"courtside/internal/events"
	"courtside/internal/metrics"
	"courtside/internal/models"
	"courtside/internal/window"

	"github.com/rs/zerolog"
)

type Dispatcher struct {
	store    domain.RequestStore
	courts   domain.CourtSource
	adapter  adapter.Adapter
	eventBus domain.EventPublisher
	retry    RetryPolicy
	logger   *zerolog.Logger

	tick           time.Duration
	attemptTimeout time.Duration
	batchSize      int

	sem    chan struct{}
	notify chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
}

// Params bounds the dispatcher loop.
type Params struct {
	Tick           time.Duration
	AttemptTimeout time.Duration
	MaxInFlight    int
	BatchSize      int
	Retry          RetryPolicy
}

func New(
	store domain.RequestStore,
	courts domain.CourtSource,
	siteAdapter adapter.Adapter,
	eventBus domain.EventPublisher,
	params Params,
	logger *zerolog.Logger,
) *Dispatcher {
	if params.Tick <= 0 {
		params.Tick = models.DefaultDispatchTick
	}
	if params.AttemptTimeout <= 0 {
		params.AttemptTimeout = models.DefaultAttemptTimeout
	}
	if params.MaxInFlight <= 0 {
		params.MaxInFlight = models.DefaultMaxInFlight
	}
	if params.BatchSize <= 0 {
		params.BatchSize = 50
	}

	return &Dispatcher{
		store:          store,
		courts:         courts,
		adapter:        siteAdapter,
		eventBus:       eventBus,
		retry:          params.Retry,
		logger:         logger,
		tick:           params.Tick,
		attemptTimeout: params.AttemptTimeout,
		batchSize:      params.BatchSize,
		sem:            make(chan struct{}, params.MaxInFlight),
		notify:         make(chan struct{}, 1),
		now:            time.Now,
	}
}

// Notify asks the dispatcher to sweep without waiting for the next tick.
// Non-blocking; coalesces with a pending notification.
func (d *Dispatcher) Notify() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Start runs the dispatch loop until ctx is cancelled, then waits for
// in-flight attempts to finish.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info().
		Dur("tick", d.tick).
		Int("max_in_flight", cap(d.sem)).
		Msg("dispatcher started")
	defer d.logger.Info().Msg("dispatcher stopped")

	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	// Первый проход сразу: после рестарта подхватываем зависшие заявки
	d.reclaimOrphans(ctx)
	d.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return
		case <-ticker.C:
			d.sweep(ctx)
		case <-d.notify:
			d.sweep(ctx)
		}
	}
}

// sweep picks up scheduled requests whose wake time arrived and pending
// requests that never got classified (crash between intake and dispatch).
func (d *Dispatcher) sweep(ctx context.Context) {
	now := d.now()

	due, err := d.store.DueScheduled(ctx, now, d.batchSize)
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to fetch due scheduled requests")
	} else {
		for _, req := range due {
			d.launch(ctx, req)
		}
	}

	pending, err := d.store.PendingRequests(ctx, d.batchSize)
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to fetch pending requests")
		return
	}
	for _, req := range pending {
		d.routePending(ctx, req, now)
	}
}

// reclaimOrphans returns processing requests left behind by an instance that
// died mid-attempt to the scheduled state, due immediately, so the regular
// sweep picks them up. Runs once at startup only: this process has no attempts
// in flight yet, and a row untouched for longer than the attempt timeout plus
// the persistence grace cannot belong to a live attempt elsewhere.
func (d *Dispatcher) reclaimOrphans(ctx context.Context) {
	cutoff := d.now().Add(-(d.attemptTimeout + time.Minute))
	orphans, err := d.store.StaleProcessing(ctx, cutoff, d.batchSize)
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to fetch orphaned processing requests")
		return
	}
	for _, req := range orphans {
		if err := d.store.ScheduleRetry(ctx, req.ID, req.AttemptCount, d.now(), "attempt interrupted by restart"); err != nil {
			if !errors.Is(err, database.ErrConcurrentModification) {
				d.logger.Error().Err(err).Str("request_id", req.ID).Msg("failed to reclaim orphaned request")
			}
			continue
		}
		metrics.IncTransition(string(models.StatusScheduled))
		d.logger.Warn().Str("request_id", req.ID).Msg("reclaimed request orphaned in processing")
	}
}

// routePending re-runs window classification for a request still sitting in
// pending. Normal intake leaves immediate requests here on purpose; anything
// else means the process died mid-submit.
func (d *Dispatcher) routePending(ctx context.Context, req *models.BookingRequest, now time.Time) {
	court, ok := d.courts.Court(req.CourtID)
	if !ok {
		d.failPending(ctx, req, "court is no longer configured")
		return
	}

	slotStart, _, err := models.ParseTimeSlot(req.TimeSlot)
	if err != nil {
		d.failPending(ctx, req, "stored time slot is malformed: "+err.Error())
		return
	}

	cls := window.Classify(court, req.TargetDate, slotStart, now)
	switch cls.Kind {
	case window.Immediate:
		d.launch(ctx, req)
	case window.Future:
		if err := d.store.MarkScheduled(ctx, req.ID, models.StatusPending, cls.WakeAt); err != nil {
			if !errors.Is(err, database.ErrConcurrentModification) {
				d.logger.Error().Err(err).Str("request_id", req.ID).Msg("failed to schedule pending request")
			}
			return
		}
		req.Status = models.StatusScheduled
		metrics.IncTransition(string(models.StatusScheduled))
		d.publish(events.EventRequestScheduled, req, fmt.Sprintf("window opens %s", cls.WakeAt.Format(time.RFC3339)))
	default:
		// Дата прошла, пока заявка лежала: срок ее жизни истек
		if err := d.store.MarkExpired(ctx, req.ID, models.StatusPending); err != nil {
			if !errors.Is(err, database.ErrConcurrentModification) {
				d.logger.Error().Err(err).Str("request_id", req.ID).Msg("failed to expire stale pending request")
			}
			return
		}
		req.Status = models.StatusExpired
		metrics.IncTransition(string(models.StatusExpired))
		d.publish(events.EventRequestExpired, req, cls.Reason)
	}
}

// launch claims the request and runs one attempt in the background. A failed
// claim means another actor got there first (cancel, a concurrent sweep) and
// is not an error.
func (d *Dispatcher) launch(ctx context.Context, req *models.BookingRequest) {
	if err := d.store.ClaimProcessing(ctx, req.ID, req.Status); err != nil {
		if !errors.Is(err, database.ErrConcurrentModification) {
			d.logger.Error().Err(err).Str("request_id", req.ID).Msg("failed to claim request")
		}
		return
	}
	req.Status = models.StatusProcessing
	metrics.IncTransition(string(models.StatusProcessing))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.attempt(ctx, req)
	}()
}

func (d *Dispatcher) attempt(ctx context.Context, req *models.BookingRequest) {
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		// Shutdown before the attempt started: put the request back in line.
		if err := d.store.ScheduleRetry(context.Background(), req.ID, req.AttemptCount, d.now(), "shutdown before attempt"); err != nil {
			d.logger.Error().Err(err).Str("request_id", req.ID).Msg("failed to reschedule on shutdown")
		}
		return
	}
	defer func() { <-d.sem }()

	metrics.AttemptStarted()
	defer metrics.AttemptDone()

	attemptNo := req.AttemptCount + 1
	logger := d.logger.With().Str("request_id", req.ID).Int("attempt", attemptNo).Logger()

	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	result, err := d.adapter.Attempt(attemptCtx, req)
	cancel()

	// Outcome persistence must survive shutdown, so it does not use ctx.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer saveCancel()

	switch {
	case err == nil:
		if err := d.store.MarkConfirmed(saveCtx, req.ID, attemptNo, result.ConfirmationCode, result.ExternalBookingID); err != nil {
			d.discardOrLog(err, logger, "confirmation")
			return
		}
		req.Status = models.StatusConfirmed
		req.AttemptCount = attemptNo
		metrics.IncAttempt("confirmed")
		metrics.IncTransition(string(models.StatusConfirmed))
		d.publish(events.EventRequestConfirmed, req, "")
		logger.Info().Str("confirmation_code", result.ConfirmationCode).Msg("reservation confirmed")

	case adapter.IsFatal(err):
		reason := adapter.Reason(err)
		d.finalize(saveCtx, req, attemptNo, reason)
		metrics.IncAttempt("fatal")
		logger.Warn().Str("reason", reason).Msg("reservation failed permanently")

	default:
		reason := adapter.Reason(err)
		metrics.IncAttempt("transient")
		if attemptNo >= req.MaxAttempts {
			d.finalize(saveCtx, req, attemptNo, "retries exhausted: "+reason)
			logger.Warn().Str("reason", reason).Msg("reservation failed after exhausting retries")
			return
		}

		wakeAt := d.now().Add(d.retry.Backoff(attemptNo))
		if err := d.store.ScheduleRetry(saveCtx, req.ID, attemptNo, wakeAt, reason); err != nil {
			d.discardOrLog(err, logger, "retry")
			return
		}
		req.Status = models.StatusScheduled
		req.AttemptCount = attemptNo
		metrics.IncTransition(string(models.StatusScheduled))
		d.publish(events.EventRequestRetried, req, reason)
		logger.Info().Time("wake_at", wakeAt).Str("reason", reason).Msg("attempt failed, retry scheduled")
	}
}

// failPending terminates a pending request that can never execute. It goes
// through a claim first so the pending -> processing -> failed path stays
// within legal transitions.
func (d *Dispatcher) failPending(ctx context.Context, req *models.BookingRequest, reason string) {
	if err := d.store.ClaimProcessing(ctx, req.ID, models.StatusPending); err != nil {
		if !errors.Is(err, database.ErrConcurrentModification) {
			d.logger.Error().Err(err).Str("request_id", req.ID).Msg("failed to claim unroutable request")
		}
		return
	}
	req.Status = models.StatusProcessing
	d.finalize(ctx, req, req.AttemptCount, reason)
}

// finalize moves a processing request to failed.
func (d *Dispatcher) finalize(ctx context.Context, req *models.BookingRequest, attemptCount int, reason string) {
	if err := d.store.MarkFailed(ctx, req.ID, attemptCount, reason); err != nil {
		if errors.Is(err, database.ErrConcurrentModification) {
			metrics.IncAttempt("discarded")
			return
		}
		d.logger.Error().Err(err).Str("request_id", req.ID).Msg("failed to mark request failed")
		return
	}
	req.Status = models.StatusFailed
	req.AttemptCount = attemptCount
	req.LastError = reason
	metrics.IncTransition(string(models.StatusFailed))
	d.publish(events.EventRequestFailed, req, reason)
}

// discardOrLog handles the CAS miss after an attempt: the request was
// cancelled while in flight, so the attempt's outcome is dropped.
func (d *Dispatcher) discardOrLog(err error, logger zerolog.Logger, what string) {
	if errors.Is(err, database.ErrConcurrentModification) {
		metrics.IncAttempt("discarded")
		logger.Info().Msg("request cancelled mid-flight, " + what + " discarded")
		return
	}
	logger.Error().Err(err).Msg("failed to persist " + what)
}

func (d *Dispatcher) publish(eventType string, req *models.BookingRequest, reason string) {
	if d.eventBus == nil {
		return
	}
	if err := d.eventBus.PublishJSON(eventType, events.PayloadFor(req, reason)); err != nil {
		d.logger.Warn().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}
