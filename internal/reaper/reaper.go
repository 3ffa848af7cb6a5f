// Package reaper handles end-of-life housekeeping: it expires active
// requests whose target date passed without resolution, and purges terminal
// requests older than the retention period.
package reaper

import (
	"context"
	"errors"
	"time"

	"courtside/internal/database"
	"courtside/internal/domain"
	"courtside/internal/events"
	"courtside/internal/metrics"
	"courtside/internal/models"

	"github.com/rs/zerolog"
)

type Reaper struct {
	store    domain.RequestStore
	eventBus domain.EventPublisher
	logger   *zerolog.Logger

	expireSweep time.Duration
	purgeSweep  time.Duration
	retention   time.Duration
	now         func() time.Time
}

type Params struct {
	ExpireSweep time.Duration
	PurgeSweep  time.Duration
	Retention   time.Duration
}

func New(store domain.RequestStore, eventBus domain.EventPublisher, params Params, logger *zerolog.Logger) *Reaper {
	if params.ExpireSweep <= 0 {
		params.ExpireSweep = models.DefaultExpireSweep
	}
	if params.PurgeSweep <= 0 {
		params.PurgeSweep = models.DefaultPurgeSweep
	}
	if params.Retention <= 0 {
		params.Retention = time.Duration(models.DefaultRetentionDays) * 24 * time.Hour
	}

	return &Reaper{
		store:       store,
		eventBus:    eventBus,
		logger:      logger,
		expireSweep: params.ExpireSweep,
		purgeSweep:  params.PurgeSweep,
		retention:   params.Retention,
		now:         time.Now,
	}
}

// Start runs both sweeps until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	r.logger.Info().
		Dur("expire_sweep", r.expireSweep).
		Dur("purge_sweep", r.purgeSweep).
		Msg("reaper started")
	defer r.logger.Info().Msg("reaper stopped")

	expireTicker := time.NewTicker(r.expireSweep)
	defer expireTicker.Stop()
	purgeTicker := time.NewTicker(r.purgeSweep)
	defer purgeTicker.Stop()

	r.ExpireStale(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-expireTicker.C:
			r.ExpireStale(ctx)
		case <-purgeTicker.C:
			r.PurgeOld(ctx)
		}
	}
}

// ExpireStale moves pending and scheduled requests whose grace period ran out
// to expired. Requests mid-attempt are left alone: the dispatcher owns them.
func (r *Reaper) ExpireStale(ctx context.Context) {
	stale, err := r.store.StaleActive(ctx, r.now())
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to fetch stale requests")
		return
	}

	for _, req := range stale {
		if err := r.store.MarkExpired(ctx, req.ID, req.Status); err != nil {
			// Проигранная гонка с диспетчером или отменой не ошибка
			if !errors.Is(err, database.ErrConcurrentModification) {
				r.logger.Error().Err(err).Str("request_id", req.ID).Msg("failed to expire request")
			}
			continue
		}
		req.Status = models.StatusExpired
		metrics.IncReaped("expired")
		metrics.IncTransition(string(models.StatusExpired))
		r.publish(req)
		r.logger.Info().
			Str("request_id", req.ID).
			Str("target_date", req.TargetDate.Format("2006-01-02")).
			Msg("request expired")
	}
}

// PurgeOld deletes terminal requests older than the retention period.
func (r *Reaper) PurgeOld(ctx context.Context) {
	cutoff := r.now().Add(-r.retention)
	purged, err := r.store.PurgeTerminalBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to purge old requests")
		return
	}
	if purged > 0 {
		metrics.IncReapedN("purged", purged)
		r.logger.Info().Int64("purged", purged).Time("cutoff", cutoff).Msg("purged old terminal requests")
	}
}

func (r *Reaper) publish(req *models.BookingRequest) {
	if r.eventBus == nil {
		return
	}
	if err := r.eventBus.PublishJSON(events.EventRequestExpired, events.PayloadFor(req, "target date passed")); err != nil {
		r.logger.Warn().Err(err).Msg("failed to publish expiry event")
	}
}
