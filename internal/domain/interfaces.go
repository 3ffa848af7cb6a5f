package domain

import (
	"context"
	"time"

	"courtside/internal/models"
)

// RequestStore is the persistence contract the core runs on. *database.DB
// implements it; tests substitute fakes where a real sqlite file is overkill.
type RequestStore interface {
	CreateRequestGuarded(ctx context.Context, req *models.BookingRequest, dailyQuota int) error
	GetRequest(ctx context.Context, id string) (*models.BookingRequest, error)
	MarkScheduled(ctx context.Context, id string, from models.Status, wakeAt time.Time) error
	ClaimProcessing(ctx context.Context, id string, from models.Status) error
	MarkConfirmed(ctx context.Context, id string, attemptCount int, confirmationCode, externalBookingID string) error
	ScheduleRetry(ctx context.Context, id string, attemptCount int, wakeAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id string, attemptCount int, lastError string) error
	MarkExpired(ctx context.Context, id string, from models.Status) error
	CancelActive(ctx context.Context, id string) error
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.BookingRequest, error)
	PendingRequests(ctx context.Context, limit int) ([]*models.BookingRequest, error)
	StaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*models.BookingRequest, error)
	StaleActive(ctx context.Context, now time.Time) ([]*models.BookingRequest, error)
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ListForOwner(ctx context.Context, ownerID string, status *models.Status) ([]*models.BookingRequest, error)
	CountByStatus(ctx context.Context) (map[models.Status]int, error)
}

// CourtSource resolves per-court booking policy. Read-only for the core.
type CourtSource interface {
	Court(id int64) (models.Court, bool)
	Courts() []models.Court
}

// RateLimiter bounds how often an owner may submit requests.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// EventPublisher fans lifecycle events out to in-process subscribers.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
