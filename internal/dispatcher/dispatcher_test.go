package dispatcher

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"courtside/internal/adapter"
	"courtside/internal/booking"
	"courtside/internal/database"
	"courtside/internal/events"
	"courtside/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const slotMorning = "De 08:00 AM a 09:00 AM"

// scriptedAdapter returns a fixed outcome and can block mid-attempt to test
// cancellation races.
type scriptedAdapter struct {
	mu      sync.Mutex
	result  *adapter.Result
	err     error
	calls   int
	started chan struct{}
	release chan struct{}
}

func (a *scriptedAdapter) Attempt(ctx context.Context, req *models.BookingRequest) (*adapter.Result, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()

	if a.started != nil {
		close(a.started)
		a.started = nil
	}
	if a.release != nil {
		<-a.release
	}
	return a.result, a.err
}

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func newTestDispatcher(t *testing.T, site adapter.Adapter) (*Dispatcher, *database.DB) {
	t.Helper()
	logger := zerolog.New(zerolog.NewConsoleWriter())
	db, err := database.NewDB(filepath.Join(t.TempDir(), "dispatcher.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	courts := booking.NewRegistry([]models.Court{
		{
			ID:                1,
			Name:              "Court 1",
			BookingWindowDays: 10,
			WindowOpenHour:    0,
			TimeSlots:         []string{slotMorning},
			IsActive:          true,
		},
	})

	d := New(db, courts, site, events.NewEventBus(), Params{
		Tick:           time.Hour, // tests drive sweeps by hand
		AttemptTimeout: 5 * time.Second,
		MaxInFlight:    2,
		BatchSize:      10,
		Retry:          RetryPolicy{BaseDelay: 5 * time.Minute, MaxDelay: time.Hour, BackoffFactor: 2},
	}, &logger)
	d.now = func() time.Time { return time.Now().UTC() }
	return d, db
}

func createRequest(t *testing.T, db *database.DB, targetDate time.Time, maxAttempts int) *models.BookingRequest {
	t.Helper()
	req := &models.BookingRequest{
		ID:          uuid.NewString(),
		OwnerID:     "owner-1",
		CourtID:     1,
		TargetDate:  targetDate,
		TimeSlot:    slotMorning,
		Status:      models.StatusPending,
		MaxAttempts: maxAttempts,
		ExpiresAt:   targetDate.AddDate(0, 0, 2),
	}
	require.NoError(t, db.CreateRequestGuarded(context.Background(), req, 100))
	return req
}

func tomorrow() time.Time {
	y, m, d := time.Now().UTC().AddDate(0, 0, 1).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDueRequestConfirmed(t *testing.T) {
	site := &scriptedAdapter{result: &adapter.Result{ConfirmationCode: "CONF-1", ExternalBookingID: "ext-1"}}
	d, db := newTestDispatcher(t, site)
	ctx := context.Background()

	req := createRequest(t, db, tomorrow(), 3)
	require.NoError(t, db.MarkScheduled(ctx, req.ID, models.StatusPending, time.Now().Add(-time.Minute)))

	d.sweep(ctx)
	d.wg.Wait()

	got, err := db.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, "CONF-1", got.ConfirmationCode)
	assert.Equal(t, "ext-1", got.ExternalBookingID)
	assert.Equal(t, 1, site.callCount())
}

func TestScheduledNotYetDueIsLeftAlone(t *testing.T) {
	site := &scriptedAdapter{result: &adapter.Result{}}
	d, db := newTestDispatcher(t, site)
	ctx := context.Background()

	req := createRequest(t, db, tomorrow(), 3)
	require.NoError(t, db.MarkScheduled(ctx, req.ID, models.StatusPending, time.Now().Add(time.Hour)))

	d.sweep(ctx)
	d.wg.Wait()

	got, err := db.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, got.Status)
	assert.Zero(t, site.callCount())
}

func TestTransientFailureSchedulesRetry(t *testing.T) {
	site := &scriptedAdapter{err: &adapter.TransientError{Reason: "site busy (HTTP 503)"}}
	d, db := newTestDispatcher(t, site)
	ctx := context.Background()

	req := createRequest(t, db, tomorrow(), 3)
	require.NoError(t, db.MarkScheduled(ctx, req.ID, models.StatusPending, time.Now().Add(-time.Minute)))

	before := time.Now()
	d.sweep(ctx)
	d.wg.Wait()

	got, err := db.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, "site busy (HTTP 503)", got.LastError)
	require.NotNil(t, got.NextAttemptAt)
	// First backoff step is the base delay
	assert.WithinDuration(t, before.Add(5*time.Minute), *got.NextAttemptAt, 10*time.Second)
}

func TestRetriesExhausted(t *testing.T) {
	site := &scriptedAdapter{err: &adapter.TransientError{Reason: "timeout"}}
	d, db := newTestDispatcher(t, site)
	ctx := context.Background()

	req := createRequest(t, db, tomorrow(), 1)
	require.NoError(t, db.MarkScheduled(ctx, req.ID, models.StatusPending, time.Now().Add(-time.Minute)))

	d.sweep(ctx)
	d.wg.Wait()

	got, err := db.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.True(t, strings.HasPrefix(got.LastError, "retries exhausted"), got.LastError)
}

func TestFatalFailure(t *testing.T) {
	site := &scriptedAdapter{err: &adapter.FatalError{Reason: "slot is no longer available"}}
	d, db := newTestDispatcher(t, site)
	ctx := context.Background()

	req := createRequest(t, db, tomorrow(), 3)
	require.NoError(t, db.MarkScheduled(ctx, req.ID, models.StatusPending, time.Now().Add(-time.Minute)))

	d.sweep(ctx)
	d.wg.Wait()

	got, err := db.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, "slot is no longer available", got.LastError)
	assert.Equal(t, 1, site.callCount(), "no retry after a fatal failure")
}

func TestCancelMidFlightDiscardsResult(t *testing.T) {
	site := &scriptedAdapter{
		result:  &adapter.Result{ConfirmationCode: "CONF-LATE"},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	started := site.started
	d, db := newTestDispatcher(t, site)
	ctx := context.Background()

	req := createRequest(t, db, tomorrow(), 3)
	require.NoError(t, db.MarkScheduled(ctx, req.ID, models.StatusPending, time.Now().Add(-time.Minute)))

	d.sweep(ctx)

	<-started
	require.NoError(t, db.CancelActive(ctx, req.ID))
	close(site.release)
	d.wg.Wait()

	got, err := db.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status, "cancel wins over the in-flight attempt")
	assert.Empty(t, got.ConfirmationCode)
}

func TestPendingImmediateIsDispatched(t *testing.T) {
	site := &scriptedAdapter{result: &adapter.Result{ConfirmationCode: "CONF-2"}}
	d, db := newTestDispatcher(t, site)
	ctx := context.Background()

	req := createRequest(t, db, tomorrow(), 3)

	d.sweep(ctx)
	d.wg.Wait()

	got, err := db.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
}

func TestPendingBeyondWindowGetsScheduled(t *testing.T) {
	site := &scriptedAdapter{result: &adapter.Result{}}
	d, db := newTestDispatcher(t, site)
	ctx := context.Background()

	target := tomorrow().AddDate(0, 0, 30)
	req := createRequest(t, db, target, 3)

	d.sweep(ctx)
	d.wg.Wait()

	got, err := db.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, got.Status)
	require.NotNil(t, got.NextAttemptAt)
	assert.Equal(t, target.AddDate(0, 0, -10), got.NextAttemptAt.UTC())
	assert.Zero(t, site.callCount())
}

func TestPendingPastDateExpires(t *testing.T) {
	site := &scriptedAdapter{result: &adapter.Result{}}
	d, db := newTestDispatcher(t, site)
	ctx := context.Background()

	yesterday := tomorrow().AddDate(0, 0, -2)
	req := createRequest(t, db, yesterday, 3)

	d.sweep(ctx)
	d.wg.Wait()

	got, err := db.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)
	assert.Zero(t, site.callCount())
}

func TestOrphanedProcessingIsReclaimedOnStartup(t *testing.T) {
	site := &scriptedAdapter{result: &adapter.Result{ConfirmationCode: "CONF-3"}}
	d, db := newTestDispatcher(t, site)
	ctx := context.Background()

	// Simulate a crash mid-attempt: claimed, then the process died before
	// any outcome landed. The row looks untouched since the claim.
	req := createRequest(t, db, tomorrow(), 3)
	require.NoError(t, db.ClaimProcessing(ctx, req.ID, models.StatusPending))
	_, err := db.ExecContext(ctx,
		`UPDATE booking_requests SET updated_at = ? WHERE id = ?`,
		time.Now().Add(-time.Hour), req.ID)
	require.NoError(t, err)

	d.reclaimOrphans(ctx)

	got, err := db.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusScheduled, got.Status)
	assert.Equal(t, "attempt interrupted by restart", got.LastError)
	require.NotNil(t, got.NextAttemptAt)

	// The reclaimed request is due immediately and completes on the sweep.
	d.sweep(ctx)
	d.wg.Wait()

	got, err = db.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
}

func TestFreshProcessingIsNotReclaimed(t *testing.T) {
	site := &scriptedAdapter{result: &adapter.Result{}}
	d, db := newTestDispatcher(t, site)
	ctx := context.Background()

	req := createRequest(t, db, tomorrow(), 3)
	require.NoError(t, db.ClaimProcessing(ctx, req.ID, models.StatusPending))

	d.reclaimOrphans(ctx)

	got, err := db.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status, "a recently claimed request stays with its owner")
	assert.Zero(t, site.callCount())
}

func TestNotifyDoesNotBlock(t *testing.T) {
	site := &scriptedAdapter{result: &adapter.Result{}}
	d, _ := newTestDispatcher(t, site)

	for i := 0; i < 10; i++ {
		d.Notify()
	}
}
