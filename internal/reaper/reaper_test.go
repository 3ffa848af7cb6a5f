package reaper

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"courtside/internal/database"
	"courtside/internal/events"
	"courtside/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReaper(t *testing.T) (*Reaper, *database.DB, *events.EventBus) {
	t.Helper()
	logger := zerolog.New(zerolog.NewConsoleWriter())
	db, err := database.NewDB(filepath.Join(t.TempDir(), "reaper.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := events.NewEventBus()
	r := New(db, bus, Params{
		ExpireSweep: time.Hour,
		PurgeSweep:  time.Hour,
		Retention:   30 * 24 * time.Hour,
	}, &logger)
	return r, db, bus
}

func createRequest(t *testing.T, db *database.DB, courtID int64, slot string, expiresAt time.Time) *models.BookingRequest {
	t.Helper()
	targetDate := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	req := &models.BookingRequest{
		ID:          uuid.NewString(),
		OwnerID:     "owner-1",
		CourtID:     courtID,
		TargetDate:  targetDate,
		TimeSlot:    slot,
		Status:      models.StatusPending,
		MaxAttempts: 3,
		ExpiresAt:   expiresAt,
	}
	require.NoError(t, db.CreateRequestGuarded(context.Background(), req, 100))
	return req
}

func TestExpireStale(t *testing.T) {
	r, db, bus := newTestReaper(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := 0
	bus.Subscribe(events.EventRequestExpired, func(event *events.Event) error {
		expired++
		return nil
	})

	stalePending := createRequest(t, db, 1, "De 08:00 AM a 09:00 AM", now.Add(-time.Hour))

	staleScheduled := createRequest(t, db, 2, "De 08:00 AM a 09:00 AM", now.Add(-time.Hour))
	require.NoError(t, db.MarkScheduled(ctx, staleScheduled.ID, models.StatusPending, now.Add(time.Hour)))

	inFlight := createRequest(t, db, 3, "De 08:00 AM a 09:00 AM", now.Add(-time.Hour))
	require.NoError(t, db.ClaimProcessing(ctx, inFlight.ID, models.StatusPending))

	fresh := createRequest(t, db, 4, "De 08:00 AM a 09:00 AM", now.Add(time.Hour))

	r.ExpireStale(ctx)

	for _, tc := range []struct {
		id   string
		want models.Status
	}{
		{stalePending.ID, models.StatusExpired},
		{staleScheduled.ID, models.StatusExpired},
		{inFlight.ID, models.StatusProcessing},
		{fresh.ID, models.StatusPending},
	} {
		got, err := db.GetRequest(ctx, tc.id)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.Status, "request %s", tc.id)
	}

	assert.Equal(t, 2, expired)
}

func TestPurgeOld(t *testing.T) {
	r, db, _ := newTestReaper(t)
	ctx := context.Background()

	old := createRequest(t, db, 1, "De 08:00 AM a 09:00 AM", time.Now().Add(time.Hour))
	require.NoError(t, db.CancelActive(ctx, old.ID))

	active := createRequest(t, db, 2, "De 08:00 AM a 09:00 AM", time.Now().Add(time.Hour))

	// Shift the clock past the retention period
	r.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	r.PurgeOld(ctx)

	_, err := db.GetRequest(ctx, old.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	got, err := db.GetRequest(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}
