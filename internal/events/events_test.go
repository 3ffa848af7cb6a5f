package events

import (
	"encoding/json"
	"testing"
	"time"

	"courtside/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishJSONReachesSubscribers(t *testing.T) {
	bus := NewEventBus()

	var received []RequestEventPayload
	bus.Subscribe(EventRequestConfirmed, func(event *Event) error {
		var payload RequestEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		received = append(received, payload)
		return nil
	})

	req := &models.BookingRequest{
		ID:         "req-1",
		OwnerID:    "owner-1",
		CourtID:    1,
		TargetDate: time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
		TimeSlot:   "De 08:00 AM a 09:00 AM",
		Status:     models.StatusConfirmed,
	}
	require.NoError(t, bus.PublishJSON(EventRequestConfirmed, PayloadFor(req, "")))

	require.Len(t, received, 1)
	assert.Equal(t, "req-1", received[0].RequestID)
	assert.Equal(t, models.StatusConfirmed, received[0].Status)
}

func TestPublishIgnoresOtherTypes(t *testing.T) {
	bus := NewEventBus()

	calls := 0
	bus.Subscribe(EventRequestFailed, func(event *Event) error {
		calls++
		return nil
	})

	require.NoError(t, bus.PublishJSON(EventRequestConfirmed, map[string]string{"x": "y"}))
	assert.Zero(t, calls)
}

func TestNilBusIsSafe(t *testing.T) {
	var bus *EventBus
	assert.NoError(t, bus.PublishJSON(EventRequestExpired, nil))
}
