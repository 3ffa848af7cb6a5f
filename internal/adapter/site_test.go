package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"courtside/internal/config"
	"courtside/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() *models.BookingRequest {
	return &models.BookingRequest{
		ID:         "req-1",
		OwnerID:    "owner-1",
		CourtID:    1,
		TargetDate: time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
		TimeSlot:   "De 08:00 AM a 09:00 AM",
	}
}

func newSite(t *testing.T, handler http.HandlerFunc) *SiteAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := zerolog.New(zerolog.NewConsoleWriter())
	return NewSiteAdapter(config.SiteConfig{
		BaseURL:        server.URL,
		Username:       "booker",
		Password:       "secret",
		TimeoutSeconds: 5,
	}, &logger)
}

func TestAttemptSuccess(t *testing.T) {
	site := newSite(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/reservations", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "booker", user)
		assert.Equal(t, "secret", pass)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "2026-04-10", payload["date"])
		assert.Equal(t, "De 08:00 AM a 09:00 AM", payload["time_slot"])

		writeResp(w, http.StatusCreated, map[string]string{
			"confirmation_code": "CONF-9",
			"booking_id":        "ext-3",
		})
	})

	result, err := site.Attempt(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "CONF-9", result.ConfirmationCode)
	assert.Equal(t, "ext-3", result.ExternalBookingID)
}

func TestAttemptSlotTakenIsFatal(t *testing.T) {
	site := newSite(t, func(w http.ResponseWriter, r *http.Request) {
		writeResp(w, http.StatusConflict, map[string]string{"message": "taken"})
	})

	_, err := site.Attempt(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, "slot is no longer available", Reason(err))
}

func TestAttemptAuthFailureIsFatal(t *testing.T) {
	site := newSite(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := site.Attempt(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestAttemptServerErrorIsTransient(t *testing.T) {
	for _, code := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusTooManyRequests} {
		site := newSite(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		})

		_, err := site.Attempt(context.Background(), testRequest())
		require.Error(t, err)
		assert.False(t, IsFatal(err), "HTTP %d should be transient", code)
	}
}

func TestAttemptNetworkErrorIsTransient(t *testing.T) {
	logger := zerolog.New(zerolog.NewConsoleWriter())
	site := NewSiteAdapter(config.SiteConfig{
		BaseURL:        "http://127.0.0.1:1", // nothing listens here
		TimeoutSeconds: 1,
	}, &logger)

	_, err := site.Attempt(context.Background(), testRequest())
	require.Error(t, err)
	assert.False(t, IsFatal(err))
}

func TestAttemptBadRequestIsFatalWithMessage(t *testing.T) {
	site := newSite(t, func(w http.ResponseWriter, r *http.Request) {
		writeResp(w, http.StatusBadRequest, map[string]string{"message": "court closed for maintenance"})
	})

	_, err := site.Attempt(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Contains(t, Reason(err), "court closed for maintenance")
}

func writeResp(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
