package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"courtside/internal/config"
	"courtside/internal/models"

	"github.com/rs/zerolog"
)

// SiteAdapter submits reservations to the court site over its JSON endpoint.
type SiteAdapter struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	logger   *zerolog.Logger
}

func NewSiteAdapter(cfg config.SiteConfig, logger *zerolog.Logger) *SiteAdapter {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = models.DefaultAttemptTimeout
	}
	return &SiteAdapter{
		baseURL:  cfg.BaseURL,
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type reservationPayload struct {
	CourtID  int64  `json:"court_id"`
	Date     string `json:"date"`
	TimeSlot string `json:"time_slot"`
}

type reservationResponse struct {
	ConfirmationCode string `json:"confirmation_code"`
	BookingID        string `json:"booking_id"`
	Message          string `json:"message"`
}

// Attempt books the request's slot. Network errors and 5xx/429 responses are
// transient; auth failures and slot conflicts are fatal.
func (a *SiteAdapter) Attempt(ctx context.Context, req *models.BookingRequest) (*Result, error) {
	payload := reservationPayload{
		CourtID:  req.CourtID,
		Date:     req.TargetDate.Format("2006-01-02"),
		TimeSlot: req.TimeSlot,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &FatalError{Reason: "encode reservation payload", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/reservations", bytes.NewReader(body))
	if err != nil {
		return nil, &FatalError{Reason: "build reservation request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(a.username, a.password)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Reason: "site unreachable", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransientError{Reason: "read site response", Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var parsed reservationResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			a.logger.Warn().Err(err).Str("request_id", req.ID).Msg("site returned success with unparseable body")
		}
		return &Result{
			ConfirmationCode:  parsed.ConfirmationCode,
			ExternalBookingID: parsed.BookingID,
		}, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &FatalError{Reason: "site rejected credentials"}

	case resp.StatusCode == http.StatusConflict:
		return nil, &FatalError{Reason: "slot is no longer available"}

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientError{Reason: fmt.Sprintf("site busy (HTTP %d)", resp.StatusCode)}

	default:
		return nil, &FatalError{Reason: fmt.Sprintf("site refused the reservation (HTTP %d): %s", resp.StatusCode, siteMessage(raw))}
	}
}

func siteMessage(raw []byte) string {
	var parsed reservationResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}
