// Package api exposes the booking lifecycle over HTTP: submitting requests,
// checking and cancelling them, court availability and XLSX exports.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"courtside/internal/booking"
	"courtside/internal/config"
	"courtside/internal/database"
	"courtside/internal/export"
	"courtside/internal/metrics"
	"courtside/internal/models"

	"github.com/rs/zerolog"
)

type HTTPServer struct {
	cfg      config.APIConfig
	service  *booking.Service
	exporter *export.Exporter
	server   *http.Server
	auth     *HTTPAuth
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, service *booking.Service, exporter *export.Exporter, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, service: service, exporter: exporter, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/api/v1/requests", srv.handleRequests)
	mux.HandleFunc("/api/v1/requests/", srv.handleRequestByID)
	mux.HandleFunc("/api/v1/courts", srv.handleCourts)
	mux.HandleFunc("/api/v1/exports", srv.handleExport)
	mux.HandleFunc("/healthz", srv.handleHealth)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleRequests serves POST (submit) and GET (list for an owner).
func (s *HTTPServer) handleRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type submitRequest struct {
	OwnerID    string `json:"owner_id"`
	CourtID    int64  `json:"court_id"`
	TargetDate string `json:"target_date"`
	TimeSlot   string `json:"time_slot"`
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("submit")

	var body submitRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.OwnerID) == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	if body.CourtID == 0 {
		writeError(w, http.StatusBadRequest, "court_id is required")
		return
	}

	targetDate, err := time.Parse("2006-01-02", strings.TrimSpace(body.TargetDate))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid target_date format; expected YYYY-MM-DD")
		return
	}

	req, err := s.service.Submit(r.Context(), body.OwnerID, body.CourtID, targetDate, body.TimeSlot)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, requestView(req))
}

func (s *HTTPServer) writeSubmitError(w http.ResponseWriter, err error) {
	var validation *booking.ValidationError
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusUnprocessableEntity, validation.Reason)
	case errors.Is(err, booking.ErrUnknownCourt), errors.Is(err, booking.ErrCourtInactive):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, booking.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, database.ErrDuplicateRequest):
		writeError(w, http.StatusConflict, "an active request for this slot already exists")
	case errors.Is(err, database.ErrQuotaExceeded):
		writeError(w, http.StatusConflict, "daily quota for this date is exhausted")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("list")

	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	var statusFilter *models.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status := models.Status(raw)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status: %s", raw))
			return
		}
		statusFilter = &status
	}

	requests, err := s.service.ListForOwner(r.Context(), ownerID, statusFilter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	views := make([]map[string]any, 0, len(requests))
	for _, req := range requests {
		views = append(views, requestView(req))
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": views})
}

// handleRequestByID serves GET (status) and DELETE (cancel) on a request.
func (s *HTTPServer) handleRequestByID(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/requests/"
	id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, prefix))
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		metrics.IncHTTP("status")
		req, err := s.service.GetStatus(r.Context(), id, ownerID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				writeError(w, http.StatusNotFound, "request not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, requestView(req))

	case http.MethodDelete:
		metrics.IncHTTP("cancel")
		err := s.service.Cancel(r.Context(), id, ownerID)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusCancelled)})
		case errors.Is(err, database.ErrNotFound):
			writeError(w, http.StatusNotFound, "request not found")
		case errors.Is(err, booking.ErrAlreadyTerminal):
			writeError(w, http.StatusConflict, "request is already in a terminal state")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleCourts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("courts")
	writeJSON(w, http.StatusOK, map[string]any{"courts": s.service.Availability()})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("export")

	from, err := time.Parse("2006-01-02", strings.TrimSpace(r.URL.Query().Get("from")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from date; expected YYYY-MM-DD")
		return
	}
	to, err := time.Parse("2006-01-02", strings.TrimSpace(r.URL.Query().Get("to")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to date; expected YYYY-MM-DD")
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must not be before from")
		return
	}

	path, err := s.exporter.Export(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file": path})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestView(req *models.BookingRequest) map[string]any {
	view := map[string]any{
		"id":            req.ID,
		"owner_id":      req.OwnerID,
		"court_id":      req.CourtID,
		"target_date":   req.TargetDate.Format("2006-01-02"),
		"time_slot":     req.TimeSlot,
		"status":        string(req.Status),
		"attempt_count": req.AttemptCount,
		"max_attempts":  req.MaxAttempts,
		"created_at":    req.CreatedAt.Format(time.RFC3339),
		"updated_at":    req.UpdatedAt.Format(time.RFC3339),
	}
	if req.NextAttemptAt != nil {
		view["next_attempt_at"] = req.NextAttemptAt.Format(time.RFC3339)
	}
	if req.ConfirmationCode != "" {
		view["confirmation_code"] = req.ConfirmationCode
	}
	if req.ExternalBookingID != "" {
		view["external_booking_id"] = req.ExternalBookingID
	}
	if req.LastError != "" {
		view["last_error"] = req.LastError
	}
	return view
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
