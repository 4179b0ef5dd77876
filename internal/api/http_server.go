package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"roombook/internal/config"
	"roombook/internal/domain"
	"roombook/internal/export"
	"roombook/internal/models"
	"roombook/internal/schedule"
	"roombook/internal/service"

	"github.com/rs/zerolog"
)

const (
	headerConnectionStatus = "X-Connection-Status"
	headerIdempotencyKey   = "Idempotency-Key"
	headerDegraded         = "X-Availability-Degraded"

	maxBodyBytes = 1 << 20
)

// HTTPServer exposes the availability and reservation API.
type HTTPServer struct {
	cfg          config.APIConfig
	availability *service.AvailabilityService
	booking      *service.BookingService
	health       *service.HealthChecker
	server       *http.Server
	logger       *zerolog.Logger
}

func NewHTTPServer(
	cfg config.APIConfig,
	availability *service.AvailabilityService,
	booking *service.BookingService,
	health *service.HealthChecker,
	logger *zerolog.Logger,
) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "http").Logger()
	srv := &HTTPServer{
		cfg:          cfg,
		availability: availability,
		booking:      booking,
		health:       health,
		logger:       &l,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/availability", srv.handleAvailabilityMissingDate)
	mux.HandleFunc("GET /api/availability/{date}", srv.handleAvailability)
	mux.HandleFunc("GET /api/occupied-slots/{date}", srv.handleOccupiedSlots)
	mux.HandleFunc("GET /api/check-availability/{date}/{start}/{end}", srv.handleCheckAvailability)
	mux.HandleFunc("GET /api/appointments", srv.handleListAppointments)
	mux.HandleFunc("POST /api/appointments", srv.handleCreateAppointment)
	mux.HandleFunc("GET /api/appointments/export", srv.handleExport)
	mux.HandleFunc("GET /api/appointments/{id}", srv.handleGetAppointment)
	mux.HandleFunc("PUT /api/appointments/{id}", srv.handleUpdateAppointment)
	mux.HandleFunc("DELETE /api/appointments/{id}", srv.handleDeleteAppointment)
	mux.HandleFunc("GET /api/health", srv.handleHealth)

	limiter := newRateLimiter(cfg.RateLimit)
	handler := recoverMiddleware(srv.logger,
		loggingMiddleware(srv.logger,
			corsMiddleware(cfg.CORS,
				limiter.middleware(mux))))

	readTimeout := cfg.HTTP.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.HTTP.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 60 * time.Second
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
	}
	return srv
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

func availabilityQuery(r *http.Request) service.AvailabilityQuery {
	return service.AvailabilityQuery{
		Date:          r.PathValue("date"),
		ResourceKey:   r.URL.Query().Get("resource"),
		ClientOffline: strings.EqualFold(strings.TrimSpace(r.Header.Get(headerConnectionStatus)), "offline"),
	}
}

func (s *HTTPServer) handleAvailabilityMissingDate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":   "date is required",
		"example": "/api/availability/2025-01-31",
	})
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	a, err := s.availability.GetAvailability(r.Context(), availabilityQuery(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if a.Stale || a.Degraded {
		w.Header().Set(headerDegraded, "true")
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *HTTPServer) handleOccupiedSlots(w http.ResponseWriter, r *http.Request) {
	occupied, degraded, err := s.availability.OccupiedSlots(r.Context(), availabilityQuery(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if degraded {
		w.Header().Set(headerDegraded, "true")
	}
	writeJSON(w, http.StatusOK, occupied)
}

func (s *HTTPServer) handleCheckAvailability(w http.ResponseWriter, r *http.Request) {
	res, err := s.availability.CheckAvailability(r.Context(), availabilityQuery(r), r.PathValue("start"), r.PathValue("end"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.booking.List(r.Context(), q.Get("date"), q.Get("resource"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *HTTPServer) handleGetAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := s.booking.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	var in models.ReservationInput
	if !decodeJSON(w, r, &in) {
		return
	}
	in.IdempotencyKey = strings.TrimSpace(r.Header.Get(headerIdempotencyKey))

	created, err := s.booking.Book(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleUpdateAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in models.ReservationInput
	if !decodeJSON(w, r, &in) {
		return
	}

	updated, err := s.booking.Update(r.Context(), id, in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleDeleteAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.booking.Delete(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "reservation deleted"})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.booking.List(r.Context(), q.Get("date"), q.Get("resource"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	date, _ := models.ParseDate(q.Get("date"))
	slots, err := schedule.GenerateSlots(list, s.availability.SlotConfig())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteDay(&buf, date, list, slots); err != nil {
		s.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", export.FileName(date, strings.TrimSpace(q.Get("resource")))))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())
	code := http.StatusOK
	if report.Status == service.HealthDown {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps a service error to its HTTP status and client message.
func statusFor(err error) (int, string) {
	var ve *domain.ValidationError
	var ce *domain.ConflictError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.As(err, &ce):
		return http.StatusConflict, "time slot conflicts with an existing reservation"
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return http.StatusConflict, "idempotency key was already used for a different reservation"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "reservation not found"
	case domain.IsStoreUnavailable(err) && errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout, "appointment store timed out"
	case domain.IsStoreUnavailable(err):
		return http.StatusInternalServerError, "appointment store unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *HTTPServer) writeDomainError(w http.ResponseWriter, err error) {
	code, msg := statusFor(err)
	body := map[string]any{"error": msg}

	var ve *domain.ValidationError
	var ce *domain.ConflictError
	switch {
	case errors.As(err, &ve):
		body["fields"] = ve.Fields
	case errors.As(err, &ce) && ce.Existing != nil:
		body["conflict"] = ce.Existing.Summary()
	}

	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", code).Msg("request failed")
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
