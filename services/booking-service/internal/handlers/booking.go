package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/SamuelAtedla/heartcare/libs/auth"
	"github.com/SamuelAtedla/heartcare/services/booking-service/internal/model"
	"github.com/SamuelAtedla/heartcare/services/booking-service/internal/outbox"
	"github.com/SamuelAtedla/heartcare/services/booking-service/internal/schedule"
	"github.com/SamuelAtedla/heartcare/services/booking-service/internal/slots"
	"github.com/SamuelAtedla/heartcare/services/booking-service/internal/storage"
)

const (
	EventAppointmentRequested = "booking.appointment.requested.v1"
	EventAppointmentConfirmed = "booking.appointment.confirmed.v1"
	EventAppointmentCancelled = "booking.appointment.cancelled.v1"
	EventReminderRequested    = "booking.reminder.requested.v1"
	EventRefundRequested      = "billing.refund.requested.v1"
)

type BookingHandler struct {
	repo     *storage.BookingRepository
	outbox   *outbox.Repository
	schedule schedule.Provider
	logger   *slog.Logger

	// bookings backs the slot calculator; it is the repository in
	// production and a fake in tests.
	bookings slots.BookingLoader

	// reminderOffsets are minutes before the appointment start at which a
	// reminder should fire, e.g. [1440, 60].
	reminderOffsets []int
}

func NewBookingHandler(repo *storage.BookingRepository, outboxRepo *outbox.Repository, provider schedule.Provider, logger *slog.Logger, reminderOffsets []int) *BookingHandler {
	return &BookingHandler{
		repo:            repo,
		outbox:          outboxRepo,
		schedule:        provider,
		logger:          logger,
		bookings:        repo,
		reminderOffsets: reminderOffsets,
	}
}

// dayWindowLoader adapts one resolved DayConfig to the calculator's
// per-weekday lookup. The config already answers for the requested day.
type dayWindowLoader struct {
	cfg schedule.DayConfig
}

func (l dayWindowLoader) WindowFor(_ context.Context, doctorID string, wd time.Weekday) (slots.Window, bool, error) {
	return slots.Window{
		DoctorID:    doctorID,
		Weekday:     wd,
		StartMinute: l.cfg.StartMinute,
		EndMinute:   l.cfg.EndMinute,
		SlotMinutes: l.cfg.SlotMinutes,
		Active:      l.cfg.Active,
	}, true, nil
}

// Slots serves GET /api/v1/public/slots?doctor_id=&date=.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	doctorID := r.URL.Query().Get("doctor_id")
	if doctorID == "" {
		writeError(w, http.StatusBadRequest, "doctor_id is required")
		return
	}
	dateStr := r.URL.Query().Get("date")
	if _, err := time.Parse("2006-01-02", dateStr); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	starts, _, err := h.availableSlots(r.Context(), doctorID, dateStr)
	if err != nil {
		h.logger.Error("slot lookup failed", "doctor_id", doctorID, "date", dateStr, "err", err)
		writeError(w, http.StatusInternalServerError, "could not compute availability")
		return
	}

	out := make([]string, 0, len(starts))
	for _, s := range starts {
		out = append(out, s.Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":           dateStr,
		"availableSlots": out,
	})
}

// availableSlots resolves the doctor's day schedule and runs the calculator,
// then removes any slot overlapping doctor time off.
func (h *BookingHandler) availableSlots(ctx context.Context, doctorID, date string) ([]time.Time, schedule.DayConfig, error) {
	cfg, err := h.schedule.DayConfig(ctx, doctorID, date)
	if err != nil {
		return nil, schedule.DayConfig{}, err
	}

	loc := cfg.Location()
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return nil, schedule.DayConfig{}, err
	}

	calc := slots.NewCalculator(dayWindowLoader{cfg: cfg}, h.bookings, loc)
	starts, err := calc.AvailableSlots(ctx, doctorID, day)
	if err != nil {
		return nil, schedule.DayConfig{}, err
	}

	if len(cfg.Blocks) > 0 {
		blocks := make([]slots.Interval, 0, len(cfg.Blocks))
		for _, b := range cfg.Blocks {
			blocks = append(blocks, slots.Interval{Start: b.Start, End: b.End})
		}
		starts = slots.ExcludeBlocked(starts, time.Duration(cfg.SlotMinutes)*time.Minute, blocks)
	}
	return starts, cfg, nil
}

type createRequest struct {
	DoctorID     string `json:"doctor_id"`
	ScheduledAt  string `json:"scheduled_at"`
	PatientName  string `json:"patient_name"`
	PatientEmail string `json:"patient_email"`
	PatientPhone string `json:"patient_phone"`
	Reason       string `json:"reason"`
}

// Create books a pending appointment for the calling patient. The requested
// start must be one of the currently available slots; confirmation happens
// later, driven by payment.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	patientID := r.Header.Get("X-User-Id")
	if patientID == "" {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DoctorID == "" || req.PatientName == "" || req.PatientEmail == "" {
		writeError(w, http.StatusBadRequest, "doctor_id, patient_name and patient_email are required")
		return
	}
	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "scheduled_at must be RFC3339")
		return
	}
	if scheduledAt.Before(time.Now()) {
		writeError(w, http.StatusBadRequest, "scheduled_at is in the past")
		return
	}

	starts, cfg, err := h.slotsForInstant(r.Context(), req.DoctorID, scheduledAt)
	if err != nil {
		h.logger.Error("slot validation failed", "doctor_id", req.DoctorID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not validate slot")
		return
	}
	available := false
	for _, s := range starts {
		if s.Equal(scheduledAt) {
			available = true
			break
		}
	}
	if !available {
		writeError(w, http.StatusConflict, "requested slot is not available")
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not start transaction")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" {
		rec, err := h.repo.LockIdempotencyKey(ctx, tx, idemKey, patientID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not claim idempotency key")
			return
		}
		if rec.Completed {
			if err := tx.Commit(ctx); err != nil {
				writeError(w, http.StatusInternalServerError, "could not commit")
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	appt := &model.Appointment{
		PatientID:    patientID,
		DoctorID:     req.DoctorID,
		PatientName:  req.PatientName,
		PatientEmail: req.PatientEmail,
		PatientPhone: req.PatientPhone,
		ScheduledAt:  scheduledAt,
		DurationMins: cfg.SlotMinutes,
		FeeCents:     cfg.FeeCents,
		Reason:       req.Reason,
		Status:       model.StatusPending,
	}
	if err := h.repo.Create(ctx, tx, appt); err != nil {
		writeError(w, http.StatusInternalServerError, "could not create appointment")
		return
	}

	payload, _ := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"patient_id":     appt.PatientID,
		"doctor_id":      appt.DoctorID,
		"patient_name":   appt.PatientName,
		"patient_email":  appt.PatientEmail,
		"scheduled_at":   appt.ScheduledAt.Format(time.RFC3339),
		"duration_mins":  appt.DurationMins,
		"fee_cents":      appt.FeeCents,
	})
	err = h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     EventAppointmentRequested,
		Payload:       payload,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not stage event")
		return
	}

	body, _ := json.Marshal(appt)
	if idemKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, idemKey, patientID, http.StatusCreated, body); err != nil {
			writeError(w, http.StatusInternalServerError, "could not finalize idempotency key")
			return
		}
	}
	if err := tx.Commit(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "could not commit")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

// slotsForInstant resolves availability for the clinic-local day containing
// the instant. The local calendar day is only known once the clinic timezone
// is, so the schedule may be fetched twice around a date boundary.
func (h *BookingHandler) slotsForInstant(ctx context.Context, doctorID string, at time.Time) ([]time.Time, schedule.DayConfig, error) {
	date := at.UTC().Format("2006-01-02")
	starts, cfg, err := h.availableSlots(ctx, doctorID, date)
	if err != nil {
		return nil, schedule.DayConfig{}, err
	}
	localDate := at.In(cfg.Location()).Format("2006-01-02")
	if localDate != date {
		return h.availableSlots(ctx, doctorID, localDate)
	}
	return starts, cfg, nil
}

type cancelRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

// Cancel cancels an appointment. Owner patient, the treating doctor, and
// admins may cancel; repeating the call on a cancelled appointment is a
// no-op success.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	role := r.Header.Get("X-Role")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AppointmentID == "" {
		writeError(w, http.StatusBadRequest, "appointment_id is required")
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not start transaction")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.repo.GetForUpdate(ctx, tx, req.AppointmentID)
	if storage.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "appointment not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load appointment")
		return
	}

	allowed := role == auth.RoleAdmin ||
		(role == auth.RoleDoctor && appt.DoctorID == userID) ||
		appt.PatientID == userID
	if !allowed {
		writeError(w, http.StatusForbidden, "not allowed to cancel this appointment")
		return
	}

	if appt.Status == model.StatusCancelled {
		if err := tx.Commit(ctx); err != nil {
			writeError(w, http.StatusInternalServerError, "could not commit")
			return
		}
		writeJSON(w, http.StatusOK, appt)
		return
	}
	if appt.Status == model.StatusCompleted {
		writeError(w, http.StatusConflict, "completed appointments cannot be cancelled")
		return
	}

	wasConfirmed := appt.Status == model.StatusConfirmed
	cancelledAt, err := h.repo.Cancel(ctx, tx, appt.ID, req.Reason)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not cancel appointment")
		return
	}
	appt.Status = model.StatusCancelled
	appt.CancelReason = req.Reason
	appt.CancelledAt = &cancelledAt

	payload, _ := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"patient_id":     appt.PatientID,
		"doctor_id":      appt.DoctorID,
		"patient_email":  appt.PatientEmail,
		"scheduled_at":   appt.ScheduledAt.Format(time.RFC3339),
		"reason":         req.Reason,
		"was_confirmed":  wasConfirmed,
	})
	err = h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     EventAppointmentCancelled,
		Payload:       payload,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not stage event")
		return
	}

	// A confirmed appointment was already paid for.
	if wasConfirmed {
		refund, _ := json.Marshal(map[string]any{
			"appointment_id": appt.ID,
			"reason":         req.Reason,
		})
		err = h.outbox.Insert(ctx, tx, outbox.Event{
			AggregateType: "appointment",
			AggregateID:   appt.ID,
			EventType:     EventRefundRequested,
			Payload:       refund,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not stage refund event")
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "could not commit")
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type completeRequest struct {
	AppointmentID string `json:"appointment_id"`
}

// Complete marks a confirmed appointment completed after the visit.
func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	role := r.Header.Get("X-Role")
	if role != auth.RoleDoctor && role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "doctor or admin role required")
		return
	}

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AppointmentID == "" {
		writeError(w, http.StatusBadRequest, "appointment_id is required")
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not start transaction")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.repo.GetForUpdate(ctx, tx, req.AppointmentID)
	if storage.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "appointment not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load appointment")
		return
	}
	if role == auth.RoleDoctor && appt.DoctorID != userID {
		writeError(w, http.StatusForbidden, "not your appointment")
		return
	}

	if err := h.repo.Complete(ctx, tx, appt.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusConflict, "only confirmed appointments can be completed")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not complete appointment")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "could not commit")
		return
	}

	appt.Status = model.StatusCompleted
	writeJSON(w, http.StatusOK, appt)
}

// List serves the caller's own appointments, patient or doctor depending on
// role.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var (
		appts []model.Appointment
		err   error
	)
	if r.Header.Get("X-Role") == auth.RoleDoctor {
		appts, err = h.repo.ListByDoctor(r.Context(), userID)
	} else {
		appts, err = h.repo.ListByPatient(r.Context(), userID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list appointments")
		return
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appts})
}

// AdminList serves all appointments in [from, to) for back-office views.
func (h *BookingHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Role") != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}
	from, err := time.Parse("2006-01-02", r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
		return
	}
	to, err := time.Parse("2006-01-02", r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
		return
	}

	appts, err := h.repo.ListByRange(r.Context(), from, to.AddDate(0, 0, 1))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list appointments")
		return
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appts})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
