package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medinet/medinet/internal/availability"
	"github.com/medinet/medinet/internal/db"
	redisclient "github.com/medinet/medinet/internal/redis"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentNoShow      = "APPOINTMENT_NO_SHOW"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Reconciler is the single authority that links appointments to slots.
type Reconciler struct {
	slots  *availability.Store
	repo   Repository
	tx     db.Transactor
	locker redisclient.Locker
	now    func() time.Time
	loc    *time.Location
	log    zerolog.Logger
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithLocation sets the clinic time zone that appointment dates and times
// are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(r *Reconciler) {
		if loc != nil {
			r.loc = loc
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Reconciler) { r.log = l }
}

// NewReconciler builds a Reconciler. A nil locker means no cross-process
// lock; the storage conditional update alone keeps bookings exclusive.
func NewReconciler(slots *availability.Store, repo Repository, tx db.Transactor, locker redisclient.Locker, opts ...Option) *Reconciler {
	if locker == nil {
		locker = redisclient.NopLocker{}
	}
	r := &Reconciler{
		slots:  slots,
		repo:   repo,
		tx:     tx,
		locker: locker,
		now:    time.Now,
		loc:    time.UTC,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) clock() time.Time {
	return r.now().In(r.loc)
}

// DisplayStatus is ComputeDisplayStatus at the current time in the clinic zone.
func (r *Reconciler) DisplayStatus(a *Appointment) Status {
	return ComputeDisplayStatus(a, r.clock())
}

func (r *Reconciler) detail(a *Appointment) *AppointmentDetail {
	return &AppointmentDetail{Appointment: *a, DisplayStatus: r.DisplayStatus(a)}
}

func validBookRequest(req BookRequest) error {
	switch {
	case req.DoctorID == uuid.Nil:
		return fmt.Errorf("%w: doctor_id is required", ErrInvalidAppointment)
	case req.PatientID == uuid.Nil:
		return fmt.Errorf("%w: patient_id is required", ErrInvalidAppointment)
	case req.Date.IsZero():
		return fmt.Errorf("%w: date is required", ErrInvalidAppointment)
	case !req.Time.Valid():
		return fmt.Errorf("%w: time out of range", ErrInvalidAppointment)
	case strings.TrimSpace(req.Type) == "":
		return fmt.Errorf("%w: type is required", ErrInvalidAppointment)
	}
	return nil
}

// withLocks runs fn under the per-slot locks for keys and translates a lock
// wait timeout into ErrSlotBusy.
func (r *Reconciler) withLocks(ctx context.Context, keys []availability.SlotKey, fn func(ctx context.Context) error) error {
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.String())
	}
	err := r.locker.WithLocks(ctx, names, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrSlotBusy
	}
	return err
}

// Book claims the slot and creates a scheduled appointment as one
// transaction. Of several concurrent calls for the same slot exactly one
// succeeds; the rest fail with availability.ErrSlotAlreadyBooked.
func (r *Reconciler) Book(ctx context.Context, req BookRequest) (*AppointmentDetail, error) {
	if err := validBookRequest(req); err != nil {
		return nil, err
	}

	key := availability.SlotKey{DoctorID: req.DoctorID, Date: req.Date, Time: req.Time}
	var created *Appointment

	err := r.withLocks(ctx, []availability.SlotKey{key}, func(ctx context.Context) error {
		return r.tx.WithinTx(ctx, func(ctx context.Context) error {
			if err := r.slots.ClaimSlot(ctx, key); err != nil {
				return err
			}

			now := r.now()
			appt := &Appointment{
				ID:        uuid.New(),
				DoctorID:  req.DoctorID,
				PatientID: req.PatientID,
				Date:      req.Date,
				Time:      req.Time,
				Type:      strings.TrimSpace(req.Type),
				Status:    StatusScheduled,
				Notes:     req.Notes,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := r.repo.Create(ctx, appt); err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}
			created = appt
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	r.logEvent(ctx, created.ID, EventAppointmentBooked, map[string]any{
		"doctor_id":  created.DoctorID.String(),
		"patient_id": created.PatientID.String(),
		"date":       created.Date.String(),
		"time":       created.Time.String(),
	})

	return r.detail(created), nil
}

// lockedUpdate loads the appointment, locks its current slot plus any slot
// named by extra, and runs fn with the row locked inside one transaction.
func (r *Reconciler) lockedUpdate(ctx context.Context, id uuid.UUID, extra func(a *Appointment) []availability.SlotKey, fn func(ctx context.Context, a *Appointment) error) (*Appointment, error) {
	current, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	keys := []availability.SlotKey{current.SlotKey()}
	if extra != nil {
		keys = append(keys, extra(current)...)
	}
	var result *Appointment
	err = r.withLocks(ctx, keys, func(ctx context.Context) error {
		return r.tx.WithinTx(ctx, func(ctx context.Context) error {
			a, err := r.repo.GetByIDForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if err := fn(ctx, a); err != nil {
				return err
			}
			result = a
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Reconciler) requireScheduled(a *Appointment, op string) error {
	if status := r.DisplayStatus(a); status != StatusScheduled {
		return fmt.Errorf("%s appointment %s in status %s: %w", op, a.ID, status, ErrInvalidState)
	}
	return nil
}

// reopen releases the slot held by a. A slot that no longer exists is
// logged and skipped so that the appointment can still move on.
func (r *Reconciler) reopen(ctx context.Context, a *Appointment) error {
	err := r.slots.ReopenSlot(ctx, a.SlotKey())
	if errors.Is(err, availability.ErrSlotNotFound) {
		r.log.Warn().
			Str("appointment_id", a.ID.String()).
			Str("slot", a.SlotKey().String()).
			Msg("slot held by appointment no longer exists")
		return nil
	}
	return err
}

// Reschedule moves a scheduled appointment to another slot of the same
// doctor. The old slot is reopened, the new one claimed and the appointment
// updated in one transaction; any failure leaves all three untouched.
func (r *Reconciler) Reschedule(ctx context.Context, id uuid.UUID, date availability.Date, t availability.TimeOfDay) (*AppointmentDetail, error) {
	if date.IsZero() || !t.Valid() {
		return nil, fmt.Errorf("%w: date and time are required", ErrInvalidAppointment)
	}

	var from availability.SlotKey
	var moved bool
	target := func(a *Appointment) []availability.SlotKey {
		return []availability.SlotKey{{DoctorID: a.DoctorID, Date: date, Time: t}}
	}

	updated, err := r.lockedUpdate(ctx, id, target, func(ctx context.Context, a *Appointment) error {
		if err := r.requireScheduled(a, "reschedule"); err != nil {
			return err
		}
		from = a.SlotKey()
		to := availability.SlotKey{DoctorID: a.DoctorID, Date: date, Time: t}
		if to == from {
			return nil
		}

		if err := r.reopen(ctx, a); err != nil {
			return fmt.Errorf("reopen slot %s: %w", from, err)
		}
		if err := r.slots.ClaimSlot(ctx, to); err != nil {
			return err
		}

		a.Date = date
		a.Time = t
		a.UpdatedAt = r.now()
		if err := r.repo.Update(ctx, a); err != nil {
			return fmt.Errorf("update appointment %s: %w", a.ID, err)
		}
		moved = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if moved {
		r.logEvent(ctx, updated.ID, EventAppointmentRescheduled, map[string]any{
			"from_date": from.Date.String(),
			"from_time": from.Time.String(),
			"to_date":   updated.Date.String(),
			"to_time":   updated.Time.String(),
		})
	}

	return r.detail(updated), nil
}

// Cancel reopens the slot and moves the appointment to cancelled, a
// terminal state.
func (r *Reconciler) Cancel(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	updated, err := r.lockedUpdate(ctx, id, nil, func(ctx context.Context, a *Appointment) error {
		if err := r.requireScheduled(a, "cancel"); err != nil {
			return err
		}
		if err := r.reopen(ctx, a); err != nil {
			return fmt.Errorf("reopen slot %s: %w", a.SlotKey(), err)
		}

		now := r.now()
		a.Status = StatusCancelled
		a.CancelledAt = &now
		a.UpdatedAt = now
		if err := r.repo.Update(ctx, a); err != nil {
			return fmt.Errorf("cancel appointment %s: %w", a.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{
		"date": updated.Date.String(),
		"time": updated.Time.String(),
	})

	return r.detail(updated), nil
}

// MarkNoShow records that the patient did not attend. Only a scheduled
// appointment whose start time has passed qualifies. The slot stays closed.
func (r *Reconciler) MarkNoShow(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	var updated *Appointment
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := r.repo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusScheduled {
			return fmt.Errorf("mark no-show on appointment %s in status %s: %w", a.ID, a.Status, ErrInvalidState)
		}
		if r.DisplayStatus(a) == StatusScheduled {
			return fmt.Errorf("appointment %s has not started yet: %w", a.ID, ErrInvalidState)
		}

		a.Status = StatusNoShow
		a.UpdatedAt = r.now()
		if err := r.repo.Update(ctx, a); err != nil {
			return fmt.Errorf("mark no-show on appointment %s: %w", a.ID, err)
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logEvent(ctx, updated.ID, EventAppointmentNoShow, map[string]any{})

	return r.detail(updated), nil
}

func (r *Reconciler) Get(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	a, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.detail(a), nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (r *Reconciler) details(list []Appointment) []AppointmentDetail {
	out := make([]AppointmentDetail, 0, len(list))
	for i := range list {
		out = append(out, *r.detail(&list[i]))
	}
	return out
}

// ListByPatient lists a patient's appointments ordered by date and time.
func (r *Reconciler) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	limit, offset = clampPage(limit, offset)
	list, err := r.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return r.details(list), nil
}

// ListByDoctor lists a doctor's appointments, optionally on one date.
func (r *Reconciler) ListByDoctor(ctx context.Context, doctorID uuid.UUID, date *availability.Date, limit, offset int) ([]AppointmentDetail, error) {
	limit, offset = clampPage(limit, offset)
	list, err := r.repo.ListByDoctor(ctx, doctorID, date, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return r.details(list), nil
}

// logEvent appends to the audit log after the owning transaction committed.
// Failures are logged, never returned.
func (r *Reconciler) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.log.Error().Err(err).Str("event_type", eventType).Msg("marshal event payload")
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     r.now(),
	}

	if err := r.repo.InsertEvent(context.WithoutCancel(ctx), ev); err != nil {
		r.log.Error().
			Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("insert event log")
	}
}
