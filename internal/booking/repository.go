package booking

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/medinet/medinet/internal/availability"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidState        = errors.New("invalid appointment state transition")
	ErrInvalidAppointment  = errors.New("invalid appointment")
	ErrSlotBusy            = errors.New("slot is currently being booked, please retry")
)

// Repository contains all DB interactions needed by the reconciler.
type Repository interface {
	// Create inserts a scheduled appointment. A second scheduled appointment
	// for the same slot triple fails with availability.ErrSlotAlreadyBooked.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetByIDForUpdate also locks the row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Update persists date, time, status and cancelled_at.
	Update(ctx context.Context, a *Appointment) error

	// FindScheduledBySlot returns the appointment stored as scheduled on key.
	FindScheduledBySlot(ctx context.Context, key availability.SlotKey) (*Appointment, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, date *availability.Date, limit, offset int) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
