package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/medinet/medinet/internal/availability"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"

	// StatusCompleted is never stored. It is derived at read time for a
	// scheduled appointment whose start has passed.
	StatusCompleted Status = "completed"
)

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s != StatusScheduled
}

type Appointment struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	PatientID   uuid.UUID
	Date        availability.Date
	Time        availability.TimeOfDay
	Type        string
	Status      Status
	Notes       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CancelledAt *time.Time
}

func (a *Appointment) SlotKey() availability.SlotKey {
	return availability.SlotKey{DoctorID: a.DoctorID, Date: a.Date, Time: a.Time}
}

// StartsAt is the wall-clock start of the appointment in loc.
func (a *Appointment) StartsAt(loc *time.Location) time.Time {
	return availability.At(a.Date, a.Time, loc)
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// AppointmentDetail is an appointment as returned by read paths.
type AppointmentDetail struct {
	Appointment
	DisplayStatus Status
}

// ComputeDisplayStatus reconciles the stored status with the wall clock.
// The appointment's date and time are read in now's location.
func ComputeDisplayStatus(a *Appointment, now time.Time) Status {
	switch a.Status {
	case StatusCancelled, StatusNoShow:
		return a.Status
	}
	if a.StartsAt(now.Location()).Before(now) {
		return StatusCompleted
	}
	return StatusScheduled
}

// BookRequest carries everything needed to book one slot.
type BookRequest struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Date      availability.Date
	Time      availability.TimeOfDay
	Type      string
	Notes     *string
}
