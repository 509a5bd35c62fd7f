package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medinet/medinet/internal/availability"
	"github.com/medinet/medinet/internal/booking"
)

type CreateSlotRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
	Time string `json:"time" validate:"required,timeofday"`
}

type BulkSlotsRequest struct {
	From  string   `json:"from" validate:"required,datetime=2006-01-02"`
	To    string   `json:"to" validate:"required,datetime=2006-01-02"`
	Times []string `json:"times" validate:"required,min=1,dive,timeofday"`
}

type UpdateSlotRequest struct {
	Date *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Time *string `json:"time" validate:"omitempty,timeofday"`
}

type BookAppointmentRequest struct {
	DoctorID  string  `json:"doctor_id" validate:"required,uuid"`
	PatientID string  `json:"patient_id" validate:"required,uuid"`
	Date      string  `json:"date" validate:"required,datetime=2006-01-02"`
	Time      string  `json:"time" validate:"required,timeofday"`
	Type      string  `json:"type" validate:"required,max=100"`
	Notes     *string `json:"notes" validate:"omitempty,max=2000"`
}

type RescheduleRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
	Time string `json:"time" validate:"required,timeofday"`
}

type SlotResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	IsOpen    bool      `json:"is_open"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SlotKeyResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	Time     string    `json:"time"`
}

type BulkSlotsResponse struct {
	Created int               `json:"created"`
	Slots   []SlotResponse    `json:"slots"`
	Skipped []SlotKeyResponse `json:"skipped"`
}

type AppointmentResponse struct {
	ID          uuid.UUID  `json:"id"`
	DoctorID    uuid.UUID  `json:"doctor_id"`
	PatientID   uuid.UUID  `json:"patient_id"`
	Date        string     `json:"date"`
	Time        string     `json:"time"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	Notes       *string    `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func slotResponse(s availability.Slot) SlotResponse {
	return SlotResponse{
		ID:        s.ID,
		DoctorID:  s.DoctorID,
		Date:      s.Date.String(),
		Time:      s.Time.String(),
		IsOpen:    s.IsOpen,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func slotResponses(list []availability.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(list))
	for _, s := range list {
		out = append(out, slotResponse(s))
	}
	return out
}

func bulkResponse(res *availability.BulkResult) BulkSlotsResponse {
	skipped := make([]SlotKeyResponse, 0, len(res.Skipped))
	for _, k := range res.Skipped {
		skipped = append(skipped, SlotKeyResponse{DoctorID: k.DoctorID, Date: k.Date.String(), Time: k.Time.String()})
	}
	return BulkSlotsResponse{
		Created: res.Created,
		Slots:   slotResponses(res.Slots),
		Skipped: skipped,
	}
}

// appointmentResponse reports the display status, not the stored one.
func appointmentResponse(a *booking.AppointmentDetail) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		DoctorID:    a.DoctorID,
		PatientID:   a.PatientID,
		Date:        a.Date.String(),
		Time:        a.Time.String(),
		Type:        a.Type,
		Status:      string(a.DisplayStatus),
		Notes:       a.Notes,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
		CancelledAt: a.CancelledAt,
	}
}
