package availability

import (
	"time"

	"github.com/google/uuid"
)

type Slot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Date      Date
	Time      TimeOfDay
	IsOpen    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s Slot) Key() SlotKey {
	return SlotKey{DoctorID: s.DoctorID, Date: s.Date, Time: s.Time}
}

// BulkResult reports a best-effort bulk creation.
type BulkResult struct {
	Created int
	Slots   []Slot
	Skipped []SlotKey
}

// ListFilter narrows a slot listing to one doctor, optionally one date and
// open slots only.
type ListFilter struct {
	DoctorID uuid.UUID
	Date     *Date
	OpenOnly bool
}
