package booking

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/medinet/medinet/internal/availability"
	"github.com/medinet/medinet/internal/db"
)

// MemoryRepository keeps appointments and events in process memory,
// enrolled in the same MemoryTransactor as the slot repository.
type MemoryRepository struct {
	tx     *db.MemoryTransactor
	byID   map[uuid.UUID]*Appointment
	events []EventLog
}

func NewMemoryRepository(tx *db.MemoryTransactor) *MemoryRepository {
	r := &MemoryRepository{
		tx:   tx,
		byID: make(map[uuid.UUID]*Appointment),
	}
	tx.Register(r)
	return r
}

func copyAppointment(a *Appointment) *Appointment {
	cp := *a
	if a.Notes != nil {
		n := *a.Notes
		cp.Notes = &n
	}
	if a.CancelledAt != nil {
		t := *a.CancelledAt
		cp.CancelledAt = &t
	}
	return &cp
}

func (r *MemoryRepository) Snapshot() func() {
	byID := make(map[uuid.UUID]*Appointment, len(r.byID))
	for id, a := range r.byID {
		byID[id] = copyAppointment(a)
	}
	events := len(r.events)
	return func() {
		r.byID = byID
		r.events = r.events[:events]
	}
}

func (r *MemoryRepository) Create(ctx context.Context, a *Appointment) error {
	defer r.tx.Lock(ctx)()

	if a.Status == StatusScheduled {
		for _, cur := range r.byID {
			if cur.Status == StatusScheduled && cur.SlotKey() == a.SlotKey() {
				return availability.ErrSlotAlreadyBooked
			}
		}
	}
	r.byID[a.ID] = copyAppointment(a)
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	defer r.tx.Lock(ctx)()

	a, ok := r.byID[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return copyAppointment(a), nil
}

func (r *MemoryRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.GetByID(ctx, id)
}

func (r *MemoryRepository) Update(ctx context.Context, a *Appointment) error {
	defer r.tx.Lock(ctx)()

	if _, ok := r.byID[a.ID]; !ok {
		return ErrAppointmentNotFound
	}
	if a.Status == StatusScheduled {
		for id, cur := range r.byID {
			if id != a.ID && cur.Status == StatusScheduled && cur.SlotKey() == a.SlotKey() {
				return availability.ErrSlotAlreadyBooked
			}
		}
	}
	r.byID[a.ID] = copyAppointment(a)
	return nil
}

func (r *MemoryRepository) FindScheduledBySlot(ctx context.Context, key availability.SlotKey) (*Appointment, error) {
	defer r.tx.Lock(ctx)()

	for _, a := range r.byID {
		if a.Status == StatusScheduled && a.SlotKey() == key {
			return copyAppointment(a), nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *MemoryRepository) list(keep func(a *Appointment) bool, limit, offset int) []Appointment {
	var result []Appointment
	for _, a := range r.byID {
		if keep(a) {
			result = append(result, *copyAppointment(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		ki, kj := result[i].SlotKey(), result[j].SlotKey()
		if ki.Date != kj.Date {
			return ki.Date.Before(kj.Date)
		}
		if ki.Time != kj.Time {
			return ki.Time < kj.Time
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if offset >= len(result) {
		return nil
	}
	result = result[offset:]
	if limit < len(result) {
		result = result[:limit]
	}
	return result
}

func (r *MemoryRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	defer r.tx.Lock(ctx)()

	return r.list(func(a *Appointment) bool { return a.PatientID == patientID }, limit, offset), nil
}

func (r *MemoryRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, date *availability.Date, limit, offset int) ([]Appointment, error) {
	defer r.tx.Lock(ctx)()

	return r.list(func(a *Appointment) bool {
		return a.DoctorID == doctorID && (date == nil || a.Date == *date)
	}, limit, offset), nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	defer r.tx.Lock(ctx)()

	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the event log.
func (r *MemoryRepository) Events(ctx context.Context) []EventLog {
	defer r.tx.Lock(ctx)()

	return append([]EventLog(nil), r.events...)
}
