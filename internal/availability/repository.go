package availability

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrInvalidSlot       = errors.New("invalid slot")
	ErrDuplicateSlot     = errors.New("slot already exists")
	ErrSlotNotFound      = errors.New("slot not found")
	ErrSlotAlreadyBooked = errors.New("slot already booked")
	ErrSlotInUse         = errors.New("slot is held by an active appointment")
)

// Repository is the slot storage used by Store.
type Repository interface {
	// Create inserts slot, returning ErrDuplicateSlot when its key is taken.
	Create(ctx context.Context, slot *Slot) error
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	// GetByIDForUpdate also locks the row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error)
	GetByKey(ctx context.Context, key SlotKey) (*Slot, error)
	// List returns slots ordered by (date, time) ascending.
	List(ctx context.Context, filter ListFilter) ([]Slot, error)
	// Update persists date, time and open state of slot.
	Update(ctx context.Context, slot *Slot) error
	Delete(ctx context.Context, id uuid.UUID) error
	// SetOpen moves the slot at key to the requested state only if it is in
	// the other one. changed is false when it already was in that state.
	SetOpen(ctx context.Context, key SlotKey, open bool) (changed bool, err error)
}

// UsageChecker reports whether a scheduled appointment still references the
// slot at key.
type UsageChecker interface {
	SlotInUse(ctx context.Context, key SlotKey) (bool, error)
}
