package booking

import (
	"context"
	"errors"

	"github.com/medinet/medinet/internal/availability"
)

// SlotUsage answers availability.UsageChecker from the appointment table.
// A slot is in use while a stored-scheduled appointment references it, past
// or not. That matches the one-scheduled-per-triple constraint, so a slot
// can only be deleted and recreated once nothing would block booking it.
type SlotUsage struct {
	repo Repository
}

func NewSlotUsage(repo Repository) *SlotUsage {
	return &SlotUsage{repo: repo}
}

var _ availability.UsageChecker = (*SlotUsage)(nil)

func (u *SlotUsage) SlotInUse(ctx context.Context, key availability.SlotKey) (bool, error) {
	_, err := u.repo.FindScheduledBySlot(ctx, key)
	if errors.Is(err, ErrAppointmentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
