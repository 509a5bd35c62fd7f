package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medinet/medinet/internal/db"
)

const DefaultMaxBulkDays = 366

// Store is the authoritative owner of doctors' slots.
type Store struct {
	repo        Repository
	tx          db.Transactor
	usage       UsageChecker
	maxBulkDays int
	now         func() time.Time
	log         zerolog.Logger
}

type Option func(*Store)

// WithMaxBulkDays caps the date range accepted by CreateSlotsBulk.
func WithMaxBulkDays(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxBulkDays = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithClock sets the timestamp source for created/updated fields.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore builds a Store. usage may be nil, in which case every closed slot
// counts as in use.
func NewStore(repo Repository, tx db.Transactor, usage UsageChecker, opts ...Option) *Store {
	s := &Store{
		repo:        repo,
		tx:          tx,
		usage:       usage,
		maxBulkDays: DefaultMaxBulkDays,
		now:         time.Now,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validKey(key SlotKey) error {
	if key.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctor_id is required", ErrInvalidSlot)
	}
	if key.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidSlot)
	}
	if !key.Time.Valid() {
		return fmt.Errorf("%w: time %d out of range", ErrInvalidSlot, key.Time)
	}
	return nil
}

// CreateSlot inserts one open slot.
func (s *Store) CreateSlot(ctx context.Context, doctorID uuid.UUID, date Date, t TimeOfDay) (*Slot, error) {
	key := SlotKey{DoctorID: doctorID, Date: date, Time: t}
	if err := validKey(key); err != nil {
		return nil, err
	}

	now := s.now()
	slot := &Slot{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		Date:      date,
		Time:      t,
		IsOpen:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, slot); err != nil {
		return nil, fmt.Errorf("create slot %s: %w", key, err)
	}
	return slot, nil
}

// CreateSlotsBulk creates a slot for every date in [from, to] and every time
// in times. Keys that already exist are skipped, not fatal. Any other error
// stops the batch and is returned together with what was created so far.
func (s *Store) CreateSlotsBulk(ctx context.Context, doctorID uuid.UUID, from, to Date, times []TimeOfDay) (*BulkResult, error) {
	if doctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: doctor_id is required", ErrInvalidSlot)
	}
	if from.IsZero() || to.IsZero() {
		return nil, fmt.Errorf("%w: date range is required", ErrInvalidSlot)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: range end %s is before start %s", ErrInvalidSlot, to, from)
	}
	if days := from.DaysUntil(to) + 1; days > s.maxBulkDays {
		return nil, fmt.Errorf("%w: range spans %d days, limit is %d", ErrInvalidSlot, days, s.maxBulkDays)
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("%w: at least one time is required", ErrInvalidSlot)
	}

	result := &BulkResult{}
	for d := from; !d.After(to); d = d.AddDays(1) {
		for _, t := range times {
			slot, err := s.CreateSlot(ctx, doctorID, d, t)
			if errors.Is(err, ErrDuplicateSlot) {
				result.Skipped = append(result.Skipped, SlotKey{DoctorID: doctorID, Date: d, Time: t})
				continue
			}
			if err != nil {
				return result, err
			}
			result.Created++
			result.Slots = append(result.Slots, *slot)
		}
	}

	s.log.Debug().
		Str("doctor_id", doctorID.String()).
		Str("from", from.String()).
		Str("to", to.String()).
		Int("created", result.Created).
		Int("skipped", len(result.Skipped)).
		Msg("bulk slot creation")

	return result, nil
}

func (s *Store) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Store) GetSlotByKey(ctx context.Context, key SlotKey) (*Slot, error) {
	return s.repo.GetByKey(ctx, key)
}

// ListSlots returns the doctor's slots ordered by (date, time), optionally on
// a single date.
func (s *Store) ListSlots(ctx context.Context, doctorID uuid.UUID, date *Date) ([]Slot, error) {
	return s.repo.List(ctx, ListFilter{DoctorID: doctorID, Date: date})
}

func (s *Store) ListOpenSlots(ctx context.Context, doctorID uuid.UUID, date *Date) ([]Slot, error) {
	return s.repo.List(ctx, ListFilter{DoctorID: doctorID, Date: date, OpenOnly: true})
}

// inUse reports whether slot is held. An open slot never is.
func (s *Store) inUse(ctx context.Context, slot *Slot) (bool, error) {
	if slot.IsOpen {
		return false, nil
	}
	if s.usage == nil {
		return true, nil
	}
	used, err := s.usage.SlotInUse(ctx, slot.Key())
	if err != nil {
		return false, fmt.Errorf("check slot usage: %w", err)
	}
	return used, nil
}

// UpdateSlot moves a slot to a new date and/or time. A slot held by an active
// appointment cannot be moved. A closed slot nobody holds is reopened by the
// move, since no appointment claims the new triple.
func (s *Store) UpdateSlot(ctx context.Context, id uuid.UUID, date *Date, t *TimeOfDay) (*Slot, error) {
	var updated *Slot
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		slot, err := s.repo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}

		target := slot.Key()
		if date != nil {
			target.Date = *date
		}
		if t != nil {
			target.Time = *t
		}
		if err := validKey(target); err != nil {
			return err
		}
		if target == slot.Key() {
			updated = slot
			return nil
		}

		used, err := s.inUse(ctx, slot)
		if err != nil {
			return err
		}
		if used {
			return fmt.Errorf("update slot %s: %w", slot.Key(), ErrSlotInUse)
		}

		existing, err := s.repo.GetByKey(ctx, target)
		switch {
		case err == nil && existing.ID != slot.ID:
			return fmt.Errorf("update slot to %s: %w", target, ErrDuplicateSlot)
		case err != nil && !errors.Is(err, ErrSlotNotFound):
			return fmt.Errorf("load slot %s: %w", target, err)
		}

		slot.Date = target.Date
		slot.Time = target.Time
		slot.IsOpen = true
		slot.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, slot); err != nil {
			return fmt.Errorf("update slot %s: %w", slot.ID, err)
		}
		updated = slot
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteSlot removes a slot. It never cascades: a slot held by an active
// appointment is rejected with ErrSlotInUse until that appointment is cancelled.
func (s *Store) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		slot, err := s.repo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		used, err := s.inUse(ctx, slot)
		if err != nil {
			return err
		}
		if used {
			return fmt.Errorf("delete slot %s: %w", slot.Key(), ErrSlotInUse)
		}
		if err := s.repo.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete slot %s: %w", id, err)
		}
		return nil
	})
}

// CloseSlot marks the slot closed. Closing a closed slot succeeds.
func (s *Store) CloseSlot(ctx context.Context, key SlotKey) error {
	if _, err := s.repo.SetOpen(ctx, key, false); err != nil {
		return fmt.Errorf("close slot %s: %w", key, err)
	}
	return nil
}

// ReopenSlot marks the slot open. Reopening an open slot succeeds.
func (s *Store) ReopenSlot(ctx context.Context, key SlotKey) error {
	if _, err := s.repo.SetOpen(ctx, key, true); err != nil {
		return fmt.Errorf("reopen slot %s: %w", key, err)
	}
	return nil
}

// ClaimSlot closes an open slot. Unlike CloseSlot it fails with
// ErrSlotAlreadyBooked when the slot was already closed, so of several
// concurrent claims exactly one wins.
func (s *Store) ClaimSlot(ctx context.Context, key SlotKey) error {
	changed, err := s.repo.SetOpen(ctx, key, false)
	if err != nil {
		return fmt.Errorf("claim slot %s: %w", key, err)
	}
	if !changed {
		return fmt.Errorf("claim slot %s: %w", key, ErrSlotAlreadyBooked)
	}
	return nil
}
