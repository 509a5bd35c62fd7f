package availability

import (
	"context"
	"maps"
	"sort"

	"github.com/google/uuid"

	"github.com/medinet/medinet/internal/db"
)

// MemoryRepository keeps slots in process memory. It registers with a
// MemoryTransactor so that failed transactions roll its state back.
type MemoryRepository struct {
	tx    *db.MemoryTransactor
	byID  map[uuid.UUID]*Slot
	byKey map[SlotKey]uuid.UUID
}

func NewMemoryRepository(tx *db.MemoryTransactor) *MemoryRepository {
	r := &MemoryRepository{
		tx:    tx,
		byID:  make(map[uuid.UUID]*Slot),
		byKey: make(map[SlotKey]uuid.UUID),
	}
	tx.Register(r)
	return r
}

func (r *MemoryRepository) Snapshot() func() {
	byID := make(map[uuid.UUID]*Slot, len(r.byID))
	for id, s := range r.byID {
		cp := *s
		byID[id] = &cp
	}
	byKey := maps.Clone(r.byKey)
	return func() {
		r.byID = byID
		r.byKey = byKey
	}
}

func (r *MemoryRepository) Create(ctx context.Context, slot *Slot) error {
	defer r.tx.Lock(ctx)()

	if _, ok := r.byKey[slot.Key()]; ok {
		return ErrDuplicateSlot
	}
	cp := *slot
	r.byID[slot.ID] = &cp
	r.byKey[slot.Key()] = slot.ID
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	defer r.tx.Lock(ctx)()

	s, ok := r.byID[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return r.GetByID(ctx, id)
}

func (r *MemoryRepository) GetByKey(ctx context.Context, key SlotKey) (*Slot, error) {
	defer r.tx.Lock(ctx)()

	id, ok := r.byKey[key]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *MemoryRepository) List(ctx context.Context, filter ListFilter) ([]Slot, error) {
	defer r.tx.Lock(ctx)()

	var result []Slot
	for _, s := range r.byID {
		if s.DoctorID != filter.DoctorID {
			continue
		}
		if filter.Date != nil && s.Date != *filter.Date {
			continue
		}
		if filter.OpenOnly && !s.IsOpen {
			continue
		}
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key().Less(result[j].Key())
	})
	return result, nil
}

func (r *MemoryRepository) Update(ctx context.Context, slot *Slot) error {
	defer r.tx.Lock(ctx)()

	cur, ok := r.byID[slot.ID]
	if !ok {
		return ErrSlotNotFound
	}
	if id, taken := r.byKey[slot.Key()]; taken && id != slot.ID {
		return ErrDuplicateSlot
	}
	delete(r.byKey, cur.Key())
	cp := *slot
	r.byID[slot.ID] = &cp
	r.byKey[slot.Key()] = slot.ID
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.tx.Lock(ctx)()

	s, ok := r.byID[id]
	if !ok {
		return ErrSlotNotFound
	}
	delete(r.byKey, s.Key())
	delete(r.byID, id)
	return nil
}

func (r *MemoryRepository) SetOpen(ctx context.Context, key SlotKey, open bool) (bool, error) {
	defer r.tx.Lock(ctx)()

	id, ok := r.byKey[key]
	if !ok {
		return false, ErrSlotNotFound
	}
	s := r.byID[id]
	if s.IsOpen == open {
		return false, nil
	}
	s.IsOpen = open
	return true, nil
}
