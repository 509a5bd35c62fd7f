package availability

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medinet/medinet/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const slotCols = `id, doctor_id, slot_date::text, slot_time::text, is_open, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var date, clock string

	err := row.Scan(&s.ID, &s.DoctorID, &date, &clock, &s.IsOpen, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	if s.Date, err = ParseDate(date); err != nil {
		return nil, fmt.Errorf("scan slot %s: %w", s.ID, err)
	}
	if s.Time, err = ParseTimeOfDay(clock); err != nil {
		return nil, fmt.Errorf("scan slot %s: %w", s.ID, err)
	}
	return &s, nil
}

func (r *PgRepository) Create(ctx context.Context, slot *Slot) error {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO slots (id, doctor_id, slot_date, slot_time, is_open, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4::time, $5, now(), now())
		ON CONFLICT (doctor_id, slot_date, slot_time) DO NOTHING
		RETURNING `+slotCols,
		slot.ID, slot.DoctorID, slot.Date.String(), slot.Time.String(), slot.IsOpen)

	created, err := scanSlot(row)
	if errors.Is(err, ErrSlotNotFound) {
		return ErrDuplicateSlot
	}
	if err != nil {
		return err
	}
	*slot = *created
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return scanSlot(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+slotCols+` FROM slots WHERE id = $1`, id))
}

func (r *PgRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return scanSlot(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+slotCols+` FROM slots WHERE id = $1 FOR UPDATE`, id))
}

func (r *PgRepository) GetByKey(ctx context.Context, key SlotKey) (*Slot, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+slotCols+`
		FROM slots
		WHERE doctor_id = $1 AND slot_date = $2::date AND slot_time = $3::time
	`, key.DoctorID, key.Date.String(), key.Time.String())
	return scanSlot(row)
}

func (r *PgRepository) List(ctx context.Context, filter ListFilter) ([]Slot, error) {
	query := `SELECT ` + slotCols + ` FROM slots WHERE doctor_id = $1`
	args := []any{filter.DoctorID}
	if filter.Date != nil {
		args = append(args, filter.Date.String())
		query += fmt.Sprintf(` AND slot_date = $%d::date`, len(args))
	}
	if filter.OpenOnly {
		query += ` AND is_open`
	}
	query += ` ORDER BY slot_date, slot_time`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) Update(ctx context.Context, slot *Slot) error {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE slots
		SET slot_date = $2::date,
		    slot_time = $3::time,
		    is_open = $4,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+slotCols,
		slot.ID, slot.Date.String(), slot.Time.String(), slot.IsOpen)

	updated, err := scanSlot(row)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return ErrDuplicateSlot
		}
		return err
	}
	*slot = *updated
	return nil
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM slots WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

// SetOpen is a conditional update: only a row in the opposite state matches,
// and concurrent callers serialise on the row lock.
func (r *PgRepository) SetOpen(ctx context.Context, key SlotKey, open bool) (bool, error) {
	conn := db.Conn(ctx, r.pool)
	tag, err := conn.Exec(ctx, `
		UPDATE slots
		SET is_open = $4,
		    updated_at = now()
		WHERE doctor_id = $1
		  AND slot_date = $2::date
		  AND slot_time = $3::time
		  AND is_open <> $4
	`, key.DoctorID, key.Date.String(), key.Time.String(), open)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	err = conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM slots WHERE doctor_id = $1 AND slot_date = $2::date AND slot_time = $3::time
		)
	`, key.DoctorID, key.Date.String(), key.Time.String()).Scan(&exists)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrSlotNotFound
	}
	return false, nil
}
