package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medinet/medinet/internal/availability"
	"github.com/medinet/medinet/internal/db"
)

const scheduledSlotConstraint = "appointments_scheduled_slot_key"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentCols = `id, doctor_id, patient_id, appt_date::text, appt_time::text, appt_type, status, notes, created_at, updated_at, cancelled_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date, clock string
	var notes *string
	var cancelledAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&date,
		&clock,
		&a.Type,
		&a.Status,
		&notes,
		&a.CreatedAt,
		&a.UpdatedAt,
		&cancelledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if a.Date, err = availability.ParseDate(date); err != nil {
		return nil, fmt.Errorf("scan appointment %s: %w", a.ID, err)
	}
	if a.Time, err = availability.ParseTimeOfDay(clock); err != nil {
		return nil, fmt.Errorf("scan appointment %s: %w", a.ID, err)
	}
	a.Notes = notes
	a.CancelledAt = cancelledAt
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func mapWriteError(err error) error {
	if constraint, ok := db.UniqueViolation(err); ok && constraint == scheduledSlotConstraint {
		return availability.ErrSlotAlreadyBooked
	}
	return err
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment) error {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, appt_date, appt_time, appt_type, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4::date, $5::time, $6, $7, $8, now(), now())
		RETURNING `+appointmentCols,
		a.ID, a.DoctorID, a.PatientID, a.Date.String(), a.Time.String(), a.Type, a.Status, a.Notes)

	created, err := scanAppointment(row)
	if err != nil {
		return mapWriteError(err)
	}
	*a = *created
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	return scanAppointment(row)
}

func (r *PgRepository) Update(ctx context.Context, a *Appointment) error {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments
		SET appt_date = $2::date,
		    appt_time = $3::time,
		    status = $4,
		    cancelled_at = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentCols,
		a.ID, a.Date.String(), a.Time.String(), a.Status, a.CancelledAt)

	updated, err := scanAppointment(row)
	if err != nil {
		return mapWriteError(err)
	}
	*a = *updated
	return nil
}

func (r *PgRepository) FindScheduledBySlot(ctx context.Context, key availability.SlotKey) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appt_date = $2::date
		  AND appt_time = $3::time
		  AND status = 'scheduled'
	`, key.DoctorID, key.Date.String(), key.Time.String())
	return scanAppointment(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appt_date, appt_time, created_at
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, date *availability.Date, limit, offset int) ([]Appointment, error) {
	query := `SELECT ` + appointmentCols + ` FROM appointments WHERE doctor_id = $1`
	args := []any{doctorID}
	if date != nil {
		args = append(args, date.String())
		query += fmt.Sprintf(` AND appt_date = $%d::date`, len(args))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY appt_date, appt_time, created_at LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
