package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const appointmentColumns = `id, patient_id, appointment_date, slot, bed_id, status, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewPgRepository returns a Repository backed by Postgres. Calendar dates are
// stored as DATE and returned at midnight in loc.
func NewPgRepository(pool *pgxpool.Pool, loc *time.Location) *PgRepository {
	if loc == nil {
		loc = time.Local
	}
	return &PgRepository{pool: pool, loc: loc}
}

// Helpers

func (r *PgRepository) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	var bedID *uuid.UUID

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&date,
		&a.Slot,
		&bedID,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = civilDate(date, r.loc)
	a.BedID = bedID
	return &a, nil
}

func (r *PgRepository) scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
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

// dateParam encodes the calendar date of t; pgx writes DATE values from the
// year, month and day of the given time.
func dateParam(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func statusParams(statuses []AppointmentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Interface methods

func (r *PgRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return r.scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByStatus(ctx context.Context, statuses ...AppointmentStatus) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = ANY($1)
		ORDER BY appointment_date, slot, created_at
	`, statusParams(statuses))
	if err != nil {
		return nil, err
	}
	return r.scanAppointments(rows)
}

func (r *PgRepository) ListAppointmentsOnDate(ctx context.Context, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_date >= $1::date
		  AND appointment_date < $1::date + 1
		ORDER BY slot, created_at
	`, dateParam(date))
	if err != nil {
		return nil, err
	}
	return r.scanAppointments(rows)
}

func (r *PgRepository) ListSlotAppointments(ctx context.Context, date time.Time, slot string, statuses ...AppointmentStatus) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_date = $1::date
		  AND slot = $2
		  AND status = ANY($3)
		ORDER BY created_at
	`, dateParam(date), slot, statusParams(statuses))
	if err != nil {
		return nil, err
	}
	return r.scanAppointments(rows)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	return r.scanAppointment(row)
}

func (r *PgRepository) MarkDidntShow(ctx context.Context, id uuid.UUID, reschedule *NewAppointment, record *DidntShowRecord) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'didnt_show',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'approved'
	`, id)
	if err != nil {
		return nil, fmt.Errorf("mark didnt_show: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAppointmentNotFound
	}

	var created *Appointment
	if reschedule != nil {
		row := tx.QueryRow(ctx, `
			INSERT INTO appointments (id, patient_id, appointment_date, slot, bed_id, status, created_at, updated_at)
			VALUES ($1, $2, $3::date, $4, $5, $6, $7, $7)
			RETURNING `+appointmentColumns+`
		`, uuid.New(), reschedule.PatientID, dateParam(reschedule.Date), reschedule.Slot,
			reschedule.BedID, reschedule.Status, reschedule.CreatedAt)
		created, err = r.scanAppointment(row)
		if err != nil {
			return nil, fmt.Errorf("insert rescheduled appointment: %w", err)
		}
	}

	if record != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO didnt_show_records (original_appointment_id, patient_id, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (original_appointment_id) DO NOTHING
		`, record.OriginalAppointmentID, record.PatientID, record.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert didnt show record: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

func (r *PgRepository) ListActiveSessions(ctx context.Context, date time.Time) ([]Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, session_date, slot, is_active
		FROM sessions
		WHERE session_date = $1::date
		  AND is_active
		ORDER BY slot, id
	`, dateParam(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Session
	for rows.Next() {
		var s Session
		var d time.Time
		if err := rows.Scan(&s.ID, &d, &s.Slot, &s.Active); err != nil {
			return nil, err
		}
		s.Date = civilDate(d, r.loc)
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListWorkingBeds(ctx context.Context) ([]Bed, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, is_working
		FROM beds
		WHERE is_working
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Bed
	for rows.Next() {
		var b Bed
		if err := rows.Scan(&b.ID, &b.Name, &b.IsWorking); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetDeviceToken(ctx context.Context, patientID uuid.UUID) (string, error) {
	var token string
	err := r.pool.QueryRow(ctx, `
		SELECT fcm_token
		FROM patient_devices
		WHERE patient_id = $1
	`, patientID).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return token, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
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
