package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same
// repository methods run inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool // nil when this repository is a transactional view
	q    querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

// InTx runs fn against a transactional repository. All mutations fn performs
// commit together or roll back together. Nested calls reuse the outer
// transaction.
func (r *PgRepository) InTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.pool == nil {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PgRepository{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Scan helpers

const slotDateFormat = "2006-01-02"

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var modes []string

	err := row.Scan(&d.ID, &d.Name, &d.Specialty, &d.Email, &d.Phone,
		&modes, &d.FeeCents, &d.Available, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Modes = make([]ConsultationMode, len(modes))
	for i, m := range modes {
		d.Modes[i] = ConsultationMode(m)
	}
	return &d, nil
}

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot
	var date time.Time

	err := row.Scan(&s.ID, &s.DoctorID, &date, &s.Start, &s.DurationMinutes,
		&s.Mode, &s.Booked, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.Date = date.Format(slotDateFormat)
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time

	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.SlotID,
		&date, &a.Start, &a.DurationMinutes, &a.Mode, &a.Status,
		&a.Reason, &a.Notes, &a.Prescription, &a.FeeCents, &a.PaymentStatus,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = date.Format(slotDateFormat)
	return &a, nil
}

const appointmentCols = `id, patient_id, doctor_id, slot_id, appt_date, start_time,
	duration_minutes, mode, status, reason, notes, prescription, fee_cents,
	payment_status, created_at, updated_at`

const slotCols = `id, doctor_id, slot_date, start_time, duration_minutes, mode,
	booked, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, email, phone, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, specialty, email, phone, modes, fee_cents, available, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+slotCols+`
		FROM time_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListFreeSlots(ctx context.Context, doctorID uuid.UUID, fromDate, toDate string) ([]TimeSlot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+slotCols+`
		FROM time_slots
		WHERE doctor_id = $1
		  AND booked = false
		  AND slot_date >= $2::date
		  AND slot_date <= $3::date
		ORDER BY slot_date, start_time
	`, doctorID, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateSlots(ctx context.Context, slots []TimeSlot) error {
	for _, s := range slots {
		_, err := r.q.Exec(ctx, `
			INSERT INTO time_slots (id, doctor_id, slot_date, start_time, duration_minutes, mode, booked, created_at, updated_at)
			VALUES ($1, $2, $3::date, $4, $5, $6, false, now(), now())
			ON CONFLICT (doctor_id, slot_date, start_time) DO NOTHING
		`, s.ID, s.DoctorID, s.Date, s.Start, s.DurationMinutes, s.Mode)
		if err != nil {
			return fmt.Errorf("insert slot %s: %w", s.Key(), err)
		}
	}
	return nil
}

// ReserveSlot is the conditional reservation: a single UPDATE flips booked
// only when it is currently false, so concurrent callers for the same key
// race on the row and exactly one sees a returned row.
func (r *PgRepository) ReserveSlot(ctx context.Context, key SlotKey) (*TimeSlot, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE time_slots
		SET booked = true,
		    updated_at = now()
		WHERE doctor_id = $1
		  AND slot_date = $2::date
		  AND start_time = $3
		  AND booked = false
		RETURNING `+slotCols+`
	`, key.DoctorID, key.Date, key.Start)

	slot, err := scanSlot(row)
	if err == nil {
		return slot, nil
	}
	if !errors.Is(err, ErrSlotNotFound) {
		return nil, err
	}

	// No free row matched: tell "taken" apart from "no such slot".
	var exists bool
	checkErr := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM time_slots
			WHERE doctor_id = $1 AND slot_date = $2::date AND start_time = $3
		)
	`, key.DoctorID, key.Date, key.Start).Scan(&exists)
	if checkErr != nil {
		return nil, checkErr
	}
	if exists {
		return nil, ErrSlotTaken
	}
	return nil, ErrSlotNotFound
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, slotID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		UPDATE time_slots
		SET booked = false,
		    updated_at = now()
		WHERE id = $1
		  AND booked = true
	`, slotID)
	return err
}

func (r *PgRepository) CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error) {
	id := appt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.q.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, slot_id, appt_date, start_time,
			duration_minutes, mode, status, reason, fee_cents, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8, $9, $10, $11, $12, now(), now())
		RETURNING `+appointmentCols+`
	`, id, appt.PatientID, appt.DoctorID, appt.SlotID, appt.Date, appt.Start,
		appt.DurationMinutes, appt.Mode, appt.Status, appt.Reason, appt.FeeCents, appt.PaymentStatus)

	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := r.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := AppointmentDetail{Appointment: *appt}

	if slot, err := r.GetSlotByID(ctx, appt.SlotID); err == nil {
		detail.Slot = slot
	} else if !errors.Is(err, ErrSlotNotFound) {
		return nil, err
	}

	patient, err := r.GetPatientByID(ctx, appt.PatientID)
	if err != nil {
		return nil, err
	}
	detail.Patient = patient

	doctor, err := r.GetDoctorByID(ctx, appt.DoctorID)
	if err != nil {
		return nil, err
	}
	detail.Doctor = doctor

	return &detail, nil
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	query := `SELECT ` + appointmentCols + ` FROM appointments WHERE 1=1`
	args := []any{}

	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		query += fmt.Sprintf(" AND patient_id = $%d", len(args))
	}
	if f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		query += fmt.Sprintf(" AND doctor_id = $%d", len(args))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.UpcomingOnly {
		query += " AND (appt_date + start_time::time) >= now()"
	}

	query += " ORDER BY appt_date, start_time"

	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetActiveAppointmentForSlot(ctx context.Context, slotID uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE slot_id = $1
		  AND status IN ('scheduled', 'confirmed')
	`, slotID)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, notes, prescription *string) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    notes = COALESCE($4, notes),
		    prescription = COALESCE($5, prescription),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentCols+`
	`, id, to, from, notes, prescription)

	return scanAppointment(row)
}

func (r *PgRepository) InsertNotification(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}

	_, err := r.q.Exec(ctx, `
		INSERT INTO notifications (id, recipient_id, recipient_role, type, title, message, appointment_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, n.ID, n.RecipientID, n.RecipientRole, n.Type, n.Title, n.Message, n.AppointmentID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *PgRepository) FindUndispatched(ctx context.Context, limit int) ([]Notification, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, recipient_id, recipient_role, type, title, message, appointment_id, created_at, dispatched_at
		FROM notifications
		WHERE dispatched_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.RecipientRole, &n.Type,
			&n.Title, &n.Message, &n.AppointmentID, &n.CreatedAt, &n.DispatchedAt); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (r *PgRepository) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		UPDATE notifications
		SET dispatched_at = now()
		WHERE id = $1
		  AND dispatched_at IS NULL
	`, id)
	return err
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.q.Exec(ctx, `
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
