package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/lachachiyasmine/medical-consultation-app-backend/internal/redis"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventStatusChanged        = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
)

var (
	ErrDoctorNotAvailable = errors.New("doctor is not available for booking")
	ErrModeNotSupported   = errors.New("consultation mode not supported")
	ErrSlotInPast         = errors.New("requested slot is in the past")
	ErrInvalidSlotTime    = errors.New("invalid slot date or time")
	ErrSlotContended      = errors.New("slot is currently being booked, please retry")
	ErrForbidden          = errors.New("operation not permitted for this principal")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

type Service struct {
	repo       Repository
	locker     redisclient.Locker
	dispatcher Dispatcher
	log        zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, dispatcher Dispatcher, log zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		locker:     locker,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "booking").Logger(),
	}
}

type BookingInput struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      string // YYYY-MM-DD
	Start     string // HH:MM
	Mode      ConsultationMode
	Reason    *string
}

// BookAppointment reserves the (doctor, date, time) slot and creates the
// appointment in one atomic unit. The per-key lock serializes concurrent
// attempts; the conditional ReserveSlot inside guarantees a single winner
// even if the lock is lost. On any failure the whole unit rolls back, so no
// reserved slot is left without an appointment.
func (s *Service) BookAppointment(ctx context.Context, p Principal, in BookingInput) (*Appointment, error) {
	switch p.Role {
	case RolePatient:
		if p.ID != in.PatientID {
			return nil, ErrForbidden
		}
	case RoleAdmin:
		// admins may book on a patient's behalf
	default:
		return nil, ErrForbidden
	}

	startAt, err := ParseSlotTime(in.Date, in.Start)
	if err != nil {
		return nil, ErrInvalidSlotTime
	}
	if startAt.Before(time.Now().UTC()) {
		return nil, ErrSlotInPast
	}

	if _, err := s.repo.GetPatientByID(ctx, in.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	doctor, err := s.repo.GetDoctorByID(ctx, in.DoctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.Available {
		return nil, ErrDoctorNotAvailable
	}
	if !doctor.SupportsMode(in.Mode) {
		return nil, ErrModeNotSupported
	}

	key := SlotKey{DoctorID: in.DoctorID, Date: in.Date, Start: in.Start}

	var (
		created *Appointment
		handoff []Notification
	)

	err = s.locker.WithSlotLock(ctx, key.String(), func(lockCtx context.Context) error {
		return s.repo.InTx(lockCtx, func(tx Repository) error {
			slot, err := tx.ReserveSlot(lockCtx, key)
			if err != nil {
				return err
			}
			if slot.Mode != in.Mode {
				return ErrModeNotSupported
			}

			appt, err := tx.CreateAppointment(lockCtx, &Appointment{
				PatientID:       in.PatientID,
				DoctorID:        in.DoctorID,
				SlotID:          slot.ID,
				Date:            slot.Date,
				Start:           slot.Start,
				DurationMinutes: slot.DurationMinutes,
				Mode:            in.Mode,
				Status:          StatusScheduled,
				Reason:          in.Reason,
				FeeCents:        doctor.FeeCents,
				PaymentStatus:   PaymentUnpaid,
			})
			if err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}
			created = appt

			notifs := []Notification{
				{
					RecipientID:   appt.PatientID,
					RecipientRole: RolePatient,
					Type:          NotifyBookingConfirmed,
					Title:         "Appointment booked",
					Message:       fmt.Sprintf("Your appointment on %s at %s is booked and awaiting confirmation.", appt.Date, appt.Start),
					AppointmentID: appt.ID,
				},
				{
					RecipientID:   appt.DoctorID,
					RecipientRole: RoleDoctor,
					Type:          NotifyNewAppointment,
					Title:         "New appointment",
					Message:       fmt.Sprintf("A patient booked a %s consultation on %s at %s.", appt.Mode, appt.Date, appt.Start),
					AppointmentID: appt.ID,
				},
			}
			for i := range notifs {
				if err := tx.InsertNotification(lockCtx, &notifs[i]); err != nil {
					return err
				}
			}
			handoff = notifs

			return s.logEvent(lockCtx, tx, appt.ID, EventAppointmentBooked, map[string]any{
				"slot_id":    slot.ID.String(),
				"patient_id": appt.PatientID.String(),
				"doctor_id":  appt.DoctorID.String(),
				"fee_cents":  appt.FeeCents,
			})
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotContended
		}
		return nil, err
	}

	s.dispatch(ctx, handoff)

	return created, nil
}

// UpdateStatus moves an appointment along the doctor-driven part of the
// status graph (confirmed, completed, no_show). Cancellation has its own
// operation.
func (s *Service) UpdateStatus(ctx context.Context, p Principal, id uuid.UUID, newStatus AppointmentStatus, notes, prescription *string) (*Appointment, error) {
	if !IsDoctorStatus(newStatus) {
		return nil, ErrInvalidTransition
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !CanAccess(p, appt, OpUpdateStatus) {
		return nil, ErrForbidden
	}
	if !CanTransition(appt.Status, newStatus) {
		return nil, ErrInvalidTransition
	}

	var (
		updated *Appointment
		handoff []Notification
	)

	err = s.repo.InTx(ctx, func(tx Repository) error {
		up, err := tx.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, newStatus, notes, prescription)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				// Lost a race with a concurrent transition.
				return ErrInvalidTransition
			}
			return fmt.Errorf("update status: %w", err)
		}
		updated = up

		// Terminal states give the slot back to the registry so a booked
		// slot always maps to exactly one active appointment.
		if IsTerminal(newStatus) {
			if err := tx.ReleaseSlot(ctx, up.SlotID); err != nil {
				return fmt.Errorf("release slot: %w", err)
			}
		}

		n := Notification{
			RecipientID:   up.PatientID,
			RecipientRole: RolePatient,
			Type:          NotifyStatusChanged,
			Title:         statusTitle(newStatus),
			Message:       statusMessage(up, newStatus),
			AppointmentID: up.ID,
		}
		if err := tx.InsertNotification(ctx, &n); err != nil {
			return err
		}
		handoff = []Notification{n}

		return s.logEvent(ctx, tx, up.ID, EventStatusChanged, map[string]any{
			"from": string(appt.Status),
			"to":   string(newStatus),
		})
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, handoff)

	return updated, nil
}

// CancelAppointment reverses a booking: terminal cancelled status, slot
// released, counter-party notified, all in one atomic unit.
func (s *Service) CancelAppointment(ctx context.Context, p Principal, id uuid.UUID) error {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return err
	}

	if !CanAccess(p, appt, OpCancel) {
		return ErrForbidden
	}
	if !appt.Active() {
		return ErrInvalidTransition
	}

	var handoff []Notification

	err = s.repo.InTx(ctx, func(tx Repository) error {
		up, err := tx.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusCancelled, nil, nil)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return ErrInvalidTransition
			}
			return fmt.Errorf("cancel appointment: %w", err)
		}

		if err := tx.ReleaseSlot(ctx, up.SlotID); err != nil {
			return fmt.Errorf("release slot: %w", err)
		}

		// The non-initiating party always gets a cancellation notice; an
		// admin cancellation notifies both sides.
		var notifs []Notification
		if p.Role == RolePatient || p.Role == RoleAdmin {
			notifs = append(notifs, cancellationNotice(up, up.DoctorID, RoleDoctor))
		}
		if p.Role == RoleDoctor || p.Role == RoleAdmin {
			notifs = append(notifs, cancellationNotice(up, up.PatientID, RolePatient))
		}
		for i := range notifs {
			if err := tx.InsertNotification(ctx, &notifs[i]); err != nil {
				return err
			}
		}
		handoff = notifs

		return s.logEvent(ctx, tx, up.ID, EventAppointmentCancelled, map[string]any{
			"cancelled_by": string(p.Role),
			"slot_id":      up.SlotID.String(),
		})
	})
	if err != nil {
		return err
	}

	s.dispatch(ctx, handoff)

	return nil
}

// GetAppointment returns the hydrated appointment after an ownership check.
func (s *Service) GetAppointment(ctx context.Context, p Principal, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanAccess(p, &detail.Appointment, OpRead) {
		return nil, ErrForbidden
	}
	return detail, nil
}

type ListFilter struct {
	Status       *AppointmentStatus
	UpcomingOnly bool
	Limit        int
	Offset       int
}

// ListAppointments returns appointments scoped to the principal: patients and
// doctors see their own, admins see everything.
func (s *Service) ListAppointments(ctx context.Context, p Principal, f ListFilter) ([]Appointment, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	filter := AppointmentFilter{
		Status:       f.Status,
		UpcomingOnly: f.UpcomingOnly,
		Limit:        f.Limit,
		Offset:       f.Offset,
	}

	switch p.Role {
	case RolePatient:
		id := p.ID
		filter.PatientID = &id
	case RoleDoctor:
		id := p.ID
		filter.DoctorID = &id
	case RoleAdmin:
		// unscoped
	default:
		return nil, ErrForbidden
	}

	appts, err := s.repo.ListAppointments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// ListFreeSlots is the read-side directory view over the slot registry.
func (s *Service) ListFreeSlots(ctx context.Context, doctorID uuid.UUID, fromDate, toDate string) ([]TimeSlot, error) {
	if _, err := time.Parse("2006-01-02", fromDate); err != nil {
		return nil, ErrInvalidSlotTime
	}
	if _, err := time.Parse("2006-01-02", toDate); err != nil {
		return nil, ErrInvalidSlotTime
	}

	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	slots, err := s.repo.ListFreeSlots(ctx, doctorID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("list free slots: %w", err)
	}
	return slots, nil
}

func cancellationNotice(appt *Appointment, recipient uuid.UUID, role Role) Notification {
	return Notification{
		RecipientID:   recipient,
		RecipientRole: role,
		Type:          NotifyCancelled,
		Title:         "Appointment cancelled",
		Message:       fmt.Sprintf("The appointment on %s at %s has been cancelled.", appt.Date, appt.Start),
		AppointmentID: appt.ID,
	}
}

func statusTitle(s AppointmentStatus) string {
	switch s {
	case StatusConfirmed:
		return "Appointment confirmed"
	case StatusCompleted:
		return "Appointment completed"
	case StatusNoShow:
		return "Missed appointment"
	default:
		return "Appointment updated"
	}
}

func statusMessage(appt *Appointment, s AppointmentStatus) string {
	switch s {
	case StatusConfirmed:
		return fmt.Sprintf("Your doctor confirmed the appointment on %s at %s.", appt.Date, appt.Start)
	case StatusCompleted:
		return fmt.Sprintf("Your appointment on %s at %s was completed.", appt.Date, appt.Start)
	case StatusNoShow:
		return fmt.Sprintf("You were marked as a no-show for the appointment on %s at %s.", appt.Date, appt.Start)
	default:
		return fmt.Sprintf("Your appointment on %s at %s was updated.", appt.Date, appt.Start)
	}
}

// logEvent writes an audit row inside the caller's transaction.
func (s *Service) logEvent(ctx context.Context, tx Repository, appointmentID uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	apptID := appointmentID
	return tx.InsertEvent(ctx, EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	})
}

// dispatch hands committed notification records to the dispatcher. Delivery
// failures are logged and left for the outbox worker to retry; they never
// fail the primary operation.
func (s *Service) dispatch(ctx context.Context, notifs []Notification) {
	if s.dispatcher == nil {
		return
	}
	for _, n := range notifs {
		if err := s.dispatcher.Send(ctx, n); err != nil {
			s.log.Warn().Err(err).
				Str("notification_id", n.ID.String()).
				Str("type", string(n.Type)).
				Msg("notification handoff failed, outbox will retry")
			continue
		}
		if err := s.repo.MarkDispatched(ctx, n.ID); err != nil {
			s.log.Warn().Err(err).
				Str("notification_id", n.ID.String()).
				Msg("mark notification dispatched")
		}
	}
}
