package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

type ConsultationMode string

const (
	ModeOnline  ConsultationMode = "ONLINE"
	ModeOffline ConsultationMode = "OFFLINE"
)

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Principal is the authenticated caller, supplied by the auth layer.
// It is read-only inside the booking core.
type Principal struct {
	ID   uuid.UUID
	Role Role
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	Email     *string
	Phone     *string
	Modes     []ConsultationMode
	FeeCents  int
	Available bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SupportsMode reports whether the doctor offers the given consultation mode.
func (d *Doctor) SupportsMode(mode ConsultationMode) bool {
	for _, m := range d.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// SlotKey identifies a bookable slot: one doctor, one date, one start time.
// Date is YYYY-MM-DD, Start is HH:MM (24h). The registry guarantees at most
// one slot per key.
type SlotKey struct {
	DoctorID uuid.UUID
	Date     string
	Start    string
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.DoctorID, k.Date, k.Start)
}

type TimeSlot struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	Date            string // YYYY-MM-DD
	Start           string // HH:MM
	DurationMinutes int
	Mode            ConsultationMode
	Booked          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (s *TimeSlot) Key() SlotKey {
	return SlotKey{DoctorID: s.DoctorID, Date: s.Date, Start: s.Start}
}

// StartAt combines the slot's date and start time into a UTC instant.
func (s *TimeSlot) StartAt() (time.Time, error) {
	return ParseSlotTime(s.Date, s.Start)
}

// ParseSlotTime parses a YYYY-MM-DD date and HH:MM time-of-day pair.
func ParseSlotTime(date, start string) (time.Time, error) {
	t, err := time.Parse("2006-01-02 15:04", date+" "+start)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse slot time %q %q: %w", date, start, err)
	}
	return t.UTC(), nil
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	SlotID          uuid.UUID
	Date            string
	Start           string
	DurationMinutes int
	Mode            ConsultationMode
	Status          AppointmentStatus
	Reason          *string
	Notes           *string
	Prescription    *string
	// FeeCents is the doctor's fee captured at booking time. It never
	// changes afterwards, even if the doctor's listed fee does.
	FeeCents      int
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Active reports whether the appointment still holds its slot.
func (a *Appointment) Active() bool {
	return a.Status == StatusScheduled || a.Status == StatusConfirmed
}

type AppointmentDetail struct {
	Appointment
	Slot    *TimeSlot
	Patient *Patient
	Doctor  *Doctor
}

type NotificationType string

const (
	NotifyBookingConfirmed NotificationType = "booking_confirmed"
	NotifyNewAppointment   NotificationType = "new_appointment"
	NotifyStatusChanged    NotificationType = "status_changed"
	NotifyCancelled        NotificationType = "appointment_cancelled"
)

// Notification is an immutable handoff record. The booking core writes it
// inside the same transaction as the state change it describes; delivery is
// the dispatcher's concern.
type Notification struct {
	ID            uuid.UUID
	RecipientID   uuid.UUID
	RecipientRole Role
	Type          NotificationType
	Title         string
	Message       string
	AppointmentID uuid.UUID
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
