package booking

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrSlotTaken           = errors.New("slot is already booked")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// AppointmentFilter scopes appointment listings. Zero values mean "no filter";
// the service always pins PatientID or DoctorID for non-admin principals.
type AppointmentFilter struct {
	PatientID    *uuid.UUID
	DoctorID     *uuid.UUID
	Status       *AppointmentStatus
	UpcomingOnly bool
	Limit        int
	Offset       int
}

// Repository contains all storage interactions needed by the service.
//
// InTx runs fn against a transactional view of the repository: every mutation
// fn makes commits together, or none of them do. ReserveSlot is the
// conditional reservation primitive: it flips the booked flag only when it
// is currently false, atomically with respect to concurrent callers.
type Repository interface {
	InTx(ctx context.Context, fn func(tx Repository) error) error

	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	GetSlotByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	ListFreeSlots(ctx context.Context, doctorID uuid.UUID, fromDate, toDate string) ([]TimeSlot, error)
	CreateSlots(ctx context.Context, slots []TimeSlot) error

	// ReserveSlot books the slot at key if it exists and is free.
	// Returns ErrSlotNotFound if no slot exists for the key and ErrSlotTaken
	// if it is already booked. Exactly one concurrent caller succeeds.
	ReserveSlot(ctx context.Context, key SlotKey) (*TimeSlot, error)

	// ReleaseSlot frees the slot. Releasing an already-free slot is a no-op.
	ReleaseSlot(ctx context.Context, slotID uuid.UUID) error

	CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)

	// GetActiveAppointmentForSlot returns the scheduled or confirmed
	// appointment holding the slot, or ErrAppointmentNotFound.
	GetActiveAppointmentForSlot(ctx context.Context, slotID uuid.UUID) (*Appointment, error)

	// UpdateAppointmentStatus is a compare-and-swap: the row moves from ->
	// to only if its status still equals from. Returns ErrAppointmentNotFound
	// when the row is missing or the status no longer matches.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, notes, prescription *string) (*Appointment, error)

	InsertNotification(ctx context.Context, n *Notification) error
	FindUndispatched(ctx context.Context, limit int) ([]Notification, error)
	MarkDispatched(ctx context.Context, id uuid.UUID) error

	InsertEvent(ctx context.Context, ev EventLog) error
}

// Dispatcher receives notification records after the owning transaction
// commits. Delivery is fire-and-forget from the core's point of view.
type Dispatcher interface {
	Send(ctx context.Context, n Notification) error
}
