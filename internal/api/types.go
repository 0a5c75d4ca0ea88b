package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/booking"
)

type BookAppointmentRequest struct {
	PatientID string  `json:"patient_id" validate:"omitempty,uuid"`
	DoctorID  string  `json:"doctor_id" validate:"required,uuid"`
	Date      string  `json:"date" validate:"required,datetime=2006-01-02"`
	Time      string  `json:"time" validate:"required,datetime=15:04"`
	Mode      string  `json:"mode" validate:"required,oneof=ONLINE OFFLINE"`
	Reason    *string `json:"reason" validate:"omitempty,max=500"`
}

type UpdateStatusRequest struct {
	Status       string  `json:"status" validate:"required,oneof=confirmed completed no_show"`
	Notes        *string `json:"notes" validate:"omitempty,max=2000"`
	Prescription *string `json:"prescription" validate:"omitempty,max=2000"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	SlotID          uuid.UUID `json:"slot_id"`
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	DurationMinutes int       `json:"duration_minutes"`
	Mode            string    `json:"mode"`
	Status          string    `json:"status"`
	Reason          *string   `json:"reason,omitempty"`
	Notes           *string   `json:"notes,omitempty"`
	Prescription    *string   `json:"prescription,omitempty"`
	FeeCents        int       `json:"fee_cents"`
	PaymentStatus   string    `json:"payment_status"`
	CreatedAt       time.Time `json:"created_at"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		SlotID:          a.SlotID,
		Date:            a.Date,
		Time:            a.Start,
		DurationMinutes: a.DurationMinutes,
		Mode:            string(a.Mode),
		Status:          string(a.Status),
		Reason:          a.Reason,
		Notes:           a.Notes,
		Prescription:    a.Prescription,
		FeeCents:        a.FeeCents,
		PaymentStatus:   string(a.PaymentStatus),
		CreatedAt:       a.CreatedAt,
	}
}

type PersonSummary struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	Patient *PersonSummary `json:"patient,omitempty"`
	Doctor  *PersonSummary `json:"doctor,omitempty"`
}

func toDetailResponse(d *booking.AppointmentDetail) AppointmentDetailResponse {
	resp := AppointmentDetailResponse{
		AppointmentResponse: toAppointmentResponse(&d.Appointment),
	}
	if d.Patient != nil {
		resp.Patient = &PersonSummary{ID: d.Patient.ID, Name: d.Patient.Name}
	}
	if d.Doctor != nil {
		resp.Doctor = &PersonSummary{ID: d.Doctor.ID, Name: d.Doctor.Name}
	}
	return resp
}

type SlotResponse struct {
	ID              uuid.UUID `json:"id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	DurationMinutes int       `json:"duration_minutes"`
	Mode            string    `json:"mode"`
}

func toSlotResponse(s booking.TimeSlot) SlotResponse {
	return SlotResponse{
		ID:              s.ID,
		DoctorID:        s.DoctorID,
		Date:            s.Date,
		Time:            s.Start,
		DurationMinutes: s.DurationMinutes,
		Mode:            string(s.Mode),
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
