package booking

import (
	"testing"

	"github.com/google/uuid"
)

func TestCanAccess(t *testing.T) {
	patientID := uuid.New()
	doctorID := uuid.New()
	strangerID := uuid.New()

	appt := &Appointment{
		ID:        uuid.New(),
		PatientID: patientID,
		DoctorID:  doctorID,
	}

	cases := []struct {
		name      string
		principal Principal
		op        Operation
		want      bool
	}{
		{"owning patient reads", Principal{patientID, RolePatient}, OpRead, true},
		{"owning doctor reads", Principal{doctorID, RoleDoctor}, OpRead, true},
		{"admin reads", Principal{strangerID, RoleAdmin}, OpRead, true},
		{"stranger patient reads", Principal{strangerID, RolePatient}, OpRead, false},
		{"stranger doctor reads", Principal{strangerID, RoleDoctor}, OpRead, false},

		{"owning doctor updates status", Principal{doctorID, RoleDoctor}, OpUpdateStatus, true},
		{"other doctor updates status", Principal{strangerID, RoleDoctor}, OpUpdateStatus, false},
		{"owning patient updates status", Principal{patientID, RolePatient}, OpUpdateStatus, false},
		{"admin updates status", Principal{strangerID, RoleAdmin}, OpUpdateStatus, false},

		{"owning patient cancels", Principal{patientID, RolePatient}, OpCancel, true},
		{"owning doctor cancels", Principal{doctorID, RoleDoctor}, OpCancel, true},
		{"admin cancels", Principal{strangerID, RoleAdmin}, OpCancel, true},
		{"stranger patient cancels", Principal{strangerID, RolePatient}, OpCancel, false},
		{"stranger doctor cancels", Principal{strangerID, RoleDoctor}, OpCancel, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanAccess(tc.principal, appt, tc.op); got != tc.want {
				t.Errorf("CanAccess(%v, %v) = %v, want %v", tc.principal, tc.op, got, tc.want)
			}
		})
	}
}

// A patient id that happens to match the doctor id must not grant doctor
// capabilities; the role is part of the identity.
func TestCanAccessRoleMismatch(t *testing.T) {
	sharedID := uuid.New()
	appt := &Appointment{PatientID: uuid.New(), DoctorID: sharedID}

	p := Principal{ID: sharedID, Role: RolePatient}
	if CanAccess(p, appt, OpUpdateStatus) {
		t.Error("patient role with the doctor's id must not update status")
	}
}
